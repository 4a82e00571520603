package archive

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// NewMongoClient connects and pings within a 10 second budget
func NewMongoClient(ctx context.Context, uri, username, password string) (*mongo.Client, error) {
	clientOptions := options.Client().ApplyURI(uri)

	if username != "" && password != "" {
		clientOptions.SetAuth(options.Credential{
			Username: username,
			Password: password,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return client, nil
}

// WebhookDocument is one archived delivery. Body is stored verbatim so the
// signature can be re-verified later.
type WebhookDocument struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	Provider   string             `bson:"provider"`
	Headers    map[string]string  `bson:"headers,omitempty"`
	Body       []byte             `bson:"body"`
	Payload    bson.Raw           `bson:"payload,omitempty"`
	ReceivedAt time.Time          `bson:"received_at"`
}

// WebhookArchive stores raw webhook payloads in a Mongo collection
type WebhookArchive struct {
	collection *mongo.Collection
	retention  time.Duration
}

// NewWebhookArchive creates an archive over collection. A positive
// retention expires documents through a TTL index.
func NewWebhookArchive(collection *mongo.Collection, retention time.Duration) *WebhookArchive {
	return &WebhookArchive{collection: collection, retention: retention}
}

// EnsureIndexes creates the lookup and TTL indexes
func (a *WebhookArchive) EnsureIndexes(ctx context.Context) error {
	receivedAt := options.Index()
	if a.retention > 0 {
		receivedAt.SetExpireAfterSeconds(int32(a.retention.Seconds()))
	}

	_, err := a.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "provider", Value: 1},
				{Key: "received_at", Value: -1},
			},
		},
		{
			Keys:    bson.M{"received_at": 1},
			Options: receivedAt,
		},
	})
	if err != nil {
		return fmt.Errorf("create webhook archive indexes: %w", err)
	}
	return nil
}

// ArchiveWebhook inserts one delivery. A JSON body is also kept as a
// queryable document.
func (a *WebhookArchive) ArchiveWebhook(ctx context.Context, provider string, headers map[string]string, body []byte, receivedAt time.Time) error {
	doc := WebhookDocument{
		Provider:   provider,
		Headers:    headers,
		Body:       body,
		ReceivedAt: receivedAt.UTC(),
	}

	var payload bson.Raw
	if err := bson.UnmarshalExtJSON(body, false, &payload); err == nil {
		doc.Payload = payload
	}

	if _, err := a.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("archive webhook: %w", err)
	}
	return nil
}
