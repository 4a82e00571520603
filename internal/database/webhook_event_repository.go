package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/settlement-backend/internal/models"
)

// WebhookEventRepository stores one row per provider delivery and doubles as
// the deduplication table for replays
type WebhookEventRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewWebhookEventRepository creates a new WebhookEventRepository
func NewWebhookEventRepository(db *sqlx.DB, logger *logrus.Logger) *WebhookEventRepository {
	return &WebhookEventRepository{
		db:     db,
		logger: logger,
	}
}

const webhookEventColumns = `
	id, provider, provider_event_id, event_type, booking_id, payment_intent_id,
	signature_valid, outcome, processing_error, metadata, source_ip, user_agent,
	processing_time_ms, received_at, processed_at`

// Record inserts the event unless (provider, provider_event_id) already exists.
// When it does, the stored row is returned with inserted=false.
func (r *WebhookEventRepository) Record(ctx context.Context, event *models.WebhookEvent) (stored *models.WebhookEvent, inserted bool, err error) {
	if event == nil {
		return nil, false, fmt.Errorf("webhook event cannot be nil")
	}
	q := conn(ctx, r.db)

	result, err := q.ExecContext(ctx, `
		INSERT INTO webhook_events (`+webhookEventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		event.ID, event.Provider, event.ProviderEventID, event.EventType, event.BookingID, event.PaymentIntentID,
		event.SignatureValid, event.Outcome, event.ProcessingError, event.Metadata, event.SourceIP, event.UserAgent,
		event.ProcessingTimeMs, event.ReceivedAt, event.ProcessedAt,
	)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"provider":          event.Provider,
			"provider_event_id": event.ProviderEventID,
		}).Error("Failed to record webhook event")
		return nil, false, fmt.Errorf("failed to record webhook event: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if rows == 1 {
		return event, true, nil
	}

	var existing models.WebhookEvent
	if err := q.GetContext(ctx, &existing, `
		SELECT `+webhookEventColumns+`
		FROM webhook_events
		WHERE provider = $1 AND provider_event_id = $2`,
		event.Provider, event.ProviderEventID); err != nil {
		return nil, false, fmt.Errorf("failed to load existing webhook event: %w", err)
	}
	return &existing, false, nil
}

// Complete stores the outcome of processing
func (r *WebhookEventRepository) Complete(ctx context.Context, event *models.WebhookEvent) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, `
		UPDATE webhook_events
		SET booking_id = $2,
		    payment_intent_id = $3,
		    outcome = $4,
		    processing_error = $5,
		    metadata = $6,
		    processing_time_ms = $7,
		    processed_at = $8
		WHERE id = $1`,
		event.ID, event.BookingID, event.PaymentIntentID, event.Outcome, event.ProcessingError,
		event.Metadata, event.ProcessingTimeMs, event.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to complete webhook event: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"webhook_event_id": event.ID,
		"event_type":       event.EventType,
		"outcome":          event.Outcome,
	}).Debug("Webhook event completed")
	return nil
}
