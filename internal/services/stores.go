package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tripmarket/settlement-backend/internal/models"
)

// Storage dependencies of the booking pipeline. The database package provides
// the Postgres implementations; tests use in-memory fakes.

// TxRunner runs fn in a transaction that store calls made with its ctx join
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ResourceStore reads bookable resources
type ResourceStore interface {
	GetResource(ctx context.Context, id uuid.UUID) (*models.Resource, error)
	GetResourceForUpdate(ctx context.Context, id uuid.UUID) (*models.Resource, error)
}

// BookingStore persists bookings
type BookingStore interface {
	CreateBooking(ctx context.Context, b *models.Booking) error
	GetBookingByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	GetBookingForUpdate(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	GetBookingByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Booking, error)
	ListBookingsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Booking, error)
	UpdateSettlement(ctx context.Context, b *models.Booking, expectedStatus models.BookingStatus) (bool, error)
	ExpirePendingBookings(ctx context.Context, now time.Time, limit int) ([]*models.Booking, error)
	ListConfirmedWithoutEarn(ctx context.Context, limit int) ([]*models.Booking, error)
}

// HoldStore manages reservation holds
type HoldStore interface {
	FindConflicts(ctx context.Context, resourceID uuid.UUID, start, end, now time.Time) ([]models.SlotConflict, error)
	CreateHold(ctx context.Context, hold *models.ResourceHold) error
	LinkBooking(ctx context.Context, holdID, bookingID uuid.UUID) error
	ReleaseHold(ctx context.Context, holdID uuid.UUID, now time.Time) error
	SetHoldStatusForBooking(ctx context.Context, bookingID uuid.UUID, from, to models.HoldStatus, now time.Time) error
	ReleaseExpiredHolds(ctx context.Context, now time.Time) (int64, error)
}

// LoyaltyStore persists accounts and the points ledger
type LoyaltyStore interface {
	GetAccount(ctx context.Context, userID uuid.UUID) (*models.LoyaltyAccount, error)
	GetOrCreateAccountForUpdate(ctx context.Context, userID uuid.UUID, baseTier models.LoyaltyTier, now time.Time) (*models.LoyaltyAccount, error)
	UpdateAccountTotals(ctx context.Context, account *models.LoyaltyAccount) error
	InsertTransaction(ctx context.Context, tx *models.PointsTransaction) error
	GetEarnByBooking(ctx context.Context, bookingID uuid.UUID) (*models.PointsTransaction, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]*models.PointsTransaction, error)
}

// WebhookEventStore records deliveries for audit and deduplication
type WebhookEventStore interface {
	Record(ctx context.Context, event *models.WebhookEvent) (*models.WebhookEvent, bool, error)
	Complete(ctx context.Context, event *models.WebhookEvent) error
}

// EventPublisher publishes domain events. Publishing is best effort.
type EventPublisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

// WebhookArchiver keeps the raw body of every authenticated delivery
type WebhookArchiver interface {
	ArchiveWebhook(ctx context.Context, provider string, headers map[string]string, body []byte, receivedAt time.Time) error
}

type noopPublisher struct{}

func (noopPublisher) PublishJSON(context.Context, string, any) error { return nil }

// Routing keys of published domain events
const (
	EventKeyBookingCreated   = "booking.created"
	EventKeyBookingConfirmed = "booking.confirmed"
	EventKeyBookingCancelled = "booking.cancelled"
	EventKeyBookingRefunded  = "booking.refunded"
	EventKeyBookingExpired   = "booking.expired"
	EventKeyPointsEarned     = "loyalty.points_earned"
)

// BookingEvent is the payload of booking.* domain events
type BookingEvent struct {
	BookingID       uuid.UUID            `json:"booking_id"`
	Vertical        models.Vertical      `json:"vertical"`
	ResourceID      uuid.UUID            `json:"resource_id"`
	UserID          uuid.UUID            `json:"user_id"`
	Status          models.BookingStatus `json:"status"`
	TotalMinor      int64                `json:"total_minor"`
	Currency        string               `json:"currency"`
	PaymentIntentID string               `json:"payment_intent_id"`
	OccurredAt      time.Time            `json:"occurred_at"`
}

func newBookingEvent(b *models.Booking, at time.Time) BookingEvent {
	return BookingEvent{
		BookingID:       b.ID,
		Vertical:        b.Vertical,
		ResourceID:      b.ResourceID,
		UserID:          b.UserID,
		Status:          b.Status,
		TotalMinor:      b.TotalMinor,
		Currency:        b.Currency,
		PaymentIntentID: b.PaymentIntentID,
		OccurredAt:      at,
	}
}
