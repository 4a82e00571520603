package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/tripmarket/settlement-backend/internal/models"
)

// BookingRepository handles booking database operations
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository creates a new BookingRepository
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

const bookingColumns = `
	id, vertical, resource_id, user_id, window_start, window_end,
	party, contact, pricing, total_minor, currency,
	payment_intent_id, payment_status, status,
	partner_reference, commission_minor, special_requests, hold_id, client_device,
	expires_at, confirmed_at, cancelled_at, cancel_reason, created_at, updated_at`

// ============================================================================
// BOOKING CRUD OPERATIONS
// ============================================================================

// CreateBooking inserts a pending booking. The caller sets the ID so it can be
// sent to the payment processor before the row exists.
func (r *BookingRepository) CreateBooking(ctx context.Context, b *models.Booking) error {
	if b.ID == uuid.Nil {
		return fmt.Errorf("booking ID must be set before insert")
	}

	query := `
		INSERT INTO bookings (
			id, vertical, resource_id, user_id, window_start, window_end,
			party, contact, pricing, total_minor, currency,
			payment_intent_id, payment_status, status,
			partner_reference, commission_minor, special_requests, hold_id, client_device,
			expires_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22
		)`

	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		b.ID, b.Vertical, b.ResourceID, b.UserID, b.WindowStart, b.WindowEnd,
		b.Party, b.Contact, b.Pricing, b.TotalMinor, b.Currency,
		b.PaymentIntentID, b.PaymentStatus, b.Status,
		b.PartnerReference, b.CommissionMinor, b.SpecialRequests, b.HoldID, b.ClientDevice,
		b.ExpiresAt, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		if isExclusionViolation(err) {
			return ErrSlotTaken
		}
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert booking: %w", err)
	}
	return nil
}

// GetBookingByID retrieves a booking by ID. Returns nil, nil when missing.
func (r *BookingRepository) GetBookingByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return r.getOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
}

// GetBookingForUpdate locks a booking row for the rest of the transaction
func (r *BookingRepository) GetBookingForUpdate(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	if txFromContext(ctx) == nil {
		return nil, fmt.Errorf("GetBookingForUpdate requires a transaction")
	}
	return r.getOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id)
}

// GetBookingByPaymentIntentID retrieves the booking created with a payment intent
func (r *BookingRepository) GetBookingByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Booking, error) {
	return r.getOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE payment_intent_id = $1`, paymentIntentID)
}

func (r *BookingRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.Booking, error) {
	var b models.Booking
	err := conn(ctx, r.db).GetContext(ctx, &b, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &b, nil
}

// ListBookingsByUser returns a user's bookings, newest first
func (r *BookingRepository) ListBookingsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	bookings := []*models.Booking{}
	if err := conn(ctx, r.db).SelectContext(ctx, &bookings, query, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return bookings, nil
}

// ============================================================================
// SETTLEMENT TRANSITIONS
// ============================================================================

// UpdateSettlement writes the fields the settlement lifecycle owns. The row
// is only touched when it is still in expectedStatus, so a concurrent
// transition makes this return false instead of overwriting it.
func (r *BookingRepository) UpdateSettlement(ctx context.Context, b *models.Booking, expectedStatus models.BookingStatus) (bool, error) {
	query := `
		UPDATE bookings
		SET status = $2,
		    payment_status = $3,
		    partner_reference = $4,
		    commission_minor = $5,
		    confirmed_at = $6,
		    cancelled_at = $7,
		    cancel_reason = $8,
		    updated_at = $9
		WHERE id = $1 AND status = $10`

	result, err := conn(ctx, r.db).ExecContext(ctx, query,
		b.ID, b.Status, b.PaymentStatus, b.PartnerReference, b.CommissionMinor,
		b.ConfirmedAt, b.CancelledAt, b.CancelReason, b.UpdatedAt, expectedStatus,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update booking settlement: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// ============================================================================
// EXPIRY & RECONCILIATION
// ============================================================================

// ExpirePendingBookings moves pending bookings past their TTL to expired and
// releases their holds in one transaction. Rows locked by a concurrent
// settlement are skipped and picked up on the next run.
func (r *BookingRepository) ExpirePendingBookings(ctx context.Context, now time.Time, limit int) ([]*models.Booking, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `
		UPDATE bookings
		SET status = 'expired',
		    payment_status = CASE WHEN payment_status = 'pending' THEN 'failed' ELSE payment_status END,
		    cancel_reason = 'payment_timeout',
		    updated_at = $1
		WHERE id IN (
			SELECT id FROM bookings
			WHERE status = 'pending' AND expires_at < $1
			ORDER BY expires_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + bookingColumns

	expired := []*models.Booking{}
	if err := tx.SelectContext(ctx, &expired, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to expire bookings: %w", err)
	}

	if len(expired) > 0 {
		ids := make([]uuid.UUID, 0, len(expired))
		for _, b := range expired {
			ids = append(ids, b.ID)
		}
		releaseQuery, args, err := sqlx.In(`
			UPDATE resource_holds
			SET status = 'released', released_at = ?
			WHERE booking_id IN (?) AND status = 'active'`, now, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to build release query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(releaseQuery), args...); err != nil {
			return nil, fmt.Errorf("failed to release holds: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return expired, nil
}

// ListConfirmedWithoutEarn finds confirmed bookings that never got their
// loyalty earn entry, oldest first
func (r *BookingRepository) ListConfirmedWithoutEarn(ctx context.Context, limit int) ([]*models.Booking, error) {
	query := `
		SELECT ` + bookingColumnsQualified("b") + `
		FROM bookings b
		WHERE b.status = 'confirmed'
		  AND NOT EXISTS (
			SELECT 1 FROM points_transactions pt
			WHERE pt.related_booking_id = b.id AND pt.type = 'earn'
		  )
		ORDER BY b.confirmed_at
		LIMIT $1`

	bookings := []*models.Booking{}
	if err := conn(ctx, r.db).SelectContext(ctx, &bookings, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list uncredited bookings: %w", err)
	}
	return bookings, nil
}

func bookingColumnsQualified(alias string) string {
	return alias + `.id, ` + alias + `.vertical, ` + alias + `.resource_id, ` + alias + `.user_id, ` +
		alias + `.window_start, ` + alias + `.window_end, ` + alias + `.party, ` + alias + `.contact, ` +
		alias + `.pricing, ` + alias + `.total_minor, ` + alias + `.currency, ` +
		alias + `.payment_intent_id, ` + alias + `.payment_status, ` + alias + `.status, ` +
		alias + `.partner_reference, ` + alias + `.commission_minor, ` + alias + `.special_requests, ` +
		alias + `.hold_id, ` + alias + `.client_device, ` + alias + `.expires_at, ` +
		alias + `.confirmed_at, ` + alias + `.cancelled_at, ` + alias + `.cancel_reason, ` +
		alias + `.created_at, ` + alias + `.updated_at`
}
