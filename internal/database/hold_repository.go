package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/tripmarket/settlement-backend/internal/models"
)

// HoldRepository handles resource hold database operations
type HoldRepository struct {
	db *sqlx.DB
}

// NewHoldRepository creates a new HoldRepository
func NewHoldRepository(db *sqlx.DB) *HoldRepository {
	return &HoldRepository{db: db}
}

// ============================================================================
// OVERLAP QUERIES
// ============================================================================

// FindConflicts returns bookings in a slot-holding status and live holds not
// yet attached to a booking that overlap [start, end).
// Overlap: existing.start < requested.end AND existing.end > requested.start
func (r *HoldRepository) FindConflicts(ctx context.Context, resourceID uuid.UUID, start, end, now time.Time) ([]models.SlotConflict, error) {
	query := `
		SELECT id AS booking_id, NULL::uuid AS hold_id, window_start, window_end
		FROM bookings
		WHERE resource_id = $1
		  AND status IN ('pending', 'confirmed')
		  AND window_start < $3
		  AND window_end > $2
		UNION ALL
		SELECT NULL::uuid AS booking_id, id AS hold_id, window_start, window_end
		FROM resource_holds
		WHERE resource_id = $1
		  AND status = 'active'
		  AND booking_id IS NULL
		  AND expires_at > $4
		  AND window_start < $3
		  AND window_end > $2
		ORDER BY window_start`

	conflicts := []models.SlotConflict{}
	if err := conn(ctx, r.db).SelectContext(ctx, &conflicts, query, resourceID, start, end, now); err != nil {
		return nil, fmt.Errorf("failed to find conflicts: %w", err)
	}
	return conflicts, nil
}

// ============================================================================
// HOLD LIFECYCLE
// ============================================================================

// CreateHold inserts an active hold
func (r *HoldRepository) CreateHold(ctx context.Context, hold *models.ResourceHold) error {
	query := `
		INSERT INTO resource_holds (
			id, resource_id, user_id, booking_id, window_start, window_end,
			status, expires_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		hold.ID, hold.ResourceID, hold.UserID, hold.BookingID,
		hold.WindowStart, hold.WindowEnd, hold.Status, hold.ExpiresAt, hold.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create hold: %w", err)
	}
	return nil
}

// LinkBooking attaches a persisted booking to its hold
func (r *HoldRepository) LinkBooking(ctx context.Context, holdID, bookingID uuid.UUID) error {
	result, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE resource_holds SET booking_id = $2 WHERE id = $1 AND status = 'active'`,
		holdID, bookingID,
	)
	if err != nil {
		return fmt.Errorf("failed to link hold: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("hold %s is no longer active", holdID)
	}
	return nil
}

// ReleaseHold releases an active hold. Releasing a hold that is no longer
// active is a no-op.
func (r *HoldRepository) ReleaseHold(ctx context.Context, holdID uuid.UUID, now time.Time) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE resource_holds SET status = 'released', released_at = $2 WHERE id = $1 AND status = 'active'`,
		holdID, now,
	)
	if err != nil {
		return fmt.Errorf("failed to release hold: %w", err)
	}
	return nil
}

// SetHoldStatusForBooking moves the booking's hold from one status to another
func (r *HoldRepository) SetHoldStatusForBooking(ctx context.Context, bookingID uuid.UUID, from, to models.HoldStatus, now time.Time) error {
	query := `
		UPDATE resource_holds
		SET status = $3,
		    released_at = CASE WHEN $3::text = 'released' THEN $4 ELSE released_at END
		WHERE booking_id = $1 AND status = $2`

	if _, err := conn(ctx, r.db).ExecContext(ctx, query, bookingID, from, to, now); err != nil {
		return fmt.Errorf("failed to update hold status: %w", err)
	}
	return nil
}

// ReleaseExpiredHolds releases active holds past their TTL that never got a
// booking, which happens when the process dies between hold and persist
func (r *HoldRepository) ReleaseExpiredHolds(ctx context.Context, now time.Time) (int64, error) {
	result, err := conn(ctx, r.db).ExecContext(ctx, `
		UPDATE resource_holds
		SET status = 'released', released_at = $1
		WHERE status = 'active' AND booking_id IS NULL AND expires_at < $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to release expired holds: %w", err)
	}
	return result.RowsAffected()
}
