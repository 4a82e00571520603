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

// LoyaltyRepository handles loyalty account and points ledger operations
type LoyaltyRepository struct {
	db *sqlx.DB
}

// NewLoyaltyRepository creates a new LoyaltyRepository
func NewLoyaltyRepository(db *sqlx.DB) *LoyaltyRepository {
	return &LoyaltyRepository{db: db}
}

// ============================================================================
// ACCOUNTS
// ============================================================================

// GetAccount returns a user's loyalty account. Returns nil, nil when the user
// has never earned points.
func (r *LoyaltyRepository) GetAccount(ctx context.Context, userID uuid.UUID) (*models.LoyaltyAccount, error) {
	var account models.LoyaltyAccount
	err := conn(ctx, r.db).GetContext(ctx, &account, `
		SELECT user_id, tier, balance, lifetime_points, created_at, updated_at
		FROM loyalty_accounts
		WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get loyalty account: %w", err)
	}
	return &account, nil
}

// GetOrCreateAccountForUpdate creates the account at baseTier if missing and
// locks it for the rest of the transaction
func (r *LoyaltyRepository) GetOrCreateAccountForUpdate(ctx context.Context, userID uuid.UUID, baseTier models.LoyaltyTier, now time.Time) (*models.LoyaltyAccount, error) {
	if txFromContext(ctx) == nil {
		return nil, fmt.Errorf("GetOrCreateAccountForUpdate requires a transaction")
	}
	q := conn(ctx, r.db)

	if _, err := q.ExecContext(ctx, `
		INSERT INTO loyalty_accounts (user_id, tier, balance, lifetime_points, created_at, updated_at)
		VALUES ($1, $2, 0, 0, $3, $3)
		ON CONFLICT (user_id) DO NOTHING`, userID, baseTier, now); err != nil {
		return nil, fmt.Errorf("failed to create loyalty account: %w", err)
	}

	var account models.LoyaltyAccount
	if err := q.GetContext(ctx, &account, `
		SELECT user_id, tier, balance, lifetime_points, created_at, updated_at
		FROM loyalty_accounts
		WHERE user_id = $1
		FOR UPDATE`, userID); err != nil {
		return nil, fmt.Errorf("failed to lock loyalty account: %w", err)
	}
	return &account, nil
}

// UpdateAccountTotals writes the balance, lifetime points and tier
func (r *LoyaltyRepository) UpdateAccountTotals(ctx context.Context, account *models.LoyaltyAccount) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, `
		UPDATE loyalty_accounts
		SET tier = $2, balance = $3, lifetime_points = $4, updated_at = $5
		WHERE user_id = $1`,
		account.UserID, account.Tier, account.Balance, account.LifetimePoints, account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update loyalty account: %w", err)
	}
	return nil
}

// ============================================================================
// LEDGER (append-only)
// ============================================================================

const pointsTransactionColumns = `
	id, user_id, type, points, base_points, tier_bonus, reason,
	related_booking_id, idempotency_key, created_at`

// InsertTransaction appends a ledger entry. A repeated idempotency key or a
// second earn for the same booking returns ErrDuplicate.
func (r *LoyaltyRepository) InsertTransaction(ctx context.Context, tx *models.PointsTransaction) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO points_transactions (`+pointsTransactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		tx.ID, tx.UserID, tx.Type, tx.Points, tx.BasePoints, tx.TierBonus, tx.Reason,
		tx.RelatedBookingID, tx.IdempotencyKey, tx.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert points transaction: %w", err)
	}
	return nil
}

// GetEarnByBooking returns the earn entry of a booking. Returns nil, nil when
// the booking has not been credited.
func (r *LoyaltyRepository) GetEarnByBooking(ctx context.Context, bookingID uuid.UUID) (*models.PointsTransaction, error) {
	var tx models.PointsTransaction
	err := conn(ctx, r.db).GetContext(ctx, &tx, `
		SELECT `+pointsTransactionColumns+`
		FROM points_transactions
		WHERE related_booking_id = $1 AND type = 'earn'`, bookingID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get earn transaction: %w", err)
	}
	return &tx, nil
}

// ListTransactions returns a user's most recent ledger entries
func (r *LoyaltyRepository) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]*models.PointsTransaction, error) {
	txs := []*models.PointsTransaction{}
	err := conn(ctx, r.db).SelectContext(ctx, &txs, `
		SELECT `+pointsTransactionColumns+`
		FROM points_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list points transactions: %w", err)
	}
	return txs, nil
}
