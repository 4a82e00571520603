package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LoyaltyTier is a membership level. Ordering comes from configuration.
type LoyaltyTier string

// PointsTransactionType classifies ledger entries
type PointsTransactionType string

const (
	PointsEarn   PointsTransactionType = "earn"
	PointsRedeem PointsTransactionType = "redeem"
	PointsAdjust PointsTransactionType = "adjust"
)

// LoyaltyAccount is the per-user point balance. Balance and lifetime points are
// maintained incrementally from appended transactions, never edited directly.
type LoyaltyAccount struct {
	UserID         uuid.UUID   `json:"user_id" db:"user_id"`
	Tier           LoyaltyTier `json:"tier" db:"tier"`
	Balance        int64       `json:"balance" db:"balance"`
	LifetimePoints int64       `json:"lifetime_points" db:"lifetime_points"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at" db:"updated_at"`
}

// PointsTransaction is an immutable ledger entry
type PointsTransaction struct {
	ID               uuid.UUID             `json:"id" db:"id"`
	UserID           uuid.UUID             `json:"user_id" db:"user_id"`
	Type             PointsTransactionType `json:"type" db:"type"`
	Points           int64                 `json:"points" db:"points"`
	BasePoints       int64                 `json:"base_points" db:"base_points"`
	TierBonus        int64                 `json:"tier_bonus" db:"tier_bonus"`
	Reason           string                `json:"reason" db:"reason"`
	RelatedBookingID *uuid.UUID            `json:"related_booking_id,omitempty" db:"related_booking_id"`
	IdempotencyKey   string                `json:"idempotency_key" db:"idempotency_key"`
	CreatedAt        time.Time             `json:"created_at" db:"created_at"`
}

// EarnIdempotencyKey is the ledger key guaranteeing one earn entry per booking
func EarnIdempotencyKey(bookingID uuid.UUID) string {
	return fmt.Sprintf("%s:points-earned", bookingID)
}

// LoyaltySummaryResponse is returned by GET /loyalty/me
type LoyaltySummaryResponse struct {
	Account      *LoyaltyAccount      `json:"account"`
	Transactions []*PointsTransaction `json:"transactions"`
}
