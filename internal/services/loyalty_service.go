package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/settlement-backend/internal/clock"
	"github.com/tripmarket/settlement-backend/internal/database"
	"github.com/tripmarket/settlement-backend/internal/metrics"
	"github.com/tripmarket/settlement-backend/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/tripmarket/settlement-backend/internal/services"

// LoyaltyService maintains point balances through an append-only ledger
type LoyaltyService struct {
	tx        TxRunner
	store     LoyaltyStore
	bookings  BookingStore
	rules     *LoyaltyRules
	publisher EventPublisher
	metrics   *metrics.Metrics
	clock     clock.Clock
	logger    *logrus.Logger
}

// NewLoyaltyService creates a new LoyaltyService
func NewLoyaltyService(
	tx TxRunner,
	store LoyaltyStore,
	bookings BookingStore,
	rules *LoyaltyRules,
	publisher EventPublisher,
	m *metrics.Metrics,
	clk clock.Clock,
	logger *logrus.Logger,
) *LoyaltyService {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &LoyaltyService{
		tx:        tx,
		store:     store,
		bookings:  bookings,
		rules:     rules,
		publisher: publisher,
		metrics:   m,
		clock:     clk,
		logger:    logger,
	}
}

// PointsEarnedEvent is published after a successful credit
type PointsEarnedEvent struct {
	TransactionID uuid.UUID          `json:"transaction_id"`
	UserID        uuid.UUID          `json:"user_id"`
	BookingID     uuid.UUID          `json:"booking_id"`
	Points        int64              `json:"points"`
	Tier          models.LoyaltyTier `json:"tier"`
	Balance       int64              `json:"balance"`
}

// CreditForBooking appends the earn entry for a settled booking. The account
// is created at the base tier on first credit. A booking already credited
// returns its existing entry together with ErrAlreadyCredited.
func (s *LoyaltyService) CreditForBooking(ctx context.Context, userID uuid.UUID, vertical models.Vertical, settledMinor int64, currency string, bookingID uuid.UUID) (*models.PointsTransaction, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "loyalty.credit")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.id", bookingID.String()),
		attribute.String("booking.vertical", string(vertical)),
		attribute.Int64("settlement.amount_minor", settledMinor),
	)

	if settledMinor <= 0 {
		return nil, NewValidationError("settled_amount", "must be positive")
	}

	var (
		created *models.PointsTransaction
		account *models.LoyaltyAccount
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		existing, err := s.store.GetEarnByBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if existing != nil {
			created = existing
			return ErrAlreadyCredited
		}

		now := s.clock.Now()
		account, err = s.store.GetOrCreateAccountForUpdate(ctx, userID, s.rules.BaseTier(), now)
		if err != nil {
			return err
		}

		base, bonus := s.rules.Points(vertical, account.Tier, settledMinor, currency)
		total := base + bonus

		created = &models.PointsTransaction{
			ID:               uuid.New(),
			UserID:           userID,
			Type:             models.PointsEarn,
			Points:           total,
			BasePoints:       base,
			TierBonus:        bonus,
			Reason:           fmt.Sprintf("Earned for %s booking %s", vertical, bookingID),
			RelatedBookingID: &bookingID,
			IdempotencyKey:   models.EarnIdempotencyKey(bookingID),
			CreatedAt:        now,
		}
		if err := s.store.InsertTransaction(ctx, created); err != nil {
			return err
		}

		account.Balance += total
		account.LifetimePoints += total
		if next := s.rules.TierFor(account.LifetimePoints); s.rules.rank(next) > s.rules.rank(account.Tier) {
			account.Tier = next
		}
		account.UpdatedAt = now
		return s.store.UpdateAccountTotals(ctx, account)
	})

	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadyCredited):
		return created, ErrAlreadyCredited
	case errors.Is(err, database.ErrDuplicate):
		// Lost a race with a concurrent credit; the unique index kept one entry
		existing, getErr := s.store.GetEarnByBooking(ctx, bookingID)
		if getErr != nil {
			return nil, getErr
		}
		return existing, ErrAlreadyCredited
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to credit points for booking %s: %w", bookingID, err)
	}

	s.metrics.PointsCredited(string(vertical), created.Points)
	s.logger.WithFields(logrus.Fields{
		"user_id":     userID,
		"booking_id":  bookingID,
		"base_points": created.BasePoints,
		"tier_bonus":  created.TierBonus,
		"points":      created.Points,
		"tier":        account.Tier,
	}).Info("Loyalty points credited")

	if err := s.publisher.PublishJSON(ctx, EventKeyPointsEarned, PointsEarnedEvent{
		TransactionID: created.ID,
		UserID:        userID,
		BookingID:     bookingID,
		Points:        created.Points,
		Tier:          account.Tier,
		Balance:       account.Balance,
	}); err != nil {
		s.logger.WithError(err).WithField("booking_id", bookingID).Warn("Failed to publish points earned event")
	}

	return created, nil
}

// GetSummary returns the user's account and most recent ledger entries. Users
// who never earned get an empty account at the base tier.
func (s *LoyaltyService) GetSummary(ctx context.Context, userID uuid.UUID, limit int) (*models.LoyaltySummaryResponse, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	account, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		account = &models.LoyaltyAccount{UserID: userID, Tier: s.rules.BaseTier()}
	}

	txs, err := s.store.ListTransactions(ctx, userID, limit)
	if err != nil {
		return nil, err
	}

	return &models.LoyaltySummaryResponse{
		Account:      account,
		Transactions: txs,
	}, nil
}

// ReconcileMissingCredits credits confirmed bookings that have no earn entry,
// which happens when crediting failed after a settlement was committed.
// Returns the number of bookings credited.
func (s *LoyaltyService) ReconcileMissingCredits(ctx context.Context, limit int) (int, error) {
	bookings, err := s.bookings.ListConfirmedWithoutEarn(ctx, limit)
	if err != nil {
		return 0, err
	}

	credited := 0
	for _, b := range bookings {
		_, err := s.CreditForBooking(ctx, b.UserID, b.Vertical, b.TotalMinor, b.Currency, b.ID)
		switch {
		case err == nil:
			credited++
		case errors.Is(err, ErrAlreadyCredited):
		default:
			s.metrics.LoyaltyCreditFailed()
			s.logger.WithError(err).WithField("booking_id", b.ID).Error("Loyalty reconciliation credit failed")
		}
	}

	if credited > 0 {
		s.logger.WithField("count", credited).Info("Reconciled missing loyalty credits")
	}
	return credited, nil
}
