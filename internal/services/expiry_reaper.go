package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/settlement-backend/internal/clock"
	"github.com/tripmarket/settlement-backend/internal/metrics"
)

// ReaperOptions holds job schedules in robfig/cron syntax
type ReaperOptions struct {
	ExpirySchedule    string // default "@every 1m"
	ReconcileSchedule string // default "@every 10m"
	BatchSize         int
}

// ExpiryReaper expires abandoned pending bookings, releases orphan holds and
// retries missed loyalty credits on a schedule
type ExpiryReaper struct {
	cron      *cron.Cron
	bookings  BookingStore
	holds     HoldStore
	loyalty   *LoyaltyService
	publisher EventPublisher
	metrics   *metrics.Metrics
	clock     clock.Clock
	logger    *logrus.Logger
	opts      ReaperOptions

	mu      sync.Mutex
	running bool
}

// NewExpiryReaper creates a new ExpiryReaper. loyalty may be nil to skip reconciliation.
func NewExpiryReaper(
	bookings BookingStore,
	holds HoldStore,
	loyalty *LoyaltyService,
	publisher EventPublisher,
	m *metrics.Metrics,
	clk clock.Clock,
	logger *logrus.Logger,
	opts ReaperOptions,
) *ExpiryReaper {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	if opts.ExpirySchedule == "" {
		opts.ExpirySchedule = "@every 1m"
	}
	if opts.ReconcileSchedule == "" {
		opts.ReconcileSchedule = "@every 10m"
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &ExpiryReaper{
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		bookings:  bookings,
		holds:     holds,
		loyalty:   loyalty,
		publisher: publisher,
		metrics:   m,
		clock:     clk,
		logger:    logger,
		opts:      opts,
	}
}

// Start schedules the jobs and runs an expiry pass immediately
func (r *ExpiryReaper) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	if _, err := r.cron.AddFunc(r.opts.ExpirySchedule, func() {
		r.runExpiry(context.Background())
	}); err != nil {
		return fmt.Errorf("failed to schedule expiry job: %w", err)
	}
	r.logger.WithField("schedule", r.opts.ExpirySchedule).Info("Scheduled: expire abandoned pending bookings")

	if r.loyalty != nil {
		if _, err := r.cron.AddFunc(r.opts.ReconcileSchedule, func() {
			r.runReconcile(context.Background())
		}); err != nil {
			return fmt.Errorf("failed to schedule loyalty reconciliation job: %w", err)
		}
		r.logger.WithField("schedule", r.opts.ReconcileSchedule).Info("Scheduled: reconcile missing loyalty credits")
	}

	r.cron.Start()
	r.running = true

	go r.runExpiry(context.Background())
	return nil
}

// Stop stops scheduling and waits for running jobs to finish
func (r *ExpiryReaper) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.logger.Info("Stopping expiry reaper")
	<-r.cron.Stop().Done()
	r.running = false
}

// RunOnce runs one expiry pass and returns the number of bookings expired
func (r *ExpiryReaper) RunOnce(ctx context.Context) (int, error) {
	now := r.clock.Now()

	expired, err := r.bookings.ExpirePendingBookings(ctx, now, r.opts.BatchSize)
	if err != nil {
		return 0, err
	}

	for _, b := range expired {
		r.logger.WithFields(logrus.Fields{
			"booking_id":        b.ID,
			"payment_intent_id": b.PaymentIntentID,
			"expires_at":        b.ExpiresAt,
		}).Info("Pending booking expired and hold released")

		if err := r.publisher.PublishJSON(ctx, EventKeyBookingExpired, newBookingEvent(b, now)); err != nil {
			r.logger.WithError(err).WithField("booking_id", b.ID).Warn("Failed to publish booking expired event")
		}
	}
	r.metrics.Expired(len(expired))

	// Holds whose booking was never saved
	orphans, err := r.holds.ReleaseExpiredHolds(ctx, now)
	if err != nil {
		return len(expired), err
	}
	if orphans > 0 {
		r.logger.WithField("count", orphans).Warn("Released orphan holds")
	}

	return len(expired), nil
}

func (r *ExpiryReaper) runExpiry(ctx context.Context) {
	count, err := r.RunOnce(ctx)
	if err != nil {
		r.logger.WithError(err).Error("Expiry pass failed")
		return
	}
	if count > 0 {
		r.logger.WithField("count", count).Info("Expired abandoned pending bookings")
	}
}

func (r *ExpiryReaper) runReconcile(ctx context.Context) {
	if _, err := r.loyalty.ReconcileMissingCredits(ctx, r.opts.BatchSize); err != nil {
		r.logger.WithError(err).Error("Loyalty reconciliation failed")
	}
}
