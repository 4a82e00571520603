package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/settlement-backend/internal/clock"
	"github.com/tripmarket/settlement-backend/internal/metrics"
	"github.com/tripmarket/settlement-backend/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// WebhookDelivery is one raw provider callback
type WebhookDelivery struct {
	Provider  string
	Body      []byte
	Signature string
	Headers   map[string]string
	SourceIP  string
	UserAgent string
}

// WebhookResult tells the caller what happened to a delivery
type WebhookResult struct {
	EventID   string                  `json:"event_id"`
	Event     models.WebhookEventType `json:"event"`
	Outcome   models.WebhookOutcome   `json:"outcome"`
	BookingID *uuid.UUID              `json:"booking_id,omitempty"`
}

// SettlementService applies provider events to bookings. Every event is
// recorded once per (provider, event id); replays of a processed event are
// acknowledged without side effects.
type SettlementService struct {
	tx        TxRunner
	bookings  BookingStore
	holds     HoldStore
	events    WebhookEventStore
	loyalty   *LoyaltyService
	verifier  *SignatureVerifier
	publisher EventPublisher
	archiver  WebhookArchiver
	metrics   *metrics.Metrics
	clock     clock.Clock
	logger    *logrus.Logger
}

// NewSettlementService creates a new SettlementService. archiver may be nil.
func NewSettlementService(
	tx TxRunner,
	bookings BookingStore,
	holds HoldStore,
	events WebhookEventStore,
	loyalty *LoyaltyService,
	verifier *SignatureVerifier,
	publisher EventPublisher,
	archiver WebhookArchiver,
	m *metrics.Metrics,
	clk clock.Clock,
	logger *logrus.Logger,
) *SettlementService {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &SettlementService{
		tx:        tx,
		bookings:  bookings,
		holds:     holds,
		events:    events,
		loyalty:   loyalty,
		verifier:  verifier,
		publisher: publisher,
		archiver:  archiver,
		metrics:   m,
		clock:     clk,
		logger:    logger,
	}
}

// transition is what a dispatcher decided, applied after the transaction commits
type transition struct {
	outcome     models.WebhookOutcome
	booking     *models.Booking
	creditLoyal bool
	publishKey  string
}

// HandleWebhook verifies, records and applies one delivery
func (s *SettlementService) HandleWebhook(ctx context.Context, d WebhookDelivery) (*WebhookResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "settlement.handle")
	defer span.End()
	span.SetAttributes(attribute.String("webhook.provider", d.Provider))

	receivedAt := s.clock.Now()

	// 1. Authenticate before trusting any byte of the payload
	if err := s.verifier.Verify(d.Provider, d.Body, d.Signature); err != nil {
		s.metrics.WebhookEvent("", string(models.WebhookOutcomeRejected))
		s.logger.WithFields(logrus.Fields{
			"provider":  d.Provider,
			"source_ip": d.SourceIP,
		}).WithError(err).Warn("Webhook signature rejected")
		span.SetStatus(codes.Error, "signature rejected")
		return nil, err
	}

	if s.archiver != nil {
		if err := s.archiver.ArchiveWebhook(ctx, d.Provider, d.Headers, d.Body, receivedAt); err != nil {
			s.logger.WithError(err).WithField("provider", d.Provider).Warn("Failed to archive webhook payload")
		}
	}

	// 2. Parse the tagged union
	env, payload, err := models.ParseWebhook(d.Body)
	if err != nil {
		event := ""
		if env != nil {
			event = string(env.Event)
		}
		s.metrics.WebhookEvent(event, string(models.WebhookOutcomeRejected))
		s.logger.WithError(err).WithField("provider", d.Provider).Warn("Webhook payload rejected")
		return nil, NewValidationError("body", err.Error())
	}
	span.SetAttributes(
		attribute.String("webhook.event", string(env.Event)),
		attribute.String("webhook.event_id", env.ID),
	)

	logger := s.logger.WithFields(logrus.Fields{
		"provider": d.Provider,
		"event":    env.Event,
		"event_id": env.ID,
	})

	// 3. Record, deduplicating on (provider, event id)
	record := models.NewWebhookEvent(d.Provider, env, receivedAt).SetRequestInfo(d.SourceIP, d.UserAgent)
	stored, inserted, err := s.events.Record(ctx, record)
	if err != nil {
		return nil, err
	}
	if !inserted {
		if isFinalOutcome(stored.Outcome) {
			s.metrics.WebhookEvent(string(env.Event), string(models.WebhookOutcomeDuplicate))
			logger.WithField("previous_outcome", stored.Outcome).Info("Duplicate webhook delivery acknowledged")
			return &WebhookResult{
				EventID:   env.ID,
				Event:     env.Event,
				Outcome:   models.WebhookOutcomeDuplicate,
				BookingID: stored.BookingID,
			}, nil
		}
		// An earlier attempt failed part way; process again under the same record
		record.ID = stored.ID
		logger.WithField("previous_outcome", stored.Outcome).Info("Retrying webhook event")
	}

	// 4. Apply
	t, err := s.dispatch(ctx, payload, record)
	outcome := models.WebhookOutcomeProcessed
	if t != nil {
		outcome = t.outcome
	}
	var inconsistency *InconsistencyError
	switch {
	case err == nil:
	case errors.As(err, &inconsistency):
		outcome = models.WebhookOutcomeInconsistent
		s.metrics.Inconsistency(inconsistency.Kind)
		logger.WithError(err).WithFields(logrus.Fields{
			"reconcile":  true,
			"booking_id": inconsistency.BookingID,
		}).Error("Webhook event conflicts with booking state")
	default:
		outcome = models.WebhookOutcomeFailed
		logger.WithError(err).Error("Webhook event processing failed")
	}

	record.Finish(outcome, err, s.clock.Now())
	if completeErr := s.events.Complete(context.WithoutCancel(ctx), record); completeErr != nil {
		logger.WithError(completeErr).Error("Failed to store webhook outcome")
	}
	s.metrics.WebhookEvent(string(env.Event), string(outcome))

	result := &WebhookResult{
		EventID:   env.ID,
		Event:     env.Event,
		Outcome:   outcome,
		BookingID: record.BookingID,
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if inconsistency != nil {
			// Recorded for manual reconciliation; the result is still useful to the caller
			return result, err
		}
		return nil, err
	}

	// 5. Side effects of a committed transition. None of them can undo it.
	if t != nil && t.booking != nil {
		s.afterCommit(ctx, t, logger)
	}

	logger.WithFields(logrus.Fields{
		"outcome":    outcome,
		"booking_id": record.BookingID,
	}).Info("Webhook event handled")

	return result, nil
}

// isFinalOutcome reports whether a recorded event must not be applied again
func isFinalOutcome(o models.WebhookOutcome) bool {
	switch o {
	case models.WebhookOutcomeProcessed, models.WebhookOutcomeDuplicate,
		models.WebhookOutcomeIgnored, models.WebhookOutcomeInconsistent:
		return true
	}
	return false
}

func (s *SettlementService) dispatch(ctx context.Context, payload models.WebhookPayload, record *models.WebhookEvent) (*transition, error) {
	switch p := payload.(type) {
	case *models.PaymentEventData:
		record.SetPaymentIntent(p.PaymentIntentID)
		switch p.Event {
		case models.EventPaymentSucceeded:
			return s.applyPaymentSucceeded(ctx, p, record)
		case models.EventPaymentFailed:
			return s.applyPaymentFailed(ctx, p, record)
		case models.EventPaymentRefunded:
			return s.applyRefund(ctx, p, record)
		}
	case *models.CancellationEventData:
		record.SetPaymentIntent(p.PaymentIntentID)
		return s.applyCancellation(ctx, p.BookingID, p.PaymentIntentID, p.Reason, record)
	case *models.PartnerBookingEventData:
		if p.Event == models.EventPartnerBookingConfirmed {
			return s.applyPartnerConfirmed(ctx, p, record)
		}
		reason := "partner cancelled"
		if p.Status != "" {
			reason = "partner cancelled: " + p.Status
		}
		return s.applyCancellation(ctx, p.TargetID(), "", reason, record)
	}
	return &transition{outcome: models.WebhookOutcomeIgnored}, nil
}

// ============================================================================
// TRANSITIONS
// ============================================================================

// applyPaymentSucceeded moves pending -> confirmed. An already confirmed
// booking is a duplicate and gets no second loyalty credit.
func (s *SettlementService) applyPaymentSucceeded(ctx context.Context, p *models.PaymentEventData, record *models.WebhookEvent) (*transition, error) {
	var t *transition
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		b, err := s.lockBooking(ctx, p.BookingID, p.PaymentIntentID)
		if err != nil {
			return err
		}
		record.SetBooking(b.ID)

		if p.PaymentIntentID != "" && b.PaymentIntentID != p.PaymentIntentID {
			return &InconsistencyError{Kind: "payment_intent_mismatch", BookingID: b.ID,
				Detail: fmt.Sprintf("event intent %s, booking intent %s", p.PaymentIntentID, b.PaymentIntentID)}
		}
		if p.Vertical != "" && p.Vertical != b.Vertical {
			return &InconsistencyError{Kind: "vertical_mismatch", BookingID: b.ID,
				Detail: fmt.Sprintf("event vertical %s, booking vertical %s", p.Vertical, b.Vertical)}
		}
		if err := checkSettledAmount(b, p.AmountMinor, p.Currency); err != nil {
			return err
		}

		switch b.Status {
		case models.BookingStatusConfirmed, models.BookingStatusCompleted:
			t = &transition{outcome: models.WebhookOutcomeDuplicate}
			return nil
		case models.BookingStatusPending:
		default:
			// Paid after expiry or cancellation; the money must be refunded by hand
			return &InconsistencyError{Kind: "payment_after_terminal_state", BookingID: b.ID,
				Detail: fmt.Sprintf("payment succeeded for a %s booking", b.Status)}
		}

		now := s.clock.Now()
		b.Status = models.BookingStatusConfirmed
		b.PaymentStatus = models.PaymentStatusCompleted
		b.ConfirmedAt = &now
		b.UpdatedAt = now
		if err := s.updateBooking(ctx, b, models.BookingStatusPending); err != nil {
			return err
		}
		if err := s.holds.SetHoldStatusForBooking(ctx, b.ID, models.HoldStatusActive, models.HoldStatusConverted, now); err != nil {
			return err
		}

		t = &transition{
			outcome:     models.WebhookOutcomeProcessed,
			booking:     b,
			creditLoyal: true,
			publishKey:  EventKeyBookingConfirmed,
		}
		return nil
	})
	return t, err
}

// applyPaymentFailed keeps the booking pending so the client can retry the
// same intent before the TTL; only the payment status records the failure
func (s *SettlementService) applyPaymentFailed(ctx context.Context, p *models.PaymentEventData, record *models.WebhookEvent) (*transition, error) {
	var t *transition
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		b, err := s.lockBooking(ctx, p.BookingID, p.PaymentIntentID)
		if err != nil {
			return err
		}
		record.SetBooking(b.ID)
		if p.FailureReason != "" {
			record.SetMeta("failure_reason", p.FailureReason)
		}

		if b.Status != models.BookingStatusPending {
			t = &transition{outcome: models.WebhookOutcomeIgnored}
			return nil
		}
		if b.PaymentStatus == models.PaymentStatusFailed {
			t = &transition{outcome: models.WebhookOutcomeDuplicate}
			return nil
		}

		b.PaymentStatus = models.PaymentStatusFailed
		b.UpdatedAt = s.clock.Now()
		if err := s.updateBooking(ctx, b, models.BookingStatusPending); err != nil {
			return err
		}
		t = &transition{outcome: models.WebhookOutcomeProcessed}
		return nil
	})
	return t, err
}

// applyRefund moves confirmed -> refunded and frees the slot. Points already
// earned stay on the account.
func (s *SettlementService) applyRefund(ctx context.Context, p *models.PaymentEventData, record *models.WebhookEvent) (*transition, error) {
	var t *transition
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		b, err := s.lockBooking(ctx, p.BookingID, p.PaymentIntentID)
		if err != nil {
			return err
		}
		record.SetBooking(b.ID)

		switch b.Status {
		case models.BookingStatusRefunded:
			t = &transition{outcome: models.WebhookOutcomeDuplicate}
			return nil
		case models.BookingStatusConfirmed, models.BookingStatusCompleted:
		default:
			t = &transition{outcome: models.WebhookOutcomeIgnored}
			return nil
		}

		previous := b.Status
		now := s.clock.Now()
		b.Status = models.BookingStatusRefunded
		b.PaymentStatus = models.PaymentStatusRefunded
		b.CommissionMinor = 0
		b.UpdatedAt = now
		if err := s.updateBooking(ctx, b, previous); err != nil {
			return err
		}
		if err := s.holds.SetHoldStatusForBooking(ctx, b.ID, models.HoldStatusConverted, models.HoldStatusReleased, now); err != nil {
			return err
		}
		t = &transition{outcome: models.WebhookOutcomeProcessed, booking: b, publishKey: EventKeyBookingRefunded}
		return nil
	})
	return t, err
}

// applyCancellation moves any status to cancelled, zeroes the commission and
// frees the slot
func (s *SettlementService) applyCancellation(ctx context.Context, bookingID, paymentIntentID, reason string, record *models.WebhookEvent) (*transition, error) {
	var t *transition
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		b, err := s.lockBooking(ctx, bookingID, paymentIntentID)
		if err != nil {
			return err
		}
		record.SetBooking(b.ID)

		if b.Status == models.BookingStatusCancelled {
			t = &transition{outcome: models.WebhookOutcomeDuplicate}
			return nil
		}

		previous := b.Status
		now := s.clock.Now()
		b.Status = models.BookingStatusCancelled
		b.CommissionMinor = 0
		b.CancelledAt = &now
		if reason != "" {
			b.CancelReason = &reason
		}
		b.UpdatedAt = now
		if err := s.updateBooking(ctx, b, previous); err != nil {
			return err
		}
		for _, from := range []models.HoldStatus{models.HoldStatusActive, models.HoldStatusConverted} {
			if err := s.holds.SetHoldStatusForBooking(ctx, b.ID, from, models.HoldStatusReleased, now); err != nil {
				return err
			}
		}
		t = &transition{outcome: models.WebhookOutcomeProcessed, booking: b, publishKey: EventKeyBookingCancelled}
		return nil
	})
	return t, err
}

// applyPartnerConfirmed confirms a referred booking with the partner's
// reference and commission. A booking already carrying the same reference is
// a duplicate.
func (s *SettlementService) applyPartnerConfirmed(ctx context.Context, p *models.PartnerBookingEventData, record *models.WebhookEvent) (*transition, error) {
	var t *transition
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		b, err := s.lockBooking(ctx, p.TargetID(), "")
		if err != nil {
			return err
		}
		record.SetBooking(b.ID)
		record.SetMeta("booking_reference", p.BookingReference)

		if b.PartnerReference != nil && *b.PartnerReference != p.BookingReference {
			return &InconsistencyError{Kind: "partner_reference_mismatch", BookingID: b.ID,
				Detail: fmt.Sprintf("event reference %s, booking reference %s", p.BookingReference, *b.PartnerReference)}
		}
		if err := checkSettledAmount(b, p.TotalAmountMinor, p.Currency); err != nil {
			return err
		}

		now := s.clock.Now()
		switch b.Status {
		case models.BookingStatusConfirmed, models.BookingStatusCompleted:
			if b.PartnerReference != nil {
				t = &transition{outcome: models.WebhookOutcomeDuplicate}
				return nil
			}
			// Paid directly, the partner reference arrives afterwards
			ref := p.BookingReference
			b.PartnerReference = &ref
			b.CommissionMinor = p.CommissionMinor
			b.UpdatedAt = now
			if err := s.updateBooking(ctx, b, b.Status); err != nil {
				return err
			}
			t = &transition{outcome: models.WebhookOutcomeProcessed}
			return nil
		case models.BookingStatusPending:
		default:
			return &InconsistencyError{Kind: "partner_confirmed_terminal_state", BookingID: b.ID,
				Detail: fmt.Sprintf("partner confirmed a %s booking", b.Status)}
		}

		ref := p.BookingReference
		b.Status = models.BookingStatusConfirmed
		b.PaymentStatus = models.PaymentStatusCompleted
		b.PartnerReference = &ref
		b.CommissionMinor = p.CommissionMinor
		b.ConfirmedAt = &now
		b.UpdatedAt = now
		if err := s.updateBooking(ctx, b, models.BookingStatusPending); err != nil {
			return err
		}
		if err := s.holds.SetHoldStatusForBooking(ctx, b.ID, models.HoldStatusActive, models.HoldStatusConverted, now); err != nil {
			return err
		}
		t = &transition{
			outcome:     models.WebhookOutcomeProcessed,
			booking:     b,
			creditLoyal: true,
			publishKey:  EventKeyBookingConfirmed,
		}
		return nil
	})
	return t, err
}

// ============================================================================
// HELPERS
// ============================================================================

// lockBooking finds the booking by id, falling back to the payment intent,
// and locks it for the transaction
func (s *SettlementService) lockBooking(ctx context.Context, bookingID, paymentIntentID string) (*models.Booking, error) {
	var id uuid.UUID
	if bookingID != "" {
		parsed, err := uuid.Parse(bookingID)
		if err != nil {
			return nil, &NotFoundError{Kind: "booking", ID: bookingID}
		}
		id = parsed
	} else {
		b, err := s.bookings.GetBookingByPaymentIntentID(ctx, paymentIntentID)
		if err != nil {
			return nil, err
		}
		if b == nil {
			return nil, &NotFoundError{Kind: "booking for payment intent", ID: paymentIntentID}
		}
		id = b.ID
	}

	b, err := s.bookings.GetBookingForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, &NotFoundError{Kind: "booking", ID: id.String()}
	}
	return b, nil
}

func (s *SettlementService) updateBooking(ctx context.Context, b *models.Booking, expected models.BookingStatus) error {
	ok, err := s.bookings.UpdateSettlement(ctx, b, expected)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("booking %s changed status concurrently", b.ID)
	}
	return nil
}

// checkSettledAmount rejects settlements that do not match the price the
// client was shown
func checkSettledAmount(b *models.Booking, amountMinor int64, currency string) error {
	if amountMinor == 0 && currency == "" {
		return nil
	}
	if amountMinor != b.TotalMinor || !strings.EqualFold(currency, b.Currency) {
		return &InconsistencyError{Kind: "amount_mismatch", BookingID: b.ID,
			Detail: fmt.Sprintf("settled %d %s, booking total %d %s", amountMinor, currency, b.TotalMinor, b.Currency)}
	}
	return nil
}

// afterCommit credits loyalty and publishes the domain event. Failures are
// logged and counted; the booking keeps its new status.
func (s *SettlementService) afterCommit(ctx context.Context, t *transition, logger *logrus.Entry) {
	b := t.booking
	ctx = context.WithoutCancel(ctx)

	if t.creditLoyal && s.loyalty != nil {
		if _, err := s.loyalty.CreditForBooking(ctx, b.UserID, b.Vertical, b.TotalMinor, b.Currency, b.ID); err != nil {
			if errors.Is(err, ErrAlreadyCredited) {
				logger.WithField("booking_id", b.ID).Info("Loyalty points already credited")
			} else {
				s.metrics.LoyaltyCreditFailed()
				logger.WithError(err).WithFields(logrus.Fields{
					"booking_id": b.ID,
					"user_id":    b.UserID,
				}).Error("Loyalty credit failed, booking stays confirmed; reconciliation will retry")
			}
		}
	}

	if t.publishKey != "" {
		if err := s.publisher.PublishJSON(ctx, t.publishKey, newBookingEvent(b, s.clock.Now())); err != nil {
			logger.WithError(err).WithField("booking_id", b.ID).Warn("Failed to publish booking event")
		}
	}
}
