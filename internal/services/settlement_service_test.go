package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripmarket/settlement-backend/internal/models"
)

func paymentBody(eventID string, event models.WebhookEventType, b *models.Booking, amountMinor int64) string {
	return fmt.Sprintf(`{"id":%q,"event":%q,"timestamp":"2025-05-20T12:05:00Z","data":{"payment_intent_id":%q,"booking_id":%q,"vertical":%q,"amount_minor":%d,"currency":"usd"}}`,
		eventID, event, b.PaymentIntentID, b.ID, b.Vertical, amountMinor)
}

func cancelBody(eventID string, b *models.Booking, reason string) string {
	return fmt.Sprintf(`{"id":%q,"event":"booking.cancelled","timestamp":"2025-05-20T12:05:00Z","data":{"booking_id":%q,"reason":%q}}`,
		eventID, b.ID, reason)
}

func partnerBody(eventID string, event models.WebhookEventType, b *models.Booking, reference string, commission int64) string {
	return fmt.Sprintf(`{"id":%q,"event":%q,"timestamp":"2025-05-20T12:05:00Z","data":{"referral_id":%q,"booking_reference":%q,"status":"cancelled_by_partner","total_amount_minor":%d,"currency":"USD","commission_minor":%d}}`,
		eventID, event, b.ID, reference, b.TotalMinor, commission)
}

func TestHandleWebhook_PaymentSucceeded(t *testing.T) {
	h := newHarness(t)
	b, user := h.bookHotel(t)

	result, err := h.deliver(t, paymentBody("evt_1", models.EventPaymentSucceeded, b, 33000))
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeProcessed, result.Outcome)
	require.NotNil(t, result.BookingID)
	assert.Equal(t, b.ID, *result.BookingID)

	stored := h.store.booking(b.ID)
	assert.Equal(t, models.BookingStatusConfirmed, stored.Status)
	assert.Equal(t, models.PaymentStatusCompleted, stored.PaymentStatus)
	require.NotNil(t, stored.ConfirmedAt)
	assert.Equal(t, models.HoldStatusConverted, h.store.holdFor(b.ID).Status)

	// 330.00 USD at 2 points per dollar on the base tier
	earn, err := h.store.GetEarnByBooking(context.Background(), b.ID)
	require.NoError(t, err)
	require.NotNil(t, earn)
	assert.Equal(t, int64(660), earn.Points)
	assert.Equal(t, models.EarnIdempotencyKey(b.ID), earn.IdempotencyKey)

	account, err := h.store.GetAccount(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, int64(660), account.Balance)
	assert.Equal(t, models.LoyaltyTier("base"), account.Tier)

	event := h.store.event(testProvider, "evt_1")
	require.NotNil(t, event)
	assert.Equal(t, models.WebhookOutcomeProcessed, event.Outcome)
	assert.True(t, event.SignatureValid)
	require.NotNil(t, event.SourceIP)
	assert.Equal(t, "203.0.113.7", *event.SourceIP)

	assert.Equal(t, 1, h.publisher.count(EventKeyBookingConfirmed))
	assert.Equal(t, 1, h.publisher.count(EventKeyPointsEarned))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.WebhookEvents.WithLabelValues("payment.succeeded", "processed")))
}

func TestHandleWebhook_RedeliveryCreditsOnce(t *testing.T) {
	h := newHarness(t)
	b, _ := h.bookHotel(t)
	body := paymentBody("evt_1", models.EventPaymentSucceeded, b, 33000)

	_, err := h.deliver(t, body)
	require.NoError(t, err)

	result, err := h.deliver(t, body)
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeDuplicate, result.Outcome)

	// Same payment reported under a new event id
	result, err = h.deliver(t, paymentBody("evt_2", models.EventPaymentSucceeded, b, 33000))
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeDuplicate, result.Outcome)

	assert.Equal(t, 1, h.store.earnCount(b.ID))
	assert.Equal(t, 1, h.publisher.count(EventKeyBookingConfirmed))
}

func TestHandleWebhook_ConcurrentDeliveriesCreditOnce(t *testing.T) {
	h := newHarness(t)
	b, _ := h.bookHotel(t)

	var wg sync.WaitGroup
	outcomes := make(chan models.WebhookOutcome, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := h.deliver(t, paymentBody(fmt.Sprintf("evt_%d", i), models.EventPaymentSucceeded, b, 33000))
			if assert.NoError(t, err) {
				outcomes <- result.Outcome
			}
		}(i)
	}
	wg.Wait()
	close(outcomes)

	processed := 0
	for o := range outcomes {
		if o == models.WebhookOutcomeProcessed {
			processed++
		} else {
			assert.Equal(t, models.WebhookOutcomeDuplicate, o)
		}
	}
	assert.Equal(t, 1, processed)
	assert.Equal(t, 1, h.store.earnCount(b.ID))
}

func TestHandleWebhook_RejectsBadSignature(t *testing.T) {
	h := newHarness(t)
	b, _ := h.bookHotel(t)
	body := paymentBody("evt_1", models.EventPaymentSucceeded, b, 33000)
	sig, _ := h.verifier.Sign(testProvider, []byte(body))

	tests := []struct {
		name      string
		provider  string
		body      string
		signature string
	}{
		{"tampered body", testProvider, paymentBody("evt_1", models.EventPaymentSucceeded, b, 1), sig},
		{"missing signature", testProvider, body, ""},
		{"malformed signature", testProvider, body, "sha256=zz"},
		{"unknown provider", "partnerx", body, sig},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := h.settlement.HandleWebhook(context.Background(), WebhookDelivery{
				Provider:  tc.provider,
				Body:      []byte(tc.body),
				Signature: tc.signature,
			})
			assert.Nil(t, result)
			var authErr *AuthenticationError
			assert.ErrorAs(t, err, &authErr)
		})
	}

	assert.Equal(t, models.BookingStatusPending, h.store.booking(b.ID).Status)
	assert.Empty(t, h.store.events)
	assert.Zero(t, h.store.earnCount(b.ID))
}

func TestHandleWebhook_RejectsMalformedPayload(t *testing.T) {
	h := newHarness(t)

	for _, body := range []string{
		`{"id":"evt_1","event":"payment.succeeded"`,
		`{"id":"evt_1","event":"payment.exploded","data":{}}`,
		`{"id":"evt_1","event":"payment.succeeded","data":{"payment_intent_id":"pi_1","amount_minor":0,"currency":"usd"}}`,
		`{"event":"payment.succeeded","data":{"payment_intent_id":"pi_1"}}`,
	} {
		_, err := h.deliver(t, body)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr, body)
	}
	assert.Empty(t, h.store.events)
}

func TestHandleWebhook_LoyaltyFailureDoesNotUndoConfirmation(t *testing.T) {
	h := newHarness(t)
	b, user := h.bookHotel(t)
	h.store.failInsertTx = errors.New("ledger unavailable")

	result, err := h.deliver(t, paymentBody("evt_1", models.EventPaymentSucceeded, b, 33000))
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeProcessed, result.Outcome)
	assert.Equal(t, models.BookingStatusConfirmed, h.store.booking(b.ID).Status)
	assert.Zero(t, h.store.earnCount(b.ID))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.LoyaltyCreditFailures))

	// Reconciliation picks up the missed credit once the ledger is back
	h.store.failInsertTx = nil
	credited, err := h.loyalty.ReconcileMissingCredits(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, credited)
	assert.Equal(t, 1, h.store.earnCount(b.ID))

	account, err := h.store.GetAccount(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, int64(660), account.Balance)

	credited, err = h.loyalty.ReconcileMissingCredits(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, credited)
}

func TestHandleWebhook_AmountMismatchIsInconsistent(t *testing.T) {
	h := newHarness(t)
	b, _ := h.bookHotel(t)
	body := paymentBody("evt_1", models.EventPaymentSucceeded, b, 30000)

	result, err := h.deliver(t, body)
	var inconsistency *InconsistencyError
	require.ErrorAs(t, err, &inconsistency)
	assert.Equal(t, "amount_mismatch", inconsistency.Kind)
	require.NotNil(t, result)
	assert.Equal(t, models.WebhookOutcomeInconsistent, result.Outcome)

	assert.Equal(t, models.BookingStatusPending, h.store.booking(b.ID).Status)
	assert.Equal(t, models.WebhookOutcomeInconsistent, h.store.event(testProvider, "evt_1").Outcome)
	assert.Zero(t, h.store.earnCount(b.ID))

	// Already recorded for reconciliation
	result, err = h.deliver(t, body)
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeDuplicate, result.Outcome)
}

func TestHandleWebhook_PaymentAfterExpiry(t *testing.T) {
	h := newHarness(t)
	b, _ := h.bookHotel(t)

	h.clock.Advance(31 * time.Minute)
	expired, err := h.reaper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	_, err = h.deliver(t, paymentBody("evt_1", models.EventPaymentSucceeded, b, 33000))
	var inconsistency *InconsistencyError
	require.ErrorAs(t, err, &inconsistency)
	assert.Equal(t, "payment_after_terminal_state", inconsistency.Kind)
	assert.Equal(t, models.BookingStatusExpired, h.store.booking(b.ID).Status)
	assert.Zero(t, h.store.earnCount(b.ID))
}

func TestHandleWebhook_LatePaymentBeforeReaperConfirms(t *testing.T) {
	h := newHarness(t)
	b, _ := h.bookHotel(t)
	h.clock.Advance(31 * time.Minute)

	result, err := h.deliver(t, paymentBody("evt_1", models.EventPaymentSucceeded, b, 33000))
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeProcessed, result.Outcome)

	expired, err := h.reaper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, expired)
	assert.Equal(t, models.BookingStatusConfirmed, h.store.booking(b.ID).Status)
}

func TestHandleWebhook_PaymentFailedThenRetried(t *testing.T) {
	h := newHarness(t)
	b, _ := h.bookHotel(t)

	result, err := h.deliver(t, `{"id":"evt_f1","event":"payment.failed","data":{"payment_intent_id":"`+b.PaymentIntentID+`","failure_reason":"card_declined"}}`)
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeProcessed, result.Outcome)

	stored := h.store.booking(b.ID)
	assert.Equal(t, models.BookingStatusPending, stored.Status)
	assert.Equal(t, models.PaymentStatusFailed, stored.PaymentStatus)
	assert.Equal(t, "card_declined", h.store.event(testProvider, "evt_f1").Metadata["failure_reason"])

	result, err = h.deliver(t, `{"id":"evt_f2","event":"payment.failed","data":{"payment_intent_id":"`+b.PaymentIntentID+`"}}`)
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeDuplicate, result.Outcome)

	// The client retries the same intent with another card
	result, err = h.deliver(t, paymentBody("evt_s1", models.EventPaymentSucceeded, b, 33000))
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeProcessed, result.Outcome)
	assert.Equal(t, models.PaymentStatusCompleted, h.store.booking(b.ID).PaymentStatus)
}

func TestHandleWebhook_RefundKeepsPoints(t *testing.T) {
	h := newHarness(t)
	b, user := h.bookHotel(t)

	_, err := h.deliver(t, paymentBody("evt_1", models.EventPaymentSucceeded, b, 33000))
	require.NoError(t, err)

	result, err := h.deliver(t, paymentBody("evt_2", models.EventPaymentRefunded, b, 33000))
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeProcessed, result.Outcome)

	stored := h.store.booking(b.ID)
	assert.Equal(t, models.BookingStatusRefunded, stored.Status)
	assert.Equal(t, models.PaymentStatusRefunded, stored.PaymentStatus)
	assert.Zero(t, stored.CommissionMinor)
	assert.Equal(t, models.HoldStatusReleased, h.store.holdFor(b.ID).Status)

	account, err := h.store.GetAccount(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, int64(660), account.Balance)
	assert.Equal(t, 1, h.publisher.count(EventKeyBookingRefunded))

	// The window is free again
	avail, err := h.availability.CheckAvailability(context.Background(), b.ResourceID, b.WindowStart, b.WindowEnd)
	require.NoError(t, err)
	assert.True(t, avail.Available)

	result, err = h.deliver(t, paymentBody("evt_3", models.EventPaymentRefunded, b, 33000))
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeDuplicate, result.Outcome)
}

func TestHandleWebhook_Cancellation(t *testing.T) {
	h := newHarness(t)
	b, _ := h.bookHotel(t)

	result, err := h.deliver(t, cancelBody("evt_c1", b, "guest request"))
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeProcessed, result.Outcome)

	stored := h.store.booking(b.ID)
	assert.Equal(t, models.BookingStatusCancelled, stored.Status)
	require.NotNil(t, stored.CancelReason)
	assert.Equal(t, "guest request", *stored.CancelReason)
	require.NotNil(t, stored.CancelledAt)
	assert.Equal(t, models.HoldStatusReleased, h.store.holdFor(b.ID).Status)

	result, err = h.deliver(t, cancelBody("evt_c2", b, "guest request"))
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeDuplicate, result.Outcome)

	// Another guest can now take the room
	_, err = h.bookings.CreateHotelBooking(context.Background(), RequestContext{UserID: uuid.New()},
		hotelRequest(b.ResourceID, "2025-06-01", "2025-06-04", 2, 0))
	assert.NoError(t, err)
}

func TestHandleWebhook_PartnerConfirmationAndCancellation(t *testing.T) {
	h := newHarness(t)
	b, _ := h.bookHotel(t)

	result, err := h.deliver(t, partnerBody("evt_p1", models.EventPartnerBookingConfirmed, b, "PX-1001", 3300))
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeProcessed, result.Outcome)

	stored := h.store.booking(b.ID)
	assert.Equal(t, models.BookingStatusConfirmed, stored.Status)
	require.NotNil(t, stored.PartnerReference)
	assert.Equal(t, "PX-1001", *stored.PartnerReference)
	assert.Equal(t, int64(3300), stored.CommissionMinor)
	assert.Equal(t, 1, h.store.earnCount(b.ID))

	result, err = h.deliver(t, partnerBody("evt_p2", models.EventPartnerBookingConfirmed, b, "PX-1001", 3300))
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeDuplicate, result.Outcome)

	_, err = h.deliver(t, partnerBody("evt_p3", models.EventPartnerBookingConfirmed, b, "PX-2002", 3300))
	var inconsistency *InconsistencyError
	require.ErrorAs(t, err, &inconsistency)
	assert.Equal(t, "partner_reference_mismatch", inconsistency.Kind)

	result, err = h.deliver(t, partnerBody("evt_p4", models.EventPartnerBookingCancelled, b, "PX-1001", 0))
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeProcessed, result.Outcome)

	stored = h.store.booking(b.ID)
	assert.Equal(t, models.BookingStatusCancelled, stored.Status)
	assert.Zero(t, stored.CommissionMinor)
	assert.Equal(t, 1, h.store.earnCount(b.ID))
}

func TestHandleWebhook_UnknownBookingIsRetried(t *testing.T) {
	h := newHarness(t)
	body := `{"id":"evt_1","event":"payment.succeeded","data":{"payment_intent_id":"pi_missing","amount_minor":1000,"currency":"usd"}}`

	_, err := h.deliver(t, body)
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, models.WebhookOutcomeFailed, h.store.event(testProvider, "evt_1").Outcome)

	// A failed event is not final, so the provider's retry is processed again
	_, err = h.deliver(t, body)
	assert.ErrorAs(t, err, &notFound)
}
