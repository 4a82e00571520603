package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/tripmarket/settlement-backend/internal/clock"
	"github.com/tripmarket/settlement-backend/internal/config"
	"github.com/tripmarket/settlement-backend/internal/metrics"
	"github.com/tripmarket/settlement-backend/internal/models"
	"github.com/tripmarket/settlement-backend/pkg/validator"
)

const testProvider = "payments"

var testNow = time.Date(2025, 5, 20, 12, 0, 0, 0, time.UTC)

func testLoyaltyConfig() config.LoyaltyConfig {
	return config.LoyaltyConfig{
		EarnRates: map[string]float64{"hotel": 2, "car": 1, "tour": 1.5, "transfer": 1},
		TierOrder: []string{"base", "silver", "gold", "platinum"},
		TierMultipliers: map[string]float64{
			"base": 1, "silver": 1.25, "gold": 1.5, "platinum": 2,
		},
		TierThresholds: map[string]int64{
			"base": 0, "silver": 5000, "gold": 20000, "platinum": 50000,
		},
	}
}

// harness wires every service to one memStore
type harness struct {
	store     *memStore
	gateway   *fakeGateway
	publisher *recordingPublisher
	clock     *clock.Manual
	metrics   *metrics.Metrics
	verifier  *SignatureVerifier

	availability *AvailabilityService
	bookings     *BookingService
	loyalty      *LoyaltyService
	settlement   *SettlementService
	reaper       *ExpiryReaper
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:     newMemStore(),
		gateway:   &fakeGateway{},
		publisher: &recordingPublisher{},
		clock:     clock.NewManual(testNow),
		metrics:   metrics.NewMetrics("test", prometheus.NewRegistry()),
		verifier:  NewSignatureVerifier(map[string]string{testProvider: "whsec_test"}),
	}
	logger := newTestLogger()

	rules, err := NewLoyaltyRules(testLoyaltyConfig())
	require.NoError(t, err)

	tx := &serialTx{}
	h.availability = NewAvailabilityService(h.store, h.store, h.clock)
	h.bookings = NewBookingService(tx, h.store, h.store, h.store, h.availability, h.gateway, h.publisher,
		validator.NewPhoneValidator("94"), h.metrics, h.clock, logger,
		BookingOptions{PendingTTL: 30 * time.Minute, DefaultCurrency: "USD"})
	h.loyalty = NewLoyaltyService(tx, h.store, h.store, rules, h.publisher, h.metrics, h.clock, logger)
	h.settlement = NewSettlementService(tx, h.store, h.store, h.store, h.loyalty, h.verifier, h.publisher,
		nil, h.metrics, h.clock, logger)
	h.reaper = NewExpiryReaper(h.store, h.store, h.loyalty, h.publisher, h.metrics, h.clock, logger,
		ReaperOptions{ExpirySchedule: "@every 1h", ReconcileSchedule: "@every 1h"})
	return h
}

// addHotel registers a room priced at 100.00 USD a night with 10% tax
func (h *harness) addHotel() *models.Resource {
	r := &models.Resource{
		ID:       uuid.New(),
		Vertical: models.VerticalHotel,
		Name:     "Deluxe Double",
		IsActive: true,
		Currency: "USD",
		RateCard: models.RateCard{BasePriceMinor: 10000, TaxRate: 0.10},
		Capacity: models.Capacity{Adults: 2, Children: 1},
	}
	h.store.addResource(r)
	return r
}

func (h *harness) addResource(vertical models.Vertical, card models.RateCard, capacity models.Capacity, policy models.BookingPolicy) *models.Resource {
	r := &models.Resource{
		ID:       uuid.New(),
		Vertical: vertical,
		Name:     string(vertical) + " resource",
		IsActive: true,
		Currency: "USD",
		RateCard: card,
		Capacity: capacity,
		Policy:   policy,
	}
	h.store.addResource(r)
	return r
}

func hotelRequest(roomID uuid.UUID, checkIn, checkOut string, adults, children int) *models.HotelBookingRequest {
	return &models.HotelBookingRequest{
		RoomID:   roomID.String(),
		CheckIn:  checkIn,
		CheckOut: checkOut,
		Adults:   adults,
		Children: children,
		Guest: models.ContactRequest{
			Name:  "Nimal Perera",
			Email: "nimal@example.com",
			Phone: "+94771234567",
		},
	}
}

// bookHotel creates the 3-night, 330.00 USD booking most settlement tests start from
func (h *harness) bookHotel(t *testing.T) (*models.Booking, uuid.UUID) {
	t.Helper()
	room := h.addHotel()
	user := uuid.New()
	resp, err := h.bookings.CreateHotelBooking(context.Background(), RequestContext{UserID: user},
		hotelRequest(room.ID, "2025-06-01", "2025-06-04", 2, 0))
	require.NoError(t, err)
	return resp.Booking, user
}

// deliver signs body and hands it to the settlement service
func (h *harness) deliver(t *testing.T, body string) (*WebhookResult, error) {
	t.Helper()
	sig, ok := h.verifier.Sign(testProvider, []byte(body))
	require.True(t, ok)
	return h.settlement.HandleWebhook(context.Background(), WebhookDelivery{
		Provider:  testProvider,
		Body:      []byte(body),
		Signature: "sha256=" + sig,
		SourceIP:  "203.0.113.7",
		UserAgent: "provider-webhooks/1.0",
	})
}
