package services

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripmarket/settlement-backend/internal/models"
)

func TestCreateHotelBooking_Success(t *testing.T) {
	h := newHarness(t)
	room := h.addHotel()
	user := uuid.New()

	resp, err := h.bookings.CreateHotelBooking(context.Background(), RequestContext{UserID: user, ClientDevice: "iOS 17 / Safari"},
		hotelRequest(room.ID, "2025-06-01", "2025-06-04", 2, 0))
	require.NoError(t, err)

	b := resp.Booking
	assert.Equal(t, models.BookingStatusPending, b.Status)
	assert.Equal(t, models.PaymentStatusPending, b.PaymentStatus)
	assert.Equal(t, int64(33000), b.TotalMinor)
	assert.Equal(t, int64(3000), b.Pricing.TaxMinor)
	assert.Equal(t, "USD", b.Currency)
	assert.Equal(t, time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC), b.WindowStart)
	assert.Equal(t, time.Date(2025, 6, 4, 11, 0, 0, 0, time.UTC), b.WindowEnd)
	assert.Equal(t, testNow.Add(30*time.Minute), b.ExpiresAt)
	require.NotNil(t, b.ClientDevice)
	assert.Equal(t, "iOS 17 / Safari", *b.ClientDevice)

	// The intent is for exactly the priced total and keyed by the booking id
	require.Len(t, h.gateway.calls, 1)
	call := h.gateway.calls[0]
	assert.Equal(t, b.TotalMinor, call.AmountMinor)
	assert.Equal(t, b.ID.String(), call.IdempotencyKey)
	assert.Equal(t, b.ID.String(), call.Metadata["booking_id"])
	assert.Equal(t, "hotel", call.Metadata["vertical"])
	assert.Equal(t, b.PaymentIntentID, resp.PaymentIntent.ID)
	assert.NotEmpty(t, resp.PaymentIntent.ClientSecret)
	assert.Equal(t, 1800, resp.TTLSeconds)

	stored := h.store.booking(b.ID)
	require.NotNil(t, stored)
	assert.Equal(t, models.BookingStatusPending, stored.Status)

	hold := h.store.holdFor(b.ID)
	require.NotNil(t, hold)
	assert.Equal(t, models.HoldStatusActive, hold.Status)

	assert.Equal(t, 1, h.publisher.count(EventKeyBookingCreated))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.BookingsCreated.WithLabelValues("hotel")))
}

func TestCreateHotelBooking_CapacityCheckedBeforeAvailability(t *testing.T) {
	h := newHarness(t)
	room := h.addHotel()

	_, err := h.bookings.CreateHotelBooking(context.Background(), RequestContext{UserID: uuid.New()},
		hotelRequest(room.ID, "2025-06-01", "2025-06-04", 3, 2))

	var policy *PolicyViolationError
	require.ErrorAs(t, err, &policy)
	assert.Equal(t, "capacity", policy.Rule)
	assert.Zero(t, h.store.findConflictsCalls)
	assert.Zero(t, h.gateway.callCount())
}

func TestCreateHotelBooking_ValidationErrors(t *testing.T) {
	h := newHarness(t)
	room := h.addHotel()

	tests := []struct {
		name   string
		mutate func(r *models.HotelBookingRequest)
		field  string
	}{
		{"bad room id", func(r *models.HotelBookingRequest) { r.RoomID = "room-1" }, "room_id"},
		{"bad date", func(r *models.HotelBookingRequest) { r.CheckIn = "01/06/2025" }, "check_in"},
		{"check out before check in", func(r *models.HotelBookingRequest) { r.CheckOut = "2025-05-30" }, "check_out"},
		{"no adults", func(r *models.HotelBookingRequest) { r.Adults = 0 }, "adults"},
		{"bad email", func(r *models.HotelBookingRequest) { r.Guest.Email = "not-an-email" }, "guest.email"},
		{"bad phone", func(r *models.HotelBookingRequest) { r.Guest.Phone = "call me" }, "guest.phone"},
		{"missing name", func(r *models.HotelBookingRequest) { r.Guest.Name = "  " }, "guest.name"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := hotelRequest(room.ID, "2025-06-01", "2025-06-04", 2, 0)
			tc.mutate(req)

			_, err := h.bookings.CreateHotelBooking(context.Background(), RequestContext{UserID: uuid.New()}, req)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			fields := make([]string, 0, len(verr.Fields))
			for _, f := range verr.Fields {
				fields = append(fields, f.Field)
			}
			assert.Contains(t, fields, tc.field)
		})
	}
	assert.Zero(t, h.gateway.callCount())
}

func TestCreateHotelBooking_ResourceResolution(t *testing.T) {
	h := newHarness(t)
	car := h.addResource(models.VerticalCar, models.RateCard{BasePriceMinor: 5000}, models.Capacity{}, models.BookingPolicy{})
	inactive := h.addHotel()
	inactive.IsActive = false
	h.store.addResource(inactive)

	_, err := h.bookings.CreateHotelBooking(context.Background(), RequestContext{UserID: uuid.New()},
		hotelRequest(uuid.New(), "2025-06-01", "2025-06-04", 2, 0))
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)

	// A car id is not a room
	_, err = h.bookings.CreateHotelBooking(context.Background(), RequestContext{UserID: uuid.New()},
		hotelRequest(car.ID, "2025-06-01", "2025-06-04", 2, 0))
	assert.ErrorAs(t, err, &notFound)

	_, err = h.bookings.CreateHotelBooking(context.Background(), RequestContext{UserID: uuid.New()},
		hotelRequest(inactive.ID, "2025-06-01", "2025-06-04", 2, 0))
	var inactiveErr *ResourceInactiveError
	assert.ErrorAs(t, err, &inactiveErr)
}

func TestCreateHotelBooking_StayRules(t *testing.T) {
	h := newHarness(t)
	room := h.addHotel()
	room.Policy = models.BookingPolicy{MinStay: 2, MaxStay: 5}
	h.store.addResource(room)

	_, err := h.bookings.CreateHotelBooking(context.Background(), RequestContext{UserID: uuid.New()},
		hotelRequest(room.ID, "2025-06-01", "2025-06-02", 2, 0))
	var policy *PolicyViolationError
	require.ErrorAs(t, err, &policy)
	assert.Equal(t, "min_stay", policy.Rule)

	_, err = h.bookings.CreateHotelBooking(context.Background(), RequestContext{UserID: uuid.New()},
		hotelRequest(room.ID, "2025-06-01", "2025-06-10", 2, 0))
	require.ErrorAs(t, err, &policy)
	assert.Equal(t, "max_stay", policy.Rule)

	// Check-in today at 14:00 is still in the future at noon
	_, err = h.bookings.CreateHotelBooking(context.Background(), RequestContext{UserID: uuid.New()},
		hotelRequest(room.ID, "2025-05-20", "2025-05-22", 2, 0))
	assert.NoError(t, err)

	_, err = h.bookings.CreateHotelBooking(context.Background(), RequestContext{UserID: uuid.New()},
		hotelRequest(room.ID, "2025-05-10", "2025-05-12", 2, 0))
	require.ErrorAs(t, err, &policy)
	assert.Equal(t, "advance_booking", policy.Rule)
}

func TestCreateHotelBooking_OverlapRejected(t *testing.T) {
	h := newHarness(t)
	room := h.addHotel()

	_, err := h.bookings.CreateHotelBooking(context.Background(), RequestContext{UserID: uuid.New()},
		hotelRequest(room.ID, "2025-06-01", "2025-06-04", 2, 0))
	require.NoError(t, err)

	_, err = h.bookings.CreateHotelBooking(context.Background(), RequestContext{UserID: uuid.New()},
		hotelRequest(room.ID, "2025-06-03", "2025-06-05", 1, 0))
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, room.ID, conflict.ResourceID)
	assert.NotEmpty(t, conflict.Conflicts)
	assert.Equal(t, 1, h.gateway.callCount())
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.BookingConflicts.WithLabelValues("hotel")))

	// Back-to-back stays share the changeover day
	_, err = h.bookings.CreateHotelBooking(context.Background(), RequestContext{UserID: uuid.New()},
		hotelRequest(room.ID, "2025-06-04", "2025-06-06", 2, 0))
	assert.NoError(t, err)
}

func TestCreateHotelBooking_RandomOverlapsNeverDoubleBook(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	base := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 50; i++ {
		h := newHarness(t)
		room := h.addHotel()

		firstIn := rng.Intn(20)
		firstNights := 1 + rng.Intn(6)
		secondNights := 1 + rng.Intn(6)
		// Any check-in with firstIn-secondNights < secondIn < firstIn+firstNights overlaps
		secondIn := firstIn - secondNights + 1 + rng.Intn(firstNights+secondNights-1)

		day := func(n int) string { return base.AddDate(0, 0, n).Format(dateLayout) }

		_, err := h.bookings.CreateHotelBooking(context.Background(), RequestContext{UserID: uuid.New()},
			hotelRequest(room.ID, day(firstIn), day(firstIn+firstNights), 1, 0))
		require.NoError(t, err)

		_, err = h.bookings.CreateHotelBooking(context.Background(), RequestContext{UserID: uuid.New()},
			hotelRequest(room.ID, day(secondIn), day(secondIn+secondNights), 1, 0))
		var conflict *ConflictError
		require.ErrorAs(t, err, &conflict, "first [%d,+%d) second [%d,+%d)", firstIn, firstNights, secondIn, secondNights)
	}
}

func TestCreateBooking_GatewayFailureReleasesHold(t *testing.T) {
	h := newHarness(t)
	room := h.addHotel()
	h.gateway.err = errors.New("connection reset by peer")

	_, err := h.bookings.CreateHotelBooking(context.Background(), RequestContext{UserID: uuid.New()},
		hotelRequest(room.ID, "2025-06-01", "2025-06-04", 2, 0))

	var gwErr *PaymentGatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, "create_payment_intent", gwErr.Op)
	assert.Empty(t, h.store.bookings)
	for _, hold := range h.store.holds {
		assert.Equal(t, models.HoldStatusReleased, hold.Status)
	}

	// Nothing was committed, so a retry gets the slot
	h.gateway.err = nil
	_, err = h.bookings.CreateHotelBooking(context.Background(), RequestContext{UserID: uuid.New()},
		hotelRequest(room.ID, "2025-06-01", "2025-06-04", 2, 0))
	assert.NoError(t, err)
}

func TestCreateBooking_PersistFailureReportsOrphanedIntent(t *testing.T) {
	h := newHarness(t)
	room := h.addHotel()
	h.store.failCreateBooking = errors.New("connection refused")

	_, err := h.bookings.CreateHotelBooking(context.Background(), RequestContext{UserID: uuid.New()},
		hotelRequest(room.ID, "2025-06-01", "2025-06-04", 2, 0))

	var inconsistency *InconsistencyError
	require.ErrorAs(t, err, &inconsistency)
	assert.Equal(t, "orphaned_payment_intent", inconsistency.Kind)
	assert.Contains(t, inconsistency.Detail, "pi_test_1")
	assert.Equal(t, "pi_test_1", inconsistency.PaymentIntentID)
	assert.Equal(t, 1, h.gateway.callCount())
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.Inconsistencies.WithLabelValues("orphaned_payment_intent")))
	for _, hold := range h.store.holds {
		assert.Equal(t, models.HoldStatusReleased, hold.Status)
	}
}

func TestCreateBooking_IntentAmountMismatchNeedsReconciliation(t *testing.T) {
	h := newHarness(t)
	room := h.addHotel()
	h.gateway.echoMinor = 100

	_, err := h.bookings.CreateHotelBooking(context.Background(), RequestContext{UserID: uuid.New()},
		hotelRequest(room.ID, "2025-06-01", "2025-06-04", 2, 0))

	var inconsistency *InconsistencyError
	require.ErrorAs(t, err, &inconsistency)
	var gwErr *PaymentGatewayError
	assert.False(t, errors.As(err, &gwErr), "a created intent must not be reported as retryable")
	assert.Equal(t, "payment_intent_amount_mismatch", inconsistency.Kind)
	assert.Equal(t, "pi_test_1", inconsistency.PaymentIntentID)
	assert.Empty(t, h.store.bookings)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.Inconsistencies.WithLabelValues("payment_intent_amount_mismatch")))
	for _, hold := range h.store.holds {
		assert.Equal(t, models.HoldStatusReleased, hold.Status)
	}
}

func TestCreateCarBooking_NightPickup(t *testing.T) {
	h := newHarness(t)
	car := h.addResource(models.VerticalCar,
		models.RateCard{BasePriceMinor: 4000, PricePerKmMinor: 50, NightSurchargeMinor: 1500, AirportSurchargeMinor: 2000},
		models.Capacity{Passengers: 4},
		models.BookingPolicy{})

	pickup := time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC)
	resp, err := h.bookings.CreateCarBooking(context.Background(), RequestContext{UserID: uuid.New()}, &models.CarBookingRequest{
		VehicleID:     car.ID.String(),
		PickupAt:      pickup,
		DropoffAt:     pickup.Add(48 * time.Hour),
		DistanceKm:    120,
		AirportPickup: true,
		Passengers:    3,
		Driver:        models.ContactRequest{Name: "Kasun", Email: "kasun@example.com", Phone: "0771234567"},
	})
	require.NoError(t, err)

	p := resp.Booking.Pricing
	assert.Equal(t, int64(6000), p.DistanceAmountMinor)
	assert.Equal(t, int64(1500), p.NightSurchargeMinor)
	assert.Equal(t, int64(2000), p.AirportSurchargeMinor)
	assert.Equal(t, int64(4000+6000+1500+2000), resp.Booking.TotalMinor)
	assert.Equal(t, "+94771234567", resp.Booking.Contact.Phone)
	assert.Equal(t, pickup.Add(48*time.Hour), resp.Booking.WindowEnd)

	_, err = h.bookings.CreateCarBooking(context.Background(), RequestContext{UserID: uuid.New()}, &models.CarBookingRequest{
		VehicleID:  car.ID.String(),
		PickupAt:   pickup.Add(72 * time.Hour),
		DropoffAt:  pickup.Add(96 * time.Hour),
		Passengers: 5,
		Driver:     models.ContactRequest{Name: "Kasun", Email: "kasun@example.com", Phone: "0771234567"},
	})
	var policy *PolicyViolationError
	require.ErrorAs(t, err, &policy)
	assert.Equal(t, "capacity", policy.Rule)
}

func TestCreateTourBooking(t *testing.T) {
	h := newHarness(t)
	tour := h.addResource(models.VerticalTour,
		models.RateCard{AdultPriceMinor: 5000, ChildPriceMinor: 2500, TaxRate: 0.10},
		models.Capacity{GroupSize: 4},
		models.BookingPolicy{DurationMinutes: 240, MinAdvanceHours: 24})

	contact := models.ContactRequest{Name: "Ama", Email: "ama@example.com", Phone: "+94771234567"}

	resp, err := h.bookings.CreateTourBooking(context.Background(), RequestContext{UserID: uuid.New()}, &models.TourBookingRequest{
		TourID:    tour.ID.String(),
		Date:      "2025-06-10",
		StartTime: "08:30",
		Adults:    2,
		Children:  1,
		Infants:   1,
		Contact:   contact,
	})
	require.NoError(t, err)
	start := time.Date(2025, 6, 10, 8, 30, 0, 0, time.UTC)
	assert.Equal(t, start, resp.Booking.WindowStart)
	assert.Equal(t, start.Add(4*time.Hour), resp.Booking.WindowEnd)
	assert.Equal(t, int64(13750), resp.Booking.TotalMinor)

	_, err = h.bookings.CreateTourBooking(context.Background(), RequestContext{UserID: uuid.New()}, &models.TourBookingRequest{
		TourID:    tour.ID.String(),
		Date:      "2025-06-11",
		StartTime: "08:30",
		Adults:    4,
		Children:  1,
		Contact:   contact,
	})
	var policy *PolicyViolationError
	require.ErrorAs(t, err, &policy)
	assert.Equal(t, "capacity", policy.Rule)

	_, err = h.bookings.CreateTourBooking(context.Background(), RequestContext{UserID: uuid.New()}, &models.TourBookingRequest{
		TourID:    tour.ID.String(),
		Date:      "2025-05-20",
		StartTime: "18:00",
		Adults:    1,
		Contact:   contact,
	})
	require.ErrorAs(t, err, &policy)
	assert.Equal(t, "min_advance", policy.Rule)
}

func TestCreateTransferBooking(t *testing.T) {
	h := newHarness(t)
	van := h.addResource(models.VerticalTransfer,
		models.RateCard{BasePriceMinor: 3000, PricePerKmMinor: 100, AirportSurchargeMinor: 1000},
		models.Capacity{Passengers: 6, Luggage: 4},
		models.BookingPolicy{})

	flight := " UL 504 "
	pickup := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	resp, err := h.bookings.CreateTransferBooking(context.Background(), RequestContext{UserID: uuid.New()}, &models.TransferBookingRequest{
		VehicleID:       van.ID.String(),
		PickupAt:        pickup,
		DistanceKm:      34.5,
		AirportTransfer: true,
		Passengers:      4,
		Luggage:         4,
		FlightNumber:    &flight,
		Passenger:       models.ContactRequest{Name: "Dilan", Email: "dilan@example.com", Phone: "+94771234567"},
	})
	require.NoError(t, err)
	assert.Equal(t, pickup.Add(defaultTransferDuration), resp.Booking.WindowEnd)
	assert.Equal(t, int64(3000+3450+1000), resp.Booking.TotalMinor)
	assert.Equal(t, "UL 504", h.gateway.calls[0].Metadata["flight_number"])

	_, err = h.bookings.CreateTransferBooking(context.Background(), RequestContext{UserID: uuid.New()}, &models.TransferBookingRequest{
		VehicleID:  van.ID.String(),
		PickupAt:   pickup.Add(24 * time.Hour),
		Passengers: 2,
		Luggage:    5,
		Passenger:  models.ContactRequest{Name: "Dilan", Email: "dilan@example.com", Phone: "+94771234567"},
	})
	var policy *PolicyViolationError
	require.ErrorAs(t, err, &policy)
	assert.Contains(t, policy.Message, "bags")
}

func TestGetBooking_OwnerOnly(t *testing.T) {
	h := newHarness(t)
	b, owner := h.bookHotel(t)

	got, err := h.bookings.GetBooking(context.Background(), b.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	_, err = h.bookings.GetBooking(context.Background(), b.ID, uuid.New())
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)

	list, err := h.bookings.ListUserBookings(context.Background(), owner, 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCheckAvailability(t *testing.T) {
	h := newHarness(t)
	b, _ := h.bookHotel(t)

	result, err := h.availability.CheckAvailability(context.Background(), b.ResourceID, b.WindowStart.Add(24*time.Hour), b.WindowEnd.Add(24*time.Hour))
	require.NoError(t, err)
	assert.False(t, result.Available)
	assert.Equal(t, []uuid.UUID{b.ID}, result.ConflictingBookingIDs)

	result, err = h.availability.CheckAvailability(context.Background(), b.ResourceID, b.WindowEnd, b.WindowEnd.Add(48*time.Hour))
	require.NoError(t, err)
	assert.True(t, result.Available)
	assert.Empty(t, result.ConflictingBookingIDs)

	_, err = h.availability.CheckAvailability(context.Background(), b.ResourceID, b.WindowEnd, b.WindowStart)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = h.availability.CheckAvailability(context.Background(), uuid.New(), b.WindowStart, b.WindowEnd)
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}
