package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/settlement-backend/internal/clock"
	"github.com/tripmarket/settlement-backend/internal/database"
	"github.com/tripmarket/settlement-backend/internal/metrics"
	"github.com/tripmarket/settlement-backend/internal/models"
	"github.com/tripmarket/settlement-backend/pkg/validator"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04"

	// Hotel windows run from check-in afternoon to check-out morning so a
	// stay can start the day another ends
	hotelCheckInHour  = 14
	hotelCheckOutHour = 11

	defaultTourDuration     = 3 * time.Hour
	defaultTransferDuration = 90 * time.Minute
)

// BookingOptions holds pipeline settings
type BookingOptions struct {
	PendingTTL      time.Duration
	DefaultCurrency string
}

// RequestContext identifies who is booking
type RequestContext struct {
	UserID       uuid.UUID
	ClientDevice string
}

// BookingService creates pending bookings with a payment intent for every vertical
type BookingService struct {
	tx           TxRunner
	resources    ResourceStore
	bookings     BookingStore
	holds        HoldStore
	availability *AvailabilityService
	gateway      PaymentGateway
	publisher    EventPublisher
	phones       *validator.PhoneValidator
	metrics      *metrics.Metrics
	clock        clock.Clock
	logger       *logrus.Logger
	opts         BookingOptions
}

// NewBookingService creates a new BookingService
func NewBookingService(
	tx TxRunner,
	resources ResourceStore,
	bookings BookingStore,
	holds HoldStore,
	availability *AvailabilityService,
	gateway PaymentGateway,
	publisher EventPublisher,
	phones *validator.PhoneValidator,
	m *metrics.Metrics,
	clk clock.Clock,
	logger *logrus.Logger,
	opts BookingOptions,
) *BookingService {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = 30 * time.Minute
	}
	return &BookingService{
		tx:           tx,
		resources:    resources,
		bookings:     bookings,
		holds:        holds,
		availability: availability,
		gateway:      gateway,
		publisher:    publisher,
		phones:       phones,
		metrics:      m,
		clock:        clk,
		logger:       logger,
		opts:         opts,
	}
}

// bookingDraft is a validated request, ready for the shared pipeline
type bookingDraft struct {
	vertical        models.Vertical
	resourceID      uuid.UUID
	userID          uuid.UUID
	start, end      time.Time
	party           models.PartyComposition
	contact         models.ContactInfo
	specialRequests *string
	clientDevice    *string
	intentMetadata  map[string]string

	checkPolicy func(res *models.Resource) error
	price       func(card models.RateCard, currency string, now time.Time) (models.PricingBreakdown, error)
}

// ============================================================================
// VERTICALS
// ============================================================================

// CreateHotelBooking books a room from check-in to check-out
func (s *BookingService) CreateHotelBooking(ctx context.Context, rc RequestContext, req *models.HotelBookingRequest) (*models.CreateBookingResponse, error) {
	verr := &ValidationError{}
	roomID := parseID(verr, "room_id", req.RoomID)
	checkIn := parseDate(verr, "check_in", req.CheckIn)
	checkOut := parseDate(verr, "check_out", req.CheckOut)
	if !checkIn.IsZero() && !checkOut.IsZero() && !checkOut.After(checkIn) {
		verr.Add("check_out", "must be after check_in")
	}
	validateParty(verr, req.Adults, req.Children, req.Infants)
	contact := s.validateContact(verr, "guest", req.Guest)
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	nights := int(checkOut.Sub(checkIn).Hours() / 24)
	party := models.PartyComposition{Adults: req.Adults, Children: req.Children, Infants: req.Infants}

	d := &bookingDraft{
		vertical:        models.VerticalHotel,
		resourceID:      roomID,
		start:           checkIn.Add(hotelCheckInHour * time.Hour),
		end:             checkOut.Add(hotelCheckOutHour * time.Hour),
		party:           party,
		contact:         contact,
		specialRequests: trimmedOrNil(req.SpecialRequests),
		checkPolicy: func(res *models.Resource) error {
			if err := checkGuestCapacity(res.Capacity, party); err != nil {
				return err
			}
			return checkStayLength(res.Policy, nights, "nights")
		},
		price: func(card models.RateCard, currency string, now time.Time) (models.PricingBreakdown, error) {
			return ComputeHotelPrice(HotelPriceInput{
				RateCard:     card,
				Currency:     currency,
				Nights:       nights,
				Party:        party,
				CalculatedAt: now,
			})
		},
	}
	return s.create(ctx, rc, d)
}

// CreateCarBooking books a vehicle from pickup to drop-off
func (s *BookingService) CreateCarBooking(ctx context.Context, rc RequestContext, req *models.CarBookingRequest) (*models.CreateBookingResponse, error) {
	verr := &ValidationError{}
	vehicleID := parseID(verr, "vehicle_id", req.VehicleID)
	if req.PickupAt.IsZero() {
		verr.Add("pickup_at", "is required")
	}
	if req.DropoffAt.IsZero() {
		verr.Add("dropoff_at", "is required")
	} else if !req.DropoffAt.After(req.PickupAt) {
		verr.Add("dropoff_at", "must be after pickup_at")
	}
	validateDistance(verr, req.DistanceKm)
	if req.Passengers < 1 {
		verr.Add("passengers", "must be at least 1")
	}
	contact := s.validateContact(verr, "driver", req.Driver)
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	rentalDays := int(math.Ceil(req.DropoffAt.Sub(req.PickupAt).Hours() / 24))
	party := models.PartyComposition{Adults: req.Passengers, Passengers: req.Passengers}

	d := &bookingDraft{
		vertical:        models.VerticalCar,
		resourceID:      vehicleID,
		start:           req.PickupAt,
		end:             req.DropoffAt,
		party:           party,
		contact:         contact,
		specialRequests: trimmedOrNil(req.SpecialRequests),
		checkPolicy: func(res *models.Resource) error {
			if err := checkPassengerCapacity(res.Capacity, req.Passengers, 0); err != nil {
				return err
			}
			return checkStayLength(res.Policy, rentalDays, "rental days")
		},
		price: func(card models.RateCard, currency string, now time.Time) (models.PricingBreakdown, error) {
			return ComputeTransportPrice(TransportPriceInput{
				RateCard:      card,
				Currency:      currency,
				DistanceKm:    req.DistanceKm,
				AirportPickup: req.AirportPickup,
				PickupAt:      req.PickupAt,
				CalculatedAt:  now,
			})
		},
	}
	return s.create(ctx, rc, d)
}

// CreateTourBooking books places on a tour departure
func (s *BookingService) CreateTourBooking(ctx context.Context, rc RequestContext, req *models.TourBookingRequest) (*models.CreateBookingResponse, error) {
	verr := &ValidationError{}
	tourID := parseID(verr, "tour_id", req.TourID)
	departure, err := time.Parse(dateTimeLayout, strings.TrimSpace(req.Date)+" "+strings.TrimSpace(req.StartTime))
	if err != nil {
		verr.Add("start_time", "date must be YYYY-MM-DD and start_time HH:MM")
	}
	validateParty(verr, req.Adults, req.Children, req.Infants)
	contact := s.validateContact(verr, "contact", req.Contact)
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	party := models.PartyComposition{Adults: req.Adults, Children: req.Children, Infants: req.Infants}

	d := &bookingDraft{
		vertical:        models.VerticalTour,
		resourceID:      tourID,
		start:           departure,
		party:           party,
		contact:         contact,
		specialRequests: trimmedOrNil(req.SpecialRequests),
		checkPolicy: func(res *models.Resource) error {
			if res.Capacity.GroupSize > 0 && party.Guests() > res.Capacity.GroupSize {
				return &PolicyViolationError{
					Rule:    "capacity",
					Message: fmt.Sprintf("group of %d exceeds the tour limit of %d", party.Guests(), res.Capacity.GroupSize),
				}
			}
			return checkGuestCapacity(res.Capacity, party)
		},
		price: func(card models.RateCard, currency string, now time.Time) (models.PricingBreakdown, error) {
			return ComputeTourPrice(TourPriceInput{
				RateCard:     card,
				Currency:     currency,
				Party:        party,
				CalculatedAt: now,
			})
		},
	}
	d.endFromPolicy(defaultTourDuration)
	return s.create(ctx, rc, d)
}

// CreateTransferBooking books a point-to-point ride
func (s *BookingService) CreateTransferBooking(ctx context.Context, rc RequestContext, req *models.TransferBookingRequest) (*models.CreateBookingResponse, error) {
	verr := &ValidationError{}
	vehicleID := parseID(verr, "vehicle_id", req.VehicleID)
	if req.PickupAt.IsZero() {
		verr.Add("pickup_at", "is required")
	}
	validateDistance(verr, req.DistanceKm)
	if req.Passengers < 1 {
		verr.Add("passengers", "must be at least 1")
	}
	if req.Luggage < 0 {
		verr.Add("luggage", "must not be negative")
	}
	contact := s.validateContact(verr, "passenger", req.Passenger)
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	party := models.PartyComposition{Adults: req.Passengers, Passengers: req.Passengers, Luggage: req.Luggage}

	d := &bookingDraft{
		vertical:        models.VerticalTransfer,
		resourceID:      vehicleID,
		start:           req.PickupAt,
		party:           party,
		contact:         contact,
		specialRequests: trimmedOrNil(req.SpecialRequests),
		checkPolicy: func(res *models.Resource) error {
			return checkPassengerCapacity(res.Capacity, req.Passengers, req.Luggage)
		},
		price: func(card models.RateCard, currency string, now time.Time) (models.PricingBreakdown, error) {
			return ComputeTransportPrice(TransportPriceInput{
				RateCard:      card,
				Currency:      currency,
				DistanceKm:    req.DistanceKm,
				AirportPickup: req.AirportTransfer,
				PickupAt:      req.PickupAt,
				CalculatedAt:  now,
			})
		},
	}
	if req.FlightNumber != nil && strings.TrimSpace(*req.FlightNumber) != "" {
		d.intentMetadata = map[string]string{"flight_number": strings.TrimSpace(*req.FlightNumber)}
	}
	d.endFromPolicy(defaultTransferDuration)
	return s.create(ctx, rc, d)
}

// endFromPolicy sets the window end from the resource's slot duration once
// the resource is loaded
func (d *bookingDraft) endFromPolicy(fallback time.Duration) {
	d.end = time.Time{}
	checkPolicy := d.checkPolicy
	d.checkPolicy = func(res *models.Resource) error {
		duration := fallback
		if res.Policy.DurationMinutes > 0 {
			duration = time.Duration(res.Policy.DurationMinutes) * time.Minute
		}
		d.end = d.start.Add(duration)
		return checkPolicy(res)
	}
}

// ============================================================================
// SHARED PIPELINE
// ============================================================================

// create runs resolve -> policy -> hold (availability) -> price -> payment
// intent -> persist. Nothing is committed before the hold, and the hold is
// released when a later step fails.
func (s *BookingService) create(ctx context.Context, rc RequestContext, d *bookingDraft) (*models.CreateBookingResponse, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "booking.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.vertical", string(d.vertical)),
		attribute.String("resource.id", d.resourceID.String()),
	)

	d.userID = rc.UserID
	if rc.ClientDevice != "" {
		device := rc.ClientDevice
		d.clientDevice = &device
	}

	resp, err := s.run(ctx, d)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("booking.id", resp.Booking.ID.String()))
	return resp, nil
}

func (s *BookingService) run(ctx context.Context, d *bookingDraft) (*models.CreateBookingResponse, error) {
	now := s.clock.Now()
	logger := s.logger.WithFields(logrus.Fields{
		"vertical":    d.vertical,
		"resource_id": d.resourceID,
		"user_id":     d.userID,
	})

	// Resolve
	res, err := s.resources.GetResource(ctx, d.resourceID)
	if err != nil {
		return nil, err
	}
	if res == nil || res.Vertical != d.vertical {
		return nil, &NotFoundError{Kind: string(d.vertical), ID: d.resourceID.String()}
	}
	if !res.IsActive {
		return nil, &ResourceInactiveError{ResourceID: res.ID}
	}

	// Policy, before any availability work
	if err := d.checkPolicy(res); err != nil {
		return nil, err
	}
	if err := checkAdvanceWindow(res.Policy, d.start, now); err != nil {
		return nil, err
	}

	// Availability + hold, atomically under the resource lock
	hold, err := s.acquireHold(ctx, d, now)
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			s.metrics.BookingConflict(string(d.vertical))
			logger.WithField("conflicts", len(conflict.Conflicts)).Info("Booking window unavailable")
		}
		return nil, err
	}

	// Price
	currency := res.Currency
	if currency == "" {
		currency = s.opts.DefaultCurrency
	}
	pricing, err := d.price(res.RateCard, currency, now)
	if err != nil {
		s.releaseHold(ctx, hold.ID)
		return nil, fmt.Errorf("failed to price %s %s: %w", d.vertical, d.resourceID, err)
	}

	// Payment intent
	bookingID := uuid.New()
	metadata := map[string]string{
		"booking_id":   bookingID.String(),
		"vertical":     string(d.vertical),
		"resource_id":  d.resourceID.String(),
		"user_id":      d.userID.String(),
		"window_start": d.start.UTC().Format(time.RFC3339),
		"window_end":   d.end.UTC().Format(time.RFC3339),
	}
	for k, v := range d.intentMetadata {
		metadata[k] = v
	}

	started := time.Now()
	intent, err := s.gateway.CreatePaymentIntent(ctx, CreateIntentParams{
		AmountMinor:    pricing.TotalMinor,
		Currency:       pricing.Currency,
		Description:    fmt.Sprintf("%s booking %s", d.vertical, bookingID),
		Metadata:       metadata,
		IdempotencyKey: bookingID.String(),
	})
	s.metrics.ObserveGateway(started)
	var mismatch *IntentMismatchError
	if errors.As(err, &mismatch) {
		s.releaseHold(ctx, hold.ID)
		s.metrics.Inconsistency("payment_intent_amount_mismatch")
		logger.WithError(err).WithFields(logrus.Fields{
			"reconcile":         true,
			"booking_id":        bookingID,
			"payment_intent_id": mismatch.Intent.ID,
			"amount_minor":      pricing.TotalMinor,
			"currency":          pricing.Currency,
		}).Error("Payment intent created with the wrong amount")
		return nil, &InconsistencyError{
			Kind:            "payment_intent_amount_mismatch",
			BookingID:       bookingID,
			PaymentIntentID: mismatch.Intent.ID,
			Detail: fmt.Sprintf("payment intent %s was created for %d %s, expected %d %s",
				mismatch.Intent.ID, mismatch.Intent.AmountMinor, mismatch.Intent.Currency, pricing.TotalMinor, pricing.Currency),
			Err: err,
		}
	}
	if err != nil {
		s.releaseHold(ctx, hold.ID)
		logger.WithError(err).WithFields(logrus.Fields{
			"booking_id":   bookingID,
			"amount_minor": pricing.TotalMinor,
			"currency":     pricing.Currency,
		}).Error("Payment intent creation failed")
		return nil, &PaymentGatewayError{Op: "create_payment_intent", Err: err}
	}

	// Persist
	booking := &models.Booking{
		ID:              bookingID,
		Vertical:        d.vertical,
		ResourceID:      d.resourceID,
		UserID:          d.userID,
		WindowStart:     d.start,
		WindowEnd:       d.end,
		Party:           d.party,
		Contact:         d.contact,
		Pricing:         pricing,
		TotalMinor:      pricing.TotalMinor,
		Currency:        pricing.Currency,
		PaymentIntentID: intent.ID,
		PaymentStatus:   models.PaymentStatusPending,
		Status:          models.BookingStatusPending,
		SpecialRequests: d.specialRequests,
		HoldID:          &hold.ID,
		ClientDevice:    d.clientDevice,
		ExpiresAt:       now.Add(s.opts.PendingTTL),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.bookings.CreateBooking(ctx, booking); err != nil {
			return err
		}
		return s.holds.LinkBooking(ctx, hold.ID, booking.ID)
	})
	if err != nil {
		inconsistency := &InconsistencyError{
			Kind:            "orphaned_payment_intent",
			BookingID:       bookingID,
			PaymentIntentID: intent.ID,
			Detail:          fmt.Sprintf("payment intent %s was created but the booking was not saved", intent.ID),
			Err:             err,
		}
		if errors.Is(err, database.ErrSlotTaken) {
			inconsistency.Kind = "slot_taken_after_hold"
		}
		s.metrics.Inconsistency(inconsistency.Kind)
		logger.WithError(err).WithFields(logrus.Fields{
			"reconcile":         true,
			"booking_id":        bookingID,
			"payment_intent_id": intent.ID,
			"amount_minor":      pricing.TotalMinor,
			"currency":          pricing.Currency,
			"window_start":      d.start,
			"window_end":        d.end,
		}).Error("Booking persistence failed after payment intent creation")
		s.releaseHold(ctx, hold.ID)
		return nil, inconsistency
	}

	s.metrics.BookingCreated(string(d.vertical))
	logger.WithFields(logrus.Fields{
		"booking_id":        booking.ID,
		"payment_intent_id": intent.ID,
		"amount_minor":      booking.TotalMinor,
		"currency":          booking.Currency,
	}).Info("Pending booking created")

	if err := s.publisher.PublishJSON(ctx, EventKeyBookingCreated, newBookingEvent(booking, now)); err != nil {
		logger.WithError(err).WithField("booking_id", booking.ID).Warn("Failed to publish booking created event")
	}

	return &models.CreateBookingResponse{
		Booking: booking,
		PaymentIntent: models.PaymentIntentInfo{
			ID:           intent.ID,
			ClientSecret: intent.ClientSecret,
			AmountMinor:  pricing.TotalMinor,
			Currency:     pricing.Currency,
		},
		TTLSeconds: int(s.opts.PendingTTL.Seconds()),
	}, nil
}

// acquireHold locks the resource, checks availability and inserts a hold in
// one transaction, so two requests for overlapping windows cannot both pass
func (s *BookingService) acquireHold(ctx context.Context, d *bookingDraft, now time.Time) (*models.ResourceHold, error) {
	var hold *models.ResourceHold

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		res, err := s.resources.GetResourceForUpdate(ctx, d.resourceID)
		if err != nil {
			return err
		}
		if res == nil {
			return &NotFoundError{Kind: string(d.vertical), ID: d.resourceID.String()}
		}
		if !res.IsActive {
			return &ResourceInactiveError{ResourceID: res.ID}
		}

		result, err := s.availability.findConflicts(ctx, d.resourceID, d.start, d.end)
		if err != nil {
			return err
		}
		if !result.Available {
			return &ConflictError{ResourceID: d.resourceID, Conflicts: result.Conflicts}
		}

		hold = &models.ResourceHold{
			ID:          uuid.New(),
			ResourceID:  d.resourceID,
			UserID:      d.userID,
			WindowStart: d.start,
			WindowEnd:   d.end,
			Status:      models.HoldStatusActive,
			ExpiresAt:   now.Add(s.opts.PendingTTL),
			CreatedAt:   now,
		}
		return s.holds.CreateHold(ctx, hold)
	})
	if err != nil {
		return nil, err
	}
	return hold, nil
}

func (s *BookingService) releaseHold(ctx context.Context, holdID uuid.UUID) {
	if err := s.holds.ReleaseHold(context.WithoutCancel(ctx), holdID, s.clock.Now()); err != nil {
		s.logger.WithError(err).WithField("hold_id", holdID).Error("Failed to release hold, the reaper will release it at TTL")
	}
}

// ============================================================================
// READS
// ============================================================================

// GetBooking returns one of the user's bookings
func (s *BookingService) GetBooking(ctx context.Context, id, userID uuid.UUID) (*models.Booking, error) {
	booking, err := s.bookings.GetBookingByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if booking == nil || booking.UserID != userID {
		return nil, &NotFoundError{Kind: "booking", ID: id.String()}
	}
	return booking, nil
}

// ListUserBookings returns the user's bookings, newest first
func (s *BookingService) ListUserBookings(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Booking, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.bookings.ListBookingsByUser(ctx, userID, limit, offset)
}

// ============================================================================
// VALIDATION HELPERS
// ============================================================================

func parseID(verr *ValidationError, field, value string) uuid.UUID {
	id, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		verr.Add(field, "must be a valid UUID")
		return uuid.Nil
	}
	return id
}

func parseDate(verr *ValidationError, field, value string) time.Time {
	t, err := time.Parse(dateLayout, strings.TrimSpace(value))
	if err != nil {
		verr.Add(field, "must be a date in YYYY-MM-DD format")
		return time.Time{}
	}
	return t
}

func validateParty(verr *ValidationError, adults, children, infants int) {
	if adults < 1 {
		verr.Add("adults", "must be at least 1")
	}
	if children < 0 {
		verr.Add("children", "must not be negative")
	}
	if infants < 0 {
		verr.Add("infants", "must not be negative")
	}
}

func validateDistance(verr *ValidationError, km float64) {
	if km < 0 || math.IsNaN(km) || math.IsInf(km, 0) {
		verr.Add("distance_km", "must not be negative")
	}
}

func (s *BookingService) validateContact(verr *ValidationError, prefix string, c models.ContactRequest) models.ContactInfo {
	info := models.ContactInfo{
		Name:  strings.TrimSpace(c.Name),
		Email: strings.TrimSpace(c.Email),
	}
	if info.Name == "" {
		verr.Add(prefix+".name", "is required")
	}
	if info.Email == "" {
		verr.Add(prefix+".email", "is required")
	} else if addr, err := mail.ParseAddress(info.Email); err != nil || addr.Address != info.Email {
		verr.Add(prefix+".email", "must be a valid email address")
	}

	phone, err := s.phones.Validate(c.Phone)
	if err != nil {
		verr.Add(prefix+".phone", err.Error())
	}
	info.Phone = phone
	return info
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// ============================================================================
// POLICY HELPERS
// ============================================================================

// checkGuestCapacity applies adult and child limits. A capacity with neither
// set does not restrict guests.
func checkGuestCapacity(c models.Capacity, party models.PartyComposition) error {
	if c.Adults == 0 && c.Children == 0 {
		return nil
	}
	if party.Adults > c.Adults {
		return &PolicyViolationError{
			Rule:    "capacity",
			Message: fmt.Sprintf("%d adults exceeds the limit of %d", party.Adults, c.Adults),
		}
	}
	if party.Children > c.Children {
		return &PolicyViolationError{
			Rule:    "capacity",
			Message: fmt.Sprintf("%d children exceeds the limit of %d", party.Children, c.Children),
		}
	}
	return nil
}

func checkPassengerCapacity(c models.Capacity, passengers, luggage int) error {
	if c.Passengers > 0 && passengers > c.Passengers {
		return &PolicyViolationError{
			Rule:    "capacity",
			Message: fmt.Sprintf("%d passengers exceeds the limit of %d", passengers, c.Passengers),
		}
	}
	if c.Luggage > 0 && luggage > c.Luggage {
		return &PolicyViolationError{
			Rule:    "capacity",
			Message: fmt.Sprintf("%d bags exceeds the limit of %d", luggage, c.Luggage),
		}
	}
	return nil
}

func checkStayLength(p models.BookingPolicy, units int, unitName string) error {
	minStay := p.MinStay
	if minStay < 1 {
		minStay = 1
	}
	if units < minStay {
		return &PolicyViolationError{
			Rule:    "min_stay",
			Message: fmt.Sprintf("minimum is %d %s", minStay, unitName),
		}
	}
	if p.MaxStay > 0 && units > p.MaxStay {
		return &PolicyViolationError{
			Rule:    "max_stay",
			Message: fmt.Sprintf("maximum is %d %s", p.MaxStay, unitName),
		}
	}
	return nil
}
