package models

import (
	"database/sql/driver"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// BOOKING STATUSES (matches DB CHECK constraints)
// ============================================================================

// BookingStatus represents the lifecycle state of a booking
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"   // Created with a payment intent, slot held
	BookingStatusConfirmed BookingStatus = "confirmed" // Payment succeeded (webhook)
	BookingStatusCancelled BookingStatus = "cancelled" // Cancelled by provider or partner
	BookingStatusRefunded  BookingStatus = "refunded"  // Confirmed then refunded
	BookingStatusCompleted BookingStatus = "completed" // Stay/ride finished
	BookingStatusExpired   BookingStatus = "expired"   // Never paid within the pending TTL
)

// HoldsSlot reports whether a booking in this status blocks its window
func (s BookingStatus) HoldsSlot() bool {
	return s == BookingStatusPending || s == BookingStatusConfirmed
}

// PaymentStatus represents the payment state attached to a booking
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// ============================================================================
// JSONB PAYLOAD TYPES
// ============================================================================

// PartyComposition describes who is travelling
type PartyComposition struct {
	Adults     int `json:"adults"`
	Children   int `json:"children"`
	Infants    int `json:"infants"`
	Passengers int `json:"passengers,omitempty"`
	Luggage    int `json:"luggage,omitempty"`
}

// Guests is the number of people counted against per-guest pricing
func (p PartyComposition) Guests() int {
	return p.Adults + p.Children
}

// ContactInfo holds the lead guest's contact details
type ContactInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// PricingBreakdown is the itemized price computed at booking time.
// All amounts are in minor currency units.
type PricingBreakdown struct {
	Units                 int       `json:"units"` // nights, trips or participants
	BaseAmountMinor       int64     `json:"base_amount_minor"`
	DistanceAmountMinor   int64     `json:"distance_amount_minor,omitempty"`
	TaxMinor              int64     `json:"tax_minor"`
	CleaningFeeMinor      int64     `json:"cleaning_fee_minor,omitempty"`
	ExtraGuestFeeMinor    int64     `json:"extra_guest_fee_minor,omitempty"`
	AirportSurchargeMinor int64     `json:"airport_surcharge_minor,omitempty"`
	NightSurchargeMinor   int64     `json:"night_surcharge_minor,omitempty"`
	TotalMinor            int64     `json:"total_minor"`
	Currency              string    `json:"currency"`
	CalculatedAt          time.Time `json:"calculated_at"`
}

// ItemsSum adds every line item except the total
func (p PricingBreakdown) ItemsSum() int64 {
	return p.BaseAmountMinor + p.DistanceAmountMinor + p.TaxMinor + p.CleaningFeeMinor +
		p.ExtraGuestFeeMinor + p.AirportSurchargeMinor + p.NightSurchargeMinor
}

// Validate checks the total matches the line items
func (p PricingBreakdown) Validate() error {
	if p.TotalMinor != p.ItemsSum() {
		return errors.New("pricing total does not equal the sum of its items")
	}
	if p.TotalMinor <= 0 {
		return errors.New("pricing total must be positive")
	}
	if p.Currency == "" {
		return errors.New("pricing currency is required")
	}
	return nil
}

func (p PartyComposition) Value() (driver.Value, error) {
	return jsonValue(p)
}

func (p *PartyComposition) Scan(value interface{}) error {
	if value == nil {
		*p = PartyComposition{}
		return nil
	}
	return scanJSON(value, p, "PartyComposition")
}

func (c ContactInfo) Value() (driver.Value, error) {
	return jsonValue(c)
}

func (c *ContactInfo) Scan(value interface{}) error {
	if value == nil {
		*c = ContactInfo{}
		return nil
	}
	return scanJSON(value, c, "ContactInfo")
}

func (p PricingBreakdown) Value() (driver.Value, error) {
	return jsonValue(p)
}

func (p *PricingBreakdown) Scan(value interface{}) error {
	if value == nil {
		*p = PricingBreakdown{}
		return nil
	}
	return scanJSON(value, p, "PricingBreakdown")
}

// ============================================================================
// BOOKING MODEL (bookings table)
// ============================================================================

// Booking is a reservation of one resource for one window
type Booking struct {
	ID         uuid.UUID `json:"id" db:"id"`
	Vertical   Vertical  `json:"vertical" db:"vertical"`
	ResourceID uuid.UUID `json:"resource_id" db:"resource_id"`
	UserID     uuid.UUID `json:"user_id" db:"user_id"`

	WindowStart time.Time `json:"window_start" db:"window_start"`
	WindowEnd   time.Time `json:"window_end" db:"window_end"`

	Party   PartyComposition `json:"party" db:"party"`
	Contact ContactInfo      `json:"contact" db:"contact"`

	// Pricing snapshot, never recomputed after the payment intent exists
	Pricing    PricingBreakdown `json:"pricing" db:"pricing"`
	TotalMinor int64            `json:"total_minor" db:"total_minor"`
	Currency   string           `json:"currency" db:"currency"`

	// Payment tracking
	PaymentIntentID string        `json:"payment_intent_id" db:"payment_intent_id"`
	PaymentStatus   PaymentStatus `json:"payment_status" db:"payment_status"`
	Status          BookingStatus `json:"status" db:"status"`

	// Partner referral data
	PartnerReference *string `json:"partner_reference,omitempty" db:"partner_reference"`
	CommissionMinor  int64   `json:"commission_minor" db:"commission_minor"`

	SpecialRequests *string    `json:"special_requests,omitempty" db:"special_requests"`
	HoldID          *uuid.UUID `json:"hold_id,omitempty" db:"hold_id"`
	ClientDevice    *string    `json:"client_device,omitempty" db:"client_device"`

	ExpiresAt    time.Time  `json:"expires_at" db:"expires_at"`
	ConfirmedAt  *time.Time `json:"confirmed_at,omitempty" db:"confirmed_at"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CancelReason *string    `json:"cancel_reason,omitempty" db:"cancel_reason"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// IsExpired checks if a pending booking has passed its TTL
func (b *Booking) IsExpired(now time.Time) bool {
	return b.Status == BookingStatusPending && now.After(b.ExpiresAt)
}

// ============================================================================
// RESOURCE HOLD MODEL (resource_holds table)
// ============================================================================

// HoldStatus represents the state of a resource hold
type HoldStatus string

const (
	HoldStatusActive    HoldStatus = "active"
	HoldStatusConverted HoldStatus = "converted" // booking confirmed, the booking row now blocks the slot
	HoldStatusReleased  HoldStatus = "released"
)

// ResourceHold is a short-lived lock on (resource, window) taken atomically
// with the availability check
type ResourceHold struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	ResourceID  uuid.UUID  `json:"resource_id" db:"resource_id"`
	UserID      uuid.UUID  `json:"user_id" db:"user_id"`
	BookingID   *uuid.UUID `json:"booking_id,omitempty" db:"booking_id"`
	WindowStart time.Time  `json:"window_start" db:"window_start"`
	WindowEnd   time.Time  `json:"window_end" db:"window_end"`
	Status      HoldStatus `json:"status" db:"status"`
	ExpiresAt   time.Time  `json:"expires_at" db:"expires_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	ReleasedAt  *time.Time `json:"released_at,omitempty" db:"released_at"`
}

// SlotConflict is an existing booking or unconverted hold overlapping a window
type SlotConflict struct {
	BookingID   *uuid.UUID `json:"booking_id,omitempty" db:"booking_id"`
	HoldID      *uuid.UUID `json:"hold_id,omitempty" db:"hold_id"`
	WindowStart time.Time  `json:"window_start" db:"window_start"`
	WindowEnd   time.Time  `json:"window_end" db:"window_end"`
}

// ============================================================================
// REQUEST/RESPONSE STRUCTS
// ============================================================================

// ContactRequest is the lead guest block shared by every booking request
type ContactRequest struct {
	Name  string `json:"name" binding:"required,max=120"`
	Email string `json:"email" binding:"required,email"`
	Phone string `json:"phone" binding:"required"`
}

// HotelBookingRequest books a room for a stay
type HotelBookingRequest struct {
	RoomID          string         `json:"room_id" binding:"required,uuid"`
	CheckIn         string         `json:"check_in" binding:"required"`  // "2006-01-02"
	CheckOut        string         `json:"check_out" binding:"required"` // "2006-01-02"
	Adults          int            `json:"adults" binding:"required,min=1"`
	Children        int            `json:"children" binding:"min=0"`
	Infants         int            `json:"infants" binding:"min=0"`
	Guest           ContactRequest `json:"guest" binding:"required"`
	SpecialRequests *string        `json:"special_requests,omitempty" binding:"omitempty,max=1000"`
}

// CarBookingRequest books a vehicle from pickup to drop-off
type CarBookingRequest struct {
	VehicleID       string         `json:"vehicle_id" binding:"required,uuid"`
	PickupAt        time.Time      `json:"pickup_at" binding:"required"`
	DropoffAt       time.Time      `json:"dropoff_at" binding:"required"`
	DistanceKm      float64        `json:"distance_km" binding:"min=0"`
	AirportPickup   bool           `json:"airport_pickup"`
	Passengers      int            `json:"passengers" binding:"required,min=1"`
	Driver          ContactRequest `json:"driver" binding:"required"`
	SpecialRequests *string        `json:"special_requests,omitempty" binding:"omitempty,max=1000"`
}

// TourBookingRequest books places on a tour departure
type TourBookingRequest struct {
	TourID          string         `json:"tour_id" binding:"required,uuid"`
	Date            string         `json:"date" binding:"required"`       // "2006-01-02"
	StartTime       string         `json:"start_time" binding:"required"` // "15:04"
	Adults          int            `json:"adults" binding:"required,min=1"`
	Children        int            `json:"children" binding:"min=0"`
	Infants         int            `json:"infants" binding:"min=0"`
	Contact         ContactRequest `json:"contact" binding:"required"`
	SpecialRequests *string        `json:"special_requests,omitempty" binding:"omitempty,max=1000"`
}

// TransferBookingRequest books a point-to-point ride
type TransferBookingRequest struct {
	VehicleID       string         `json:"vehicle_id" binding:"required,uuid"`
	PickupAt        time.Time      `json:"pickup_at" binding:"required"`
	DistanceKm      float64        `json:"distance_km" binding:"min=0"`
	AirportTransfer bool           `json:"airport_transfer"`
	Passengers      int            `json:"passengers" binding:"required,min=1"`
	Luggage         int            `json:"luggage" binding:"min=0"`
	FlightNumber    *string        `json:"flight_number,omitempty" binding:"omitempty,max=16"`
	Passenger       ContactRequest `json:"passenger" binding:"required"`
	SpecialRequests *string        `json:"special_requests,omitempty" binding:"omitempty,max=1000"`
}

// PaymentIntentInfo is the client-facing part of a payment intent
type PaymentIntentInfo struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	AmountMinor  int64  `json:"amount_minor"`
	Currency     string `json:"currency"`
}

// CreateBookingResponse is returned with HTTP 201 after a booking is created
type CreateBookingResponse struct {
	Booking       *Booking          `json:"booking"`
	PaymentIntent PaymentIntentInfo `json:"payment_intent"`
	TTLSeconds    int               `json:"ttl_seconds"`
}

// AvailabilityResponse is returned by the availability endpoint
type AvailabilityResponse struct {
	ResourceID            uuid.UUID   `json:"resource_id"`
	WindowStart           time.Time   `json:"window_start"`
	WindowEnd             time.Time   `json:"window_end"`
	Available             bool        `json:"available"`
	ConflictingBookingIDs []uuid.UUID `json:"conflicting_booking_ids"`
}
