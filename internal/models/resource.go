package models

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// VERTICALS
// ============================================================================

// Vertical identifies which product line a resource or booking belongs to
type Vertical string

const (
	VerticalHotel    Vertical = "hotel"
	VerticalCar      Vertical = "car"
	VerticalTour     Vertical = "tour"
	VerticalTransfer Vertical = "transfer"
)

// IsValid reports whether v is a known vertical
func (v Vertical) IsValid() bool {
	switch v {
	case VerticalHotel, VerticalCar, VerticalTour, VerticalTransfer:
		return true
	}
	return false
}

// ============================================================================
// JSONB RATE CARD / CAPACITY / POLICY
// ============================================================================

// RateCard holds the prices of a resource in minor currency units.
// Only the fields relevant to the resource's vertical are populated.
type RateCard struct {
	BasePriceMinor        int64   `json:"base_price_minor"`                  // per night (hotel) or per trip (car, transfer)
	TaxRate               float64 `json:"tax_rate"`                          // 0.10 = 10%
	CleaningFeeMinor      int64   `json:"cleaning_fee_minor,omitempty"`      // hotel, once per stay
	ExtraGuestFeeMinor    int64   `json:"extra_guest_fee_minor,omitempty"`   // hotel, per extra guest per night
	IncludedGuests        int     `json:"included_guests,omitempty"`         // hotel
	PricePerKmMinor       int64   `json:"price_per_km_minor,omitempty"`      // car, transfer
	AirportSurchargeMinor int64   `json:"airport_surcharge_minor,omitempty"` // car, transfer
	NightSurchargeMinor   int64   `json:"night_surcharge_minor,omitempty"`   // car, transfer
	AdultPriceMinor       int64   `json:"adult_price_minor,omitempty"`       // tour
	ChildPriceMinor       int64   `json:"child_price_minor,omitempty"`       // tour
}

// Capacity limits the party a resource can take
type Capacity struct {
	Adults     int `json:"adults,omitempty"`
	Children   int `json:"children,omitempty"`
	Passengers int `json:"passengers,omitempty"`
	Luggage    int `json:"luggage,omitempty"`
	GroupSize  int `json:"group_size,omitempty"`
}

// BookingPolicy holds stay and lead-time rules for a resource
type BookingPolicy struct {
	MinStay         int `json:"min_stay,omitempty"` // nights (hotel) or days (car)
	MaxStay         int `json:"max_stay,omitempty"`
	MinAdvanceHours int `json:"min_advance_hours,omitempty"`
	MaxAdvanceDays  int `json:"max_advance_days,omitempty"`
	DurationMinutes int `json:"duration_minutes,omitempty"` // tour and transfer slot length
}

func (r RateCard) Value() (driver.Value, error) {
	return jsonValue(r)
}

func (r *RateCard) Scan(value interface{}) error {
	if value == nil {
		*r = RateCard{}
		return nil
	}
	return scanJSON(value, r, "RateCard")
}

func (c Capacity) Value() (driver.Value, error) {
	return jsonValue(c)
}

func (c *Capacity) Scan(value interface{}) error {
	if value == nil {
		*c = Capacity{}
		return nil
	}
	return scanJSON(value, c, "Capacity")
}

func (p BookingPolicy) Value() (driver.Value, error) {
	return jsonValue(p)
}

func (p *BookingPolicy) Scan(value interface{}) error {
	if value == nil {
		*p = BookingPolicy{}
		return nil
	}
	return scanJSON(value, p, "BookingPolicy")
}

// ============================================================================
// RESOURCE MODEL (resources table)
// ============================================================================

// Resource is a bookable room, vehicle, tour or transfer vehicle
type Resource struct {
	ID        uuid.UUID     `json:"id" db:"id"`
	Vertical  Vertical      `json:"vertical" db:"vertical"`
	Name      string        `json:"name" db:"name"`
	IsActive  bool          `json:"is_active" db:"is_active"`
	Currency  string        `json:"currency" db:"currency"`
	RateCard  RateCard      `json:"rate_card" db:"rate_card"`
	Capacity  Capacity      `json:"capacity" db:"capacity"`
	Policy    BookingPolicy `json:"policy" db:"policy"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt time.Time     `json:"updated_at" db:"updated_at"`
}
