package services

import (
	"errors"
	"math"
	"time"

	"github.com/tripmarket/settlement-backend/internal/models"
)

// ============================================================================
// PRICING CALCULATOR
// ============================================================================
//
// All functions here are pure. The same inputs always produce the same
// breakdown, so the total shown to the client is the amount charged and the
// amount the settlement webhook is reconciled against.

// Night surcharge window for pickups, in the pickup's local hour
const (
	nightSurchargeFromHour  = 22
	nightSurchargeUntilHour = 6
)

// HotelPriceInput describes a stay
type HotelPriceInput struct {
	RateCard     models.RateCard
	Currency     string
	Nights       int
	Party        models.PartyComposition
	CalculatedAt time.Time
}

// TransportPriceInput describes a car rental or transfer ride
type TransportPriceInput struct {
	RateCard      models.RateCard
	Currency      string
	DistanceKm    float64
	AirportPickup bool
	PickupAt      time.Time
	CalculatedAt  time.Time
}

// TourPriceInput describes places on a tour departure
type TourPriceInput struct {
	RateCard     models.RateCard
	Currency     string
	Party        models.PartyComposition
	CalculatedAt time.Time
}

// ComputeHotelPrice prices a stay:
// room = base * nights, tax = room * taxRate,
// extra guest fee = guests over the included count * fee * nights,
// total = room + tax + cleaning + extra guest fee
func ComputeHotelPrice(in HotelPriceInput) (models.PricingBreakdown, error) {
	if in.Nights <= 0 {
		return models.PricingBreakdown{}, errors.New("nights must be positive")
	}
	if err := checkRateCard(in.RateCard, in.Currency); err != nil {
		return models.PricingBreakdown{}, err
	}

	nights := int64(in.Nights)
	roomPrice := in.RateCard.BasePriceMinor * nights

	var extraGuestFee int64
	if in.RateCard.IncludedGuests > 0 && in.RateCard.ExtraGuestFeeMinor > 0 {
		if extra := in.Party.Guests() - in.RateCard.IncludedGuests; extra > 0 {
			extraGuestFee = int64(extra) * in.RateCard.ExtraGuestFeeMinor * nights
		}
	}

	p := models.PricingBreakdown{
		Units:              in.Nights,
		BaseAmountMinor:    roomPrice,
		TaxMinor:           applyRate(roomPrice, in.RateCard.TaxRate),
		CleaningFeeMinor:   in.RateCard.CleaningFeeMinor,
		ExtraGuestFeeMinor: extraGuestFee,
		Currency:           in.Currency,
		CalculatedAt:       in.CalculatedAt,
	}
	p.TotalMinor = p.ItemsSum()
	return p, p.Validate()
}

// ComputeTransportPrice prices a car rental or transfer:
// total = base + distance * perKm + airport surcharge + night surcharge
func ComputeTransportPrice(in TransportPriceInput) (models.PricingBreakdown, error) {
	if in.DistanceKm < 0 || math.IsNaN(in.DistanceKm) || math.IsInf(in.DistanceKm, 0) {
		return models.PricingBreakdown{}, errors.New("distance must be a non-negative number")
	}
	if err := checkRateCard(in.RateCard, in.Currency); err != nil {
		return models.PricingBreakdown{}, err
	}

	p := models.PricingBreakdown{
		Units:               1,
		BaseAmountMinor:     in.RateCard.BasePriceMinor,
		DistanceAmountMinor: roundHalfAway(in.DistanceKm * float64(in.RateCard.PricePerKmMinor)),
		Currency:            in.Currency,
		CalculatedAt:        in.CalculatedAt,
	}
	if in.AirportPickup {
		p.AirportSurchargeMinor = in.RateCard.AirportSurchargeMinor
	}
	if IsNightPickup(in.PickupAt) {
		p.NightSurchargeMinor = in.RateCard.NightSurchargeMinor
	}
	p.TotalMinor = p.ItemsSum()
	return p, p.Validate()
}

// ComputeTourPrice prices tour places: adults and children at their own
// rate, infants free, plus tax
func ComputeTourPrice(in TourPriceInput) (models.PricingBreakdown, error) {
	if in.Party.Adults < 1 {
		return models.PricingBreakdown{}, errors.New("at least one adult is required")
	}
	if err := checkRateCard(in.RateCard, in.Currency); err != nil {
		return models.PricingBreakdown{}, err
	}

	adultPrice := in.RateCard.AdultPriceMinor
	if adultPrice == 0 {
		adultPrice = in.RateCard.BasePriceMinor
	}
	base := int64(in.Party.Adults)*adultPrice + int64(in.Party.Children)*in.RateCard.ChildPriceMinor

	p := models.PricingBreakdown{
		Units:           in.Party.Guests(),
		BaseAmountMinor: base,
		TaxMinor:        applyRate(base, in.RateCard.TaxRate),
		Currency:        in.Currency,
		CalculatedAt:    in.CalculatedAt,
	}
	p.TotalMinor = p.ItemsSum()
	return p, p.Validate()
}

// IsNightPickup reports whether t falls in [22:00, 06:00)
func IsNightPickup(t time.Time) bool {
	h := t.Hour()
	return h >= nightSurchargeFromHour || h < nightSurchargeUntilHour
}

func checkRateCard(card models.RateCard, currency string) error {
	if currency == "" {
		return errors.New("rate card currency is required")
	}
	if card.BasePriceMinor < 0 || card.TaxRate < 0 || card.CleaningFeeMinor < 0 ||
		card.ExtraGuestFeeMinor < 0 || card.PricePerKmMinor < 0 || card.AirportSurchargeMinor < 0 ||
		card.NightSurchargeMinor < 0 || card.AdultPriceMinor < 0 || card.ChildPriceMinor < 0 {
		return errors.New("rate card contains negative amounts")
	}
	return nil
}

func applyRate(amount int64, rate float64) int64 {
	return roundHalfAway(float64(amount) * rate)
}

// roundHalfAway rounds to the nearest minor unit, halves away from zero
func roundHalfAway(v float64) int64 {
	return int64(math.Round(v))
}
