package services

import (
	"fmt"
	"math"
	"strings"

	"github.com/tripmarket/settlement-backend/internal/config"
	"github.com/tripmarket/settlement-backend/internal/models"
)

// TierRule is one row of the tier table
type TierRule struct {
	Tier       models.LoyaltyTier
	Multiplier float64
	Threshold  int64 // lifetime points needed
}

// LoyaltyRules is the immutable earn-rate and tier table the ledger works
// from. Build it once from configuration and share it.
type LoyaltyRules struct {
	earnRates map[models.Vertical]float64
	tiers     []TierRule // lowest first
}

// NewLoyaltyRules validates and copies the configured tables
func NewLoyaltyRules(cfg config.LoyaltyConfig) (*LoyaltyRules, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rules := &LoyaltyRules{
		earnRates: make(map[models.Vertical]float64, len(cfg.EarnRates)),
		tiers:     make([]TierRule, 0, len(cfg.TierOrder)),
	}
	for vertical, rate := range cfg.EarnRates {
		v := models.Vertical(vertical)
		if !v.IsValid() {
			return nil, fmt.Errorf("earn rate configured for unknown vertical %q", vertical)
		}
		rules.earnRates[v] = rate
	}
	for _, tier := range cfg.TierOrder {
		rules.tiers = append(rules.tiers, TierRule{
			Tier:       models.LoyaltyTier(tier),
			Multiplier: cfg.TierMultipliers[tier],
			Threshold:  cfg.TierThresholds[tier],
		})
	}
	return rules, nil
}

// BaseTier is the tier new accounts start at
func (r *LoyaltyRules) BaseTier() models.LoyaltyTier {
	return r.tiers[0].Tier
}

// EarnRate returns points per major currency unit for a vertical
func (r *LoyaltyRules) EarnRate(vertical models.Vertical) float64 {
	return r.earnRates[vertical]
}

// Multiplier returns the tier multiplier, 1 for unknown tiers
func (r *LoyaltyRules) Multiplier(tier models.LoyaltyTier) float64 {
	for _, t := range r.tiers {
		if t.Tier == tier {
			return t.Multiplier
		}
	}
	return 1
}

// Points computes the earn for a settled amount:
// base = floor(amount * earnRate), bonus = floor(base * (multiplier - 1))
func (r *LoyaltyRules) Points(vertical models.Vertical, tier models.LoyaltyTier, amountMinor int64, currency string) (base, bonus int64) {
	if amountMinor <= 0 {
		return 0, 0
	}
	major := float64(amountMinor) / math.Pow10(currencyExponent(currency))
	base = floorPoints(major * r.EarnRate(vertical))
	bonus = floorPoints(float64(base) * (r.Multiplier(tier) - 1))
	return base, bonus
}

// TierFor returns the highest tier whose threshold lifetime reaches
func (r *LoyaltyRules) TierFor(lifetime int64) models.LoyaltyTier {
	tier := r.tiers[0].Tier
	for _, t := range r.tiers {
		if lifetime >= t.Threshold {
			tier = t.Tier
		}
	}
	return tier
}

// rank orders tiers so an account is never moved down
func (r *LoyaltyRules) rank(tier models.LoyaltyTier) int {
	for i, t := range r.tiers {
		if t.Tier == tier {
			return i
		}
	}
	return -1
}

// floorPoints floors v, absorbing float error just under a whole number
// (1.15 * 100 is 114.99999999999999)
func floorPoints(v float64) int64 {
	return int64(math.Floor(v + 1e-9))
}

// currencyExponent returns the number of minor-unit digits of an ISO 4217 code
func currencyExponent(currency string) int {
	switch strings.ToUpper(currency) {
	case "JPY", "KRW", "VND", "CLP", "ISK", "UGX", "XAF", "XOF", "PYG":
		return 0
	case "BHD", "KWD", "OMR", "JOD", "TND":
		return 3
	}
	return 2
}
