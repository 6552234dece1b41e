package sizing

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// ParseTieredMultipliers parses the "min-max:mult" spec string, e.g.
// "1-10:2.0,10-100:1.0,100+:0.5". Tiers come back sorted by Min. Overlaps,
// a non-final unbounded tier, and negative or malformed numbers are rejected.
func ParseTieredMultipliers(s string) ([]Tier, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	tiers := make([]Tier, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		tier, err := parseTier(part)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, tier)
	}

	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Min < tiers[j].Min })

	for i, tier := range tiers {
		if math.IsInf(tier.Max, 1) && i != len(tiers)-1 {
			return nil, fmt.Errorf("sizing: unbounded tier %s must be last", formatTier(tier))
		}
		if i > 0 && tier.Min < tiers[i-1].Max {
			return nil, fmt.Errorf("sizing: tiers %s and %s overlap",
				formatTier(tiers[i-1]), formatTier(tier))
		}
	}
	return tiers, nil
}

func parseTier(part string) (Tier, error) {
	rangePart, multPart, ok := strings.Cut(part, ":")
	if !ok {
		return Tier{}, fmt.Errorf("sizing: tier %q missing multiplier", part)
	}

	mult, err := strconv.ParseFloat(strings.TrimSpace(multPart), 64)
	if err != nil {
		return Tier{}, fmt.Errorf("sizing: tier %q: parse multiplier: %w", part, err)
	}
	if mult < 0 {
		return Tier{}, fmt.Errorf("sizing: tier %q: negative multiplier", part)
	}

	tier := Tier{Multiplier: mult}
	rangePart = strings.TrimSpace(rangePart)

	if lo, found := strings.CutSuffix(rangePart, "+"); found {
		tier.Min, err = strconv.ParseFloat(lo, 64)
		if err != nil {
			return Tier{}, fmt.Errorf("sizing: tier %q: parse lower bound: %w", part, err)
		}
		tier.Max = math.Inf(1)
	} else {
		lo, hi, ok := strings.Cut(rangePart, "-")
		if !ok {
			return Tier{}, fmt.Errorf("sizing: tier %q: range must be min-max or min+", part)
		}
		tier.Min, err = strconv.ParseFloat(lo, 64)
		if err != nil {
			return Tier{}, fmt.Errorf("sizing: tier %q: parse lower bound: %w", part, err)
		}
		tier.Max, err = strconv.ParseFloat(hi, 64)
		if err != nil {
			return Tier{}, fmt.Errorf("sizing: tier %q: parse upper bound: %w", part, err)
		}
		if tier.Max <= tier.Min {
			return Tier{}, fmt.Errorf("sizing: tier %q: upper bound must exceed lower", part)
		}
	}

	if tier.Min < 0 {
		return Tier{}, fmt.Errorf("sizing: tier %q: negative lower bound", part)
	}
	return tier, nil
}

// SerializeTiers renders tiers back into the "min-max:mult" string form.
// ParseTieredMultipliers(SerializeTiers(t)) == t for any valid t.
func SerializeTiers(tiers []Tier) string {
	parts := make([]string, len(tiers))
	for i, tier := range tiers {
		parts[i] = formatTier(tier)
	}
	return strings.Join(parts, ",")
}

func formatTier(t Tier) string {
	if math.IsInf(t.Max, 1) {
		return fmt.Sprintf("%s+:%s", formatNum(t.Min), formatNum(t.Multiplier))
	}
	return fmt.Sprintf("%s-%s:%s", formatNum(t.Min), formatNum(t.Max), formatNum(t.Multiplier))
}

func formatNum(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ValidateConfig checks a copy-strategy configuration and returns every
// problem found, one message per violation.
func ValidateConfig(cfg Config) []string {
	var errs []string

	if cfg.CopySize <= 0 {
		errs = append(errs, "copy_size must be positive")
	}
	if cfg.Strategy == domain.StrategyPercentage && cfg.CopySize > 100 {
		errs = append(errs, "copy_size must not exceed 100 for PERCENTAGE strategy")
	}
	if cfg.MaxOrderSizeUSD <= 0 {
		errs = append(errs, "max_order_size_usd must be positive")
	}
	if cfg.MinOrderSizeUSD < 0 {
		errs = append(errs, "min_order_size_usd must not be negative")
	}
	if cfg.MinOrderSizeUSD > cfg.MaxOrderSizeUSD {
		errs = append(errs, "min_order_size_usd must not exceed max_order_size_usd")
	}
	if cfg.MaxPositionSizeUSD != nil && *cfg.MaxPositionSizeUSD <= 0 {
		errs = append(errs, "max_position_size_usd must be positive when set")
	}

	if cfg.Strategy == domain.StrategyAdaptive {
		if cfg.AdaptiveMinPercent <= 0 || cfg.AdaptiveMaxPercent <= 0 {
			errs = append(errs, "adaptive_min_percent and adaptive_max_percent must be set for ADAPTIVE strategy")
		} else if cfg.AdaptiveMinPercent > cfg.AdaptiveMaxPercent {
			errs = append(errs, "adaptive_min_percent must not exceed adaptive_max_percent")
		}
		if cfg.AdaptiveThreshold <= 0 {
			errs = append(errs, "adaptive_threshold must be positive for ADAPTIVE strategy")
		}
	}

	switch cfg.Strategy {
	case domain.StrategyPercentage, domain.StrategyFixed, domain.StrategyAdaptive:
	default:
		errs = append(errs, fmt.Sprintf("unknown strategy %q", cfg.Strategy))
	}

	errs = append(errs, validateTiers(cfg.TieredMultipliers)...)
	return errs
}

func validateTiers(tiers []Tier) []string {
	var errs []string
	for i, tier := range tiers {
		if tier.Multiplier < 0 {
			errs = append(errs, fmt.Sprintf("tier %s: negative multiplier", formatTier(tier)))
		}
		if tier.Min < 0 {
			errs = append(errs, fmt.Sprintf("tier %s: negative lower bound", formatTier(tier)))
		}
		if math.IsInf(tier.Max, 1) && i != len(tiers)-1 {
			errs = append(errs, fmt.Sprintf("tier %s: unbounded tier must be last", formatTier(tier)))
		}
		if i > 0 && tier.Min < tiers[i-1].Max {
			errs = append(errs, fmt.Sprintf("tiers %s and %s overlap",
				formatTier(tiers[i-1]), formatTier(tier)))
		}
	}
	return errs
}
