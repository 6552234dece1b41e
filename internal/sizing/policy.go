// Package sizing implements the copy-sizing policy: pure functions mapping a
// leader fill, the follower's balance, and the current position to a sized
// order or a skip decision.
package sizing

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// Tier is one band of a piecewise multiplier over trader order size.
// Max is +Inf for an unbounded band; bands match [Min, Max).
type Tier struct {
	Min        float64
	Max        float64
	Multiplier float64
}

// Contains reports whether size falls inside the band.
func (t Tier) Contains(size float64) bool {
	if size < t.Min {
		return false
	}
	return math.IsInf(t.Max, 1) || size < t.Max
}

// Config is the copy-strategy configuration.
type Config struct {
	Strategy           domain.Strategy
	CopySize           float64 // percent for PERCENTAGE, USD otherwise
	MaxOrderSizeUSD    float64
	MinOrderSizeUSD    float64
	MaxPositionSizeUSD *float64
	AdaptiveMinPercent float64
	AdaptiveMaxPercent float64
	AdaptiveThreshold  float64
	TradeMultiplier    *float64
	TieredMultipliers  []Tier
}

// CalculateOrderSize sizes one copy order. Pure: same inputs, same intent.
//
// Steps: strategy base, multiplier, max-order cap, position cap, balance
// reduction, minimum suppression. When tiers are configured the matched
// multiplier scales the configured copy size directly and the trader size
// only selects the band.
func CalculateOrderSize(cfg Config, traderOrderSize, availableBalance, currentPositionSize float64) domain.SizedIntent {
	intent := domain.SizedIntent{
		Strategy:        cfg.Strategy,
		TraderOrderSize: traderOrderSize,
	}
	reason := func(format string, args ...any) {
		intent.Reasoning = append(intent.Reasoning, fmt.Sprintf(format, args...))
	}

	var base float64
	switch cfg.Strategy {
	case domain.StrategyFixed:
		base = cfg.CopySize
		reason("FIXED: copy %.2f", base)
	case domain.StrategyAdaptive:
		pct := adaptivePercent(cfg, traderOrderSize)
		base = traderOrderSize * pct / 100
		reason("ADAPTIVE: %.2f%% of %.2f = %.2f", pct, traderOrderSize, base)
	default:
		base = traderOrderSize * cfg.CopySize / 100
		reason("PERCENTAGE: %.2f%% of %.2f = %.2f", cfg.CopySize, traderOrderSize, base)
	}

	if len(cfg.TieredMultipliers) > 0 {
		if tier, ok := matchTier(cfg.TieredMultipliers, traderOrderSize); ok {
			base = cfg.CopySize * tier.Multiplier
			reason("tier %s for trader size %.2f: copy size %.2f x %.2f = %.2f",
				formatTier(tier), traderOrderSize, cfg.CopySize, tier.Multiplier, base)
		}
	} else if cfg.TradeMultiplier != nil {
		base *= *cfg.TradeMultiplier
		reason("multiplier %.2f applied: %.2f", *cfg.TradeMultiplier, base)
	}
	if base < 0 {
		base = 0
	}
	intent.BaseAmount = base

	final := base
	if final > cfg.MaxOrderSizeUSD {
		final = cfg.MaxOrderSizeUSD
		intent.CappedByMax = true
		reason("capped at max order size %.2f", cfg.MaxOrderSizeUSD)
	}

	if cfg.MaxPositionSizeUSD != nil && currentPositionSize+final > *cfg.MaxPositionSizeUSD {
		final = math.Max(0, *cfg.MaxPositionSizeUSD-currentPositionSize)
		reason("Reduced to fit position limit")
	}

	if final > availableBalance {
		final = availableBalance * 0.99
		intent.ReducedByBalance = true
		reason("reduced to 99%% of available balance %.2f: %.2f", availableBalance, final)
	}

	if final < cfg.MinOrderSizeUSD || final <= 0 {
		reason("final %.2f below minimum %.2f, skipping", final, cfg.MinOrderSizeUSD)
		final = 0
		intent.BelowMinimum = true
	}

	intent.FinalAmount = final
	return intent
}

// adaptivePercent shrinks the copied percentage as the trader's order grows:
// linear from the max percent down to the min percent over [0, threshold],
// then min*(threshold/size) beyond it, which holds the base amount constant.
func adaptivePercent(cfg Config, size float64) float64 {
	t := cfg.AdaptiveThreshold
	lo, hi := cfg.AdaptiveMinPercent, cfg.AdaptiveMaxPercent
	if t <= 0 || size <= 0 {
		return hi
	}
	if size <= t {
		pct := hi - (size/t)*(hi-lo)
		return math.Min(math.Max(pct, lo), hi)
	}
	return lo * (t / size)
}

func matchTier(tiers []Tier, size float64) (Tier, bool) {
	for _, tier := range tiers {
		if tier.Contains(size) {
			return tier, true
		}
	}
	return Tier{}, false
}
