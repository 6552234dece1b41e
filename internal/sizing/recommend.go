package sizing

import "github.com/alanyoungcy/copytraderbot/internal/domain"

// RecommendedConfig suggests a starting copy configuration for a follower
// balance: conservative percentage copying for small accounts, balanced
// percentage for mid-size, adaptive scaling above 2000 USDC.
func RecommendedConfig(balance float64) Config {
	switch {
	case balance < 500:
		return Config{
			Strategy:        domain.StrategyPercentage,
			CopySize:        5,
			MaxOrderSizeUSD: 20,
			MinOrderSizeUSD: 1,
		}
	case balance < 2000:
		return Config{
			Strategy:        domain.StrategyPercentage,
			CopySize:        10,
			MaxOrderSizeUSD: 50,
			MinOrderSizeUSD: 1,
		}
	default:
		return Config{
			Strategy:           domain.StrategyAdaptive,
			CopySize:           10,
			AdaptiveMinPercent: 5,
			AdaptiveMaxPercent: 15,
			AdaptiveThreshold:  balance,
			MaxOrderSizeUSD:    balance / 20,
			MinOrderSizeUSD:    1,
		}
	}
}
