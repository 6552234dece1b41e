package domain

import "time"

// AggregationKey determines which fills may merge into one posted order.
// Equal keys merge; different keys never do.
type AggregationKey struct {
	Leader      string
	ConditionID string
	AssetID     string
	Side        Side
}

// Contribution records one fill's share of an aggregated order.
type Contribution struct {
	ActivityID string
	UsdcSize   float64
	Price      float64
}

// AggregatedTrade is a drained bucket: one order covering every contribution.
// TotalUsdcSize is the sum of contribution sizes; AveragePrice is the
// size-weighted mean.
type AggregatedTrade struct {
	Key           AggregationKey
	Contributions []Contribution
	TotalUsdcSize float64
	AveragePrice  float64
	WindowStart   time.Time
}

// ActivityIDs lists the contributing activity ids in insertion order.
func (t AggregatedTrade) ActivityIDs() []string {
	ids := make([]string, len(t.Contributions))
	for i, c := range t.Contributions {
		ids[i] = c.ActivityID
	}
	return ids
}
