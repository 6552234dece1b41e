// Package aggregate buffers sized copy intents into time-windowed buckets,
// merging fills that share (leader, condition, asset, side) into one order.
package aggregate

import (
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

const DefaultWindow = 60 * time.Second

type bucket struct {
	key           domain.AggregationKey
	contributions []domain.Contribution
	totalUsdc     float64
	avgPrice      float64
	windowStart   time.Time
	seq           uint64
}

// Buffer is the process-wide aggregation buffer. Buckets are created on
// first arrival for a key and drained as a whole once their window elapses.
// All methods are safe for concurrent use; nothing external runs under the
// lock.
type Buffer struct {
	mu      sync.Mutex
	buckets map[domain.AggregationKey]*bucket
	window  time.Duration
	minUSD  float64
	seq     uint64
	now     func() time.Time
}

func New(window time.Duration, minOrderUSD float64) *Buffer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Buffer{
		buckets: make(map[domain.AggregationKey]*bucket),
		window:  window,
		minUSD:  minOrderUSD,
		now:     time.Now,
	}
}

// Add merges one sized fill into its bucket. The bucket's windowStart is
// fixed at first insert; appends recompute the total and the size-weighted
// average price.
func (b *Buffer) Add(a domain.Activity, sizedUSD float64) {
	key := domain.AggregationKey{
		Leader:      a.Leader,
		ConditionID: a.ConditionID,
		AssetID:     a.AssetID,
		Side:        a.Side,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	bk, ok := b.buckets[key]
	if !ok {
		bk = &bucket{
			key:         key,
			windowStart: b.now(),
			seq:         b.seq,
		}
		b.seq++
		b.buckets[key] = bk
	}

	bk.contributions = append(bk.contributions, domain.Contribution{
		ActivityID: a.ID,
		UsdcSize:   sizedUSD,
		Price:      a.Price,
	})

	var total, weighted float64
	for _, c := range bk.contributions {
		total += c.UsdcSize
		weighted += c.UsdcSize * c.Price
	}
	bk.totalUsdc = total
	if total > 0 {
		bk.avgPrice = weighted / total
	} else {
		bk.avgPrice = 0
	}
}

// Drain atomically removes every ready bucket (window elapsed) and splits
// them into emit (total at or above the order minimum) and skipped. Both
// slices follow bucket creation order. A second Drain in the same instant
// returns nothing.
func (b *Buffer) Drain() (emit, skipped []domain.AggregatedTrade) {
	b.mu.Lock()
	now := b.now()

	var ready []*bucket
	for key, bk := range b.buckets {
		if now.Sub(bk.windowStart) >= b.window {
			ready = append(ready, bk)
			delete(b.buckets, key)
		}
	}
	b.mu.Unlock()

	sort.Slice(ready, func(i, j int) bool { return ready[i].seq < ready[j].seq })

	for _, bk := range ready {
		agg := domain.AggregatedTrade{
			Key:           bk.key,
			Contributions: bk.contributions,
			TotalUsdcSize: bk.totalUsdc,
			AveragePrice:  bk.avgPrice,
			WindowStart:   bk.windowStart,
		}
		if bk.totalUsdc < b.minUSD {
			skipped = append(skipped, agg)
		} else {
			emit = append(emit, agg)
		}
	}
	return emit, skipped
}

// Size returns the number of live buckets.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buckets)
}

// Reset discards every bucket.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buckets = make(map[domain.AggregationKey]*bucket)
}
