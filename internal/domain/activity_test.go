package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMarkerSentinel(t *testing.T) {
	pickup := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	tests := []struct {
		name   string
		marker Marker
		want   int64
	}{
		{"unseen", Marker{State: MarkerUnseen}, 0},
		{"in flight", Marker{State: MarkerInFlight, At: pickup}, pickup.Unix()},
		{"skipped", Marker{State: MarkerSkipped}, -1},
		{"completed", Marker{State: MarkerCompleted, At: pickup}, pickup.Unix()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.marker.Sentinel())
		})
	}
}

func TestMarkerFromSentinel(t *testing.T) {
	assert.Equal(t, MarkerUnseen, MarkerFromSentinel(0).State)
	assert.Equal(t, MarkerSkipped, MarkerFromSentinel(-1).State)

	m := MarkerFromSentinel(1765000000)
	assert.Equal(t, MarkerInFlight, m.State)
	assert.Equal(t, int64(1765000000), m.At.Unix())
}

func TestMarkerProcessed(t *testing.T) {
	assert.False(t, Marker{State: MarkerUnseen}.Processed())
	assert.True(t, Marker{State: MarkerInFlight, At: time.Now()}.Processed())
	assert.True(t, Marker{State: MarkerSkipped}.Processed())
	assert.True(t, Marker{State: MarkerCompleted, At: time.Now()}.Processed())
}

func TestAggregatedTradeActivityIDs(t *testing.T) {
	agg := AggregatedTrade{
		Contributions: []Contribution{
			{ActivityID: "a1", UsdcSize: 100, Price: 1.0},
			{ActivityID: "a2", UsdcSize: 200, Price: 1.5},
		},
	}
	assert.Equal(t, []string{"a1", "a2"}, agg.ActivityIDs())
}
