package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg Config) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
	b := New("test", cfg)
	b.now = clk.now
	return b, clk
}

var errBoom = errors.New("boom")

func failing(ctx context.Context) error { return errBoom }
func succeeding(ctx context.Context) error { return nil }

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3, RecoveryTimeout: 30 * time.Second})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := b.Do(ctx, failing)
		assert.ErrorIs(t, err, errBoom, "failure %d must propagate unchanged", i+1)
	}
	assert.Equal(t, StateOpen, b.Snapshot().State)
	assert.Equal(t, 3, b.Snapshot().FailureCount)
}

func TestBreakerFailsFastWhenOpen(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 1, RecoveryTimeout: 30 * time.Second})
	ctx := context.Background()

	require.Error(t, b.Do(ctx, failing))

	called := false
	err := b.Do(ctx, func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.False(t, called, "open breaker must not execute the call")

	var be *domain.BotError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, domain.KindCircuitBreaker, be.Kind)
	assert.Equal(t, "CIRCUIT_OPEN", be.Code)
}

func TestBreakerHalfOpenProbeCloses(t *testing.T) {
	b, clk := newTestBreaker(Config{FailureThreshold: 3, RecoveryTimeout: 30 * time.Second})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Do(ctx, failing)
	}
	require.Equal(t, StateOpen, b.Snapshot().State)

	// Fourth call while still inside the recovery window fails fast.
	var be *domain.BotError
	require.ErrorAs(t, b.Do(ctx, succeeding), &be)
	assert.Equal(t, domain.KindCircuitBreaker, be.Kind)

	clk.advance(31 * time.Second)
	assert.NoError(t, b.Do(ctx, succeeding), "probe success must pass through")

	snap := b.Snapshot()
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, 0, snap.FailureCount)
	assert.True(t, snap.LastFailureTime.IsZero())
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	b, clk := newTestBreaker(Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Second})
	ctx := context.Background()

	require.Error(t, b.Do(ctx, failing))
	clk.advance(11 * time.Second)

	err := b.Do(ctx, failing)
	assert.ErrorIs(t, err, errBoom, "probe rejection propagates the underlying failure")

	var be *domain.BotError
	assert.False(t, errors.As(err, &be) && be.Kind == domain.KindCircuitBreaker)
	assert.Equal(t, StateOpen, b.Snapshot().State)
}

func TestBreakerMonitoringPeriodResetsCount(t *testing.T) {
	b, clk := newTestBreaker(Config{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		MonitoringPeriod: 5 * time.Minute,
	})
	ctx := context.Background()

	_ = b.Do(ctx, failing)
	_ = b.Do(ctx, failing)
	require.Equal(t, 2, b.Snapshot().FailureCount)

	// A success inside the monitoring period keeps the count.
	clk.advance(time.Minute)
	require.NoError(t, b.Do(ctx, succeeding))
	assert.Equal(t, 2, b.Snapshot().FailureCount)

	// A success after the monitoring period clears it.
	clk.advance(5 * time.Minute)
	require.NoError(t, b.Do(ctx, succeeding))
	assert.Equal(t, 0, b.Snapshot().FailureCount)
}

func TestCallReturnsValue(t *testing.T) {
	b, _ := newTestBreaker(Config{})
	got, err := Call(context.Background(), b, func(ctx context.Context) (float64, error) {
		return 42.5, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42.5, got)
}

func TestRegistryFirstWriterWins(t *testing.T) {
	r := NewRegistry()

	a := r.Get("polygon-balance", Config{FailureThreshold: 3, RecoveryTimeout: 30 * time.Second})
	b := r.Get("polygon-balance", Config{FailureThreshold: 99, RecoveryTimeout: time.Hour})

	assert.Same(t, a, b)
	assert.Equal(t, 3, a.cfg.FailureThreshold, "later Get must not reconfigure")
}

func TestRegistryAllStatesSorted(t *testing.T) {
	r := NewRegistry()
	r.Get("data-api", Config{})
	r.Get("polygon-balance", Config{})

	snaps := r.AllStates()
	require.Len(t, snaps, 2)
	assert.Equal(t, "data-api", snaps[0].Name)
	assert.Equal(t, "polygon-balance", snaps[1].Name)
}

func TestRegistryResetAll(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	b := r.Get("flaky", Config{FailureThreshold: 1})
	require.Error(t, b.Do(ctx, failing))
	require.Equal(t, StateOpen, b.Snapshot().State)

	r.ResetAll()
	for _, snap := range r.AllStates() {
		assert.Equal(t, StateClosed, snap.State)
		assert.Equal(t, 0, snap.FailureCount)
	}
}
