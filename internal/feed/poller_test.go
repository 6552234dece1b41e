package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testActivity(id, leader string, ts time.Time) domain.Activity {
	return domain.Activity{
		ID:          id,
		Leader:      leader,
		ConditionID: "0xcond",
		AssetID:     "7141",
		Side:        domain.SideBuy,
		Size:        100,
		UsdcSize:    40,
		Price:       0.4,
		Timestamp:   ts,
		TxHash:      "0xtx",
		Marker:      domain.Marker{State: domain.MarkerUnseen},
	}
}

type fetchCall struct {
	user  string
	since time.Time
	limit int
}

type fakeSource struct {
	mu         sync.Mutex
	calls      []fetchCall
	activities []domain.Activity
	err        error
}

func (f *fakeSource) UserActivity(_ context.Context, user string, since time.Time, limit int) ([]domain.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fetchCall{user: user, since: since, limit: limit})
	if f.err != nil {
		return nil, f.err
	}
	return f.activities, nil
}

type fakeStore struct {
	mu          sync.Mutex
	inserted    []domain.Activity
	insertErr   error
	unprocessed []domain.Activity
	listErr     error
	last        time.Time
	lastErr     error
}

func (f *fakeStore) InsertBatch(_ context.Context, activities []domain.Activity) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.inserted = append(f.inserted, activities...)
	return len(activities), nil
}

func (f *fakeStore) GetByID(context.Context, string) (domain.Activity, error) {
	return domain.Activity{}, domain.ErrNotFound
}

func (f *fakeStore) MarkInFlight(context.Context, string, time.Time) (bool, error) { return false, nil }
func (f *fakeStore) MarkCompleted(context.Context, string, time.Time) error        { return nil }
func (f *fakeStore) MarkSkipped(context.Context, string) error                     { return nil }
func (f *fakeStore) FlagAggregatorSkipped(context.Context, []string) error         { return nil }

func (f *fakeStore) ListUnprocessed(_ context.Context, _ int) ([]domain.Activity, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.unprocessed, nil
}

func (f *fakeStore) LastTimestamp(context.Context) (time.Time, error) {
	if f.lastErr != nil {
		return time.Time{}, f.lastErr
	}
	return f.last, nil
}

func (f *fakeStore) ListProcessedBefore(context.Context, time.Time, int) ([]domain.Activity, error) {
	return nil, nil
}
func (f *fakeStore) DeleteProcessedBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type fakeSink struct {
	mu       sync.Mutex
	received []domain.Activity
	err      error
}

func (f *fakeSink) Enqueue(_ context.Context, a domain.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.received = append(f.received, a)
	return nil
}

func (f *fakeSink) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.received))
	for i, a := range f.received {
		out[i] = a.ID
	}
	return out
}

type fakeLimiter struct {
	mu    sync.Mutex
	keys  []string
	allow bool
	err   error
}

func (f *fakeLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	if f.err != nil {
		return false, f.err
	}
	return f.allow, nil
}

func (f *fakeLimiter) Wait(_ context.Context, _ string) error {
	return nil
}

func newTestPoller(cfg PollerConfig, source *fakeSource, store *fakeStore,
	limiter domain.RateLimiter, sink *fakeSink) *Poller {
	return NewPoller(cfg, source, store, limiter, sink, discardLogger())
}

func TestPollLeaderFetchesAndEnqueues(t *testing.T) {
	now := time.Now().UTC()
	source := &fakeSource{activities: []domain.Activity{
		testActivity("0xt1:7141:BUY", "0xleader", now.Add(-30*time.Second)),
		testActivity("0xt2:7141:SELL", "0xleader", now.Add(-10*time.Second)),
	}}
	store := &fakeStore{}
	sink := &fakeSink{}

	p := newTestPoller(PollerConfig{
		Leaders:    []string{"0xleader"},
		Interval:   10 * time.Second,
		FetchLimit: 50,
	}, source, store, nil, sink)

	p.pollOnce(context.Background())

	require.Len(t, source.calls, 1)
	assert.Equal(t, "0xleader", source.calls[0].user)
	assert.Equal(t, 50, source.calls[0].limit)

	assert.Len(t, store.inserted, 2)
	assert.Equal(t, []string{"0xt1:7141:BUY", "0xt2:7141:SELL"}, sink.ids())
}

func TestPollLeaderFetchFailureIsNonFatal(t *testing.T) {
	source := &fakeSource{err: errors.New("connection refused")}
	store := &fakeStore{}
	sink := &fakeSink{}

	p := newTestPoller(PollerConfig{Leaders: []string{"0xleader"}}, source, store, nil, sink)

	p.pollOnce(context.Background())

	assert.Empty(t, store.inserted)
	assert.Empty(t, sink.ids())
}

func TestPollLeaderInsertFailureSkipsEnqueue(t *testing.T) {
	now := time.Now().UTC()
	source := &fakeSource{activities: []domain.Activity{
		testActivity("0xt1:7141:BUY", "0xleader", now),
	}}
	store := &fakeStore{insertErr: errors.New("db down")}
	sink := &fakeSink{}

	p := newTestPoller(PollerConfig{Leaders: []string{"0xleader"}}, source, store, nil, sink)

	p.pollOnce(context.Background())

	assert.Empty(t, sink.ids())
}

func TestPollLeaderRateLimited(t *testing.T) {
	source := &fakeSource{}
	store := &fakeStore{}
	sink := &fakeSink{}
	limiter := &fakeLimiter{allow: false}

	p := newTestPoller(PollerConfig{
		Leaders:    []string{"0xleader"},
		RateLimit:  30,
		RateWindow: 10 * time.Second,
	}, source, store, limiter, sink)

	p.pollOnce(context.Background())

	assert.Equal(t, []string{"dataapi"}, limiter.keys)
	assert.Empty(t, source.calls, "denied cycle must not hit the api")
}

func TestPollLeaderLimiterFailureDegrades(t *testing.T) {
	now := time.Now().UTC()
	source := &fakeSource{activities: []domain.Activity{
		testActivity("0xt1:7141:BUY", "0xleader", now),
	}}
	store := &fakeStore{}
	sink := &fakeSink{}
	limiter := &fakeLimiter{err: errors.New("redis down")}

	p := newTestPoller(PollerConfig{
		Leaders:    []string{"0xleader"},
		RateLimit:  30,
		RateWindow: 10 * time.Second,
	}, source, store, limiter, sink)

	p.pollOnce(context.Background())

	assert.Len(t, source.calls, 1, "limiter outage must not block polling")
	assert.Equal(t, []string{"0xt1:7141:BUY"}, sink.ids())
}

func TestSinceBoundFirstRunUsesFreshnessFloor(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{} // zero last timestamp

	p := newTestPoller(PollerConfig{
		Leaders:   []string{"0xleader"},
		Freshness: 5 * time.Minute,
	}, &fakeSource{}, store, nil, &fakeSink{})
	p.now = func() time.Time { return fixed }

	since := p.sinceBound(context.Background())
	assert.Equal(t, fixed.Add(-5*time.Minute), since)
}

func TestSinceBoundBacksOffOneInterval(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{last: fixed.Add(-time.Minute)}

	p := newTestPoller(PollerConfig{
		Leaders:   []string{"0xleader"},
		Interval:  10 * time.Second,
		Freshness: time.Hour,
	}, &fakeSource{}, store, nil, &fakeSink{})
	p.now = func() time.Time { return fixed }

	since := p.sinceBound(context.Background())
	assert.Equal(t, fixed.Add(-time.Minute).Add(-10*time.Second), since)
}

func TestSinceBoundClampsToFreshnessFloor(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{last: fixed.Add(-2 * time.Hour)}

	p := newTestPoller(PollerConfig{
		Leaders:   []string{"0xleader"},
		Freshness: 10 * time.Minute,
	}, &fakeSource{}, store, nil, &fakeSink{})
	p.now = func() time.Time { return fixed }

	since := p.sinceBound(context.Background())
	assert.Equal(t, fixed.Add(-10*time.Minute), since)
}

func TestSinceBoundNoFreshnessNoHistory(t *testing.T) {
	p := newTestPoller(PollerConfig{Leaders: []string{"0xleader"}},
		&fakeSource{}, &fakeStore{}, nil, &fakeSink{})

	since := p.sinceBound(context.Background())
	assert.True(t, since.IsZero(), "no history and no freshness bound means fetch from the start")
}

func TestReconcileReEnqueuesUnseen(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeStore{unprocessed: []domain.Activity{
		testActivity("0xa:1:BUY", "0xleader", now.Add(-time.Minute)),
		testActivity("0xb:2:SELL", "0xleader", now.Add(-30*time.Second)),
	}}
	sink := &fakeSink{}

	p := newTestPoller(PollerConfig{Leaders: []string{"0xleader"}},
		&fakeSource{}, store, nil, sink)

	require.NoError(t, p.reconcile(context.Background()))
	assert.Equal(t, []string{"0xa:1:BUY", "0xb:2:SELL"}, sink.ids())
}

func TestRunStopsOnCancel(t *testing.T) {
	source := &fakeSource{}
	store := &fakeStore{}
	sink := &fakeSink{}

	p := newTestPoller(PollerConfig{
		Leaders:  []string{"0xleader"},
		Interval: time.Hour,
	}, source, store, nil, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	// Let the first poll cycle go through, then cancel.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop on cancel")
	}

	require.Len(t, source.calls, 1, "one immediate poll before the first tick")
}

func TestRunNoLeaders(t *testing.T) {
	p := newTestPoller(PollerConfig{}, &fakeSource{}, &fakeStore{}, nil, &fakeSink{})
	assert.NoError(t, p.Run(context.Background()))
}
