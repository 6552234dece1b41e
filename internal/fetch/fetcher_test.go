package fetch

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestFetcher(attempts int) *Fetcher {
	f := New(Config{
		MaxAttempts:    attempts,
		RequestTimeout: 2 * time.Second,
		BaseDelay:      time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
	}, testLogger())
	f.jitter = func() time.Duration { return 0 }
	return f
}

// dropConnections kills the first n connections at the TCP level, producing
// transport-class failures, then serves body.
func dropConnections(t *testing.T, n int32, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= n {
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestGetRecoversFromTransportFailures(t *testing.T) {
	srv, calls := dropConnections(t, 2, `{"ok":true}`)
	f := newTestFetcher(3)

	body, err := f.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetExhaustsTransportFailures(t *testing.T) {
	srv, calls := dropConnections(t, 10, "")
	f := newTestFetcher(3)

	_, err := f.Get(context.Background(), srv.URL)
	var be *domain.BotError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, domain.KindNetwork, be.Kind)
	assert.True(t, be.Retryable)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGet4xxFailsAfterOneCall(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such user", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	f := newTestFetcher(3)
	_, err := f.Get(context.Background(), srv.URL)

	var be *domain.BotError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, domain.KindAPI, be.Kind)
	assert.Equal(t, "HTTP_404", be.Code)
	assert.False(t, be.Retryable)
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestGet5xxRetriesThenEscalates(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "upstream busy", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	f := newTestFetcher(3)
	_, err := f.Get(context.Background(), srv.URL)

	var be *domain.BotError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, domain.KindAPI, be.Kind)
	assert.Equal(t, "HTTP_502", be.Code)
	assert.True(t, be.Retryable, "terminal 5xx stays retryable")
	assert.Equal(t, int32(3), calls.Load())
}

func TestGet5xxThenSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "warming up", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(srv.Close)

	f := newTestFetcher(3)
	body, err := f.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(body))
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetSendsUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("{}"))
	}))
	t.Cleanup(srv.Close)

	f := newTestFetcher(1)
	_, err := f.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, gotUA, "Mozilla/5.0")
}

func TestBackoffSchedule(t *testing.T) {
	f := New(Config{BaseDelay: time.Second, MaxDelay: 30 * time.Second}, testLogger())
	f.jitter = func() time.Duration { return 0 }

	assert.Equal(t, time.Second, f.backoff(1))
	assert.Equal(t, 2*time.Second, f.backoff(2))
	assert.Equal(t, 4*time.Second, f.backoff(3))
	assert.Equal(t, 16*time.Second, f.backoff(5))
	assert.Equal(t, 30*time.Second, f.backoff(6), "clamped at max delay")
	assert.Equal(t, 30*time.Second, f.backoff(12))
}

func TestBackoffJitterClamped(t *testing.T) {
	f := New(Config{BaseDelay: time.Second, MaxDelay: 30 * time.Second}, testLogger())
	f.jitter = func() time.Duration { return time.Second }

	assert.Equal(t, 2*time.Second, f.backoff(1))
	assert.Equal(t, 30*time.Second, f.backoff(6), "jitter never exceeds max delay")
}

func TestGetCancelledContext(t *testing.T) {
	srv, _ := dropConnections(t, 10, "")
	f := newTestFetcher(5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Get(ctx, srv.URL)
	var be *domain.BotError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, domain.KindNetwork, be.Kind)
	assert.False(t, be.Retryable)
}
