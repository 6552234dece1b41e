// Package fetch implements the retrying HTTP GET used for exchange data
// endpoints. Failures are classified into the domain taxonomy: transport
// errors and 5xx responses retry with exponential backoff and jitter, 4xx
// responses fail immediately.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// Some operators filter non-browser agents on public data endpoints.
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

const maxErrorBody = 512

// Config holds retry and timeout settings. Zero fields take the defaults.
type Config struct {
	MaxAttempts    int
	RequestTimeout time.Duration
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	UserAgent      string
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	return c
}

// Fetcher performs idempotent GETs with bounded retries.
type Fetcher struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
	jitter func() time.Duration
}

func New(cfg Config, logger *slog.Logger) *Fetcher {
	cfg = cfg.withDefaults()

	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		// IPv4 only: the data endpoints advertise AAAA records they do
		// not reliably serve.
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, "tcp4", addr)
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Fetcher{
		cfg:    cfg,
		client: &http.Client{Transport: transport},
		logger: logger.With(slog.String("component", "fetch")),
		jitter: func() time.Duration { return time.Duration(rand.Int63n(int64(time.Second))) },
	}
}

// Get fetches url, retrying retryable failures up to the attempt budget.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	var lastErr *domain.BotError

	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		body, err := f.attempt(ctx, url)
		if err == nil {
			return body, nil
		}

		be := domain.Classify(err)
		if !be.Retryable {
			return nil, be
		}
		lastErr = be

		if attempt == f.cfg.MaxAttempts {
			break
		}

		delay := f.backoff(attempt)
		f.logger.WarnContext(ctx, "fetch failed, retrying",
			append([]any{
				slog.String("url", url),
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", f.cfg.MaxAttempts),
				slog.Duration("delay", delay),
			}, be.Attrs()...)...)

		select {
		case <-ctx.Done():
			return nil, domain.NewNetworkError("FETCH_CANCELLED",
				fmt.Sprintf("fetch %s cancelled", url), ctx.Err())
		case <-time.After(delay):
		}
	}

	f.logger.ErrorContext(ctx, "fetch failed after all attempts",
		append([]any{
			slog.String("url", url),
			slog.Int("attempts", f.cfg.MaxAttempts),
		}, lastErr.Attrs()...)...)
	return nil, lastErr
}

func (f *Fetcher) attempt(ctx context.Context, url string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.NewValidationError("INVALID_URL",
			fmt.Sprintf("build request for %s", url), err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		ne := domain.NewNetworkError("NETWORK_FAILURE",
			fmt.Sprintf("request to %s failed", url), err)
		// A dead parent context must not burn the remaining attempts.
		if ctx.Err() != nil {
			ne.Retryable = false
		}
		return nil, ne
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, domain.NewNetworkError("BODY_READ_FAILED",
				fmt.Sprintf("read response from %s", url), err)
		}
		return body, nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	ae := domain.NewAPIError(fmt.Sprintf("HTTP_%d", resp.StatusCode),
		fmt.Sprintf("GET %s returned %d: %s", url, resp.StatusCode,
			strings.TrimSpace(string(snippet))), nil)
	if resp.StatusCode < 500 {
		ae.Retryable = false
	}
	return nil, ae
}

// backoff computes the pre-attempt delay: min(base*2^(k-1) + U[0,1s), max).
func (f *Fetcher) backoff(attempt int) time.Duration {
	shift := attempt - 1
	if shift > 16 {
		shift = 16
	}
	delay := f.cfg.BaseDelay << shift
	if delay > f.cfg.MaxDelay {
		delay = f.cfg.MaxDelay
	}
	delay += f.jitter()
	if delay > f.cfg.MaxDelay {
		delay = f.cfg.MaxDelay
	}
	return delay
}
