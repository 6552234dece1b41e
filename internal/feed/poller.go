// Package feed ingests leader activity into the execution pipeline, from
// both the polled Data API and the push WebSocket. Both paths insert into
// the activity store and enqueue to the engine; the store-level pickup CAS
// makes their overlap harmless.
package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// reconcileLimit bounds how many unprocessed rows one startup pass re-enqueues.
const reconcileLimit = 500

// ActivitySource fetches leader activity from the exchange.
type ActivitySource interface {
	UserActivity(ctx context.Context, user string, since time.Time, limit int) ([]domain.Activity, error)
}

// ActivitySink receives ingested activities, normally the engine queue.
type ActivitySink interface {
	Enqueue(ctx context.Context, activity domain.Activity) error
}

// PollerConfig tunes the activity poller.
type PollerConfig struct {
	Leaders    []string
	Interval   time.Duration // poll cycle, default 10s
	FetchLimit int           // records per leader per cycle, default 100
	Freshness  time.Duration // lower bound for the first fetch; zero = no bound
	RateLimit  int           // data-api requests allowed per RateWindow; zero disables the gate
	RateWindow time.Duration
}

// Poller periodically pulls each leader's recent fills, persists them, and
// feeds them to the engine. On startup it re-enqueues rows still UNSEEN from
// a previous run.
type Poller struct {
	cfg     PollerConfig
	source  ActivitySource
	store   domain.ActivityStore
	limiter domain.RateLimiter // nil disables rate limiting
	sink    ActivitySink
	logger  *slog.Logger

	now func() time.Time
}

// NewPoller creates a Poller. Zero config fields take defaults.
func NewPoller(cfg PollerConfig, source ActivitySource, store domain.ActivityStore,
	limiter domain.RateLimiter, sink ActivitySink, logger *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = 100
	}
	return &Poller{
		cfg:     cfg,
		source:  source,
		store:   store,
		limiter: limiter,
		sink:    sink,
		logger:  logger.With(slog.String("component", "poller")),
		now:     time.Now,
	}
}

// Run reconciles leftover UNSEEN rows, then polls until ctx is cancelled.
// Fetch failures are logged and retried next cycle; only cancellation ends
// the loop.
func (p *Poller) Run(ctx context.Context) error {
	if len(p.cfg.Leaders) == 0 {
		p.logger.InfoContext(ctx, "no leaders configured, poller exiting")
		return nil
	}

	if err := p.reconcile(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.WarnContext(ctx, "startup reconciliation failed", slog.String("error", err.Error()))
	}

	p.logger.InfoContext(ctx, "poller started",
		slog.Int("leaders", len(p.cfg.Leaders)),
		slog.Duration("interval", p.cfg.Interval),
	)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

// reconcile re-enqueues activities a previous run ingested but never picked.
// Rows past UNSEEN are never re-picked here: an IN_FLIGHT row may already
// have an order posted against it.
func (p *Poller) reconcile(ctx context.Context) error {
	rows, err := p.store.ListUnprocessed(ctx, reconcileLimit)
	if err != nil {
		return err
	}
	for _, a := range rows {
		if err := p.sink.Enqueue(ctx, a); err != nil {
			return err
		}
	}
	if len(rows) > 0 {
		p.logger.InfoContext(ctx, "re-enqueued unprocessed activities", slog.Int("count", len(rows)))
	}
	return nil
}

func (p *Poller) pollOnce(ctx context.Context) {
	since := p.sinceBound(ctx)
	for _, leader := range p.cfg.Leaders {
		if ctx.Err() != nil {
			return
		}
		p.pollLeader(ctx, leader, since)
	}
}

// sinceBound picks the fetch lower bound: the last stored timestamp, backed
// off by one interval so a fill landing mid-cycle is not missed (insert
// conflicts absorb the overlap), floored at the freshness window.
func (p *Poller) sinceBound(ctx context.Context) time.Time {
	var floor time.Time
	if p.cfg.Freshness > 0 {
		floor = p.now().Add(-p.cfg.Freshness)
	}

	last, err := p.store.LastTimestamp(ctx)
	if err != nil {
		p.logger.WarnContext(ctx, "last timestamp lookup failed", slog.String("error", err.Error()))
		return floor
	}
	if last.IsZero() {
		return floor
	}

	since := last.Add(-p.cfg.Interval)
	if since.Before(floor) {
		return floor
	}
	return since
}

func (p *Poller) pollLeader(ctx context.Context, leader string, since time.Time) {
	if p.limiter != nil && p.cfg.RateLimit > 0 {
		allowed, err := p.limiter.Allow(ctx, "dataapi", p.cfg.RateLimit, p.cfg.RateWindow)
		if err != nil {
			p.logger.WarnContext(ctx, "rate limiter unavailable, continuing",
				slog.String("error", err.Error()))
		} else if !allowed {
			p.logger.DebugContext(ctx, "data api budget exhausted, skipping leader this cycle",
				slog.String("leader", leader))
			return
		}
	}

	activities, err := p.source.UserActivity(ctx, leader, since, p.cfg.FetchLimit)
	if err != nil {
		be := domain.Classify(err)
		p.logger.With(be.Attrs()...).WarnContext(ctx, "activity fetch failed",
			slog.String("leader", leader))
		return
	}
	if len(activities) == 0 {
		return
	}

	inserted, err := p.store.InsertBatch(ctx, activities)
	if err != nil {
		p.logger.ErrorContext(ctx, "activity insert failed",
			slog.String("leader", leader),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, a := range activities {
		if err := p.sink.Enqueue(ctx, a); err != nil {
			return
		}
	}

	p.logger.DebugContext(ctx, "poll cycle complete",
		slog.String("leader", leader),
		slog.Int("fetched", len(activities)),
		slog.Int("new", inserted),
	)
}
