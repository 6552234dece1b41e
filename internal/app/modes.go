package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/copytraderbot/internal/aggregate"
	"github.com/alanyoungcy/copytraderbot/internal/breaker"
	"github.com/alanyoungcy/copytraderbot/internal/crypto"
	"github.com/alanyoungcy/copytraderbot/internal/domain"
	"github.com/alanyoungcy/copytraderbot/internal/executor"
	"github.com/alanyoungcy/copytraderbot/internal/feed"
	"github.com/alanyoungcy/copytraderbot/internal/pipeline"
	"github.com/alanyoungcy/copytraderbot/internal/platform/polygon"
	"github.com/alanyoungcy/copytraderbot/internal/platform/polymarket"
)

// breakerPollInterval is how often the breaker watcher samples states.
const breakerPollInterval = 15 * time.Second

// CopyMode runs the full mirroring pipeline: activity ingestion (poll +
// optional live stream), validation and sizing, order execution, and the
// optional archive scheduler.
func (a *App) CopyMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting copy mode",
		slog.Int("leaders", len(a.cfg.Copy.Leaders)),
	)

	signer, err := a.newSigner()
	if err != nil {
		return fmt.Errorf("copy mode: load wallet: %w", err)
	}
	follower := a.cfg.Wallet.ProxyAddress
	if follower == "" {
		follower = signer.Address().Hex()
	}

	clob := polymarket.NewClobClient(a.cfg.Polymarket.ClobHost, signer, nil)
	clob.SetSignatureType(a.cfg.Polymarket.SignatureType)
	if err := clob.DeriveAPIKey(ctx); err != nil {
		return fmt.Errorf("copy mode: derive clob api key: %w", err)
	}

	balances, err := a.newBalanceChecker(ctx, deps)
	if err != nil {
		return fmt.Errorf("copy mode: %w", err)
	}
	defer balances.Close()

	validator, err := a.newValidator(deps, balances)
	if err != nil {
		return fmt.Errorf("copy mode: %w", err)
	}

	var buffer *aggregate.Buffer
	if window := a.cfg.Aggregation.Window.Duration; window > 0 {
		buffer = aggregate.New(window, a.cfg.Copy.MinOrderSizeUSD)
	}

	engine := executor.NewEngine(executor.Config{
		Follower:      follower,
		DrainInterval: a.cfg.Aggregation.DrainInterval.Duration,
	}, executor.Deps{
		Validator:  validator,
		Activities: deps.Activities,
		Orders:     deps.Orders,
		Audit:      deps.Audit,
		Guard:      deps.Guard,
		Clob:       clob,
		Buffer:     buffer,
		Notifier:   deps.Notifier,
		Logger:     a.logger,
	})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return engine.Run(ctx)
	})

	poller := a.newPoller(deps, engine)
	g.Go(func() error {
		return poller.Run(ctx)
	})

	a.startStream(ctx, g, deps, engine)

	g.Go(func() error {
		return a.watchBreakers(ctx, deps)
	})

	if a.cfg.Archive.Enabled {
		archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
		g.Go(func() error {
			return archiver.RunCron(ctx, a.cfg.Archive.Cron)
		})
	}

	return g.Wait()
}

// ObserveMode runs ingestion, validation, and sizing exactly as copy mode
// would, but only logs the decisions: no orders are posted and no markers
// advance, so switching to copy mode later starts from a clean slate.
func (a *App) ObserveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting observe mode",
		slog.Int("leaders", len(a.cfg.Copy.Leaders)),
	)

	follower := a.cfg.Wallet.ProxyAddress
	if follower == "" {
		signer, err := a.newSigner()
		if err != nil {
			return fmt.Errorf("observe mode: load wallet: %w", err)
		}
		follower = signer.Address().Hex()
	}

	balances, err := a.newBalanceChecker(ctx, deps)
	if err != nil {
		return fmt.Errorf("observe mode: %w", err)
	}
	defer balances.Close()

	validator, err := a.newValidator(deps, balances)
	if err != nil {
		return fmt.Errorf("observe mode: %w", err)
	}

	obs := newObserver(validator, follower, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	poller := a.newPoller(deps, obs)
	g.Go(func() error {
		return poller.Run(ctx)
	})

	a.startStream(ctx, g, deps, obs)

	g.Go(func() error {
		return a.watchBreakers(ctx, deps)
	})

	return g.Wait()
}

// ArchiveMode performs a single archival pass and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
	)

	archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	if err := archiver.Run(ctx); err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	return nil
}

// newSigner loads the wallet key (raw or encrypted file) and builds the
// EIP-712 signer for the configured chain.
func (a *App) newSigner() (*crypto.Signer, error) {
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, err
	}
	return crypto.NewSigner(key, a.cfg.Polymarket.ChainID)
}

// newBalanceChecker dials the RPC provider behind the "polygon-balance"
// breaker.
func (a *App) newBalanceChecker(ctx context.Context, deps *Dependencies) (*polygon.BalanceChecker, error) {
	br := deps.Breakers.Get("polygon-balance", breaker.Config{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
	})
	return polygon.NewBalanceChecker(ctx, a.cfg.Chain.RpcURL, a.cfg.Chain.UsdcContract, br, a.logger)
}

// newValidator builds the trade validator from the copy section.
func (a *App) newValidator(deps *Dependencies, balances executor.BalanceProber) (*executor.Validator, error) {
	sizingCfg, err := a.cfg.Copy.SizingConfig()
	if err != nil {
		return nil, fmt.Errorf("sizing config: %w", err)
	}
	return executor.NewValidator(
		sizingCfg,
		a.cfg.Copy.Freshness.Duration,
		deps.Guard,
		balances,
		deps.Orders,
		a.logger,
	), nil
}

// newPoller builds the data-api poller feeding the given sink.
func (a *App) newPoller(deps *Dependencies, sink feed.ActivitySink) *feed.Poller {
	dataClient := polymarket.NewDataClient(
		a.cfg.Polymarket.DataHost,
		deps.Fetcher,
		deps.Breakers.Get("data-api", breaker.Config{}),
		a.logger,
	)
	return feed.NewPoller(feed.PollerConfig{
		Leaders:    a.cfg.Copy.Leaders,
		Interval:   a.cfg.Copy.PollInterval.Duration,
		FetchLimit: a.cfg.Copy.FetchLimit,
		Freshness:  a.cfg.Copy.Freshness.Duration,
		RateLimit:  a.cfg.Copy.RateLimit,
		RateWindow: a.cfg.Copy.RateWindow.Duration,
	}, dataClient, deps.Activities, deps.RateLimiter, sink, a.logger)
}

// startStream launches the live WS feed when a host is configured. The
// stream is a latency supplement: if it fails while the run is still alive
// the mode degrades to polling instead of shutting down.
func (a *App) startStream(ctx context.Context, g *errgroup.Group, deps *Dependencies, sink feed.ActivitySink) {
	if a.cfg.Polymarket.WsHost == "" {
		return
	}
	stream := feed.NewStream(a.cfg.Polymarket.WsHost, a.cfg.Copy.Leaders, deps.Activities, sink, a.logger)
	g.Go(func() error {
		err := stream.Run(ctx)
		if err != nil && ctx.Err() == nil {
			a.logger.WarnContext(ctx, "live stream unavailable, continuing with polling only",
				slog.String("error", err.Error()),
			)
			return nil
		}
		return err
	})
}

// watchBreakers samples the breaker registry and raises a notification each
// time a breaker transitions to open, so a failing dependency is heard about
// before anyone reads the logs.
func (a *App) watchBreakers(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(breakerPollInterval)
	defer ticker.Stop()

	last := make(map[string]breaker.State)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, snap := range deps.Breakers.AllStates() {
				if snap.State == breaker.StateOpen && last[snap.Name] != breaker.StateOpen {
					a.logger.WarnContext(ctx, "circuit breaker opened",
						slog.String("breaker", snap.Name),
						slog.Int("failures", snap.FailureCount),
					)
					if err := deps.Notifier.Notify(ctx, "breaker_open", "Circuit breaker open",
						fmt.Sprintf("%s opened after %d consecutive failures.", snap.Name, snap.FailureCount)); err != nil {
						a.logger.WarnContext(ctx, "notification failed",
							slog.String("event", "breaker_open"),
							slog.String("error", err.Error()),
						)
					}
				}
				last[snap.Name] = snap.State
			}
		}
	}
}

// observer is the observe-mode sink: it runs each ingested fill through the
// validator and logs the verdict. Fills are remembered in-process so the
// poller's overlap window does not log the same fill twice.
type observer struct {
	validator *executor.Validator
	follower  string
	logger    *slog.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

func newObserver(validator *executor.Validator, follower string, logger *slog.Logger) *observer {
	return &observer{
		validator: validator,
		follower:  follower,
		logger:    logger.With(slog.String("component", "observer")),
		seen:      make(map[string]struct{}),
	}
}

// Enqueue implements feed.ActivitySink. It never returns an error: observe
// mode has nothing to recover.
func (o *observer) Enqueue(ctx context.Context, activity domain.Activity) error {
	o.mu.Lock()
	if _, dup := o.seen[activity.ID]; dup {
		o.mu.Unlock()
		return nil
	}
	o.seen[activity.ID] = struct{}{}
	o.mu.Unlock()

	log := o.logger.With(
		slog.String("activity_id", activity.ID),
		slog.String("leader", activity.Leader),
		slog.String("side", string(activity.Side)),
		slog.Float64("leader_usd", activity.UsdcSize),
	)

	result, err := o.validator.ValidateTrade(ctx, activity, o.follower)
	if err != nil {
		be := domain.Classify(err)
		log.With(be.Attrs()...).WarnContext(ctx, "would fail validation")
		return nil
	}
	if !result.Valid {
		log.InfoContext(ctx, "would skip", slog.String("reason", result.Reason))
		return nil
	}
	log.InfoContext(ctx, "would mirror",
		slog.Float64("sized_usd", result.Intent.FinalAmount),
		slog.Float64("price", activity.Price),
		slog.Float64("my_balance", result.MyBalance),
	)
	return nil
}
