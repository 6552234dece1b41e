// Package executor drives copy execution: it picks up ingested leader fills,
// validates and sizes them, and either posts mirror orders directly or hands
// them to the aggregation buffer. Marker state in the activity store makes
// every fill's outcome durable across restarts.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/copytraderbot/internal/aggregate"
	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

const (
	// DefaultDrainInterval is how often the engine polls the aggregation
	// buffer for ready buckets.
	DefaultDrainInterval = 5 * time.Second

	// DefaultQueueSize is the activity channel capacity.
	DefaultQueueSize = 256

	// shutdownDrainTimeout bounds the final buffer drain after the run
	// context is cancelled.
	shutdownDrainTimeout = 10 * time.Second
)

// OrderPoster submits one copy order to the exchange.
type OrderPoster interface {
	PostOrder(ctx context.Context, order domain.CopyOrder) (domain.OrderResult, error)
}

// Notifier is the subset of the notification dispatcher the engine uses.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config tunes the execution engine.
type Config struct {
	Follower      string        // follower wallet address, passed to validation
	DrainInterval time.Duration // aggregation drain poll, default 5s
	QueueSize     int           // activity channel capacity, default 256
	ClaimTTL      time.Duration // tx guard claim lifetime, default 24h
}

// Deps are the engine's collaborators, constructed by the app container.
// Buffer nil disables aggregation (every valid fill posts directly); Audit
// and Notifier nil disable their side channels.
type Deps struct {
	Validator  *Validator
	Activities domain.ActivityStore
	Orders     domain.CopyOrderStore
	Audit      domain.AuditStore
	Guard      domain.TxGuard
	Clob       OrderPoster
	Buffer     *aggregate.Buffer
	Notifier   Notifier
	Logger     *slog.Logger
}

// Engine is the copy execution loop. At most one worker advances a given
// activity past IN_FLIGHT: the store-level pickup CAS decides ownership, so
// the poller and the live feed can race over the same fills safely.
type Engine struct {
	cfg        Config
	validator  *Validator
	activities domain.ActivityStore
	orders     domain.CopyOrderStore
	audit      domain.AuditStore
	guard      domain.TxGuard
	clob       OrderPoster
	buffer     *aggregate.Buffer
	notifier   Notifier
	logger     *slog.Logger

	queue chan domain.Activity
	now   func() time.Time
}

// NewEngine creates an Engine. Zero config fields take defaults.
func NewEngine(cfg Config, deps Deps) *Engine {
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = DefaultDrainInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = defaultClaimTTL
	}
	return &Engine{
		cfg:        cfg,
		validator:  deps.Validator,
		activities: deps.Activities,
		orders:     deps.Orders,
		audit:      deps.Audit,
		guard:      deps.Guard,
		clob:       deps.Clob,
		buffer:     deps.Buffer,
		notifier:   deps.Notifier,
		logger:     deps.Logger.With(slog.String("component", "engine")),
		queue:      make(chan domain.Activity, cfg.QueueSize),
		now:        time.Now,
	}
}

// Enqueue hands an activity to the engine loop. It blocks when the queue is
// full and returns the context error on cancellation.
func (e *Engine) Enqueue(ctx context.Context, activity domain.Activity) error {
	select {
	case e.queue <- activity:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes the activity queue and periodically drains the aggregation
// buffer until the context is cancelled. It returns the context error on
// clean shutdown; any other error is a critical failure the caller should
// treat as fatal.
func (e *Engine) Run(ctx context.Context) error {
	var drain <-chan time.Time
	if e.buffer != nil {
		ticker := time.NewTicker(e.cfg.DrainInterval)
		defer ticker.Stop()
		drain = ticker.C
	}

	e.logger.InfoContext(ctx, "engine started",
		slog.Bool("aggregation", e.buffer != nil),
		slog.Int("queue_size", e.cfg.QueueSize),
	)

	for {
		select {
		case <-ctx.Done():
			e.shutdownDrain(ctx)
			return ctx.Err()
		case activity := <-e.queue:
			if err := e.ExecuteTrade(ctx, activity); err != nil {
				return err
			}
		case <-drain:
			if err := e.drainBuffer(ctx); err != nil {
				return err
			}
		}
	}
}

// ExecuteTrade mirrors one leader fill end to end: pickup CAS, validation,
// duplicate claim, then buffering or a direct post. Only critical
// non-retryable failures return an error; everything else settles the
// activity's marker and returns nil.
func (e *Engine) ExecuteTrade(ctx context.Context, activity domain.Activity) error {
	log := e.logger.With(
		slog.String("activity_id", activity.ID),
		slog.String("leader", activity.Leader),
		slog.String("side", string(activity.Side)),
	)

	picked, err := e.activities.MarkInFlight(ctx, activity.ID, e.now())
	if err != nil {
		// The row stays UNSEEN, so a later poll re-enqueues it.
		log.ErrorContext(ctx, "pickup failed", slog.String("error", err.Error()))
		return nil
	}
	if !picked {
		log.DebugContext(ctx, "already picked up")
		return nil
	}

	result, err := e.validator.ValidateTrade(ctx, activity, e.cfg.Follower)
	if err != nil {
		return e.settleValidationFailure(ctx, log, activity, err)
	}

	if !result.Valid {
		e.markSkipped(ctx, log, activity.ID)
		log.InfoContext(ctx, "trade skipped",
			slog.String("reason", result.Reason),
			slog.Float64("my_balance", result.MyBalance),
			slog.Float64("sized_usd", result.Intent.FinalAmount),
		)
		if result.Reason == "Insufficient balance" {
			e.notify(ctx, "balance_low", "Balance too low",
				fmt.Sprintf("Skipped %s %s: %.2f USDC cannot fund the sized order.",
					activity.Side, activity.AssetID, result.MyBalance))
		}
		return nil
	}

	release := func() {}
	if claimed, rel, err := e.guard.Claim(ctx, activity.TxHash, e.cfg.ClaimTTL); err != nil {
		log.WarnContext(ctx, "tx claim unavailable, continuing", slog.String("error", err.Error()))
	} else if !claimed {
		e.markSkipped(ctx, log, activity.ID)
		log.InfoContext(ctx, "trade skipped", slog.String("reason", "Duplicate transaction"))
		return nil
	} else if rel != nil {
		release = rel
	}

	if e.buffer != nil {
		e.buffer.Add(activity, result.Intent.FinalAmount)
		log.InfoContext(ctx, "trade buffered",
			slog.Float64("sized_usd", result.Intent.FinalAmount),
			slog.Int("buckets", e.buffer.Size()),
		)
		return nil
	}

	order := e.newOrder(activity, result.Intent.FinalAmount)
	return e.postOrder(ctx, log, order, release)
}

// ExecuteAggregatedTrades posts one order per drained bucket, then settles
// every contributing activity. A bucket's post always precedes its marker
// writes; buckets are independent of each other.
func (e *Engine) ExecuteAggregatedTrades(ctx context.Context, trades []domain.AggregatedTrade) error {
	for _, trade := range trades {
		order := domain.CopyOrder{
			ID:          uuid.NewString(),
			ConditionID: trade.Key.ConditionID,
			AssetID:     trade.Key.AssetID,
			Side:        trade.Key.Side,
			SizeUSD:     trade.TotalUsdcSize,
			Price:       trade.AveragePrice,
			Type:        domain.OrderTypeFOK,
			ActivityIDs: trade.ActivityIDs(),
			CreatedAt:   e.now(),
		}
		log := e.logger.With(
			slog.String("order_id", order.ID),
			slog.String("leader", trade.Key.Leader),
			slog.Int("fills", len(order.ActivityIDs)),
		)
		if err := e.postOrder(ctx, log, order, nil); err != nil {
			return err
		}
	}
	return nil
}

// drainBuffer pulls ready buckets out of the aggregator, flags the
// below-minimum ones in the store, and posts the rest. The store write
// happens here, after the buffer lock is long released.
func (e *Engine) drainBuffer(ctx context.Context) error {
	if e.buffer == nil {
		return nil
	}
	emit, skipped := e.buffer.Drain()

	if len(skipped) > 0 {
		var ids []string
		for _, trade := range skipped {
			ids = append(ids, trade.ActivityIDs()...)
		}
		if err := e.activities.FlagAggregatorSkipped(ctx, ids); err != nil {
			e.logger.ErrorContext(ctx, "flag skipped buckets failed",
				slog.Int("activities", len(ids)),
				slog.String("error", err.Error()),
			)
		} else {
			e.logger.InfoContext(ctx, "buckets below minimum skipped",
				slog.Int("buckets", len(skipped)),
				slog.Int("activities", len(ids)),
			)
		}
	}

	return e.ExecuteAggregatedTrades(ctx, emit)
}

// shutdownDrain gives ready buckets one last chance to post before the
// process exits. Buckets whose window has not elapsed keep their activities
// IN_FLIGHT for manual reconciliation.
func (e *Engine) shutdownDrain(ctx context.Context) {
	if e.buffer == nil {
		return
	}
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownDrainTimeout)
	defer cancel()

	if err := e.drainBuffer(flushCtx); err != nil {
		e.logger.ErrorContext(flushCtx, "shutdown drain failed", slog.String("error", err.Error()))
	}
	if left := e.buffer.Size(); left > 0 {
		e.logger.WarnContext(flushCtx, "buckets left in flight at shutdown", slog.Int("buckets", left))
	}
}

// postOrder submits one order and settles the markers of its contributing
// activities. Success marks every contributor COMPLETED and records the
// order; failures route through the recovery policy.
func (e *Engine) postOrder(ctx context.Context, log *slog.Logger, order domain.CopyOrder, release func()) error {
	result, err := e.clob.PostOrder(ctx, order)
	if err != nil {
		return e.settlePostFailure(ctx, log, order, release, err)
	}

	order.Status = domain.OrderStatusPosted
	order.ExchangeID = result.OrderID

	completedAt := e.now()
	for _, id := range order.ActivityIDs {
		if err := e.activities.MarkCompleted(ctx, id, completedAt); err != nil {
			log.ErrorContext(ctx, "mark completed failed",
				slog.String("activity_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := e.orders.Insert(ctx, order); err != nil {
		log.ErrorContext(ctx, "record order failed", slog.String("error", err.Error()))
	}
	e.auditLog(ctx, "order_executed", map[string]any{
		"order_id":    order.ID,
		"exchange_id": order.ExchangeID,
		"asset_id":    order.AssetID,
		"side":        string(order.Side),
		"size_usd":    order.SizeUSD,
		"price":       order.Price,
		"fills":       len(order.ActivityIDs),
	})

	log.InfoContext(ctx, "order executed",
		slog.String("exchange_id", order.ExchangeID),
		slog.String("asset_id", order.AssetID),
		slog.Float64("size_usd", order.SizeUSD),
		slog.Float64("price", order.Price),
	)
	e.notify(ctx, "order_executed", "Order executed",
		fmt.Sprintf("%s %s for %.2f USDC at %.3f (%d fills)",
			order.Side, order.AssetID, order.SizeUSD, order.Price, len(order.ActivityIDs)))
	return nil
}

// settlePostFailure applies the recovery policy to a failed post. Retryable
// failures release the duplicate claim and leave markers IN_FLIGHT;
// non-retryable ones mark every contributor SKIPPED; critical failures
// propagate so the process shuts down.
func (e *Engine) settlePostFailure(ctx context.Context, log *slog.Logger, order domain.CopyOrder, release func(), err error) error {
	be := domain.Classify(err)
	log.With(be.Attrs()...).ErrorContext(ctx, "order post failed")

	e.auditLog(ctx, "order_failed", map[string]any{
		"order_id":  order.ID,
		"asset_id":  order.AssetID,
		"size_usd":  order.SizeUSD,
		"code":      be.Code,
		"retryable": be.Retryable,
	})
	e.notify(ctx, "order_failed", "Order failed",
		fmt.Sprintf("%s %s for %.2f USDC: %s", order.Side, order.AssetID, order.SizeUSD, be.Message))

	switch domain.RecoveryFor(be) {
	case domain.RecoveryShutdown:
		return err
	case domain.RecoveryRetry:
		if release != nil {
			release()
		}
		log.WarnContext(ctx, "activities left in flight for reconciliation",
			slog.Int("count", len(order.ActivityIDs)))
	default:
		for _, id := range order.ActivityIDs {
			e.markSkipped(ctx, log, id)
		}
	}
	return nil
}

// settleValidationFailure handles errors (not invalid decisions) out of the
// validator. Apart from critical shutdowns these never propagate: the
// activity is marked SKIPPED and the pipeline moves on.
func (e *Engine) settleValidationFailure(ctx context.Context, log *slog.Logger, activity domain.Activity, err error) error {
	be := domain.Classify(err)
	if domain.RecoveryFor(be) == domain.RecoveryShutdown {
		return err
	}
	e.markSkipped(ctx, log, activity.ID)
	log.With(be.Attrs()...).ErrorContext(ctx, "validation failed, trade skipped")
	return nil
}

func (e *Engine) newOrder(activity domain.Activity, sizeUSD float64) domain.CopyOrder {
	return domain.CopyOrder{
		ID:          uuid.NewString(),
		ConditionID: activity.ConditionID,
		AssetID:     activity.AssetID,
		Side:        activity.Side,
		SizeUSD:     sizeUSD,
		Price:       activity.Price,
		Type:        domain.OrderTypeFOK,
		ActivityIDs: []string{activity.ID},
		CreatedAt:   e.now(),
	}
}

func (e *Engine) markSkipped(ctx context.Context, log *slog.Logger, id string) {
	if err := e.activities.MarkSkipped(ctx, id); err != nil {
		log.ErrorContext(ctx, "mark skipped failed",
			slog.String("activity_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) notify(ctx context.Context, event, title, message string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, event, title, message); err != nil {
		e.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) auditLog(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.WarnContext(ctx, "audit write failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
