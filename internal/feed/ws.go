package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
	"github.com/alanyoungcy/copytraderbot/internal/platform/polymarket"
)

// Stream bridges the live-data WebSocket into the same store-and-enqueue
// path the poller uses. It is a latency supplement: everything it delivers
// the poller would also pick up, one cycle later.
type Stream struct {
	wsURL   string
	leaders []string
	allowed map[string]bool
	store   domain.ActivityStore
	sink    ActivitySink
	logger  *slog.Logger
}

// NewStream creates a live trade stream for the given leader wallets.
func NewStream(wsURL string, leaders []string, store domain.ActivityStore,
	sink ActivitySink, logger *slog.Logger) *Stream {
	allowed := make(map[string]bool, len(leaders))
	for _, l := range leaders {
		allowed[strings.ToLower(l)] = true
	}
	return &Stream{
		wsURL:   wsURL,
		leaders: leaders,
		allowed: allowed,
		store:   store,
		sink:    sink,
		logger:  logger.With(slog.String("component", "stream")),
	}
}

// Run connects, subscribes, and dispatches fills until ctx is cancelled.
// The underlying client reconnects on its own, so only the initial connect
// can fail here.
func (s *Stream) Run(ctx context.Context) error {
	if len(s.leaders) == 0 {
		s.logger.InfoContext(ctx, "no leaders configured, stream exiting")
		return nil
	}

	client := polymarket.NewWSClient(s.wsURL)
	defer client.Close()

	client.OnTrade(func(a domain.Activity) {
		s.handleTrade(ctx, a)
	})

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("feed: connect live stream: %w", err)
	}
	if err := client.SubscribeTrades(ctx, s.leaders); err != nil {
		return fmt.Errorf("feed: subscribe trades: %w", err)
	}

	s.logger.InfoContext(ctx, "live trade stream connected",
		slog.String("url", s.wsURL),
		slog.Int("leaders", len(s.leaders)),
	)

	<-ctx.Done()
	return ctx.Err()
}

// handleTrade persists one pushed fill and hands it to the engine. The
// subscription is already server-side filtered; the membership check guards
// against stray payloads. Insert failures drop the event with a warning,
// the next poll cycle recovers it.
func (s *Stream) handleTrade(ctx context.Context, a domain.Activity) {
	if !s.allowed[a.Leader] {
		return
	}

	if _, err := s.store.InsertBatch(ctx, []domain.Activity{a}); err != nil {
		s.logger.WarnContext(ctx, "live trade insert failed",
			slog.String("activity_id", a.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := s.sink.Enqueue(ctx, a); err != nil {
		return
	}

	s.logger.DebugContext(ctx, "live trade ingested",
		slog.String("activity_id", a.ID),
		slog.String("leader", a.Leader),
		slog.String("side", string(a.Side)),
	)
}
