package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
	"github.com/alanyoungcy/copytraderbot/internal/sizing"
)

// BalanceProber reports the USDC balance of a wallet.
type BalanceProber interface {
	UsdcBalance(ctx context.Context, address string) (float64, error)
}

// PositionSource reports the follower's current net position in an asset.
type PositionSource interface {
	PositionSizeUSD(ctx context.Context, assetID string) (float64, error)
}

// Validator decides whether a leader fill should be mirrored. It combines
// the marker state, a staleness horizon, the transaction-hash duplicate
// guard, the on-chain balance probe, the stored position, and the sizing
// policy into one decision.
type Validator struct {
	sizing    sizing.Config
	freshness time.Duration
	guard     domain.TxGuard
	balances  BalanceProber
	positions PositionSource
	logger    *slog.Logger

	now func() time.Time
}

// NewValidator creates a Validator. freshness bounds how old a fill may be
// and still be mirrored; zero disables the staleness check.
func NewValidator(cfg sizing.Config, freshness time.Duration, guard domain.TxGuard,
	balances BalanceProber, positions PositionSource, logger *slog.Logger) *Validator {
	return &Validator{
		sizing:    cfg,
		freshness: freshness,
		guard:     guard,
		balances:  balances,
		positions: positions,
		logger:    logger.With(slog.String("component", "validator")),
		now:       time.Now,
	}
}

// ValidateTrade evaluates one activity for the follower wallet. Invalid
// decisions carry a reason; a valid decision carries the sized intent so the
// engine does not recompute it. Probe and store failures return an error
// rather than an invalid decision so the engine's recovery policy applies.
func (v *Validator) ValidateTrade(ctx context.Context, activity domain.Activity, followerAddress string) (domain.ValidationResult, error) {
	if activity.Marker.State != domain.MarkerUnseen {
		return invalid("Already processed"), nil
	}

	if v.freshness > 0 && v.now().Sub(activity.Timestamp) > v.freshness {
		return invalid("Trade too old"), nil
	}

	seen, err := v.guard.Seen(ctx, activity.TxHash)
	if err != nil {
		// The store-level pickup still dedupes in-process; degrade rather
		// than dropping the trade over a cache blip.
		v.logger.WarnContext(ctx, "tx guard unavailable, continuing",
			slog.String("tx_hash", activity.TxHash),
			slog.String("error", err.Error()),
		)
	} else if seen {
		return invalid("Duplicate transaction"), nil
	}

	myBalance, err := v.balances.UsdcBalance(ctx, followerAddress)
	if err != nil {
		return domain.ValidationResult{}, fmt.Errorf("executor: probe follower balance: %w", err)
	}

	// The leader balance is informational only; its probe must not block
	// the decision.
	userBalance, err := v.balances.UsdcBalance(ctx, activity.Leader)
	if err != nil {
		v.logger.WarnContext(ctx, "leader balance probe failed",
			slog.String("leader", activity.Leader),
			slog.String("error", err.Error()),
		)
		userBalance = 0
	}

	myPosition, err := v.positions.PositionSizeUSD(ctx, activity.AssetID)
	if err != nil {
		return domain.ValidationResult{}, fmt.Errorf("executor: load position for %s: %w", activity.AssetID, err)
	}

	intent := sizing.CalculateOrderSize(v.sizing, activity.UsdcSize, myBalance, myPosition)

	result := domain.ValidationResult{
		Intent:      intent,
		MyBalance:   myBalance,
		UserBalance: userBalance,
		MyPosition:  myPosition,
	}

	if intent.FinalAmount <= 0 {
		if intent.ReducedByBalance {
			result.Reason = "Insufficient balance"
		} else {
			result.Reason = "Below minimum"
		}
		return result, nil
	}

	result.Valid = true
	return result, nil
}

func invalid(reason string) domain.ValidationResult {
	return domain.ValidationResult{Reason: reason}
}
