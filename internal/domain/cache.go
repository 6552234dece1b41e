package domain

import (
	"context"
	"time"
)

// TxGuard deduplicates leader fills by transaction hash across workers and
// restarts. Claim returns false when the hash was already claimed; the
// release func abandons the claim so a failed pickup can be retried.
type TxGuard interface {
	Claim(ctx context.Context, txHash string, ttl time.Duration) (claimed bool, release func(), err error)
	Seen(ctx context.Context, txHash string) (bool, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}
