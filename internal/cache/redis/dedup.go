package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// releaseLua deletes a claim key only if its value matches the caller's
// unique token. This prevents one claimant from accidentally releasing
// another claimant's entry after its own TTL lapsed.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// defaultClaimTTL bounds how long a transaction hash stays claimed when the
// caller does not specify a TTL.
const defaultClaimTTL = 24 * time.Hour

// TxGuard implements domain.TxGuard using Redis SETNX with a TTL and a
// Lua-based conditional release. It deduplicates transaction hashes across
// processes and restarts: a transaction that filled both legs of a market
// still produces exactly one claim.
type TxGuard struct {
	rdb       *redis.Client
	releaseSc *redis.Script
}

// NewTxGuard creates a TxGuard backed by the given Client.
func NewTxGuard(c *Client) *TxGuard {
	return &TxGuard{
		rdb:       c.Underlying(),
		releaseSc: redis.NewScript(releaseLua),
	}
}

func txKey(txHash string) string {
	return "copytrader:tx:" + txHash
}

// Claim attempts to claim the transaction hash for the given TTL. On success
// it returns a release func that abandons the claim so a failed mirror can
// be retried; the func is safe to call more than once and only removes this
// caller's own claim.
func (g *TxGuard) Claim(ctx context.Context, txHash string, ttl time.Duration) (bool, func(), error) {
	if ttl <= 0 {
		ttl = defaultClaimTTL
	}

	token := uuid.New().String()
	key := txKey(txHash)

	ok, err := g.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, nil, fmt.Errorf("redis: claim tx %s: %w", txHash, err)
	}
	if !ok {
		return false, nil, nil
	}

	released := false
	release := func() {
		if released {
			return
		}
		released = true

		// Use a background context so release succeeds even if the caller's
		// context is already cancelled.
		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = g.releaseSc.Run(relCtx, g.rdb, []string{key}, token).Err()
	}

	return true, release, nil
}

// Seen reports whether the transaction hash holds a live claim.
func (g *TxGuard) Seen(ctx context.Context, txHash string) (bool, error) {
	n, err := g.rdb.Exists(ctx, txKey(txHash)).Result()
	if err != nil {
		return false, fmt.Errorf("redis: seen tx %s: %w", txHash, err)
	}
	return n > 0, nil
}

// Compile-time interface check.
var _ domain.TxGuard = (*TxGuard)(nil)
