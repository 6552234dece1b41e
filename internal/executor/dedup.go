package executor

import (
	"context"
	"sync"
	"time"
)

// defaultClaimTTL bounds how long a transaction hash stays claimed when the
// caller passes no TTL.
const defaultClaimTTL = 24 * time.Hour

// sweepEvery is how many guard operations pass between expiry sweeps.
const sweepEvery = 512

// MemoryTxGuard is the in-process domain.TxGuard used when Redis is not
// configured. Claims expire after their TTL; an opportunistic sweep keeps the
// map bounded. It is safe for concurrent use but offers no cross-process
// guarantees.
type MemoryTxGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time // txHash -> claim expiry
	ops  int

	now func() time.Time
}

// NewMemoryTxGuard creates an empty guard.
func NewMemoryTxGuard() *MemoryTxGuard {
	return &MemoryTxGuard{
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Claim records the transaction hash for ttl. It returns false when the hash
// already holds a live claim. The release func abandons the claim, but only
// while it is still the one this call created.
func (g *MemoryTxGuard) Claim(_ context.Context, txHash string, ttl time.Duration) (bool, func(), error) {
	if ttl <= 0 {
		ttl = defaultClaimTTL
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.ops++
	if g.ops%sweepEvery == 0 {
		g.sweep(now)
	}

	if expiry, ok := g.seen[txHash]; ok && now.Before(expiry) {
		return false, nil, nil
	}

	expiry := now.Add(ttl)
	g.seen[txHash] = expiry

	release := func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if cur, ok := g.seen[txHash]; ok && cur.Equal(expiry) {
			delete(g.seen, txHash)
		}
	}
	return true, release, nil
}

// Seen reports whether the transaction hash holds a live claim.
func (g *MemoryTxGuard) Seen(_ context.Context, txHash string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	expiry, ok := g.seen[txHash]
	return ok && g.now().Before(expiry), nil
}

// sweep drops expired claims. Caller holds the lock.
func (g *MemoryTxGuard) sweep(now time.Time) {
	for id, expiry := range g.seen {
		if !now.Before(expiry) {
			delete(g.seen, id)
		}
	}
}
