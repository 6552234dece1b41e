package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTxGuardClaim(t *testing.T) {
	g := NewMemoryTxGuard()
	ctx := context.Background()

	claimed, release, err := g.Claim(ctx, "0xtx1", time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed)
	require.NotNil(t, release)

	claimed, _, err = g.Claim(ctx, "0xtx1", time.Hour)
	require.NoError(t, err)
	assert.False(t, claimed, "live claim blocks a second claim")

	seen, err := g.Seen(ctx, "0xtx1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = g.Seen(ctx, "0xother")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestMemoryTxGuardRelease(t *testing.T) {
	g := NewMemoryTxGuard()
	ctx := context.Background()

	claimed, release, err := g.Claim(ctx, "0xtx1", time.Hour)
	require.NoError(t, err)
	require.True(t, claimed)

	release()

	claimed, _, err = g.Claim(ctx, "0xtx1", time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed, "released hash can be claimed again")
}

func TestMemoryTxGuardStaleReleaseIsNoop(t *testing.T) {
	base := time.Unix(1700000000, 0)
	g := NewMemoryTxGuard()
	g.now = func() time.Time { return base }

	_, firstRelease, err := g.Claim(context.Background(), "0xtx1", time.Minute)
	require.NoError(t, err)

	// First claim expires; a second caller claims the hash.
	base = base.Add(2 * time.Minute)
	claimed, _, err := g.Claim(context.Background(), "0xtx1", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	// The stale release must not drop the newer claim.
	firstRelease()
	seen, err := g.Seen(context.Background(), "0xtx1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestMemoryTxGuardExpiry(t *testing.T) {
	base := time.Unix(1700000000, 0)
	g := NewMemoryTxGuard()
	g.now = func() time.Time { return base }

	claimed, _, err := g.Claim(context.Background(), "0xtx1", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	base = base.Add(30 * time.Second)
	seen, err := g.Seen(context.Background(), "0xtx1")
	require.NoError(t, err)
	assert.True(t, seen)

	base = base.Add(31 * time.Second)
	seen, err = g.Seen(context.Background(), "0xtx1")
	require.NoError(t, err)
	assert.False(t, seen, "expired claim is no longer seen")

	claimed, _, err = g.Claim(context.Background(), "0xtx1", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed, "expired hash can be reclaimed")
}

func TestMemoryTxGuardDefaultTTL(t *testing.T) {
	g := NewMemoryTxGuard()

	claimed, _, err := g.Claim(context.Background(), "0xtx1", 0)
	require.NoError(t, err)
	require.True(t, claimed)

	seen, err := g.Seen(context.Background(), "0xtx1")
	require.NoError(t, err)
	assert.True(t, seen, "zero ttl falls back to the default claim lifetime")
}
