package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/points-ledger/internal/domain/ledger"
	"github.com/alem-hub/points-ledger/pkg/circuitbreaker"
)

func TestBalanceCache_UnreachableDegradesToMiss(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 200 * time.Millisecond,
	})
	t.Cleanup(func() { _ = client.Close() })

	c := NewBalanceCache(NewCacheFromClient(client, "test:"), time.Minute, nil)
	ctx := context.Background()

	for range 3 {
		b, ok, err := c.Get(ctx, "s-1")
		assert.Error(t, err)
		assert.False(t, ok)
		assert.Nil(t, b)
	}

	// The breaker is open now and answers without dialing.
	_, ok, err := c.Get(ctx, "s-1")
	assert.False(t, ok)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.ErrorIs(t, c.Invalidate(ctx, "s-1"), circuitbreaker.ErrCircuitOpen)
}

func TestCache_Key(t *testing.T) {
	c := NewCacheFromClient(nil, "points:")
	assert.Equal(t, "points:balance:s-1", c.Key(PrefixBalance, "s-1"))
	assert.Equal(t, "points:lock:job:charge_penalties", c.Key(PrefixLock, "job:charge_penalties"))
}

// ══════════════════════════════════════════════════════════════════════════════
// INTEGRATION (needs POINTS_TEST_REDIS_ADDR)
// ══════════════════════════════════════════════════════════════════════════════

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	addr := os.Getenv("POINTS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("POINTS_TEST_REDIS_ADDR not set")
	}
	cfg := DefaultConfig()
	cfg.Addr = addr
	cfg.KeyPrefix = "points-test:" + uuid.NewString() + ":"
	c, err := NewCache(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestBalanceCache_RoundTrip(t *testing.T) {
	c := NewBalanceCache(openTestCache(t), time.Minute, nil)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.False(t, ok)

	want := ledger.Balances{PointsTotal: 120, PointsBalance: 100, LifetimePoints: 1500}
	require.NoError(t, c.Set(ctx, "s-1", want))

	got, ok, err := c.Get(ctx, "s-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, *got)

	// Zero balances are still a hit.
	require.NoError(t, c.Set(ctx, "s-2", ledger.Balances{}))
	_, ok, err = c.Get(ctx, "s-2")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Invalidate(ctx, "s-1"))
	_, ok, err = c.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocker_Exclusive(t *testing.T) {
	l := NewLocker(openTestCache(t))
	ctx := context.Background()

	release, ok, err := l.TryLock(ctx, "job:charge_penalties", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "job:charge_penalties", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, release(ctx))
	assert.ErrorIs(t, release(ctx), ErrLockNotHeld)

	_, ok, err = l.TryLock(ctx, "job:charge_penalties", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
