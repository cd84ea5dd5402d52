package redis

import (
	"context"
	"errors"
	"time"

	"github.com/alem-hub/points-ledger/internal/application/port"
	"github.com/alem-hub/points-ledger/internal/domain/ledger"
	"github.com/alem-hub/points-ledger/pkg/circuitbreaker"
	"github.com/alem-hub/points-ledger/pkg/logger"
)

// cachedBalances is the wire form stored under balance:<student_id>.
type cachedBalances struct {
	PointsTotal    int `json:"points_total"`
	PointsBalance  int `json:"points_balance"`
	LifetimePoints int `json:"lifetime_points"`
}

// BalanceCache implements port.BalanceCache.
type BalanceCache struct {
	cache   *Cache
	ttl     time.Duration
	breaker *circuitbreaker.Breaker
}

var _ port.BalanceCache = (*BalanceCache)(nil)

// NewBalanceCache creates a BalanceCache. State changes of the breaker are
// logged through log.
func NewBalanceCache(cache *Cache, ttl time.Duration, log *logger.Logger) *BalanceCache {
	if ttl <= 0 {
		ttl = TTLBalance
	}
	if log == nil {
		log = logger.Nop()
	}
	return &BalanceCache{
		cache: cache,
		ttl:   ttl,
		breaker: circuitbreaker.RedisBreaker("redis-balance-cache", func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.Component(name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		}),
	}
}

func (c *BalanceCache) key(studentID string) string {
	return c.cache.Key(PrefixBalance, studentID)
}

// Get returns the cached balances. ok=false with a nil error is a plain miss.
func (c *BalanceCache) Get(ctx context.Context, studentID string) (*ledger.Balances, bool, error) {
	v, err := circuitbreaker.Call(ctx, c.breaker, func(ctx context.Context) (*cachedBalances, error) {
		var v cachedBalances
		if err := c.cache.Get(ctx, c.key(studentID), &v); err != nil {
			if errors.Is(err, ErrCacheMiss) {
				return nil, nil
			}
			return nil, err
		}
		return &v, nil
	})
	if err != nil || v == nil {
		return nil, false, err
	}
	return &ledger.Balances{
		PointsTotal:    v.PointsTotal,
		PointsBalance:  v.PointsBalance,
		LifetimePoints: v.LifetimePoints,
	}, true, nil
}

// Set stores balances with the configured TTL.
func (c *BalanceCache) Set(ctx context.Context, studentID string, b ledger.Balances) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.cache.Set(ctx, c.key(studentID), cachedBalances{
			PointsTotal:    b.PointsTotal,
			PointsBalance:  b.PointsBalance,
			LifetimePoints: b.LifetimePoints,
		}, c.ttl)
	})
}

// Invalidate drops the cached balances.
func (c *BalanceCache) Invalidate(ctx context.Context, studentID string) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.cache.Delete(ctx, c.key(studentID))
	})
}
