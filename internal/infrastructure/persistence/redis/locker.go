package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/points-ledger/internal/application/port"
)

// ErrLockNotHeld is returned by release when the lock expired or was taken over.
var ErrLockNotHeld = errors.New("lock: not held")

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker implements port.Locker with SET NX PX and a token-checked release.
type Locker struct {
	cache *Cache
}

var _ port.Locker = (*Locker)(nil)

// NewLocker creates a Locker.
func NewLocker(cache *Cache) *Locker {
	return &Locker{cache: cache}
}

// TryLock takes lock:<key> for ttl.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	if key == "" {
		return nil, false, ErrCacheKeyEmpty
	}

	fullKey := l.cache.Key(PrefixLock, key)
	token := uuid.NewString()

	ok, err := l.cache.Client().SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.cache.Client(), []string{fullKey}, token).Int()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrLockNotHeld
		}
		return nil
	}
	return release, true, nil
}
