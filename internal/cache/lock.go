// internal/cache/lock.go
package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	apperrors "leadscout/internal/common/errors"
)

// DistributedLock is a cross-process mutual-exclusion primitive. At most one
// holder per key at any instant; the lease bounds how long a crashed holder
// can block others. Implementable atop any store with an atomic
// set-if-absent-with-expiry.
type DistributedLock interface {
	// TryAcquire attempts to take the lock. ok=false with a nil error means
	// another process currently holds it. The returned token identifies this
	// holder and is required to release.
	TryAcquire(ctx context.Context, key string, lease time.Duration) (token string, ok bool, err error)

	// Release relinquishes the lock if token still owns it. Releasing an
	// expired or stolen lock is a no-op, not an error.
	Release(ctx context.Context, key, token string) error
}

// releaseScript deletes the lock only if the caller's token still owns it.
// GET+DEL as two calls would race against lease expiry and a new holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLock implements DistributedLock with SET NX EX and unique holder tokens.
type RedisLock struct {
	client *redis.Client
}

func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{client: client}
}

func (l *RedisLock) TryAcquire(ctx context.Context, key string, lease time.Duration) (string, bool, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, lease).Result()
	if err != nil {
		return "", false, apperrors.NewCacheUnavailableError(err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *RedisLock) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
		return apperrors.NewCacheUnavailableError(err)
	}
	return nil
}
