// Package startup guards one-time initialization work (schema setup, seeding)
// across concurrently booting worker processes.
package startup

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"leadscout/internal/cache"
	"leadscout/internal/common/logger"
)

const (
	markerPrefix = "init:done:"
	lockPrefix   = "init:lock:"
)

// InitFunc performs the one-time work. It MUST be idempotent ("ensure state X
// exists", not "create state X"): the guard makes duplicate execution rare,
// not impossible.
type InitFunc func(ctx context.Context) error

// Options bound the guard's waiting behavior.
type Options struct {
	LockLease    time.Duration // how long the initializer may hold the lock
	WaitTimeout  time.Duration // how long a non-initializer waits for the marker
	PollInterval time.Duration // marker poll cadence
}

// Guard coordinates RunOnce through the shared store's atomic primitives.
// Process-local mutexes are useless here: workers are separate OS processes.
type Guard struct {
	client *redis.Client
	lock   cache.DistributedLock
	opts   Options
	logger logger.Logger
}

func NewGuard(client *redis.Client, lock cache.DistributedLock, opts Options, log logger.Logger) *Guard {
	if opts.LockLease <= 0 {
		opts.LockLease = 30 * time.Second
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	return &Guard{
		client: client,
		lock:   lock,
		opts:   opts,
		logger: log.WithFields(map[string]interface{}{"component": "startup-guard"}),
	}
}

// RunOnce executes initFn exactly once across all processes sharing the store,
// under normal conditions. The winner runs initFn and sets a persistent marker;
// everyone else waits for the marker. A process that exhausts its wait runs
// initFn itself rather than starting against possibly-missing state — initFn's
// idempotence makes that safe.
//
// markerTTL bounds how long the marker suppresses re-initialization; zero
// means it never expires.
func (g *Guard) RunOnce(ctx context.Context, task string, markerTTL time.Duration, initFn InitFunc) error {
	markerKey := markerPrefix + task

	done, err := g.markerSet(ctx, markerKey)
	if err != nil {
		g.logger.Warn("marker check failed, running init locally", map[string]interface{}{
			"task": task, "error": err.Error(),
		})
		return initFn(ctx)
	}
	if done {
		return nil
	}

	token, acquired, err := g.lock.TryAcquire(ctx, lockPrefix+task, g.opts.LockLease)
	if err != nil {
		g.logger.Warn("init lock failed, running init locally", map[string]interface{}{
			"task": task, "error": err.Error(),
		})
		return initFn(ctx)
	}

	if acquired {
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
			defer cancel()
			_ = g.lock.Release(releaseCtx, lockPrefix+task, token)
		}()

		// A previous holder may have finished between our check and our acquire.
		if done, err := g.markerSet(ctx, markerKey); err == nil && done {
			return nil
		}

		g.logger.Info("running one-time initialization", map[string]interface{}{"task": task})
		if err := initFn(ctx); err != nil {
			return err
		}
		if err := g.client.Set(ctx, markerKey, time.Now().UTC().Format(time.RFC3339), markerTTL).Err(); err != nil {
			g.logger.Warn("marker write failed", map[string]interface{}{
				"task": task, "error": err.Error(),
			})
		}
		return nil
	}

	return g.waitForMarker(ctx, task, markerKey, initFn)
}

func (g *Guard) waitForMarker(ctx context.Context, task, markerKey string, initFn InitFunc) error {
	deadline := time.Now().Add(g.opts.WaitTimeout)

	for time.Now().Before(deadline) {
		select {
		case <-time.After(g.opts.PollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}

		if done, err := g.markerSet(ctx, markerKey); err == nil && done {
			return nil
		}
	}

	// The initializer is taking too long or died before writing the marker.
	// Running initFn here duplicates work at worst; starting without the
	// initialized state is the outcome that must never happen.
	g.logger.Warn("marker wait timed out, running init locally", map[string]interface{}{"task": task})
	return initFn(ctx)
}

func (g *Guard) markerSet(ctx context.Context, markerKey string) (bool, error) {
	_, err := g.client.Get(ctx, markerKey).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
