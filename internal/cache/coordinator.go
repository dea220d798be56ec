// Package cache implements the cache-aside coordination layer shared by all
// worker processes: TTL'd result storage plus distributed-lock stampede
// protection for cold keys.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"leadscout/internal/common/logger"
	"leadscout/internal/common/metrics"
	"leadscout/internal/leads"
)

const lockPrefix = "lock:"

// ComputeFunc produces a search result on cache miss. It must never be handed
// a request-scoped context: population should finish even if the original
// caller goes away, because every other waiter benefits from the write.
type ComputeFunc func(ctx context.Context) (*leads.SearchResult, error)

// Entry is the stored envelope. Redis TTL is authoritative for expiry, but the
// envelope repeats it so a reader can reject entries that outlived their
// intended lifetime (TTL-less stores, clock-skewed writers).
type Entry struct {
	CreatedAt time.Time     `json:"created_at"`
	TTLMillis int64         `json:"ttl_ms"`
	Result    *cachedResult `json:"result"`
}

// cachedLead re-adds TypologyValue, which the API model excludes from JSON.
// The cache must round-trip the full lead so a hit returns the exact object a
// miss would have computed.
type cachedLead struct {
	leads.ScoredLead
	TypologyValue float64 `json:"typology_value"`
}

type cachedResult struct {
	Count int          `json:"count"`
	Leads []cachedLead `json:"businesses"`
}

func newCachedResult(r *leads.SearchResult) *cachedResult {
	if r == nil {
		return nil
	}
	out := &cachedResult{Count: r.Count}
	if r.Leads != nil {
		out.Leads = make([]cachedLead, len(r.Leads))
		for i, l := range r.Leads {
			out.Leads[i] = cachedLead{ScoredLead: l, TypologyValue: l.TypologyValue}
		}
	}
	return out
}

func (c *cachedResult) searchResult() *leads.SearchResult {
	out := &leads.SearchResult{Count: c.Count}
	if c.Leads != nil {
		out.Leads = make([]leads.ScoredLead, len(c.Leads))
		for i, l := range c.Leads {
			sl := l.ScoredLead
			sl.TypologyValue = l.TypologyValue
			out.Leads[i] = sl
		}
	}
	return out
}

func (e *Entry) stale(now time.Time) bool {
	return now.After(e.CreatedAt.Add(time.Duration(e.TTLMillis) * time.Millisecond))
}

// Options bound the coordinator's suspension points.
type Options struct {
	TTL          time.Duration // cached result lifetime
	LockLease    time.Duration // compute lock lease, sized to expected compute time
	WaitTimeout  time.Duration // max total polling before duplicate local compute
	PollInterval time.Duration // initial poll backoff, doubles per attempt
}

// Coordinator implements cache-aside reads and writes over a shared store.
// Multiple independent processes may point at the same store; coordination
// happens exclusively through its atomic primitives, never through
// process-local state.
type Coordinator struct {
	client *redis.Client
	lock   DistributedLock
	opts   Options
	logger logger.Logger
}

func NewCoordinator(client *redis.Client, lock DistributedLock, opts Options, log logger.Logger) *Coordinator {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.LockLease <= 0 {
		opts.LockLease = 3 * time.Second
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 2 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 50 * time.Millisecond
	}
	return &Coordinator{
		client: client,
		lock:   lock,
		opts:   opts,
		logger: log.WithFields(map[string]interface{}{"component": "cache-coordinator"}),
	}
}

// Get returns the cached result for key, or nil on miss. A stale entry is a
// miss: it is deleted best-effort and never served.
func (c *Coordinator) Get(ctx context.Context, key string) (*leads.SearchResult, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Warn("dropping undecodable cache entry", map[string]interface{}{
			"key": key, "error": err.Error(),
		})
		c.client.Del(ctx, key)
		return nil, nil
	}

	if entry.stale(time.Now().UTC()) || entry.Result == nil {
		c.client.Del(ctx, key)
		return nil, nil
	}
	return entry.Result.searchResult(), nil
}

// Set stores value under key with the given ttl.
func (c *Coordinator) Set(ctx context.Context, key string, value *leads.SearchResult, ttl time.Duration) error {
	data, err := json.Marshal(Entry{
		CreatedAt: time.Now().UTC(),
		TTLMillis: ttl.Milliseconds(),
		Result:    newCachedResult(value),
	})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// setIfAbsent is the fallback writer's store: a loser that computed after a
// lock-wait timeout must not clobber a fresher write by the lock holder.
func (c *Coordinator) setIfAbsent(ctx context.Context, key string, value *leads.SearchResult, ttl time.Duration) error {
	data, err := json.Marshal(Entry{
		CreatedAt: time.Now().UTC(),
		TTLMillis: ttl.Milliseconds(),
		Result:    newCachedResult(value),
	})
	if err != nil {
		return err
	}
	return c.client.SetNX(ctx, key, data, ttl).Err()
}

// GetOrCompute is the stampede-safe entry point.
//
// Hit: return immediately. Miss: try the per-key compute lock. The winner
// re-checks the cache (another process may have just populated it), computes,
// stores, releases. A loser polls the cache with doubling backoff until the
// value appears or WaitTimeout elapses, then computes locally without the lock
// and stores with set-if-absent — bounded duplicate work instead of unbounded
// blocking. Errors are returned to the caller and never cached.
//
// If the cache store itself is down, the search must still answer: every store
// failure degrades to a local compute.
func (c *Coordinator) GetOrCompute(ctx context.Context, key string, compute ComputeFunc) (*leads.SearchResult, error) {
	op := operationOf(key)

	if result, err := c.Get(ctx, key); err == nil && result != nil {
		metrics.CacheHits.WithLabelValues(op).Inc()
		return result, nil
	} else if err != nil {
		c.logger.Warn("cache read failed, computing without cache", map[string]interface{}{
			"key": key, "error": err.Error(),
		})
		return compute(context.WithoutCancel(ctx))
	}
	metrics.CacheMisses.WithLabelValues(op).Inc()

	token, acquired, err := c.lock.TryAcquire(ctx, lockPrefix+key, c.opts.LockLease)
	if err != nil {
		c.logger.Warn("lock store failed, computing without cache", map[string]interface{}{
			"key": key, "error": err.Error(),
		})
		return compute(context.WithoutCancel(ctx))
	}

	if acquired {
		metrics.StampedeLockAcquired.Inc()
		return c.computeAsHolder(ctx, key, token, compute)
	}

	metrics.StampedeLockContended.Inc()
	return c.waitOrFallback(ctx, key, compute)
}

// computeAsHolder runs the winner's path: double-checked read, compute, store,
// release. Population uses a detached context so a cancelled caller still
// feeds the waiters.
func (c *Coordinator) computeAsHolder(ctx context.Context, key, token string, compute ComputeFunc) (*leads.SearchResult, error) {
	detached := context.WithoutCancel(ctx)
	defer func() {
		releaseCtx, cancel := context.WithTimeout(detached, time.Second)
		defer cancel()
		if err := c.lock.Release(releaseCtx, lockPrefix+key, token); err != nil {
			c.logger.Warn("lock release failed", map[string]interface{}{
				"key": key, "error": err.Error(),
			})
		}
	}()

	// Another process may have populated the key between our miss and our
	// acquire; its write wins.
	if result, err := c.Get(detached, key); err == nil && result != nil {
		return result, nil
	}

	result, err := compute(detached)
	if err != nil {
		return nil, err
	}

	if err := c.Set(detached, key, result, c.opts.TTL); err != nil {
		c.logger.Warn("cache write failed", map[string]interface{}{
			"key": key, "error": err.Error(),
		})
	}
	return result, nil
}

// waitOrFallback runs the loser's path: poll for the winner's write with
// doubling backoff, bounded by WaitTimeout, then accept duplicate work.
func (c *Coordinator) waitOrFallback(ctx context.Context, key string, compute ComputeFunc) (*leads.SearchResult, error) {
	deadline := time.Now().Add(c.opts.WaitTimeout)
	interval := c.opts.PollInterval

	for time.Now().Before(deadline) {
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			// Caller is gone; fall through to the fallback compute so the
			// cache still gets populated for everyone else.
			return c.computeFallback(ctx, key, compute)
		}

		if result, err := c.Get(ctx, key); err == nil && result != nil {
			return result, nil
		}

		interval *= 2
		if remaining := time.Until(deadline); interval > remaining {
			interval = remaining
		}
	}

	return c.computeFallback(ctx, key, compute)
}

func (c *Coordinator) computeFallback(ctx context.Context, key string, compute ComputeFunc) (*leads.SearchResult, error) {
	metrics.StampedeFallbackComputes.Inc()

	detached := context.WithoutCancel(ctx)
	result, err := compute(detached)
	if err != nil {
		return nil, err
	}

	if err := c.setIfAbsent(detached, key, result, c.opts.TTL); err != nil {
		c.logger.Warn("fallback cache write failed", map[string]interface{}{
			"key": key, "error": err.Error(),
		})
	}
	return result, nil
}

// operationOf labels metrics by the key's namespace segment ("search:v1:..." → "search").
func operationOf(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return "unknown"
}
