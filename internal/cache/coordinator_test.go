package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadscout/internal/common/logger"
	"leadscout/internal/leads"
)

func testResult(count int) *leads.SearchResult {
	result := &leads.SearchResult{Count: count}
	for i := 0; i < count; i++ {
		result.Leads = append(result.Leads, leads.ScoredLead{
			Business: leads.Business{
				ID:            fmt.Sprintf("biz_%03d", i+1),
				IAECode:       "G651.2",
				TypologyValue: 450 + float64(i)*10,
			},
			DistanceFromSearchM: float64(i) * 100,
			Metric:              0.9 - float64(i)*0.1,
		})
	}
	return result
}

func newTestCoordinator(t *testing.T, client *redis.Client, opts Options) *Coordinator {
	return NewCoordinator(client, NewRedisLock(client), opts, logger.NewTestLogger(t))
}

func TestCoordinator_GetMissOnEmptyStore(t *testing.T) {
	_, client := setupRedis(t)
	c := newTestCoordinator(t, client, Options{})

	got, err := c.Get(context.Background(), "search:v1:none")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCoordinator_SetThenGet(t *testing.T) {
	_, client := setupRedis(t)
	c := newTestCoordinator(t, client, Options{})
	ctx := context.Background()

	want := testResult(2)
	require.NoError(t, c.Set(ctx, "search:v1:abc", want, 5*time.Minute))

	got, err := c.Get(ctx, "search:v1:abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want, got)

	// Fields the API layer hides from JSON still survive the round trip.
	assert.Equal(t, 450.0, got.Leads[0].TypologyValue)
	assert.Equal(t, 460.0, got.Leads[1].TypologyValue)
}

func TestCoordinator_TTLExpiryIsMiss(t *testing.T) {
	srv, client := setupRedis(t)
	c := newTestCoordinator(t, client, Options{})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "search:v1:exp", testResult(1), 300*time.Millisecond))

	srv.FastForward(time.Second)

	got, err := c.Get(ctx, "search:v1:exp")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCoordinator_StaleEnvelopeIsMissAndDeleted(t *testing.T) {
	// Store TTL says alive, envelope says expired: the envelope wins and the
	// entry is removed, same as a miss.
	_, client := setupRedis(t)
	c := newTestCoordinator(t, client, Options{})
	ctx := context.Background()

	data, err := json.Marshal(Entry{
		CreatedAt: time.Now().UTC().Add(-10 * time.Minute),
		TTLMillis: (5 * time.Minute).Milliseconds(),
		Result:    newCachedResult(testResult(1)),
	})
	require.NoError(t, err)
	require.NoError(t, client.Set(ctx, "search:v1:stale", data, time.Hour).Err())

	got, err := c.Get(ctx, "search:v1:stale")
	require.NoError(t, err)
	assert.Nil(t, got)

	exists, err := client.Exists(ctx, "search:v1:stale").Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func TestCoordinator_UndecodableEntryIsMiss(t *testing.T) {
	_, client := setupRedis(t)
	c := newTestCoordinator(t, client, Options{})
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "search:v1:junk", "{not json", time.Hour).Err())

	got, err := c.Get(ctx, "search:v1:junk")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetOrCompute_ComputesOnceWithinTTL(t *testing.T) {
	_, client := setupRedis(t)
	c := newTestCoordinator(t, client, Options{TTL: 5 * time.Minute})
	ctx := context.Background()

	var calls int32
	compute := func(ctx context.Context) (*leads.SearchResult, error) {
		atomic.AddInt32(&calls, 1)
		return testResult(3), nil
	}

	first, err := c.GetOrCompute(ctx, "search:v1:same", compute)
	require.NoError(t, err)
	second, err := c.GetOrCompute(ctx, "search:v1:same", compute)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "second call must be served from cache")
	assert.Equal(t, first, second)
}

func TestGetOrCompute_ErrorsAreNotCached(t *testing.T) {
	_, client := setupRedis(t)
	c := newTestCoordinator(t, client, Options{})
	ctx := context.Background()

	var calls int32
	failing := func(ctx context.Context) (*leads.SearchResult, error) {
		atomic.AddInt32(&calls, 1)
		return nil, fmt.Errorf("repository down")
	}

	_, err := c.GetOrCompute(ctx, "search:v1:err", failing)
	require.Error(t, err)
	_, err = c.GetOrCompute(ctx, "search:v1:err", failing)
	require.Error(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "failures must recompute, never serve a cached error")

	exists, err := client.Exists(ctx, "search:v1:err").Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func TestGetOrCompute_StampedeBoundedAcrossProcesses(t *testing.T) {
	srv, _ := setupRedis(t)
	ctx := context.Background()

	const workers = 8

	var calls int32
	compute := func(ctx context.Context) (*leads.SearchResult, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(50 * time.Millisecond) // simulate a slow repository
		return testResult(2), nil
	}

	// Each goroutine gets its own client and Coordinator: separate processes
	// sharing nothing but the store.
	var wg sync.WaitGroup
	results := make([]*leads.SearchResult, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
			defer client.Close()

			c := NewCoordinator(client, NewRedisLock(client), Options{
				TTL:          5 * time.Minute,
				LockLease:    3 * time.Second,
				WaitTimeout:  2 * time.Second,
				PollInterval: 10 * time.Millisecond,
			}, logger.NewNoOpLogger())

			results[i], errs[i] = c.GetOrCompute(ctx, "search:v1:cold", compute)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		assert.Equal(t, results[0], results[i], "all processes must observe the same result")
	}

	got := atomic.LoadInt32(&calls)
	assert.GreaterOrEqual(t, got, int32(1))
	assert.Less(t, got, int32(workers), "a cold-key stampede must not fan out to every process")
}

func TestGetOrCompute_FallbackAfterLockTimeout(t *testing.T) {
	srv, client := setupRedis(t)
	ctx := context.Background()

	// Another process holds the lock and never writes the value (crashed after
	// acquiring). The waiter must time out and compute locally.
	holder := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer holder.Close()
	_, ok, err := NewRedisLock(holder).TryAcquire(ctx, "lock:search:v1:stuck", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	c := newTestCoordinator(t, client, Options{
		TTL:          5 * time.Minute,
		LockLease:    3 * time.Second,
		WaitTimeout:  200 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
	})

	var calls int32
	compute := func(ctx context.Context) (*leads.SearchResult, error) {
		atomic.AddInt32(&calls, 1)
		return testResult(1), nil
	}

	start := time.Now()
	got, err := c.GetOrCompute(ctx, "search:v1:stuck", compute)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Less(t, time.Since(start), 2*time.Second, "lock contention must never block unboundedly")

	// The fallback write populated the cache for later callers.
	cached, err := c.Get(ctx, "search:v1:stuck")
	require.NoError(t, err)
	assert.Equal(t, got, cached)
}

func TestGetOrCompute_WaiterPicksUpWinnersWrite(t *testing.T) {
	srv, client := setupRedis(t)
	ctx := context.Background()

	holder := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer holder.Close()
	_, ok, err := NewRedisLock(holder).TryAcquire(ctx, "lock:search:v1:warm", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	c := newTestCoordinator(t, client, Options{
		TTL:          5 * time.Minute,
		WaitTimeout:  time.Second,
		PollInterval: 10 * time.Millisecond,
	})

	want := testResult(2)
	go func() {
		// The "winner" finishes its compute shortly after the waiter starts polling.
		time.Sleep(50 * time.Millisecond)
		holderCoord := NewCoordinator(holder, NewRedisLock(holder), Options{TTL: 5 * time.Minute}, logger.NewNoOpLogger())
		_ = holderCoord.Set(context.Background(), "search:v1:warm", want, 5*time.Minute)
	}()

	compute := func(ctx context.Context) (*leads.SearchResult, error) {
		t.Error("waiter must not compute when the winner's write appears in time")
		return nil, nil
	}

	got, err := c.GetOrCompute(ctx, "search:v1:warm", compute)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestGetOrCompute_CacheStoreDownStillAnswers(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewCoordinator(client, NewRedisLock(client), Options{}, logger.NewNoOpLogger())

	mock.ExpectGet("search:v1:down").SetErr(fmt.Errorf("connection refused"))

	want := testResult(1)
	got, err := c.GetOrCompute(context.Background(), "search:v1:down", func(ctx context.Context) (*leads.SearchResult, error) {
		return want, nil
	})
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}
