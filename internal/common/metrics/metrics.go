// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_cache_hits_total",
			Help: "Total number of cache hits by operation",
		},
		[]string{"operation"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_cache_misses_total",
			Help: "Total number of cache misses by operation",
		},
		[]string{"operation"},
	)

	StampedeLockAcquired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "search_stampede_lock_acquired_total",
			Help: "Times this process won the per-key compute lock",
		},
	)

	StampedeLockContended = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "search_stampede_lock_contended_total",
			Help: "Times the compute lock was held by another process",
		},
	)

	StampedeFallbackComputes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "search_stampede_fallback_computes_total",
			Help: "Duplicate local computations after lock-wait timeout",
		},
	)

	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "search_duration_seconds",
			Help: "Duration of search processing in seconds",
		},
		[]string{"operation"},
	)

	RepositoryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_repository_errors_total",
			Help: "Total repository failures by driver",
		},
		[]string{"driver"},
	)
)
