package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHitsTotal tracks requests for which a stored entry was found
	CacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "httpcache_cache_hits_total",
		Help: "Total number of requests for which a cache entry was found",
	})

	// CacheMissesTotal tracks requests without a stored entry
	CacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "httpcache_cache_misses_total",
		Help: "Total number of requests without a cache entry",
	})

	// CacheUpdatesTotal tracks successful revalidations
	CacheUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "httpcache_cache_updates_total",
		Help: "Total number of cache entries revalidated with the origin",
	})

	// ModuleResponsesTotal tracks responses synthesized by the cache layer
	ModuleResponsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "httpcache_module_responses_total",
		Help: "Total number of responses synthesized by the cache layer by reason",
	}, []string{"reason"}) // "options", "non_compliant", "gateway_timeout"

	// OriginRequestsTotal tracks origin calls by kind
	OriginRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "httpcache_origin_requests_total",
		Help: "Total number of origin requests by kind",
	}, []string{"kind"}) // "forward", "conditional", "unconditional", "negotiate"

	// OriginRequestDuration tracks origin call latency
	OriginRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "httpcache_origin_request_duration_seconds",
		Help:    "Origin request duration in seconds by kind",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"kind"})

	// OriginRetriesTotal tracks retry attempts by error class
	OriginRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "httpcache_origin_retries_total",
		Help: "Total number of origin retry attempts by error class",
	}, []string{"error_class"})

	// OriginRetryBackoffSeconds tracks backoff durations by error class
	OriginRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "httpcache_origin_retry_backoff_seconds",
		Help:    "Backoff duration for origin retries by error class",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"error_class"})

	// OriginRetryExhaustedTotal tracks requests that used up all attempts
	OriginRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "httpcache_origin_retry_exhausted_total",
		Help: "Total number of times origin retry attempts were exhausted by error class",
	}, []string{"error_class"})
)
