package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheEntriesStored tracks entries written to storage
	CacheEntriesStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "httpcache_entries_stored_total",
			Help: "Total number of cache entries written to storage",
		},
	)

	// CacheEntriesUpdated tracks entries freshened by a 304 response
	CacheEntriesUpdated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "httpcache_entries_updated_total",
			Help: "Total number of cache entries updated from 304 Not Modified responses",
		},
	)

	// CacheEntriesFlushed tracks entries removed by invalidation
	CacheEntriesFlushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "httpcache_entries_flushed_total",
			Help: "Total number of cache entries removed by invalidation",
		},
	)

	// CacheEntrySize tracks serialized entry sizes
	CacheEntrySize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "httpcache_entry_size_bytes",
			Help:    "Size of serialized cache entries in bytes",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpcache_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "put", "update", "delete"
	)
)
