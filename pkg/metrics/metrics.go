// Package metrics provides the Prometheus registry and exposition handler
// for the HTTP cache. All metrics are defined in their respective packages
// (client, cache, async, storage) to maintain modularity and avoid
// circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the cache.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects the metrics registered in Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the HTTP handler exposing all registered metrics.
func Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(Registry, promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{}))
}

// Metrics Documentation
//
// Engine Metrics (pkg/client):
//   - httpcache_cache_hits_total (Counter): Requests for which a stored entry was found
//   - httpcache_cache_misses_total (Counter): Requests without a stored entry
//   - httpcache_cache_updates_total (Counter): Entries revalidated with the origin
//   - httpcache_module_responses_total{reason} (Counter): Responses synthesized by the cache (options, non_compliant, gateway_timeout)
//   - httpcache_origin_requests_total{kind} (Counter): Origin calls (forward, conditional, unconditional, negotiate)
//   - httpcache_origin_request_duration_seconds{kind} (Histogram): Origin call latency
//
// Retry Metrics (pkg/client):
//   - httpcache_origin_retries_total{error_class} (Counter): Retry attempts by error class
//   - httpcache_origin_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - httpcache_origin_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Entry Metrics (pkg/cache):
//   - httpcache_entries_stored_total (Counter): Entries written
//   - httpcache_entries_updated_total (Counter): Entries freshened by 304 responses
//   - httpcache_entries_flushed_total (Counter): Entries removed by invalidation
//   - httpcache_entry_size_bytes (Histogram): Serialized entry size
//   - httpcache_cache_errors_total{operation} (Counter): Cache operation errors
//
// Revalidation Metrics (pkg/async):
//   - httpcache_revalidations_total{result} (Counter): Background revalidations (success, failure, panic, deduplicated, rejected)
//   - httpcache_revalidation_duration_seconds (Histogram): Background revalidation duration
//   - httpcache_revalidation_queue_depth (Gauge): Queued revalidations
//   - httpcache_revalidation_workers (Gauge): Live revalidation workers
//
// Storage Metrics (pkg/storage):
//   - httpcache_storage_errors_total{backend, operation} (Counter): Backend errors
//   - httpcache_storage_entries{backend} (Gauge): Entries held by bounded backends
//   - httpcache_storage_evictions_total{backend} (Counter): LRU evictions
//
// Example Prometheus Queries:
//
//	# Cache Hit Rate
//	sum(rate(httpcache_cache_hits_total[5m])) /
//	(sum(rate(httpcache_cache_hits_total[5m])) + sum(rate(httpcache_cache_misses_total[5m])))
//
//	# Revalidation Rate
//	rate(httpcache_cache_updates_total[5m])
//
//	# Origin Error Retries
//	sum by (error_class) (rate(httpcache_origin_retries_total[5m]))
//
//	# P95 Origin Latency
//	histogram_quantile(0.95, rate(httpcache_origin_request_duration_seconds_bucket[5m]))
//
//	# Gateway Timeouts Answered By The Cache
//	rate(httpcache_module_responses_total{reason="gateway_timeout"}[5m])
