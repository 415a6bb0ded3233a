package async

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RevalidationsTotal tracks background revalidations by outcome
	RevalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpcache_revalidations_total",
			Help: "Total number of background revalidations by result",
		},
		[]string{"result"}, // "success", "failure", "panic", "rejected", "deduplicated"
	)

	// RevalidationDuration tracks successful revalidation duration
	RevalidationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "httpcache_revalidation_duration_seconds",
			Help:    "Duration of successful background revalidations",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RevalidationQueueDepth tracks revalidations waiting for a worker
	RevalidationQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpcache_revalidation_queue_depth",
			Help: "Number of background revalidations waiting for a worker",
		},
	)

	// RevalidationWorkers tracks live workers
	RevalidationWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpcache_revalidation_workers",
			Help: "Number of live background revalidation workers",
		},
	)
)
