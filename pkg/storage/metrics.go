package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StorageErrors tracks backend operation errors
	StorageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpcache_storage_errors_total",
			Help: "Total number of storage backend operation errors",
		},
		[]string{"backend", "operation"}, // "get", "put", "delete", "update"
	)

	// StorageEntries tracks the number of keys held by bounded backends,
	// summed across instances
	StorageEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "httpcache_storage_entries",
			Help: "Current number of entries held by the storage backend",
		},
		[]string{"backend"}, // "memory"
	)

	// StorageEvictions tracks entries evicted by the memory backend
	StorageEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpcache_storage_evictions_total",
			Help: "Total number of entries evicted by the storage backend",
		},
		[]string{"backend"},
	)
)
