package client

import (
	"fmt"
	"time"

	"github.com/Sternrassler/httpcache/pkg/async"
	"github.com/Sternrassler/httpcache/pkg/policy"
)

// Config holds the caching engine configuration.
type Config struct {
	// SharedCache applies shared (proxy) cache rules: s-maxage,
	// proxy-revalidate, private and Authorization handling
	SharedCache bool

	// MaxObjectSize is the largest cacheable response body in bytes
	MaxObjectSize int64

	// NeverCacheHTTP10ResponsesWithQuery refuses HTTP/1.0 responses to
	// requests carrying a query string
	NeverCacheHTTP10ResponsesWithQuery bool

	// Heuristic freshness for responses without explicit expiration
	HeuristicCaching         bool
	HeuristicCoefficient     float64
	HeuristicDefaultLifetime time.Duration

	// StaleWhileRevalidate is the default stale-while-revalidate window
	// for entries without the directive (0 = directive only)
	StaleWhileRevalidate time.Duration

	// StaleIfError is the default stale-if-error window (0 = directive only)
	StaleIfError time.Duration

	// Background revalidation pool (AsyncWorkersMax 0 disables it)
	AsyncWorkersCore        int
	AsyncWorkersMax         int
	AsyncWorkerIdleLifetime time.Duration
	RevalidationQueueSize   int
	RevalidationTimeout     time.Duration
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		SharedCache:             true,
		MaxObjectSize:           1 << 20,
		HeuristicCoefficient:    0.1,
		AsyncWorkersCore:        1,
		AsyncWorkersMax:         1,
		AsyncWorkerIdleLifetime: 60 * time.Second,
		RevalidationQueueSize:   100,
		RevalidationTimeout:     30 * time.Second,
	}
}

func (c Config) validate() error {
	if c.MaxObjectSize < 0 {
		return fmt.Errorf("max_object_size must be >= 0 (got %d)", c.MaxObjectSize)
	}
	if c.HeuristicCoefficient < 0 || c.HeuristicCoefficient > 1 {
		return fmt.Errorf("heuristic_coefficient must be between 0 and 1 (got %v)", c.HeuristicCoefficient)
	}
	if c.StaleWhileRevalidate < 0 || c.StaleIfError < 0 || c.HeuristicDefaultLifetime < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if c.AsyncWorkersMax < 0 {
		return fmt.Errorf("async_workers_max must be >= 0 (got %d)", c.AsyncWorkersMax)
	}
	if c.AsyncWorkersMax > 0 && (c.AsyncWorkersCore < 0 || c.AsyncWorkersCore > c.AsyncWorkersMax) {
		return fmt.Errorf("async_workers_core must be between 0 and async_workers_max (got %d)", c.AsyncWorkersCore)
	}
	return nil
}

func (c Config) validityPolicy() policy.ValidityPolicy {
	return policy.ValidityPolicy{
		SharedCache:              c.SharedCache,
		HeuristicCaching:         c.HeuristicCaching,
		HeuristicCoefficient:     c.HeuristicCoefficient,
		HeuristicDefaultLifetime: c.HeuristicDefaultLifetime,
		StaleWhileRevalidate:     c.StaleWhileRevalidate,
		StaleIfError:             c.StaleIfError,
	}
}

func (c Config) responseCachingPolicy() policy.ResponseCachingPolicy {
	return policy.ResponseCachingPolicy{
		MaxObjectSize:                      c.MaxObjectSize,
		SharedCache:                        c.SharedCache,
		NeverCacheHTTP10ResponsesWithQuery: c.NeverCacheHTTP10ResponsesWithQuery,
	}
}

func (c Config) validatorConfig() async.Config {
	return async.Config{
		MinWorkers:  c.AsyncWorkersCore,
		MaxWorkers:  c.AsyncWorkersMax,
		QueueSize:   c.RevalidationQueueSize,
		IdleTimeout: c.AsyncWorkerIdleLifetime,
		TaskTimeout: c.RevalidationTimeout,
	}
}
