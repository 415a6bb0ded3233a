// Package warmup preloads cache entries by requesting a list of paths
// through the caching engine with a bounded worker pool.
package warmup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/httpcache/pkg/client"
	"github.com/Sternrassler/httpcache/pkg/logging"
	"github.com/rs/zerolog"
)

// Config holds warmer configuration
type Config struct {
	// MaxConcurrency is the maximum number of parallel requests
	MaxConcurrency int
	// Timeout per request
	Timeout time.Duration
}

// DefaultConfig returns the default warmer configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        15 * time.Second,
	}
}

// Fetcher requests a single path through the cache and reports the
// resulting cache status.
type Fetcher interface {
	Fetch(ctx context.Context, path string) (client.CacheResponseStatus, error)
}

// Result summarizes a warm-up run.
type Result struct {
	// Statuses maps each successfully fetched path to its cache status
	Statuses map[string]client.CacheResponseStatus
	// Failed maps each failed path to its error
	Failed map[string]error
}

// Stored returns the number of paths that were fetched from the origin.
func (r Result) Stored() int {
	n := 0
	for _, s := range r.Statuses {
		if s != client.CacheHit {
			n++
		}
	}
	return n
}

type pathResult struct {
	path   string
	status client.CacheResponseStatus
	err    error
}

// Warmer fetches paths in parallel.
type Warmer struct {
	fetcher Fetcher
	config  Config
	logger  zerolog.Logger
}

// NewWarmer creates a new warmer
func NewWarmer(fetcher Fetcher, config Config) *Warmer {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}

	return &Warmer{
		fetcher: fetcher,
		config:  config,
		logger:  logging.NewLogger("cache-warmer"),
	}
}

// Warm fetches every path once. Failures do not stop the run; an error is
// returned when any path failed or ctx ended before all paths were fetched.
func (w *Warmer) Warm(ctx context.Context, paths []string) (Result, error) {
	start := time.Now()
	result := Result{
		Statuses: make(map[string]client.CacheResponseStatus, len(paths)),
		Failed:   make(map[string]error),
	}
	if len(paths) == 0 {
		return result, nil
	}

	w.logger.Info().
		Int("paths", len(paths)).
		Int("concurrency", w.config.MaxConcurrency).
		Msg("Starting cache warm-up")

	queue := make(chan string, len(paths))
	results := make(chan pathResult, len(paths))
	for _, p := range paths {
		queue <- p
	}
	close(queue)

	workers := w.config.MaxConcurrency
	if workers > len(paths) {
		workers = len(paths)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go w.worker(ctx, queue, results, &wg, i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		if r.err != nil {
			result.Failed[r.path] = r.err
			continue
		}
		result.Statuses[r.path] = r.status
	}

	w.logger.Info().
		Int("fetched", len(result.Statuses)).
		Int("stored", result.Stored()).
		Int("failed", len(result.Failed)).
		Dur("duration", time.Since(start)).
		Msg("Cache warm-up complete")

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("warm-up interrupted (%d/%d paths): %w", len(result.Statuses), len(paths), err)
	}
	if len(result.Failed) > 0 {
		return result, fmt.Errorf("warm-up failed for %d of %d paths", len(result.Failed), len(paths))
	}
	return result, nil
}

// worker processes paths from the queue
func (w *Warmer) worker(ctx context.Context, queue <-chan string, results chan<- pathResult, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	processed := 0

	for path := range queue {
		if ctx.Err() != nil {
			w.logger.Debug().
				Int("worker_id", workerID).
				Int("paths_processed", processed).
				Msg("Worker stopping (context cancelled)")
			return
		}

		fetchCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
		status, err := w.fetcher.Fetch(fetchCtx, path)
		cancel()

		if err != nil {
			w.logger.Warn().
				Err(err).
				Int("worker_id", workerID).
				Str("path", path).
				Msg("Warm-up fetch failed")
		}
		results <- pathResult{path: path, status: status, err: err}
		processed++
	}
}
