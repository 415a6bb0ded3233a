// Package async runs background revalidations with an elastic worker pool.
//
// Each revalidation is identified by a key (normally the cache key of the
// stale entry). At most one revalidation per key is queued or running at a
// time; further requests for the same key are dropped until it completes.
package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/httpcache/pkg/logging"
	"github.com/rs/zerolog"
)

// ErrInvalidConfig is returned by NewValidator for unusable settings.
var ErrInvalidConfig = errors.New("invalid validator config")

// Task performs one revalidation. The context is cancelled after the task
// timeout or when the validator is closed.
type Task func(ctx context.Context) error

// Config holds validator configuration.
type Config struct {
	// MinWorkers are kept alive while idle
	MinWorkers int

	// MaxWorkers bounds concurrently running revalidations
	MaxWorkers int

	// QueueSize bounds revalidations waiting for a worker
	QueueSize int

	// IdleTimeout after which workers above MinWorkers exit
	IdleTimeout time.Duration

	// TaskTimeout bounds a single revalidation
	TaskTimeout time.Duration
}

// DefaultConfig returns the default validator configuration.
func DefaultConfig() Config {
	return Config{
		MinWorkers:  1,
		MaxWorkers:  1,
		QueueSize:   100,
		IdleTimeout: 60 * time.Second,
		TaskTimeout: 30 * time.Second,
	}
}

type job struct {
	key  string
	task Task
}

// Validator schedules deduplicated background revalidations.
type Validator struct {
	cfg    Config
	queue  chan job
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
	workers  int
	idle     int
	closed   bool
	wg       sync.WaitGroup
}

// NewValidator creates a validator. Workers are started on demand.
func NewValidator(cfg Config) (*Validator, error) {
	if cfg.MaxWorkers <= 0 {
		return nil, fmt.Errorf("%w: MaxWorkers must be positive", ErrInvalidConfig)
	}
	if cfg.MinWorkers < 0 || cfg.MinWorkers > cfg.MaxWorkers {
		return nil, fmt.Errorf("%w: MinWorkers must be between 0 and MaxWorkers", ErrInvalidConfig)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultConfig().IdleTimeout
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultConfig().TaskTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Validator{
		cfg:      cfg,
		queue:    make(chan job, cfg.QueueSize),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logging.NewLogger("async-validator"),
		inFlight: make(map[string]struct{}),
	}, nil
}

// Revalidate schedules task under key. It returns false when a revalidation
// for key is already pending, the queue is full, or the validator is closed.
// It never blocks.
func (v *Validator) Revalidate(key string, task Task) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return false
	}
	if _, pending := v.inFlight[key]; pending {
		RevalidationsTotal.WithLabelValues("deduplicated").Inc()
		return false
	}

	select {
	case v.queue <- job{key: key, task: task}:
	default:
		RevalidationsTotal.WithLabelValues("rejected").Inc()
		v.logger.Warn().Str("key", key).Int("queue_size", v.cfg.QueueSize).Msg("Revalidation queue full")
		return false
	}

	v.inFlight[key] = struct{}{}
	RevalidationQueueDepth.Set(float64(len(v.queue)))

	if v.workers < v.cfg.MaxWorkers && len(v.queue) > v.idle {
		v.workers++
		RevalidationWorkers.Set(float64(v.workers))
		v.wg.Add(1)
		go v.worker()
	}
	return true
}

// Pending reports whether a revalidation for key is queued or running.
func (v *Validator) Pending(key string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.inFlight[key]
	return ok
}

// InFlight returns the number of queued or running revalidations.
func (v *Validator) InFlight() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.inFlight)
}

// Workers returns the number of live workers.
func (v *Validator) Workers() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.workers
}

// Close stops accepting revalidations and waits for running ones. Queued
// revalidations are discarded. When ctx expires first, running tasks are
// cancelled and ctx's error is returned.
func (v *Validator) Close(ctx context.Context) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	close(v.done)
	v.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		v.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		v.cancel()
		return nil
	case <-ctx.Done():
		v.cancel()
		<-finished
		return ctx.Err()
	}
}

func (v *Validator) worker() {
	defer v.wg.Done()

	timer := time.NewTimer(v.cfg.IdleTimeout)
	defer timer.Stop()

	for {
		v.mu.Lock()
		v.idle++
		v.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(v.cfg.IdleTimeout)

		select {
		case j := <-v.queue:
			v.mu.Lock()
			v.idle--
			RevalidationQueueDepth.Set(float64(len(v.queue)))
			v.mu.Unlock()
			v.run(j)

		case <-timer.C:
			v.mu.Lock()
			v.idle--
			if v.workers > v.cfg.MinWorkers && len(v.queue) == 0 {
				v.exitLocked()
				v.mu.Unlock()
				return
			}
			v.mu.Unlock()

		case <-v.done:
			v.mu.Lock()
			v.idle--
			v.exitLocked()
			v.mu.Unlock()
			return
		}
	}
}

func (v *Validator) exitLocked() {
	v.workers--
	RevalidationWorkers.Set(float64(v.workers))
}

func (v *Validator) run(j job) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(v.ctx, v.cfg.TaskTimeout)

	defer func() {
		cancel()
		if r := recover(); r != nil {
			RevalidationsTotal.WithLabelValues("panic").Inc()
			v.logger.Error().Str("key", j.key).Interface("panic", r).Msg("Revalidation panicked")
		}
		v.mu.Lock()
		delete(v.inFlight, j.key)
		v.mu.Unlock()
	}()

	if err := j.task(ctx); err != nil {
		RevalidationsTotal.WithLabelValues("failure").Inc()
		v.logger.Warn().
			Err(err).
			Str("key", j.key).
			Dur("duration", time.Since(start)).
			Msg("Background revalidation failed")
		return
	}

	RevalidationsTotal.WithLabelValues("success").Inc()
	RevalidationDuration.Observe(time.Since(start).Seconds())
	v.logger.Debug().
		Str("key", j.key).
		Dur("duration", time.Since(start)).
		Msg("Background revalidation complete")
}
