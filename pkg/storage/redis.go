package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultUpdateRetries bounds optimistic transaction retries in RedisStorage.
const DefaultUpdateRetries = 3

// RedisOptions configures a RedisStorage.
type RedisOptions struct {
	// KeyPrefix is prepended to every key (e.g. "httpcache:")
	KeyPrefix string

	// Retention is the Redis TTL for stored values (0 = no expiry).
	// Freshness is decided by the cache, this only bounds memory use.
	Retention time.Duration

	// UpdateRetries bounds WATCH/MULTI retries in Update
	UpdateRetries int
}

// RedisStorage stores entries in Redis.
type RedisStorage struct {
	redis *redis.Client
	opts  RedisOptions
}

// NewRedisStorage creates a Redis backed store.
func NewRedisStorage(redisClient *redis.Client, opts RedisOptions) *RedisStorage {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if opts.UpdateRetries <= 0 {
		opts.UpdateRetries = DefaultUpdateRetries
	}
	return &RedisStorage{
		redis: redisClient,
		opts:  opts,
	}
}

func (r *RedisStorage) key(key string) string {
	return r.opts.KeyPrefix + key
}

// Get retrieves the value for key.
func (r *RedisStorage) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.redis.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		StorageErrors.WithLabelValues("redis", "get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

// Put stores value under key.
func (r *RedisStorage) Put(ctx context.Context, key string, value []byte) error {
	if err := r.redis.Set(ctx, r.key(key), value, r.opts.Retention).Err(); err != nil {
		StorageErrors.WithLabelValues("redis", "put").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes key.
func (r *RedisStorage) Delete(ctx context.Context, key string) error {
	if err := r.redis.Del(ctx, r.key(key)).Err(); err != nil {
		StorageErrors.WithLabelValues("redis", "delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Update runs fn inside a WATCH/MULTI transaction, retrying when another
// client modifies the key concurrently.
func (r *RedisStorage) Update(ctx context.Context, key string, fn UpdateFunc) error {
	redisKey := r.key(key)

	txf := func(tx *redis.Tx) error {
		old, err := tx.Get(ctx, redisKey).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("redis get: %w", err)
		}
		if errors.Is(err, redis.Nil) {
			old = nil
		}

		updated, err := fn(old)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if updated == nil {
				pipe.Del(ctx, redisKey)
				return nil
			}
			pipe.Set(ctx, redisKey, updated, r.opts.Retention)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < r.opts.UpdateRetries; attempt++ {
		err := r.redis.Watch(ctx, txf, redisKey)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		StorageErrors.WithLabelValues("redis", "update").Inc()
		return err
	}

	StorageErrors.WithLabelValues("redis", "update").Inc()
	return fmt.Errorf("%w: %s after %d attempts", ErrUpdateConflict, key, r.opts.UpdateRetries)
}

// Close is a no-op; the Redis client is owned by the caller.
func (r *RedisStorage) Close() error {
	return nil
}
