// Package config loads the cache-proxy configuration from a YAML file and
// environment overrides.
package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/httpcache/pkg/client"
	"github.com/Sternrassler/httpcache/pkg/logging"
	"github.com/Sternrassler/httpcache/pkg/storage"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// Storage backends
const (
	BackendMemory  = "memory"
	BackendRedis   = "redis"
	BackendSQLite  = "sqlite"
	BackendLevelDB = "leveldb"
)

// Config is the cache-proxy configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Cache   CacheConfig   `yaml:"cache"`
	Retry   RetryConfig   `yaml:"retry"`
	Log     LogConfig     `yaml:"log"`
	Warmup  WarmupConfig  `yaml:"warmup"`
}

// ServerConfig configures the HTTP listener and the upstream origin.
type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	Origin          string        `yaml:"origin"`
	StatusHeader    bool          `yaml:"statusHeader"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	Backend string `yaml:"backend"`

	// MaxEntries bounds the memory backend
	MaxEntries int `yaml:"maxEntries"`

	// Path is the SQLite file or LevelDB directory
	Path string `yaml:"path"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis backend. URL accepts either a plain
// host:port address or a redis:// URL.
type RedisConfig struct {
	URL           string        `yaml:"url"`
	KeyPrefix     string        `yaml:"keyPrefix"`
	Retention     time.Duration `yaml:"retention"`
	UpdateRetries int           `yaml:"updateRetries"`
}

// CacheConfig mirrors client.Config.
type CacheConfig struct {
	Shared                             bool          `yaml:"shared"`
	MaxObjectSize                      int64         `yaml:"maxObjectSize"`
	NeverCacheHTTP10ResponsesWithQuery bool          `yaml:"neverCacheHTTP10ResponsesWithQuery"`
	HeuristicCaching                   bool          `yaml:"heuristicCaching"`
	HeuristicCoefficient               float64       `yaml:"heuristicCoefficient"`
	HeuristicDefaultLifetime           time.Duration `yaml:"heuristicDefaultLifetime"`
	StaleWhileRevalidate               time.Duration `yaml:"staleWhileRevalidate"`
	StaleIfError                       time.Duration `yaml:"staleIfError"`
	AsyncWorkersCore                   int           `yaml:"asyncWorkersCore"`
	AsyncWorkersMax                    int           `yaml:"asyncWorkersMax"`
	AsyncWorkerIdleLifetime            time.Duration `yaml:"asyncWorkerIdleLifetime"`
	RevalidationQueueSize              int           `yaml:"revalidationQueueSize"`
	RevalidationTimeout                time.Duration `yaml:"revalidationTimeout"`
}

// RetryConfig mirrors client.RetryConfig.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"maxAttempts"`
	InitialBackoff    time.Duration `yaml:"initialBackoff"`
	MaxBackoff        time.Duration `yaml:"maxBackoff"`
	BackoffMultiplier float64       `yaml:"backoffMultiplier"`
}

// WarmupConfig lists origin paths fetched into the cache at startup.
type WarmupConfig struct {
	Paths       []string      `yaml:"paths"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
}

// LogConfig configures zerolog output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the configuration used for keys missing from the file.
func Default() Config {
	engine := client.DefaultConfig()
	retry := client.DefaultRetryConfig()
	return Config{
		Server: ServerConfig{
			Listen:          ":8080",
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			StatusHeader:    true,
		},
		Storage: StorageConfig{
			Backend:    BackendMemory,
			MaxEntries: 10000,
			Redis: RedisConfig{
				URL:       "localhost:6379",
				KeyPrefix: "httpcache:",
				Retention: 24 * time.Hour,
			},
		},
		Cache: CacheConfig{
			Shared:                             engine.SharedCache,
			MaxObjectSize:                      engine.MaxObjectSize,
			NeverCacheHTTP10ResponsesWithQuery: engine.NeverCacheHTTP10ResponsesWithQuery,
			HeuristicCaching:                   engine.HeuristicCaching,
			HeuristicCoefficient:               engine.HeuristicCoefficient,
			HeuristicDefaultLifetime:           engine.HeuristicDefaultLifetime,
			StaleWhileRevalidate:               engine.StaleWhileRevalidate,
			StaleIfError:                       engine.StaleIfError,
			AsyncWorkersCore:                   engine.AsyncWorkersCore,
			AsyncWorkersMax:                    engine.AsyncWorkersMax,
			AsyncWorkerIdleLifetime:            engine.AsyncWorkerIdleLifetime,
			RevalidationQueueSize:              engine.RevalidationQueueSize,
			RevalidationTimeout:                engine.RevalidationTimeout,
		},
		Retry: RetryConfig{
			MaxAttempts:       retry.MaxAttempts,
			InitialBackoff:    retry.InitialBackoff,
			MaxBackoff:        retry.MaxBackoff,
			BackoffMultiplier: retry.BackoffMultiplier,
		},
		Log: LogConfig{Level: string(logging.LevelInfo)},
		Warmup: WarmupConfig{
			Concurrency: 4,
			Timeout:     15 * time.Second,
		},
	}
}

// Load reads the YAML file at path (skipped when empty), applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	cfg.Server.Origin = strings.TrimRight(cfg.Server.Origin, "/")
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"HTTPCACHE_LISTEN":       &c.Server.Listen,
		"HTTPCACHE_ORIGIN":       &c.Server.Origin,
		"HTTPCACHE_STORAGE":      &c.Storage.Backend,
		"HTTPCACHE_STORAGE_PATH": &c.Storage.Path,
		"REDIS_URL":              &c.Storage.Redis.URL,
		"HTTPCACHE_LOG_LEVEL":    &c.Log.Level,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	// PORT applies when HTTPCACHE_LISTEN is unset
	if v, ok := lookup("PORT"); ok && v != "" {
		if _, set := lookup("HTTPCACHE_LISTEN"); !set {
			c.Server.Listen = ":" + v
		}
	}

	if v, ok := lookup("HTTPCACHE_SHARED_CACHE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("HTTPCACHE_SHARED_CACHE: %w", err)
		}
		c.Cache.Shared = b
	}
	if v, ok := lookup("HTTPCACHE_MAX_OBJECT_SIZE"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("HTTPCACHE_MAX_OBJECT_SIZE: %w", err)
		}
		c.Cache.MaxObjectSize = n
	}
	return nil
}

// Validate checks the configuration for values the proxy cannot run with.
func (c Config) Validate() error {
	if c.Server.Listen == "" {
		return errors.New("server.listen is required")
	}
	if c.Server.Origin == "" {
		return errors.New("server.origin is required")
	}
	u, err := url.Parse(c.Server.Origin)
	if err != nil {
		return fmt.Errorf("server.origin: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.origin must be an http(s) URL (got %q)", c.Server.Origin)
	}
	if u.Host == "" {
		return fmt.Errorf("server.origin has no host (got %q)", c.Server.Origin)
	}

	switch c.Storage.Backend {
	case BackendMemory:
		if c.Storage.MaxEntries <= 0 {
			return fmt.Errorf("storage.maxEntries must be > 0 (got %d)", c.Storage.MaxEntries)
		}
	case BackendRedis:
		if c.Storage.Redis.URL == "" {
			return errors.New("storage.redis.url is required")
		}
	case BackendSQLite, BackendLevelDB:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for %s", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.maxAttempts must be >= 1 (got %d)", c.Retry.MaxAttempts)
	}
	for i, p := range c.Warmup.Paths {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("warmup.paths[%d] must start with / (got %q)", i, p)
		}
	}
	return nil
}

// EngineConfig returns the caching engine configuration.
func (c Config) EngineConfig() client.Config {
	return client.Config{
		SharedCache:                        c.Cache.Shared,
		MaxObjectSize:                      c.Cache.MaxObjectSize,
		NeverCacheHTTP10ResponsesWithQuery: c.Cache.NeverCacheHTTP10ResponsesWithQuery,
		HeuristicCaching:                   c.Cache.HeuristicCaching,
		HeuristicCoefficient:               c.Cache.HeuristicCoefficient,
		HeuristicDefaultLifetime:           c.Cache.HeuristicDefaultLifetime,
		StaleWhileRevalidate:               c.Cache.StaleWhileRevalidate,
		StaleIfError:                       c.Cache.StaleIfError,
		AsyncWorkersCore:                   c.Cache.AsyncWorkersCore,
		AsyncWorkersMax:                    c.Cache.AsyncWorkersMax,
		AsyncWorkerIdleLifetime:            c.Cache.AsyncWorkerIdleLifetime,
		RevalidationQueueSize:              c.Cache.RevalidationQueueSize,
		RevalidationTimeout:                c.Cache.RevalidationTimeout,
	}
}

// RetryPolicy returns the origin retry configuration.
func (c Config) RetryPolicy() client.RetryConfig {
	return client.RetryConfig{
		MaxAttempts:       c.Retry.MaxAttempts,
		InitialBackoff:    c.Retry.InitialBackoff,
		MaxBackoff:        c.Retry.MaxBackoff,
		BackoffMultiplier: c.Retry.BackoffMultiplier,
	}
}

// Logging returns the logger configuration.
func (c Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	if level, err := logging.ParseLevel(c.Log.Level); err == nil {
		cfg.Level = level
	}
	cfg.Pretty = c.Log.Pretty
	return cfg
}

// OpenStorage opens the configured backend. The returned close function
// releases the backend and any client it owns.
func OpenStorage(ctx context.Context, cfg StorageConfig) (storage.Storage, func() error, error) {
	switch cfg.Backend {
	case BackendMemory:
		s := storage.NewMemoryStorage(cfg.MaxEntries)
		return s, s.Close, nil

	case BackendRedis:
		opts, err := redisOptions(cfg.Redis.URL)
		if err != nil {
			return nil, nil, err
		}
		redisClient := redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			redisClient.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
		}
		s := storage.NewRedisStorage(redisClient, storage.RedisOptions{
			KeyPrefix:     cfg.Redis.KeyPrefix,
			Retention:     cfg.Redis.Retention,
			UpdateRetries: cfg.Redis.UpdateRetries,
		})
		return s, redisClient.Close, nil

	case BackendSQLite:
		s, err := storage.NewSQLiteStorage(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case BackendLevelDB:
		s, err := storage.NewLevelDBStorage(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

func redisOptions(raw string) (*redis.Options, error) {
	if strings.Contains(raw, "://") {
		opts, err := redis.ParseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: raw}, nil
}
