package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Sternrassler/httpcache/pkg/cache"
	"github.com/Sternrassler/httpcache/pkg/client"
	"github.com/Sternrassler/httpcache/pkg/config"
	"github.com/Sternrassler/httpcache/pkg/logging"
	"github.com/Sternrassler/httpcache/pkg/metrics"
	"github.com/Sternrassler/httpcache/pkg/storage"
	"github.com/Sternrassler/httpcache/pkg/warmup"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Hop-by-hop headers are not forwarded in either direction
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func main() {
	configPath := flag.String("config", getEnv("HTTPCACHE_CONFIG", ""), "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger := logging.Setup(cfg.Logging())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Cache proxy failed")
	}
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	backend, closeBackend, err := config.OpenStorage(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer closeBackend()
	logger.Info().Str("backend", cfg.Storage.Backend).Msg("Storage ready")

	p, err := newProxy(cfg, backend)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := p.exec.Close(closeCtx); err != nil {
			logger.Warn().Err(err).Msg("Background revalidations did not finish")
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           newRouter(p),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("listen", cfg.Server.Listen).
			Str("origin", cfg.Server.Origin).
			Msg("Starting cache proxy")
		errCh <- srv.ListenAndServe()
	}()

	if len(cfg.Warmup.Paths) > 0 {
		warmer := warmup.NewWarmer(p, warmup.Config{
			MaxConcurrency: cfg.Warmup.Concurrency,
			Timeout:        cfg.Warmup.Timeout,
		})
		go func() {
			if _, err := warmer.Warm(ctx, cfg.Warmup.Paths); err != nil {
				logger.Warn().Err(err).Msg("Cache warm-up incomplete")
			}
		}()
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// proxy forwards /proxy/* to the configured origin through the caching
// engine.
type proxy struct {
	exec         *client.CachingExec
	origin       *url.URL
	route        client.Route
	statusHeader bool
	timeout      time.Duration
	logger       zerolog.Logger
}

func newProxy(cfg config.Config, backend storage.Storage) (*proxy, error) {
	origin, err := url.Parse(cfg.Server.Origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}

	executor := client.NewHTTPOrigin(&http.Client{Timeout: cfg.Server.RequestTimeout}, cfg.RetryPolicy())
	exec, err := client.NewCachingExec(executor, cache.NewHTTPCache(backend), cfg.EngineConfig())
	if err != nil {
		return nil, fmt.Errorf("create caching engine: %w", err)
	}

	return &proxy{
		exec:         exec,
		origin:       origin,
		route:        client.Route{Target: cache.HostFromURL(origin)},
		statusHeader: cfg.Server.StatusHeader,
		timeout:      cfg.Server.RequestTimeout,
		logger:       logging.NewLogger("cache-proxy"),
	}, nil
}

func newRouter(p *proxy) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", healthHandler)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.HandleFunc("/proxy/*", p.ServeHTTP)
	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func (p *proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	// Example: /proxy/v1/items?page=2 -> <origin>/v1/items?page=2
	target := p.targetURL(chi.URLParam(r, "*"), r.URL.RawQuery)

	out := r.Clone(ctx)
	out.URL = target
	out.Host = target.Host
	out.RequestURI = ""
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}

	rc := client.NewRequestContext(p.route)
	resp, err := p.exec.Handle(ctx, p.route, out, rc)
	if err != nil {
		p.logger.Warn().
			Err(err).
			Str("method", r.Method).
			Str("url", target.String()).
			Msg("Proxy request failed")
		http.Error(w, fmt.Sprintf("origin request failed: %v", err), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	for _, h := range hopHeaders {
		w.Header().Del(h)
	}
	if p.statusHeader {
		w.Header().Set(client.StatusHeader, rc.CacheResponseStatus().String())
	}

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		p.logger.Debug().Err(err).Str("url", target.String()).Msg("Failed to write response")
	}
}

// Fetch requests path from the origin through the cache and discards the
// body. It lets the proxy drive cache warm-up.
func (p *proxy) Fetch(ctx context.Context, path string) (client.CacheResponseStatus, error) {
	rawPath, rawQuery, _ := strings.Cut(path, "?")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.targetURL(rawPath, rawQuery).String(), nil)
	if err != nil {
		return client.CacheMiss, err
	}

	rc := client.NewRequestContext(p.route)
	resp, err := p.exec.Handle(ctx, p.route, req, rc)
	if err != nil {
		return client.CacheMiss, err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return client.CacheMiss, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return rc.CacheResponseStatus(), fmt.Errorf("origin answered %s with status %d", path, resp.StatusCode)
	}
	return rc.CacheResponseStatus(), nil
}

// targetURL maps a path below the proxy prefix onto the origin.
func (p *proxy) targetURL(path, rawQuery string) *url.URL {
	target := *p.origin
	target.Path = strings.TrimRight(p.origin.Path, "/") + "/" + strings.TrimLeft(path, "/")
	target.RawPath = ""
	target.RawQuery = rawQuery
	return &target
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
