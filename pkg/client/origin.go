package client

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/httpcache/pkg/logging"
	"github.com/rs/zerolog"
)

// OriginExecutor performs one HTTP exchange with the origin. It is used
// identically for fresh, conditional and unconditional requests.
type OriginExecutor interface {
	Execute(ctx context.Context, route Route, req *http.Request, rc *RequestContext) (*http.Response, error)
}

// OriginFunc adapts a function to OriginExecutor.
type OriginFunc func(ctx context.Context, route Route, req *http.Request, rc *RequestContext) (*http.Response, error)

// Execute implements OriginExecutor.
func (f OriginFunc) Execute(ctx context.Context, route Route, req *http.Request, rc *RequestContext) (*http.Response, error) {
	return f(ctx, route, req, rc)
}

// HTTPOrigin executes requests with an *http.Client against the route's
// target host. Redirects are not followed. Idempotent requests without a
// body are retried on network errors, 429 and 5xx.
type HTTPOrigin struct {
	httpClient *http.Client
	retry      RetryConfig
	logger     zerolog.Logger
}

// NewHTTPOrigin creates an origin executor. A nil client gets a default
// client with a 30 second timeout.
func NewHTTPOrigin(httpClient *http.Client, retry RetryConfig) *HTTPOrigin {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	c := *httpClient
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &HTTPOrigin{
		httpClient: &c,
		retry:      retry,
		logger:     logging.NewLogger("http-origin"),
	}
}

// Execute implements OriginExecutor. When retries are exhausted on error
// statuses the last response is returned; network failures are returned
// as *OriginError.
func (o *HTTPOrigin) Execute(ctx context.Context, route Route, req *http.Request, rc *RequestContext) (*http.Response, error) {
	out := req.Clone(ctx)
	out.RequestURI = ""
	out.URL.Scheme = route.Target.Scheme
	out.URL.Host = authority(route)
	out.Host = ""

	if !retryable(out) {
		return o.do(ctx, out)
	}

	var last *http.Response
	err := retryWithBackoff(ctx, o.retry, func() error {
		if last != nil {
			closeBody(last)
			last = nil
		}
		resp, err := o.do(ctx, out)
		if err != nil {
			return err
		}
		if class := classifyStatus(resp.StatusCode); shouldRetry(class) {
			last = resp
			return &OriginError{
				StatusCode: resp.StatusCode,
				ErrorClass: class,
				Message:    resp.Status,
			}
		}
		last = resp
		return nil
	})

	if err == nil {
		return last, nil
	}
	if last != nil && errors.Is(err, ErrRetryExhausted) {
		return last, nil
	}
	if last != nil {
		closeBody(last)
	}
	return nil, err
}

func (o *HTTPOrigin) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := o.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		o.logger.Warn().
			Err(err).
			Str("method", req.Method).
			Str("url", req.URL.String()).
			Msg("Origin request failed")
		return nil, &OriginError{
			ErrorClass: ErrorClassNetwork,
			Message:    "request failed",
			Err:        err,
		}
	}

	o.logger.Debug().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Origin response")
	return resp, nil
}

func retryable(req *http.Request) bool {
	if req.Body != nil && req.Body != http.NoBody {
		return false
	}
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func authority(route Route) string {
	if route.Target.Port > 0 {
		return net.JoinHostPort(route.Target.Name, strconv.Itoa(route.Target.Port))
	}
	if strings.Contains(route.Target.Name, ":") {
		return "[" + route.Target.Name + "]"
	}
	return route.Target.Name
}
