// Package client provides the caching HTTP execution engine: it answers
// requests from cache, revalidates stored entries, negotiates between
// cached variants or forwards to the origin, and stores what the origin
// returns.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/httpcache/pkg/async"
	"github.com/Sternrassler/httpcache/pkg/cache"
	"github.com/Sternrassler/httpcache/pkg/compliance"
	"github.com/Sternrassler/httpcache/pkg/logging"
	"github.com/Sternrassler/httpcache/pkg/policy"
	"github.com/rs/zerolog"
)

// state is the branch Handle takes for a request.
type state int

const (
	// stateForward calls the origin without consulting the cache
	stateForward state = iota

	// stateHit serves a suitable stored entry
	stateHit

	// stateRevalidate revalidates a stored entry (sync or async)
	stateRevalidate

	// stateNegotiate sends the ETags of known variants to the origin
	stateNegotiate

	// stateMiss calls the origin because nothing is stored
	stateMiss

	// stateModuleResponse answers with a synthesized response
	stateModuleResponse
)

var stateNames = map[state]string{
	stateForward:        "FORWARD",
	stateHit:            "HIT",
	stateRevalidate:     "REVALIDATE",
	stateNegotiate:      "NEGOTIATE",
	stateMiss:           "MISS",
	stateModuleResponse: "MODULE_RESPONSE",
}

func (s state) String() string {
	return stateNames[s]
}

// decision is the outcome of decide.
type decision struct {
	state    state
	entry    *cache.Entry
	variants map[string]*cache.Variant
	response *http.Response
	reason   string
}

// CachingExec is the cache decision engine. It is safe for concurrent use.
type CachingExec struct {
	origin      OriginExecutor
	storage     cache.Storage
	config      Config
	normalizer  compliance.Normalizer
	validity    policy.ValidityPolicy
	suitability policy.SuitabilityChecker
	requests    policy.RequestPolicy
	responses   policy.ResponseCachingPolicy
	conditional ConditionalRequestBuilder
	generator   ResponseGenerator
	validator   *async.Validator
	via         viaCache
	now         func() time.Time
	logger      zerolog.Logger

	cacheHits    atomic.Int64
	cacheMisses  atomic.Int64
	cacheUpdates atomic.Int64
}

// NewCachingExec creates a caching engine in front of origin, storing
// entries in storage.
func NewCachingExec(origin OriginExecutor, storage cache.Storage, cfg Config) (*CachingExec, error) {
	if origin == nil {
		return nil, ErrNilOrigin
	}
	if storage == nil {
		return nil, ErrNilStorage
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	validity := cfg.validityPolicy()
	e := &CachingExec{
		origin:      origin,
		storage:     storage,
		config:      cfg,
		normalizer:  compliance.Default{},
		validity:    validity,
		suitability: policy.SuitabilityChecker{Validity: validity},
		responses:   cfg.responseCachingPolicy(),
		generator:   ResponseGenerator{Validity: validity},
		now:         time.Now,
		logger:      logging.NewLogger("caching-exec"),
	}

	if cfg.AsyncWorkersMax > 0 {
		validator, err := async.NewValidator(cfg.validatorConfig())
		if err != nil {
			return nil, fmt.Errorf("create revalidator: %w", err)
		}
		e.validator = validator
	}
	return e, nil
}

// CacheHits reports how many requests found a stored entry.
func (e *CachingExec) CacheHits() int64 { return e.cacheHits.Load() }

// CacheMisses reports how many requests found no stored entry.
func (e *CachingExec) CacheMisses() int64 { return e.cacheMisses.Load() }

// CacheUpdates reports how many stored entries were revalidated.
func (e *CachingExec) CacheUpdates() int64 { return e.cacheUpdates.Load() }

// SetClock replaces the time source (for testing).
func (e *CachingExec) SetClock(now func() time.Time) {
	e.now = now
}

// SetNormalizer replaces the compliance normalizer.
func (e *CachingExec) SetNormalizer(n compliance.Normalizer) {
	e.normalizer = n
}

// Close stops background revalidation, waiting for running tasks until ctx
// expires.
func (e *CachingExec) Close(ctx context.Context) error {
	if e.validator == nil {
		return nil
	}
	return e.validator.Close(ctx)
}

// Handle executes req on route, answering from cache where possible. The
// response status is recorded in rc. Errors are returned only for origin
// failures that cannot be answered from cache and for cancellation of ctx.
func (e *CachingExec) Handle(ctx context.Context, route Route, req *http.Request, rc *RequestContext) (*http.Response, error) {
	if rc == nil {
		rc = NewRequestContext(route)
	}
	rc.setStatus(CacheMiss)
	target := route.Target

	if d, ok := e.preflight(req); ok {
		return e.moduleResponse(rc, d), nil
	}

	via := e.via.value(req.Proto, req.ProtoMajor, req.ProtoMinor)
	req = req.Clone(ctx)
	e.normalizer.MakeRequestCompliant(req)
	req.Header.Add("Via", via)

	if err := e.storage.FlushInvalidated(ctx, target, req); err != nil {
		e.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("Unable to flush invalidated entries from cache")
	}

	d := e.decide(ctx, target, req)
	e.logger.Debug().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Str("decision", d.state.String()).
		Msg("Cache decision")

	switch d.state {
	case stateModuleResponse:
		return e.moduleResponse(rc, d), nil
	case stateHit:
		return e.generateCachedResponse(req, rc, d.entry, e.now()), nil
	case stateRevalidate:
		return e.revalidate(ctx, route, req, rc, d.entry)
	case stateNegotiate:
		return e.negotiate(ctx, route, req, rc, d.variants)
	default:
		return e.callOrigin(ctx, route, req, rc, "forward")
	}
}

// preflight handles the requests answered before any normalization: the
// OPTIONS probe and fatally non-compliant requests.
func (e *CachingExec) preflight(req *http.Request) (decision, bool) {
	if isOptionsProbe(req) {
		return decision{state: stateModuleResponse, response: optionsResponse(), reason: "options"}, true
	}
	var resp *http.Response
	for _, err := range e.normalizer.FatalRequestErrors(req) {
		e.logger.Debug().Err(err).Str("url", req.URL.String()).Msg("Rejecting non-compliant request")
		resp = e.normalizer.ErrorResponse(err)
	}
	if resp != nil {
		return decision{state: stateModuleResponse, response: resp, reason: "non_compliant"}, true
	}
	return decision{}, false
}

// decide picks the branch for a normalized request and records the cache
// hit or miss.
func (e *CachingExec) decide(ctx context.Context, target cache.Host, req *http.Request) decision {
	if !e.requests.IsServableFromCache(req) {
		return decision{state: stateForward}
	}

	entry, err := e.storage.Get(ctx, target, req)
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		e.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("Unable to retrieve entries from cache")
	}

	if entry == nil {
		e.recordCacheMiss()
		if !e.requests.MayCallOrigin(req) {
			return decision{state: stateModuleResponse, response: gatewayTimeout(), reason: "gateway_timeout"}
		}
		variants, err := e.storage.GetVariants(ctx, target, req)
		if err != nil {
			e.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("Unable to retrieve variant entries from cache")
		}
		if len(variants) > 0 {
			return decision{state: stateNegotiate, variants: variants}
		}
		return decision{state: stateMiss}
	}

	e.recordCacheHit()
	now := e.now()
	switch {
	case e.suitability.CanServe(req, entry, now):
		return decision{state: stateHit, entry: entry}
	case !e.requests.MayCallOrigin(req):
		return decision{state: stateModuleResponse, response: gatewayTimeout(), reason: "gateway_timeout"}
	case e.validity.IsRevalidatable(entry) &&
		!(entry.StatusCode() == http.StatusNotModified && !e.suitability.IsConditional(req)):
		return decision{state: stateRevalidate, entry: entry}
	default:
		return decision{state: stateForward}
	}
}

func (e *CachingExec) moduleResponse(rc *RequestContext, d decision) *http.Response {
	rc.setStatus(CacheModuleResponse)
	ModuleResponsesTotal.WithLabelValues(d.reason).Inc()
	return d.response
}

// generateCachedResponse answers from entry: a 304 when every client
// validator matches entry, else the full response.
func (e *CachingExec) generateCachedResponse(req *http.Request, rc *RequestContext, entry *cache.Entry, now time.Time) *http.Response {
	var resp *http.Response
	if e.suitability.IsConditional(req) && e.suitability.AllConditionalsMatch(req, entry, now) {
		resp = e.generator.GenerateNotModifiedResponse(entry, now)
	} else {
		resp = e.generator.GenerateResponse(req, entry, now)
	}
	rc.setStatus(CacheHit)
	if e.validity.Staleness(entry, now) > 0 {
		resp.Header.Add("Warning", warningStale)
	}
	return resp
}

// revalidate serves stale while revalidating in the background when
// allowed, and otherwise revalidates synchronously. Transport failures
// fall back to the stale entry unless the request or entry forbids it.
func (e *CachingExec) revalidate(ctx context.Context, route Route, req *http.Request, rc *RequestContext, entry *cache.Entry) (*http.Response, error) {
	now := e.now()
	if e.validator != nil &&
		!e.staleResponseNotAllowed(req, entry, now) &&
		e.validity.MayServeStaleWhileRevalidating(entry, now) {
		resp := e.generateCachedResponse(req, rc, entry, now)
		e.scheduleRevalidation(route, req, entry)
		return resp, nil
	}

	resp, err := e.revalidateEntry(ctx, route, req, rc, entry)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return nil, err
	}

	e.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("Revalidation failed")
	if e.staleResponseNotAllowed(req, entry, now) {
		rc.setStatus(CacheModuleResponse)
		ModuleResponsesTotal.WithLabelValues("gateway_timeout").Inc()
		return gatewayTimeout(), nil
	}
	stale := e.generator.GenerateResponse(req, entry, now)
	stale.Header.Add("Warning", warningRevalidationFailed)
	rc.setStatus(CacheHit)
	return stale, nil
}

// scheduleRevalidation submits a background revalidation of entry, keyed
// by the entry's cache key so that one is pending per resource at a time.
func (e *CachingExec) scheduleRevalidation(route Route, req *http.Request, entry *cache.Entry) {
	key := revalidationKey(route.Target, req, entry)
	background := req.Clone(context.Background())

	accepted := e.validator.Revalidate(key, func(ctx context.Context) error {
		rc := NewRequestContext(route)
		resp, err := e.revalidateEntry(ctx, route, background.WithContext(ctx), rc, entry)
		if err != nil {
			return err
		}
		closeBody(resp)
		return nil
	})
	if accepted {
		e.logger.Debug().Str("key", key).Msg("Scheduled background revalidation")
	}
}

func revalidationKey(target cache.Host, req *http.Request, entry *cache.Entry) string {
	uri := cache.URIKey(target, req)
	header := entry.Header()
	if len(cache.VaryHeaderNames(header)) == 0 {
		return uri
	}
	return cache.VariantCacheKey(cache.VariantKey(req, header), uri)
}

// revalidateEntry sends a conditional request for entry and handles the
// result.
func (e *CachingExec) revalidateEntry(ctx context.Context, route Route, req *http.Request, rc *RequestContext, entry *cache.Entry) (*http.Response, error) {
	conditional := e.conditional.BuildConditionalRequest(req, entry)
	requestDate := e.now()
	resp, err := e.execute(ctx, route, conditional, rc, "conditional")
	if err != nil {
		return nil, err
	}
	responseDate := e.now()

	if responseIsTooOld(resp, entry) {
		closeBody(resp)
		unconditional := e.conditional.BuildUnconditionalRequest(req)
		requestDate = e.now()
		resp, err = e.execute(ctx, route, unconditional, rc, "unconditional")
		if err != nil {
			return nil, err
		}
		responseDate = e.now()
	}
	resp.Header.Add("Via", e.via.value(resp.Proto, resp.ProtoMajor, resp.ProtoMinor))

	status := resp.StatusCode
	if status == http.StatusNotModified || status == http.StatusOK {
		e.recordCacheUpdate(rc)
	}

	if status == http.StatusNotModified {
		updated, err := e.storage.UpdateEntry(ctx, route.Target, req, entry, resp, requestDate, responseDate)
		if err != nil {
			e.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("Could not update cache entry")
			if updated, err = cache.MergeNotModified(entry, resp, requestDate, responseDate); err != nil {
				closeBody(resp)
				return nil, err
			}
		}
		closeBody(resp)

		now := e.now()
		if e.suitability.IsConditional(req) && e.suitability.AllConditionalsMatch(req, updated, now) {
			return e.generator.GenerateNotModifiedResponse(updated, now), nil
		}
		return e.generator.GenerateResponse(req, updated, now), nil
	}

	if staleIfErrorAppliesTo(status) &&
		!e.staleResponseNotAllowed(req, entry, e.now()) &&
		e.validity.MayServeStaleIfError(req, entry, responseDate) {
		closeBody(resp)
		stale := e.generator.GenerateResponse(req, entry, responseDate)
		stale.Header.Add("Warning", warningStale)
		rc.setStatus(CacheHit)
		return stale, nil
	}

	return e.handleOriginResponse(ctx, route, conditional, requestDate, responseDate, resp)
}

// negotiate asks the origin which of the stored variants matches req.
func (e *CachingExec) negotiate(ctx context.Context, route Route, req *http.Request, rc *RequestContext, variants map[string]*cache.Variant) (*http.Response, error) {
	conditional := e.conditional.BuildConditionalRequestFromVariants(req, variants)
	requestDate := e.now()
	resp, err := e.execute(ctx, route, conditional, rc, "negotiate")
	if err != nil {
		return nil, err
	}
	responseDate := e.now()
	resp.Header.Add("Via", e.via.value(resp.Proto, resp.ProtoMajor, resp.ProtoMinor))

	if resp.StatusCode != http.StatusNotModified {
		return e.handleOriginResponse(ctx, route, req, requestDate, responseDate, resp)
	}

	etag := resp.Header.Get("ETag")
	if etag == "" {
		e.logger.Warn().Str("url", req.URL.String()).Msg("304 response did not contain ETag")
		closeBody(resp)
		return e.callOrigin(ctx, route, req, rc, "forward")
	}

	variant, ok := variants[etag]
	if !ok {
		e.logger.Debug().Str("url", req.URL.String()).Str("etag", etag).
			Msg("304 response did not contain ETag matching one sent in If-None-Match")
		closeBody(resp)
		return e.callOrigin(ctx, route, req, rc, "forward")
	}

	if responseIsTooOld(resp, variant.Entry) {
		closeBody(resp)
		return e.callOrigin(ctx, route, e.conditional.BuildUnconditionalRequest(req), rc, "unconditional")
	}

	e.recordCacheUpdate(rc)
	updated, err := e.storage.UpdateVariantEntry(ctx, route.Target, conditional, variant.Entry, resp, requestDate, responseDate, variant.CacheKey)
	if err != nil {
		e.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("Could not update cache entry")
		updated = variant.Entry
	}
	closeBody(resp)

	if err := e.storage.RegisterReusableVariant(ctx, route.Target, req, variant); err != nil {
		e.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("Could not update cache entry to reuse variant")
	}

	now := e.now()
	if e.suitability.IsConditional(req) && e.suitability.AllConditionalsMatch(req, updated, now) {
		return e.generator.GenerateNotModifiedResponse(updated, now), nil
	}
	return e.generator.GenerateResponse(req, updated, now), nil
}

// callOrigin forwards req and runs the origin response pipeline.
func (e *CachingExec) callOrigin(ctx context.Context, route Route, req *http.Request, rc *RequestContext, kind string) (*http.Response, error) {
	requestDate := e.now()
	resp, err := e.execute(ctx, route, req, rc, kind)
	if err != nil {
		return nil, err
	}
	resp.Header.Add("Via", e.via.value(resp.Proto, resp.ProtoMajor, resp.ProtoMinor))
	return e.handleOriginResponse(ctx, route, req, requestDate, e.now(), resp)
}

// execute performs one origin exchange.
func (e *CachingExec) execute(ctx context.Context, route Route, req *http.Request, rc *RequestContext, kind string) (*http.Response, error) {
	OriginRequestsTotal.WithLabelValues(kind).Inc()
	start := time.Now()
	defer func() {
		OriginRequestDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}()

	resp, err := e.origin.Execute(ctx, route, req, rc)
	if err != nil {
		return nil, err
	}
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	return resp, nil
}

// handleOriginResponse stores cacheable origin responses and invalidates
// entries the response makes obsolete.
func (e *CachingExec) handleOriginResponse(ctx context.Context, route Route, req *http.Request, requestDate, responseDate time.Time, resp *http.Response) (*http.Response, error) {
	if err := e.normalizer.EnsureResponseCompliance(req, resp); err != nil {
		closeBody(resp)
		return nil, err
	}

	target := route.Target
	cacheable := e.responses.IsCacheable(req, resp)
	if err := e.storage.FlushInvalidatedByResponse(ctx, target, req, resp); err != nil {
		e.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("Unable to flush entries invalidated by response")
	}

	if cacheable && !e.alreadyHaveNewerEntry(ctx, target, req, resp) {
		return e.cacheAndReturn(ctx, target, req, resp, requestDate, responseDate)
	}

	if !cacheable {
		if err := e.storage.FlushAll(ctx, target, req); err != nil {
			e.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("Unable to flush invalid cache entries")
		}
	}
	return resp, nil
}

func (e *CachingExec) cacheAndReturn(ctx context.Context, target cache.Host, req *http.Request, resp *http.Response, requestDate, responseDate time.Time) (*http.Response, error) {
	entry, ok, err := cache.NewEntryFromResponse(req, resp, requestDate, responseDate, e.config.MaxObjectSize)
	if err != nil {
		return nil, err
	}
	if !ok {
		e.logger.Debug().Str("url", req.URL.String()).Msg("Response body too large to cache")
		return resp, nil
	}

	if err := e.storage.Put(ctx, target, req, entry); err != nil {
		e.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("Unable to store response in cache")
	}
	return e.generator.GenerateResponse(req, entry, e.now()), nil
}

// alreadyHaveNewerEntry reports whether the stored entry for req has a
// Date strictly after the response's.
func (e *CachingExec) alreadyHaveNewerEntry(ctx context.Context, target cache.Host, req *http.Request, resp *http.Response) bool {
	existing, err := e.storage.Get(ctx, target, req)
	if err != nil || existing == nil {
		return false
	}
	entryDate, ok := existing.Date()
	if !ok {
		return false
	}
	responseDate, ok := cache.ParseHTTPDate(resp.Header.Get("Date"))
	if !ok {
		return false
	}
	return responseDate.Before(entryDate)
}

// staleResponseNotAllowed reports whether entry must not be served stale
// for req.
func (e *CachingExec) staleResponseNotAllowed(req *http.Request, entry *cache.Entry, now time.Time) bool {
	return e.validity.MustRevalidate(entry) ||
		(e.config.SharedCache && e.validity.ProxyRevalidate(entry)) ||
		e.requests.ExplicitFreshnessRequest(req, e.validity.Staleness(entry, now))
}

func (e *CachingExec) recordCacheHit() {
	e.cacheHits.Add(1)
	CacheHitsTotal.Inc()
}

func (e *CachingExec) recordCacheMiss() {
	e.cacheMisses.Add(1)
	CacheMissesTotal.Inc()
}

func (e *CachingExec) recordCacheUpdate(rc *RequestContext) {
	e.cacheUpdates.Add(1)
	CacheUpdatesTotal.Inc()
	rc.setStatus(Validated)
}

// responseIsTooOld reports a revalidation response dated before the stored
// entry. When either Date is missing or unparseable the order is unknown
// and the response is accepted.
func responseIsTooOld(resp *http.Response, entry *cache.Entry) bool {
	entryDate, ok := entry.Date()
	if !ok {
		return false
	}
	responseDate, ok := cache.ParseHTTPDate(resp.Header.Get("Date"))
	if !ok {
		return false
	}
	return responseDate.Before(entryDate)
}

func staleIfErrorAppliesTo(status int) bool {
	switch status {
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// isOptionsProbe matches "OPTIONS * HTTP/1.1" with Max-Forwards: 0.
func isOptionsProbe(req *http.Request) bool {
	if req.Method != http.MethodOptions {
		return false
	}
	if req.RequestURI != "*" && (req.URL == nil || req.URL.Path != "*") {
		return false
	}
	return req.Header.Get("Max-Forwards") == "0"
}
