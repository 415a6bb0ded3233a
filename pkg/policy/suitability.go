package policy

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/httpcache/pkg/cache"
)

// SuitabilityChecker decides whether a stored entry can answer a request
// without contacting the origin.
type SuitabilityChecker struct {
	Validity ValidityPolicy
}

// CanServe reports whether entry satisfies req at now.
func (s SuitabilityChecker) CanServe(req *http.Request, entry *cache.Entry, now time.Time) bool {
	if !s.isFreshEnough(req, entry, now) {
		return false
	}
	if req.Method == http.MethodGet && entry.RequestMethod() == http.MethodHead {
		return false
	}
	if !s.Validity.ContentLengthMatches(entry) {
		return false
	}
	if req.Header.Get("If-Range") != "" {
		return false
	}
	if !s.PreconditionsHold(req, entry) {
		return false
	}
	if !s.IsConditional(req) && entry.StatusCode() == http.StatusNotModified {
		return false
	}
	if s.IsConditional(req) && !s.AllConditionalsMatch(req, entry, now) {
		return false
	}

	cc := RequestCacheControl(req)
	if cc.Has(DirectiveNoCache) || cc.Has(DirectiveNoStore) {
		return false
	}

	for _, arg := range cc.Values(DirectiveMaxAge) {
		maxAge, ok := DeltaSeconds(arg)
		if !ok || s.Validity.CurrentAge(entry, now) > maxAge {
			return false
		}
	}

	for _, arg := range cc.Values(DirectiveMaxStale) {
		if arg == "" {
			continue
		}
		if _, ok := DeltaSeconds(arg); !ok {
			return false
		}
	}

	for _, arg := range cc.Values(DirectiveMinFresh) {
		minFresh, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
		if err != nil || minFresh < 0 {
			return false
		}
		remaining := s.Validity.FreshnessLifetime(entry) - s.Validity.CurrentAge(entry, now)
		if remaining < minFresh {
			return false
		}
	}

	return true
}

// isFreshEnough accepts fresh entries and, unless the origin insists on
// freshness, entries within the request's max-stale tolerance.
func (s SuitabilityChecker) isFreshEnough(req *http.Request, entry *cache.Entry, now time.Time) bool {
	if s.Validity.IsFresh(entry, now) {
		return true
	}
	if s.originInsistsOnFreshness(entry) {
		return false
	}
	maxStale, ok := MaxStale(req)
	if !ok {
		return false
	}
	return maxStale > s.Validity.Staleness(entry, now)
}

func (s SuitabilityChecker) originInsistsOnFreshness(entry *cache.Entry) bool {
	if s.Validity.MustRevalidate(entry) {
		return true
	}
	if !s.Validity.SharedCache {
		return false
	}
	return s.Validity.ProxyRevalidate(entry) || entryCacheControl(entry).Has(DirectiveSMaxAge)
}

// MaxStale returns the staleness tolerance of req in seconds. A bare
// max-stale tolerates any staleness; an unparseable value tolerates none.
// When several are present the smallest wins.
func MaxStale(req *http.Request) (int64, bool) {
	values := RequestCacheControl(req).Values(DirectiveMaxStale)
	if len(values) == 0 {
		return 0, false
	}

	maxStale := int64(-1)
	for _, arg := range values {
		var v int64
		if strings.TrimSpace(arg) == "" {
			v = MaxAge * 2
		} else if parsed, ok := DeltaSeconds(arg); ok {
			v = parsed
		}
		if maxStale == -1 || v < maxStale {
			maxStale = v
		}
	}
	return maxStale, true
}

// IsConditional reports whether req carries If-None-Match or
// If-Modified-Since.
func (s SuitabilityChecker) IsConditional(req *http.Request) bool {
	return req.Header.Get("If-None-Match") != "" || req.Header.Get("If-Modified-Since") != ""
}

// AllConditionalsMatch reports whether every If-None-Match and
// If-Modified-Since condition of req matches entry, i.e. whether the
// client's own copy is current and a 304 may be returned.
func (s SuitabilityChecker) AllConditionalsMatch(req *http.Request, entry *cache.Entry, now time.Time) bool {
	hasETagValidator := req.Header.Get("If-None-Match") != ""
	_, hasLastModifiedValidator := cache.ParseHTTPDate(req.Header.Get("If-Modified-Since"))

	if hasETagValidator && !etagValidatorMatches(req, entry) {
		return false
	}
	if hasLastModifiedValidator && !lastModifiedValidatorMatches(req, entry, now) {
		return false
	}
	return true
}

// PreconditionsHold evaluates If-Match and If-Unmodified-Since. A failed
// precondition must be answered by the origin.
func (s SuitabilityChecker) PreconditionsHold(req *http.Request, entry *cache.Entry) bool {
	if values := req.Header.Values("If-Match"); len(values) > 0 {
		etag := entry.ETag()
		if etag == "" || IsWeakETag(etag) {
			return false
		}
		matched := false
		for _, candidate := range SplitETags(values) {
			if candidate == "*" || candidate == etag {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if value := req.Header.Get("If-Unmodified-Since"); value != "" {
		since, ok := cache.ParseHTTPDate(value)
		if !ok {
			return true
		}
		lastModified, ok := entry.LastModified()
		if !ok || lastModified.After(since) {
			return false
		}
	}
	return true
}

func etagValidatorMatches(req *http.Request, entry *cache.Entry) bool {
	etag := entry.ETag()
	for _, candidate := range SplitETags(req.Header.Values("If-None-Match")) {
		if candidate == "*" && etag != "" {
			return true
		}
		if etag != "" && WeakETagMatch(candidate, etag) {
			return true
		}
	}
	return false
}

func lastModifiedValidatorMatches(req *http.Request, entry *cache.Entry, now time.Time) bool {
	lastModified, ok := entry.LastModified()
	if !ok {
		return false
	}
	for _, value := range req.Header.Values("If-Modified-Since") {
		since, ok := cache.ParseHTTPDate(value)
		if !ok {
			continue
		}
		if since.After(now) || lastModified.After(since) {
			return false
		}
	}
	return true
}

// SplitETags splits comma-separated entity-tag lists.
func SplitETags(values []string) []string {
	var out []string
	for _, value := range values {
		for _, tag := range splitDirectives(value) {
			out = append(out, strings.TrimSpace(tag))
		}
	}
	return out
}

// IsWeakETag reports a W/ prefixed entity tag.
func IsWeakETag(etag string) bool {
	return strings.HasPrefix(etag, "W/")
}

// WeakETagMatch compares entity tags ignoring the weakness flag.
func WeakETagMatch(a, b string) bool {
	return strings.TrimPrefix(a, "W/") == strings.TrimPrefix(b, "W/")
}
