package policy

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/Sternrassler/httpcache/pkg/cache"
)

// ResponseCachingPolicy decides whether an origin response may be stored.
type ResponseCachingPolicy struct {
	// MaxObjectSize is the largest cacheable body in bytes (0 = unlimited)
	MaxObjectSize int64

	// SharedCache applies shared-cache rules (private, Authorization)
	SharedCache bool

	// NeverCacheHTTP10ResponsesWithQuery refuses HTTP/1.0 responses to
	// requests with a query string even when explicitly cacheable
	NeverCacheHTTP10ResponsesWithQuery bool
}

var cacheableStatuses = map[int]bool{
	http.StatusOK:                   true,
	http.StatusNonAuthoritativeInfo: true,
	http.StatusMultipleChoices:      true,
	http.StatusMovedPermanently:     true,
	http.StatusGone:                 true,
}

var uncacheableStatuses = map[int]bool{
	http.StatusPartialContent: true,
	http.StatusSeeOther:       true,
}

// IsCacheable reports whether resp, received for req, may be stored.
func (p ResponseCachingPolicy) IsCacheable(req *http.Request, resp *http.Response) bool {
	if req.ProtoMajor > 1 || (req.ProtoMajor == 1 && req.ProtoMinor > 1) {
		return false
	}
	if RequestCacheControl(req).Has(DirectiveNoStore) {
		return false
	}

	if req.URL.RawQuery != "" || req.URL.ForceQuery {
		if p.NeverCacheHTTP10ResponsesWithQuery && fromHTTP10Origin(resp) {
			return false
		}
		if !p.isExplicitlyCacheable(resp) {
			return false
		}
	}

	if expiresNotAfterDateWithoutCacheControl(resp) {
		return false
	}

	if p.SharedCache && req.Header.Get("Authorization") != "" {
		cc := HeaderCacheControl(resp.Header)
		if !cc.Has(DirectiveSMaxAge) && !cc.Has(DirectiveMustRevalidate) && !cc.Has(DirectivePublic) {
			return false
		}
	}

	return p.isResponseCacheable(req.Method, resp)
}

func (p ResponseCachingPolicy) isResponseCacheable(method string, resp *http.Response) bool {
	if method != http.MethodGet {
		return false
	}

	cacheable := false
	status := resp.StatusCode
	switch {
	case cacheableStatuses[status]:
		cacheable = true
	case uncacheableStatuses[status]:
		return false
	case unknownStatusCode(status):
		return false
	}

	if value := resp.Header.Get("Content-Length"); value != "" && p.MaxObjectSize > 0 {
		length, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err == nil && length > p.MaxObjectSize {
			return false
		}
	}
	if p.MaxObjectSize > 0 && resp.ContentLength > p.MaxObjectSize {
		return false
	}

	if len(resp.Header.Values("Age")) > 1 || len(resp.Header.Values("Expires")) > 1 {
		return false
	}
	dates := resp.Header.Values("Date")
	if len(dates) != 1 {
		return false
	}
	if _, ok := cache.ParseHTTPDate(dates[0]); !ok {
		return false
	}

	for _, name := range cache.VaryHeaderNames(resp.Header) {
		if name == "*" {
			return false
		}
	}

	if p.isExplicitlyNonCacheable(resp) {
		return false
	}

	return cacheable || p.isExplicitlyCacheable(resp)
}

func (p ResponseCachingPolicy) isExplicitlyNonCacheable(resp *http.Response) bool {
	cc := HeaderCacheControl(resp.Header)
	if cc.Has(DirectiveNoStore) || cc.Has(DirectiveNoCache) {
		return true
	}
	return p.SharedCache && cc.Has(DirectivePrivate)
}

func (p ResponseCachingPolicy) isExplicitlyCacheable(resp *http.Response) bool {
	if resp.Header.Get("Expires") != "" {
		return true
	}
	cc := HeaderCacheControl(resp.Header)
	for _, directive := range []string{
		DirectiveMaxAge,
		DirectiveSMaxAge,
		DirectiveMustRevalidate,
		DirectiveProxyRevalidate,
		DirectivePublic,
	} {
		if cc.Has(directive) {
			return true
		}
	}
	return false
}

// unknownStatusCode matches codes outside the ranges RFC 7231 defines.
func unknownStatusCode(status int) bool {
	switch {
	case status >= 100 && status <= 101:
	case status >= 200 && status <= 206:
	case status >= 300 && status <= 308:
	case status >= 400 && status <= 417:
	case status >= 500 && status <= 505:
	default:
		return true
	}
	return false
}

// fromHTTP10Origin inspects the first Via hop, falling back to the
// response protocol.
func fromHTTP10Origin(resp *http.Response) bool {
	if via := resp.Header.Get("Via"); via != "" {
		first := strings.TrimSpace(strings.Split(via, ",")[0])
		protocol := strings.Fields(first)
		if len(protocol) > 0 {
			version := protocol[0]
			if i := strings.Index(version, "/"); i >= 0 {
				version = version[i+1:]
			}
			return version == "1.0"
		}
	}
	return resp.ProtoMajor == 1 && resp.ProtoMinor == 0
}

func expiresNotAfterDateWithoutCacheControl(resp *http.Response) bool {
	if resp.Header.Get("Cache-Control") != "" {
		return false
	}
	expires, ok := cache.ParseHTTPDate(resp.Header.Get("Expires"))
	if !ok {
		return false
	}
	date, ok := cache.ParseHTTPDate(resp.Header.Get("Date"))
	if !ok {
		return false
	}
	return !expires.After(date)
}
