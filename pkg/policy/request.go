package policy

import "net/http"

// RequestPolicy decides whether a request may be answered from cache at
// all.
type RequestPolicy struct{}

// IsServableFromCache reports whether req is a cacheable GET/HEAD HTTP/1.1
// request without Pragma, no-store or no-cache.
func (RequestPolicy) IsServableFromCache(req *http.Request) bool {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return false
	}
	if req.ProtoMajor != 1 || req.ProtoMinor != 1 {
		return false
	}
	if len(req.Header.Values("Pragma")) > 0 {
		return false
	}
	cc := RequestCacheControl(req)
	if cc.Has(DirectiveNoStore) || cc.Has(DirectiveNoCache) {
		return false
	}
	return true
}

// MayCallOrigin is false for only-if-cached requests.
func (RequestPolicy) MayCallOrigin(req *http.Request) bool {
	return !RequestCacheControl(req).Has(DirectiveOnlyIfCached)
}

// ExplicitFreshnessRequest reports whether req demands a fresher response
// than a stale entry can give: min-fresh, max-age, or a max-stale that is
// unparseable or exceeded by the entry's staleness.
func (RequestPolicy) ExplicitFreshnessRequest(req *http.Request, staleness int64) bool {
	cc := RequestCacheControl(req)
	for _, arg := range cc.Values(DirectiveMaxStale) {
		if arg == "" {
			continue
		}
		maxStale, ok := DeltaSeconds(arg)
		if !ok || staleness > maxStale {
			return true
		}
	}
	return cc.Has(DirectiveMinFresh) || cc.Has(DirectiveMaxAge)
}
