package client

import (
	"github.com/Sternrassler/httpcache/pkg/cache"
)

// CacheResponseStatus records how a request was answered.
type CacheResponseStatus string

const (
	// CacheHit means the response was generated from the cache without
	// contacting the origin
	CacheHit CacheResponseStatus = "CACHE_HIT"

	// CacheMiss means the response came from the origin
	CacheMiss CacheResponseStatus = "CACHE_MISS"

	// Validated means a stored entry was revalidated with the origin
	Validated CacheResponseStatus = "VALIDATED"

	// CacheModuleResponse means the cache layer synthesized the response
	CacheModuleResponse CacheResponseStatus = "CACHE_MODULE_RESPONSE"
)

// String implements fmt.Stringer.
func (s CacheResponseStatus) String() string {
	return string(s)
}

// Route describes where a request is sent.
type Route struct {
	// Target is the origin host
	Target cache.Host
}

// RequestContext carries per-call state in and out of CachingExec.Handle.
// The engine only writes the response status; callers read it after the
// call returns.
type RequestContext struct {
	// Target is the origin host
	Target cache.Host

	// Route is the route of the call
	Route Route

	status CacheResponseStatus
}

// NewRequestContext creates a context for a call on route.
func NewRequestContext(route Route) *RequestContext {
	return &RequestContext{
		Target: route.Target,
		Route:  route,
		status: CacheMiss,
	}
}

// CacheResponseStatus returns how the call was answered.
func (rc *RequestContext) CacheResponseStatus() CacheResponseStatus {
	return rc.status
}

func (rc *RequestContext) setStatus(status CacheResponseStatus) {
	if rc != nil {
		rc.status = status
	}
}
