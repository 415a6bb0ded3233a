package client

import (
	"net/http"
	"sort"
	"strings"

	"github.com/Sternrassler/httpcache/pkg/cache"
	"github.com/Sternrassler/httpcache/pkg/policy"
)

// ConditionalRequestBuilder derives revalidation requests from stored
// entries. It never modifies the request it is given.
type ConditionalRequestBuilder struct{}

// BuildConditionalRequest returns a copy of req validating entry with
// If-None-Match and If-Modified-Since. Entries carrying must-revalidate or
// proxy-revalidate also force end-to-end revalidation with max-age=0.
func (ConditionalRequestBuilder) BuildConditionalRequest(req *http.Request, entry *cache.Entry) *http.Request {
	out := req.Clone(req.Context())

	if etag := entry.ETag(); etag != "" {
		out.Header.Set("If-None-Match", etag)
	}
	if lastModified := entry.HeaderValue("Last-Modified"); lastModified != "" {
		out.Header.Set("If-Modified-Since", lastModified)
	}

	cc := policy.ParseCacheControl(entry.HeaderValues("Cache-Control"))
	if cc.Has(policy.DirectiveMustRevalidate) || cc.Has(policy.DirectiveProxyRevalidate) {
		out.Header.Add("Cache-Control", "max-age=0")
	}
	return out
}

// BuildConditionalRequestFromVariants returns a copy of req whose
// If-None-Match lists the ETags of every known variant.
func (ConditionalRequestBuilder) BuildConditionalRequestFromVariants(req *http.Request, variants map[string]*cache.Variant) *http.Request {
	out := req.Clone(req.Context())

	etags := make([]string, 0, len(variants))
	for etag := range variants {
		etags = append(etags, etag)
	}
	sort.Strings(etags)
	out.Header.Set("If-None-Match", strings.Join(etags, ", "))
	return out
}

// BuildUnconditionalRequest returns a copy of req without validators that
// forces the origin to send a full response.
func (ConditionalRequestBuilder) BuildUnconditionalRequest(req *http.Request) *http.Request {
	out := req.Clone(req.Context())

	out.Header.Add("Cache-Control", "no-cache")
	out.Header.Add("Pragma", "no-cache")
	for _, name := range []string{"If-Range", "If-Match", "If-None-Match", "If-Unmodified-Since", "If-Modified-Since"} {
		out.Header.Del(name)
	}
	return out
}
