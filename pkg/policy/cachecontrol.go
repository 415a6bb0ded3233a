// Package policy implements the RFC 7234 rules the caching engine consults:
// Cache-Control parsing, age and freshness arithmetic, whether a stored
// entry may answer a request, and whether a request or response may be
// cached at all.
package policy

import (
	"net/http"
	"strconv"
	"strings"
)

// Cache-Control directive names.
const (
	DirectiveMaxAge               = "max-age"
	DirectiveSMaxAge              = "s-maxage"
	DirectiveMaxStale             = "max-stale"
	DirectiveMinFresh             = "min-fresh"
	DirectiveNoCache              = "no-cache"
	DirectiveNoStore              = "no-store"
	DirectiveOnlyIfCached         = "only-if-cached"
	DirectiveMustRevalidate       = "must-revalidate"
	DirectiveProxyRevalidate      = "proxy-revalidate"
	DirectivePublic               = "public"
	DirectivePrivate              = "private"
	DirectiveStaleWhileRevalidate = "stale-while-revalidate"
	DirectiveStaleIfError         = "stale-if-error"
)

// CacheControl is a parsed set of Cache-Control directives. A directive
// may occur several times; every occurrence is kept in order.
type CacheControl struct {
	directives map[string][]string
}

// ParseCacheControl parses all Cache-Control header values.
func ParseCacheControl(headers []string) CacheControl {
	m := make(map[string][]string)
	for _, header := range headers {
		for _, directive := range splitDirectives(header) {
			parts := strings.SplitN(directive, "=", 2)
			name := strings.ToLower(strings.TrimSpace(parts[0]))
			if name == "" {
				continue
			}
			var arg string
			if len(parts) > 1 {
				arg = strings.Trim(strings.TrimSpace(parts[1]), "\"")
			}
			m[name] = append(m[name], arg)
		}
	}
	return CacheControl{m}
}

// RequestCacheControl parses the Cache-Control headers of a request.
func RequestCacheControl(req *http.Request) CacheControl {
	return ParseCacheControl(req.Header.Values("Cache-Control"))
}

// HeaderCacheControl parses the Cache-Control headers of a header set.
func HeaderCacheControl(h http.Header) CacheControl {
	return ParseCacheControl(h.Values("Cache-Control"))
}

// Has reports whether the directive is present.
func (c CacheControl) Has(directive string) bool {
	_, ok := c.directives[directive]
	return ok
}

// Get returns the argument of the first occurrence of the directive.
func (c CacheControl) Get(directive string) (string, bool) {
	values, ok := c.directives[directive]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// Values returns the arguments of every occurrence of the directive.
func (c CacheControl) Values(directive string) []string {
	return c.directives[directive]
}

// Len returns the number of distinct directives.
func (c CacheControl) Len() int {
	return len(c.directives)
}

// DeltaSeconds parses a delta-seconds directive argument. Negative values
// are clamped to 0.
func DeltaSeconds(arg string) (int64, bool) {
	v, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil {
		return 0, false
	}
	if v < 0 {
		v = 0
	}
	return v, true
}

// splitDirectives splits a header on commas outside quoted strings.
func splitDirectives(header string) []string {
	var out []string
	var current strings.Builder
	inQuotes := false
	for _, r := range header {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			current.WriteRune(r)
		case r == ',' && !inQuotes:
			if s := strings.TrimSpace(current.String()); s != "" {
				out = append(out, s)
			}
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		out = append(out, s)
	}
	return out
}
