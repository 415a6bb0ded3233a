package cache

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Host identifies the origin a request is sent to.
type Host struct {
	// Scheme is "http" or "https"
	Scheme string

	// Name is the host name or IP literal
	Name string

	// Port is the TCP port (0 = scheme default)
	Port int
}

// HostFromURL extracts the target host of an absolute URL.
func HostFromURL(u *url.URL) Host {
	h := Host{
		Scheme: strings.ToLower(u.Scheme),
		Name:   strings.ToLower(u.Hostname()),
	}
	if h.Scheme == "" {
		h.Scheme = "http"
	}
	if p := u.Port(); p != "" {
		if port, err := strconv.Atoi(p); err == nil {
			h.Port = port
		}
	}
	return h
}

// EffectivePort returns the port, substituting the scheme default.
func (h Host) EffectivePort() int {
	if h.Port > 0 {
		return h.Port
	}
	if h.Scheme == "https" {
		return 443
	}
	return 80
}

// String returns the canonical "scheme://host[:port]" form. Default ports
// are elided.
func (h Host) String() string {
	scheme := h.Scheme
	if scheme == "" {
		scheme = "http"
	}
	port := h.EffectivePort()
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		return scheme + "://" + h.Name
	}
	return scheme + "://" + net.JoinHostPort(h.Name, strconv.Itoa(port))
}

// URIKey returns the canonical absolute URI used as the cache key for a
// request sent to target.
func URIKey(target Host, req *http.Request) string {
	path := req.URL.EscapedPath()
	if path == "" {
		path = "/"
	}
	key := target.String() + path
	if req.URL.RawQuery != "" {
		key += "?" + req.URL.RawQuery
	}
	return key
}

// URIKeyForLocation resolves a Content-Location or Location header value
// against the request URI and returns its cache key, or false when the
// value is unparseable or points to a different host.
func URIKeyForLocation(target Host, req *http.Request, location string) (string, bool) {
	if location == "" {
		return "", false
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", false
	}
	authority := target.Name
	if target.Port > 0 {
		authority = net.JoinHostPort(target.Name, strconv.Itoa(target.Port))
	}
	base := &url.URL{
		Scheme:   target.Scheme,
		Host:     authority,
		Path:     req.URL.Path,
		RawPath:  req.URL.RawPath,
		RawQuery: req.URL.RawQuery,
	}
	resolved := base.ResolveReference(ref)

	host := HostFromURL(resolved)
	if host.Name != target.Name || host.EffectivePort() != target.EffectivePort() {
		return "", false
	}
	host = target

	path := resolved.EscapedPath()
	if path == "" {
		path = "/"
	}
	key := host.String() + path
	if resolved.RawQuery != "" {
		key += "?" + resolved.RawQuery
	}
	return key, true
}

// VaryHeaderNames returns the sorted, lower-cased header names listed in
// the Vary headers.
func VaryHeaderNames(header http.Header) []string {
	seen := map[string]bool{}
	var names []string
	for _, value := range header.Values("Vary") {
		for _, name := range strings.Split(value, ",") {
			name = strings.ToLower(strings.TrimSpace(name))
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// VariantKey derives the variant key of a request for a resource whose
// response varies on the headers named in vary. It returns "" when the
// response does not vary.
//
// Format: {name1=value1&name2=value2}
func VariantKey(req *http.Request, vary http.Header) string {
	names := VaryHeaderNames(vary)
	if len(names) == 0 {
		return ""
	}

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%s",
			url.QueryEscape(name), url.QueryEscape(fullHeaderValue(req.Header.Values(name)))))
	}
	return "{" + strings.Join(parts, "&") + "}"
}

// VariantCacheKey returns the storage key of one variant of a resource.
func VariantCacheKey(variantKey, uriKey string) string {
	return variantKey + uriKey
}

func fullHeaderValue(values []string) string {
	trimmed := make([]string, 0, len(values))
	for _, v := range values {
		trimmed = append(trimmed, strings.TrimSpace(v))
	}
	return strings.Join(trimmed, ",")
}
