package client

import (
	"errors"
	"net/http"

	"github.com/Sternrassler/httpcache/pkg/cache"
)

// StatusHeader is the response header carrying the cache response status
// when Transport.StatusHeader is enabled.
const StatusHeader = "X-Cache-Status"

// Transport is an http.RoundTripper answering requests through a
// CachingExec. The route is derived from the request URL.
type Transport struct {
	Exec *CachingExec

	// StatusHeader adds X-Cache-Status to every response
	StatusHeader bool
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Exec == nil {
		return nil, errors.New("transport has no caching engine")
	}
	if req.URL == nil {
		return nil, errors.New("request has no URL")
	}

	route := Route{Target: cache.HostFromURL(req.URL)}
	rc := NewRequestContext(route)
	resp, err := t.Exec.Handle(req.Context(), route, req, rc)
	if err != nil {
		return nil, err
	}
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	if t.StatusHeader {
		resp.Header.Set(StatusHeader, rc.CacheResponseStatus().String())
	}
	resp.Request = req
	return resp, nil
}
