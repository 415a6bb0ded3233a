package compliance

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/Sternrassler/httpcache/pkg/policy"
)

// Normalizer is the request/response compliance capability used by the
// caching engine.
type Normalizer interface {
	FatalRequestErrors(req *http.Request) []error
	ErrorResponse(err error) *http.Response
	MakeRequestCompliant(req *http.Request)
	EnsureResponseCompliance(req *http.Request, resp *http.Response) error
}

// Default is the standard Normalizer.
type Default struct{}

var _ Normalizer = Default{}

// FatalRequestErrors returns the protocol violations that prevent req from
// being forwarded at all.
func (Default) FatalRequestErrors(req *http.Request) []error {
	var errs []error

	if req.Method == http.MethodGet && req.Header.Get("Range") != "" {
		if policy.IsWeakETag(strings.TrimSpace(req.Header.Get("If-Range"))) {
			errs = append(errs, ErrWeakETagAndRange)
		}
	}

	if req.Method == http.MethodPut || req.Method == http.MethodDelete {
		if ifMatch := req.Header.Get("If-Match"); ifMatch != "" {
			if policy.IsWeakETag(strings.TrimSpace(ifMatch)) {
				errs = append(errs, ErrWeakETagOnPutOrDelete)
			}
		} else if ifNoneMatch := req.Header.Get("If-None-Match"); policy.IsWeakETag(strings.TrimSpace(ifNoneMatch)) {
			errs = append(errs, ErrWeakETagOnPutOrDelete)
		}
	}

	for _, arg := range policy.RequestCacheControl(req).Values(policy.DirectiveNoCache) {
		if arg != "" {
			errs = append(errs, ErrNoCacheWithFieldName)
			break
		}
	}

	return errs
}

// ErrorResponse synthesizes the response for a fatal request error.
func (Default) ErrorResponse(err error) *http.Response {
	status, reason := http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		status, reason = reqErr.StatusCode, reqErr.Reason
	}
	return &http.Response{
		Status:        strconv.Itoa(status) + " " + reason,
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Length": []string{"0"}},
		Body:          http.NoBody,
		ContentLength: 0,
	}
}

// MakeRequestCompliant fixes up recoverable protocol issues in place.
func (Default) MakeRequestCompliant(req *http.Request) {
	if req.Method == http.MethodTrace && req.Body != nil && req.Body != http.NoBody {
		req.Body.Close()
		req.Body = http.NoBody
		req.ContentLength = 0
	}

	if req.ProtoMajor == 1 && req.ProtoMinor == 0 {
		removeExpectContinue(req)
	}

	if req.Method == http.MethodOptions {
		if req.ContentLength > 0 && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/octet-stream")
		}
		decrementMaxForwards(req)
	}

	stripFreshnessDirectivesWithNoCache(req)

	if req.ProtoMajor != 1 || req.ProtoMinor != 1 {
		req.Proto, req.ProtoMajor, req.ProtoMinor = "HTTP/1.1", 1, 1
	}
}

func removeExpectContinue(req *http.Request) {
	values := req.Header.Values("Expect")
	if len(values) == 0 {
		return
	}
	req.Header.Del("Expect")
	for _, v := range values {
		if !strings.EqualFold(strings.TrimSpace(v), "100-continue") {
			req.Header.Add("Expect", v)
		}
	}
}

func decrementMaxForwards(req *http.Request) {
	value := req.Header.Get("Max-Forwards")
	if value == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return
	}
	req.Header.Set("Max-Forwards", strconv.Itoa(n-1))
}

func stripFreshnessDirectivesWithNoCache(req *http.Request) {
	values := req.Header.Values("Cache-Control")
	if !policy.ParseCacheControl(values).Has(policy.DirectiveNoCache) {
		return
	}

	var kept []string
	for _, value := range values {
		for _, directive := range strings.Split(value, ",") {
			directive = strings.TrimSpace(directive)
			name := strings.ToLower(strings.TrimSpace(strings.SplitN(directive, "=", 2)[0]))
			switch name {
			case policy.DirectiveMinFresh, policy.DirectiveMaxStale, policy.DirectiveMaxAge, "":
				continue
			}
			kept = append(kept, directive)
		}
	}
	req.Header.Set("Cache-Control", strings.Join(kept, ", "))
}

// drainBody discards and closes a body.
func drainBody(body io.ReadCloser) {
	if body == nil || body == http.NoBody {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1<<20))
	body.Close()
}

// emptyBody returns an empty, closable body.
func emptyBody() io.ReadCloser {
	return io.NopCloser(bytes.NewReader(nil))
}
