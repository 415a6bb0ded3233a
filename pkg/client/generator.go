package client

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/httpcache/pkg/cache"
	"github.com/Sternrassler/httpcache/pkg/policy"
)

// Warning header values attached to responses served from cache.
const (
	warningStale              = `110 localhost "Response is stale"`
	warningRevalidationFailed = `111 localhost "Revalidation failed"`
)

var notModifiedHeaders = []string{"ETag", "Content-Location", "Expires", "Cache-Control", "Vary"}

// ResponseGenerator materializes responses from stored entries.
type ResponseGenerator struct {
	Validity policy.ValidityPolicy
}

// GenerateResponse builds the full response for entry. Only GET responses
// carry the stored body.
func (g ResponseGenerator) GenerateResponse(req *http.Request, entry *cache.Entry, now time.Time) *http.Response {
	resp := newResponse(entry.StatusCode(), entry.Header())
	resp.Request = req

	if req == nil || req.Method == http.MethodGet {
		resp.Body = io.NopCloser(bytes.NewReader(entry.Body()))
		resp.ContentLength = int64(entry.BodyLen())
		if resp.Header.Get("Transfer-Encoding") == "" && resp.Header.Get("Content-Length") == "" {
			resp.Header.Set("Content-Length", strconv.Itoa(entry.BodyLen()))
		}
	}

	if age := g.Validity.CurrentAge(entry, now); age > 0 {
		if age >= policy.MaxAge {
			age = policy.MaxAge
		}
		resp.Header.Set("Age", strconv.FormatInt(age, 10))
	}
	return resp
}

// GenerateNotModifiedResponse builds a 304 for entry carrying its Date and
// validator-related headers.
func (g ResponseGenerator) GenerateNotModifiedResponse(entry *cache.Entry, now time.Time) *http.Response {
	header := http.Header{}
	if date := entry.HeaderValue("Date"); date != "" {
		header.Set("Date", date)
	} else {
		header.Set("Date", now.UTC().Format(http.TimeFormat))
	}
	for _, name := range notModifiedHeaders {
		for _, v := range entry.HeaderValues(name) {
			header.Add(name, v)
		}
	}
	return newResponse(http.StatusNotModified, header)
}

// gatewayTimeout is returned when a request cannot be answered without
// contacting the origin.
func gatewayTimeout() *http.Response {
	return newResponse(http.StatusGatewayTimeout, http.Header{"Content-Length": []string{"0"}})
}

// optionsResponse answers the cache layer's own OPTIONS probe.
func optionsResponse() *http.Response {
	return newResponse(http.StatusOK, http.Header{
		"Allow":          []string{"GET, HEAD, OPTIONS"},
		"Content-Length": []string{"0"},
	})
}

func newResponse(status int, header http.Header) *http.Response {
	return &http.Response{
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode: status,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     header,
		Body:       http.NoBody,
	}
}

// closeBody discards the rest of a response body so the connection can be
// reused.
func closeBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
