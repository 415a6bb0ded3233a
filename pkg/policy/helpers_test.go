package policy

import (
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/Sternrassler/httpcache/pkg/cache"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// newTestEntry builds a 200 entry received at baseTime with a Date of
// baseTime and the given extra headers.
func newTestEntry(headers map[string]string, body string) *cache.Entry {
	h := http.Header{}
	h.Set("Date", baseTime.Format(http.TimeFormat))
	for k, v := range headers {
		h.Set(k, v)
	}
	return cache.NewEntry(cache.EntryData{
		RequestMethod: http.MethodGet,
		StatusCode:    http.StatusOK,
		Header:        h,
		Body:          []byte(body),
		RequestTime:   baseTime,
		ResponseTime:  baseTime,
	})
}

func newTestRequest(headers map[string]string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "http://example.com/resource", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func at(seconds int) time.Time {
	return baseTime.Add(time.Duration(seconds) * time.Second)
}

func newEntryFromData(d cache.EntryData) *cache.Entry {
	return cache.NewEntry(d)
}
