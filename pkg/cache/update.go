package cache

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// MergeNotModified returns a new entry combining a stored entry with the
// headers of a 304 Not Modified revalidation response. The stored body is
// kept.
//
// When the stored Date is newer than the 304's Date the stored headers are
// kept as they are; only the timestamps move forward.
func MergeNotModified(entry *Entry, resp *http.Response, requestTime, responseTime time.Time) (*Entry, error) {
	if resp.StatusCode != http.StatusNotModified {
		return nil, fmt.Errorf("merge requires a 304 response, got %d", resp.StatusCode)
	}

	d := entry.Data()
	d.RequestTime = requestTime
	d.ResponseTime = responseTime
	d.Header = mergeHeaders(entry, resp.Header)
	return NewEntry(d), nil
}

func mergeHeaders(entry *Entry, update http.Header) http.Header {
	if entryDateNewer(entry, update) {
		return entry.Header()
	}

	merged := entry.Header()
	for name := range update {
		if !preservedOnMerge(name) {
			merged.Del(name)
		}
	}

	if warnings := merged.Values("Warning"); len(warnings) > 0 {
		merged.Del("Warning")
		for _, w := range warnings {
			if !strings.HasPrefix(strings.TrimSpace(w), "1") {
				merged.Add("Warning", w)
			}
		}
	}

	for name, values := range update {
		if preservedOnMerge(name) {
			continue
		}
		for _, v := range values {
			merged.Add(name, v)
		}
	}
	return merged
}

func entryDateNewer(entry *Entry, update http.Header) bool {
	entryDate, ok := entry.Date()
	if !ok {
		return false
	}
	responseDate, ok := ParseHTTPDate(update.Get("Date"))
	if !ok {
		return false
	}
	return entryDate.After(responseDate)
}

// preservedOnMerge lists headers describing the stored body, which a 304
// cannot change.
func preservedOnMerge(name string) bool {
	switch http.CanonicalHeaderKey(name) {
	case "Content-Encoding", "Content-Length", "Transfer-Encoding":
		return true
	}
	return false
}
