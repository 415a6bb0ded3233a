package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"
)

// multiReadCloser replays an already consumed prefix before the rest of
// the original body.
type multiReadCloser struct {
	io.Reader
	closer io.Closer
}

func (m *multiReadCloser) Close() error {
	return m.closer.Close()
}

// NewEntryFromResponse reads the response body and builds an entry for it.
//
// The body is read up to maxSize bytes (0 = unlimited). When it is larger,
// no entry is created, ok is false and resp.Body is replaced by a reader
// yielding the complete original body. Otherwise resp.Body is restored
// from the buffered bytes.
func NewEntryFromResponse(req *http.Request, resp *http.Response, requestTime, responseTime time.Time, maxSize int64) (entry *Entry, ok bool, err error) {
	if resp == nil {
		return nil, false, fmt.Errorf("response cannot be nil")
	}

	var body []byte
	if resp.Body != nil && resp.Body != http.NoBody {
		reader := io.Reader(resp.Body)
		if maxSize > 0 {
			reader = io.LimitReader(resp.Body, maxSize+1)
		}
		body, err = io.ReadAll(reader)
		if err != nil {
			resp.Body.Close()
			return nil, false, fmt.Errorf("read response body: %w", err)
		}

		if maxSize > 0 && int64(len(body)) > maxSize {
			resp.Body = &multiReadCloser{
				Reader: io.MultiReader(bytes.NewReader(body), resp.Body),
				closer: resp.Body,
			}
			return nil, false, nil
		}
		resp.Body.Close()
	}

	// Restore body for caller
	resp.Body = io.NopCloser(bytes.NewReader(body))

	method := http.MethodGet
	var reqHeader http.Header
	if req != nil {
		method = req.Method
		reqHeader = req.Header
	}

	entry = NewEntry(EntryData{
		RequestMethod: method,
		RequestHeader: reqHeader,
		StatusCode:    resp.StatusCode,
		ProtoMajor:    resp.ProtoMajor,
		ProtoMinor:    resp.ProtoMinor,
		Header:        resp.Header,
		Body:          body,
		RequestTime:   requestTime,
		ResponseTime:  responseTime,
	})
	return entry, true, nil
}
