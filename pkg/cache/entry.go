package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"
)

// EntryData holds the fields of a cache entry. It is the mutable form used
// to construct an Entry; an Entry never exposes its own storage.
type EntryData struct {
	// RequestMethod is the method of the request that produced the response
	RequestMethod string `json:"request_method"`

	// RequestHeader is the request header snapshot (used for Vary matching)
	RequestHeader http.Header `json:"request_header,omitempty"`

	// StatusCode is the HTTP status code of the cached response
	StatusCode int `json:"status_code"`

	// ProtoMajor and ProtoMinor are the response protocol version
	ProtoMajor int `json:"proto_major"`
	ProtoMinor int `json:"proto_minor"`

	// Header are the response headers
	Header http.Header `json:"header"`

	// Body is the response body
	Body []byte `json:"body"`

	// RequestTime is when the request was sent to the origin
	RequestTime time.Time `json:"request_time"`

	// ResponseTime is when the response was received from the origin
	ResponseTime time.Time `json:"response_time"`

	// Variants maps variant keys to variant cache keys (root entries only)
	Variants map[string]string `json:"variants,omitempty"`
}

// Entry is an immutable snapshot of a cached HTTP exchange.
type Entry struct {
	data EntryData
}

// NewEntry creates an entry from a deep copy of d. A response time earlier
// than the request time is clamped to the request time.
func NewEntry(d EntryData) *Entry {
	d = d.clone()
	if d.ResponseTime.Before(d.RequestTime) {
		d.ResponseTime = d.RequestTime
	}
	if d.Header == nil {
		d.Header = http.Header{}
	}
	if d.ProtoMajor == 0 {
		d.ProtoMajor, d.ProtoMinor = 1, 1
	}
	return &Entry{data: d}
}

func (d EntryData) clone() EntryData {
	out := d
	out.RequestHeader = d.RequestHeader.Clone()
	out.Header = d.Header.Clone()
	if d.Body != nil {
		out.Body = append([]byte(nil), d.Body...)
	}
	if d.Variants != nil {
		out.Variants = make(map[string]string, len(d.Variants))
		for k, v := range d.Variants {
			out.Variants[k] = v
		}
	}
	return out
}

// Data returns a deep copy of the entry's fields.
func (e *Entry) Data() EntryData {
	return e.data.clone()
}

// RequestMethod returns the method of the originating request.
func (e *Entry) RequestMethod() string { return e.data.RequestMethod }

// StatusCode returns the cached status code.
func (e *Entry) StatusCode() int { return e.data.StatusCode }

// ProtoMajor returns the response protocol major version.
func (e *Entry) ProtoMajor() int { return e.data.ProtoMajor }

// ProtoMinor returns the response protocol minor version.
func (e *Entry) ProtoMinor() int { return e.data.ProtoMinor }

// RequestTime returns when the request was sent.
func (e *Entry) RequestTime() time.Time { return e.data.RequestTime }

// ResponseTime returns when the response was received.
func (e *Entry) ResponseTime() time.Time { return e.data.ResponseTime }

// Header returns a copy of the response header.
func (e *Entry) Header() http.Header { return e.data.Header.Clone() }

// HeaderValue returns the first value of the named response header.
func (e *Entry) HeaderValue(name string) string { return e.data.Header.Get(name) }

// HeaderValues returns a copy of all values of the named response header.
func (e *Entry) HeaderValues(name string) []string {
	values := e.data.Header.Values(name)
	if len(values) == 0 {
		return nil
	}
	return append([]string(nil), values...)
}

// RequestHeaderValues returns all values of the named stored request header.
func (e *Entry) RequestHeaderValues(name string) []string {
	values := e.data.RequestHeader.Values(name)
	if len(values) == 0 {
		return nil
	}
	return append([]string(nil), values...)
}

// Body returns a copy of the stored body.
func (e *Entry) Body() []byte {
	return append([]byte(nil), e.data.Body...)
}

// BodyLen returns the stored body length.
func (e *Entry) BodyLen() int { return len(e.data.Body) }

// BodyReader returns a reader over the stored body.
func (e *Entry) BodyReader() io.Reader { return bytes.NewReader(e.data.Body) }

// ETag returns the entity tag, or "".
func (e *Entry) ETag() string { return e.data.Header.Get("ETag") }

// Date returns the parsed Date header.
func (e *Entry) Date() (time.Time, bool) {
	return ParseHTTPDate(e.data.Header.Get("Date"))
}

// LastModified returns the parsed Last-Modified header.
func (e *Entry) LastModified() (time.Time, bool) {
	return ParseHTTPDate(e.data.Header.Get("Last-Modified"))
}

// HasVariants reports whether this is a root entry of a negotiated resource.
func (e *Entry) HasVariants() bool { return len(e.data.Variants) > 0 }

// Variants returns a copy of the variant map (variant key -> variant cache key).
func (e *Entry) Variants() map[string]string {
	out := make(map[string]string, len(e.data.Variants))
	for k, v := range e.data.Variants {
		out[k] = v
	}
	return out
}

// VariantKeys returns the variant keys in sorted order.
func (e *Entry) VariantKeys() []string {
	keys := make([]string, 0, len(e.data.Variants))
	for k := range e.data.Variants {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WithVariant returns a copy of the entry whose variant map also maps
// variantKey to variantCacheKey.
func (e *Entry) WithVariant(variantKey, variantCacheKey string) *Entry {
	d := e.data.clone()
	if d.Variants == nil {
		d.Variants = map[string]string{}
	}
	d.Variants[variantKey] = variantCacheKey
	return &Entry{data: d}
}

// MarshalJSON encodes the entry.
func (e *Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.data)
}

// UnmarshalJSON decodes the entry.
func (e *Entry) UnmarshalJSON(b []byte) error {
	var d EntryData
	if err := json.Unmarshal(b, &d); err != nil {
		return err
	}
	*e = *NewEntry(d)
	return nil
}

// encodeEntry serializes an entry for storage.
func encodeEntry(e *Entry) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal cache entry: %w", err)
	}
	return data, nil
}

// decodeEntry deserializes a stored entry.
func decodeEntry(data []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &e, nil
}

// ParseHTTPDate parses an HTTP-date in any of the three formats RFC 7231
// permits.
func ParseHTTPDate(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	t, err := http.ParseTime(value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
