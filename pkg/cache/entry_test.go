package cache

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestNewEntry(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("clamps response time", func(t *testing.T) {
		e := NewEntry(EntryData{
			StatusCode:   200,
			RequestTime:  now,
			ResponseTime: now.Add(-time.Second),
		})
		if !e.ResponseTime().Equal(now) {
			t.Errorf("ResponseTime = %v, want %v", e.ResponseTime(), now)
		}
	})

	t.Run("defaults", func(t *testing.T) {
		e := NewEntry(EntryData{StatusCode: 200})
		if e.Header() == nil {
			t.Error("Header should not be nil")
		}
		if e.ProtoMajor() != 1 || e.ProtoMinor() != 1 {
			t.Errorf("protocol = %d.%d, want 1.1", e.ProtoMajor(), e.ProtoMinor())
		}
	})

	t.Run("isolated from input", func(t *testing.T) {
		header := http.Header{"Etag": []string{`"a"`}}
		body := []byte("hello")
		e := NewEntry(EntryData{StatusCode: 200, Header: header, Body: body})

		header.Set("ETag", `"b"`)
		body[0] = 'j'

		if e.ETag() != `"a"` {
			t.Errorf("ETag = %q, want %q", e.ETag(), `"a"`)
		}
		if string(e.Body()) != "hello" {
			t.Errorf("Body = %q, want hello", e.Body())
		}
	})

	t.Run("accessors return copies", func(t *testing.T) {
		e := NewEntry(EntryData{StatusCode: 200, Header: http.Header{"X-A": []string{"1"}}})
		h := e.Header()
		h.Set("X-A", "2")
		if e.HeaderValue("X-A") != "1" {
			t.Error("Header() must return a copy")
		}
	})
}

func TestEntry_Dates(t *testing.T) {
	e := NewEntry(EntryData{
		StatusCode: 200,
		Header: http.Header{
			"Date":          []string{"Fri, 01 Mar 2024 12:00:00 GMT"},
			"Last-Modified": []string{"not a date"},
		},
	})

	date, ok := e.Date()
	if !ok || !date.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("Date() = %v, %v", date, ok)
	}
	if _, ok := e.LastModified(); ok {
		t.Error("LastModified() should fail on invalid date")
	}
}

func TestEntry_WithVariant(t *testing.T) {
	root := NewEntry(EntryData{StatusCode: 200})
	updated := root.WithVariant("{accept=json}", "{accept=json}http://example.com/")

	if root.HasVariants() {
		t.Error("WithVariant must not modify the receiver")
	}
	if !updated.HasVariants() {
		t.Fatal("updated entry should have variants")
	}
	if got := updated.Variants()["{accept=json}"]; got != "{accept=json}http://example.com/" {
		t.Errorf("variant cache key = %q", got)
	}

	updated = updated.WithVariant("{accept=html}", "x")
	keys := updated.VariantKeys()
	if len(keys) != 2 || keys[0] != "{accept=html}" {
		t.Errorf("VariantKeys() = %v", keys)
	}
}

func TestEntry_JSONRoundTrip(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	original := NewEntry(EntryData{
		RequestMethod: http.MethodGet,
		StatusCode:    200,
		Header:        http.Header{"Etag": []string{`"v1"`}},
		Body:          []byte(`{"ok":true}`),
		RequestTime:   now,
		ResponseTime:  now.Add(time.Second),
		Variants:      map[string]string{"{a=b}": "{a=b}http://example.com/"},
	})

	data, err := encodeEntry(original)
	if err != nil {
		t.Fatalf("encodeEntry() error = %v", err)
	}
	decoded, err := decodeEntry(data)
	if err != nil {
		t.Fatalf("decodeEntry() error = %v", err)
	}

	if decoded.ETag() != `"v1"` || string(decoded.Body()) != `{"ok":true}` {
		t.Errorf("decoded entry mismatch: %+v", decoded.Data())
	}
	if !decoded.ResponseTime().Equal(original.ResponseTime()) {
		t.Errorf("ResponseTime = %v, want %v", decoded.ResponseTime(), original.ResponseTime())
	}
	if decoded.Variants()["{a=b}"] != "{a=b}http://example.com/" {
		t.Error("variant map lost")
	}
}

func TestDecodeEntry_Invalid(t *testing.T) {
	_, err := decodeEntry([]byte("{broken"))
	if !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("error = %v, want ErrInvalidEntry", err)
	}

	var e Entry
	if err := json.Unmarshal([]byte(`{"status_code":200}`), &e); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if e.StatusCode() != 200 {
		t.Errorf("StatusCode = %d", e.StatusCode())
	}
}

func TestParseHTTPDate(t *testing.T) {
	tests := []struct {
		value string
		ok    bool
	}{
		{"Fri, 01 Mar 2024 12:00:00 GMT", true},
		{"Friday, 01-Mar-24 12:00:00 GMT", true},
		{"Fri Mar  1 12:00:00 2024", true},
		{"", false},
		{"yesterday", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			_, ok := ParseHTTPDate(tt.value)
			if ok != tt.ok {
				t.Errorf("ParseHTTPDate(%q) ok = %v, want %v", tt.value, ok, tt.ok)
			}
		})
	}
}
