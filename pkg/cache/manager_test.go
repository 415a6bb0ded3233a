package cache

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/httpcache/pkg/storage"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var testHost = Host{Scheme: "http", Name: "example.com"}

// setupTestRedis returns a client for a local Redis on DB 15, or skips.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func newTestCache(t *testing.T) (*HTTPCache, storage.Storage) {
	t.Helper()
	backend := storage.NewMemoryStorage(100)
	t.Cleanup(func() { backend.Close() })
	return NewHTTPCache(backend), backend
}

func newEntry(headers map[string]string, body string) *Entry {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	h := http.Header{"Date": []string{now.Format(http.TimeFormat)}}
	for k, v := range headers {
		h.Set(k, v)
	}
	return NewEntry(EntryData{
		RequestMethod: http.MethodGet,
		StatusCode:    200,
		Header:        h,
		Body:          []byte(body),
		RequestTime:   now,
		ResponseTime:  now,
	})
}

func TestNewHTTPCache_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewHTTPCache should panic with nil backend")
		}
	}()
	NewHTTPCache(nil)
}

func TestHTTPCache_PutAndGet(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	req := httptest.NewRequest(http.MethodGet, "http://example.com/items", nil)

	if _, err := c.Get(ctx, testHost, req); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("Get() on empty cache error = %v, want ErrCacheMiss", err)
	}

	entry := newEntry(map[string]string{"ETag": `"v1"`}, "payload")
	if err := c.Put(ctx, testHost, req, entry); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := c.Get(ctx, testHost, req)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ETag() != `"v1"` || string(got.Body()) != "payload" {
		t.Errorf("Get() = %+v", got.Data())
	}
}

func TestHTTPCache_Variants(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	jsonReq := httptest.NewRequest(http.MethodGet, "http://example.com/items", nil)
	jsonReq.Header.Set("Accept", "application/json")
	htmlReq := httptest.NewRequest(http.MethodGet, "http://example.com/items", nil)
	htmlReq.Header.Set("Accept", "text/html")

	jsonEntry := newEntry(map[string]string{"Vary": "Accept", "ETag": `"json"`}, "{}")
	htmlEntry := newEntry(map[string]string{"Vary": "Accept", "ETag": `"html"`}, "<p>")

	if err := c.Put(ctx, testHost, jsonReq, jsonEntry); err != nil {
		t.Fatalf("Put(json) error = %v", err)
	}
	if err := c.Put(ctx, testHost, htmlReq, htmlEntry); err != nil {
		t.Fatalf("Put(html) error = %v", err)
	}

	got, err := c.Get(ctx, testHost, jsonReq)
	if err != nil || got.ETag() != `"json"` {
		t.Fatalf("Get(json) = %v, %v", got, err)
	}
	got, err = c.Get(ctx, testHost, htmlReq)
	if err != nil || got.ETag() != `"html"` {
		t.Fatalf("Get(html) = %v, %v", got, err)
	}

	xmlReq := httptest.NewRequest(http.MethodGet, "http://example.com/items", nil)
	xmlReq.Header.Set("Accept", "application/xml")
	if _, err := c.Get(ctx, testHost, xmlReq); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get(xml) error = %v, want ErrCacheMiss", err)
	}

	variants, err := c.GetVariants(ctx, testHost, xmlReq)
	if err != nil {
		t.Fatalf("GetVariants() error = %v", err)
	}
	if len(variants) != 2 || variants[`"json"`] == nil || variants[`"html"`] == nil {
		t.Fatalf("GetVariants() = %v", variants)
	}

	// register the json variant for the xml request headers
	if err := c.RegisterReusableVariant(ctx, testHost, xmlReq, variants[`"json"`]); err != nil {
		t.Fatalf("RegisterReusableVariant() error = %v", err)
	}
	got, err = c.Get(ctx, testHost, xmlReq)
	if err != nil || got.ETag() != `"json"` {
		t.Errorf("Get(xml) after registration = %v, %v", got, err)
	}
}

func TestHTTPCache_UpdateEntry(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	req := httptest.NewRequest(http.MethodGet, "http://example.com/items", nil)

	entry := newEntry(map[string]string{"ETag": `"v1"`, "Cache-Control": "max-age=60"}, "payload")
	if err := c.Put(ctx, testHost, req, entry); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	later := time.Date(2024, 3, 1, 12, 5, 0, 0, time.UTC)
	resp := newTestResponse(http.StatusNotModified, "", map[string]string{
		"Date":          later.Format(http.TimeFormat),
		"Cache-Control": "max-age=300",
	})

	updated, err := c.UpdateEntry(ctx, testHost, req, entry, resp, later, later)
	if err != nil {
		t.Fatalf("UpdateEntry() error = %v", err)
	}
	if updated.HeaderValue("Cache-Control") != "max-age=300" {
		t.Errorf("Cache-Control = %q", updated.HeaderValue("Cache-Control"))
	}

	stored, err := c.Get(ctx, testHost, req)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.HeaderValue("Cache-Control") != "max-age=300" || string(stored.Body()) != "payload" {
		t.Errorf("stored entry = %+v", stored.Data())
	}
}

func TestHTTPCache_UpdateVariantEntry(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	req := httptest.NewRequest(http.MethodGet, "http://example.com/items", nil)
	req.Header.Set("Accept", "application/json")

	entry := newEntry(map[string]string{"Vary": "Accept", "ETag": `"json"`}, "{}")
	if err := c.Put(ctx, testHost, req, entry); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	variants, err := c.GetVariants(ctx, testHost, req)
	if err != nil {
		t.Fatalf("GetVariants() error = %v", err)
	}
	variant := variants[`"json"`]

	later := time.Date(2024, 3, 1, 12, 5, 0, 0, time.UTC)
	resp := newTestResponse(http.StatusNotModified, "", map[string]string{
		"Date": later.Format(http.TimeFormat),
		"ETag": `"json"`,
	})
	if _, err := c.UpdateVariantEntry(ctx, testHost, req, variant.Entry, resp, later, later, variant.CacheKey); err != nil {
		t.Fatalf("UpdateVariantEntry() error = %v", err)
	}

	got, err := c.Get(ctx, testHost, req)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !got.ResponseTime().Equal(later) {
		t.Errorf("ResponseTime = %v, want %v", got.ResponseTime(), later)
	}
}

func TestHTTPCache_FlushInvalidated(t *testing.T) {
	ctx := context.Background()

	t.Run("unsafe method flushes uri and locations", func(t *testing.T) {
		c, _ := newTestCache(t)
		get := httptest.NewRequest(http.MethodGet, "http://example.com/items", nil)
		other := httptest.NewRequest(http.MethodGet, "http://example.com/other", nil)
		for _, r := range []*http.Request{get, other} {
			if err := c.Put(ctx, testHost, r, newEntry(nil, "x")); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
		}

		post := httptest.NewRequest(http.MethodPost, "http://example.com/items", nil)
		post.Header.Set("Content-Location", "/other")
		if err := c.FlushInvalidated(ctx, testHost, post); err != nil {
			t.Fatalf("FlushInvalidated() error = %v", err)
		}

		for _, r := range []*http.Request{get, other} {
			if _, err := c.Get(ctx, testHost, r); !errors.Is(err, ErrCacheMiss) {
				t.Errorf("Get(%s) error = %v, want ErrCacheMiss", r.URL, err)
			}
		}
	})

	t.Run("safe method flushes nothing", func(t *testing.T) {
		c, _ := newTestCache(t)
		get := httptest.NewRequest(http.MethodGet, "http://example.com/items", nil)
		if err := c.Put(ctx, testHost, get, newEntry(nil, "x")); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if err := c.FlushInvalidated(ctx, testHost, get); err != nil {
			t.Fatalf("FlushInvalidated() error = %v", err)
		}
		if _, err := c.Get(ctx, testHost, get); err != nil {
			t.Errorf("Get() error = %v", err)
		}
	})

	t.Run("variants flushed with root", func(t *testing.T) {
		c, backend := newTestCache(t)
		get := httptest.NewRequest(http.MethodGet, "http://example.com/items", nil)
		get.Header.Set("Accept", "text/html")
		if err := c.Put(ctx, testHost, get, newEntry(map[string]string{"Vary": "Accept", "ETag": `"a"`}, "x")); err != nil {
			t.Fatalf("Put() error = %v", err)
		}

		del := httptest.NewRequest(http.MethodDelete, "http://example.com/items", nil)
		if err := c.FlushInvalidated(ctx, testHost, del); err != nil {
			t.Fatalf("FlushInvalidated() error = %v", err)
		}

		variantKey := VariantCacheKey("{accept=text%2Fhtml}", "http://example.com/items")
		if _, err := backend.Get(ctx, variantKey); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("variant entry still present: %v", err)
		}
	})
}

func TestHTTPCache_FlushInvalidatedByResponse(t *testing.T) {
	ctx := context.Background()
	req := httptest.NewRequest(http.MethodPost, "http://example.com/items", nil)
	target := httptest.NewRequest(http.MethodGet, "http://example.com/items/1", nil)
	stored := newEntry(map[string]string{"ETag": `"old"`}, "x")

	tests := []struct {
		name    string
		status  int
		headers map[string]string
		flushed bool
	}{
		{
			name:    "different etag flushes",
			status:  201,
			headers: map[string]string{"Location": "/items/1", "ETag": `"new"`, "Date": "Fri, 01 Mar 2024 12:01:00 GMT"},
			flushed: true,
		},
		{
			name:    "same etag keeps",
			status:  201,
			headers: map[string]string{"Location": "/items/1", "ETag": `"old"`, "Date": "Fri, 01 Mar 2024 12:01:00 GMT"},
		},
		{
			name:    "older response keeps",
			status:  201,
			headers: map[string]string{"Location": "/items/1", "ETag": `"new"`, "Date": "Fri, 01 Mar 2024 11:00:00 GMT"},
		},
		{
			name:    "error response keeps",
			status:  500,
			headers: map[string]string{"Location": "/items/1", "ETag": `"new"`},
		},
		{
			name:    "other host keeps",
			status:  201,
			headers: map[string]string{"Location": "http://other.com/items/1", "ETag": `"new"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestCache(t)
			if err := c.Put(ctx, testHost, target, stored); err != nil {
				t.Fatalf("Put() error = %v", err)
			}

			resp := newTestResponse(tt.status, "", tt.headers)
			if err := c.FlushInvalidatedByResponse(ctx, testHost, req, resp); err != nil {
				t.Fatalf("FlushInvalidatedByResponse() error = %v", err)
			}

			_, err := c.Get(ctx, testHost, target)
			if flushed := errors.Is(err, ErrCacheMiss); flushed != tt.flushed {
				t.Errorf("flushed = %v, want %v (err = %v)", flushed, tt.flushed, err)
			}
		})
	}
}

func TestHTTPCache_FlushAll(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	req := httptest.NewRequest(http.MethodGet, "http://example.com/items", nil)
	if err := c.Put(ctx, testHost, req, newEntry(nil, "x")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := c.FlushAll(ctx, testHost, req); err != nil {
		t.Fatalf("FlushAll() error = %v", err)
	}
	if _, err := c.Get(ctx, testHost, req); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}
}

func TestHTTPCache_Redis(t *testing.T) {
	client := setupTestRedis(t)
	c := NewHTTPCache(storage.NewRedisStorage(client, storage.RedisOptions{KeyPrefix: "httpcache-test:"}))
	ctx := context.Background()
	req := httptest.NewRequest(http.MethodGet, "http://example.com/items", nil)

	if err := c.Put(ctx, testHost, req, newEntry(map[string]string{"ETag": `"r"`}, "redis")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, err := c.Get(ctx, testHost, req)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ETag() != `"r"` {
		t.Errorf("ETag = %q", got.ETag())
	}
}

func TestNewHTTPCache_LoggerComponent(t *testing.T) {
	var buf bytes.Buffer
	orig := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = orig }()

	c := NewHTTPCache(storage.NewMemoryStorage(10))
	c.logger.Error().Msg("entry dropped")

	if !strings.Contains(buf.String(), `"component":"http-cache"`) {
		t.Errorf("log output = %q, want http-cache component", buf.String())
	}
}
