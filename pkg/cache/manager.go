package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/httpcache/pkg/logging"
	"github.com/Sternrassler/httpcache/pkg/storage"
	"github.com/rs/zerolog"
)

var (
	// ErrCacheMiss indicates no entry exists for the request
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Variant is one negotiated representation of a resource.
type Variant struct {
	// Key is the variant key derived from the Vary request headers
	Key string

	// CacheKey is the storage key of the variant entry
	CacheKey string

	// Entry is the stored variant
	Entry *Entry
}

// Storage is the entry-level cache capability used by the caching engine.
// Every method may fail; callers decide how to degrade.
type Storage interface {
	Get(ctx context.Context, target Host, req *http.Request) (*Entry, error)
	GetVariants(ctx context.Context, target Host, req *http.Request) (map[string]*Variant, error)
	Put(ctx context.Context, target Host, req *http.Request, entry *Entry) error
	UpdateEntry(ctx context.Context, target Host, req *http.Request, existing *Entry, resp *http.Response, requestTime, responseTime time.Time) (*Entry, error)
	UpdateVariantEntry(ctx context.Context, target Host, req *http.Request, matched *Entry, resp *http.Response, requestTime, responseTime time.Time, variantCacheKey string) (*Entry, error)
	RegisterReusableVariant(ctx context.Context, target Host, req *http.Request, variant *Variant) error
	FlushInvalidated(ctx context.Context, target Host, req *http.Request) error
	FlushInvalidatedByResponse(ctx context.Context, target Host, req *http.Request, resp *http.Response) error
	FlushAll(ctx context.Context, target Host, req *http.Request) error
}

// HTTPCache maps HTTP requests to entries held in a storage backend.
type HTTPCache struct {
	backend storage.Storage
	logger  zerolog.Logger
}

// NewHTTPCache creates an HTTP cache over the given backend.
func NewHTTPCache(backend storage.Storage) *HTTPCache {
	if backend == nil {
		panic("storage backend cannot be nil")
	}
	return &HTTPCache{
		backend: backend,
		logger:  logging.NewLogger("http-cache"),
	}
}

// Get returns the entry that matches req, following the variant map of
// negotiated resources. Returns ErrCacheMiss when nothing matches.
func (c *HTTPCache) Get(ctx context.Context, target Host, req *http.Request) (*Entry, error) {
	uri := URIKey(target, req)

	root, err := c.load(ctx, uri)
	if err != nil {
		return nil, err
	}
	if !root.HasVariants() {
		return root, nil
	}

	variantKey := VariantKey(req, root.Header())
	variantCacheKey, ok := root.Variants()[variantKey]
	if !ok {
		return nil, ErrCacheMiss
	}
	return c.load(ctx, variantCacheKey)
}

// GetVariants returns the stored variants of the requested resource keyed
// by ETag. Variants without an ETag cannot be negotiated and are skipped.
func (c *HTTPCache) GetVariants(ctx context.Context, target Host, req *http.Request) (map[string]*Variant, error) {
	variants := map[string]*Variant{}

	root, err := c.load(ctx, URIKey(target, req))
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return variants, nil
		}
		return nil, err
	}

	for variantKey, variantCacheKey := range root.Variants() {
		entry, err := c.load(ctx, variantCacheKey)
		if err != nil {
			if errors.Is(err, ErrCacheMiss) {
				continue
			}
			return nil, err
		}
		etag := entry.ETag()
		if etag == "" {
			continue
		}
		variants[etag] = &Variant{
			Key:      variantKey,
			CacheKey: variantCacheKey,
			Entry:    entry,
		}
	}
	return variants, nil
}

// Put stores entry for req. Responses carrying Vary are stored under
// their variant cache key and registered in the root entry.
func (c *HTTPCache) Put(ctx context.Context, target Host, req *http.Request, entry *Entry) error {
	uri := URIKey(target, req)

	if len(VaryHeaderNames(entry.data.Header)) == 0 {
		if err := c.store(ctx, uri, entry); err != nil {
			return err
		}
		c.logger.Debug().Str("key", uri).Int("status", entry.StatusCode()).Msg("Stored entry")
		return nil
	}

	variantKey := VariantKey(req, entry.data.Header)
	variantCacheKey := VariantCacheKey(variantKey, uri)
	if err := c.store(ctx, variantCacheKey, entry); err != nil {
		return err
	}
	if err := c.addVariant(ctx, uri, entry, variantKey, variantCacheKey); err != nil {
		return err
	}
	c.logger.Debug().Str("key", uri).Str("variant", variantKey).Msg("Stored variant entry")
	return nil
}

// UpdateEntry merges a 304 response into existing and stores the result.
func (c *HTTPCache) UpdateEntry(ctx context.Context, target Host, req *http.Request, existing *Entry, resp *http.Response, requestTime, responseTime time.Time) (*Entry, error) {
	updated, err := MergeNotModified(existing, resp, requestTime, responseTime)
	if err != nil {
		return nil, err
	}
	if err := c.Put(ctx, target, req, updated); err != nil {
		return nil, err
	}
	CacheEntriesUpdated.Inc()
	return updated, nil
}

// UpdateVariantEntry merges a 304 response into the matched variant and
// stores it under variantCacheKey.
func (c *HTTPCache) UpdateVariantEntry(ctx context.Context, target Host, req *http.Request, matched *Entry, resp *http.Response, requestTime, responseTime time.Time, variantCacheKey string) (*Entry, error) {
	updated, err := MergeNotModified(matched, resp, requestTime, responseTime)
	if err != nil {
		return nil, err
	}
	if err := c.store(ctx, variantCacheKey, updated); err != nil {
		return nil, err
	}
	CacheEntriesUpdated.Inc()
	return updated, nil
}

// RegisterReusableVariant maps the variant key of req to an already stored
// variant, so later requests with the same headers find it directly.
func (c *HTTPCache) RegisterReusableVariant(ctx context.Context, target Host, req *http.Request, variant *Variant) error {
	uri := URIKey(target, req)
	variantKey := VariantKey(req, variant.Entry.data.Header)
	return c.addVariant(ctx, uri, variant.Entry, variantKey, variant.CacheKey)
}

// FlushInvalidated removes entries invalidated by an unsafe request: the
// request URI with all its variants and any same-host Content-Location or
// Location it names.
func (c *HTTPCache) FlushInvalidated(ctx context.Context, target Host, req *http.Request) error {
	if req.Method == http.MethodGet || req.Method == http.MethodHead {
		return nil
	}

	var errs []error
	uri := URIKey(target, req)
	if err := c.flushWithVariants(ctx, uri); err != nil {
		errs = append(errs, err)
	}

	for _, name := range []string{"Content-Location", "Location"} {
		if key, ok := URIKeyForLocation(target, req, req.Header.Get(name)); ok && key != uri {
			if err := c.flushWithVariants(ctx, key); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// FlushInvalidatedByResponse removes entries a successful response reports
// as changed through Content-Location or Location. An entry survives when
// the response is older than it or carries the same ETag.
func (c *HTTPCache) FlushInvalidatedByResponse(ctx context.Context, target Host, req *http.Request, resp *http.Response) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil
	}

	uri := URIKey(target, req)
	var errs []error
	for _, name := range []string{"Content-Location", "Location"} {
		key, ok := URIKeyForLocation(target, req, resp.Header.Get(name))
		if !ok || key == uri {
			continue
		}

		entry, err := c.load(ctx, key)
		if err != nil {
			if !errors.Is(err, ErrCacheMiss) {
				errs = append(errs, err)
			}
			continue
		}
		if responseOlderThan(resp, entry) || !etagsDiffer(resp, entry) {
			continue
		}
		if err := c.flushWithVariants(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FlushAll removes the entry for req and all of its variants.
func (c *HTTPCache) FlushAll(ctx context.Context, target Host, req *http.Request) error {
	return c.flushWithVariants(ctx, URIKey(target, req))
}

func (c *HTTPCache) flushWithVariants(ctx context.Context, uri string) error {
	root, err := c.load(ctx, uri)
	if err != nil && !errors.Is(err, ErrCacheMiss) && !errors.Is(err, ErrInvalidEntry) {
		return err
	}
	if root != nil {
		for _, variantCacheKey := range root.Variants() {
			if err := c.remove(ctx, variantCacheKey); err != nil {
				return err
			}
		}
	}
	if err := c.remove(ctx, uri); err != nil {
		return err
	}
	c.logger.Debug().Str("key", uri).Msg("Flushed entry")
	return nil
}

func (c *HTTPCache) addVariant(ctx context.Context, uri string, entry *Entry, variantKey, variantCacheKey string) error {
	err := c.backend.Update(ctx, uri, func(old []byte) ([]byte, error) {
		root := entry
		if old != nil {
			existing, err := decodeEntry(old)
			if err == nil {
				root = existing
			}
		}
		return encodeEntry(root.WithVariant(variantKey, variantCacheKey))
	})
	if err != nil {
		CacheErrors.WithLabelValues("update").Inc()
		return fmt.Errorf("update variant map: %w", err)
	}
	return nil
}

func (c *HTTPCache) load(ctx context.Context, key string) (*Entry, error) {
	data, err := c.backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("storage get: %w", err)
	}

	entry, err := decodeEntry(data)
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, err
	}
	return entry, nil
}

func (c *HTTPCache) store(ctx context.Context, key string, entry *Entry) error {
	data, err := encodeEntry(entry)
	if err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return err
	}
	if err := c.backend.Put(ctx, key, data); err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("storage put: %w", err)
	}
	CacheEntriesStored.Inc()
	CacheEntrySize.Observe(float64(len(data)))
	return nil
}

func (c *HTTPCache) remove(ctx context.Context, key string) error {
	if err := c.backend.Delete(ctx, key); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("storage delete: %w", err)
	}
	CacheEntriesFlushed.Inc()
	return nil
}

func responseOlderThan(resp *http.Response, entry *Entry) bool {
	entryDate, ok := entry.Date()
	if !ok {
		return false
	}
	responseDate, ok := ParseHTTPDate(resp.Header.Get("Date"))
	if !ok {
		return false
	}
	return responseDate.Before(entryDate)
}

func etagsDiffer(resp *http.Response, entry *Entry) bool {
	entryETag := entry.ETag()
	responseETag := resp.Header.Get("ETag")
	if entryETag == "" || responseETag == "" {
		return false
	}
	return entryETag != responseETag
}
