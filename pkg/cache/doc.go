// Package cache models cached HTTP exchanges and maps requests onto a
// storage backend.
//
// An Entry is an immutable snapshot of one origin response: status,
// headers, body, and the request/response timestamps needed for age
// calculation. Updates (304 revalidation, variant registration) always
// produce a new Entry.
//
// HTTPCache implements Storage on top of any storage.Storage backend:
//
//   - Entries are keyed by the canonical absolute request URI
//   - Responses carrying Vary are stored per variant; the root entry keeps
//     a variant map from variant key to variant cache key
//   - Unsafe requests (POST, PUT, DELETE, ...) flush the resource, its
//     variants and same-host Content-Location/Location targets
//
// # Basic Usage
//
//	backend := storage.NewMemoryStorage(1000)
//	httpCache := cache.NewHTTPCache(backend)
//
//	target := cache.HostFromURL(req.URL)
//	entry, err := httpCache.Get(ctx, target, req)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from origin
//	}
//
// # Storing Responses
//
//	entry, ok, err := cache.NewEntryFromResponse(req, resp, requestTime, responseTime, maxObjectSize)
//	if err != nil {
//		return err
//	}
//	if ok {
//		if err := httpCache.Put(ctx, target, req, entry); err != nil {
//			return err
//		}
//	}
//
// # Metrics
//
//   - httpcache_entries_stored_total - Entries written
//   - httpcache_entries_updated_total - Entries freshened by 304 responses
//   - httpcache_entries_flushed_total - Entries removed by invalidation
//   - httpcache_entry_size_bytes - Serialized entry size
//   - httpcache_cache_errors_total{operation} - Cache operation errors
package cache
