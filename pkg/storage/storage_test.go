package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
)

// runStorageTests exercises the behaviour every backend must share.
func runStorageTests(t *testing.T, s Storage) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing key", func(t *testing.T) {
		_, err := s.Get(ctx, "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Get() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("put and get", func(t *testing.T) {
		if err := s.Put(ctx, "k1", []byte("v1")); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		got, err := s.Get(ctx, "k1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if string(got) != "v1" {
			t.Errorf("Get() = %q, want %q", got, "v1")
		}
	})

	t.Run("put replaces", func(t *testing.T) {
		if err := s.Put(ctx, "k2", []byte("old")); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if err := s.Put(ctx, "k2", []byte("new")); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		got, _ := s.Get(ctx, "k2")
		if string(got) != "new" {
			t.Errorf("Get() = %q, want %q", got, "new")
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := s.Put(ctx, "k3", []byte("v")); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if err := s.Delete(ctx, "k3"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := s.Get(ctx, "k3"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get() after Delete error = %v, want ErrNotFound", err)
		}
		if err := s.Delete(ctx, "never-stored"); err != nil {
			t.Errorf("Delete() of missing key error = %v", err)
		}
	})

	t.Run("update creates and modifies", func(t *testing.T) {
		err := s.Update(ctx, "k4", func(old []byte) ([]byte, error) {
			if old != nil {
				t.Errorf("old = %q, want nil", old)
			}
			return []byte("a"), nil
		})
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		err = s.Update(ctx, "k4", func(old []byte) ([]byte, error) {
			return append(old, 'b'), nil
		})
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		got, _ := s.Get(ctx, "k4")
		if string(got) != "ab" {
			t.Errorf("Get() = %q, want %q", got, "ab")
		}
	})

	t.Run("update nil deletes", func(t *testing.T) {
		_ = s.Put(ctx, "k5", []byte("v"))
		if err := s.Update(ctx, "k5", func(old []byte) ([]byte, error) { return nil, nil }); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if _, err := s.Get(ctx, "k5"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("update error aborts", func(t *testing.T) {
		_ = s.Put(ctx, "k6", []byte("keep"))
		boom := errors.New("boom")
		err := s.Update(ctx, "k6", func(old []byte) ([]byte, error) { return []byte("lost"), boom })
		if !errors.Is(err, boom) {
			t.Errorf("Update() error = %v, want boom", err)
		}
		got, _ := s.Get(ctx, "k6")
		if string(got) != "keep" {
			t.Errorf("Get() = %q, want %q", got, "keep")
		}
	})

	t.Run("concurrent updates are atomic", func(t *testing.T) {
		const workers = 8
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = s.Update(ctx, "counter", func(old []byte) ([]byte, error) {
					return append(old, 'x'), nil
				})
			}()
		}
		wg.Wait()

		got, err := s.Get(ctx, "counter")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		// Redis may report conflicts under contention, every other backend must apply all
		if _, ok := s.(*RedisStorage); !ok && len(got) != workers {
			t.Errorf("len(counter) = %d, want %d", len(got), workers)
		}
	})
}

func TestMemoryStorage(t *testing.T) {
	runStorageTests(t, NewMemoryStorage(100))
}

func TestMemoryStorage_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage(2)

	_ = s.Put(ctx, "a", []byte("1"))
	_ = s.Put(ctx, "b", []byte("2"))
	// touch a so b becomes the eviction candidate
	if _, err := s.Get(ctx, "a"); err != nil {
		t.Fatalf("Get(a) error = %v", err)
	}
	_ = s.Put(ctx, "c", []byte("3"))

	if _, err := s.Get(ctx, "b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(b) error = %v, want ErrNotFound", err)
	}
	for _, key := range []string{"a", "c"} {
		if _, err := s.Get(ctx, key); err != nil {
			t.Errorf("Get(%s) error = %v", key, err)
		}
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
}

func TestMemoryStorage_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage(10)

	value := []byte("abc")
	_ = s.Put(ctx, "k", value)
	value[0] = 'z'

	got, _ := s.Get(ctx, "k")
	got[1] = 'z'

	again, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("stored value = %q, want %q", again, "abc")
	}
}

func TestMemoryStorage_Closed(t *testing.T) {
	s := NewMemoryStorage(10)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Put(context.Background(), "k", []byte("v")); !errors.Is(err, ErrClosed) {
		t.Errorf("Put() after Close error = %v, want ErrClosed", err)
	}
}

func TestMemoryStorage_EntriesGaugeSumsInstances(t *testing.T) {
	ctx := context.Background()
	gauge := StorageEntries.WithLabelValues("memory")
	base := testutil.ToFloat64(gauge)

	first := NewMemoryStorage(2)
	second := NewMemoryStorage(10)
	for _, key := range []string{"a", "b", "c"} {
		_ = first.Put(ctx, key, []byte("v"))
	}
	_ = first.Put(ctx, "c", []byte("updated"))
	_ = second.Put(ctx, "x", []byte("v"))
	_ = second.Put(ctx, "y", []byte("v"))
	_ = second.Delete(ctx, "y")

	if got := testutil.ToFloat64(gauge) - base; got != 3 {
		t.Fatalf("entries gauge = %v, want 3", got)
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := testutil.ToFloat64(gauge) - base; got != 1 {
		t.Errorf("entries gauge after closing one instance = %v, want 1", got)
	}

	_ = second.Close()
	if got := testutil.ToFloat64(gauge) - base; got != 0 {
		t.Errorf("entries gauge after closing both = %v, want 0", got)
	}
}

func TestSQLiteStorage(t *testing.T) {
	s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStorage() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	runStorageTests(t, s)
}

func TestSQLiteStorage_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatalf("NewSQLiteStorage() error = %v", err)
	}
	if err := s.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	s.Close()

	reopened, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Errorf("Get() = %q, %v, want %q", got, err, "v")
	}
}

func TestLevelDBStorage(t *testing.T) {
	s, err := NewLevelDBStorage(filepath.Join(t.TempDir(), "leveldb"))
	if err != nil {
		t.Fatalf("NewLevelDBStorage() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	runStorageTests(t, s)
}

// setupTestRedis connects to a local Redis and skips when none is running.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
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

func TestRedisStorage(t *testing.T) {
	client := setupTestRedis(t)
	runStorageTests(t, NewRedisStorage(client, RedisOptions{KeyPrefix: "test:"}))
}

func TestRedisStorage_KeyPrefix(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	s := NewRedisStorage(client, RedisOptions{KeyPrefix: "httpcache:"})
	if err := s.Put(ctx, "http://example.com/", []byte("v")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	raw, err := client.Get(ctx, "httpcache:http://example.com/").Result()
	if err != nil {
		t.Fatalf("raw get error = %v", err)
	}
	if raw != "v" {
		t.Errorf("raw value = %q, want %q", raw, "v")
	}
}

func TestNewRedisStorage_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedisStorage should panic with nil redis client")
		}
	}()
	NewRedisStorage(nil, RedisOptions{})
}

func BenchmarkMemoryStorage_Put(b *testing.B) {
	ctx := context.Background()
	s := NewMemoryStorage(1024)
	value := []byte("value")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = s.Put(ctx, fmt.Sprintf("key-%d", i%2048), value)
	}
}
