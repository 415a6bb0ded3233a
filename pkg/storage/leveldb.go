package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
)

// LevelDBStorage persists entries in an embedded LevelDB database.
type LevelDBStorage struct {
	db *leveldb.DB

	// serializes Update against Put/Delete
	mu sync.Mutex
}

// NewLevelDBStorage opens (or creates) the database directory at path.
func NewLevelDBStorage(path string) (*LevelDBStorage, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &LevelDBStorage{db: db}, nil
}

// Get retrieves the value for key.
func (l *LevelDBStorage) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := l.db.Get([]byte(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		StorageErrors.WithLabelValues("leveldb", "get").Inc()
		return nil, fmt.Errorf("leveldb get: %w", err)
	}
	return value, nil
}

// Put stores value under key.
func (l *LevelDBStorage) Put(ctx context.Context, key string, value []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.db.Put([]byte(key), value, nil); err != nil {
		StorageErrors.WithLabelValues("leveldb", "put").Inc()
		return fmt.Errorf("leveldb put: %w", err)
	}
	return nil
}

// Delete removes key.
func (l *LevelDBStorage) Delete(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.db.Delete([]byte(key), nil); err != nil {
		StorageErrors.WithLabelValues("leveldb", "delete").Inc()
		return fmt.Errorf("leveldb delete: %w", err)
	}
	return nil
}

// Update applies fn while holding the write lock and commits the result
// as a single batch.
func (l *LevelDBStorage) Update(ctx context.Context, key string, fn UpdateFunc) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	old, err := l.db.Get([]byte(key), nil)
	if err != nil {
		if !errors.Is(err, leveldb.ErrNotFound) {
			StorageErrors.WithLabelValues("leveldb", "update").Inc()
			return fmt.Errorf("leveldb get: %w", err)
		}
		old = nil
	}

	updated, err := fn(old)
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	if updated == nil {
		batch.Delete([]byte(key))
	} else {
		batch.Put([]byte(key), updated)
	}
	if err := l.db.Write(batch, nil); err != nil {
		StorageErrors.WithLabelValues("leveldb", "update").Inc()
		return fmt.Errorf("leveldb write: %w", err)
	}
	return nil
}

// Close closes the database.
func (l *LevelDBStorage) Close() error {
	return l.db.Close()
}
