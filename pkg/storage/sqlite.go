package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteStorage persists entries in a single SQLite table.
type SQLiteStorage struct {
	db         *sql.DB
	writeMutex sync.Mutex
}

// NewSQLiteStorage opens (or creates) the database at path.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	statements := []string{
		"CREATE TABLE IF NOT EXISTS cache_entries (key TEXT PRIMARY KEY, value BLOB NOT NULL, updated_at INTEGER NOT NULL)",
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
	}

	return &SQLiteStorage{db: db}, nil
}

// Get retrieves the value for key.
func (s *SQLiteStorage) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM cache_entries WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		StorageErrors.WithLabelValues("sqlite", "get").Inc()
		return nil, fmt.Errorf("sqlite get: %w", err)
	}
	return value, nil
}

// Put stores value under key.
func (s *SQLiteStorage) Put(ctx context.Context, key string, value []byte) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	if _, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO cache_entries (key, value, updated_at) VALUES (?, ?, ?)",
		key, value, time.Now().Unix()); err != nil {
		StorageErrors.WithLabelValues("sqlite", "put").Inc()
		return fmt.Errorf("sqlite put: %w", err)
	}
	return nil
}

// Delete removes key.
func (s *SQLiteStorage) Delete(ctx context.Context, key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key); err != nil {
		StorageErrors.WithLabelValues("sqlite", "delete").Inc()
		return fmt.Errorf("sqlite delete: %w", err)
	}
	return nil
}

// Update runs fn inside a transaction.
func (s *SQLiteStorage) Update(ctx context.Context, key string, fn UpdateFunc) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		StorageErrors.WithLabelValues("sqlite", "update").Inc()
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	var old []byte
	err = tx.QueryRowContext(ctx, "SELECT value FROM cache_entries WHERE key = ?", key).Scan(&old)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		StorageErrors.WithLabelValues("sqlite", "update").Inc()
		return fmt.Errorf("sqlite get: %w", err)
	}

	updated, err := fn(old)
	if err != nil {
		return err
	}

	if updated == nil {
		_, err = tx.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key)
	} else {
		_, err = tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO cache_entries (key, value, updated_at) VALUES (?, ?, ?)",
			key, updated, time.Now().Unix())
	}
	if err != nil {
		StorageErrors.WithLabelValues("sqlite", "update").Inc()
		return fmt.Errorf("sqlite update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		StorageErrors.WithLabelValues("sqlite", "update").Inc()
		return fmt.Errorf("sqlite commit: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
