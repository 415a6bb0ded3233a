// Package storage provides byte-level key/value backends for the HTTP cache.
//
// Every backend implements Storage. Values are opaque to this package; the
// cache package owns their encoding.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates the requested key does not exist
	ErrNotFound = errors.New("storage: key not found")

	// ErrUpdateConflict indicates an atomic update lost too many races
	ErrUpdateConflict = errors.New("storage: update conflict")

	// ErrClosed is returned by operations on a closed backend
	ErrClosed = errors.New("storage: closed")
)

// UpdateFunc computes the new value for a key from its current value.
// old is nil when the key does not exist. Returning a nil value deletes
// the key.
type UpdateFunc func(old []byte) ([]byte, error)

// Storage is a key/value store for serialized cache entries.
type Storage interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Update atomically replaces the value under key with fn(old).
	Update(ctx context.Context, key string, fn UpdateFunc) error

	// Close releases backend resources.
	Close() error
}
