package storage

import (
	"container/list"
	"context"
	"sync"
)

// DefaultMaxEntries is the capacity of a MemoryStorage created with a
// non-positive size.
const DefaultMaxEntries = 1000

type memoryItem struct {
	key   string
	value []byte
}

// MemoryStorage is an in-process LRU store bounded by entry count.
type MemoryStorage struct {
	mu         sync.Mutex
	maxEntries int
	ll         *list.List
	items      map[string]*list.Element
	closed     bool
}

// NewMemoryStorage creates an LRU store holding at most maxEntries keys.
func NewMemoryStorage(maxEntries int) *MemoryStorage {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryStorage{
		maxEntries: maxEntries,
		ll:         list.New(),
		items:      make(map[string]*list.Element, maxEntries),
	}
}

// Get returns a copy of the value and marks the key most recently used.
func (m *MemoryStorage) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	element, ok := m.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	m.ll.MoveToFront(element)
	return cloneBytes(element.Value.(*memoryItem).value), nil
}

// Put stores a copy of value, evicting the least recently used key when full.
func (m *MemoryStorage) Put(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.set(key, cloneBytes(value))
	return nil
}

// Delete removes key.
func (m *MemoryStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.remove(key)
	return nil
}

// Update applies fn under the store lock.
func (m *MemoryStorage) Update(ctx context.Context, key string, fn UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	var old []byte
	if element, ok := m.items[key]; ok {
		old = cloneBytes(element.Value.(*memoryItem).value)
	}
	updated, err := fn(old)
	if err != nil {
		return err
	}
	if updated == nil {
		m.remove(key)
		return nil
	}
	m.set(key, cloneBytes(updated))
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryStorage) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Close drops all entries. Subsequent calls return ErrClosed.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	StorageEntries.WithLabelValues("memory").Sub(float64(len(m.items)))
	m.ll.Init()
	m.items = map[string]*list.Element{}
	return nil
}

func (m *MemoryStorage) set(key string, value []byte) {
	if element, ok := m.items[key]; ok {
		element.Value.(*memoryItem).value = value
		m.ll.MoveToFront(element)
		return
	}

	if len(m.items) >= m.maxEntries {
		if tail := m.ll.Back(); tail != nil {
			m.ll.Remove(tail)
			delete(m.items, tail.Value.(*memoryItem).key)
			StorageEntries.WithLabelValues("memory").Dec()
			StorageEvictions.WithLabelValues("memory").Inc()
		}
	}

	m.items[key] = m.ll.PushFront(&memoryItem{key: key, value: value})
	StorageEntries.WithLabelValues("memory").Inc()
}

func (m *MemoryStorage) remove(key string) {
	element, ok := m.items[key]
	if !ok {
		return
	}
	m.ll.Remove(element)
	delete(m.items, key)
	StorageEntries.WithLabelValues("memory").Dec()
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
