package blobstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store, safe for concurrent use.
// Data is lost when the process exits.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	denied  map[string]bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
		denied:  make(map[string]bool),
	}
}

// Get returns a copy of the stored bytes.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.denied[key] {
		return nil, fmt.Errorf("MemoryStore.Get: %s: %w", key, ErrAccessDenied)
	}
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("MemoryStore.Get: %s: %w", key, ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

// Put stores a copy of data.
func (s *MemoryStore) Put(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.denied[key] {
		return fmt.Errorf("MemoryStore.Put: %s: %w", key, ErrAccessDenied)
	}
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

// Deny makes every later Get and Put of key fail with ErrAccessDenied.
func (s *MemoryStore) Deny(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denied[key] = true
}

// Keys lists stored keys in lexical order.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
