package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore implements KV with an in-memory map. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(v), nil
}

func (s *MemoryStore) Scan(_ context.Context, prefix string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for k, v := range s.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, Entry{Key: k, Value: clone(v)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = clone(value)
	return nil
}

// Apply holds the write lock for the whole batch so readers never observe
// a partially applied write-set.
func (s *MemoryStore) Apply(_ context.Context, batch *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, op := range batch.Ops {
		if op.Delete {
			delete(s.data, op.Key)
			continue
		}
		s.data[op.Key] = clone(op.Value)
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// Store a copy to avoid external mutation.
func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
