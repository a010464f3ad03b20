package kv

import (
	"context"
	"sync"
)

// MemoryStore keeps values in process memory. Values are copied on the way in and out.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]map[string][]byte
	closed bool
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string][]byte)}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateAddress("kv.memory.get", namespace, key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, newError("kv.memory.get", ErrClosed, categoryUnavailable)
	}
	value, ok := s.data[namespace][key]
	if !ok {
		return nil, notFound("kv.memory.get", namespace, key)
	}
	return append([]byte(nil), value...), nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, namespace, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateAddress("kv.memory.set", namespace, key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return newError("kv.memory.set", ErrClosed, categoryUnavailable)
	}
	entries, ok := s.data[namespace]
	if !ok {
		entries = make(map[string][]byte)
		s.data[namespace] = entries
	}
	entries[key] = append([]byte(nil), value...)
	return nil
}

// Delete implements Store. Deleting an absent key succeeds.
func (s *MemoryStore) Delete(ctx context.Context, namespace, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateAddress("kv.memory.delete", namespace, key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return newError("kv.memory.delete", ErrClosed, categoryUnavailable)
	}
	if entries, ok := s.data[namespace]; ok {
		delete(entries, key)
		if len(entries) == 0 {
			delete(s.data, namespace)
		}
	}
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.data = nil
	return nil
}
