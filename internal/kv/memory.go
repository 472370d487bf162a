package kv

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps state in process. Updates are serialised.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) View(ctx context.Context, fn func(r Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(readerFunc(s.get))
}

func (s *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newOverlay(s.get)
	if err := fn(tx); err != nil {
		return err
	}
	tx.each(func(key string, p pending) {
		if p.deleted {
			delete(s.data, key)
			return
		}
		s.data[key] = p.value
	})
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// Snapshot copies the committed state for comparison in tests.
func (s *MemoryStore) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.data))
	for k, v := range s.data {
		out[k] = string(v)
	}
	return out
}

// Keys lists committed keys in lexical order.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *MemoryStore) get(key string) ([]byte, bool, error) {
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return cloneBytes(v), true, nil
}

type readerFunc func(key string) ([]byte, bool, error)

func (f readerFunc) Get(key string) ([]byte, bool, error) {
	return f(key)
}
