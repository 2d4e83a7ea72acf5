package cache

import (
	"context"
	"sync"

	"github.com/crosslist/backend/internal/domain/integration"
)

// InMemoryStateStore implements integration.StateStore with a process-local map.
// Updates to one key are serialized; different keys proceed in parallel.
type InMemoryStateStore struct {
	mu     sync.Mutex
	values map[string][]byte
	locks  map[string]*sync.Mutex
}

// NewInMemoryStateStore creates an empty in-memory state store
func NewInMemoryStateStore() *InMemoryStateStore {
	return &InMemoryStateStore{
		values: make(map[string][]byte),
		locks:  make(map[string]*sync.Mutex),
	}
}

func (s *InMemoryStateStore) keyLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Get returns a copy of the value stored under key
func (s *InMemoryStateStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

// Update applies fn to the current value while holding the key's lock
func (s *InMemoryStateStore) Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l := s.keyLock(key)
	l.Lock()
	defer l.Unlock()

	current, _ := s.Get(ctx, key)
	next, err := fn(current)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.values[key] = append([]byte(nil), next...)
	s.mu.Unlock()
	return nil
}

// Delete removes key
func (s *InMemoryStateStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// Keys returns the number of stored keys (for testing/monitoring)
func (s *InMemoryStateStore) Keys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}

// Ensure InMemoryStateStore implements StateStore
var _ integration.StateStore = (*InMemoryStateStore)(nil)
