package memory

import (
	"sync"

	"github.com/samber/lo"
)

// Store is a thread-safe in-memory registry keyed by session id.
// Connections use it to guarantee there is exactly one live session
// object per id, no matter how many goroutines ask for it at once.
type Store[V comparable] struct {
	mu      sync.RWMutex
	entries map[string]V
}

// New creates an empty in-memory store.
func New[V comparable]() *Store[V] {
	return &Store[V]{entries: make(map[string]V)}
}

// GetOrCreate returns the value stored under id, or calls create and stores
// its result if there is none. create runs under the store lock, so it must
// not call back into the store. created reports whether create ran.
func (s *Store[V]) GetOrCreate(id string, create func() V) (v V, created bool) {
	s.mu.RLock()
	v, ok := s.entries[id]
	s.mu.RUnlock()
	if ok {
		return v, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// re-check: another goroutine may have won between the two locks
	if v, ok := s.entries[id]; ok {
		return v, false
	}
	v = create()
	s.entries[id] = v
	return v, true
}

// Get retrieves a value by id.
// Returns false if nothing is stored under it.
func (s *Store[V]) Get(id string) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[id]
	return v, ok
}

// CompareAndDelete removes id only if it still maps to v.
// A closed session uses this to deregister itself without evicting a
// newer session that reused its id.
func (s *Store[V]) CompareAndDelete(id string, v V) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.entries[id]
	if !ok || cur != v {
		return false
	}
	delete(s.entries, id)
	return true
}

// Delete removes id unconditionally.
func (s *Store[V]) Delete(id string) {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

// Count returns the number of entries currently in the store.
// Useful for observability and testing.
func (s *Store[V]) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Values returns a snapshot of every stored value, in no particular order.
func (s *Store[V]) Values() []V {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Values(s.entries)
}

// Keys returns a snapshot of every stored id, in no particular order.
func (s *Store[V]) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Keys(s.entries)
}
