package audit

import (
	"context"
	"sync"
)

const defaultMemoryCap = 10000

// MemoryStore is an in-memory event sink with a bounded ring of recent
// events. Used when no database is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	events []*Event
	cap    int
}

// NewMemoryStore creates an in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cap: defaultMemoryCap}
}

func (s *MemoryStore) WriteBatch(_ context.Context, events []*Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, events...)
	if len(s.events) > s.cap {
		s.events = s.events[len(s.events)-s.cap:]
	}
	return nil
}

// Recent returns up to limit events, newest last.
func (s *MemoryStore) Recent(limit int) []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.events) {
		limit = len(s.events)
	}
	out := make([]*Event, limit)
	copy(out, s.events[len(s.events)-limit:])
	return out
}

// Len returns the number of retained events.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
