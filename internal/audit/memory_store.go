package audit

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory append-only entry store for demo/test use.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewMemoryStore creates an in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *entry
	cp.Event = append([]byte(nil), entry.Event...)
	s.entries = append(s.entries, &cp)
	return nil
}

func (s *MemoryStore) Snapshot(_ context.Context) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Entry, len(s.entries))
	for i, e := range s.entries {
		cp := *e
		cp.Event = append([]byte(nil), e.Event...)
		result[i] = &cp
	}
	return result, nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.entries) {
		limit = len(s.entries)
	}

	result := make([]*Entry, 0, limit)
	for i := len(s.entries) - 1; i >= 0 && len(result) < limit; i-- {
		cp := *s.entries[i]
		cp.Event = append([]byte(nil), s.entries[i].Event...)
		result = append(result, &cp)
	}
	return result, nil
}

func (s *MemoryStore) Last(_ context.Context) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 {
		return nil, nil
	}
	cp := *s.entries[len(s.entries)-1]
	return &cp, nil
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Mutate edits a stored entry in place, simulating out-of-band tampering.
// Test support only; the ledger itself has no mutation path.
func (s *MemoryStore) Mutate(index int, fn func(*Entry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index >= 0 && index < len(s.entries) {
		fn(s.entries[index])
	}
}
