package analysis

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory assessment store for demo/test use.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*RiskAssessment
	ordered []*RiskAssessment // insertion order, newest appended last
}

// NewMemoryStore creates an in-memory assessment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*RiskAssessment)}
}

func (s *MemoryStore) Save(_ context.Context, a *RiskAssessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *a
	s.byID[a.ID] = &cp
	s.ordered = append(s.ordered, &cp)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*RiskAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// List returns assessments newest first.
func (s *MemoryStore) List(_ context.Context, limit, offset int) ([]*RiskAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.ordered)
	result := make([]*RiskAssessment, 0, limit)
	for i := n - 1 - offset; i >= 0 && len(result) < limit; i-- {
		cp := *s.ordered[i]
		result = append(result, &cp)
	}
	return result, nil
}
