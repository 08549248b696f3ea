package custody

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory custody store for demo/test use.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string][]*Event // artifactID → ordered events
	hashes map[string]string   // artifactID → latest integrity hash
}

// NewMemoryStore creates an in-memory custody store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[string][]*Event),
		hashes: make(map[string]string),
	}
}

func (s *MemoryStore) Append(_ context.Context, event *Event, integrityHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *event
	s.events[event.ArtifactID] = append(s.events[event.ArtifactID], &cp)
	s.hashes[event.ArtifactID] = integrityHash
	return nil
}

func (s *MemoryStore) Chain(_ context.Context, artifactID string) (*Chain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.events[artifactID]
	result := make([]*Event, len(events))
	for i, e := range events {
		cp := *e
		result[i] = &cp
	}
	return &Chain{
		ArtifactID:    artifactID,
		Events:        result,
		IntegrityHash: s.hashes[artifactID],
	}, nil
}

func (s *MemoryStore) IntegrityHash(_ context.Context, artifactID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hashes[artifactID], nil
}

func (s *MemoryStore) SetLedgerEntry(_ context.Context, eventID, ledgerEntryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, events := range s.events {
		for _, e := range events {
			if e.ID == eventID {
				e.LedgerEntryID = ledgerEntryID
				return nil
			}
		}
	}
	return nil
}
