// Package custody tracks the chain of custody for forensic artifacts.
//
// Every processing step on an artifact (a transaction hash or an address)
// is recorded as a signed custody event. The actor's signature must verify
// against the registered actor key before anything is appended; a rejected
// event leaves no trace in the chain. Each append recomputes the artifact's
// integrity hash and writes a referencing audit ledger entry.
package custody

import (
	"context"
	"errors"
	"time"
)

// Action is a custody lifecycle step.
type Action string

const (
	ActionCollected Action = "COLLECTED"
	ActionAnalyzed  Action = "ANALYZED"
	ActionStored    Action = "STORED"
	ActionAccessed  Action = "ACCESSED"
)

// ValidAction reports whether a is one of the custody actions.
func ValidAction(a Action) bool {
	switch a {
	case ActionCollected, ActionAnalyzed, ActionStored, ActionAccessed:
		return true
	}
	return false
}

var (
	// ErrUnknownActor is returned when the actor has no registered key.
	ErrUnknownActor = errors.New("actor not registered")
	// ErrSignatureMismatch is returned when the event signature does not
	// recover to the actor's registered address. Non-recoverable for the
	// event: it is discarded, never appended.
	ErrSignatureMismatch = errors.New("custody signature mismatch")
	// ErrInvalidAction is returned for actions outside the closed set.
	ErrInvalidAction = errors.New("invalid custody action")
)

// Event is one signed custody record.
type Event struct {
	ID            string    `json:"id"`
	ArtifactID    string    `json:"artifactId"`
	Timestamp     time.Time `json:"timestamp"`
	Actor         string    `json:"actor"`
	Action        Action    `json:"action"`
	Location      string    `json:"location"`
	Signature     string    `json:"signature"`
	LedgerEntryID string    `json:"ledgerEntryId,omitempty"`
}

// Chain is the ordered custody record of one artifact.
type Chain struct {
	ArtifactID    string   `json:"artifactId"`
	Events        []*Event `json:"events"`
	IntegrityHash string   `json:"integrityHash"`
}

// Store persists custody events per artifact.
type Store interface {
	// Append adds an event to the artifact's sequence and records the
	// recomputed integrity hash.
	Append(ctx context.Context, event *Event, integrityHash string) error
	// Chain returns the artifact's events in append order plus the
	// latest integrity hash.
	Chain(ctx context.Context, artifactID string) (*Chain, error)
	// IntegrityHash returns the artifact's latest integrity hash, or ""
	// for an artifact with no events.
	IntegrityHash(ctx context.Context, artifactID string) (string, error)
	// SetLedgerEntry links an appended event to its audit ledger entry.
	SetLedgerEntry(ctx context.Context, eventID, ledgerEntryID string) error
}

// Registry resolves actor identifiers to registered signing addresses.
type Registry interface {
	Address(actor string) (string, bool)
}

// MemoryRegistry is a fixed actor-key registry.
type MemoryRegistry struct {
	actors map[string]string
}

// NewMemoryRegistry creates a registry from actor id → signing address.
func NewMemoryRegistry(actors map[string]string) *MemoryRegistry {
	cp := make(map[string]string, len(actors))
	for k, v := range actors {
		cp[k] = v
	}
	return &MemoryRegistry{actors: cp}
}

func (r *MemoryRegistry) Address(actor string) (string, bool) {
	addr, ok := r.actors[actor]
	return addr, ok
}
