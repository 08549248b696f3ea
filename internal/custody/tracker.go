package custody

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/flexycode/altflex/internal/audit"
	"github.com/flexycode/altflex/internal/idgen"
	"github.com/flexycode/altflex/internal/logging"
	"github.com/flexycode/altflex/internal/metrics"
	"github.com/flexycode/altflex/internal/traces"
)

// Tracker records custody events. Appends are serialized so the integrity
// hash of each artifact evolves linearly.
type Tracker struct {
	store    Store
	registry Registry
	ledger   *audit.Ledger

	mu sync.Mutex
}

// NewTracker creates a custody tracker. The ledger receives a referencing
// entry for every accepted custody event.
func NewTracker(store Store, registry Registry, ledger *audit.Ledger) *Tracker {
	return &Tracker{store: store, registry: registry, ledger: ledger}
}

// RecordRequest carries one custody event submission.
type RecordRequest struct {
	ArtifactID string
	Actor      string
	Action     Action
	Location   string
	// SignedAt is the unix timestamp the actor signed over.
	SignedAt int64
	// Signature is the actor's EIP-191 signature over EventMessage.
	Signature string
}

// Record verifies the actor signature and appends the custody event. On
// signature failure the event is discarded: nothing reaches the store or
// the ledger.
func (t *Tracker) Record(ctx context.Context, req RecordRequest) (*Event, error) {
	ctx, span := traces.StartSpan(ctx, "custody.Record", traces.ArtifactID(req.ArtifactID))
	defer span.End()

	if !ValidAction(req.Action) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, req.Action)
	}

	addr, ok := t.registry.Address(req.Actor)
	if !ok {
		metrics.CustodyRejectionsTotal.Inc()
		return nil, fmt.Errorf("%w: %s", ErrUnknownActor, req.Actor)
	}

	message := EventMessage(req.ArtifactID, req.Actor, req.Action, req.Location, req.SignedAt)
	if err := VerifyActorSignature(message, req.Signature, addr); err != nil {
		metrics.CustodyRejectionsTotal.Inc()
		logging.L(ctx).Error("custody event rejected",
			"artifact", req.ArtifactID, "actor", req.Actor, "error", err)
		return nil, err
	}

	event := &Event{
		ID:         idgen.WithPrefix("cst_"),
		ArtifactID: req.ArtifactID,
		Timestamp:  time.Unix(req.SignedAt, 0).UTC(),
		Actor:      req.Actor,
		Action:     req.Action,
		Location:   req.Location,
		Signature:  req.Signature,
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	prevHash, err := t.store.IntegrityHash(ctx, req.ArtifactID)
	if err != nil {
		return nil, fmt.Errorf("failed to load integrity hash: %w", err)
	}
	integrityHash, err := nextIntegrityHash(prevHash, event)
	if err != nil {
		return nil, err
	}

	if err := t.store.Append(ctx, event, integrityHash); err != nil {
		return nil, fmt.Errorf("failed to append custody event: %w", err)
	}
	metrics.CustodyEventsTotal.WithLabelValues(string(event.Action)).Inc()

	entry, err := t.ledger.Append(ctx, audit.CustodyEvent{
		ArtifactID:     event.ArtifactID,
		CustodyEventID: event.ID,
		Actor:          event.Actor,
		Action:         string(event.Action),
		Location:       event.Location,
		IntegrityHash:  integrityHash,
	})
	if err != nil {
		return nil, fmt.Errorf("custody event stored but audit append failed: %w", err)
	}

	event.LedgerEntryID = entry.ID
	if err := t.store.SetLedgerEntry(ctx, event.ID, entry.ID); err != nil {
		logging.L(ctx).Warn("failed to link custody event to ledger entry",
			"event_id", event.ID, "entry_id", entry.ID, "error", err)
	}

	logging.L(ctx).Info("custody event recorded",
		"artifact", event.ArtifactID, "actor", event.Actor, "action", event.Action)
	return event, nil
}

// GetChain returns the artifact's ordered custody events and integrity hash.
func (t *Tracker) GetChain(ctx context.Context, artifactID string) (*Chain, error) {
	return t.store.Chain(ctx, artifactID)
}

// VerifyChain recomputes the artifact's integrity hash from its events and
// compares it against the stored value.
func (t *Tracker) VerifyChain(ctx context.Context, artifactID string) (bool, error) {
	chain, err := t.store.Chain(ctx, artifactID)
	if err != nil {
		return false, err
	}

	hash := ""
	for _, event := range chain.Events {
		hash, err = nextIntegrityHash(hash, event)
		if err != nil {
			return false, err
		}
	}
	return hash == chain.IntegrityHash, nil
}

// nextIntegrityHash is Hash(prev ‖ serialized_event), hex-encoded. The
// event is serialized without its ledger link, which is assigned after
// the hash is computed.
func nextIntegrityHash(prevHex string, event *Event) (string, error) {
	prev, err := hex.DecodeString(prevHex)
	if err != nil {
		return "", fmt.Errorf("corrupt integrity hash %q", prevHex)
	}

	serialized, err := json.Marshal(map[string]interface{}{
		"id":        event.ID,
		"artifact":  event.ArtifactID,
		"timestamp": event.Timestamp.Unix(),
		"actor":     event.Actor,
		"action":    string(event.Action),
		"location":  event.Location,
		"signature": event.Signature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to serialize custody event: %w", err)
	}

	sum := sha256.Sum256(append(prev, serialized...))
	return hex.EncodeToString(sum[:]), nil
}
