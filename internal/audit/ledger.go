package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/flexycode/altflex/internal/logging"
	"github.com/flexycode/altflex/internal/metrics"
	"github.com/flexycode/altflex/internal/traces"
)

// GenesisHash is the prev_hash of the first entry: 32 zero bytes.
var GenesisHash = make([]byte, sha256.Size)

// Entry is one immutable ledger record. The entry id is the chain hash
// Hash(prev_hash ‖ event_hash), so every id commits to the full history
// before it.
type Entry struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Kind      Kind            `json:"kind"`
	Event     json.RawMessage `json:"event"`
	EventHash string          `json:"eventHash"`
	PrevHash  string          `json:"prevHash"`
	Signature string          `json:"signature"`
}

// Store persists ledger entries. Implementations are append-only: no
// update or delete path exists.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	// Snapshot returns all entries in append order, as of call time.
	Snapshot(ctx context.Context) ([]*Entry, error)
	// List returns the most recent entries, newest first.
	List(ctx context.Context, limit int) ([]*Entry, error)
	// Last returns the newest entry, or nil for an empty ledger.
	Last(ctx context.Context) (*Entry, error)
}

// ViolationType classifies an integrity violation found by Verify.
type ViolationType string

const (
	ViolationBrokenChain         ViolationType = "broken_chain"
	ViolationInvalidSignature    ViolationType = "invalid_signature"
	ViolationTimestampRegression ViolationType = "timestamp_regression"
)

// Violation pinpoints a single integrity break.
type Violation struct {
	Index   int           `json:"index"`
	EntryID string        `json:"entryId"`
	Type    ViolationType `json:"type"`
	Detail  string        `json:"detail"`
}

// Ledger is the hash-chained audit log. One Ledger instance owns the
// signing key and serializes all appends; construct it once per process
// and pass it by reference.
type Ledger struct {
	store Store
	key   []byte

	mu       sync.Mutex
	lastHash []byte // raw chain hash of the newest entry; nil until loaded
	loaded   bool
}

// NewLedger creates a ledger over the given store, signing entries with
// signingKey.
func NewLedger(store Store, signingKey string) *Ledger {
	return &Ledger{
		store: store,
		key:   []byte(signingKey),
	}
}

// Append canonicalizes the event, links it to the chain, signs it, and
// persists the entry. Appends are strictly serialized: concurrent callers
// still produce one linear chain. A cancelled context appends nothing.
func (l *Ledger) Append(ctx context.Context, e Event) (*Entry, error) {
	ctx, span := traces.StartSpan(ctx, "audit.Append")
	defer span.End()

	canonical, err := Canonicalize(e)
	if err != nil {
		return nil, err
	}
	eventHash := sha256.Sum256(canonical)

	l.mu.Lock()
	defer l.mu.Unlock()

	// The verdict is either fully recorded or not at all.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prev, err := l.lastHashLocked(ctx)
	if err != nil {
		return nil, err
	}

	chainHash := sha256.Sum256(append(append([]byte{}, prev...), eventHash[:]...))
	mac := hmac.New(sha256.New, l.key)
	mac.Write(chainHash[:])

	entry := &Entry{
		ID:        hex.EncodeToString(chainHash[:]),
		Timestamp: time.Now().UTC(),
		Kind:      e.EventKind(),
		Event:     canonical,
		EventHash: hex.EncodeToString(eventHash[:]),
		PrevHash:  hex.EncodeToString(prev),
		Signature: hex.EncodeToString(mac.Sum(nil)),
	}

	if err := l.store.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append audit entry: %w", err)
	}
	l.lastHash = chainHash[:]

	metrics.AuditEntriesTotal.WithLabelValues(string(entry.Kind)).Inc()
	logging.L(ctx).Info("audit entry appended",
		"entry_id", entry.ID, "kind", entry.Kind, "artifact", e.Artifact())
	span.SetAttributes(traces.LedgerEntryID(entry.ID))
	return entry, nil
}

// lastHashLocked resolves the chain tip, loading it from the store on
// first use. Caller must hold l.mu.
func (l *Ledger) lastHashLocked(ctx context.Context) ([]byte, error) {
	if l.loaded {
		if l.lastHash == nil {
			return GenesisHash, nil
		}
		return l.lastHash, nil
	}

	last, err := l.store.Last(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load chain tip: %w", err)
	}
	l.loaded = true
	if last == nil {
		return GenesisHash, nil
	}

	raw, err := hex.DecodeString(last.ID)
	if err != nil || len(raw) != sha256.Size {
		return nil, fmt.Errorf("corrupt chain tip id %q", last.ID)
	}
	l.lastHash = raw
	return raw, nil
}

// Verify replays the ledger snapshot and reports every integrity
// violation found. The running prev advances to each stored entry id
// regardless of violations, so independent breaks are all reported
// rather than the first one masking the rest. Safe to run concurrently
// with appends: it checks the chain up to the snapshot length.
func (l *Ledger) Verify(ctx context.Context) (bool, []Violation, error) {
	ctx, span := traces.StartSpan(ctx, "audit.Verify")
	defer span.End()

	entries, err := l.store.Snapshot(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("failed to snapshot ledger: %w", err)
	}

	var violations []Violation
	report := func(i int, entry *Entry, t ViolationType, detail string) {
		violations = append(violations, Violation{
			Index:   i,
			EntryID: entry.ID,
			Type:    t,
			Detail:  detail,
		})
		metrics.AuditViolationsTotal.WithLabelValues(string(t)).Inc()
	}

	runningPrev := GenesisHash
	var prevTimestamp time.Time

	for i, entry := range entries {
		eventHash := sha256.Sum256(entry.Event)
		if hex.EncodeToString(eventHash[:]) != entry.EventHash {
			report(i, entry, ViolationBrokenChain, "event payload does not match event hash")
		}

		storedEventHash, err := hex.DecodeString(entry.EventHash)
		if err != nil || len(storedEventHash) != sha256.Size {
			report(i, entry, ViolationBrokenChain, "malformed event hash")
			storedEventHash = eventHash[:]
		}

		if entry.PrevHash != hex.EncodeToString(runningPrev) {
			report(i, entry, ViolationBrokenChain, "prev hash does not match preceding entry")
		}

		expected := sha256.Sum256(append(append([]byte{}, runningPrev...), storedEventHash...))
		if hex.EncodeToString(expected[:]) != entry.ID {
			report(i, entry, ViolationBrokenChain, "entry id does not match recomputed chain hash")
		}

		if !l.validSignature(entry) {
			report(i, entry, ViolationInvalidSignature, "signature does not verify against entry id")
		}

		if i > 0 && entry.Timestamp.Before(prevTimestamp) {
			report(i, entry, ViolationTimestampRegression,
				fmt.Sprintf("timestamp %s precedes entry %d", entry.Timestamp.Format(time.RFC3339Nano), i-1))
		}
		prevTimestamp = entry.Timestamp

		// Advance past breaks so later violations are still found.
		if raw, err := hex.DecodeString(entry.ID); err == nil && len(raw) == sha256.Size {
			runningPrev = raw
		}
	}

	if len(violations) > 0 {
		logging.L(ctx).Error("audit ledger verification failed",
			"entries", len(entries), "violations", len(violations))
		return false, violations, nil
	}
	return true, nil, nil
}

func (l *Ledger) validSignature(entry *Entry) bool {
	id, err := hex.DecodeString(entry.ID)
	if err != nil {
		return false
	}
	sig, err := hex.DecodeString(entry.Signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, l.key)
	mac.Write(id)
	return hmac.Equal(sig, mac.Sum(nil))
}

// List returns the most recent entries, newest first.
func (l *Ledger) List(ctx context.Context, limit int) ([]*Entry, error) {
	return l.store.List(ctx, limit)
}
