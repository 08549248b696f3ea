package custody

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/flexycode/altflex/internal/audit"
)

func newActorKey(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key, strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())
}

func signEvent(t *testing.T, key *ecdsa.PrivateKey, artifactID, actor string, action Action, location string, unix int64) string {
	t.Helper()
	message := EventMessage(artifactID, actor, action, location, unix)
	sig, err := crypto.Sign(hashMessage(message), key)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return "0x" + hex.EncodeToString(sig)
}

func testTracker(t *testing.T, actors map[string]string) (*Tracker, *MemoryStore, *audit.MemoryStore) {
	t.Helper()
	custodyStore := NewMemoryStore()
	ledgerStore := audit.NewMemoryStore()
	ledger := audit.NewLedger(ledgerStore, "test-signing-key-0123456789abcdef")
	tracker := NewTracker(custodyStore, NewMemoryRegistry(actors), ledger)
	return tracker, custodyStore, ledgerStore
}

func TestRecordAcceptsValidSignature(t *testing.T) {
	key, addr := newActorKey(t)
	tracker, store, ledgerStore := testTracker(t, map[string]string{"analyst-1": addr})

	now := time.Now().Unix()
	sig := signEvent(t, key, "0xabc", "analyst-1", ActionCollected, "ingest-node-1", now)

	event, err := tracker.Record(context.Background(), RecordRequest{
		ArtifactID: "0xabc",
		Actor:      "analyst-1",
		Action:     ActionCollected,
		Location:   "ingest-node-1",
		SignedAt:   now,
		Signature:  sig,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	if event.LedgerEntryID == "" {
		t.Error("accepted event has no ledger entry reference")
	}
	if ledgerStore.Len() != 1 {
		t.Errorf("ledger has %d entries, want 1", ledgerStore.Len())
	}

	chain, err := store.Chain(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	if len(chain.Events) != 1 || chain.IntegrityHash == "" {
		t.Errorf("unexpected chain: %+v", chain)
	}
}

func TestRecordRejectsWrongKey(t *testing.T) {
	_, addr := newActorKey(t)
	wrongKey, _ := newActorKey(t)
	tracker, store, ledgerStore := testTracker(t, map[string]string{"analyst-1": addr})

	now := time.Now().Unix()
	sig := signEvent(t, wrongKey, "0xabc", "analyst-1", ActionAnalyzed, "", now)

	_, err := tracker.Record(context.Background(), RecordRequest{
		ArtifactID: "0xabc",
		Actor:      "analyst-1",
		Action:     ActionAnalyzed,
		SignedAt:   now,
		Signature:  sig,
	})
	if err == nil {
		t.Fatal("expected signature mismatch")
	}
	if !strings.Contains(err.Error(), "custody signature mismatch") {
		t.Errorf("unexpected error: %v", err)
	}

	// Rejected events leave no trace anywhere.
	chain, _ := store.Chain(context.Background(), "0xabc")
	if len(chain.Events) != 0 {
		t.Error("rejected event was appended to custody chain")
	}
	if ledgerStore.Len() != 0 {
		t.Error("rejected event produced a ledger entry")
	}
}

func TestRecordRejectsUnknownActor(t *testing.T) {
	key, _ := newActorKey(t)
	tracker, _, _ := testTracker(t, map[string]string{})

	now := time.Now().Unix()
	sig := signEvent(t, key, "0xabc", "ghost", ActionAccessed, "", now)

	_, err := tracker.Record(context.Background(), RecordRequest{
		ArtifactID: "0xabc",
		Actor:      "ghost",
		Action:     ActionAccessed,
		SignedAt:   now,
		Signature:  sig,
	})
	if err == nil || !strings.Contains(err.Error(), "not registered") {
		t.Errorf("expected unknown actor error, got %v", err)
	}
}

func TestRecordRejectsTamperedPayload(t *testing.T) {
	key, addr := newActorKey(t)
	tracker, _, _ := testTracker(t, map[string]string{"analyst-1": addr})

	now := time.Now().Unix()
	// Signed over ANALYZED, submitted as STORED.
	sig := signEvent(t, key, "0xabc", "analyst-1", ActionAnalyzed, "", now)

	_, err := tracker.Record(context.Background(), RecordRequest{
		ArtifactID: "0xabc",
		Actor:      "analyst-1",
		Action:     ActionStored,
		SignedAt:   now,
		Signature:  sig,
	})
	if err == nil || !strings.Contains(err.Error(), "custody signature mismatch") {
		t.Errorf("expected signature mismatch for tampered payload, got %v", err)
	}
}

func TestIntegrityHashEvolvesPerAppend(t *testing.T) {
	key, addr := newActorKey(t)
	tracker, store, _ := testTracker(t, map[string]string{"analyst-1": addr})
	ctx := context.Background()

	actions := []Action{ActionCollected, ActionAnalyzed, ActionStored}
	var hashes []string
	for _, action := range actions {
		now := time.Now().Unix()
		sig := signEvent(t, key, "0xabc", "analyst-1", action, "lab", now)
		if _, err := tracker.Record(ctx, RecordRequest{
			ArtifactID: "0xabc",
			Actor:      "analyst-1",
			Action:     action,
			Location:   "lab",
			SignedAt:   now,
			Signature:  sig,
		}); err != nil {
			t.Fatalf("Record %s: %v", action, err)
		}
		hash, _ := store.IntegrityHash(ctx, "0xabc")
		hashes = append(hashes, hash)
	}

	seen := map[string]bool{}
	for _, h := range hashes {
		if seen[h] {
			t.Error("integrity hash repeated across appends")
		}
		seen[h] = true
	}

	ok, err := tracker.VerifyChain(ctx, "0xabc")
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if !ok {
		t.Error("untouched custody chain failed verification")
	}
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	key, addr := newActorKey(t)
	tracker, store, _ := testTracker(t, map[string]string{"analyst-1": addr})
	ctx := context.Background()

	now := time.Now().Unix()
	sig := signEvent(t, key, "0xabc", "analyst-1", ActionCollected, "lab", now)
	if _, err := tracker.Record(ctx, RecordRequest{
		ArtifactID: "0xabc",
		Actor:      "analyst-1",
		Action:     ActionCollected,
		Location:   "lab",
		SignedAt:   now,
		Signature:  sig,
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	// Out-of-band edit of a stored event.
	store.mu.Lock()
	store.events["0xabc"][0].Location = "elsewhere"
	store.mu.Unlock()

	ok, err := tracker.VerifyChain(ctx, "0xabc")
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if ok {
		t.Error("tampered custody chain verified clean")
	}
}

func TestRecoverSignerRoundTrip(t *testing.T) {
	key, addr := newActorKey(t)
	message := EventMessage("0xdef", "actor", ActionAccessed, "console", 1700000000)
	sig, err := crypto.Sign(hashMessage(message), key)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	recovered, err := RecoverSigner(message, hex.EncodeToString(sig))
	if err != nil {
		t.Fatalf("RecoverSigner: %v", err)
	}
	if recovered != addr {
		t.Errorf("recovered %s, want %s", recovered, addr)
	}

	// v offset by 27 (wallet-style) must also recover.
	walletSig := append([]byte(nil), sig...)
	walletSig[64] += 27
	recovered, err = RecoverSigner(message, "0x"+hex.EncodeToString(walletSig))
	if err != nil {
		t.Fatalf("RecoverSigner wallet-style: %v", err)
	}
	if recovered != addr {
		t.Errorf("recovered %s, want %s", recovered, addr)
	}
}
