package audit

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"testing"
	"time"
)

const testKey = "test-signing-key-0123456789abcdef"

func testLedger() (*Ledger, *MemoryStore) {
	store := NewMemoryStore()
	return NewLedger(store, testKey), store
}

func appendN(t *testing.T, l *Ledger, n int) []*Entry {
	t.Helper()
	entries := make([]*Entry, 0, n)
	for i := 0; i < n; i++ {
		entry, err := l.Append(context.Background(), DetectionEvent{
			TxHash:         fmt.Sprintf("0x%064d", i),
			RiskScore:      0.1,
			Classification: "NORMAL",
			MLAvailable:    true,
		})
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestAppendLinksChain(t *testing.T) {
	l, _ := testLedger()
	entries := appendN(t, l, 3)

	if entries[0].PrevHash != hex.EncodeToString(GenesisHash) {
		t.Errorf("first entry prev = %s, want genesis", entries[0].PrevHash)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].PrevHash != entries[i-1].ID {
			t.Errorf("entry %d prev = %s, want %s", i, entries[i].PrevHash, entries[i-1].ID)
		}
	}
}

func TestVerifyCleanLedger(t *testing.T) {
	l, _ := testLedger()
	appendN(t, l, 10)

	ok, violations, err := l.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok || len(violations) != 0 {
		t.Errorf("clean ledger: ok=%v violations=%v", ok, violations)
	}
}

func TestVerifyEmptyLedger(t *testing.T) {
	l, _ := testLedger()

	ok, violations, err := l.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok || len(violations) != 0 {
		t.Errorf("empty ledger: ok=%v violations=%v", ok, violations)
	}
}

func TestVerifyDetectsTamperedEvent(t *testing.T) {
	l, store := testLedger()
	appendN(t, l, 5)

	store.Mutate(2, func(e *Entry) {
		e.Event = []byte(`{"classification":"NORMAL","kind":"detection","riskScore":0.99}`)
	})

	ok, violations, err := l.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatal("tampered ledger verified clean")
	}
	for _, v := range violations {
		if v.Index != 2 {
			t.Errorf("violation at index %d, want only index 2: %+v", v.Index, v)
		}
	}
}

func TestVerifyDetectsTamperedSignature(t *testing.T) {
	l, store := testLedger()
	appendN(t, l, 5)

	store.Mutate(3, func(e *Entry) {
		e.Signature = hex.EncodeToString(make([]byte, 32))
	})

	ok, violations, err := l.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatal("tampered ledger verified clean")
	}
	if len(violations) != 1 {
		t.Fatalf("expected exactly 1 violation, got %+v", violations)
	}
	if violations[0].Index != 3 || violations[0].Type != ViolationInvalidSignature {
		t.Errorf("unexpected violation: %+v", violations[0])
	}
}

func TestVerifyDetectsTimestampRegression(t *testing.T) {
	l, store := testLedger()
	appendN(t, l, 4)

	store.Mutate(2, func(e *Entry) {
		e.Timestamp = e.Timestamp.Add(-time.Hour)
	})

	ok, violations, err := l.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatal("tampered ledger verified clean")
	}

	var found bool
	for _, v := range violations {
		if v.Type == ViolationTimestampRegression && v.Index == 2 {
			found = true
		}
	}
	if !found {
		t.Errorf("timestamp regression at index 2 not reported: %+v", violations)
	}
}

func TestVerifyReportsIndependentBreaks(t *testing.T) {
	l, store := testLedger()
	appendN(t, l, 10)

	// Two separate tamperings must both be reported.
	store.Mutate(1, func(e *Entry) {
		e.Signature = hex.EncodeToString(make([]byte, 32))
	})
	store.Mutate(7, func(e *Entry) {
		e.Event = []byte(`{"kind":"detection","riskScore":1}`)
	})

	ok, violations, err := l.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatal("tampered ledger verified clean")
	}

	indices := map[int]bool{}
	for _, v := range violations {
		indices[v.Index] = true
	}
	if !indices[1] || !indices[7] {
		t.Errorf("expected violations at indices 1 and 7, got %+v", violations)
	}
}

func TestVerifyWrongKeyFlagsAllSignatures(t *testing.T) {
	store := NewMemoryStore()
	l := NewLedger(store, testKey)
	appendN(t, l, 3)

	other := NewLedger(store, "a-different-signing-key-entirely!")
	ok, violations, err := other.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatal("verification with wrong key should fail")
	}
	sigViolations := 0
	for _, v := range violations {
		if v.Type == ViolationInvalidSignature {
			sigViolations++
		}
	}
	if sigViolations != 3 {
		t.Errorf("expected 3 signature violations, got %d", sigViolations)
	}
}

func TestConcurrentAppendsFormOneChain(t *testing.T) {
	l, store := testLedger()

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := l.Append(context.Background(), DetectionEvent{
				TxHash:         fmt.Sprintf("0x%064d", i),
				Classification: "NORMAL",
			})
			if err != nil {
				t.Errorf("Append: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if store.Len() != n {
		t.Fatalf("ledger has %d entries, want %d", store.Len(), n)
	}

	entries, err := store.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	prev := hex.EncodeToString(GenesisHash)
	seen := map[string]bool{}
	for i, e := range entries {
		if e.PrevHash != prev {
			t.Fatalf("fork at entry %d: prev=%s want %s", i, e.PrevHash, prev)
		}
		if seen[e.PrevHash] {
			t.Fatalf("duplicate prev hash at entry %d", i)
		}
		seen[e.PrevHash] = true
		prev = e.ID
	}

	ok, violations, err := l.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Errorf("concurrent appends left violations: %+v", violations)
	}
}

func TestAppendCancelledContext(t *testing.T) {
	l, store := testLedger()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Append(ctx, DetectionEvent{TxHash: "0xdead"})
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if store.Len() != 0 {
		t.Errorf("cancelled append left %d entries", store.Len())
	}
}
