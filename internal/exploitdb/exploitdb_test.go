package exploitdb

import (
	"context"
	"strings"
	"testing"
)

func TestMemoryStoreFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	all, err := store.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) == 0 {
		t.Fatal("seeded catalog is empty")
	}

	flashLoans, err := store.List(ctx, Filter{AttackVector: "flash_loan"})
	if err != nil {
		t.Fatalf("List filtered: %v", err)
	}
	for _, sig := range flashLoans {
		if sig.AttackVector != "flash_loan" {
			t.Errorf("filter leaked signature %s with vector %s", sig.ID, sig.AttackVector)
		}
	}
	if len(flashLoans) == 0 {
		t.Error("expected at least one flash loan incident in the catalog")
	}
}

func TestMemoryStoreByAttacker(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	// Ronin attacker, mixed case
	sig, err := store.ByAttacker(ctx, "0x098B716B8Aaf21512996dC57EB0615e2383E2f96")
	if err != nil {
		t.Fatalf("ByAttacker: %v", err)
	}
	if sig.ID != "ronin_bridge_2022" {
		t.Errorf("ByAttacker returned %s, want ronin_bridge_2022", sig.ID)
	}

	if _, err := store.ByAttacker(ctx, "0x1111111111111111111111111111111111111111"); err != ErrNotFound {
		t.Errorf("unknown attacker: got %v, want ErrNotFound", err)
	}
}

func TestMatcherSharedAttacker(t *testing.T) {
	m := NewMatcher(NewMemoryStore())

	match, err := m.BestMatch(context.Background(), Query{
		Addresses: []string{"0xb66cd966670d962c227b3eaba30a872dbfb995db"},
	})
	if err != nil {
		t.Fatalf("BestMatch: %v", err)
	}
	if match == nil {
		t.Fatal("expected a match for a known attacker address")
	}
	if match.Signature.ID != "euler_finance_2023" {
		t.Errorf("matched %s, want euler_finance_2023", match.Signature.ID)
	}
	if match.Score != 1.0 {
		t.Errorf("score = %v, want 1.0", match.Score)
	}
}

func TestMatcherIndicatorOverlap(t *testing.T) {
	store := NewEmptyMemoryStore()
	store.Add(&Signature{
		ID:         "test_incident",
		Indicators: []string{"flash_loan", "high_gas_usage", "same_block_borrow_repay"},
	})
	m := NewMatcher(store)

	// 3 of 3 query indicators shared → ratio 1.0
	match, err := m.BestMatch(context.Background(), Query{
		Indicators: []string{"flash_loan", "high_gas_usage", "same_block_borrow_repay"},
	})
	if err != nil {
		t.Fatalf("BestMatch: %v", err)
	}
	if match == nil || match.Signature.ID != "test_incident" {
		t.Fatal("expected overlap match")
	}

	// 1 of 3 shared → ratio 0.33, below threshold
	match, err = m.BestMatch(context.Background(), Query{
		Indicators: []string{"flash_loan", "bridge_mint", "mixer_deposit"},
	})
	if err != nil {
		t.Fatalf("BestMatch: %v", err)
	}
	if match != nil {
		t.Errorf("low overlap should be a novel pattern, got match %s", match.Signature.ID)
	}
}

func TestMatcherNovelPattern(t *testing.T) {
	m := NewMatcher(NewMemoryStore())

	match, err := m.BestMatch(context.Background(), Query{
		Addresses:  []string{"0x2222222222222222222222222222222222222222"},
		Indicators: []string{"nothing_known"},
	})
	if err != nil {
		t.Fatalf("BestMatch: %v", err)
	}
	if match != nil {
		t.Errorf("expected novel pattern, got %s", match.Signature.ID)
	}
}

func TestOverlapRatio(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want float64
	}{
		{"identical", []string{"x", "y"}, []string{"x", "y"}, 1.0},
		{"case insensitive", []string{"X"}, []string{"x"}, 1.0},
		{"half of smaller", []string{"x"}, []string{"x", "y"}, 1.0},
		{"empty query", nil, []string{"x"}, 0},
		{"disjoint", []string{"a"}, []string{"b"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := overlapRatio(tt.a, tt.b); got != tt.want {
				t.Errorf("overlapRatio(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestKnownAttackersLowercased(t *testing.T) {
	store := NewMemoryStore()
	set, err := store.KnownAttackers(context.Background())
	if err != nil {
		t.Fatalf("KnownAttackers: %v", err)
	}
	if _, ok := set["0x098b716b8aaf21512996dc57eb0615e2383e2f96"]; !ok {
		t.Error("known attacker missing from set")
	}
	for addr := range set {
		if addr != strings.ToLower(addr) {
			t.Errorf("address %s not lowercased", addr)
		}
	}
}
