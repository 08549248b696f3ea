package audit

import (
	"crypto/sha256"
	"strings"
	"testing"
)

func TestCanonicalizeIsStable(t *testing.T) {
	e := DetectionEvent{
		TxHash:         "0xabc",
		RiskScore:      0.42,
		Classification: "SUSPICIOUS",
		TriggeredRules: []string{"large_value", "high_gas"},
		AnomalyScore:   0.3,
		MLAvailable:    true,
	}

	a, err := Canonicalize(e)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	b, err := Canonicalize(e)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}

	if sha256.Sum256(a) != sha256.Sum256(b) {
		t.Error("canonical form is not stable across calls")
	}
}

func TestCanonicalizeSortsKeys(t *testing.T) {
	canonical, err := Canonicalize(VerificationEvent{
		Address:         "0xdef",
		IsKnownAttacker: true,
		BehavioralRisk:  0.5,
		StageOutcomes:   map[string]string{"format": "PASS", "checksum": "FAIL"},
	})
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}

	s := string(canonical)
	// Top-level keys must appear in sorted order.
	keys := []string{"address", "behavioralRisk", "isKnownAttacker", "kind", "stageOutcomes"}
	last := -1
	for _, k := range keys {
		idx := strings.Index(s, `"`+k+`"`)
		if idx < 0 {
			t.Fatalf("key %q missing from canonical form: %s", k, s)
		}
		if idx < last {
			t.Errorf("key %q out of order in %s", k, s)
		}
		last = idx
	}
}

func TestCanonicalizeCarriesKindTag(t *testing.T) {
	canonical, err := Canonicalize(CustodyEvent{ArtifactID: "art_1", Action: "COLLECTED"})
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	if !strings.Contains(string(canonical), `"kind":"custody"`) {
		t.Errorf("kind tag missing: %s", canonical)
	}
}

func TestCanonicalizeDistinguishesVariants(t *testing.T) {
	a, _ := Canonicalize(DetectionEvent{TxHash: "0x1"})
	b, _ := Canonicalize(CustodyEvent{ArtifactID: "0x1"})
	if string(a) == string(b) {
		t.Error("different variants canonicalized identically")
	}
}
