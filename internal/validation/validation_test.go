package validation

import "testing"

func TestIsValidAddress(t *testing.T) {
	tests := []struct {
		name  string
		addr  string
		valid bool
	}{
		{"valid lowercase", "0x5abfec25f74cd88437631a7731906932776356f9", true},
		{"valid mixed case", "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", true},
		{"missing prefix", "5abfec25f74cd88437631a7731906932776356f9", false},
		{"too short", "0x5abfec25f74cd8843763", false},
		{"too long", "0x5abfec25f74cd88437631a7731906932776356f9aa", false},
		{"non-hex chars", "0x5abfec25f74cd88437631a7731906932776356zz", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidAddress(tt.addr); got != tt.valid {
				t.Errorf("IsValidAddress(%q) = %v, want %v", tt.addr, got, tt.valid)
			}
		})
	}
}

func TestIsValidTxHash(t *testing.T) {
	valid := "0x" + "ab12" + "cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12" // 64 hex
	if !IsValidTxHash(valid) {
		t.Errorf("expected %q to be valid", valid)
	}
	if IsValidTxHash("0xab12") {
		t.Error("short hash should be invalid")
	}
	if IsValidTxHash(valid + "00") {
		t.Error("long hash should be invalid")
	}
}

func TestNormalizeAddress(t *testing.T) {
	want := "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
	got := NormalizeAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	if got != want {
		t.Errorf("NormalizeAddress = %q, want %q", got, want)
	}
	// missing prefix gets one added
	got = NormalizeAddress("5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	if got != want {
		t.Errorf("NormalizeAddress without prefix = %q, want %q", got, want)
	}
}

func TestIsZeroAddress(t *testing.T) {
	if !IsZeroAddress("0x0000000000000000000000000000000000000000") {
		t.Error("zero address not recognized")
	}
	if IsZeroAddress("0x5abfec25f74cd88437631a7731906932776356f9") {
		t.Error("non-zero address flagged as zero")
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	errs := Validate(
		Required("address", ""),
		ValidTxHash("tx_hash", "0xnothex"),
		ValidAddress("sender", "0x5abfec25f74cd88437631a7731906932776356f9"),
	)
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d: %v", len(errs), errs)
	}
	if errs[0].Field != "address" || errs[1].Field != "tx_hash" {
		t.Errorf("unexpected fields: %+v", errs)
	}
}

func TestSanitizeString(t *testing.T) {
	got := SanitizeString("  hello\x00world  ", 100)
	if got != "helloworld" {
		t.Errorf("SanitizeString = %q", got)
	}
	got = SanitizeString("abcdef", 3)
	if got != "abc" {
		t.Errorf("SanitizeString with limit = %q", got)
	}
}
