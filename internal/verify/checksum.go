package verify

import (
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/flexycode/altflex/internal/validation"
)

// ChecksumAddress computes the EIP-55 checksummed form of an address:
// hash the lowercase hex body with Keccak256, then uppercase each letter
// whose corresponding hash nibble is >= 8.
func ChecksumAddress(address string) string {
	body := strings.ToLower(strings.TrimPrefix(address, "0x"))
	hash := crypto.Keccak256([]byte(body))
	hashHex := make([]byte, 0, len(body))
	for _, b := range hash {
		hashHex = append(hashHex, "0123456789abcdef"[b>>4], "0123456789abcdef"[b&0x0f])
	}

	out := make([]byte, len(body))
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c >= 'a' && c <= 'f' && hexNibble(hashHex[i]) >= 8 {
			c = c - 'a' + 'A'
		}
		out[i] = c
	}
	return "0x" + string(out)
}

func hexNibble(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	default:
		return 0
	}
}

// ValidChecksum reports whether an address's letter casing is acceptable.
// All-lowercase and all-uppercase bodies carry no checksum and are valid;
// a mixed-case body must match the EIP-55 encoding exactly.
// The second return reports whether a checksum was actually present.
func ValidChecksum(address string) (valid bool, checksummed bool) {
	if !validation.IsValidAddress(address) {
		return false, false
	}

	body := strings.TrimPrefix(address, "0x")
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return true, false
	}
	return address == ChecksumAddress(address), true
}
