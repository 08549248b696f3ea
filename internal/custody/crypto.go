package custody

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// EventMessage builds the message an actor signs for a custody event.
// Format: "AltFlexCustody|{artifact}|{actor}|{action}|{location}|{unix}"
func EventMessage(artifactID, actor string, action Action, location string, unix int64) string {
	return fmt.Sprintf("AltFlexCustody|%s|%s|%s|%s|%d",
		strings.ToLower(artifactID), actor, action, location, unix)
}

// hashMessage prefixes per EIP-191 ("\x19Ethereum Signed Message:\n{len}")
// and hashes with Keccak256.
func hashMessage(message string) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return crypto.Keccak256([]byte(prefix + message))
}

// RecoverSigner recovers the signing address from a hex-encoded 65-byte
// signature over the given message.
func RecoverSigner(message, signatureHex string) (string, error) {
	sigHex := strings.TrimPrefix(signatureHex, "0x")
	signature, err := hex.DecodeString(sigHex)
	if err != nil {
		return "", fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(signature) != 65 {
		return "", fmt.Errorf("signature must be 65 bytes, got %d", len(signature))
	}

	// Ethereum signatures carry v = 27 or 28; Ecrecover expects 0 or 1.
	sig := append([]byte(nil), signature...)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pubKeyBytes, err := crypto.Ecrecover(hashMessage(message), sig)
	if err != nil {
		return "", fmt.Errorf("failed to recover public key: %w", err)
	}
	pubKey, err := crypto.UnmarshalPubkey(pubKeyBytes)
	if err != nil {
		return "", fmt.Errorf("failed to unmarshal public key: %w", err)
	}
	return strings.ToLower(crypto.PubkeyToAddress(*pubKey).Hex()), nil
}

// VerifyActorSignature checks that signatureHex over message recovers to
// expectedAddress.
func VerifyActorSignature(message, signatureHex, expectedAddress string) error {
	recovered, err := RecoverSigner(message, signatureHex)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}
	if !strings.EqualFold(recovered, expectedAddress) {
		return fmt.Errorf("%w: expected %s, got %s", ErrSignatureMismatch, expectedAddress, recovered)
	}
	return nil
}
