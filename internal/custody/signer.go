package custody

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// Signer is an in-process custody actor holding its own signing key.
// The analysis service uses one to sign the ANALYZED events it records;
// external actors sign with their own keys and never touch this type.
type Signer struct {
	id  string
	key *ecdsa.PrivateKey
}

// NewSigner creates an actor with a freshly generated key. Register the
// returned signer's address under its id before recording events.
func NewSigner(id string) (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate actor key: %w", err)
	}
	return &Signer{id: id, key: key}, nil
}

// NewSignerFromHex creates an actor from a hex-encoded private key, for
// deployments where the engine's custody identity must survive restarts.
func NewSignerFromHex(id, keyHex string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid actor key: %w", err)
	}
	return &Signer{id: id, key: key}, nil
}

// ID returns the actor identifier.
func (s *Signer) ID() string {
	return s.id
}

// Address returns the actor's signing address, lowercased.
func (s *Signer) Address() string {
	return strings.ToLower(crypto.PubkeyToAddress(s.key.PublicKey).Hex())
}

// Sign produces the hex-encoded signature for a custody event with the
// given fields, suitable for RecordRequest.Signature.
func (s *Signer) Sign(artifactID string, action Action, location string, signedAt time.Time) (string, error) {
	message := EventMessage(artifactID, s.id, action, location, signedAt.Unix())
	signature, err := crypto.Sign(hashMessage(message), s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign custody event: %w", err)
	}
	return "0x" + hex.EncodeToString(signature), nil
}
