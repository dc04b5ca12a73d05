// Package security provides the node's cryptographic identity. Every node
// has an Ed25519 keypair and its peer id is derived from the public key.
package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"lukechampine.com/blake3"

	"github.com/seednet/seednet/internal/domain"
)

// Keypair holds the node's Ed25519 identity.
type Keypair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeypair creates a new Ed25519 keypair.
func GenerateKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 keypair: %w", err)
	}
	return &Keypair{Public: pub, Private: priv}, nil
}

// LoadOrCreateKeypair loads the keypair stored under home/keys, or
// generates and stores one on first run.
func LoadOrCreateKeypair(home string) (*Keypair, error) {
	keyDir := filepath.Join(home, "keys")
	privPath := filepath.Join(keyDir, "node.key")

	raw, err := os.ReadFile(privPath)
	switch {
	case err == nil:
		return parsePrivate(raw)
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read private key: %w", err)
	}

	kp, err := GenerateKeypair()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(keyDir, 0o700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(privPath, []byte(hex.EncodeToString(kp.Private)), 0o600); err != nil {
		return nil, fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(keyDir, "node.pub"), []byte(kp.PublicKeyHex()), 0o644); err != nil {
		return nil, fmt.Errorf("write public key: %w", err)
	}
	return kp, nil
}

// parsePrivate derives the public half from the private key. node.pub is
// informational only.
func parsePrivate(raw []byte) (*Keypair, error) {
	b, err := hex.DecodeString(string(raw))
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("decode private key: length %d, want %d", len(b), ed25519.PrivateKeySize)
	}
	priv := ed25519.PrivateKey(b)
	return &Keypair{Public: priv.Public().(ed25519.PublicKey), Private: priv}, nil
}

// PublicKeyHex returns the public key as a hex string.
func (kp *Keypair) PublicKeyHex() string {
	return hex.EncodeToString(kp.Public)
}

// PeerID derives the node's peer identifier from its public key.
func (kp *Keypair) PeerID() domain.ID {
	sum := blake3.Sum256(kp.Public)
	return domain.EncodeID(sum[:])
}
