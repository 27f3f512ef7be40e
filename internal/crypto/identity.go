// Package crypto implements the node's cryptographic primitives: Ed25519
// signing, AES-256-GCM / ChaCha20-Poly1305 AEAD, X25519 ECDH, SHA-256
// hashing, and proof-of-work verification. Every primitive here is a
// standardized construction from the Go standard library or
// golang.org/x/crypto — none of the "HMAC-as-AES-GCM" or
// hash-as-signature shortcuts the legacy source took.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
)

// Identity is a node's long-term Ed25519 keypair.
type Identity struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateIdentity creates a fresh Ed25519 identity.
func GenerateIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	return &Identity{Public: pub, Private: priv}, nil
}

// LoadOrCreateIdentity loads the identity key at keyPath, generating and
// persisting a new one if none exists. Mirrors the load-or-generate
// pattern used for node identity keys: try to read, fall back to generate
// and save with owner-only permissions.
func LoadOrCreateIdentity(keyPath string) (*Identity, error) {
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}

	if data, err := os.ReadFile(keyPath); err == nil {
		if len(data) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("identity key %s: unexpected length %d", keyPath, len(data))
		}
		priv := ed25519.PrivateKey(data)
		pub, ok := priv.Public().(ed25519.PublicKey)
		if !ok {
			return nil, fmt.Errorf("identity key %s: invalid public key", keyPath)
		}
		return &Identity{Public: pub, Private: priv}, nil
	}

	id, err := GenerateIdentity()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyPath, id.Private, 0o600); err != nil {
		return nil, fmt.Errorf("write identity key: %w", err)
	}
	return id, nil
}

// Sign signs msg with the identity's private key.
func (id *Identity) Sign(msg []byte) []byte {
	return ed25519.Sign(id.Private, msg)
}

// Verify checks a signature over msg against an Ed25519 public key.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// PeerID is the canonical string form of a public key, used to address
// senders, receivers, and mesh neighbors throughout the core.
func PeerID(pub ed25519.PublicKey) string {
	return fmt.Sprintf("%x", []byte(pub))
}
