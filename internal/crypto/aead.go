package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// AEADCipher is a suite identifier for session framing. The concrete
// construction is standardized: AES-256-GCM or ChaCha20-Poly1305, never a
// hand-rolled "HMAC as AES-GCM" shortcut.
type AEADCipher uint8

const (
	AEADAES256GCM AEADCipher = iota
	AEADChaCha20Poly1305
)

// NonceSize is fixed at 12 bytes (96 bits) for both supported ciphers, the
// size named by the wire framing contract.
const NonceSize = 12

// AEAD wraps a cipher.AEAD keyed for one session.
type AEAD struct {
	suite AEADCipher
	aead  cipher.AEAD
}

// NewAEAD builds an AEAD sealer/opener from a 32-byte key.
func NewAEAD(suite AEADCipher, key []byte) (*AEAD, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("aead: key must be 32 bytes, got %d", len(key))
	}

	var a cipher.AEAD
	var err error

	switch suite {
	case AEADAES256GCM:
		var block cipher.Block
		block, err = aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("aead: new AES cipher: %w", err)
		}
		a, err = cipher.NewGCM(block)
	case AEADChaCha20Poly1305:
		a, err = chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("aead: unknown cipher suite %d", suite)
	}
	if err != nil {
		return nil, fmt.Errorf("aead: build cipher: %w", err)
	}
	if a.NonceSize() != NonceSize {
		return nil, fmt.Errorf("aead: unexpected nonce size %d", a.NonceSize())
	}

	return &AEAD{suite: suite, aead: a}, nil
}

// Seal encrypts plaintext with a fresh random nonce and the given
// associated data, returning the nonce and ciphertext||tag as separate
// values.
func (a *AEAD) Seal(plaintext, aad []byte) (nonce, sealed []byte, err error) {
	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("aead: generate nonce: %w", err)
	}
	sealed = a.aead.Seal(nil, nonce, plaintext, aad)
	return nonce, sealed, nil
}

// Open decrypts a frame previously produced by Seal. A tag mismatch
// (tampering or wrong key) is returned as a plain error; callers treat any
// failure here as a dropped, not retried, frame.
func (a *AEAD) Open(nonce, sealed, aad []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("aead: nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}
	plaintext, err := a.aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, fmt.Errorf("aead: open failed (tampered or wrong key): %w", err)
	}
	return plaintext, nil
}

// TagSize is the authentication tag length appended to every sealed frame.
func (a *AEAD) TagSize() int {
	return a.aead.Overhead()
}
