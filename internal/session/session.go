// Package session implements the per-peer Session Layer (C6): an X25519
// ECDH handshake producing an AEAD key, rotated on time, volume, or
// explicit event, with forward secrecy — the old key is never kept past
// rotation.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/meshledger/core/internal/coreerr"
	"github.com/meshledger/core/internal/crypto"
	"github.com/meshledger/core/pkg/helpers"
)

// Config holds the Session Layer's rotation tunables.
type Config struct {
	TimeRotation   time.Duration
	VolumeRotation uint64
	Suite          crypto.AEADCipher
}

// Session is a live encrypted channel to one peer. Session keys are
// read-copy-updated on rotation: swapped atomically under the mutex, the
// old key discarded, never zero-retained for later inspection.
type Session struct {
	mu sync.Mutex

	peerID    string
	cfg       Config
	localKP   *crypto.X25519KeyPair
	aead      *crypto.AEAD
	createdAt time.Time
	framesOut uint64
}

// Manager owns one Session per peer, creating and rotating them.
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	sessions map[string]*Session
}

// NewManager creates a Session Layer manager.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, sessions: make(map[string]*Session)}
}

// StartHandshake generates this side's ephemeral X25519 keypair for a new
// (or rotated) session with peerID. The returned public key is sent as
// HANDSHAKE_INIT/HANDSHAKE_RESP.
func (m *Manager) StartHandshake(peerID string) (*crypto.X25519KeyPair, error) {
	kp, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindSession, "generate ephemeral keypair", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[peerID] = &Session{
		peerID:  peerID,
		cfg:     m.cfg,
		localKP: kp,
	}
	return kp, nil
}

// CompleteHandshake derives the shared secret from the peer's public key
// and activates the session for framing.
func (m *Manager) CompleteHandshake(peerID string, peerPub [32]byte) error {
	if helpers.IsZeroBytes(peerPub[:]) {
		return coreerr.New(coreerr.KindSession, "peer public key is all-zero")
	}

	m.mu.Lock()
	s, ok := m.sessions[peerID]
	m.mu.Unlock()
	if !ok {
		return coreerr.New(coreerr.KindSession, "no handshake in progress for peer "+peerID)
	}

	if helpers.ConstantTimeCompare(s.localKP.Public[:], peerPub[:]) {
		return coreerr.New(coreerr.KindSession, "peer public key equals our own ephemeral key")
	}

	secret, err := crypto.SharedSecret(s.localKP.Private, peerPub)
	if err != nil {
		return coreerr.Wrap(coreerr.KindSession, "compute shared secret", err)
	}

	aead, err := crypto.NewAEAD(s.cfg.Suite, secret)
	if err != nil {
		return coreerr.Wrap(coreerr.KindSession, "build session aead", err)
	}

	s.mu.Lock()
	s.aead = aead
	s.createdAt = time.Now()
	s.framesOut = 0
	s.mu.Unlock()
	return nil
}

// NeedsRotation reports whether peerID's session has exceeded its time or
// volume budget and must re-handshake before the next send.
func (m *Manager) NeedsRotation(peerID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[peerID]
	m.mu.Unlock()
	if !ok {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aead == nil {
		return true
	}
	if s.cfg.TimeRotation > 0 && time.Since(s.createdAt) >= s.cfg.TimeRotation {
		return true
	}
	if s.cfg.VolumeRotation > 0 && s.framesOut >= s.cfg.VolumeRotation {
		return true
	}
	return false
}

// ForceRotate marks a session as needing a fresh handshake regardless of
// time/volume, used on explicit events (routing failure, suspicion).
func (m *Manager) ForceRotate(peerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, peerID)
}

// Seal encrypts a frame body for peerID, incrementing the session's frame
// count. Returns coreerr.KindSession if no active (post-handshake)
// session exists.
func (m *Manager) Seal(peerID string, plaintext, aad []byte) (nonce, sealed []byte, err error) {
	m.mu.Lock()
	s, ok := m.sessions[peerID]
	m.mu.Unlock()
	if !ok {
		return nil, nil, coreerr.New(coreerr.KindSession, fmt.Sprintf("no session for peer %s", peerID))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aead == nil {
		return nil, nil, coreerr.New(coreerr.KindSession, fmt.Sprintf("session for peer %s not yet handshaked", peerID))
	}

	nonce, sealed, err = s.aead.Seal(plaintext, aad)
	if err != nil {
		return nil, nil, coreerr.Wrap(coreerr.KindSession, "seal frame", err)
	}
	s.framesOut++
	return nonce, sealed, nil
}

// Open decrypts a frame from peerID. A tag mismatch is returned as a
// KindSession error; callers treat it as tampering, drop the frame, and
// emit a suspicious_behavior event without crashing the session.
func (m *Manager) Open(peerID string, nonce, sealed, aad []byte) ([]byte, error) {
	m.mu.Lock()
	s, ok := m.sessions[peerID]
	m.mu.Unlock()
	if !ok {
		return nil, coreerr.New(coreerr.KindSession, fmt.Sprintf("no session for peer %s", peerID))
	}

	s.mu.Lock()
	aead := s.aead
	s.mu.Unlock()
	if aead == nil {
		return nil, coreerr.New(coreerr.KindSession, fmt.Sprintf("session for peer %s not yet handshaked", peerID))
	}

	plaintext, err := aead.Open(nonce, sealed, aad)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindSession, "open frame (tampered or wrong key)", err)
	}
	return plaintext, nil
}

// Close drops a peer's session, e.g. on disconnect.
func (m *Manager) Close(peerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, peerID)
}
