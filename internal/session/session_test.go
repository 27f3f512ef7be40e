package session

import (
	"bytes"
	"testing"
	"time"

	"github.com/meshledger/core/internal/crypto"
)

func handshakeBothSides(t *testing.T, a, b *Manager, peerOfA, peerOfB string) {
	t.Helper()

	kpA, err := a.StartHandshake(peerOfA)
	if err != nil {
		t.Fatalf("a.StartHandshake: %v", err)
	}
	kpB, err := b.StartHandshake(peerOfB)
	if err != nil {
		t.Fatalf("b.StartHandshake: %v", err)
	}

	if err := a.CompleteHandshake(peerOfA, kpB.Public); err != nil {
		t.Fatalf("a.CompleteHandshake: %v", err)
	}
	if err := b.CompleteHandshake(peerOfB, kpA.Public); err != nil {
		t.Fatalf("b.CompleteHandshake: %v", err)
	}
}

func TestHandshakeThenSealOpenRoundtrip(t *testing.T) {
	cfg := Config{TimeRotation: time.Hour, VolumeRotation: 100, Suite: crypto.AEADAES256GCM}
	a := NewManager(cfg)
	b := NewManager(cfg)

	handshakeBothSides(t, a, b, "peer-b", "peer-a")

	plaintext := []byte("mesh payload")
	aad := []byte("frame-header")

	nonce, sealed, err := a.Seal("peer-b", plaintext, aad)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	opened, err := b.Open("peer-a", nonce, sealed, aad)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("roundtrip mismatch: got %q want %q", opened, plaintext)
	}
}

func TestOpenRejectsTamperedFrame(t *testing.T) {
	cfg := Config{TimeRotation: time.Hour, VolumeRotation: 100, Suite: crypto.AEADAES256GCM}
	a := NewManager(cfg)
	b := NewManager(cfg)
	handshakeBothSides(t, a, b, "peer-b", "peer-a")

	nonce, sealed, err := a.Seal("peer-b", []byte("secret"), []byte("aad"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xFF

	if _, err := b.Open("peer-a", nonce, tampered, []byte("aad")); err == nil {
		t.Fatal("expected Open to reject a tampered frame")
	}
}

func TestNeedsRotationOnVolume(t *testing.T) {
	cfg := Config{TimeRotation: time.Hour, VolumeRotation: 2, Suite: crypto.AEADAES256GCM}
	a := NewManager(cfg)
	b := NewManager(cfg)
	handshakeBothSides(t, a, b, "peer-b", "peer-a")

	if a.NeedsRotation("peer-b") {
		t.Fatal("fresh session should not need rotation")
	}

	for i := 0; i < 2; i++ {
		if _, _, err := a.Seal("peer-b", []byte("x"), []byte("aad")); err != nil {
			t.Fatalf("Seal %d: %v", i, err)
		}
	}

	if !a.NeedsRotation("peer-b") {
		t.Fatal("expected rotation to be required after reaching volume budget")
	}
}

func TestNeedsRotationOnTime(t *testing.T) {
	cfg := Config{TimeRotation: time.Millisecond, VolumeRotation: 100, Suite: crypto.AEADAES256GCM}
	a := NewManager(cfg)
	b := NewManager(cfg)
	handshakeBothSides(t, a, b, "peer-b", "peer-a")

	time.Sleep(5 * time.Millisecond)

	if !a.NeedsRotation("peer-b") {
		t.Fatal("expected rotation to be required after time budget elapsed")
	}
}

func TestForceRotateDropsSession(t *testing.T) {
	cfg := Config{TimeRotation: time.Hour, VolumeRotation: 100, Suite: crypto.AEADAES256GCM}
	a := NewManager(cfg)
	b := NewManager(cfg)
	handshakeBothSides(t, a, b, "peer-b", "peer-a")

	a.ForceRotate("peer-b")

	if !a.NeedsRotation("peer-b") {
		t.Fatal("expected rotation to be required after ForceRotate")
	}
	if _, _, err := a.Seal("peer-b", []byte("x"), []byte("aad")); err == nil {
		t.Fatal("expected Seal to fail for a force-rotated (dropped) session")
	}
}

func TestSealFailsWithoutHandshake(t *testing.T) {
	cfg := Config{TimeRotation: time.Hour, VolumeRotation: 100, Suite: crypto.AEADAES256GCM}
	a := NewManager(cfg)

	if _, _, err := a.Seal("unknown-peer", []byte("x"), []byte("aad")); err == nil {
		t.Fatal("expected Seal to fail for a peer with no session at all")
	}

	if _, err := a.StartHandshake("peer-b"); err != nil {
		t.Fatalf("StartHandshake: %v", err)
	}
	if _, _, err := a.Seal("peer-b", []byte("x"), []byte("aad")); err == nil {
		t.Fatal("expected Seal to fail before CompleteHandshake")
	}
}

func TestChaCha20Poly1305Suite(t *testing.T) {
	cfg := Config{TimeRotation: time.Hour, VolumeRotation: 100, Suite: crypto.AEADChaCha20Poly1305}
	a := NewManager(cfg)
	b := NewManager(cfg)
	handshakeBothSides(t, a, b, "peer-b", "peer-a")

	nonce, sealed, err := a.Seal("peer-b", []byte("hello"), []byte("aad"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	opened, err := b.Open("peer-a", nonce, sealed, []byte("aad"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(opened, []byte("hello")) {
		t.Fatalf("roundtrip mismatch: got %q", opened)
	}
}
