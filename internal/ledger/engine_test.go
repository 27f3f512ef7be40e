package ledger

import (
	"context"
	"crypto/ed25519"
	"os"
	"strings"
	"testing"

	"github.com/meshledger/core/internal/coreerr"
	"github.com/meshledger/core/internal/crypto"
	"github.com/meshledger/core/internal/mempool"
	"github.com/meshledger/core/internal/storage"
)

type fakeGossiper struct {
	calls int
}

func (f *fakeGossiper) Gossip(ctx context.Context, entryHash string, blob []byte, excludePeer string) {
	f.calls++
}

func newTestEngine(t *testing.T) (*Engine, *storage.Store) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "meshledger-ledger-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	store, err := storage.New(&storage.Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mp := mempool.New(store)
	cfg := Config{MinFee: 1, PowDifficulty: 4}
	eng := New(store, mp, NewLamport("node-a"), cfg, &fakeGossiper{})
	return eng, store
}

// sealEntry mines PoW and signs entry against senderPriv, mirroring what
// a peer would do before transmitting it.
func sealEntry(t *testing.T, e *Entry, senderPriv ed25519.PrivateKey, difficulty crypto.PowDifficulty) {
	t.Helper()
	nonce, err := crypto.MinePow(e.PowPreimage(), difficulty)
	if err != nil {
		t.Fatalf("MinePow: %v", err)
	}
	e.PowNonce = nonce
	e.Sign(senderPriv)
}

func TestSequenceGapRejectionThenSyncRepair(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	senderPub, senderPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	senderID := crypto.PeerID(senderPub)

	err = store.WithTxn(ctx, func(tx *storage.Txn) error {
		return store.UpsertWatermark(tx, &storage.Watermark{PeerID: senderID, LastSequenceNumber: 5, LastEntryHash: "h5"})
	})
	if err != nil {
		t.Fatalf("seed watermark: %v", err)
	}

	gap := &Entry{
		EntryID:           NewEntryID(),
		SenderID:          senderID,
		ReceiverID:        "receiver",
		SequenceNumber:    7,
		PreviousEntryHash: "h6",
		Amount:            100,
		Fee:               5,
		LamportNodeID:     "peer-node",
		LamportCounter:    1,
	}
	sealEntry(t, gap, senderPriv, eng.cfg.PowDifficulty)

	err = eng.ReceiveAndRoute(ctx, gap, senderPub, "peer-1")
	if !coreerr.IsKind(err, coreerr.KindInvalidEntry) {
		t.Fatalf("expected seq=7 against watermark=5 to be rejected as invalid entry, got %v", err)
	}

	six := &Entry{
		EntryID:           NewEntryID(),
		SenderID:          senderID,
		ReceiverID:        "receiver",
		SequenceNumber:    6,
		PreviousEntryHash: "h5",
		Amount:            100,
		Fee:               5,
		LamportNodeID:     "peer-node",
		LamportCounter:    2,
	}
	sealEntry(t, six, senderPriv, eng.cfg.PowDifficulty)
	if err := eng.ReceiveAndRoute(ctx, six, senderPub, "peer-1"); err != nil {
		t.Fatalf("accept seq=6: %v", err)
	}

	committed, err := eng.CommitNext(ctx)
	if err != nil {
		t.Fatalf("commit seq=6: %v", err)
	}
	if committed.SequenceNumber != 6 {
		t.Fatalf("expected to commit seq=6, got %d", committed.SequenceNumber)
	}

	seven := &Entry{
		EntryID:           NewEntryID(),
		SenderID:          senderID,
		ReceiverID:        "receiver",
		SequenceNumber:    7,
		PreviousEntryHash: six.EntryHash,
		Amount:            100,
		Fee:               5,
		LamportNodeID:     "peer-node",
		LamportCounter:    3,
	}
	sealEntry(t, seven, senderPriv, eng.cfg.PowDifficulty)
	if err := eng.ReceiveAndRoute(ctx, seven, senderPub, "peer-1"); err != nil {
		t.Fatalf("accept seq=7 after repair: %v", err)
	}
	if _, err := eng.CommitNext(ctx); err != nil {
		t.Fatalf("commit seq=7: %v", err)
	}

	var final *storage.Watermark
	err = store.WithTxn(ctx, func(tx *storage.Txn) error {
		w, err := store.GetWatermark(tx, senderID)
		if err != nil {
			return err
		}
		final = w
		return nil
	})
	if err != nil {
		t.Fatalf("read final watermark: %v", err)
	}
	if final.LastSequenceNumber != 7 {
		t.Fatalf("expected final watermark 7, got %d", final.LastSequenceNumber)
	}
}

func TestReplaySafetyRejectedBeforePow(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	senderPub, senderPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	senderID := crypto.PeerID(senderPub)

	err = store.WithTxn(ctx, func(tx *storage.Txn) error {
		return store.UpsertWatermark(tx, &storage.Watermark{PeerID: senderID, LastSequenceNumber: 5, LastEntryHash: "h5"})
	})
	if err != nil {
		t.Fatalf("seed watermark: %v", err)
	}

	entry := &Entry{
		EntryID:        NewEntryID(),
		SenderID:       senderID,
		ReceiverID:     "receiver",
		SequenceNumber: 6,
		Amount:         50,
		Fee:            5,
		LamportNodeID:  "peer-node",
		LamportCounter: 1,
	}
	sealEntry(t, entry, senderPriv, eng.cfg.PowDifficulty)

	if err := eng.ReceiveAndRoute(ctx, entry, senderPub, "peer-1"); err != nil {
		t.Fatalf("first delivery should be accepted: %v", err)
	}
	if _, err := eng.CommitNext(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// Replay with an invalid PoW nonce, re-signed so it passes the
	// signature step: if the engine reached step 4 it would fail there
	// with a PoW error instead of the anti-replay error checked below.
	replay := *entry
	replay.PowNonce = "deadbeef"
	replay.Sign(senderPriv)
	err = eng.ReceiveAndRoute(ctx, &replay, senderPub, "peer-1")
	if !coreerr.IsKind(err, coreerr.KindInvalidEntry) {
		t.Fatalf("expected replay to be rejected as invalid entry, got %v", err)
	}
	if !strings.Contains(err.Error(), "watermark") {
		t.Fatalf("expected replay to be rejected by the anti-replay check, got %v", err)
	}
}

func TestBuildAndSubmitRoundtrip(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	senderPub, senderPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	senderID := crypto.PeerID(senderPub)

	req := &BuildAndSubmitRequest{
		SenderPriv: senderPriv,
		SenderID:   senderID,
		ReceiverID: "receiver",
		Amount:     10,
		Fee:        2,
	}
	entry, err := eng.BuildAndSubmit(ctx, req)
	if err != nil {
		t.Fatalf("BuildAndSubmit: %v", err)
	}
	if entry.SequenceNumber != 1 {
		t.Fatalf("expected first entry to be sequence 1, got %d", entry.SequenceNumber)
	}
	if !entry.VerifyHashIntegrity() {
		t.Fatal("expected entry hash to be internally consistent")
	}

	committed, err := eng.CommitNext(ctx)
	if err != nil {
		t.Fatalf("CommitNext: %v", err)
	}
	if committed.EntryHash != entry.EntryHash {
		t.Fatalf("expected committed entry to match submitted entry")
	}

	var utxo *storage.UTXO
	err = store.WithTxn(ctx, func(tx *storage.Txn) error {
		u, err := store.GetUTXO(tx, entry.EntryHash)
		if err != nil {
			return err
		}
		utxo = u
		return nil
	})
	if err != nil {
		t.Fatalf("GetUTXO: %v", err)
	}
	if utxo.OwnerID != "receiver" || utxo.Amount != 10 {
		t.Fatalf("unexpected output utxo: %+v", utxo)
	}
}

func TestBuildAndSubmitRejectsZeroAmount(t *testing.T) {
	eng, _ := newTestEngine(t)
	_, senderPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	req := &BuildAndSubmitRequest{SenderPriv: senderPriv, SenderID: "s", ReceiverID: "r", Amount: 0, Fee: 5}
	if _, err := eng.BuildAndSubmit(context.Background(), req); !coreerr.IsKind(err, coreerr.KindInvalidEntry) {
		t.Fatalf("expected invalid entry for zero amount, got %v", err)
	}
}

func TestBuildAndSubmitRejectsFeeBelowMinimum(t *testing.T) {
	eng, _ := newTestEngine(t)
	_, senderPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	req := &BuildAndSubmitRequest{SenderPriv: senderPriv, SenderID: "s", ReceiverID: "r", Amount: 10, Fee: 0}
	if _, err := eng.BuildAndSubmit(context.Background(), req); !coreerr.IsKind(err, coreerr.KindInvalidEntry) {
		t.Fatalf("expected invalid entry for fee below minimum, got %v", err)
	}
}
