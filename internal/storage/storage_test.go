package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/meshledger/core/internal/coreerr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "meshledger-storage-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	store, err := New(&Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewCreatesDatabaseFile(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "meshledger-storage-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	store, err := New(&Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	dbPath := filepath.Join(tmpDir, "meshledger.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
	if store.DB() == nil {
		t.Error("DB() returned nil")
	}
}

func TestExpandPathTilde(t *testing.T) {
	home, _ := os.UserHomeDir()
	expanded := expandPath("~/.test")
	expected := filepath.Join(home, ".test")
	if expanded != expected {
		t.Errorf("expandPath(~/.test) = %s, want %s", expanded, expected)
	}
}

func TestSchemaTablesExist(t *testing.T) {
	store := newTestStore(t)

	for _, table := range []string{"utxo", "sequence", "mempool", "peers", "ledger"} {
		var name string
		err := store.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestUTXOLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u := &UTXO{Hash: "utxo-1", Amount: 100, OwnerID: "alice", CreatedAt: time.Now()}

	err := store.WithTxn(ctx, func(tx *Txn) error {
		if err := store.InsertUTXO(tx, u); err != nil {
			return err
		}
		exists, err := store.ExistsUTXO(tx, u.Hash)
		if err != nil {
			return err
		}
		if !exists {
			t.Error("expected UTXO to exist after insert")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("insert txn: %v", err)
	}

	err = store.WithTxn(ctx, func(tx *Txn) error {
		got, err := store.GetUTXO(tx, u.Hash)
		if err != nil {
			return err
		}
		if got.Amount != u.Amount || got.OwnerID != u.OwnerID {
			t.Errorf("got UTXO %+v, want %+v", got, u)
		}
		return store.SpendUTXO(tx, u.Hash)
	})
	if err != nil {
		t.Fatalf("spend txn: %v", err)
	}

	err = store.WithTxn(ctx, func(tx *Txn) error {
		exists, err := store.ExistsUTXO(tx, u.Hash)
		if err != nil {
			return err
		}
		if exists {
			t.Error("expected UTXO to no longer exist after spend")
		}
		_, err = store.GetUTXO(tx, u.Hash)
		if err != coreerr.ErrNotFound {
			t.Errorf("GetUTXO after spend: got %v, want coreerr.ErrNotFound", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verify txn: %v", err)
	}
}

func TestWatermarkRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTxn(ctx, func(tx *Txn) error {
		w, err := store.GetWatermark(tx, "sender-1")
		if err != nil {
			return err
		}
		if w.LastSequenceNumber != 0 {
			t.Errorf("expected zero-value watermark for unseen sender, got %+v", w)
		}

		return store.UpsertWatermark(tx, &Watermark{
			PeerID:             "sender-1",
			LastSequenceNumber: 1,
			LastEntryHash:      "hash-1",
		})
	})
	if err != nil {
		t.Fatalf("first txn: %v", err)
	}

	err = store.WithTxn(ctx, func(tx *Txn) error {
		w, err := store.GetWatermark(tx, "sender-1")
		if err != nil {
			return err
		}
		if w.LastSequenceNumber != 1 || w.LastEntryHash != "hash-1" {
			t.Errorf("got watermark %+v, want seq=1 hash=hash-1", w)
		}
		return store.UpsertWatermark(tx, &Watermark{
			PeerID:             "sender-1",
			LastSequenceNumber: 2,
			LastEntryHash:      "hash-2",
		})
	})
	if err != nil {
		t.Fatalf("second txn: %v", err)
	}

	err = store.WithTxn(ctx, func(tx *Txn) error {
		w, err := store.GetWatermark(tx, "sender-1")
		if err != nil {
			return err
		}
		if w.LastSequenceNumber != 2 || w.LastEntryHash != "hash-2" {
			t.Errorf("got watermark %+v after update, want seq=2 hash=hash-2", w)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verify txn: %v", err)
	}
}

func TestMempoolOrderingAndEviction(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	entries := []*MempoolRow{
		{EntryHash: "e-low-fee", EntryBlob: []byte("a"), InputUTXOHash: "u1", ReceivedAt: now, Fee: 5},
		{EntryHash: "e-high-fee", EntryBlob: []byte("b"), InputUTXOHash: "u2", ReceivedAt: now.Add(time.Second), Fee: 20},
		{EntryHash: "e-old", EntryBlob: []byte("c"), InputUTXOHash: "u3", ReceivedAt: now.Add(-time.Hour), Fee: 10},
	}

	err := store.WithTxn(ctx, func(tx *Txn) error {
		for _, e := range entries {
			if err := store.InsertMempoolEntry(tx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("insert txn: %v", err)
	}

	err = store.WithTxn(ctx, func(tx *Txn) error {
		ordered, err := store.ListMempoolOrdered(tx)
		if err != nil {
			return err
		}
		if len(ordered) != 3 {
			t.Fatalf("expected 3 mempool entries, got %d", len(ordered))
		}
		if ordered[0].EntryHash != "e-high-fee" {
			t.Errorf("expected highest-fee entry first, got %s", ordered[0].EntryHash)
		}

		byInput, err := store.ListMempoolByInputUTXO(tx, "u2")
		if err != nil {
			return err
		}
		if len(byInput) != 1 || byInput[0].EntryHash != "e-high-fee" {
			t.Errorf("ListMempoolByInputUTXO(u2) = %+v, want [e-high-fee]", byInput)
		}

		aged, err := store.ListMempoolOlderThan(tx, now.Add(-30*time.Minute))
		if err != nil {
			return err
		}
		if len(aged) != 1 || aged[0].EntryHash != "e-old" {
			t.Errorf("ListMempoolOlderThan = %+v, want [e-old]", aged)
		}

		return store.RemoveMempoolEntry(tx, "e-old")
	})
	if err != nil {
		t.Fatalf("query txn: %v", err)
	}

	err = store.WithTxn(ctx, func(tx *Txn) error {
		ordered, err := store.ListMempoolOrdered(tx)
		if err != nil {
			return err
		}
		if len(ordered) != 2 {
			t.Errorf("expected 2 mempool entries after eviction, got %d", len(ordered))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verify txn: %v", err)
	}
}

func TestPeerUpsertAndPickRandom(t *testing.T) {
	store := newTestStore(t)

	_, err := store.PickRandomPeer()
	if err != coreerr.ErrNotFound {
		t.Fatalf("PickRandomPeer on empty table: got %v, want coreerr.ErrNotFound", err)
	}

	now := time.Now()
	for i, id := range []string{"peer-a", "peer-b", "peer-c"} {
		p := &PeerRecord{
			PeerID:   id,
			Address:  "10.0.0.1",
			Port:     4000 + i,
			LastSeen: now.Add(time.Duration(i) * time.Minute),
		}
		if err := store.UpsertPeer(p); err != nil {
			t.Fatalf("UpsertPeer(%s): %v", id, err)
		}
	}

	peers, err := store.ListPeers(0)
	if err != nil {
		t.Fatalf("ListPeers: %v", err)
	}
	if len(peers) != 3 {
		t.Fatalf("ListPeers returned %d peers, want 3", len(peers))
	}

	limited, err := store.ListPeers(2)
	if err != nil {
		t.Fatalf("ListPeers(2): %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("ListPeers(2) returned %d peers, want 2", len(limited))
	}

	if _, err := store.PickRandomPeer(); err != nil {
		t.Errorf("PickRandomPeer on populated table: %v", err)
	}

	if err := store.IncrementPeerFailure("peer-a"); err != nil {
		t.Fatalf("IncrementPeerFailure: %v", err)
	}
	after, err := store.ListPeers(0)
	if err != nil {
		t.Fatalf("ListPeers after failure increment: %v", err)
	}
	var gotFailure bool
	for _, p := range after {
		if p.PeerID == "peer-a" && p.FailureCount == 1 {
			gotFailure = true
		}
	}
	if !gotFailure {
		t.Error("expected peer-a failure_count to be 1")
	}

	if err := store.RemovePeer("peer-a"); err != nil {
		t.Fatalf("RemovePeer: %v", err)
	}
	after, err = store.ListPeers(0)
	if err != nil {
		t.Fatalf("ListPeers after removal: %v", err)
	}
	if len(after) != 2 {
		t.Errorf("expected 2 peers after removal, got %d", len(after))
	}
}

func TestLedgerAppendAndListCommittedSince(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rows := []*LedgerRow{
		{EntryHash: "h1", EntryBlob: []byte("one"), Signature: []byte("sig1"), EmitterID: "alice", CommittedAt: time.Now()},
		{EntryHash: "h2", EntryBlob: []byte("two"), PrevHash: "h1", Signature: []byte("sig2"), EmitterID: "alice", CommittedAt: time.Now()},
		{EntryHash: "h3", EntryBlob: []byte("three"), Signature: []byte("sig3"), EmitterID: "bob", CommittedAt: time.Now()},
	}

	err := store.WithTxn(ctx, func(tx *Txn) error {
		for _, r := range rows {
			if err := store.AppendLedgerEntry(tx, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("append txn: %v", err)
	}

	got, err := store.ListCommittedSince("alice", 0, 10)
	if err != nil {
		t.Fatalf("ListCommittedSince: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 committed rows for alice, got %d", len(got))
	}
	if got[0].EntryHash != "h1" || got[1].EntryHash != "h2" {
		t.Errorf("expected ascending order h1,h2; got %s,%s", got[0].EntryHash, got[1].EntryHash)
	}

	tail, err := store.ListCommittedSince("alice", got[0].BlockIndex, 10)
	if err != nil {
		t.Fatalf("ListCommittedSince (cursor): %v", err)
	}
	if len(tail) != 1 || tail[0].EntryHash != "h2" {
		t.Errorf("expected cursor to resume at h2, got %+v", tail)
	}
}
