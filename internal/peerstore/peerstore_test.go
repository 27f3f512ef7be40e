package peerstore

import (
	"os"
	"testing"

	"github.com/meshledger/core/internal/coreerr"
	"github.com/meshledger/core/internal/storage"
)

func newTestTable(t *testing.T, threshold int) *PeerTable {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "meshledger-peerstore-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	store, err := storage.New(&storage.Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return New(store, Config{QuarantineThreshold: threshold})
}

func TestUpsertAndPickRandom(t *testing.T) {
	table := newTestTable(t, 3)
	if err := table.Upsert("peer-a", "10.0.0.1", 9000); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	rec, err := table.PickRandom()
	if err != nil {
		t.Fatalf("PickRandom: %v", err)
	}
	if rec.PeerID != "peer-a" {
		t.Fatalf("expected peer-a, got %s", rec.PeerID)
	}
}

func TestPickRandomEmptyTable(t *testing.T) {
	table := newTestTable(t, 3)
	if _, err := table.PickRandom(); err != coreerr.ErrNotFound {
		t.Fatalf("expected ErrNotFound on empty table, got %v", err)
	}
}

func TestRecordFailureQuarantinesPastThreshold(t *testing.T) {
	table := newTestTable(t, 2)
	if err := table.Upsert("peer-a", "10.0.0.1", 9000); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	for i := 0; i < 2; i++ {
		quarantined, err := table.RecordFailure("peer-a")
		if err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
		if quarantined {
			t.Fatalf("did not expect quarantine at failure %d", i+1)
		}
	}

	quarantined, err := table.RecordFailure("peer-a")
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if !quarantined {
		t.Fatal("expected quarantine once failure count exceeds threshold")
	}

	if _, err := table.PickRandom(); err != coreerr.ErrNotFound {
		t.Fatalf("expected quarantined peer to be removed, got %v", err)
	}
}

func TestListPeers(t *testing.T) {
	table := newTestTable(t, 3)
	table.Upsert("a", "1.1.1.1", 1)
	table.Upsert("b", "2.2.2.2", 2)

	peers, err := table.List(0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(peers) != 2 {
		t.Fatalf("expected 2 peers, got %d", len(peers))
	}
}
