// Package mempool implements the Mempool (C4): a store-backed, fee-ranked
// set of uncommitted entries with conflict resolution and age-based
// eviction. It operates on opaque entry blobs keyed by hash; it has no
// knowledge of LedgerEntry's fields beyond fee and input UTXO.
package mempool

import (
	"context"
	"time"

	"github.com/meshledger/core/internal/coreerr"
	"github.com/meshledger/core/internal/storage"
)

// Candidate is an entry awaiting mempool admission.
type Candidate struct {
	EntryHash     string
	Blob          []byte
	InputUTXOHash string
	Fee           int64
	ReceivedAt    time.Time
}

// Mempool is the C4 component: admission with conflict resolution,
// highest-priority selection, and periodic eviction.
type Mempool struct {
	store *storage.Store
}

// New wraps a Ledger Store as a Mempool.
func New(store *storage.Store) *Mempool {
	return &Mempool{store: store}
}

// Admit inserts c into the mempool. If another pending entry already
// spends the same input UTXO, c replaces it only if its fee is strictly
// greater; a tie leaves the incumbent (the older entry wins). Returns
// coreerr.KindMempoolConflict if c was rejected by the conflict rule.
func (m *Mempool) Admit(ctx context.Context, c *Candidate) error {
	return m.store.WithTxn(ctx, func(tx *storage.Txn) error {
		if c.InputUTXOHash == "" {
			return m.store.InsertMempoolEntry(tx, &storage.MempoolRow{
				EntryHash:     c.EntryHash,
				EntryBlob:     c.Blob,
				InputUTXOHash: c.InputUTXOHash,
				ReceivedAt:    c.ReceivedAt,
				Fee:           c.Fee,
			})
		}

		rivals, err := m.store.ListMempoolByInputUTXO(tx, c.InputUTXOHash)
		if err != nil {
			return err
		}

		if len(rivals) == 0 {
			return m.store.InsertMempoolEntry(tx, &storage.MempoolRow{
				EntryHash:     c.EntryHash,
				EntryBlob:     c.Blob,
				InputUTXOHash: c.InputUTXOHash,
				ReceivedAt:    c.ReceivedAt,
				Fee:           c.Fee,
			})
		}

		// Only one rival can exist at a time: admission always resolves
		// to a single incumbent per input UTXO.
		incumbent := rivals[0]
		if c.Fee <= incumbent.Fee {
			return coreerr.New(coreerr.KindMempoolConflict, "fee does not strictly exceed incumbent")
		}

		if err := m.store.RemoveMempoolEntry(tx, incumbent.EntryHash); err != nil {
			return err
		}
		return m.store.InsertMempoolEntry(tx, &storage.MempoolRow{
			EntryHash:     c.EntryHash,
			EntryBlob:     c.Blob,
			InputUTXOHash: c.InputUTXOHash,
			ReceivedAt:    c.ReceivedAt,
			Fee:           c.Fee,
		})
	})
}

// HighestPriorityEntry returns the single entry that would be committed
// next: the first by (fee DESC, received_at ASC). Returns
// coreerr.ErrNotFound if the mempool is empty.
func (m *Mempool) HighestPriorityEntry(ctx context.Context) (*storage.MempoolRow, error) {
	var top *storage.MempoolRow
	err := m.store.WithTxn(ctx, func(tx *storage.Txn) error {
		ordered, err := m.store.ListMempoolOrdered(tx)
		if err != nil {
			return err
		}
		if len(ordered) == 0 {
			return coreerr.ErrNotFound
		}
		top = ordered[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return top, nil
}

// Remove drops an entry from the mempool, e.g. after commit.
func (m *Mempool) Remove(ctx context.Context, entryHash string) error {
	return m.store.WithTxn(ctx, func(tx *storage.Txn) error {
		return m.store.RemoveMempoolEntry(tx, entryHash)
	})
}

// SweepAged evicts every entry older than maxAge, independent of commit.
// Returns the hashes removed.
func (m *Mempool) SweepAged(ctx context.Context, maxAge time.Duration) ([]string, error) {
	var removed []string
	err := m.store.WithTxn(ctx, func(tx *storage.Txn) error {
		cutoff := time.Now().Add(-maxAge)
		aged, err := m.store.ListMempoolOlderThan(tx, cutoff)
		if err != nil {
			return err
		}
		for _, row := range aged {
			if err := m.store.RemoveMempoolEntry(tx, row.EntryHash); err != nil {
				return err
			}
			removed = append(removed, row.EntryHash)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}
