package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/meshledger/core/internal/coreerr"
)

// Txn is a single serialized write transaction against the Ledger Store.
// Every multi-table mutation (commit, UTXO spend, watermark advance,
// mempool removal) happens inside one Txn so a crash between commits never
// leaves a UTXO both spent and present.
type Txn struct {
	tx *sql.Tx
}

// Begin starts a new transaction. Callers MUST NOT hold the returned Txn
// across I/O unrelated to the store.
func (s *Store) Begin(ctx context.Context) (*Txn, error) {
	s.mu.Lock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.mu.Unlock()
		return nil, coreerr.Wrap(coreerr.KindStore, "begin transaction", err)
	}
	return &Txn{tx: tx}, nil
}

// Commit commits the transaction and releases the writer lock.
func (s *Store) Commit(t *Txn) error {
	defer s.mu.Unlock()
	if err := t.tx.Commit(); err != nil {
		return coreerr.Wrap(coreerr.KindStore, "commit transaction", err)
	}
	return nil
}

// Rollback aborts the transaction and releases the writer lock.
func (s *Store) Rollback(t *Txn) error {
	defer s.mu.Unlock()
	if err := t.tx.Rollback(); err != nil {
		return coreerr.Wrap(coreerr.KindStore, "rollback transaction", err)
	}
	return nil
}

// WithTxn runs fn inside a single transaction, committing on success and
// rolling back if fn returns an error.
func (s *Store) WithTxn(ctx context.Context, fn func(*Txn) error) error {
	t, err := s.Begin(ctx)
	if err != nil {
		return err
	}

	if err := fn(t); err != nil {
		if rbErr := s.Rollback(t); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	return s.Commit(t)
}
