package storage

import (
	"database/sql"
	"errors"
	"time"

	"github.com/meshledger/core/internal/coreerr"
)

// UTXO is an unspent output: it exists in the store iff it is unspent.
type UTXO struct {
	Hash      string
	Amount    int64
	OwnerID   string
	CreatedAt time.Time
}

// GetUTXO looks up a UTXO by hash within txn. Returns coreerr.ErrNotFound
// if it does not exist (already spent, or never created).
func (s *Store) GetUTXO(t *Txn, hash string) (*UTXO, error) {
	row := t.tx.QueryRow(
		"SELECT utxo_hash, amount, owner_id, created_at FROM utxo WHERE utxo_hash = ?",
		hash,
	)
	return scanUTXO(row)
}

// ExistsUTXO reports whether a UTXO is currently unspent.
func (s *Store) ExistsUTXO(t *Txn, hash string) (bool, error) {
	var exists int
	err := t.tx.QueryRow("SELECT 1 FROM utxo WHERE utxo_hash = ?", hash).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, coreerr.Wrap(coreerr.KindStore, "check utxo existence", err)
	}
	return true, nil
}

// InsertUTXO creates a new unspent output.
func (s *Store) InsertUTXO(t *Txn, u *UTXO) error {
	_, err := t.tx.Exec(
		"INSERT INTO utxo (utxo_hash, amount, owner_id, created_at) VALUES (?, ?, ?, ?)",
		u.Hash, u.Amount, u.OwnerID, u.CreatedAt.Unix(),
	)
	if err != nil {
		return coreerr.Wrap(coreerr.KindStore, "insert utxo", err)
	}
	return nil
}

// SpendUTXO deletes a UTXO, marking it spent. Deleting a UTXO that does
// not exist is not an error at this layer; callers (receive-and-route,
// commit) are responsible for checking existence first as part of their
// own ordered validation steps.
func (s *Store) SpendUTXO(t *Txn, hash string) error {
	_, err := t.tx.Exec("DELETE FROM utxo WHERE utxo_hash = ?", hash)
	if err != nil {
		return coreerr.Wrap(coreerr.KindStore, "spend utxo", err)
	}
	return nil
}

func scanUTXO(row *sql.Row) (*UTXO, error) {
	var u UTXO
	var createdAt int64
	err := row.Scan(&u.Hash, &u.Amount, &u.OwnerID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, coreerr.ErrNotFound
	}
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindStore, "scan utxo", err)
	}
	u.CreatedAt = time.Unix(createdAt, 0)
	return &u, nil
}
