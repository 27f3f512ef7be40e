package storage

import (
	"database/sql"
	"time"

	"github.com/meshledger/core/internal/coreerr"
)

// MempoolRow is the stored form of a mempool entry: the serialized
// LedgerEntry plus the fields needed to rank and evict it without
// deserializing the blob.
type MempoolRow struct {
	EntryHash     string
	EntryBlob     []byte
	InputUTXOHash string
	ReceivedAt    time.Time
	Fee           int64
}

// InsertMempoolEntry adds a new mempool row. Conflict resolution against
// an existing entry spending the same input UTXO is the Mempool's (C4)
// responsibility, not the store's — this call always inserts or replaces
// by entry_hash.
func (s *Store) InsertMempoolEntry(t *Txn, m *MempoolRow) error {
	_, err := t.tx.Exec(`
		INSERT OR REPLACE INTO mempool (entry_hash, entry_blob, input_utxo_hash, received_at, fee)
		VALUES (?, ?, ?, ?, ?)
	`, m.EntryHash, m.EntryBlob, nullableString(m.InputUTXOHash), m.ReceivedAt.Unix(), m.Fee)
	if err != nil {
		return coreerr.Wrap(coreerr.KindStore, "insert mempool entry", err)
	}
	return nil
}

// RemoveMempoolEntry removes an entry by hash, e.g. after it commits or is
// evicted by fee-replacement or aging.
func (s *Store) RemoveMempoolEntry(t *Txn, entryHash string) error {
	_, err := t.tx.Exec("DELETE FROM mempool WHERE entry_hash = ?", entryHash)
	if err != nil {
		return coreerr.Wrap(coreerr.KindStore, "remove mempool entry", err)
	}
	return nil
}

// ListMempoolOrdered returns all mempool rows ordered by (fee DESC,
// received_at ASC) — the commit loop and admission ranking order.
func (s *Store) ListMempoolOrdered(t *Txn) ([]*MempoolRow, error) {
	rows, err := t.tx.Query(`
		SELECT entry_hash, entry_blob, input_utxo_hash, received_at, fee
		FROM mempool
		ORDER BY fee DESC, received_at ASC
	`)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindStore, "list mempool ordered", err)
	}
	defer rows.Close()
	return scanMempoolRows(rows)
}

// ListMempoolByInputUTXO returns any mempool entry(ies) currently spending
// the given input UTXO, for the conflict-resolution check in C4.
func (s *Store) ListMempoolByInputUTXO(t *Txn, inputUTXOHash string) ([]*MempoolRow, error) {
	rows, err := t.tx.Query(
		"SELECT entry_hash, entry_blob, input_utxo_hash, received_at, fee FROM mempool WHERE input_utxo_hash = ?",
		inputUTXOHash,
	)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindStore, "list mempool by input utxo", err)
	}
	defer rows.Close()
	return scanMempoolRows(rows)
}

// ListMempoolOlderThan returns entries received before cutoff, for the
// periodic eviction sweep.
func (s *Store) ListMempoolOlderThan(t *Txn, cutoff time.Time) ([]*MempoolRow, error) {
	rows, err := t.tx.Query(
		"SELECT entry_hash, entry_blob, input_utxo_hash, received_at, fee FROM mempool WHERE received_at < ?",
		cutoff.Unix(),
	)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindStore, "list mempool older than", err)
	}
	defer rows.Close()
	return scanMempoolRows(rows)
}

func scanMempoolRows(rows *sql.Rows) ([]*MempoolRow, error) {
	var out []*MempoolRow
	for rows.Next() {
		var m MempoolRow
		var inputUTXO sql.NullString
		var receivedAt int64
		if err := rows.Scan(&m.EntryHash, &m.EntryBlob, &inputUTXO, &receivedAt, &m.Fee); err != nil {
			return nil, coreerr.Wrap(coreerr.KindStore, "scan mempool row", err)
		}
		m.InputUTXOHash = inputUTXO.String
		m.ReceivedAt = time.Unix(receivedAt, 0)
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, coreerr.Wrap(coreerr.KindStore, "iterate mempool rows", err)
	}
	return out, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
