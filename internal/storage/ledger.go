package storage

import (
	"database/sql"
	"time"

	"github.com/meshledger/core/internal/coreerr"
)

// LedgerRow is a committed entry in the append-only ledger log, kept
// alongside the UTXO set as the durable record of what was ever committed
// (used by the sync engine to serve SyncResponse streams).
type LedgerRow struct {
	BlockIndex  int64
	EntryHash   string
	EntryBlob   []byte
	PrevHash    string
	Signature   []byte
	EmitterID   string
	CommittedAt time.Time
}

// AppendLedgerEntry appends a committed entry to the ledger log within
// the same transaction as its UTXO/watermark mutations.
func (s *Store) AppendLedgerEntry(t *Txn, r *LedgerRow) error {
	_, err := t.tx.Exec(`
		INSERT INTO ledger (entry_hash, entry_blob, prev_hash, signature, emitter_id, committed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.EntryHash, r.EntryBlob, nullableString(r.PrevHash), r.Signature, r.EmitterID, r.CommittedAt.Unix())
	if err != nil {
		return coreerr.Wrap(coreerr.KindStore, "append ledger entry", err)
	}
	return nil
}

// ListCommittedSince returns committed entries from emitterID with
// block_index strictly greater than afterBlockIndex, ordered ascending
// and bounded by limit — the primitive the Sync Engine's SyncResponse streaming is
// built on. Sequence number is encoded in entry_blob by the ledger
// engine, so this only filters by emitter and commit order; the caller
// (internal/sync) applies the seq cutoff after deserializing.
func (s *Store) ListCommittedSince(emitterID string, afterBlockIndex int64, limit int) ([]*LedgerRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT block_index, entry_hash, entry_blob, prev_hash, signature, emitter_id, committed_at
		FROM ledger
		WHERE emitter_id = ? AND block_index > ?
		ORDER BY block_index ASC
		LIMIT ?
	`, emitterID, afterBlockIndex, limit)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindStore, "list committed entries", err)
	}
	defer rows.Close()

	var out []*LedgerRow
	for rows.Next() {
		var r LedgerRow
		var prevHash sql.NullString
		var committedAt int64
		if err := rows.Scan(&r.BlockIndex, &r.EntryHash, &r.EntryBlob, &prevHash, &r.Signature, &r.EmitterID, &committedAt); err != nil {
			return nil, coreerr.Wrap(coreerr.KindStore, "scan ledger row", err)
		}
		r.PrevHash = prevHash.String
		r.CommittedAt = time.Unix(committedAt, 0)
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, coreerr.Wrap(coreerr.KindStore, "iterate ledger rows", err)
	}
	return out, nil
}
