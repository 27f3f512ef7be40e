package storage

import (
	"database/sql"
	"errors"

	"github.com/meshledger/core/internal/coreerr"
)

// Watermark is the per-sender sequence state: the last committed sequence
// number and the hash of that entry. Committed entries from a sender form
// a dense chain 1, 2, 3, … with no gaps.
type Watermark struct {
	PeerID              string
	LastSequenceNumber  int64
	LastEntryHash       string
}

// GetWatermark returns the sender's current watermark, or a zero-value
// watermark (LastSequenceNumber == 0, LastEntryHash == "") if the sender
// has never committed an entry.
func (s *Store) GetWatermark(t *Txn, peerID string) (*Watermark, error) {
	row := t.tx.QueryRow(
		"SELECT peer_id, last_sequence_number, last_entry_hash FROM sequence WHERE peer_id = ?",
		peerID,
	)

	var w Watermark
	var lastHash sql.NullString
	err := row.Scan(&w.PeerID, &w.LastSequenceNumber, &lastHash)
	if errors.Is(err, sql.ErrNoRows) {
		return &Watermark{PeerID: peerID}, nil
	}
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindStore, "scan watermark", err)
	}
	w.LastEntryHash = lastHash.String
	return &w, nil
}

// ListWatermarks returns the watermark for every sender this node has
// ever committed an entry from, the basis for a delta-sync request's
// per-sender cursor map.
func (s *Store) ListWatermarks(t *Txn) ([]*Watermark, error) {
	rows, err := t.tx.Query("SELECT peer_id, last_sequence_number, last_entry_hash FROM sequence")
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindStore, "list watermarks", err)
	}
	defer rows.Close()

	var out []*Watermark
	for rows.Next() {
		var w Watermark
		var lastHash sql.NullString
		if err := rows.Scan(&w.PeerID, &w.LastSequenceNumber, &lastHash); err != nil {
			return nil, coreerr.Wrap(coreerr.KindStore, "scan watermark row", err)
		}
		w.LastEntryHash = lastHash.String
		out = append(out, &w)
	}
	if err := rows.Err(); err != nil {
		return nil, coreerr.Wrap(coreerr.KindStore, "iterate watermark rows", err)
	}
	return out, nil
}

// UpsertWatermark writes the sender's new watermark after a commit.
func (s *Store) UpsertWatermark(t *Txn, w *Watermark) error {
	_, err := t.tx.Exec(`
		INSERT INTO sequence (peer_id, last_sequence_number, last_entry_hash)
		VALUES (?, ?, ?)
		ON CONFLICT(peer_id) DO UPDATE SET
			last_sequence_number = excluded.last_sequence_number,
			last_entry_hash = excluded.last_entry_hash
	`, w.PeerID, w.LastSequenceNumber, w.LastEntryHash)
	if err != nil {
		return coreerr.Wrap(coreerr.KindStore, "upsert watermark", err)
	}
	return nil
}
