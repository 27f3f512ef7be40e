package storage

import (
	"database/sql"
	"time"

	"github.com/meshledger/core/internal/coreerr"
)

// PeerRecord is a known peer: address, last contact, and failure count
// used for quarantine decisions in the Peer Table (C9).
type PeerRecord struct {
	PeerID       string
	Address      string
	Port         int
	LastSeen     time.Time
	FailureCount int
}

// UpsertPeer inserts a new peer record or refreshes address/port,
// last_seen and failure_count on an existing one, the same
// upsert-on-conflict shape used throughout the store.
func (s *Store) UpsertPeer(p *PeerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO peers (peer_id, address, port, last_seen, failure_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(peer_id) DO UPDATE SET
			address = excluded.address,
			port = excluded.port,
			last_seen = excluded.last_seen,
			failure_count = excluded.failure_count
	`, p.PeerID, p.Address, p.Port, p.LastSeen.Unix(), p.FailureCount)
	if err != nil {
		return coreerr.Wrap(coreerr.KindStore, "upsert peer", err)
	}
	return nil
}

// IncrementPeerFailure bumps a peer's failure count, called on route
// failure or retry exhaustion.
func (s *Store) IncrementPeerFailure(peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("UPDATE peers SET failure_count = failure_count + 1 WHERE peer_id = ?", peerID)
	if err != nil {
		return coreerr.Wrap(coreerr.KindStore, "increment peer failure", err)
	}
	return nil
}

// RemovePeer deletes a peer, e.g. once failure_count exceeds a quarantine
// threshold.
func (s *Store) RemovePeer(peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM peers WHERE peer_id = ?", peerID)
	if err != nil {
		return coreerr.Wrap(coreerr.KindStore, "remove peer", err)
	}
	return nil
}

// ListPeers returns up to limit peers, preferring recent last_seen. limit
// <= 0 means no limit.
func (s *Store) ListPeers(limit int) ([]*PeerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT peer_id, address, port, last_seen, failure_count FROM peers ORDER BY last_seen DESC"
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.Query(query+" LIMIT ?", limit)
	} else {
		rows, err = s.db.Query(query)
	}
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindStore, "list peers", err)
	}
	defer rows.Close()

	return scanPeerRows(rows)
}

// PickRandomPeer samples one peer uniformly at random, for gossip fan-out
// and the sync engine's periodic partner selection. Returns coreerr.ErrNotFound
// if the peer table is empty.
func (s *Store) PickRandomPeer() (*PeerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow("SELECT peer_id, address, port, last_seen, failure_count FROM peers ORDER BY RANDOM() LIMIT 1")

	var p PeerRecord
	var lastSeen int64
	err := row.Scan(&p.PeerID, &p.Address, &p.Port, &lastSeen, &p.FailureCount)
	if err == sql.ErrNoRows {
		return nil, coreerr.ErrNotFound
	}
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindStore, "pick random peer", err)
	}
	p.LastSeen = time.Unix(lastSeen, 0)
	return &p, nil
}

func scanPeerRows(rows *sql.Rows) ([]*PeerRecord, error) {
	var out []*PeerRecord
	for rows.Next() {
		var p PeerRecord
		var lastSeen int64
		if err := rows.Scan(&p.PeerID, &p.Address, &p.Port, &lastSeen, &p.FailureCount); err != nil {
			return nil, coreerr.Wrap(coreerr.KindStore, "scan peer row", err)
		}
		p.LastSeen = time.Unix(lastSeen, 0)
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, coreerr.Wrap(coreerr.KindStore, "iterate peer rows", err)
	}
	return out, nil
}
