// Package peerstore implements the Peer Table (C9): upsert on every
// successful link, quarantine (removal) once a peer's failure count
// exceeds a threshold, and uniform random sampling for gossip fan-out.
package peerstore

import (
	"github.com/meshledger/core/internal/storage"
)

// Config holds the peer table's tunables.
type Config struct {
	// QuarantineThreshold is the failure_count at which a peer is
	// removed from the table rather than retried further.
	QuarantineThreshold int
}

// PeerTable is the C9 component, backed by the Ledger Store's peers
// table.
type PeerTable struct {
	store *storage.Store
	cfg   Config
}

// New wraps a Ledger Store as a Peer Table.
func New(store *storage.Store, cfg Config) *PeerTable {
	return &PeerTable{store: store, cfg: cfg}
}

// Upsert records a successful link with peerID, resetting its failure
// count to zero (a peer that answers has earned a clean slate).
func (p *PeerTable) Upsert(peerID, address string, port int) error {
	return p.store.UpsertPeer(&storage.PeerRecord{
		PeerID:  peerID,
		Address: address,
		Port:    port,
	})
}

// RecordFailure increments peerID's failure count and removes
// (quarantines) it once the count exceeds the configured threshold.
// Returns whether the peer was quarantined by this call.
func (p *PeerTable) RecordFailure(peerID string) (quarantined bool, err error) {
	if err := p.store.IncrementPeerFailure(peerID); err != nil {
		return false, err
	}

	peers, err := p.store.ListPeers(0)
	if err != nil {
		return false, err
	}
	for _, rec := range peers {
		if rec.PeerID != peerID {
			continue
		}
		if rec.FailureCount > p.cfg.QuarantineThreshold {
			if err := p.store.RemovePeer(peerID); err != nil {
				return false, err
			}
			return true, nil
		}
		return false, nil
	}
	return false, nil
}

// PickRandom samples a peer uniformly, for gossip fan-out. Returns
// coreerr.ErrNotFound if the table is empty.
func (p *PeerTable) PickRandom() (*storage.PeerRecord, error) {
	rec, err := p.store.PickRandomPeer()
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns up to limit peers (0 means unbounded).
func (p *PeerTable) List(limit int) ([]*storage.PeerRecord, error) {
	return p.store.ListPeers(limit)
}

// Remove drops peerID from the table outright, independent of failure
// count (e.g. on an explicit operator-initiated ban).
func (p *PeerTable) Remove(peerID string) error {
	return p.store.RemovePeer(peerID)
}
