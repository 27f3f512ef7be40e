package mesh

import "sort"

// ReputationSource scores a peer in [0,1]; higher is more trusted. The
// Behavior Event Bus (C10) is the canonical implementation; it is kept
// as a narrow external-collaborator interface here so the dispatcher
// never depends on how reputation is computed.
type ReputationSource interface {
	GetScore(peerID string) float64
}

// NeighborLister returns the set of peers currently reachable over the
// transport, independent of reputation.
type NeighborLister interface {
	ListNeighbors() []string
}

// scoredPeer pairs a peer with its reputation score, snapshotted once.
type scoredPeer struct {
	peerID string
	score  float64
}

// SelectNeighbors snapshots every reachable neighbor's reputation score
// exactly once, then sorts descending by that snapshot — never
// re-scoring mid-sort. The legacy source's per-comparison async lookup
// during sort made ordering ill-defined; scores must be fixed before
// comparison begins.
func SelectNeighbors(neighbors NeighborLister, reputation ReputationSource, excludePeer string) []string {
	raw := neighbors.ListNeighbors()
	scored := make([]scoredPeer, 0, len(raw))
	for _, peerID := range raw {
		if peerID == excludePeer {
			continue
		}
		scored = append(scored, scoredPeer{peerID: peerID, score: reputation.GetScore(peerID)})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	out := make([]string, len(scored))
	for i, sp := range scored {
		out[i] = sp.peerID
	}
	return out
}
