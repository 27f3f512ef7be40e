// Package mesh implements the Mesh Traffic Core's Dispatcher (C7): a
// strictly priority-ordered, TTL/loop-suppressing, reputation-aware
// forwarding layer sitting above the Session Layer and below the Ledger
// Engine and Sync Engine, whose LEDGER_ENTRY/SYNC_REQUEST/SYNC_RESPONSE/
// MESH_TEXT frames it all carries the same way.
package mesh

import "github.com/meshledger/core/internal/transport"

// Priority is the dispatcher's strict ordering class. Declared here
// (rather than imported from internal/transport) because the dispatcher
// reasons about it directly; transport.Priority is its wire encoding.
type Priority int

const (
	PriorityBulk Priority = iota
	PriorityNormal
	PriorityRealTime
	PriorityCritical
)

// priorityOrder lists priorities strictly highest-first, the order the
// dispatcher drains queues in.
var priorityOrder = []Priority{PriorityCritical, PriorityRealTime, PriorityNormal, PriorityBulk}

func (p Priority) wire() transport.Priority {
	switch p {
	case PriorityCritical:
		return transport.PriorityCritical
	case PriorityRealTime:
		return transport.PriorityRealTime
	case PriorityNormal:
		return transport.PriorityNormal
	default:
		return transport.PriorityBulk
	}
}

// State is a message's position in the dispatch state machine:
// Queued -> Dispatched -> {Acked | Retrying | Failed}.
type State string

const (
	StateQueued     State = "queued"
	StateDispatched State = "dispatched"
	StateAcked      State = "acked"
	StateRetrying   State = "retrying"
	StateFailed     State = "failed"
)

// Message is the mesh-layer envelope: a LEDGER_ENTRY, SYNC_REQUEST,
// SYNC_RESPONSE, MESH_TEXT or MESH_DECOY payload plus the routing
// metadata the dispatcher needs (TTL, visited set, hop count, priority).
type Message struct {
	MessageID    string
	SenderID     string
	ReceiverID   string // empty means broadcast to all neighbors
	Type         transport.MessageType
	Payload      []byte
	TTL          int
	HopCount     int
	VisitedNodes []string
	Priority     Priority
}

// hasVisited reports whether peerID appears anywhere in the path before
// the most recent hop. The final VisitedNodes entry is always the node
// about to transmit (withHop appends it before the message is handed to
// Enqueue for forwarding), so a trailing match is the sender recognizing
// itself, not a return visit; only an earlier occurrence is a loop.
func (m *Message) hasVisited(peerID string) bool {
	nodes := m.VisitedNodes
	if n := len(nodes); n > 0 && nodes[n-1] == peerID {
		nodes = nodes[:n-1]
	}
	for _, v := range nodes {
		if v == peerID {
			return true
		}
	}
	return false
}

// withHop returns a copy of m advanced one hop: TTL decremented, the
// forwarding node appended to VisitedNodes, HopCount incremented.
func (m *Message) withHop(selfID string) *Message {
	next := *m
	next.TTL = m.TTL - 1
	next.HopCount = m.HopCount + 1
	next.VisitedNodes = append(append([]string(nil), m.VisitedNodes...), selfID)
	return &next
}

// WithHop is withHop for callers outside this package (the node's
// forwarding path).
func (m *Message) WithHop(selfID string) *Message {
	return m.withHop(selfID)
}
