package transport

import "context"

// InboundFrame pairs a raw received frame with the peer it arrived from,
// as delivered by a TransportLink to its subscribers.
type InboundFrame struct {
	PeerID string
	Frame  *Frame
}

// TransportLink is the seam a radio-specific adapter (BLE, Wi-Fi Direct,
// LoRa) implements. It knows nothing about ledger entries, sessions, or
// mesh priorities — it moves already-framed bytes between this node and
// one addressed neighbor, or broadcasts to whatever neighbors are in
// range. Everything above this interface is radio-agnostic.
type TransportLink interface {
	// Send transmits a frame to peerID. It returns a transport error on
	// failure; callers classify and retry per their own policy.
	Send(ctx context.Context, peerID string, f *Frame) error

	// Broadcast transmits a frame to every neighbor currently in range,
	// used for mesh gossip and sync-peer discovery pings.
	Broadcast(ctx context.Context, f *Frame) error

	// Inbound returns the channel of frames received from any neighbor.
	// Implementations close it when the link is shut down.
	Inbound() <-chan InboundFrame

	// LocalPeerID returns this node's own peer identifier as known to
	// the transport layer.
	LocalPeerID() string

	// Close releases the underlying radio resource.
	Close() error
}
