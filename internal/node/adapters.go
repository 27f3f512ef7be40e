package node

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/meshledger/core/internal/coreerr"
	"github.com/meshledger/core/internal/ledger"
	"github.com/meshledger/core/internal/mesh"
	syncengine "github.com/meshledger/core/internal/sync"
	"github.com/meshledger/core/internal/transport"
)

// peerIDArray decodes a hex peer_id (crypto.PeerID's format) into the
// fixed 32-byte array the frame AAD is bound to.
func peerIDArray(peerID string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(peerID)
	if err != nil || len(raw) != 32 {
		return out, fmt.Errorf("node: malformed peer id %q", peerID)
	}
	copy(out[:], raw)
	return out, nil
}

// sealFrame encrypts plaintext for peerID under the active session and
// wraps it in a Frame of the given type, padding the plaintext to a
// traffic-obfuscation bucket first.
func (n *Node) sealFrame(peerID string, typ transport.MessageType, plaintext []byte) (*transport.Frame, error) {
	selfArr, err := peerIDArray(n.selfID)
	if err != nil {
		return nil, err
	}
	aad := transport.AAD(transport.FrameVersion, typ, selfArr)

	padded := n.obfs.Pad(plaintext)
	nonceBytes, sealed, err := n.sessions.Seal(peerID, padded, aad)
	if err != nil {
		return nil, err
	}

	f := &transport.Frame{Version: transport.FrameVersion, Type: typ}
	copy(f.Nonce[:], nonceBytes)
	tagStart := len(sealed) - len(f.Tag)
	copy(f.Tag[:], sealed[tagStart:])
	f.Ciphertext = append([]byte(nil), sealed[:tagStart]...)
	return f, nil
}

// openFrame decrypts a Frame received from peerID, reversing padding.
func (n *Node) openFrame(peerID string, f *transport.Frame) ([]byte, error) {
	peerArr, err := peerIDArray(peerID)
	if err != nil {
		return nil, err
	}
	aad := transport.AAD(f.Version, f.Type, peerArr)

	sealed := append(append([]byte(nil), f.Ciphertext...), f.Tag[:]...)
	plaintext, err := n.sessions.Open(peerID, f.Nonce[:], sealed, aad)
	if err != nil {
		return nil, err
	}
	return n.obfs.Unpad(plaintext), nil
}

// gossiperAdapter satisfies ledger.Gossiper by sending a LEDGER_ENTRY
// frame individually to every known peer except excludePeer — the
// Ledger Engine never sees the transport, only "gossip this blob".
type gossiperAdapter struct{ n *Node }

func (g *gossiperAdapter) Gossip(ctx context.Context, entryHash string, blob []byte, excludePeer string) {
	peers, err := g.n.peers.List(0)
	if err != nil {
		g.n.log.Warn("list peers for gossip", "entry_hash", entryHash, "err", err)
		return
	}
	for _, p := range peers {
		if p.PeerID == excludePeer {
			continue
		}
		frame, err := g.n.sealFrame(p.PeerID, transport.LedgerEntry, blob)
		if err != nil {
			g.n.log.Debug("gossip seal skipped (no session yet)", "peer", p.PeerID, "err", err)
			continue
		}
		if err := g.n.link.Send(ctx, p.PeerID, frame); err != nil {
			g.n.events.RouteFailure(ctx, p.PeerID, "gossip send failed")
			continue
		}
		g.n.events.RouteSuccess(ctx, p.PeerID)
	}
}

var _ ledger.Gossiper = (*gossiperAdapter)(nil)

// syncSenderAdapter satisfies sync.Sender by sending a SYNC_REQUEST frame
// and blocking for the correlated SYNC_RESPONSE frame delivered back
// through the node's inbound loop.
type syncSenderAdapter struct{ n *Node }

func (s *syncSenderAdapter) SendSyncRequest(ctx context.Context, peerID string, req *syncengine.Request) (*syncengine.Response, error) {
	body, err := syncengine.MarshalRequest(req)
	if err != nil {
		return nil, err
	}
	frame, err := s.n.sealFrame(peerID, transport.SyncRequest, body)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindSession, "seal sync request", err)
	}

	ch := s.n.registerPending(peerID)
	defer s.n.clearPending(peerID)

	if err := s.n.link.Send(ctx, peerID, frame); err != nil {
		return nil, coreerr.Wrap(coreerr.KindTransport, "send sync request", err)
	}

	select {
	case <-ctx.Done():
		return nil, coreerr.Wrap(coreerr.KindTimeout, "sync request", ctx.Err())
	case respFrame := <-ch:
		plaintext, err := s.n.openFrame(peerID, respFrame)
		if err != nil {
			return nil, coreerr.Wrap(coreerr.KindSession, "open sync response", err)
		}
		return syncengine.UnmarshalResponse(plaintext)
	}
}

var _ syncengine.Sender = (*syncSenderAdapter)(nil)

// linkAdapter satisfies mesh.Link by framing a mesh Message through the
// active session and handing it to the TransportLink.
type linkAdapter struct{ n *Node }

func (l *linkAdapter) Send(ctx context.Context, peerID string, msg *mesh.Message) error {
	payload, err := mesh.EncodeEnvelope(msg)
	if err != nil {
		return coreerr.Wrap(coreerr.KindSession, "encode mesh envelope", err)
	}
	body := &transport.Body{
		Priority: wirePriority(msg.Priority),
		TTL:      uint16(msg.TTL),
		HopCount: uint16(msg.HopCount),
		Payload:  payload,
	}
	encoded := transport.EncodeBody(body)

	frame, err := l.n.sealFrame(peerID, msg.Type, encoded)
	if err != nil {
		return coreerr.Wrap(coreerr.KindSession, "seal mesh message", err)
	}

	if err := l.n.obfs.Jitter(ctx); err != nil {
		return coreerr.Wrap(coreerr.KindSession, "mesh send jitter", err)
	}
	if err := l.n.link.Send(ctx, peerID, frame); err != nil {
		return coreerr.Wrap(coreerr.KindTransport, "send mesh message", err)
	}
	l.n.recordSend()
	return nil
}

var _ mesh.Link = (*linkAdapter)(nil)

// wirePriority maps the dispatcher's internal Priority to the frame
// body's wire encoding. mesh.Priority's own wire() mapping is
// unexported, so the equivalent closed switch is restated here.
func wirePriority(p mesh.Priority) transport.Priority {
	switch p {
	case mesh.PriorityCritical:
		return transport.PriorityCritical
	case mesh.PriorityRealTime:
		return transport.PriorityRealTime
	case mesh.PriorityNormal:
		return transport.PriorityNormal
	default:
		return transport.PriorityBulk
	}
}

// neighborAdapter satisfies mesh.NeighborLister from the Peer Table.
type neighborAdapter struct{ n *Node }

func (na *neighborAdapter) ListNeighbors() []string {
	peers, err := na.n.peers.List(0)
	if err != nil {
		return nil
	}
	ids := make([]string, len(peers))
	for i, p := range peers {
		ids[i] = p.PeerID
	}
	return ids
}

var _ mesh.NeighborLister = (*neighborAdapter)(nil)

// registerPending opens a one-shot response channel for peerID, used by
// both the sync request/response and handshake init/response flows to
// correlate an inbound frame with the goroutine awaiting it.
func (n *Node) registerPending(peerID string) chan *transport.Frame {
	ch := make(chan *transport.Frame, 1)
	n.pendingMu.Lock()
	n.pending[peerID] = ch
	n.pendingMu.Unlock()
	return ch
}

func (n *Node) clearPending(peerID string) {
	n.pendingMu.Lock()
	delete(n.pending, peerID)
	n.pendingMu.Unlock()
}

func (n *Node) deliverPending(peerID string, f *transport.Frame) bool {
	n.pendingMu.Lock()
	ch, ok := n.pending[peerID]
	n.pendingMu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- f:
		return true
	default:
		return false
	}
}
