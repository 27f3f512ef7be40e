package node

import (
	"context"

	"github.com/meshledger/core/internal/ledger"
	"github.com/meshledger/core/internal/mesh"
	syncengine "github.com/meshledger/core/internal/sync"
	"github.com/meshledger/core/internal/transport"
)

// inboundLoop drains the TransportLink's inbound channel and dispatches
// each frame by type. Handshake frames are never session-encrypted (no
// session exists yet to encrypt them with); every other type is opened
// through the active session before further processing.
func (n *Node) inboundLoop(ctx context.Context) {
	inbound := n.link.Inbound()
	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-inbound:
			if !ok {
				return
			}
			n.handleFrame(ctx, in.PeerID, in.Frame)
		}
	}
}

func (n *Node) handleFrame(ctx context.Context, peerID string, f *transport.Frame) {
	switch f.Type {
	case transport.HandshakeInit:
		n.handleHandshakeInit(ctx, peerID, f)
		return
	case transport.HandshakeResp:
		n.handleHandshakeResp(ctx, peerID, f)
		return
	}

	plaintext, err := n.openFrame(peerID, f)
	if err != nil {
		n.log.Debug("drop unopenable frame", "peer", peerID, "type", f.Type, "err", err)
		n.events.SuspiciousBehavior(ctx, peerID, "frame failed to open")
		return
	}

	switch f.Type {
	case transport.LedgerEntry:
		n.handleLedgerEntry(ctx, peerID, plaintext)
	case transport.SyncRequest:
		n.handleSyncRequest(ctx, peerID, plaintext)
	case transport.SyncResponse:
		n.deliverPending(peerID, f)
	case transport.MeshText:
		n.handleMeshBody(ctx, peerID, plaintext)
	case transport.MeshAck:
		n.mesh.NotifyAck(string(plaintext))
	case transport.MeshDecoy:
		// Discarded on receipt; its only purpose is indistinguishable
		// cover traffic on the wire.
	default:
		n.log.Debug("unhandled frame type", "type", f.Type)
	}
}

// handleHandshakeInit responds to a peer-initiated ECDH handshake: derive
// our own ephemeral keypair, complete the session with the initiator's
// public key, and reply with our own public key so the initiator can
// complete its side.
func (n *Node) handleHandshakeInit(ctx context.Context, peerID string, f *transport.Frame) {
	var initiatorPub [32]byte
	if len(f.Ciphertext) != 32 {
		n.log.Debug("malformed handshake init", "peer", peerID)
		return
	}
	copy(initiatorPub[:], f.Ciphertext)

	kp, err := n.sessions.StartHandshake(peerID)
	if err != nil {
		n.log.Warn("start handshake (responder)", "peer", peerID, "err", err)
		return
	}
	if err := n.sessions.CompleteHandshake(peerID, initiatorPub); err != nil {
		n.log.Warn("complete handshake (responder)", "peer", peerID, "err", err)
		return
	}

	resp := &transport.Frame{
		Version:    transport.FrameVersion,
		Type:       transport.HandshakeResp,
		Ciphertext: append([]byte(nil), kp.Public[:]...),
	}
	if err := n.link.Send(ctx, peerID, resp); err != nil {
		n.log.Warn("send handshake response", "peer", peerID, "err", err)
		return
	}
	n.events.RouteSuccess(ctx, peerID)
}

// handleHandshakeResp completes the initiator's side of a handshake it
// started via EnsureSession, then wakes the caller blocked on it.
func (n *Node) handleHandshakeResp(ctx context.Context, peerID string, f *transport.Frame) {
	var responderPub [32]byte
	if len(f.Ciphertext) != 32 {
		n.log.Debug("malformed handshake response", "peer", peerID)
		return
	}
	copy(responderPub[:], f.Ciphertext)

	if err := n.sessions.CompleteHandshake(peerID, responderPub); err != nil {
		n.log.Warn("complete handshake (initiator)", "peer", peerID, "err", err)
		return
	}
	n.deliverPending(peerID, f)
}

// EnsureSession performs a fresh ECDH handshake with peerID if none is
// active or the existing one is due for rotation, blocking until the
// peer's HANDSHAKE_RESP arrives or ctx is done.
func (n *Node) EnsureSession(ctx context.Context, peerID string) error {
	if !n.sessions.NeedsRotation(peerID) {
		return nil
	}

	kp, err := n.sessions.StartHandshake(peerID)
	if err != nil {
		return err
	}

	init := &transport.Frame{
		Version:    transport.FrameVersion,
		Type:       transport.HandshakeInit,
		Ciphertext: append([]byte(nil), kp.Public[:]...),
	}

	ch := n.registerPending(peerID)
	defer n.clearPending(peerID)

	if err := n.link.Send(ctx, peerID, init); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

func (n *Node) handleLedgerEntry(ctx context.Context, peerID string, plaintext []byte) {
	entry, err := ledger.Unmarshal(plaintext)
	if err != nil {
		n.log.Debug("malformed ledger entry", "peer", peerID, "err", err)
		return
	}
	pub, ok := n.publicKeyLookup(entry.SenderID)
	if !ok {
		n.log.Debug("unknown sender for ledger entry", "sender", entry.SenderID)
		return
	}
	if err := n.ledger.ReceiveAndRoute(ctx, entry, pub, peerID); err != nil {
		n.log.Debug("reject ledger entry", "peer", peerID, "entry_id", entry.EntryID, "err", err)
		return
	}
	n.events.MessageDelivered(ctx, peerID)
}

func (n *Node) handleSyncRequest(ctx context.Context, peerID string, plaintext []byte) {
	req, err := syncengine.UnmarshalRequest(plaintext)
	if err != nil {
		n.log.Debug("malformed sync request", "peer", peerID, "err", err)
		return
	}
	resp, err := n.sync.BuildResponse(ctx, req)
	if err != nil {
		n.log.Warn("build sync response", "peer", peerID, "err", err)
		return
	}
	body, err := syncengine.MarshalResponse(resp)
	if err != nil {
		n.log.Warn("marshal sync response", "peer", peerID, "err", err)
		return
	}
	frame, err := n.sealFrame(peerID, transport.SyncResponse, body)
	if err != nil {
		n.log.Debug("seal sync response", "peer", peerID, "err", err)
		return
	}
	if err := n.link.Send(ctx, peerID, frame); err != nil {
		n.events.RouteFailure(ctx, peerID, "sync response send failed")
	}
}

// handleMeshBody decodes a MESH_TEXT body's inner envelope and either
// acks it (if addressed directly to this node — the underlying
// transport is point-to-point, so a directed message is never
// "overheard", only ever unicast straight to its addressee) or forwards
// it onward through the Dispatcher, advancing hop count and TTL. The
// envelope, not the wire Body, is the source of truth for MessageID and
// VisitedNodes: both must survive byte-for-byte hop to hop, which a
// per-hop Body header has no room to carry.
func (n *Node) handleMeshBody(ctx context.Context, peerID string, plaintext []byte) {
	body, err := transport.DecodeBody(plaintext)
	if err != nil {
		n.log.Debug("malformed mesh body", "peer", peerID, "err", err)
		return
	}

	msg, err := mesh.DecodeEnvelope(body.Payload)
	if err != nil {
		n.log.Debug("malformed mesh envelope", "peer", peerID, "err", err)
		return
	}
	msg.Type = transport.MeshText
	msg.TTL = int(body.TTL)
	msg.HopCount = int(body.HopCount)
	if body.Priority <= transport.PriorityCritical {
		msg.Priority = mesh.Priority(body.Priority)
	}

	n.events.MessageDelivered(ctx, peerID)

	if msg.ReceiverID != "" {
		n.sendMeshAck(ctx, peerID, msg.MessageID)
		return
	}

	if msg.TTL <= 0 {
		return
	}
	n.mesh.Enqueue(msg.WithHop(n.selfID))
}

// sendMeshAck replies to peerID with the hop-by-hop MESH_ACK for
// messageID, completing the directed-dispatch state machine's
// Dispatched -> Acked transition on the sender's side.
func (n *Node) sendMeshAck(ctx context.Context, peerID, messageID string) {
	frame, err := n.sealFrame(peerID, transport.MeshAck, []byte(messageID))
	if err != nil {
		n.log.Debug("seal mesh ack", "peer", peerID, "err", err)
		return
	}
	if err := n.link.Send(ctx, peerID, frame); err != nil {
		n.events.RouteFailure(ctx, peerID, "mesh ack send failed")
	}
}
