// Package transport defines the wire frame format and the TransportLink
// interface that radio-specific adapters (BLE, Wi-Fi Direct, LoRa) must
// satisfy. Nothing in this package or its callers assumes an internet
// path exists: every send is peer-addressed and link-local.
package transport

import (
	"encoding/binary"
	"fmt"
)

// MessageType is the closed set of frame payload kinds.
type MessageType byte

const (
	HandshakeInit MessageType = 0x01
	HandshakeResp MessageType = 0x02
	LedgerEntry   MessageType = 0x10
	SyncRequest   MessageType = 0x11
	SyncResponse  MessageType = 0x12
	MeshText      MessageType = 0x20
	MeshAck       MessageType = 0x21
	MeshDecoy     MessageType = 0x2F
)

func (t MessageType) String() string {
	switch t {
	case HandshakeInit:
		return "HANDSHAKE_INIT"
	case HandshakeResp:
		return "HANDSHAKE_RESP"
	case LedgerEntry:
		return "LEDGER_ENTRY"
	case SyncRequest:
		return "SYNC_REQUEST"
	case SyncResponse:
		return "SYNC_RESPONSE"
	case MeshText:
		return "MESH_TEXT"
	case MeshAck:
		return "MESH_ACK"
	case MeshDecoy:
		return "MESH_DECOY"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", byte(t))
	}
}

// FrameVersion is the only wire version this build emits or accepts.
const FrameVersion byte = 1

const (
	nonceSize = 12
	tagSize   = 16
	headerLen = 1 + 1 + nonceSize + tagSize
)

// Frame is the outermost wire envelope: version/type are authenticated
// but unencrypted; nonce and tag belong to the AEAD seal over ciphertext.
type Frame struct {
	Version    byte
	Type       MessageType
	Nonce      [nonceSize]byte
	Tag        [tagSize]byte
	Ciphertext []byte
}

// AAD returns the additional authenticated data bound to this frame:
// version | type | sender_peer_id, per the wire contract.
func AAD(version byte, typ MessageType, senderPeerID [32]byte) []byte {
	aad := make([]byte, 0, 2+32)
	aad = append(aad, version, byte(typ))
	aad = append(aad, senderPeerID[:]...)
	return aad
}

// Encode serializes a Frame to its wire bytes.
func (f *Frame) Encode() []byte {
	out := make([]byte, headerLen+len(f.Ciphertext))
	out[0] = f.Version
	out[1] = byte(f.Type)
	copy(out[2:2+nonceSize], f.Nonce[:])
	copy(out[2+nonceSize:headerLen], f.Tag[:])
	copy(out[headerLen:], f.Ciphertext)
	return out
}

// DecodeFrame parses wire bytes into a Frame.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < headerLen {
		return nil, fmt.Errorf("transport: frame too short: %d bytes", len(data))
	}
	f := &Frame{
		Version: data[0],
		Type:    MessageType(data[1]),
	}
	copy(f.Nonce[:], data[2:2+nonceSize])
	copy(f.Tag[:], data[2+nonceSize:headerLen])
	f.Ciphertext = append([]byte(nil), data[headerLen:]...)
	return f, nil
}

// Priority is the dispatcher's strict ordering class, carried in the
// decrypted body header.
type Priority uint16

const (
	PriorityBulk     Priority = 0
	PriorityNormal   Priority = 1
	PriorityRealTime Priority = 2
	PriorityCritical Priority = 3
)

// Body is the decrypted frame payload: priority, TTL, hop count, and the
// application payload.
type Body struct {
	Priority  Priority
	TTL       uint16
	HopCount  uint16
	Payload   []byte
}

const bodyHeaderLen = 2 + 2 + 2 + 4

// EncodeBody packs a Body into its decrypted-form byte layout.
func EncodeBody(b *Body) []byte {
	out := make([]byte, bodyHeaderLen+len(b.Payload))
	binary.LittleEndian.PutUint16(out[0:2], uint16(b.Priority))
	binary.LittleEndian.PutUint16(out[2:4], b.TTL)
	binary.LittleEndian.PutUint16(out[4:6], b.HopCount)
	binary.LittleEndian.PutUint32(out[6:10], uint32(len(b.Payload)))
	copy(out[10:], b.Payload)
	return out
}

// DecodeBody unpacks a decrypted frame body.
func DecodeBody(data []byte) (*Body, error) {
	if len(data) < bodyHeaderLen {
		return nil, fmt.Errorf("transport: body too short: %d bytes", len(data))
	}
	b := &Body{
		Priority: Priority(binary.LittleEndian.Uint16(data[0:2])),
		TTL:      binary.LittleEndian.Uint16(data[2:4]),
		HopCount: binary.LittleEndian.Uint16(data[4:6]),
	}
	payloadLen := binary.LittleEndian.Uint32(data[6:10])
	if uint32(len(data)-bodyHeaderLen) < payloadLen {
		return nil, fmt.Errorf("transport: body payload truncated")
	}
	b.Payload = append([]byte(nil), data[bodyHeaderLen:bodyHeaderLen+int(payloadLen)]...)
	return b, nil
}
