package mesh

import "encoding/json"

// envelope is the end-to-end inner wire format mesh.Link.Send carries
// inside a transport.Body's Payload. The frame/body headers have no room
// for a message_id or the full visited-node path, so both travel here,
// encrypted along with the application payload, and survive untouched
// from hop to hop: a receiving node decodes exactly what the origin (or
// the previous forwarder) encoded, rather than re-deriving it from
// whatever arrived at the transport layer.
type envelope struct {
	MessageID    string   `json:"message_id"`
	SenderID     string   `json:"sender_id"`
	ReceiverID   string   `json:"receiver_id,omitempty"`
	VisitedNodes []string `json:"visited_nodes,omitempty"`
	Payload      []byte   `json:"payload"`
}

// EncodeEnvelope packs msg's stable routing metadata and application
// payload for the wire.
func EncodeEnvelope(msg *Message) ([]byte, error) {
	return json.Marshal(&envelope{
		MessageID:    msg.MessageID,
		SenderID:     msg.SenderID,
		ReceiverID:   msg.ReceiverID,
		VisitedNodes: msg.VisitedNodes,
		Payload:      msg.Payload,
	})
}

// DecodeEnvelope reverses EncodeEnvelope, reconstructing the routing
// fields a received mesh frame's Body.Payload carries. TTL, HopCount,
// Type and Priority are not part of the envelope — TTL/HopCount live in
// the wire Body header, and Type/Priority are known from the frame and
// queue the message arrived on.
func DecodeEnvelope(data []byte) (*Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &Message{
		MessageID:    env.MessageID,
		SenderID:     env.SenderID,
		ReceiverID:   env.ReceiverID,
		VisitedNodes: env.VisitedNodes,
		Payload:      env.Payload,
	}, nil
}
