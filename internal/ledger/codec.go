package ledger

import (
	"encoding/json"
	"time"

	"github.com/meshledger/core/internal/coreerr"
)

// wireEntry is the JSON-serializable form of Entry persisted as
// entry_blob and sent as a LEDGER_ENTRY payload.
type wireEntry struct {
	EntryID           string `json:"entry_id"`
	SenderID          string `json:"sender_id"`
	ReceiverID        string `json:"receiver_id"`
	SequenceNumber    int64  `json:"sequence_number"`
	PreviousEntryHash string `json:"previous_entry_hash,omitempty"`
	Amount            int64  `json:"amount"`
	Fee               int64  `json:"fee"`
	InputUTXOHash     string `json:"input_utxo_hash,omitempty"`
	TransactionID     string `json:"transaction_id"`
	CoinTypeID        string `json:"coin_type_id"`
	SeqNonce          string `json:"seq_nonce"`
	PowNonce          string `json:"pow_nonce"`
	LamportCounter    uint64 `json:"lamport_counter"`
	LamportNodeID     string `json:"lamport_node_id"`
	WallClockTime     int64  `json:"wall_clock_time"`
	SenderSignature   []byte `json:"sender_signature"`
	ReceiverSignature []byte `json:"receiver_signature,omitempty"`
	EntryHash         string `json:"entry_hash"`
	Status            string `json:"status"`
}

// Marshal serializes an Entry for storage or wire transmission.
func Marshal(e *Entry) ([]byte, error) {
	w := wireEntry{
		EntryID:           e.EntryID,
		SenderID:          e.SenderID,
		ReceiverID:        e.ReceiverID,
		SequenceNumber:    e.SequenceNumber,
		PreviousEntryHash: e.PreviousEntryHash,
		Amount:            e.Amount,
		Fee:               e.Fee,
		InputUTXOHash:     e.InputUTXOHash,
		TransactionID:     e.TransactionID,
		CoinTypeID:        e.CoinTypeID,
		SeqNonce:          e.SeqNonce,
		PowNonce:          e.PowNonce,
		LamportCounter:    e.LamportCounter,
		LamportNodeID:     e.LamportNodeID,
		WallClockTime:     e.WallClockTime.Unix(),
		SenderSignature:   e.SenderSignature,
		ReceiverSignature: e.ReceiverSignature,
		EntryHash:         e.EntryHash,
		Status:            string(e.Status),
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindInvalidEntry, "marshal entry", err)
	}
	return data, nil
}

// Unmarshal deserializes an Entry previously produced by Marshal.
func Unmarshal(data []byte) (*Entry, error) {
	var w wireEntry
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, coreerr.Wrap(coreerr.KindInvalidEntry, "unmarshal entry", err)
	}
	return &Entry{
		EntryID:           w.EntryID,
		SenderID:          w.SenderID,
		ReceiverID:        w.ReceiverID,
		SequenceNumber:    w.SequenceNumber,
		PreviousEntryHash: w.PreviousEntryHash,
		Amount:            w.Amount,
		Fee:               w.Fee,
		InputUTXOHash:     w.InputUTXOHash,
		TransactionID:     w.TransactionID,
		CoinTypeID:        w.CoinTypeID,
		SeqNonce:          w.SeqNonce,
		PowNonce:          w.PowNonce,
		LamportCounter:    w.LamportCounter,
		LamportNodeID:     w.LamportNodeID,
		WallClockTime:     time.Unix(w.WallClockTime, 0),
		SenderSignature:   w.SenderSignature,
		ReceiverSignature: w.ReceiverSignature,
		EntryHash:         w.EntryHash,
		Status:            Status(w.Status),
	}, nil
}
