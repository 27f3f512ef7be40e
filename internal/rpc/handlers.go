package rpc

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meshledger/core/internal/ledger"
	"github.com/meshledger/core/internal/mesh"
	"github.com/meshledger/core/internal/storage"
	"github.com/meshledger/core/internal/transport"
	"github.com/meshledger/core/pkg/helpers"
)

// statusResponse is the node_status payload.
type statusResponse struct {
	SelfID    string `json:"self_id"`
	PeerCount int    `json:"peer_count"`
	Uptime    string `json:"uptime"`
}

var startedAt = time.Now()

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	peers, err := s.node.Peers().List(0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		SelfID:    s.node.SelfID(),
		PeerCount: len(peers),
		Uptime:    time.Since(startedAt).Round(time.Second).String(),
	})
}

// submitEntryRequest is the body of POST /v1/entries: a local
// origination signed with this node's own identity. Amount may be given
// either as raw smallest-unit integer (Amount) or as a decimal string in
// whole coin units (AmountDecimal, e.g. "1.5"); AmountDecimal wins if set.
type submitEntryRequest struct {
	ReceiverID    string `json:"receiver_id"`
	Amount        int64  `json:"amount"`
	AmountDecimal string `json:"amount_decimal,omitempty"`
	Fee           int64  `json:"fee"`
	InputUTXOHash string `json:"input_utxo_hash"`
	TransactionID string `json:"transaction_id"`
	CoinTypeID    string `json:"coin_type_id"`
}

// entryResponse wraps a submitted entry with a human-readable amount
// alongside its raw smallest-unit form.
type entryResponse struct {
	*ledger.Entry
	AmountDecimal string `json:"amount_decimal"`
}

func (s *Server) handleSubmitEntry(w http.ResponseWriter, r *http.Request) {
	var req submitEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	amount := req.Amount
	if req.AmountDecimal != "" {
		parsed, err := helpers.ParseLedgerAmount(req.AmountDecimal)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed amount_decimal: "+err.Error())
			return
		}
		amount = parsed
	}

	identity := s.node.Identity()
	entry, err := s.node.Ledger().BuildAndSubmit(r.Context(), &ledger.BuildAndSubmitRequest{
		SenderPriv:    identity.Private,
		SenderID:      s.node.SelfID(),
		ReceiverID:    req.ReceiverID,
		Amount:        amount,
		Fee:           req.Fee,
		InputUTXOHash: req.InputUTXOHash,
		TransactionID: req.TransactionID,
		CoinTypeID:    req.CoinTypeID,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, entryResponse{Entry: entry, AmountDecimal: helpers.FormatLedgerAmount(entry.Amount)})
}

func (s *Server) handleGetUTXO(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	var utxo *storage.UTXO
	err := s.node.Store().WithTxn(r.Context(), func(tx *storage.Txn) error {
		u, err := s.node.Store().GetUTXO(tx, hash)
		utxo = u
		return err
	})
	if err != nil {
		writeError(w, http.StatusNotFound, "utxo not found")
		return
	}
	writeJSON(w, http.StatusOK, utxo)
}

func (s *Server) handleListPeers(w http.ResponseWriter, r *http.Request) {
	peers, err := s.node.Peers().List(0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, peers)
}

type upsertPeerRequest struct {
	PeerID  string `json:"peer_id"`
	Address string `json:"address"`
	Port    int    `json:"port"`
}

func (s *Server) handleUpsertPeer(w http.ResponseWriter, r *http.Request) {
	var req upsertPeerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.node.Peers().Upsert(req.PeerID, req.Address, req.Port); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type meshSendRequest struct {
	MessageID  string `json:"message_id"`
	ReceiverID string `json:"receiver_id"`
	Payload    []byte `json:"payload"`
	TTL        int    `json:"ttl"`
	Priority   string `json:"priority"`
}

func (s *Server) handleMeshSend(w http.ResponseWriter, r *http.Request) {
	var req meshSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.MessageID == "" || req.TTL <= 0 {
		writeError(w, http.StatusBadRequest, "message_id and ttl are required")
		return
	}

	msg := &mesh.Message{
		MessageID:  req.MessageID,
		SenderID:   s.node.SelfID(),
		ReceiverID: req.ReceiverID,
		Type:       transport.MeshText,
		Payload:    req.Payload,
		TTL:        req.TTL,
		Priority:   parsePriority(req.Priority),
	}
	if !s.node.Mesh().Enqueue(msg) {
		writeError(w, http.StatusConflict, "message suppressed or queue full")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message_id": msg.MessageID})
}

func (s *Server) handleMeshState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, ok := s.node.Mesh().State(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown message id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message_id": id, "state": string(state)})
}

func parsePriority(s string) mesh.Priority {
	switch s {
	case "critical":
		return mesh.PriorityCritical
	case "realtime":
		return mesh.PriorityRealTime
	case "bulk":
		return mesh.PriorityBulk
	default:
		return mesh.PriorityNormal
	}
}
