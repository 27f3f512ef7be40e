package ledger

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/meshledger/core/internal/coreerr"
	"github.com/meshledger/core/internal/crypto"
	"github.com/meshledger/core/internal/mempool"
	"github.com/meshledger/core/internal/storage"
)

// Gossiper is the Dispatcher-side collaborator the engine hands accepted
// entries to for mesh propagation. Kept as a small interface here (rather
// than importing internal/mesh) to avoid a storage<->mesh import cycle.
type Gossiper interface {
	Gossip(ctx context.Context, entryHash string, blob []byte, excludePeer string)
}

// Config holds the Ledger Engine's admission tunables.
type Config struct {
	MinFee        int64
	PowDifficulty crypto.PowDifficulty
}

// Engine is the Ledger Engine (C3): build-and-submit, receive-and-route,
// and the commit loop.
type Engine struct {
	store    *storage.Store
	mempool  *mempool.Mempool
	lamport  *Lamport
	cfg      Config
	gossiper Gossiper
}

// New creates a Ledger Engine over store, using mp as its Mempool and
// gossiper to re-broadcast accepted entries. gossiper may be nil if
// mesh propagation is wired separately by the caller.
func New(store *storage.Store, mp *mempool.Mempool, lamport *Lamport, cfg Config, gossiper Gossiper) *Engine {
	return &Engine{store: store, mempool: mp, lamport: lamport, cfg: cfg, gossiper: gossiper}
}

// BuildAndSubmitRequest carries the inputs for a local origination.
type BuildAndSubmitRequest struct {
	SenderPriv    ed25519.PrivateKey
	SenderID      string
	ReceiverID    string
	Amount        int64
	Fee           int64
	InputUTXOHash string
	TransactionID string
	CoinTypeID    string
}

// BuildAndSubmit originates a new entry locally: validates, advances the
// sender's watermark, mines PoW, spends the input UTXO, signs, commits
// the watermark/UTXO mutation, inserts into the mempool, and hands the
// entry to the Dispatcher for gossip. All store mutations happen inside
// one transaction.
func (e *Engine) BuildAndSubmit(ctx context.Context, req *BuildAndSubmitRequest) (*Entry, error) {
	if req.Amount <= 0 {
		return nil, coreerr.New(coreerr.KindInvalidEntry, "amount must be positive")
	}
	if req.Fee < e.cfg.MinFee {
		return nil, coreerr.New(coreerr.KindInvalidEntry, "fee below minimum")
	}

	entry := &Entry{
		EntryID:        NewEntryID(),
		SenderID:       req.SenderID,
		ReceiverID:     req.ReceiverID,
		Amount:         req.Amount,
		Fee:            req.Fee,
		InputUTXOHash:  req.InputUTXOHash,
		TransactionID:  req.TransactionID,
		CoinTypeID:     req.CoinTypeID,
		LamportNodeID:  e.lamport.NodeID(),
		LamportCounter: e.lamport.Tick(),
		WallClockTime:  time.Now(),
		Status:         StatusPending,
	}

	err := e.store.WithTxn(ctx, func(tx *storage.Txn) error {
		if req.InputUTXOHash != "" {
			exists, err := e.store.ExistsUTXO(tx, req.InputUTXOHash)
			if err != nil {
				return err
			}
			if !exists {
				return coreerr.New(coreerr.KindInvalidEntry, "input utxo not present")
			}
		}

		prev, err := e.store.GetWatermark(tx, req.SenderID)
		if err != nil {
			return err
		}
		entry.SequenceNumber = prev.LastSequenceNumber + 1
		entry.PreviousEntryHash = prev.LastEntryHash

		nonce, err := crypto.MinePow(entry.PowPreimage(), e.cfg.PowDifficulty)
		if err != nil {
			return coreerr.Wrap(coreerr.KindInvalidEntry, "mine proof of work", err)
		}
		entry.PowNonce = nonce

		if req.InputUTXOHash != "" {
			if err := e.store.SpendUTXO(tx, req.InputUTXOHash); err != nil {
				return err
			}
		}

		entry.Sign(req.SenderPriv)
		entry.Status = StatusAccepted

		if err := e.store.UpsertWatermark(tx, &storage.Watermark{
			PeerID:             req.SenderID,
			LastSequenceNumber: entry.SequenceNumber,
			LastEntryHash:      entry.EntryHash,
		}); err != nil {
			return err
		}

		if err := e.store.InsertUTXO(tx, &storage.UTXO{
			Hash:      entry.EntryHash,
			Amount:    entry.Amount,
			OwnerID:   entry.ReceiverID,
			CreatedAt: entry.WallClockTime,
		}); err != nil {
			return err
		}

		blob, err := Marshal(entry)
		if err != nil {
			return err
		}
		return e.store.InsertMempoolEntry(tx, &storage.MempoolRow{
			EntryHash:     entry.EntryHash,
			EntryBlob:     blob,
			InputUTXOHash: entry.InputUTXOHash,
			ReceivedAt:    entry.WallClockTime,
			Fee:           entry.Fee,
		})
	})
	if err != nil {
		return nil, err
	}

	if e.gossiper != nil {
		blob, _ := Marshal(entry)
		e.gossiper.Gossip(ctx, entry.EntryHash, blob, "")
	}

	return entry, nil
}

// ReceiveAndRoute validates an entry arriving from peer fromPeer through an
// ordered, cheapest-first sequence of checks, admits it to the mempool on
// success, and re-gossips to other neighbors. senderPub is the sender's
// Ed25519 public key (looked up by the caller from the peer's declared
// identity).
func (e *Engine) ReceiveAndRoute(ctx context.Context, entry *Entry, senderPub ed25519.PublicKey, fromPeer string) error {
	// 1. Shape.
	if entry.Amount <= 0 || entry.SequenceNumber <= 0 || entry.SenderID == "" || entry.ReceiverID == "" {
		return coreerr.New(coreerr.KindInvalidEntry, "malformed entry shape")
	}

	// 2. Sender signature — before PoW, so a forged signature never
	// earns a PoW check.
	if !entry.VerifySenderSignature(senderPub) {
		return coreerr.New(coreerr.KindInvalidEntry, "invalid sender signature")
	}

	var watermark *storage.Watermark
	err := e.store.WithTxn(ctx, func(tx *storage.Txn) error {
		w, err := e.store.GetWatermark(tx, entry.SenderID)
		if err != nil {
			return err
		}
		watermark = w
		return nil
	})
	if err != nil {
		return err
	}

	// 3. Anti-replay: strictly greater than watermark, before PoW.
	if entry.SequenceNumber <= watermark.LastSequenceNumber {
		return coreerr.New(coreerr.KindInvalidEntry, "sequence number not greater than watermark")
	}

	// 4. Proof-of-work.
	if !crypto.VerifyPow(entry.PowPreimage(), entry.PowNonce, e.cfg.PowDifficulty) {
		return coreerr.New(coreerr.KindInvalidEntry, "proof of work does not meet difficulty")
	}

	var blob []byte
	err = e.store.WithTxn(ctx, func(tx *storage.Txn) error {
		// 5. UTXO existence.
		if entry.InputUTXOHash != "" {
			exists, err := e.store.ExistsUTXO(tx, entry.InputUTXOHash)
			if err != nil {
				return err
			}
			if !exists {
				return coreerr.New(coreerr.KindInvalidEntry, "input utxo not present")
			}
		}

		// 6. Hash integrity.
		if !entry.VerifyHashIntegrity() {
			return coreerr.New(coreerr.KindInvalidEntry, "entry hash does not match canonical preimage")
		}

		// 7. Fee minimum (a receiver signature, if present, is optional
		// and non-gating — the receiver only countersigns for its own
		// bookkeeping, it is not part of entry validity).
		if entry.Fee < e.cfg.MinFee {
			return coreerr.New(coreerr.KindInvalidEntry, "fee below minimum")
		}

		// 8. Sequence continuity: strict successor, no gaps.
		if entry.SequenceNumber != watermark.LastSequenceNumber+1 {
			return coreerr.New(coreerr.KindInvalidEntry, "sequence gap: sync engine must fetch missing entries")
		}

		var err error
		blob, err = Marshal(entry)
		return err
	})
	if err != nil {
		return err
	}

	// Admission's fee-conflict rule lives in the Mempool itself, as its
	// own transaction: it cannot run nested inside the validation
	// transaction above, since both would contend for the same store
	// lock.
	if err := e.mempool.Admit(ctx, &mempool.Candidate{
		EntryHash:     entry.EntryHash,
		Blob:          blob,
		InputUTXOHash: entry.InputUTXOHash,
		Fee:           entry.Fee,
		ReceivedAt:    time.Now(),
	}); err != nil {
		return err
	}

	if e.gossiper != nil {
		e.gossiper.Gossip(ctx, entry.EntryHash, blob, fromPeer)
	}
	return nil
}

// CommitNext pulls the single highest-priority mempool entry and commits
// it: re-verifies the input UTXO is still present (it may have been spent
// by a committed peer entry since admission), then spends it, advances
// the watermark, creates the output UTXO, appends to the ledger log, and
// removes the mempool entry. Returns coreerr.ErrNotFound if the mempool
// is empty.
func (e *Engine) CommitNext(ctx context.Context) (*Entry, error) {
	top, err := e.mempool.HighestPriorityEntry(ctx)
	if err != nil {
		return nil, err
	}

	entry, err := Unmarshal(top.EntryBlob)
	if err != nil {
		return nil, err
	}

	err = e.store.WithTxn(ctx, func(tx *storage.Txn) error {
		if entry.InputUTXOHash != "" {
			exists, err := e.store.ExistsUTXO(tx, entry.InputUTXOHash)
			if err != nil {
				return err
			}
			if !exists {
				// Lost the race to a committed peer entry: drop silently.
				return e.store.RemoveMempoolEntry(tx, entry.EntryHash)
			}
			if err := e.store.SpendUTXO(tx, entry.InputUTXOHash); err != nil {
				return err
			}
		}

		if err := e.store.UpsertWatermark(tx, &storage.Watermark{
			PeerID:             entry.SenderID,
			LastSequenceNumber: entry.SequenceNumber,
			LastEntryHash:      entry.EntryHash,
		}); err != nil {
			return err
		}

		if err := e.store.InsertUTXO(tx, &storage.UTXO{
			Hash:      entry.EntryHash,
			Amount:    entry.Amount,
			OwnerID:   entry.ReceiverID,
			CreatedAt: time.Now(),
		}); err != nil {
			return err
		}

		if err := e.store.AppendLedgerEntry(tx, &storage.LedgerRow{
			EntryHash:   entry.EntryHash,
			EntryBlob:   top.EntryBlob,
			PrevHash:    entry.PreviousEntryHash,
			Signature:   entry.SenderSignature,
			EmitterID:   entry.SenderID,
			CommittedAt: time.Now(),
		}); err != nil {
			return err
		}

		return e.store.RemoveMempoolEntry(tx, entry.EntryHash)
	})
	if err != nil {
		return nil, err
	}

	return entry, nil
}
