// Package node is the composition root: it wires the Ledger Engine (C3),
// Mempool (C4), Delta Sync (C5), Session Layer (C6), Mesh Dispatcher
// (C7), Traffic Obfuscator (C8), Peer Table (C9), and Behavior Event Bus
// (C10) into one running node, reaching the outside world only through
// the transport.TransportLink interface a radio adapter supplies.
package node

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meshledger/core/internal/config"
	"github.com/meshledger/core/internal/crypto"
	"github.com/meshledger/core/internal/ledger"
	"github.com/meshledger/core/internal/mempool"
	"github.com/meshledger/core/internal/mesh"
	"github.com/meshledger/core/internal/obfuscate"
	"github.com/meshledger/core/internal/peerstore"
	"github.com/meshledger/core/internal/reputation"
	"github.com/meshledger/core/internal/session"
	"github.com/meshledger/core/internal/storage"
	syncengine "github.com/meshledger/core/internal/sync"
	"github.com/meshledger/core/internal/transport"
	"github.com/meshledger/core/pkg/logging"
)

// Node bundles every core component around one identity and one
// TransportLink.
type Node struct {
	cfg      *config.Config
	log      *logging.Logger
	identity *crypto.Identity
	selfID   string

	store    *storage.Store
	lamport  *ledger.Lamport
	mempool  *mempool.Mempool
	ledger   *ledger.Engine
	sessions *session.Manager
	sync     *syncengine.Engine
	mesh     *mesh.Dispatcher
	peers    *peerstore.PeerTable
	events   *reputation.Bus
	rep      *reputation.DefaultSource
	obfs     *obfuscate.Obfuscator

	link transport.TransportLink

	pendingMu sync.Mutex
	pending   map[string]chan *transport.Frame // keyed by peerID, one outstanding handshake/sync request at a time

	sendCount atomic.Int64 // real frames sent since the last decoy-loop tick, for DecoyInterval's observedRate

	ctx    context.Context
	cancel context.CancelFunc
}

// recordSend marks one real frame as sent, feeding the decoy loop's
// observed-traffic-rate estimate.
func (n *Node) recordSend() {
	n.sendCount.Add(1)
}

// New constructs a Node from cfg, bound to link for radio I/O. It does not
// start any background goroutines; call Run for that.
func New(ctx context.Context, cfg *config.Config, link transport.TransportLink) (*Node, error) {
	ctx, cancel := context.WithCancel(ctx)
	log := logging.GetDefault().Component("node")

	keyPath := filepath.Join(cfg.Storage.DataDir, cfg.Identity.KeyFile)
	identity, err := crypto.LoadOrCreateIdentity(keyPath)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("load identity: %w", err)
	}
	selfID := crypto.PeerID(identity.Public)

	store, err := storage.New(&storage.Config{DataDir: cfg.Storage.DataDir})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open store: %w", err)
	}

	n := &Node{
		cfg:      cfg,
		log:      log,
		identity: identity,
		selfID:   selfID,
		store:    store,
		lamport:  ledger.NewLamport(selfID),
		sessions: session.NewManager(session.Config{
			TimeRotation:   cfg.SessionTimeRotation,
			VolumeRotation: cfg.SessionVolumeRotation,
			Suite:          crypto.AEADChaCha20Poly1305,
		}),
		peers: peerstore.New(store, peerstore.Config{QuarantineThreshold: cfg.Network.QuarantineThreshold}),
		events: reputation.NewBus(),
		obfs: obfuscate.New(obfuscate.Config{
			PaddingBuckets: cfg.Obfuscator.PaddingBuckets,
			MaxJitterMS:    cfg.Obfuscator.MaxJitterMS,
			DecoyRate:      cfg.Obfuscator.DecoyRate,
			DecoyThreshold: cfg.Obfuscator.DecoyThreshold,
		}),
		link:    link,
		pending: make(map[string]chan *transport.Frame),
		ctx:     ctx,
		cancel:  cancel,
	}
	n.rep = reputation.NewDefaultSource(n.events)
	n.mempool = mempool.New(store)
	n.ledger = ledger.New(store, n.mempool, n.lamport, ledger.Config{
		MinFee:        cfg.MinFee,
		PowDifficulty: cfg.PowDifficulty,
	}, &gossiperAdapter{n: n})
	n.sync = syncengine.New(store, n.ledger, n.publicKeyLookup, &syncSenderAdapter{n: n}, syncengine.Config{
		Interval:           cfg.SyncInterval,
		ResponseMaxEntries: cfg.SyncResponseMaxEntries,
	})
	n.mesh = mesh.New(selfID, &linkAdapter{n: n}, &neighborAdapter{n: n}, n.rep, n.events, n.peers, mesh.Config{
		FairnessCap:     cfg.MeshPriorityFairnessCap,
		MaxRetries:      8,
		DedupWindowSize: 4096,
		AckTimeout:      5 * time.Second,
	}, 256)

	return n, nil
}

// SelfID returns this node's peer identifier.
func (n *Node) SelfID() string { return n.selfID }

// Identity returns this node's long-term Ed25519 keypair, for signing
// locally originated entries (e.g. from the RPC surface or a CLI
// command).
func (n *Node) Identity() *crypto.Identity { return n.identity }

// Store exposes the Ledger Store for read-only queries (e.g. UTXO
// lookups from the RPC surface).
func (n *Node) Store() *storage.Store { return n.store }

// Ledger exposes the Ledger Engine for local submission (e.g. from the RPC
// surface or a CLI command).
func (n *Node) Ledger() *ledger.Engine { return n.ledger }

// Peers exposes the Peer Table.
func (n *Node) Peers() *peerstore.PeerTable { return n.peers }

// Mesh exposes the Mesh Dispatcher, for enqueueing locally originated
// mesh messages.
func (n *Node) Mesh() *mesh.Dispatcher { return n.mesh }

// Run starts every background goroutine (inbound frame loop, commit loop,
// mempool sweeper, dispatcher, sync loop, decoy loop) and blocks until
// ctx is done.
func (n *Node) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		n.inboundLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		n.commitLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		n.mempoolSweepLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		n.mesh.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		n.sync.Run(ctx, n.pickSyncPeer)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		n.decoyLoop(ctx)
	}()

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Close shuts down the node's own resources (the store and the
// TransportLink); it does not stop goroutines started by Run — cancel
// the context passed to Run for that.
func (n *Node) Close() error {
	n.cancel()
	if err := n.link.Close(); err != nil {
		n.log.Warn("close transport link", "err", err)
	}
	return n.store.Close()
}

func (n *Node) commitLoop(ctx context.Context) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			entry, err := n.ledger.CommitNext(ctx)
			if err != nil {
				n.log.Debug("commit attempt", "err", err)
				continue
			}
			if entry != nil {
				n.log.Info("committed entry", "entry_id", entry.EntryID, "sender", entry.SenderID)
			}
		}
	}
}

func (n *Node) mempoolSweepLoop(ctx context.Context) {
	interval := n.cfg.MempoolSweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted, err := n.mempool.SweepAged(ctx, n.cfg.MempoolMaxAge)
			if err != nil {
				n.log.Warn("mempool sweep", "err", err)
				continue
			}
			if len(evicted) > 0 {
				n.log.Debug("mempool sweep evicted entries", "count", len(evicted))
			}
		}
	}
}

// decoyLoop periodically emits a MESH_DECOY frame to a random neighbor
// whenever observed real-traffic volume is low enough that
// obfs.DecoyInterval says cover traffic is due; it is a silent no-op
// tick when decoys are disabled (DecoyRate == 0) or real traffic is
// already above the configured threshold.
func (n *Node) decoyLoop(ctx context.Context) {
	const tick = time.Second
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	var sinceLastDecoy time.Duration
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sent := n.sendCount.Swap(0)
			rate := float64(sent) / tick.Seconds()
			sinceLastDecoy += tick

			interval := n.obfs.DecoyInterval(rate)
			if interval <= 0 || sinceLastDecoy < interval {
				continue
			}
			sinceLastDecoy = 0
			n.sendDecoy(ctx)
		}
	}
}

func (n *Node) sendDecoy(ctx context.Context) {
	peerID, ok := n.pickSyncPeer()
	if !ok {
		return
	}
	frame, err := n.sealFrame(peerID, transport.MeshDecoy, nil)
	if err != nil {
		n.log.Debug("seal decoy frame", "peer", peerID, "err", err)
		return
	}
	if err := n.link.Send(ctx, peerID, frame); err != nil {
		n.log.Debug("send decoy frame", "peer", peerID, "err", err)
	}
}

func (n *Node) pickSyncPeer() (string, bool) {
	rec, err := n.peers.PickRandom()
	if err != nil {
		return "", false
	}
	return rec.PeerID, true
}

// publicKeyLookup resolves a sender_id to its Ed25519 public key. sender_id
// is itself the hex-encoded public key (crypto.PeerID's format), so this is
// a pure decode with no storage lookup required.
func (n *Node) publicKeyLookup(senderID string) (ed25519.PublicKey, bool) {
	raw, err := hex.DecodeString(senderID)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, false
	}
	return ed25519.PublicKey(raw), true
}
