package mesh

import (
	"context"
	"sync"
	"time"
)

// Link is the minimal send collaborator the dispatcher needs; an
// adapter in internal/node implements it over a real
// transport.TransportLink plus the session layer's AEAD framing.
type Link interface {
	Send(ctx context.Context, peerID string, msg *Message) error
}

// EventPublisher is the narrow Behavior Event Bus (C10) collaborator the
// dispatcher reports exhausted-retry routing failures to.
type EventPublisher interface {
	RouteFailure(ctx context.Context, peerID, detail string)
}

// FailureRecorder is the narrow Peer Table (C9) collaborator the
// dispatcher tells about a next-hop peer that never acknowledged (or
// never accepted) a directed message, after retries are exhausted.
type FailureRecorder interface {
	RecordFailure(peerID string) (bool, error)
}

// DefaultAckTimeout bounds how long a directed dispatch waits for the
// hop-by-hop MESH_ACK before treating the attempt as failed, when
// Config.AckTimeout is unset.
const DefaultAckTimeout = 5 * time.Second

// Config holds the Dispatcher's tunables.
type Config struct {
	// FairnessCap bounds how many consecutive messages the dispatcher
	// drains from one priority class before giving the next-lower
	// non-empty class a turn, so Bulk traffic is never starved outright
	// by a sustained stream of Critical/RealTime frames.
	FairnessCap int
	// MaxRetries is how many retries follow the first dispatch attempt
	// before a message is marked Failed (MaxRetries+1 attempts in all).
	MaxRetries int
	// DedupWindowSize bounds the loop-suppression dedup window.
	DedupWindowSize int
	// AckTimeout bounds how long a directed send waits for its
	// hop-by-hop MESH_ACK before retrying. Zero means DefaultAckTimeout.
	AckTimeout time.Duration
}

type queuedMessage struct {
	msg        *Message
	enqueuedAt time.Time
	retries    int
}

// record is the dispatcher's live view of one in-flight message.
type record struct {
	state State
	err   error
}

// Dispatcher drains four strict-priority FIFOs (Critical > RealTime >
// Normal > Bulk) with a weighted-fairness anti-starvation cap,
// reputation-weighted neighbor selection snapshotted once per selection
// cycle, TTL + visited_nodes loop suppression, a hop-by-hop MESH_ACK
// round trip for directed sends, and exponential-backoff retry on send
// or ack failure.
type Dispatcher struct {
	cfg        Config
	link       Link
	neighbors  NeighborLister
	reputation ReputationSource
	events     EventPublisher
	peers      FailureRecorder
	selfID     string

	queues map[Priority]chan *queuedMessage
	dedup  *DedupWindow

	mu      sync.Mutex
	records map[string]*record

	ackMu sync.Mutex
	acks  map[string]chan struct{}
}

// New creates a Dispatcher. queueDepth bounds each priority's FIFO.
// events and peers may be nil, in which case exhausted-retry reporting
// is skipped.
func New(selfID string, link Link, neighbors NeighborLister, reputation ReputationSource, events EventPublisher, peers FailureRecorder, cfg Config, queueDepth int) *Dispatcher {
	d := &Dispatcher{
		cfg:        cfg,
		link:       link,
		neighbors:  neighbors,
		reputation: reputation,
		events:     events,
		peers:      peers,
		selfID:     selfID,
		queues:     make(map[Priority]chan *queuedMessage, 4),
		dedup:      NewDedupWindow(cfg.DedupWindowSize),
		records:    make(map[string]*record),
		acks:       make(map[string]chan struct{}),
	}
	for _, p := range priorityOrder {
		d.queues[p] = make(chan *queuedMessage, queueDepth)
	}
	return d
}

// State returns the current dispatch state of a message, if known.
func (d *Dispatcher) State(messageID string) (State, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.records[messageID]
	if !ok {
		return "", false
	}
	return r.state, true
}

func (d *Dispatcher) setState(messageID string, s State, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records[messageID] = &record{state: s, err: err}
}

// Enqueue admits msg for dispatch, applying loop suppression first.
// Returns false if the message was suppressed (TTL exhausted, self
// already visited, or already seen within the dedup window) rather than
// queued.
func (d *Dispatcher) Enqueue(msg *Message) bool {
	if ShouldSuppress(msg, d.selfID) {
		return false
	}
	if d.dedup.Seen(msg.MessageID) {
		return false
	}

	d.setState(msg.MessageID, StateQueued, nil)
	select {
	case d.queues[msg.Priority] <- &queuedMessage{msg: msg, enqueuedAt: time.Now()}:
		return true
	default:
		// Queue full: drop the oldest-priority guarantee rather than
		// block the caller; the sender's own retry/backoff covers loss.
		d.setState(msg.MessageID, StateFailed, errQueueFull)
		return false
	}
}

// NotifyAck signals that messageID's hop-by-hop MESH_ACK arrived,
// waking up the in-flight dispatch waiting on it. A no-op if nothing is
// currently waiting (the ack arrived late, was duplicated, or never had
// a registered waiter to begin with).
func (d *Dispatcher) NotifyAck(messageID string) {
	d.ackMu.Lock()
	ch, ok := d.acks[messageID]
	d.ackMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) registerAckWait(messageID string) chan struct{} {
	ch := make(chan struct{}, 1)
	d.ackMu.Lock()
	d.acks[messageID] = ch
	d.ackMu.Unlock()
	return ch
}

func (d *Dispatcher) clearAckWait(messageID string) {
	d.ackMu.Lock()
	delete(d.acks, messageID)
	d.ackMu.Unlock()
}

var errQueueFull = &dispatchError{"priority queue full"}
var errAckTimeout = &dispatchError{"hop ack timeout"}

type dispatchError struct{ msg string }

func (e *dispatchError) Error() string { return e.msg }

// Run drains the priority queues until ctx is cancelled, dispatching one
// message at a time per the strict-priority-with-fairness-cap schedule.
func (d *Dispatcher) Run(ctx context.Context) {
	consecutive := make(map[Priority]int, 4)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		qm, ok := d.next(consecutive)
		if !ok {
			// Nothing queued anywhere; yield briefly rather than spin.
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}

		d.dispatch(ctx, qm)
	}
}

// next selects the next message to dispatch per the strict-priority
// order, honoring the fairness cap: once a priority class has been
// served FairnessCap times in a row, the next strictly-lower non-empty
// class is given one turn before returning to strict order.
func (d *Dispatcher) next(consecutive map[Priority]int) (*queuedMessage, bool) {
	for idx, p := range priorityOrder {
		if d.cfg.FairnessCap > 0 && consecutive[p] >= d.cfg.FairnessCap {
			for _, lower := range priorityOrder[idx+1:] {
				select {
				case qm := <-d.queues[lower]:
					consecutive[p] = 0
					consecutive[lower]++
					return qm, true
				default:
				}
			}
		}

		select {
		case qm := <-d.queues[p]:
			consecutive[p]++
			for _, other := range priorityOrder {
				if other != p {
					consecutive[other] = 0
				}
			}
			return qm, true
		default:
		}
	}
	return nil, false
}

// dispatch attempts delivery of one message to its target neighbor(s).
// A broadcast send (no ReceiverID) has no single next hop to wait on, so
// a successful link send carries it straight to StateDispatched, its
// terminal state. A directed send instead waits for the addressee's
// hop-by-hop MESH_ACK before advancing to StateAcked; a missing link
// send, or a missing ack within cfg.AckTimeout, both retry with
// exponential backoff up to cfg.MaxRetries.
func (d *Dispatcher) dispatch(ctx context.Context, qm *queuedMessage) {
	msg := qm.msg
	d.setState(msg.MessageID, StateDispatched, nil)

	targets := d.targetsFor(msg)
	directed := msg.ReceiverID != ""

	var ackCh chan struct{}
	if directed {
		ackCh = d.registerAckWait(msg.MessageID)
	}

	var lastErr error
	var failedPeers []string
	for _, peerID := range targets {
		if err := d.link.Send(ctx, peerID, msg); err != nil {
			lastErr = err
			failedPeers = append(failedPeers, peerID)
			continue
		}
	}

	if lastErr != nil || len(targets) == 0 {
		if directed {
			d.clearAckWait(msg.MessageID)
		}
		d.retryOrFail(ctx, qm, failedPeers, lastErr)
		return
	}

	if !directed {
		return
	}

	ackTimeout := d.cfg.AckTimeout
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}

	go func() {
		defer d.clearAckWait(msg.MessageID)
		select {
		case <-ctx.Done():
			return
		case <-ackCh:
			d.setState(msg.MessageID, StateAcked, nil)
		case <-time.After(ackTimeout):
			d.retryOrFail(ctx, qm, []string{msg.ReceiverID}, errAckTimeout)
		}
	}()
}

// retryOrFail requeues qm with exponential backoff, or marks it Failed
// and reports the exhausted-retries outcome once cfg.MaxRetries is
// exceeded: a route_failure event per peer that failed to accept the
// send, and (for a directed message) a failure_count increment on the
// addressee via FailureRecorder.
func (d *Dispatcher) retryOrFail(ctx context.Context, qm *queuedMessage, failedPeers []string, err error) {
	qm.retries++
	if qm.retries > d.cfg.MaxRetries {
		d.setState(qm.msg.MessageID, StateFailed, err)
		d.onExhausted(ctx, qm.msg, failedPeers, err)
		return
	}

	d.setState(qm.msg.MessageID, StateRetrying, err)
	delay := Backoff(qm.retries - 1)
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		select {
		case d.queues[qm.msg.Priority] <- qm:
		default:
			d.setState(qm.msg.MessageID, StateFailed, errQueueFull)
		}
	}()
}

func (d *Dispatcher) onExhausted(ctx context.Context, msg *Message, failedPeers []string, err error) {
	detail := "dispatch retries exhausted"
	if err != nil {
		detail = err.Error()
	}
	if d.events != nil {
		for _, peerID := range failedPeers {
			d.events.RouteFailure(ctx, peerID, detail)
		}
	}
	if d.peers != nil && msg.ReceiverID != "" {
		d.peers.RecordFailure(msg.ReceiverID)
	}
}

// targetsFor resolves the neighbor(s) a message should be sent to: the
// single receiver if addressed, otherwise every reputation-ranked
// neighbor except the last VisitedNodes entry. On a forwarded message
// that entry is this node itself (appended by withHop), so the neighbor
// the message arrived from is not excluded here.
func (d *Dispatcher) targetsFor(msg *Message) []string {
	if msg.ReceiverID != "" {
		return []string{msg.ReceiverID}
	}

	exclude := ""
	if len(msg.VisitedNodes) > 0 {
		exclude = msg.VisitedNodes[len(msg.VisitedNodes)-1]
	}
	return SelectNeighbors(d.neighbors, d.reputation, exclude)
}
