// Package reputation implements the Behavior Event Bus (C10): a typed
// pub/sub of routing and delivery outcomes, consumed by an external
// ReputationSource collaborator that turns events into the [0,1] score
// the Mesh Dispatcher (C7) uses for neighbor selection and the Ledger
// Engine (C3) may use for optional admission filtering.
package reputation

import (
	"context"
	"sync"
)

// EventType is the closed set of behavior signals the core emits.
type EventType string

const (
	EventMessageDelivered  EventType = "message_delivered"
	EventMessageFailed     EventType = "message_failed"
	EventRouteSuccess      EventType = "route_success"
	EventRouteFailure      EventType = "route_failure"
	EventSuspiciousBehavior EventType = "suspicious_behavior"
	EventMaliciousActivity EventType = "malicious_activity"
)

// Event is one observation about a peer's behavior.
type Event struct {
	Type   EventType
	PeerID string
	Detail string
}

// Source is the external reputation collaborator: it consumes events
// from the Bus and answers score queries. The core never computes
// scores itself — it only reports what happened and asks what a peer's
// score currently is.
type Source interface {
	GetScore(peerID string) float64
}

// Bus fans out behavior events to any number of subscribers (typically
// exactly one Source implementation, plus test observers) without
// blocking the emitting goroutine.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan Event
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a channel receiving every event published after this
// call, buffered so a slow subscriber cannot block publishers; events
// are dropped (not blocked on) if a subscriber's buffer is full.
func (b *Bus) Subscribe(bufferSize int) <-chan Event {
	ch := make(chan Event, bufferSize)
	b.mu.Lock()
	b.subscribers = append(b.subscribers, ch)
	b.mu.Unlock()
	return ch
}

// Publish emits ev to every subscriber.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			// Subscriber buffer full: drop rather than block the
			// publishing goroutine (a Validator or Dispatcher task).
		}
	}
}

// MessageDelivered records a successful hop-by-hop or end delivery.
func (b *Bus) MessageDelivered(ctx context.Context, peerID string) {
	b.Publish(ctx, Event{Type: EventMessageDelivered, PeerID: peerID})
}

// MessageFailed records a delivery that exhausted its retries.
func (b *Bus) MessageFailed(ctx context.Context, peerID, detail string) {
	b.Publish(ctx, Event{Type: EventMessageFailed, PeerID: peerID, Detail: detail})
}

// RouteSuccess records a peer successfully forwarding a message onward.
func (b *Bus) RouteSuccess(ctx context.Context, peerID string) {
	b.Publish(ctx, Event{Type: EventRouteSuccess, PeerID: peerID})
}

// RouteFailure records a peer failing to forward a message onward.
func (b *Bus) RouteFailure(ctx context.Context, peerID, detail string) {
	b.Publish(ctx, Event{Type: EventRouteFailure, PeerID: peerID, Detail: detail})
}

// SuspiciousBehavior records a non-fatal anomaly (e.g. repeated stale
// sequence numbers) worth down-weighting but not yet an outright ban.
func (b *Bus) SuspiciousBehavior(ctx context.Context, peerID, detail string) {
	b.Publish(ctx, Event{Type: EventSuspiciousBehavior, PeerID: peerID, Detail: detail})
}

// MaliciousActivity records a confirmed violation (e.g. a forged
// signature or double-spend attempt), the strongest negative signal.
func (b *Bus) MaliciousActivity(ctx context.Context, peerID, detail string) {
	b.Publish(ctx, Event{Type: EventMaliciousActivity, PeerID: peerID, Detail: detail})
}

// DefaultSource is a minimal in-process Source: it folds received events
// into a per-peer score using fixed weights, clamped to [0,1]. It exists
// so the core runs usefully without an external reputation service
// wired in; a production deployment is expected to supply its own Source
// (e.g. backed by a longer-horizon model) instead.
type DefaultSource struct {
	mu     sync.Mutex
	scores map[string]float64
}

// NewDefaultSource creates a DefaultSource and subscribes it to bus.
func NewDefaultSource(bus *Bus) *DefaultSource {
	s := &DefaultSource{scores: make(map[string]float64)}
	ch := bus.Subscribe(256)
	go s.consume(ch)
	return s
}

func (s *DefaultSource) consume(ch <-chan Event) {
	for ev := range ch {
		s.apply(ev)
	}
}

func (s *DefaultSource) apply(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	score, ok := s.scores[ev.PeerID]
	if !ok {
		score = 0.5
	}

	switch ev.Type {
	case EventMessageDelivered, EventRouteSuccess:
		score += 0.05
	case EventMessageFailed, EventRouteFailure:
		score -= 0.05
	case EventSuspiciousBehavior:
		score -= 0.15
	case EventMaliciousActivity:
		score = 0
	}

	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	s.scores[ev.PeerID] = score
}

// GetScore returns peerID's current score, defaulting to 0.5 (neutral)
// for a peer with no recorded history.
func (s *DefaultSource) GetScore(peerID string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if score, ok := s.scores[peerID]; ok {
		return score
	}
	return 0.5
}
