package mesh

import (
	"context"
	"testing"
	"time"

	"github.com/meshledger/core/internal/transport"
)

// TestPrioritizedDispatchOrder queues Bulk, then RealTime, then Critical;
// transmit order must be Critical, RealTime, Bulk.
func TestPrioritizedDispatchOrder(t *testing.T) {
	d := New("self", nil, nil, nil, nil, nil, Config{FairnessCap: 0}, 8)

	d.Enqueue(&Message{MessageID: "bulk-1", TTL: 3, Priority: PriorityBulk, ReceiverID: "x"})
	d.Enqueue(&Message{MessageID: "rt-1", TTL: 3, Priority: PriorityRealTime, ReceiverID: "x"})
	d.Enqueue(&Message{MessageID: "crit-1", TTL: 3, Priority: PriorityCritical, ReceiverID: "x"})

	consecutive := make(map[Priority]int, 4)
	var order []string
	for i := 0; i < 3; i++ {
		qm, ok := d.next(consecutive)
		if !ok {
			t.Fatalf("expected a message at step %d", i)
		}
		order = append(order, qm.msg.MessageID)
	}

	want := []string{"crit-1", "rt-1", "bulk-1"}
	for i, id := range want {
		if order[i] != id {
			t.Fatalf("dispatch order = %v, want %v", order, want)
		}
	}
}

// TestFairnessCapPreventsStarvation: once the top class has been served
// FairnessCap times in a row, a waiting lower-priority message gets a turn.
func TestFairnessCapPreventsStarvation(t *testing.T) {
	d := New("self", nil, nil, nil, nil, nil, Config{FairnessCap: 2}, 8)

	for i := 0; i < 3; i++ {
		d.Enqueue(&Message{MessageID: "crit-" + string(rune('a'+i)), TTL: 3, Priority: PriorityCritical, ReceiverID: "x"})
	}
	d.Enqueue(&Message{MessageID: "bulk-1", TTL: 3, Priority: PriorityBulk, ReceiverID: "x"})

	consecutive := make(map[Priority]int, 4)
	var order []string
	for i := 0; i < 4; i++ {
		qm, ok := d.next(consecutive)
		if !ok {
			t.Fatalf("expected a message at step %d", i)
		}
		order = append(order, qm.msg.MessageID)
	}

	// Critical served twice, then Bulk gets a forced turn before the
	// third queued Critical message.
	if order[0] != "crit-a" || order[1] != "crit-b" {
		t.Fatalf("expected first two dispatches to be critical, got %v", order[:2])
	}
	if order[2] != "bulk-1" {
		t.Fatalf("expected fairness cap to surface bulk-1 third, got %v", order)
	}
}

// TestTTLAndLoopSuppression checks that a broadcast TTL=3 from A through
// A->B->C->A is suppressed at A on second arrival (A already in
// visited_nodes), and TTL=3 through A->B->C->D->E is dropped at D (TTL
// exhausted after 3 hops).
func TestTTLAndLoopSuppression(t *testing.T) {
	loop := &Message{MessageID: "m1", TTL: 3, VisitedNodes: []string{"A", "B", "C"}}
	if !ShouldSuppress(loop, "A") {
		t.Fatal("expected second arrival at A to be suppressed (A already visited)")
	}

	chain := &Message{MessageID: "m2", TTL: 3}
	hop1 := chain.withHop("A")
	hop2 := hop1.withHop("B")
	if ShouldSuppress(hop2, "C") {
		t.Fatal("should not suppress before TTL is exhausted")
	}
	hop3 := hop2.withHop("C")
	if !ShouldSuppress(hop3, "D") {
		t.Fatal("expected TTL-exhausted frame to be dropped at D")
	}
}

func TestDedupWindowSuppressesRepeat(t *testing.T) {
	w := NewDedupWindow(2)
	if w.Seen("a") {
		t.Fatal("first sighting of a should not be marked seen")
	}
	if !w.Seen("a") {
		t.Fatal("second sighting of a should be suppressed")
	}
	w.Seen("b")
	w.Seen("c") // evicts "a" per capacity 2
	if w.Seen("a") {
		t.Fatal("a should have been evicted and counted as unseen again")
	}
}

func TestBackoffSchedule(t *testing.T) {
	cases := []struct {
		retry int
		want  time.Duration
	}{
		{0, 10 * time.Second},
		{1, 20 * time.Second},
		{2, 40 * time.Second},
		{6, 10 * time.Minute},
		{20, 10 * time.Minute},
	}
	for _, c := range cases {
		if got := Backoff(c.retry); got != c.want {
			t.Fatalf("Backoff(%d) = %v, want %v", c.retry, got, c.want)
		}
	}
}

type fakeNeighbors struct{ ids []string }

func (f *fakeNeighbors) ListNeighbors() []string { return f.ids }

type fakeReputation struct{ scores map[string]float64 }

func (f *fakeReputation) GetScore(peerID string) float64 { return f.scores[peerID] }

func TestSelectNeighborsOrdersByReputationDescending(t *testing.T) {
	neighbors := &fakeNeighbors{ids: []string{"low", "high", "mid"}}
	reputation := &fakeReputation{scores: map[string]float64{"low": 0.1, "mid": 0.5, "high": 0.9}}

	ranked := SelectNeighbors(neighbors, reputation, "")
	want := []string{"high", "mid", "low"}
	for i, id := range want {
		if ranked[i] != id {
			t.Fatalf("ranked = %v, want %v", ranked, want)
		}
	}
}

func TestSelectNeighborsExcludesSender(t *testing.T) {
	neighbors := &fakeNeighbors{ids: []string{"a", "b"}}
	reputation := &fakeReputation{scores: map[string]float64{"a": 0.5, "b": 0.5}}

	ranked := SelectNeighbors(neighbors, reputation, "a")
	if len(ranked) != 1 || ranked[0] != "b" {
		t.Fatalf("expected only b, got %v", ranked)
	}
}

type recordingLink struct {
	sent []string
}

func (r *recordingLink) Send(ctx context.Context, peerID string, msg *Message) error {
	r.sent = append(r.sent, peerID)
	return nil
}

// TestDispatchDirectMessageWaitsForAck verifies a directed send reaches
// StateDispatched (not StateAcked) immediately after the link send
// succeeds, and only advances to StateAcked once NotifyAck delivers the
// hop-by-hop MESH_ACK.
func TestDispatchDirectMessageWaitsForAck(t *testing.T) {
	link := &recordingLink{}
	d := New("self", link, nil, nil, nil, nil, Config{MaxRetries: 3, AckTimeout: time.Second}, 8)

	msg := &Message{MessageID: "direct-1", TTL: 3, Priority: PriorityNormal, ReceiverID: "peer-b", Type: transport.MeshText}
	d.Enqueue(msg)

	consecutive := make(map[Priority]int, 4)
	qm, ok := d.next(consecutive)
	if !ok {
		t.Fatal("expected the enqueued message")
	}
	d.dispatch(context.Background(), qm)

	if len(link.sent) != 1 || link.sent[0] != "peer-b" {
		t.Fatalf("expected delivery to peer-b, got %v", link.sent)
	}
	if state, _ := d.State("direct-1"); state != StateDispatched {
		t.Fatalf("expected state Dispatched before any ack, got %v", state)
	}

	d.NotifyAck("direct-1")

	deadline := time.After(time.Second)
	for {
		if state, _ := d.State("direct-1"); state == StateAcked {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected state Acked after NotifyAck")
		case <-time.After(time.Millisecond):
		}
	}
}

// TestDispatchBroadcastStaysDispatched verifies a broadcast (no
// ReceiverID) never waits for an ack: a successful send leaves it at
// StateDispatched permanently, since there is no single next hop to ack
// against.
func TestDispatchBroadcastStaysDispatched(t *testing.T) {
	link := &recordingLink{}
	neighbors := &fakeNeighbors{ids: []string{"b", "c"}}
	reputation := &fakeReputation{scores: map[string]float64{"b": 0.5, "c": 0.5}}
	d := New("self", link, neighbors, reputation, nil, nil, Config{MaxRetries: 3}, 8)

	msg := &Message{MessageID: "broadcast-1", TTL: 3, Priority: PriorityNormal, Type: transport.MeshText}
	d.Enqueue(msg)

	consecutive := make(map[Priority]int, 4)
	qm, ok := d.next(consecutive)
	if !ok {
		t.Fatal("expected the enqueued message")
	}
	d.dispatch(context.Background(), qm)

	if len(link.sent) != 2 {
		t.Fatalf("expected delivery to both neighbors, got %v", link.sent)
	}

	time.Sleep(10 * time.Millisecond)
	state, ok := d.State("broadcast-1")
	if !ok || state != StateDispatched {
		t.Fatalf("expected broadcast to stay Dispatched, got %v (%v)", state, ok)
	}
}

// TestDispatchAckTimeoutRetries verifies a directed send that never
// receives its ack within cfg.AckTimeout is requeued as StateRetrying
// rather than left Dispatched forever.
func TestDispatchAckTimeoutRetries(t *testing.T) {
	link := &recordingLink{}
	d := New("self", link, nil, nil, nil, nil, Config{MaxRetries: 3, AckTimeout: 10 * time.Millisecond}, 8)

	msg := &Message{MessageID: "direct-2", TTL: 3, Priority: PriorityNormal, ReceiverID: "peer-b", Type: transport.MeshText}
	d.Enqueue(msg)

	consecutive := make(map[Priority]int, 4)
	qm, ok := d.next(consecutive)
	if !ok {
		t.Fatal("expected the enqueued message")
	}
	d.dispatch(context.Background(), qm)

	deadline := time.After(time.Second)
	for {
		if state, _ := d.State("direct-2"); state == StateRetrying {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected state Retrying after ack timeout")
		case <-time.After(time.Millisecond):
		}
	}
}
