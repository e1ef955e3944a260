package hub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/technosupport/alibi/internal/clock"
)

// Event names on the push stream.
const (
	EventIncidentUpsert = "incident_upsert"
	EventHeartbeat      = "heartbeat"
	EventResyncRequired = "resync_required"
	EventShutdown       = "shutdown"
)

// Message is one push-stream envelope. Sequence is strictly increasing per
// subscriber connection; a resync marker tells the client when queued
// messages were dropped.
type Message struct {
	Event      string    `json:"event"`
	Sequence   uint64    `json:"sequence"`
	TS         time.Time `json:"ts"`
	IncidentID string    `json:"incident_id,omitempty"`
	Version    int       `json:"version,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	UpdatedTS  time.Time `json:"updated_ts,omitzero"`
}

// DefaultQueueSize bounds each subscriber queue.
const DefaultQueueSize = 256

// heartbeatEvery keeps the at-most-10s heartbeat contract with margin.
const heartbeatEvery = 5 * time.Second

// Subscriber is one console connection's view of the hub.
type Subscriber struct {
	id string
	ch chan Message

	mu       sync.Mutex
	seq      uint64 // last sequence enqueued on this connection
	overflow bool   // resync marker pending delivery already sent
	closed   bool
}

// C is the receive channel. Closed when the subscriber is dropped or the
// hub shuts down.
func (s *Subscriber) C() <-chan Message { return s.ch }

// Hub is the in-process broadcaster feeding operator consoles. One
// publisher per event (the ingest pipeline), many consumers.
type Hub struct {
	clk clock.Clock

	mu     sync.Mutex
	subs   map[string]*Subscriber
	closed bool

	stopHeartbeat chan struct{}
	wg            sync.WaitGroup
}

// New creates a hub and starts its heartbeat ticker.
func New(clk clock.Clock) *Hub {
	h := &Hub{
		clk:           clk,
		subs:          make(map[string]*Subscriber),
		stopHeartbeat: make(chan struct{}),
	}
	h.wg.Add(1)
	go h.heartbeatLoop()
	return h
}

// Subscribe registers a new bounded-queue subscriber.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{
		id: uuid.NewString(),
		ch: make(chan Message, DefaultQueueSize),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		sub.closed = true
		return sub
	}
	h.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes and closes a subscriber. Safe to call twice.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	_, ok := h.subs[sub.id]
	delete(h.subs, sub.id)
	h.mu.Unlock()
	if ok {
		sub.mu.Lock()
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
		sub.mu.Unlock()
	}
}

// Subscribers reports the current connection count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// PublishUpsert broadcasts an incident change. Per-incident ordering holds
// because the single ingest writer publishes under the store's ordering.
func (h *Hub) PublishUpsert(incidentID string, version int, summary string, updatedTS time.Time) {
	h.broadcast(Message{
		Event:      EventIncidentUpsert,
		IncidentID: incidentID,
		Version:    version,
		Summary:    summary,
		UpdatedTS:  updatedTS,
	})
}

func (h *Hub) broadcast(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	msg.TS = h.clk.Now()
	// Delivery never blocks, so holding the hub lock through the loop keeps
	// every subscriber's enqueue order identical to publish order.
	for _, s := range h.subs {
		s.deliver(msg)
	}
}

// deliver enqueues without blocking the publisher. Sequences are stamped
// per subscriber as messages enter the queue. On overflow the oldest
// queued message is dropped and a resync marker is injected once; the
// client is expected to re-list over REST.
func (s *Subscriber) deliver(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if s.enqueue(msg) {
		return
	}

	// Queue full: make room by dropping the oldest entry.
	select {
	case <-s.ch:
	default:
	}

	if !s.overflow && msg.Event == EventIncidentUpsert {
		s.overflow = true
		s.enqueue(Message{Event: EventResyncRequired, TS: msg.TS})
		// Drop one more so the triggering message still fits.
		select {
		case <-s.ch:
		default:
		}
	}

	s.enqueue(msg)
}

// enqueue stamps the next sequence for this connection and sends without
// blocking. The counter only advances on a successful send, so delivered
// sequences stay contiguous. Callers hold s.mu.
func (s *Subscriber) enqueue(msg Message) bool {
	msg.Sequence = s.seq + 1
	select {
	case s.ch <- msg:
		s.seq = msg.Sequence
		return true
	default:
		return false
	}
}

// AckResync clears the overflow latch after the client re-lists.
func (s *Subscriber) AckResync() {
	s.mu.Lock()
	s.overflow = false
	s.mu.Unlock()
}

func (h *Hub) heartbeatLoop() {
	defer h.wg.Done()
	t := time.NewTicker(heartbeatEvery)
	defer t.Stop()
	for {
		select {
		case <-h.stopHeartbeat:
			return
		case <-t.C:
			h.broadcast(Message{Event: EventHeartbeat})
		}
	}
}

// Close sends a terminal shutdown message and closes every subscriber.
func (h *Hub) Close(ctx context.Context) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	subs := make([]*Subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.subs = map[string]*Subscriber{}
	h.closed = true
	h.mu.Unlock()

	close(h.stopHeartbeat)
	h.wg.Wait()

	final := Message{Event: EventShutdown, TS: h.clk.Now()}
	for _, s := range subs {
		s.deliver(final)
		s.mu.Lock()
		if !s.closed {
			s.closed = true
			close(s.ch)
		}
		s.mu.Unlock()
	}
}
