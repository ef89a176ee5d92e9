// Package events implements the per-namespace live-update fan-out of
// spec.md §4.8: a bounded-backlog broadcast topic per namespace, delivering
// connected/flag_update/heartbeat/lag_warning/server_shutdown events to
// Server-Sent Events subscribers. Grounded on the teacher's general
// preference (seen throughout kapacitor's services/*) for channel-based
// in-process fan-out over a third-party pub/sub library.
package events

import (
	"sync"
	"time"
)

const backlogSize = 256

// Kind tags the variant of an Event.
type Kind string

const (
	Connected       Kind = "connected"
	FlagUpdate      Kind = "flag_update"
	Heartbeat       Kind = "heartbeat"
	LagWarning      Kind = "lag_warning"
	ServerShutdown  Kind = "server_shutdown"
)

// Event is the metadata-only payload delivered to subscribers; clients
// re-fetch the blob themselves rather than receiving it inline.
type Event struct {
	Kind       Kind      `json:"kind"`
	Hash       string    `json:"hash,omitempty"`
	FlagsCount int       `json:"flags_count,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
	Missed     int       `json:"missed,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// Subscription is a single subscriber's view of a Topic: a channel of
// events plus a Close to release it.
type Subscription struct {
	C           <-chan Event
	ch          chan Event
	unsubscribe func()
}

// Close unsubscribes; safe to call multiple times.
func (s *Subscription) Close() {
	s.unsubscribe()
}

// Topic is one namespace's broadcast: producers never block on slow
// subscribers (spec.md §5 "Shared state"); a full backlog drops the oldest
// event and tells the subscriber how many it missed via LagWarning.
type Topic struct {
	mu          sync.Mutex
	subscribers map[*Subscription]struct{}
	closed      bool
}

func NewTopic() *Topic {
	return &Topic{subscribers: make(map[*Subscription]struct{})}
}

// Subscribe registers a new subscriber and immediately enqueues a Connected
// event with the namespace's current hash/flags_count.
func (t *Topic) Subscribe(hash string, flagsCount int) *Subscription {
	ch := make(chan Event, backlogSize)
	sub := &Subscription{ch: ch, C: ch}
	sub.unsubscribe = func() { t.unsubscribe(sub) }

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		close(ch)
		return sub
	}
	t.subscribers[sub] = struct{}{}
	t.enqueue(sub, Event{Kind: Connected, Hash: hash, FlagsCount: flagsCount})
	return sub
}

func (t *Topic) unsubscribe(sub *Subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.subscribers[sub]; ok {
		delete(t.subscribers, sub)
		close(sub.ch)
	}
}

// Publish broadcasts a FlagUpdate event to every current subscriber.
func (t *Topic) Publish(hash string, flagsCount int) {
	t.broadcast(Event{Kind: FlagUpdate, Hash: hash, FlagsCount: flagsCount, Timestamp: time.Now()})
}

// Heartbeat broadcasts a Heartbeat event; server.Server.runHeartbeats drives
// this on a 30s timer, once per currently-loaded namespace.
func (t *Topic) Heartbeat() {
	t.broadcast(Event{Kind: Heartbeat, Timestamp: time.Now()})
}

// Shutdown broadcasts a single ServerShutdown event to every subscriber and
// marks the topic closed so later Subscribe calls get an already-closed
// channel instead of blocking forever.
func (t *Topic) Shutdown(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	for sub := range t.subscribers {
		t.enqueue(sub, Event{Kind: ServerShutdown, Reason: reason})
	}
	t.closed = true
}

func (t *Topic) broadcast(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for sub := range t.subscribers {
		t.enqueue(sub, ev)
	}
}

// enqueue is non-blocking: if a subscriber's backlog is full, the oldest
// buffered event is dropped, ev itself is not delivered, and a LagWarning
// counting both (plus whatever an earlier dropped LagWarning counted) takes
// the freed slot, per spec.md §4.8.
func (t *Topic) enqueue(sub *Subscription, ev Event) {
	select {
	case sub.ch <- ev:
		return
	default:
	}
	missed := 1 // ev itself
	select {
	case old := <-sub.ch:
		if old.Kind == LagWarning {
			missed += old.Missed
		} else {
			missed++
		}
	default:
	}
	select {
	case sub.ch <- Event{Kind: LagWarning, Missed: missed}:
	default:
	}
}
