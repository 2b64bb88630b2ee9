// Package observer decouples progress reporting from pipeline execution.
// The engine and scheduler publish events to a Bus; any number of consumers
// (console, log sink, SSE stream) subscribe without the core knowing they
// exist. Publishing never blocks: a subscriber that cannot keep up loses
// events rather than stalling the producer.
package observer

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event kinds emitted by the engine and scheduler.
const (
	KindRunStarted     = "run_started"
	KindStageStarted   = "stage_started"
	KindStageRetrying  = "stage_retrying"
	KindStageSucceeded = "stage_succeeded"
	KindStageFailed    = "stage_failed"
	KindStageSkipped   = "stage_skipped"
	KindRunSucceeded   = "run_succeeded"
	KindRunFailed      = "run_failed"
)

// Event is a single progress notification. Stage is empty for run-level
// events.
type Event struct {
	RunID     uuid.UUID `json:"run_id"`
	Stage     string    `json:"stage,omitempty"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`
}

// Subscription is a handle to one consumer's bounded event queue.
type Subscription struct {
	id      uint64
	ch      chan Event
	dropped uint64
}

// Events returns the receive side of the subscription's queue. The channel
// is closed on Unsubscribe and on Bus.Close.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped reports how many events were discarded because the queue was full.
// Only meaningful after the subscription is closed or between reads; the
// count is maintained under the bus lock.
func (s *Subscription) Dropped() uint64 {
	return s.dropped
}

// Bus fans events out to subscribers.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*Subscription
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*Subscription)}
}

// DefaultBuffer is the per-subscriber queue size used when callers pass a
// non-positive buffer.
const DefaultBuffer = 64

// Subscribe registers a consumer with a bounded queue of the given size.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{id: b.nextID, ch: make(chan Event, buffer)}
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a consumer and closes its queue. Safe to call twice.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

// Publish delivers an event to every subscriber, dropping it for any
// subscriber whose queue is full.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped++
		}
	}
}

// Close closes every subscriber queue. Further publishes are discarded and
// further subscriptions receive an already-closed channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
