package engine

import (
	"sync"

	"runforge/internal/model"
)

// subscriberBufferSize is the channel buffer for each status subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 16

// EventBroker fans out per-execution status transitions to subscribers.
// It is safe for concurrent use.
//
// Closed topics are retained as markers so that late subscribers (those
// subscribing after an execution went terminal) receive a closed channel
// instead of blocking forever. Each marker is a few bytes, which is
// acceptable for the expected execution volume.
type EventBroker struct {
	mu     sync.Mutex
	topics map[string]*eventTopic
}

type eventTopic struct {
	subs   map[int]chan model.Status
	nextID int
	closed bool
}

// NewEventBroker creates a new event broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{
		topics: make(map[string]*eventTopic),
	}
}

// Subscribe returns a channel that receives status transitions for the
// given execution and an unsubscribe function. If the execution already
// finished (Close was called), the returned channel is immediately closed.
func (b *EventBroker) Subscribe(executionID string) (<-chan model.Status, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[executionID]
	if !ok {
		t = &eventTopic{subs: make(map[int]chan model.Status)}
		b.topics[executionID] = t
	}

	ch := make(chan model.Status, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends a status transition to all subscribers of the given
// execution. Events are dropped for subscribers whose buffers are full.
func (b *EventBroker) Publish(executionID string, status model.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[executionID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- status:
		default:
			// Drop event for slow subscribers to avoid blocking the engine.
		}
	}
}

// Close signals that no more transitions will be published for the given
// execution. All subscriber channels are closed and future Subscribe calls
// return a closed channel.
func (b *EventBroker) Close(executionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[executionID]
	if !ok {
		// Create a closed marker so late subscribers get a closed channel.
		b.topics[executionID] = &eventTopic{subs: make(map[int]chan model.Status), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
