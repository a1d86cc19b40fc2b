package sync

import (
	stdsync "sync"
)

// EventType names the notifications pushed to UI subscribers.
type EventType string

const (
	// EventStatusChanged fires after a pipeline run writes a status record.
	EventStatusChanged EventType = "status_changed"
	// EventInitResponse answers a connection probe request.
	EventInitResponse EventType = "init_response"
)

// Event is a broadcast notification with a free-form payload.
type Event struct {
	Type    EventType      `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Bus fans events out to subscribers with at-most-once delivery. A
// subscriber that stops draining its channel misses events rather than
// blocking publishers; the scheduler must never stall on a slow UI.
type Bus struct {
	mu   stdsync.Mutex
	subs map[int]chan Event
	next int
}

// NewBus returns an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: map[int]chan Event{}}
}

// Subscribe registers a listener. The cancel func removes the
// subscription and closes the channel; it is safe to call twice.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, 8)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber whose buffer has room
// and drops it for the rest.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// SubscriberCount reports the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
