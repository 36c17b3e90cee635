package runtime

import "sync"

// eventBuffer sizes subscriber channels. Slow subscribers drop events
// rather than blocking publishers.
const eventBuffer = 256

// Bus fans hub events out to subscribers. The zero value is not usable;
// call NewBus.
type Bus struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	closed bool
}

// NewBus builds an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a subscriber. Callers must not close the returned
// channel; use Unsubscribe.
func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, eventBuffer)
	b.mu.Lock()
	if !b.closed {
		b.subs[ch] = struct{}{}
	} else {
		close(ch)
	}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish delivers an event to every subscriber without blocking.
func (b *Bus) Publish(eventType EventType, payload map[string]any) {
	evt := newEvent(eventType, payload)
	b.mu.RLock()
	for ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.RUnlock()
}

// Close closes every subscriber channel; later Subscribes get a closed
// channel back.
func (b *Bus) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		for ch := range b.subs {
			close(ch)
		}
		b.subs = make(map[chan Event]struct{})
	}
	b.mu.Unlock()
}
