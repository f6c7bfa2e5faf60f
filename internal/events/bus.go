package events

import (
	"log"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the default bound on a subscriber's channel.
const DefaultBufferSize = 1024

// subscription is one subscriber's mailbox for a topic.
type subscription struct {
	id      uint64
	ch      chan Event
	types   []Type // nil/empty = all types on this topic
	dropped uint64 // atomic: events dropped for this subscriber specifically
}

// Bus is the in-process topic broadcaster used by every component. A slow
// subscriber never blocks the publisher: Publish is always non-blocking,
// and a full subscriber buffer is drained of its oldest entry to make room
// for the new one (drop-oldest).
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]*subscription // topic -> subscriptions
	nextID      uint64
	bufferSize  int
	dropped     uint64 // atomic: total events dropped bus-wide
}

// NewBus creates a new event bus with the default per-subscriber buffer
// size. Use NewBusWithBuffer to override it (mainly for tests that want to
// exercise the drop-oldest path without publishing thousands of events).
func NewBus() *Bus {
	return NewBusWithBuffer(DefaultBufferSize)
}

func NewBusWithBuffer(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subscribers: make(map[string][]*subscription),
		bufferSize:  bufferSize,
	}
}

// Subscribe returns a channel receiving events published to topic. If
// types is nil or empty, every event on the topic is received. The
// returned unsubscribe func releases the subscriber's buffer immediately;
// callers must call it exactly once.
func (b *Bus) Subscribe(topic string, types []Type) (<-chan Event, func()) {
	b.mu.Lock()
	b.nextID++
	sub := &subscription{
		id:    b.nextID,
		ch:    make(chan Event, b.bufferSize),
		types: types,
	}
	b.subscribers[topic] = append(b.subscribers[topic], sub)
	b.mu.Unlock()

	unsubscribe := func() { b.unsubscribe(topic, sub.id) }
	return sub.ch, unsubscribe
}

func (b *Bus) unsubscribe(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[topic]
	if !ok {
		return
	}
	for i, s := range subs {
		if s.id == id {
			close(s.ch)
			b.subscribers[topic] = append(subs[:i], subs[i+1:]...)
			if len(b.subscribers[topic]) == 0 {
				delete(b.subscribers, topic)
			}
			return
		}
	}
}

// Publish sends event to every subscriber of topic whose type filter
// matches. Subscribers on a given topic receive events in publish order;
// cross-topic ordering is not guaranteed.
func (b *Bus) Publish(topic string, event Event) {
	b.mu.RLock()
	subs := b.subscribers[topic]
	// Copy the slice header so sends happen outside the lock.
	targets := make([]*subscription, len(subs))
	copy(targets, subs)
	b.mu.RUnlock()

	for _, sub := range targets {
		if !matchesTypes(event.Type, sub.types) {
			continue
		}
		b.sendDropOldest(topic, sub, event)
	}
}

// sendDropOldest is the publisher-never-blocks path: try a non-blocking
// send; if the buffer is full, discard the oldest buffered event and
// retry once. Both the per-subscriber and bus-wide drop counters advance,
// and a system.events_dropped event would double-publish on drop itself,
// so the bus-wide counter is exposed via DroppedEventCount instead of
// re-entering Publish.
func (b *Bus) sendDropOldest(topic string, sub *subscription, event Event) {
	select {
	case sub.ch <- event:
		return
	default:
	}

	select {
	case <-sub.ch:
	default:
	}

	select {
	case sub.ch <- event:
	default:
		// Another publisher raced us and refilled the buffer; count the
		// drop and move on rather than spin.
	}

	atomic.AddUint64(&sub.dropped, 1)
	total := atomic.AddUint64(&b.dropped, 1)
	log.Printf("[EVENTS] dropped event for slow subscriber: topic=%s type=%s id=%s (total dropped=%d)",
		topic, event.Type, event.ID, total)
}

// DroppedEventCount returns the total number of events dropped bus-wide
// due to full subscriber buffers.
func (b *Bus) DroppedEventCount() uint64 {
	return atomic.LoadUint64(&b.dropped)
}

func matchesTypes(t Type, types []Type) bool {
	if len(types) == 0 {
		return true
	}
	for _, want := range types {
		if want == t {
			return true
		}
	}
	return false
}
