package events

import "sync"

// topicAll is the reserved routing key for SubscribeAll channels.
const topicAll = "*"

// defaultBuffer is the subscriber channel capacity used when the caller
// does not pick one.
const defaultBuffer = 256

// Bus fans events out to subscriber channels, routed by the first
// segment of the event type. Delivery is best-effort: a full subscriber
// loses the event rather than stalling the publisher.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]chan Event
	closed bool
}

// NewBus returns an open bus with no subscribers.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]chan Event)}
}

// Subscribe registers a channel for one topic, TopicTask or TopicDAG.
// bufSize <= 0 selects the default capacity. On a closed bus the
// returned channel is already closed.
func (b *Bus) Subscribe(topic string, bufSize int) <-chan Event {
	return b.register(topic, bufSize)
}

// SubscribeAll registers a channel that receives every event regardless
// of topic.
func (b *Bus) SubscribeAll(bufSize int) <-chan Event {
	return b.register(topicAll, bufSize)
}

func (b *Bus) register(topic string, bufSize int) <-chan Event {
	if bufSize <= 0 {
		bufSize = defaultBuffer
	}
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	b.subs[topic] = append(b.subs[topic], ch)
	return ch
}

// Publish routes the event to its topic's subscribers and to every
// SubscribeAll channel. The topic comes from the event type, so
// "dag.node.started" lands on the dag topic. Publishing never blocks.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	topic := Topic(event.EventType())
	for _, ch := range b.subs[topic] {
		offer(ch, event)
	}
	for _, ch := range b.subs[topicAll] {
		offer(ch, event)
	}
}

// offer delivers without blocking; a full channel drops the event.
func offer(ch chan Event, event Event) {
	select {
	case ch <- event:
	default:
	}
}

// Close shuts the bus and closes every subscriber channel. Later
// publishes are dropped. Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, channels := range b.subs {
		for _, ch := range channels {
			close(ch)
		}
	}
}
