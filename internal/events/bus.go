package events

import (
	"sync"
)

// Bus fans order and market events out to in-process listeners: the
// working-order evaluator, the metrics counters and the websocket feed all
// ride on it. Delivery is best effort; a listener that falls behind loses
// events rather than stalling the publisher.
type Bus struct {
	mu        sync.RWMutex
	listeners map[Event][]chan any
}

// NewBus creates an event bus with no listeners.
func NewBus() *Bus {
	return &Bus{listeners: make(map[Event][]chan any)}
}

// Subscribe registers a listener for a topic and returns its channel together
// with an unsubscribe function that closes it.
func (b *Bus) Subscribe(topic Event, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	b.listeners[topic] = append(b.listeners[topic], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		chans := b.listeners[topic]
		for i, c := range chans {
			if c == ch {
				close(c)
				b.listeners[topic] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
	}

	return ch, unsub
}

// Publish delivers the payload to every listener on the topic. A listener
// whose buffer is full is skipped, so a stuck websocket can never back up a
// fill or a bar tick.
func (b *Bus) Publish(topic Event, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.listeners[topic] {
		select {
		case ch <- payload:
		default:
		}
	}
}
