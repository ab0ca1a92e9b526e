package events

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultBuffer = 64

// Bus is an in-process publish/subscribe channel decoupling the engine from
// consumers. Subscribers receive on buffered channels; a publish to a full
// subscriber is dropped rather than blocking the publisher.
type Bus struct {
	mu     sync.RWMutex
	byKind map[Kind][]chan Event
	all    []chan Event
	closed bool
	log    *logrus.Entry
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		byKind: make(map[Kind][]chan Event),
		log:    logrus.WithField("component", "events"),
	}
}

// Subscribe returns a channel receiving events of the given kind.
func (b *Bus) Subscribe(kind Kind) <-chan Event {
	ch := make(chan Event, defaultBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.byKind[kind] = append(b.byKind[kind], ch)
	return ch
}

// SubscribeAll returns a channel receiving every event regardless of kind.
func (b *Bus) SubscribeAll() <-chan Event {
	ch := make(chan Event, defaultBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.all = append(b.all, ch)
	return ch
}

// Publish delivers an event to kind subscribers and wildcard subscribers.
// Delivery is non-blocking: slow subscribers lose events instead of stalling
// the publisher.
func (b *Bus) Publish(kind Kind, payload any) {
	ev := Event{Kind: kind, At: time.Now(), Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.byKind[kind] {
		select {
		case ch <- ev:
		default:
			b.log.WithField("kind", kind).Warn("subscriber buffer full, event dropped")
		}
	}
	for _, ch := range b.all {
		select {
		case ch <- ev:
		default:
			b.log.WithField("kind", kind).Warn("wildcard subscriber buffer full, event dropped")
		}
	}
}

// Close closes all subscriber channels. Publish after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.byKind {
		for _, ch := range subs {
			close(ch)
		}
	}
	for _, ch := range b.all {
		close(ch)
	}
	b.byKind = make(map[Kind][]chan Event)
	b.all = nil
}
