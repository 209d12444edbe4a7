// Package bus implements the in-process pub/sub used for inter-agent
// handoffs: ordered delivery per target, no cross-target ordering promise.
package bus

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Message is one bus delivery.
type Message struct {
	Target  string          // channel name, e.g. "craftsman"
	Type    string          // message kind, e.g. "request"
	Source  string          // publishing agent, e.g. "producer"
	Payload json.RawMessage
}

// Bus routes messages to per-target subscribers. Each target has at most one
// subscriber channel; delivery order per target matches publish order.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]chan Message
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string]chan Message)}
}

// Subscribe registers the sole subscriber for a target and returns its
// delivery channel. A second Subscribe on the same target replaces the first
// and closes its channel.
func (b *Bus) Subscribe(target string) <-chan Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.subs[target]; ok {
		close(old)
	}
	ch := make(chan Message, 64)
	b.subs[target] = ch
	return ch
}

// Unsubscribe removes a target's subscriber and closes its channel.
func (b *Bus) Unsubscribe(target string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[target]; ok {
		close(ch)
		delete(b.subs, target)
	}
}

// Publish delivers a message to the target's subscriber. Messages to targets
// with no subscriber are dropped with a warning; a full subscriber queue also
// drops rather than blocking the publisher.
func (b *Bus) Publish(msg Message) {
	b.mu.RLock()
	ch, ok := b.subs[msg.Target]
	b.mu.RUnlock()
	if !ok {
		slog.Warn("bus message dropped, no subscriber", "target", msg.Target, "type", msg.Type)
		return
	}
	select {
	case ch <- msg:
	default:
		slog.Warn("bus message dropped, subscriber queue full", "target", msg.Target, "type", msg.Type)
	}
}

// Close shuts down all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for target, ch := range b.subs {
		close(ch)
		delete(b.subs, target)
	}
}
