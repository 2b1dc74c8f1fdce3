package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// DefaultBuffer is the queue length of a subscription without WithBuffer.
const DefaultBuffer = 16

// EventHub fans events out to subscribers. A full subscriber misses events
// instead of blocking the publisher, which is usually the sampling loop.
type EventHub struct {
	mu     sync.RWMutex
	subs   map[chan Event]*subscription
	closed bool
}

type subscription struct {
	buffer  int
	names   map[string]struct{}
	dropped atomic.Uint64
}

func (s *subscription) wants(name string) bool {
	if len(s.names) == 0 {
		return true
	}
	_, ok := s.names[name]
	return ok
}

// SubscribeOption configures one subscription.
type SubscribeOption func(*subscription)

// WithBuffer sets how many events may queue before new ones are dropped.
func WithBuffer(n int) SubscribeOption {
	return func(s *subscription) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// WithNames delivers only events with one of names.
func WithNames(names ...string) SubscribeOption {
	return func(s *subscription) {
		for _, n := range names {
			s.names[n] = struct{}{}
		}
	}
}

func NewEventHub() *EventHub { return &EventHub{subs: make(map[chan Event]*subscription)} }

// Subscribe returns a channel that receives published events until
// Unsubscribe or Close. On a closed hub the channel is already closed.
func (h *EventHub) Subscribe(opts ...SubscribeOption) chan Event {
	sub := &subscription{buffer: DefaultBuffer, names: map[string]struct{}{}}
	for _, opt := range opts {
		opt(sub)
	}
	ch := make(chan Event, sub.buffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	h.subs[ch] = sub
	return ch
}

// Dropped reports how many events ch missed because it was full.
func (h *EventHub) Dropped(ch chan Event) uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if sub, ok := h.subs[ch]; ok {
		return sub.dropped.Load()
	}
	return 0
}

func (h *EventHub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[ch]; ok {
		h.remove(ch, sub)
	}
}

// Close unsubscribes everyone. Later publishes are discarded.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch, sub := range h.subs {
		h.remove(ch, sub)
	}
}

// remove must be called with h.mu held.
func (h *EventHub) remove(ch chan Event, sub *subscription) {
	delete(h.subs, ch)
	close(ch)
	if n := sub.dropped.Load(); n > 0 {
		logrus.WithField("dropped", n).Debug("subscriber missed events")
	}
}

// Publish is a no-op on a nil hub.
func (h *EventHub) Publish(name string, payload any) {
	if h == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		logrus.WithError(err).WithField("event", name).Warn("failed to encode event")
		return
	}
	msg := Event{Name: name, Data: b}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch, sub := range h.subs {
		if !sub.wants(name) {
			continue
		}
		select {
		case ch <- msg:
		default:
			sub.dropped.Add(1)
		}
	}
}
