// Package hub fans values out to any number of subscribers without letting a
// slow subscriber stall the producer.
package hub

import (
	"sync"

	"github.com/kstaniek/go-wearable-proxy/internal/logging"
	"github.com/kstaniek/go-wearable-proxy/internal/metrics"
)

type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

const defaultOutBufSize = 256

type Subscriber[T any] struct {
	Out       chan T
	Closed    chan struct{}
	closeOnce sync.Once
}

// NewSubscriber returns a subscriber with an outbound queue of buf values.
func NewSubscriber[T any](buf int) *Subscriber[T] {
	if buf <= 0 {
		buf = defaultOutBufSize
	}
	return &Subscriber[T]{Out: make(chan T, buf), Closed: make(chan struct{})}
}

// Close signals the subscriber is closed (idempotent).
func (c *Subscriber[T]) Close() {
	c.closeOnce.Do(func() {
		close(c.Closed)
	})
}

type Hub[T any] struct {
	mu         sync.RWMutex
	subs       map[*Subscriber[T]]struct{}
	OutBufSize int
	Policy     BackpressurePolicy
}

// New creates a Hub with default settings.
func New[T any]() *Hub[T] { return &Hub[T]{subs: make(map[*Subscriber[T]]struct{})} }

// Subscribe creates a subscriber sized from OutBufSize and registers it.
func (h *Hub[T]) Subscribe() *Subscriber[T] {
	c := NewSubscriber[T](h.OutBufSize)
	h.Add(c)
	return c
}

// Add registers a subscriber with the hub.
func (h *Hub[T]) Add(c *Subscriber[T]) {
	h.mu.Lock()
	prev := len(h.subs)
	h.subs[c] = struct{}{}
	cur := len(h.subs)
	h.mu.Unlock()
	metrics.SetHubSubscribers(cur)
	if prev == 0 && cur == 1 {
		logging.L().Debug("subscribers_first_connected")
	}
}

// Remove unregisters a subscriber and closes it; safe to call multiple times.
func (h *Hub[T]) Remove(c *Subscriber[T]) {
	h.mu.Lock()
	_, existed := h.subs[c]
	if existed {
		delete(h.subs, c)
	}
	cur := len(h.subs)
	h.mu.Unlock()
	c.Close()
	metrics.SetHubSubscribers(cur)
	if existed && cur == 0 {
		logging.L().Debug("subscribers_last_disconnected")
	}
}

// Broadcast offers v to every subscriber honoring the backpressure policy.
// It never blocks.
func (h *Hub[T]) Broadcast(v T) {
	for _, c := range h.Snapshot() {
		select {
		case <-c.Closed:
			continue
		default:
		}
		select {
		case c.Out <- v:
		default:
			if h.Policy == PolicyKick {
				metrics.IncHubKick()
				c.Close() // consumer exits; owner calls Remove
			} else {
				metrics.IncHubDrop()
			}
		}
	}
}

// Snapshot returns a slice copy of current subscribers (read-only use).
func (h *Hub[T]) Snapshot() []*Subscriber[T] {
	h.mu.RLock()
	subs := make([]*Subscriber[T], 0, len(h.subs))
	for c := range h.subs {
		subs = append(subs, c)
	}
	h.mu.RUnlock()
	return subs
}

// Count returns the number of registered subscribers.
func (h *Hub[T]) Count() int { h.mu.RLock(); n := len(h.subs); h.mu.RUnlock(); return n }

// Close removes every subscriber.
func (h *Hub[T]) Close() {
	for _, c := range h.Snapshot() {
		h.Remove(c)
	}
}
