// Package hub fans a single ordered event stream out to many subscribers.
//
// The publisher never blocks: each subscriber has a bounded queue and, when it
// is full, the oldest queued item is dropped to make room for the newest.
// Items reach every subscriber in publish order.
package hub

import (
	"sync"
	"sync/atomic"
)

const DefaultBuffer = 100

type Subscription[T any] struct {
	ch      chan T
	dropped atomic.Uint64
}

// C is the receive side. It is closed when the subscription is removed or
// the hub is closed.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Dropped reports how many items were discarded because the subscriber fell
// behind.
func (s *Subscription[T]) Dropped() uint64 { return s.dropped.Load() }

// offer enqueues v, evicting the oldest item if the queue is full. Only the
// hub sends on ch, and it does so under its lock, so after one eviction there
// is room.
func (s *Subscription[T]) offer(v T) {
	for {
		select {
		case s.ch <- v:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}

type Option func(*config)

type config struct {
	buffer int
}

func WithBuffer(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.buffer = n
		}
	}
}

type Hub[T any] struct {
	mu     sync.Mutex
	subs   map[*Subscription[T]]struct{}
	closed bool
	buffer int
}

func New[T any](opts ...Option) *Hub[T] {
	c := config{buffer: DefaultBuffer}
	for _, opt := range opts {
		opt(&c)
	}
	return &Hub[T]{
		subs:   make(map[*Subscription[T]]struct{}),
		buffer: c.buffer,
	}
}

// Subscribe registers a subscriber with the given queue size (hub default
// when size <= 0). Subscribing to a closed hub yields an already-closed
// subscription.
func (h *Hub[T]) Subscribe(size int) *Subscription[T] {
	if size <= 0 {
		size = h.buffer
	}
	s := &Subscription[T]{ch: make(chan T, size)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(s.ch)
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

func (h *Hub[T]) Unsubscribe(s *Subscription[T]) {
	if s == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.ch)
	}
}

// Publish delivers v to every current subscriber. It is a no-op after Close.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for s := range h.subs {
		s.offer(v)
	}
}

// Close closes every subscriber channel. Queued items remain readable.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		close(s.ch)
		delete(h.subs, s)
	}
}

func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
