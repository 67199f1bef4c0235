package bus

import (
	"context"
	"sync"

	"main/internal/signal"
)

const defaultSubscriberCapacity = 16

// Delivery is one snapshot handed to a subscriber. Gap marks that at least
// one older snapshot was dropped before this one because the subscriber
// fell behind.
type Delivery struct {
	Snapshot signal.Snapshot
	Gap      bool
}

// Hub fans published signal snapshots out to subscribers. Publishing is
// non-blocking per subscriber: each subscription owns a bounded ring that
// drops its oldest entry on overflow, so a stalled consumer can never hold
// the publisher or other subscribers back.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	latest map[string]signal.Snapshot
	onGap  func()
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		latest: make(map[string]signal.Snapshot),
	}
}

// OnGap installs a hook invoked once per delivery that carries the gap
// flag. Set it before subscribers are created.
func (h *Hub) OnGap(fn func()) {
	h.mu.Lock()
	h.onGap = fn
	h.mu.Unlock()
}

// Publish records the latest snapshot for the symbol and, when the
// observable signal changed, fans it out. Unchanged snapshots are never
// re-delivered.
func (h *Hub) Publish(snap signal.Snapshot, changed bool) {
	h.mu.Lock()
	h.latest[snap.Symbol] = snap
	if !changed {
		h.mu.Unlock()
		return
	}
	targets := make([]*Subscription, 0, len(h.subs[snap.Symbol]))
	for sub := range h.subs[snap.Symbol] {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		sub.push(snap)
	}
}

// Subscribe registers a subscriber for one symbol. The current snapshot, if
// any, is queued immediately so the subscriber receives state on connect.
func (h *Hub) Subscribe(symbol string, capacity int) *Subscription {
	if capacity <= 0 {
		capacity = defaultSubscriberCapacity
	}
	h.mu.Lock()
	sub := &Subscription{
		hub:    h,
		symbol: symbol,
		buf:    make([]signal.Snapshot, capacity),
		notify: make(chan struct{}, 1),
		onGap:  h.onGap,
	}
	set, ok := h.subs[symbol]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[symbol] = set
	}
	set[sub] = struct{}{}
	initial, hasInitial := h.latest[symbol]
	h.mu.Unlock()

	if hasInitial {
		sub.push(initial)
	}
	return sub
}

// Subscription is one subscriber's bounded view of the snapshot stream.
type Subscription struct {
	hub    *Hub
	symbol string

	mu      sync.Mutex
	buf     []signal.Snapshot // ring
	head    int
	count   int
	pending bool // a drop happened since the last delivery
	closed  bool

	notify chan struct{}
	onGap  func()
}

// Next blocks until a snapshot is available, the subscription is closed, or
// the context is done. The boolean is false once no more deliveries will
// arrive.
func (s *Subscription) Next(ctx context.Context) (Delivery, bool) {
	for {
		s.mu.Lock()
		if s.count > 0 {
			d := Delivery{Snapshot: s.buf[s.head], Gap: s.pending}
			s.pending = false
			s.head = (s.head + 1) % len(s.buf)
			s.count--
			s.mu.Unlock()
			if d.Gap && s.onGap != nil {
				s.onGap()
			}
			return d, true
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return Delivery{}, false
		}

		select {
		case <-ctx.Done():
			return Delivery{}, false
		case <-s.notify:
		}
	}
}

// Close removes the subscription from the hub without blocking publishers.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	if set, ok := s.hub.subs[s.symbol]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(s.hub.subs, s.symbol)
		}
	}
	s.hub.mu.Unlock()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) push(snap signal.Snapshot) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.count == len(s.buf) {
		// Drop the oldest entry; the next delivery carries the gap flag.
		s.head = (s.head + 1) % len(s.buf)
		s.count--
		s.pending = true
	}
	s.buf[(s.head+s.count)%len(s.buf)] = snap
	s.count++
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
