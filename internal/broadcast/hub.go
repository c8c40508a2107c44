package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/saviobatista/dongle-pairing/internal/types"
)

// DefaultBuffer is the per-subscriber channel capacity
const DefaultBuffer = 16

// Subscription is one listener on the hub. C is closed on Cancel.
type Subscription struct {
	ID string
	C  <-chan *types.RawSample

	ch   chan *types.RawSample
	hub  *Hub
	once sync.Once
}

// Cancel removes the subscription from the hub. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.hub.remove(s.ID)
	})
}

// Hub fans every published sample out to all current subscribers.
// A subscriber whose buffer is full misses the sample; others are unaffected.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]*Subscription
	buffer  int
	dropped atomic.Uint64
}

// NewHub creates a hub with the given per-subscriber buffer size
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subs:   make(map[string]*Subscription),
		buffer: buffer,
	}
}

// Subscribe registers a new listener
func (h *Hub) Subscribe() *Subscription {
	ch := make(chan *types.RawSample, h.buffer)
	sub := &Subscription{
		ID:  uuid.New().String(),
		C:   ch,
		ch:  ch,
		hub: h,
	}

	h.mu.Lock()
	h.subs[sub.ID] = sub
	h.mu.Unlock()
	return sub
}

// Publish delivers s to every subscriber without blocking and returns how many
// received it. With no subscribers the sample is discarded.
func (h *Hub) Publish(s *types.RawSample) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, sub := range h.subs {
		select {
		case sub.ch <- s:
			delivered++
		default:
			h.dropped.Add(1)
		}
	}
	return delivered
}

// Subscribers returns the number of active subscriptions
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped because a buffer was full
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close cancels every subscription
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}
