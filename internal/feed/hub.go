// Package feed fans out freshly ingested snapshots to live subscribers.
//
// Each subscriber owns a bounded Ring. Publishing never blocks: a
// subscriber that falls behind loses its oldest pending snapshots.
package feed

import (
	"log/slog"
	"sync"

	"github.com/rickgao/oi-gatherer/internal/model"
)

// DefaultQueueSize is the per-subscriber queue length.
const DefaultQueueSize = 64

// Hub distributes snapshots to subscribers.
type Hub struct {
	queueSize int
	logger    *slog.Logger

	mu        sync.RWMutex
	subs      map[uint64]*subscriber
	nextID    uint64
	published int64
	closed    bool
}

type subscriber struct {
	ring *Ring[model.Snapshot]
	out  chan model.Snapshot
	done chan struct{}
	once sync.Once
}

// Stats contains hub statistics.
type Stats struct {
	Subscribers int   `json:"subscribers"`
	Published   int64 `json:"published"`
	Dropped     int64 `json:"dropped"`
}

// NewHub creates a hub. queueSize < 1 uses DefaultQueueSize.
func NewHub(queueSize int, logger *slog.Logger) *Hub {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		queueSize: queueSize,
		logger:    logger,
		subs:      make(map[uint64]*subscriber),
	}
}

// Publish queues s for every current subscriber.
func (h *Hub) Publish(s model.Snapshot) {
	h.mu.Lock()
	h.published++
	subs := make([]*subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.ring.Send(s)
	}
}

// Subscribe registers a subscriber. The returned channel is closed after the
// cancel function is called or the hub is closed. Cancel is idempotent.
func (h *Hub) Subscribe() (<-chan model.Snapshot, func()) {
	sub := &subscriber{
		ring: NewRing[model.Snapshot](h.queueSize),
		out:  make(chan model.Snapshot),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.out)
		return sub.out, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = sub
	n := len(h.subs)
	h.mu.Unlock()

	go sub.pump()
	h.logger.Debug("feed subscriber added", "subscribers", n)

	return sub.out, func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
		sub.stop()
	}
}

// Close disconnects all subscribers.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := h.subs
	h.subs = make(map[uint64]*subscriber)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
}

// Stats returns hub statistics. Dropped covers current subscribers only.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	st := Stats{Subscribers: len(h.subs), Published: h.published}
	for _, sub := range h.subs {
		st.Dropped += sub.ring.Stats().Dropped
	}
	return st
}

// pump moves queued snapshots to the subscriber channel.
func (s *subscriber) pump() {
	defer close(s.out)
	for {
		snap, ok := s.ring.Receive()
		if !ok {
			return
		}
		select {
		case s.out <- snap:
		case <-s.done:
			return
		}
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() {
		close(s.done)
		s.ring.Close()
	})
}
