package feed

import "sync"

// Ring is a thread-safe bounded FIFO. When full, Send overwrites the oldest
// item so producers never block on a slow consumer.
type Ring[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []T
	head   int // read position
	count  int
	closed bool

	sent    int64
	dropped int64
}

// NewRing creates a ring holding at most capacity items.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	r := &Ring[T]{buf: make([]T, capacity)}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Send appends item, evicting the oldest item when full.
// Returns false if the ring is closed.
func (r *Ring[T]) Send(item T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}

	if r.count == len(r.buf) {
		var zero T
		r.buf[r.head] = zero
		r.head = (r.head + 1) % len(r.buf)
		r.count--
		r.dropped++
	}

	r.buf[(r.head+r.count)%len(r.buf)] = item
	r.count++
	r.sent++

	r.cond.Signal()
	return true
}

// Receive blocks until an item is available or the ring is closed.
// After Close it returns remaining items, then the zero value and false.
func (r *Ring[T]) Receive() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.count == 0 && !r.closed {
		r.cond.Wait()
	}
	return r.pop()
}

// pop must be called with the lock held.
func (r *Ring[T]) pop() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	item := r.buf[r.head]
	r.buf[r.head] = zero // Clear reference for GC
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	return item, true
}

// Close wakes all receivers. Send returns false afterwards.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.cond.Broadcast()
}

// RingStats contains ring statistics.
type RingStats struct {
	Count    int
	Capacity int
	Sent     int64
	Dropped  int64
}

// Stats returns ring statistics.
func (r *Ring[T]) Stats() RingStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RingStats{
		Count:    r.count,
		Capacity: len(r.buf),
		Sent:     r.sent,
		Dropped:  r.dropped,
	}
}
