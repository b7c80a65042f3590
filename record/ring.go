// Package record keeps a bounded ring of the most recent frames and spools
// it to disk on demand. The on-disk spool is size-capped by a janitor that
// removes the oldest flush directories first.
package record

import (
	"sync"

	"strzcam.com/screencaster/frame"
)

// Ring holds a fixed number of recent frames, overwriting the oldest when
// full. Safe for one writer (the capture loop) and concurrent flushers.
type Ring struct {
	mu       sync.Mutex
	data     []*frame.Frame
	size     int
	capacity int
	head     int
}

// NewRing creates a ring with the given capacity.
func NewRing(capacity int) *Ring {
	return &Ring{
		data:     make([]*frame.Frame, capacity),
		capacity: capacity,
	}
}

// Add appends a frame, replacing the oldest if at capacity.
func (r *Ring) Add(f *frame.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[r.head] = f
	r.head = (r.head + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	}
}

// Drain returns the current frames oldest-first and clears the ring.
func (r *Ring) Drain() []*frame.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size == 0 {
		return nil
	}

	out := make([]*frame.Frame, r.size)
	if r.size < r.capacity {
		copy(out, r.data[:r.size])
	} else {
		tail := r.head
		copy(out, r.data[tail:])
		copy(out[r.capacity-tail:], r.data[:tail])
	}

	for i := range r.data {
		r.data[i] = nil
	}
	r.size = 0
	r.head = 0
	return out
}

// Size returns the current number of frames held.
func (r *Ring) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}
