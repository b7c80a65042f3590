package frame

import "sync"

// Store is the hand-off point between the single capture loop and any number
// of viewers. Publish replaces the slot content, Snapshot reads it; latest
// wins, intermediate frames may never be observed by anyone. Neither side
// ever blocks the other.
type Store interface {
	// Publish replaces the current frame. O(1), never blocks on readers.
	// The frame must not be modified after the call.
	Publish(f *Frame)

	// Snapshot returns the most recently published frame, or nil before the
	// first publish. The returned frame stays valid after the slot is
	// overwritten; callers hold their own reference.
	Snapshot() *Frame
}

type latestStore struct {
	mu  sync.Mutex
	cur *Frame
}

// NewStore returns a single-slot Store guarded by a mutex. The lock only
// covers the pointer swap, never I/O.
func NewStore() Store {
	return &latestStore{}
}

func (s *latestStore) Publish(f *Frame) {
	s.mu.Lock()
	s.cur = f
	s.mu.Unlock()
}

func (s *latestStore) Snapshot() *Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}
