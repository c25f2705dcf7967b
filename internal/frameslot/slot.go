// Package frameslot holds the most recent detection result for the streaming
// loop.
//
// The detector delivers results asynchronously; the streaming loop consumes
// them synchronously. Slot sits between the two with mailbox semantics:
//   - Single slot, overwrite on Put (drop-oldest)
//   - At most one frame in flight
//   - Consumer always observes the newest frame available at read time
//
// It is not a queue. A result that arrives before the consumer took the
// previous one replaces it and is counted as a drop.
package frameslot

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/types"
)

// Slot is a single-slot, overwrite-on-write holder for the latest detection
// frame plus a fresh flag.
//
// Thread-safety:
//   - Put: called by the detector result goroutine (producer)
//   - TakeIfFresh: called by the streaming loop (single consumer)
//   - Stats: safe from any goroutine
//
// The lock is held only to swap the frame reference and flag; neither side
// performs computation or I/O while holding it.
type Slot struct {
	mu    sync.Mutex
	frame *types.DetectionFrame
	fresh bool

	closed bool

	lastPutAt  time.Time
	lastTakeAt time.Time

	puts  uint64
	takes uint64
	drops uint64 // fresh frames overwritten before they were taken
}

// New returns an empty slot.
func New() *Slot {
	return &Slot{}
}

// Put stores a frame as the latest result and marks it fresh.
//
// Semantics:
//   - Non-blocking, O(1)
//   - Overwrite policy: new frame replaces old
//   - Drop tracking: overwriting a frame still marked fresh increments drops
//   - No-op after Close
//
// The caller gives up ownership of frame.
func (s *Slot) Put(frame *types.DetectionFrame) {
	if frame == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if s.fresh {
		atomic.AddUint64(&s.drops, 1)
	}

	s.frame = frame
	s.fresh = true
	s.lastPutAt = time.Now()
	atomic.AddUint64(&s.puts, 1)
}

// TakeIfFresh returns the latest frame and clears the fresh flag, or
// (nil, false) if nothing new arrived since the previous take.
//
// The returned frame is owned by the caller. The slot keeps its reference only
// for Latest, which never hands out a frame as fresh twice.
func (s *Slot) TakeIfFresh() (*types.DetectionFrame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.fresh || s.closed {
		return nil, false
	}

	s.fresh = false
	s.lastTakeAt = time.Now()
	atomic.AddUint64(&s.takes, 1)
	return s.frame, true
}

// Latest returns the most recent frame regardless of freshness.
func (s *Slot) Latest() *types.DetectionFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

// Close rejects further puts and makes TakeIfFresh return nothing.
// Idempotent.
func (s *Slot) Close() {
	s.mu.Lock()
	s.closed = true
	s.fresh = false
	s.mu.Unlock()
}

// Stats is a point-in-time snapshot of slot activity.
type Stats struct {
	Puts       uint64    `json:"puts"`
	Takes      uint64    `json:"takes"`
	Drops      uint64    `json:"drops"`
	Pending    bool      `json:"pending"`
	LastPutAt  time.Time `json:"last_put_at"`
	LastTakeAt time.Time `json:"last_take_at"`
}

// Stats returns a snapshot. Counters may be slightly stale relative to each
// other; acceptable for monitoring.
func (s *Slot) Stats() Stats {
	s.mu.Lock()
	pending := s.fresh
	lastPut := s.lastPutAt
	lastTake := s.lastTakeAt
	s.mu.Unlock()

	return Stats{
		Puts:       atomic.LoadUint64(&s.puts),
		Takes:      atomic.LoadUint64(&s.takes),
		Drops:      atomic.LoadUint64(&s.drops),
		Pending:    pending,
		LastPutAt:  lastPut,
		LastTakeAt: lastTake,
	}
}
