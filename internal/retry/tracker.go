// Package retry counts consecutive failures and paces retries.
//
// A FailureTracker answers one question for a failure-prone operation: has
// it failed too many times in a row? Any success resets the count. The loop
// keeps one tracker per failure domain (camera reads, engine round trips).
package retry

import "sync"

// FailureTracker counts consecutive failures against a limit.
//
// Semantics:
//   - RecordSuccess resets the count to zero
//   - RecordFailure increments it
//   - IsExhausted reports count > max (the limit itself is still tolerated)
//
// Thread-safety: all methods are safe for concurrent use.
type FailureTracker struct {
	mu    sync.Mutex
	max   int
	count int
	total uint64
}

// NewFailureTracker creates a tracker that is exhausted after max+1
// consecutive failures. A negative max is treated as zero.
func NewFailureTracker(max int) *FailureTracker {
	if max < 0 {
		max = 0
	}
	return &FailureTracker{max: max}
}

// RecordSuccess resets the consecutive failure count.
func (t *FailureTracker) RecordSuccess() {
	t.mu.Lock()
	t.count = 0
	t.mu.Unlock()
}

// RecordFailure increments the consecutive failure count and returns it.
func (t *FailureTracker) RecordFailure() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count++
	t.total++
	return t.count
}

// IsExhausted reports whether the consecutive failure count exceeds max.
func (t *FailureTracker) IsExhausted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count > t.max
}

// Count returns the current consecutive failure count.
func (t *FailureTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Total returns the number of failures ever recorded.
func (t *FailureTracker) Total() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Max returns the tolerated number of consecutive failures.
func (t *FailureTracker) Max() int {
	return t.max
}
