package frameslot_test

import (
	"sync"
	"testing"
	"time"

	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/frameslot"
	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/types"
)

func frame(seq uint64) *types.DetectionFrame {
	return &types.DetectionFrame{Seq: seq, TimestampMs: int64(seq) * 33}
}

// TestPutNonBlocking validates Put() returns immediately with no consumer.
//
// Scenario:
//  1. Put 1000 frames in a tight loop, nobody takes
//  2. Assert: total time well under 100ms
//  3. Assert: 999 drops recorded (every put but the first overwrote a fresh frame)
func TestPutNonBlocking(t *testing.T) {
	s := frameslot.New()

	start := time.Now()
	for i := 1; i <= 1000; i++ {
		s.Put(frame(uint64(i)))
	}
	elapsed := time.Since(start)

	if elapsed > 100*time.Millisecond {
		t.Errorf("Put() blocked: elapsed=%v (expected <100ms)", elapsed)
	}

	stats := s.Stats()
	if stats.Drops != 999 {
		t.Errorf("Drops = %d, want 999", stats.Drops)
	}
	t.Logf("1000 puts in %v", elapsed)
}

// TestDropOldest validates mailbox overwrite semantics.
//
// Scenario:
//  1. Put A, B, C without taking
//  2. TakeIfFresh returns C only
//  3. A second TakeIfFresh returns nothing
func TestDropOldest(t *testing.T) {
	s := frameslot.New()

	s.Put(frame(1))
	s.Put(frame(2))
	s.Put(frame(3))

	got, ok := s.TakeIfFresh()
	if !ok {
		t.Fatal("expected a fresh frame")
	}
	if got.Seq != 3 {
		t.Errorf("took seq %d, want 3", got.Seq)
	}

	if _, ok := s.TakeIfFresh(); ok {
		t.Error("frame handed out as fresh twice")
	}

	if s.Stats().Drops != 2 {
		t.Errorf("Drops = %d, want 2", s.Stats().Drops)
	}
}

// TestTakeEmpty validates an empty slot reports nothing fresh.
func TestTakeEmpty(t *testing.T) {
	s := frameslot.New()
	if f, ok := s.TakeIfFresh(); ok || f != nil {
		t.Errorf("TakeIfFresh on empty slot = %v, %v", f, ok)
	}
	s.Put(nil)
	if _, ok := s.TakeIfFresh(); ok {
		t.Error("nil put must be ignored")
	}
}

// TestNoDropAfterTake validates that a taken frame is not counted as dropped
// when the next one arrives.
func TestNoDropAfterTake(t *testing.T) {
	s := frameslot.New()
	s.Put(frame(1))
	s.TakeIfFresh()
	s.Put(frame(2))

	if d := s.Stats().Drops; d != 0 {
		t.Errorf("Drops = %d, want 0", d)
	}
	if l := s.Latest(); l == nil || l.Seq != 2 {
		t.Errorf("Latest = %v, want seq 2", l)
	}
}

// TestClose validates puts are rejected after Close.
func TestClose(t *testing.T) {
	s := frameslot.New()
	s.Put(frame(1))
	s.Close()
	s.Close()
	s.Put(frame(2))

	if _, ok := s.TakeIfFresh(); ok {
		t.Error("TakeIfFresh returned a frame after Close")
	}
}

// TestConcurrentProducerConsumer validates the consumer only ever observes
// non-decreasing sequence numbers while a producer overwrites concurrently.
//
// Run with -race to exercise the locking discipline.
func TestConcurrentProducerConsumer(t *testing.T) {
	s := frameslot.New()
	const n = 5000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= n; i++ {
			s.Put(frame(uint64(i)))
		}
	}()

	var last uint64
	taken := 0
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f, ok := s.TakeIfFresh()
		if ok {
			if f.Seq < last {
				t.Fatalf("sequence went backwards: %d after %d", f.Seq, last)
			}
			last = f.Seq
			taken++
			if last == n {
				break
			}
		}
	}
	wg.Wait()

	stats := s.Stats()
	if stats.Puts != n {
		t.Errorf("Puts = %d, want %d", stats.Puts, n)
	}
	if stats.Takes+stats.Drops > n {
		t.Errorf("takes(%d)+drops(%d) exceeds puts(%d)", stats.Takes, stats.Drops, n)
	}
	t.Logf("taken=%d drops=%d last=%d", taken, stats.Drops, last)
}
