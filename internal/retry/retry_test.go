package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// TestFailureTracker_Threshold validates exhaustion only after max+1
// consecutive failures.
func TestFailureTracker_Threshold(t *testing.T) {
	tr := NewFailureTracker(5)

	for i := 1; i <= 5; i++ {
		tr.RecordFailure()
		if tr.IsExhausted() {
			t.Fatalf("exhausted after %d failures, max is 5", i)
		}
	}
	tr.RecordFailure()
	if !tr.IsExhausted() {
		t.Error("expected exhaustion after 6 consecutive failures")
	}
}

func TestFailureTracker_SuccessResets(t *testing.T) {
	tr := NewFailureTracker(2)
	tr.RecordFailure()
	tr.RecordFailure()
	tr.RecordSuccess()
	tr.RecordFailure()
	tr.RecordFailure()

	if tr.IsExhausted() {
		t.Error("success must reset the consecutive count")
	}
	if tr.Count() != 2 {
		t.Errorf("Count = %d, want 2", tr.Count())
	}
	if tr.Total() != 4 {
		t.Errorf("Total = %d, want 4", tr.Total())
	}
}

func TestFailureTracker_ZeroMax(t *testing.T) {
	tr := NewFailureTracker(0)
	if tr.IsExhausted() {
		t.Fatal("fresh tracker must not be exhausted")
	}
	tr.RecordFailure()
	if !tr.IsExhausted() {
		t.Error("max=0 must exhaust on the first failure")
	}
}

func TestFailureTracker_Concurrent(t *testing.T) {
	tr := NewFailureTracker(1000)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.RecordFailure()
			}
		}()
	}
	wg.Wait()
	if tr.Count() != 800 {
		t.Errorf("Count = %d, want 800", tr.Count())
	}
}

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond}
	want := []time.Duration{10, 20, 40, 50, 50}
	for i, w := range want {
		if got := b.Delay(i + 1); got != w*time.Millisecond {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w*time.Millisecond)
		}
	}
	if got := b.Delay(100); got != b.Max {
		t.Errorf("Delay(100) = %v, want cap", got)
	}
}

func TestFrameBackoff(t *testing.T) {
	b := FrameBackoff(25)
	if b.Max != 40*time.Millisecond || b.Initial != 4*time.Millisecond {
		t.Errorf("FrameBackoff(25) = %+v", b)
	}
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep err = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep did not return promptly on cancellation")
	}
}

func TestRunWithReconnect_EventualSuccess(t *testing.T) {
	calls := 0
	cfg := Config{MaxRetries: 3, Backoff: Backoff{Initial: time.Millisecond, Max: 2 * time.Millisecond}}

	err := RunWithReconnect(context.Background(), "test", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("refused")
		}
		return nil
	}, cfg)

	if err != nil {
		t.Fatalf("RunWithReconnect: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRunWithReconnect_Exhausted(t *testing.T) {
	calls := 0
	boom := errors.New("refused")
	cfg := Config{MaxRetries: 2, Backoff: Backoff{Initial: time.Millisecond, Max: time.Millisecond}}

	err := RunWithReconnect(context.Background(), "test", func(ctx context.Context) error {
		calls++
		return boom
	}, cfg)

	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (1 + 2 retries)", calls)
	}
}
