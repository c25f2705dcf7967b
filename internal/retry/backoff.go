package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Backoff computes exponentially growing delays.
type Backoff struct {
	Initial time.Duration // Delay before the first retry
	Max     time.Duration // Delay cap
}

// FrameBackoff returns the camera retry schedule for a given frame rate:
// start at a tenth of the frame interval, never exceed one full interval.
func FrameBackoff(fps float64) Backoff {
	if fps <= 0 {
		fps = 30
	}
	interval := time.Duration(float64(time.Second) / fps)
	return Backoff{Initial: interval / 10, Max: interval}
}

// Delay returns the wait before the given attempt (1-based).
//
// Formula: delay = Initial * 2^(attempt-1), capped at Max.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 32 {
		return b.Max
	}
	delay := b.Initial * time.Duration(1<<uint(attempt-1))
	if b.Max > 0 && (delay > b.Max || delay <= 0) {
		delay = b.Max
	}
	return delay
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Config bounds RunWithReconnect.
type Config struct {
	MaxRetries int
	Backoff    Backoff
}

// DefaultConfig returns the connection retry defaults: 5 retries starting at
// 1 second, capped at 30 seconds.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 5,
		Backoff:    Backoff{Initial: time.Second, Max: 30 * time.Second},
	}
}

// ConnectFunc attempts to establish a connection.
type ConnectFunc func(ctx context.Context) error

// RunWithReconnect calls connectFn until it succeeds, the retry budget is
// spent or ctx is cancelled. name prefixes the log lines.
func RunWithReconnect(ctx context.Context, name string, connectFn ConnectFunc, cfg Config) error {
	tracker := NewFailureTracker(cfg.MaxRetries)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := connectFn(ctx)
		if err == nil {
			if n := tracker.Count(); n > 0 {
				slog.Info(name+": connected after retries", "attempts", n+1)
			}
			return nil
		}

		attempt := tracker.RecordFailure()
		if tracker.IsExhausted() {
			return fmt.Errorf("%s: max retries exceeded (%d attempts): %w", name, attempt, err)
		}

		delay := cfg.Backoff.Delay(attempt)
		slog.Warn(name+": connection failed, retrying",
			"error", err,
			"attempt", attempt,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
		)
		if err := Sleep(ctx, delay); err != nil {
			return err
		}
	}
}
