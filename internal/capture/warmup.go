package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
)

const (
	// fpsStabilityThreshold is the maximum FPS standard deviation as a
	// fraction of mean FPS. 30 FPS mean is stable below 4.5 FPS stddev.
	fpsStabilityThreshold = 0.15

	// jitterStabilityThreshold is the maximum mean jitter as a fraction of the
	// expected inter-frame interval.
	jitterStabilityThreshold = 0.20
)

// WarmupStats contains statistics collected during warm-up
type WarmupStats struct {
	FramesReceived int           `json:"frames_received"` // Frames read during warm-up
	ReadsFailed    int           `json:"reads_failed"`    // Failed reads during warm-up
	Duration       time.Duration `json:"duration"`        // Actual warm-up duration
	FPSMean        float64       `json:"fps_mean"`        // Mean FPS across all frames
	FPSStdDev      float64       `json:"fps_stddev"`      // Standard deviation of instantaneous FPS
	FPSMin         float64       `json:"fps_min"`
	FPSMax         float64       `json:"fps_max"`
	IsStable       bool          `json:"is_stable"`   // stddev < 15% of mean AND jitter < 20% of interval
	JitterMean     float64       `json:"jitter_mean"` // seconds
	JitterMax      float64       `json:"jitter_max"`  // seconds
}

// Warmup reads frames from src for duration, discarding them, and measures
// the real frame rate. Failed reads are counted, not fatal; fewer than two
// frames is an error.
func Warmup(ctx context.Context, src Source, duration time.Duration) (*WarmupStats, error) {
	slog.Info("capture: starting warm-up", "duration", duration)

	start := time.Now()
	warmupCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	frameTimes := make([]time.Time, 0, 128)
	failed := 0
	for warmupCtx.Err() == nil {
		frame, err := src.Read(warmupCtx)
		if err != nil {
			if errors.Is(err, ErrReadFailed) {
				failed++
				continue
			}
			break
		}
		frameTimes = append(frameTimes, frame.CapturedAt)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats := CalculateFPSStats(frameTimes, time.Since(start))
	stats.ReadsFailed = failed
	if stats.FramesReceived < 2 {
		return stats, fmt.Errorf("capture: warm-up received %d frames, need at least 2", stats.FramesReceived)
	}

	slog.Info("capture: warm-up complete",
		"frames", stats.FramesReceived,
		"reads_failed", failed,
		"fps_mean", fmt.Sprintf("%.2f", stats.FPSMean),
		"fps_stddev", fmt.Sprintf("%.2f", stats.FPSStdDev),
		"stable", stats.IsStable,
	)
	return stats, nil
}

// CalculateFPSStats calculates FPS statistics from frame timestamps.
//
// Stability:
//   - FPS: stddev of instantaneous FPS < 15% of mean FPS
//   - Jitter: mean |interval - expected| < 20% of expected interval
func CalculateFPSStats(frameTimes []time.Time, totalDuration time.Duration) *WarmupStats {
	n := len(frameTimes)
	stats := &WarmupStats{FramesReceived: n, Duration: totalDuration}
	if n == 0 || totalDuration <= 0 {
		return stats
	}
	stats.FPSMean = float64(n) / totalDuration.Seconds()

	intervals := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		if d := frameTimes[i].Sub(frameTimes[i-1]).Seconds(); d > 0 {
			intervals = append(intervals, d)
		}
	}
	if len(intervals) == 0 {
		return stats
	}

	stats.FPSMin = math.Inf(1)
	var sumSquares float64
	for _, d := range intervals {
		fps := 1 / d
		stats.FPSMin = math.Min(stats.FPSMin, fps)
		stats.FPSMax = math.Max(stats.FPSMax, fps)
		diff := fps - stats.FPSMean
		sumSquares += diff * diff
	}
	stats.FPSStdDev = math.Sqrt(sumSquares / float64(len(intervals)))

	expected := 1 / stats.FPSMean
	var jitterSum float64
	for _, d := range intervals {
		j := math.Abs(d - expected)
		jitterSum += j
		stats.JitterMax = math.Max(stats.JitterMax, j)
	}
	stats.JitterMean = jitterSum / float64(len(intervals))

	stats.IsStable = stats.FPSStdDev < stats.FPSMean*fpsStabilityThreshold &&
		stats.JitterMean < expected*jitterStabilityThreshold
	return stats
}
