// Package capture provides camera frame sources.
//
// A Source is pulled synchronously by the streaming loop: Read blocks until a
// frame is available, the read fails or ctx is done. Backends needing cgo
// (OpenCV, GStreamer) live in subpackages so the rest of the module builds
// and tests without them.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/types"
)

// ErrReadFailed means no frame was available from the capture source.
// Recoverable: the caller retries with backoff.
var ErrReadFailed = errors.New("capture: read failed")

// Source is a camera frame source.
type Source interface {
	// Read blocks for the next frame. A failed read returns an error
	// wrapping ErrReadFailed.
	Read(ctx context.Context) (*types.CameraFrame, error)
	// FPS returns the frame rate the device reports, or the configured one.
	FPS() float64
	Close() error
}

// Config contains camera settings shared by all backends
type Config struct {
	Device int
	Width  int
	Height int
	FPS    float64
}

// Stats is a snapshot of source counters.
type Stats struct {
	FramesRead  uint64 `json:"frames_read"`
	ReadsFailed uint64 `json:"reads_failed"`
}

// Counter stamps frames with a sequence number, trace id and capture time and
// counts outcomes. Backends embed it.
type Counter struct {
	seq    atomic.Uint64
	failed atomic.Uint64
	start  time.Time
}

// NewCounter starts the frame clock now.
func NewCounter() *Counter {
	return &Counter{start: time.Now()}
}

// Stamp wraps img into a CameraFrame. A negative timestampMs is replaced by
// the time since the counter started.
func (c *Counter) Stamp(img image.Image, timestampMs int64) *types.CameraFrame {
	now := time.Now()
	if timestampMs < 0 {
		timestampMs = now.Sub(c.start).Milliseconds()
	}
	return &types.CameraFrame{
		Seq:         c.seq.Add(1),
		TraceID:     uuid.New().String(),
		TimestampMs: timestampMs,
		CapturedAt:  now,
		Image:       img,
	}
}

// Fail counts a failed read and returns an error wrapping ErrReadFailed.
func (c *Counter) Fail(format string, args ...any) error {
	c.failed.Add(1)
	return fmt.Errorf("%w: %s", ErrReadFailed, fmt.Sprintf(format, args...))
}

// Stats returns the counters.
func (c *Counter) Stats() Stats {
	return Stats{FramesRead: c.seq.Load(), ReadsFailed: c.failed.Load()}
}
