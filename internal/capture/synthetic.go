package capture

import (
	"context"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/types"
)

// SyntheticSource generates solid-color frames at a fixed rate. It stands in
// for a camera in tests, demos and dry runs.
type SyntheticSource struct {
	*Counter

	cfg      Config
	interval time.Duration

	mu     sync.Mutex
	next   time.Time
	reads  int
	closed bool

	// FailWhen, when set, makes the n-th read (1-based) fail.
	FailWhen func(n int) bool
}

// NewSyntheticSource creates a generator pacing frames at cfg.FPS.
func NewSyntheticSource(cfg Config) *SyntheticSource {
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if cfg.Width <= 0 {
		cfg.Width = 64
	}
	if cfg.Height <= 0 {
		cfg.Height = 48
	}
	return &SyntheticSource{
		Counter:  NewCounter(),
		cfg:      cfg,
		interval: time.Duration(float64(time.Second) / cfg.FPS),
	}
}

// Read waits for the next frame slot and returns a generated frame.
func (s *SyntheticSource) Read(ctx context.Context) (*types.CameraFrame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, s.Fail("synthetic source closed")
	}
	s.reads++
	n := s.reads
	now := time.Now()
	if s.next.IsZero() || s.next.Before(now) {
		s.next = now
	}
	wait := s.next.Sub(now)
	s.next = s.next.Add(s.interval)
	s.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if s.FailWhen != nil && s.FailWhen(n) {
		return nil, s.Fail("synthetic failure on read %d", n)
	}

	img := image.NewRGBA(image.Rect(0, 0, s.cfg.Width, s.cfg.Height))
	shade := uint8(n * 8)
	fill := color.RGBA{R: shade, G: 128, B: 255 - shade, A: 255}
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = fill.R, fill.G, fill.B, fill.A
	}
	return s.Stamp(img, -1), nil
}

// FPS returns the configured rate.
func (s *SyntheticSource) FPS() float64 {
	return s.cfg.FPS
}

// Close makes further reads fail.
func (s *SyntheticSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
