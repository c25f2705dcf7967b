// Package gocvcam reads frames from a local camera through OpenCV.
package gocvcam

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/capture"
	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/types"
)

// Source captures frames from a device index with gocv.VideoCapture.
//
// Thread-safety: Read and Close may be called from different goroutines;
// reads are serialized.
type Source struct {
	*capture.Counter

	mu  sync.Mutex
	vc  *gocv.VideoCapture
	mat gocv.Mat
	fps float64
}

// Open opens the camera and requests the configured size and rate. The
// device may settle on different values; FPS reports what it accepted.
func Open(cfg capture.Config) (*Source, error) {
	vc, err := gocv.OpenVideoCapture(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("gocvcam: open device %d: %w", cfg.Device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("gocvcam: device %d not opened", cfg.Device)
	}

	vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	vc.Set(gocv.VideoCaptureFPS, cfg.FPS)

	// allow the camera to initialize
	time.Sleep(20 * time.Millisecond)

	fps := vc.Get(gocv.VideoCaptureFPS)
	if fps <= 0 {
		fps = cfg.FPS
	}

	slog.Info("gocvcam: camera opened",
		"device", cfg.Device,
		"width", int(vc.Get(gocv.VideoCaptureFrameWidth)),
		"height", int(vc.Get(gocv.VideoCaptureFrameHeight)),
		"fps", fps,
	)

	return &Source{
		Counter: capture.NewCounter(),
		vc:      vc,
		mat:     gocv.NewMat(),
		fps:     fps,
	}, nil
}

// Read grabs the next frame. The device blocks until a frame is ready; ctx
// is only checked before the grab.
func (s *Source) Read(ctx context.Context) (*types.CameraFrame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.vc == nil {
		return nil, s.Fail("camera closed")
	}
	if ok := s.vc.Read(&s.mat); !ok || s.mat.Empty() {
		return nil, s.Fail("no frame from device")
	}

	img, err := s.mat.ToImage()
	if err != nil {
		return nil, s.Fail("convert frame: %v", err)
	}
	ts := int64(s.vc.Get(gocv.VideoCapturePosMsec))
	if ts <= 0 {
		ts = -1
	}
	return s.Stamp(img, ts), nil
}

// FPS returns the rate the device reported on open.
func (s *Source) FPS() float64 {
	return s.fps
}

// Close releases the device.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.vc == nil {
		return nil
	}
	s.mat.Close()
	err := s.vc.Close()
	s.vc = nil
	return err
}
