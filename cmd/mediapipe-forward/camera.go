package main

import (
	"fmt"
	"log/slog"

	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/capture"
	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/capture/gocvcam"
	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/capture/gstcam"
	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/config"
)

// openCamera creates the capture backend selected by cfg.Backend.
func openCamera(cfg config.CameraConfig) (capture.Source, error) {
	cc := capture.Config{
		Device: cfg.Device,
		Width:  cfg.Width,
		Height: cfg.Height,
		FPS:    cfg.FPS,
	}

	slog.Info("opening camera",
		"backend", cfg.Backend,
		"device", cfg.Device,
		"resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"fps", cfg.FPS,
	)

	switch cfg.Backend {
	case "gocv":
		src, err := gocvcam.Open(cc)
		if err != nil {
			return nil, err
		}
		return src, nil
	case "gstreamer":
		src, err := gstcam.Open(cc)
		if err != nil {
			return nil, err
		}
		return src, nil
	case "synthetic":
		return capture.NewSyntheticSource(cc), nil
	default:
		return nil, fmt.Errorf("unknown camera backend %q", cfg.Backend)
	}
}
