package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/mapper"
)

// Default values applied by Validate.
const (
	DefaultAddress     = "ws://localhost:8001"
	DefaultAuthFile    = "auth.json"
	DefaultModel       = "face_landmarker_v2_with_blendshapes.task"
	DefaultMaxFailures = 5
)

// Validate checks if the configuration is valid and fills defaults
func Validate(cfg *Config) error {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	// VTS
	if cfg.VTS.Address == "" {
		cfg.VTS.Address = DefaultAddress
	}
	if !strings.HasPrefix(cfg.VTS.Address, "ws://") && !strings.HasPrefix(cfg.VTS.Address, "wss://") {
		return fmt.Errorf("vts.address must be a ws:// or wss:// URL, got %q", cfg.VTS.Address)
	}
	if cfg.VTS.AuthFile == "" {
		cfg.VTS.AuthFile = DefaultAuthFile
	}
	if cfg.VTS.MaxFailures < 0 {
		return fmt.Errorf("vts.max_failures must be >= 0")
	}
	if cfg.VTS.Timeout <= 0 {
		cfg.VTS.Timeout = 2 * time.Second
	}

	// Camera
	switch cfg.Camera.Backend {
	case "":
		cfg.Camera.Backend = "gocv"
	case "gocv", "gstreamer", "synthetic":
	default:
		return fmt.Errorf("camera.backend: unknown backend %q (must be gocv, gstreamer or synthetic)", cfg.Camera.Backend)
	}
	if cfg.Camera.Device < 0 {
		return fmt.Errorf("camera.device must be >= 0")
	}
	if cfg.Camera.Width <= 0 {
		cfg.Camera.Width = 1280
	}
	if cfg.Camera.Height <= 0 {
		cfg.Camera.Height = 720
	}
	if cfg.Camera.FPS <= 0 {
		cfg.Camera.FPS = 30
	}
	if cfg.Camera.MaxFailures < 0 {
		return fmt.Errorf("camera.max_failures must be >= 0")
	}

	// Detector
	if cfg.Detector.Command == "" {
		cfg.Detector.Command = "python3"
	}
	if len(cfg.Detector.Args) == 0 {
		cfg.Detector.Args = []string{"-u", "detector/face_landmarker.py"}
	}
	if cfg.Detector.Model == "" {
		cfg.Detector.Model = DefaultModel
	}
	if cfg.Detector.JPEGQuality == 0 {
		cfg.Detector.JPEGQuality = 85
	}
	if cfg.Detector.JPEGQuality < 1 || cfg.Detector.JPEGQuality > 100 {
		return fmt.Errorf("detector.jpeg_quality must be in [1,100]")
	}
	if cfg.Detector.InputWidth < 0 {
		return fmt.Errorf("detector.input_width must be >= 0")
	}

	// Mapper
	p, err := mapper.Lookup(cfg.Mapper.Policy)
	if err != nil {
		return fmt.Errorf("mapper.policy: %w", err)
	}
	cfg.Mapper.Policy = p.Name
	if err := p.Apply(cfg.Mapper.Mode).Validate(); err != nil {
		return fmt.Errorf("mapper.mode: %w", err)
	}

	// MQTT (optional)
	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = "mediapipe-forward-" + uuid.NewString()[:8]
		}
		if cfg.MQTT.Topics.Control == "" {
			cfg.MQTT.Topics.Control = "mediapipe-forward/control"
		}
		if cfg.MQTT.Topics.Telemetry == "" {
			cfg.MQTT.Topics.Telemetry = "mediapipe-forward/telemetry"
		}
		if cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
		if cfg.MQTT.TelemetryInterval <= 0 {
			cfg.MQTT.TelemetryInterval = 5 * time.Second
		}
	}

	return nil
}
