package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/capture"
	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/config"
	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/control"
	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/detector"
	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/emitter"
	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/frameslot"
	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/health"
	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/mapper"
	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/pipeline"
	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/recorder"
)

var errDetectorExited = errors.New("detector process exited")

var runOpts struct {
	Register bool
	Policy   string
	Record   string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Stream face tracking to the engine until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runOpts.Policy != "" {
			cfg.Mapper.Policy = runOpts.Policy
		}
		if runOpts.Record != "" {
			cfg.Recorder.Path = runOpts.Record
		}
		if runOpts.Register {
			cfg.VTS.RegisterParams = true
		}
		if err := config.Validate(cfg); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		return runForwarder(cmd.Context(), cfg)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runOpts.Register, "register", false, "Register the policy's custom parameters before streaming")
	runCmd.Flags().StringVar(&runOpts.Policy, "policy", "", "Mapper policy (overrides mapper.policy)")
	runCmd.Flags().StringVar(&runOpts.Record, "record", "", "SQLite file to record the session into (overrides recorder.path)")
	rootCmd.AddCommand(runCmd)
}

// runForwarder wires the capture, detector, loop and optional services, runs
// until ctx is cancelled or the loop terminates, then shuts everything down
// within cfg.ShutdownTimeout.
func runForwarder(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting mediapipe forward",
		"version", Version,
		"address", cfg.VTS.Address,
		"policy", cfg.Mapper.Policy,
	)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	policy, err := resolvePolicy(cfg.Mapper)
	if err != nil {
		return err
	}
	m, err := mapper.New(policy)
	if err != nil {
		return fmt.Errorf("failed to build mapper: %w", err)
	}

	token, err := loadToken(ctx, cfg.VTS)
	if err != nil {
		return fmt.Errorf("failed to obtain token: %w", err)
	}

	client, err := connect(ctx, cfg.VTS, cfg.VTS.Timeout)
	if err != nil {
		return fmt.Errorf("failed to connect to engine: %w", err)
	}
	defer client.Close()

	if cfg.VTS.RegisterParams {
		if err := client.Authenticate(ctx, token); err != nil {
			return fmt.Errorf("%w: %w", pipeline.ErrAuthFailed, err)
		}
		n, err := registerParams(ctx, client, m)
		if err != nil {
			return fmt.Errorf("failed to register parameters: %w", err)
		}
		slog.Info("custom parameters registered", "count", n)
	}

	cam, err := openCamera(cfg.Camera)
	if err != nil {
		return fmt.Errorf("failed to open camera: %w", err)
	}
	defer cam.Close()

	var measuredFPS float64
	if cfg.Camera.Warmup > 0 {
		stats, err := capture.Warmup(ctx, cam, cfg.Camera.Warmup)
		if err != nil {
			return fmt.Errorf("camera warm-up failed: %w", err)
		}
		if !stats.IsStable {
			slog.Warn("camera frame rate is unstable",
				"fps_mean", stats.FPSMean,
				"fps_stddev", stats.FPSStdDev,
				"jitter_mean", stats.JitterMean,
			)
		}
		measuredFPS = stats.FPSMean
	}

	slot := frameslot.New()
	defer slot.Close()

	bridge, err := detector.NewBridge(detector.Config{
		Command:     cfg.Detector.Command,
		Args:        cfg.Detector.Args,
		Model:       cfg.Detector.Model,
		UseGPU:      cfg.Detector.UseGPU,
		InputWidth:  cfg.Detector.InputWidth,
		JPEGQuality: cfg.Detector.JPEGQuality,
	}, slot)
	if err != nil {
		return err
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("failed to start detector: %w", err)
	}
	defer func() {
		if err := bridge.Stop(); err != nil {
			slog.Warn("detector stop failed", "error", err)
		}
	}()
	go func() {
		select {
		case <-bridge.Exited():
			cancel(errDetectorExited)
		case <-ctx.Done():
		}
	}()

	var rec pipeline.Recorder
	if cfg.Recorder.Path != "" {
		store, err := recorder.Open(cfg.Recorder.Path)
		if err != nil {
			return fmt.Errorf("failed to open recorder: %w", err)
		}
		defer store.Close()

		session, err := store.BeginSession(policy.Name, policy.Mode)
		if err != nil {
			return fmt.Errorf("failed to begin recording: %w", err)
		}
		defer func() {
			if err := session.End(); err != nil {
				slog.Warn("failed to end recording", "error", err)
			}
			slog.Info("recording finished", "session_id", session.ID(), "frames", session.Frames())
		}()
		slog.Info("recording session", "path", cfg.Recorder.Path, "session_id", session.ID())
		rec = session
	}

	loop, err := pipeline.New(pipeline.Config{
		Token:             token,
		SendMaxFailures:   cfg.VTS.MaxFailures,
		CameraMaxFailures: cfg.Camera.MaxFailures,
		FPS:               measuredFPS,
		Mode:              cfg.Mapper.Mode,
	}, cam, bridge, slot, client, m, rec)
	if err != nil {
		return err
	}

	sources := health.Sources{
		Loop:     loop.Stats,
		Detector: bridge.Metrics,
		Slot:     slot.Stats,
		Client:   client.Stats,
	}

	if cfg.MQTT.Broker != "" {
		stop, err := startControlPlane(ctx, cfg.MQTT, loop, &sources, func() { cancel(nil) })
		if err != nil {
			return err
		}
		defer stop()
	}

	var healthSrv *health.Server
	if cfg.Health.Addr != "" {
		healthSrv = health.NewServer(cfg.Health.Addr, sources)
		if err := healthSrv.Start(); err != nil {
			return fmt.Errorf("failed to start health server: %w", err)
		}
	}

	runErr := loop.Run(ctx)
	if runErr == nil {
		if cause := context.Cause(ctx); errors.Is(cause, errDetectorExited) {
			runErr = cause
		}
	}
	if runErr != nil {
		slog.Error("streaming terminated", "error", runErr)
	}

	slog.Info("shutting down gracefully", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if healthSrv != nil {
		if err := healthSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("health server shutdown failed", "error", err)
		}
	}

	st := loop.Stats()
	slog.Info("mediapipe forward stopped",
		"frames_read", st.FramesRead,
		"frames_sent", st.FramesSent,
		"empty_batches", st.EmptyBatches,
		"slot_drops", st.SlotDrops,
		"uptime_seconds", st.UptimeSeconds,
	)
	return runErr
}

// startControlPlane connects to the broker, subscribes the command handler
// and starts periodic telemetry. The returned func tears it down.
func startControlPlane(ctx context.Context, cfg config.MQTTConfig, loop *pipeline.Loop, sources *health.Sources, shutdown func()) (func(), error) {
	em := emitter.NewMQTTEmitter(cfg)
	if err := em.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker: %w", err)
	}
	sources.MQTTConnected = em.IsConnected

	handler := control.NewHandler(cfg, em.Client, em, control.CommandCallbacks{
		OnGetStatus: func() map[string]any {
			st := loop.Stats()
			return map[string]any{
				"state":           st.State,
				"policy":          st.Policy,
				"paused":          st.Paused,
				"frames_sent":     st.FramesSent,
				"empty_batches":   st.EmptyBatches,
				"send_failures":   st.SendFailures,
				"camera_failures": st.CameraFailures,
				"uptime_seconds":  st.UptimeSeconds,
			}
		},
		OnPause: func() error {
			loop.Pause()
			return nil
		},
		OnResume: func() error {
			loop.Resume()
			return nil
		},
		OnSetPolicy:    loop.SetPolicy,
		OnListPolicies: mapper.Presets,
		OnShutdown: func() error {
			shutdown()
			return nil
		},
	})
	if err := handler.Start(ctx); err != nil {
		em.Disconnect()
		return nil, err
	}

	src := *sources
	go em.RunTelemetry(ctx, cfg.TelemetryInterval, func() any {
		return health.Check(src)
	})

	return func() {
		handler.Stop()
		if err := em.Disconnect(); err != nil {
			slog.Warn("mqtt disconnect failed", "error", err)
		}
		slog.Info("control plane stopped", "stats", em.Stats())
	}, nil
}
