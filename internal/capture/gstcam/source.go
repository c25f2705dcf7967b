package gstcam

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/capture"
	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/types"
)

// Source is a GStreamer-backed camera.
type Source struct {
	*capture.Counter

	cfg      capture.Config
	elements *pipelineElements
	frames   chan *image.RGBA

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	lastErr error

	dropped   atomic.Uint64
	errCounts [4]atomic.Uint64 // indexed by capture.ErrorCategory
	startedAt time.Time
	closeOnce sync.Once
}

// Open builds and starts the pipeline. It waits up to 5 seconds for the
// pipeline to reach PLAYING.
func Open(cfg capture.Config) (*Source, error) {
	elements, err := createPipeline(cfg)
	if err != nil {
		return nil, fmt.Errorf("gstcam: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Source{
		Counter:   capture.NewCounter(),
		cfg:       cfg,
		elements:  elements,
		frames:    make(chan *image.RGBA, 1),
		cancel:    cancel,
		startedAt: time.Now(),
	}

	elements.appSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onNewSample,
	})

	if err := elements.pipeline.SetState(gst.StatePlaying); err != nil {
		cancel()
		destroyPipeline(elements)
		return nil, fmt.Errorf("gstcam: failed to start pipeline: %w", err)
	}

	bus := elements.pipeline.GetPipelineBus()
	if msg := bus.TimedPop(5 * time.Second); msg != nil && msg.Type() == gst.MessageError {
		gerr := msg.ParseError()
		cancel()
		destroyPipeline(elements)
		return nil, fmt.Errorf("gstcam: pipeline failed to start [%s]: %s",
			capture.ClassifyError(gerr.Error(), gerr.DebugString()), gerr.Error())
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.monitorBus(ctx)
	}()

	slog.Info("gstcam: pipeline playing", "device", cfg.Device, "width", cfg.Width, "height", cfg.Height, "fps", cfg.FPS)
	return s, nil
}

// onNewSample copies the appsink buffer into an image and offers it to the
// frame channel, replacing an unread frame.
func (s *Source) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		// a single bad sample must not stop the stream
		slog.Warn("gstcam: failed to pull sample, skipping frame")
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("gstcam: sample has no buffer, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	want := s.cfg.Width * s.cfg.Height * 4
	if len(data) < want {
		buffer.Unmap()
		slog.Warn("gstcam: short buffer", "size", len(data), "want", want)
		return gst.FlowOK
	}

	img := image.NewRGBA(image.Rect(0, 0, s.cfg.Width, s.cfg.Height))
	copy(img.Pix, data[:want])
	buffer.Unmap()

	select {
	case s.frames <- img:
	default:
		// replace the unread frame with this one
		select {
		case <-s.frames:
			s.dropped.Add(1)
		default:
		}
		select {
		case s.frames <- img:
		default:
			s.dropped.Add(1)
		}
	}
	return gst.FlowOK
}

// monitorBus polls the pipeline bus until ctx is done, recording EOS and
// errors so the next Read fails.
func (s *Source) monitorBus(ctx context.Context) {
	bus := s.elements.pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Warn("gstcam: end of stream", "uptime", time.Since(s.startedAt))
			s.setErr(fmt.Errorf("end of stream"))

		case gst.MessageError:
			gerr := msg.ParseError()
			category := capture.ClassifyError(gerr.Error(), gerr.DebugString())
			s.errCounts[category].Add(1)
			slog.Error("gstcam: pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"category", category.String(),
				"uptime", time.Since(s.startedAt),
			)
			s.setErr(fmt.Errorf("pipeline error [%s]: %s", category, gerr.Error()))
		}
	}
}

func (s *Source) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// takeErr returns and clears the last pipeline error.
func (s *Source) takeErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.lastErr
	s.lastErr = nil
	return err
}

// readTimeout is how long Read waits before reporting a failed read.
func (s *Source) readTimeout() time.Duration {
	fps := s.cfg.FPS
	if fps <= 0 {
		fps = 30
	}
	d := time.Duration(3 * float64(time.Second) / fps)
	if d < 500*time.Millisecond {
		d = 500 * time.Millisecond
	}
	return d
}

// Read waits for the next frame from the pipeline.
func (s *Source) Read(ctx context.Context) (*types.CameraFrame, error) {
	if err := s.takeErr(); err != nil {
		return nil, s.Fail("%v", err)
	}

	timer := time.NewTimer(s.readTimeout())
	defer timer.Stop()

	select {
	case img := <-s.frames:
		return s.Stamp(img, -1), nil
	case <-timer.C:
		return nil, s.Fail("no frame within %v", s.readTimeout())
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FPS returns the configured rate; videorate enforces it.
func (s *Source) FPS() float64 {
	return s.cfg.FPS
}

// Dropped returns the number of frames replaced before they were read.
func (s *Source) Dropped() uint64 {
	return s.dropped.Load()
}

// Close stops the bus monitor and tears the pipeline down.
func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		err = destroyPipeline(s.elements)
		slog.Info("gstcam: pipeline stopped", "frames", s.Stats().FramesRead, "dropped", s.dropped.Load())
	})
	return err
}
