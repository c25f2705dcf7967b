// Package pipeline runs the streaming loop: camera read, detector hand-off,
// latest-frame take, feature extraction, mapping and one send per fresh frame.
//
// States move Authenticating → Streaming → Terminated. Terminated is
// absorbing. Two independent failure trackers end the session: one for
// consecutive send failures and one for consecutive camera read failures.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/features"
	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/frameslot"
	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/mapper"
	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/retry"
	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/types"
	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/vts"
)

var (
	// ErrDisconnected means consecutive send failures exceeded the limit.
	ErrDisconnected = errors.New("no longer receiving from server")

	// ErrCameraExhausted means consecutive camera read failures exceeded the limit.
	ErrCameraExhausted = errors.New("too many failed attempts getting camera image")

	// ErrAuthFailed means the session could not be established. Always also
	// matches vts.ErrAuthFailed.
	ErrAuthFailed = fmt.Errorf("unable to authorize: %w", vts.ErrAuthFailed)
)

// State of the streaming loop.
type State string

const (
	StateIdle           State = "idle"
	StateAuthenticating State = "authenticating"
	StateStreaming      State = "streaming"
	StateTerminated     State = "terminated"
)

// Camera is the capture source read by the loop. capture.Source satisfies it.
type Camera interface {
	Read(ctx context.Context) (*types.CameraFrame, error)
	FPS() float64
}

// Detector accepts camera frames for asynchronous detection. Results arrive
// in the slot handed to the loop.
type Detector interface {
	DetectAsync(frame *types.CameraFrame) bool
}

// Session is the remote engine connection. *vts.Client satisfies it.
type Session interface {
	Authenticate(ctx context.Context, token string) error
	Send(ctx context.Context, batch *types.ParameterBatch) (bool, error)
}

// Recorder stores each processed frame with the batch produced for it.
type Recorder interface {
	Record(frame *types.DetectionFrame, batch *types.ParameterBatch) error
}

// Config holds loop settings.
type Config struct {
	Token             string
	SendMaxFailures   int
	CameraMaxFailures int
	// FPS overrides the camera's reported rate for the read backoff
	// (e.g. a warmup measurement). Zero uses Camera.FPS().
	FPS float64
	// Mode overrides the injection mode of every policy set on the loop.
	Mode string
}

// Loop is the streaming state machine.
type Loop struct {
	cfg       Config
	camera    Camera
	detector  Detector
	slot      *frameslot.Slot
	session   Session
	extractor *features.Extractor
	recorder  Recorder

	sendFailures   *retry.FailureTracker
	cameraFailures *retry.FailureTracker
	cameraBackoff  retry.Backoff

	mu        sync.RWMutex
	state     State
	mapper    mapper.Mapper
	startedAt time.Time
	err       error

	paused atomic.Bool
	done   chan struct{}

	framesRead      atomic.Uint64
	framesProcessed atomic.Uint64
	framesSent      atomic.Uint64
	emptyBatches    atomic.Uint64
	pausedSkips     atomic.Uint64
	recordErrors    atomic.Uint64
}

// New wires a loop. recorder may be nil.
func New(cfg Config, camera Camera, detector Detector, slot *frameslot.Slot, session Session, m mapper.Mapper, recorder Recorder) (*Loop, error) {
	if camera == nil || detector == nil || slot == nil || session == nil || m == nil {
		return nil, fmt.Errorf("pipeline: camera, detector, slot, session and mapper are required")
	}
	fps := cfg.FPS
	if fps <= 0 {
		fps = camera.FPS()
	}
	return &Loop{
		cfg:            cfg,
		camera:         camera,
		detector:       detector,
		slot:           slot,
		session:        session,
		extractor:      features.NewExtractor(features.DefaultTuning()),
		recorder:       recorder,
		sendFailures:   retry.NewFailureTracker(cfg.SendMaxFailures),
		cameraFailures: retry.NewFailureTracker(cfg.CameraMaxFailures),
		cameraBackoff:  retry.FrameBackoff(fps),
		state:          StateIdle,
		mapper:         m,
		done:           make(chan struct{}),
	}, nil
}

// errStopped marks an orderly stop on context cancellation.
var errStopped = errors.New("stopped")

// Run authenticates and streams until a termination condition. It returns
// nil when ctx is cancelled and the terminating error otherwise. Run may be
// called once.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.state != StateIdle {
		l.mu.Unlock()
		return fmt.Errorf("pipeline: loop already ran (state %s)", l.state)
	}
	l.state = StateAuthenticating
	l.startedAt = time.Now()
	l.mu.Unlock()

	if err := l.session.Authenticate(ctx, l.cfg.Token); err != nil {
		if ctx.Err() != nil {
			return l.terminate(nil)
		}
		return l.terminate(fmt.Errorf("%w: %w", ErrAuthFailed, err))
	}

	l.setState(StateStreaming)
	slog.Info("streaming started",
		"policy", l.Policy(),
		"send_max_failures", l.sendFailures.Max(),
		"camera_max_failures", l.cameraFailures.Max(),
	)

	for {
		if err := l.step(ctx); err != nil {
			if errors.Is(err, errStopped) {
				return l.terminate(nil)
			}
			return l.terminate(err)
		}
	}
}

// step runs one iteration. Cancellation is only observed between blocking
// points; a send in flight completes.
func (l *Loop) step(ctx context.Context) error {
	if ctx.Err() != nil {
		return errStopped
	}
	if l.sendFailures.IsExhausted() {
		return ErrDisconnected
	}

	frame, err := l.camera.Read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return errStopped
		}
		n := l.cameraFailures.RecordFailure()
		slog.Debug("camera read failed", "attempt", n, "error", err)
		if l.cameraFailures.IsExhausted() {
			return fmt.Errorf("%w (%d attempts): %w", ErrCameraExhausted, n, err)
		}
		if retry.Sleep(ctx, l.cameraBackoff.Delay(n)) != nil {
			return errStopped
		}
		return nil
	}
	l.cameraFailures.RecordSuccess()
	l.framesRead.Add(1)

	l.detector.DetectAsync(frame)

	det, ok := l.slot.TakeIfFresh()
	if !ok {
		return nil
	}
	return l.process(ctx, det)
}

func (l *Loop) process(ctx context.Context, det *types.DetectionFrame) error {
	m := l.currentMapper()

	in := mapper.Input{
		Blendshapes: det.Blendshapes,
		Transform:   det.Transform,
	}
	if m.UsesLandmarks() {
		in.Features = l.extractor.Extract(det.Landmarks)
	}
	batch := m.Map(&in)
	batch.FrameSeq = det.Seq
	batch.TimestampMs = det.TimestampMs
	l.framesProcessed.Add(1)

	if l.paused.Load() {
		l.pausedSkips.Add(1)
		return nil
	}
	if batch.Empty() {
		l.emptyBatches.Add(1)
		return nil
	}

	if _, err := l.session.Send(ctx, &batch); err != nil {
		n := l.sendFailures.RecordFailure()
		slog.Warn("failed to send parameters",
			"frame_seq", det.Seq,
			"trace_id", det.TraceID,
			"consecutive_failures", n,
			"error", err,
		)
		if l.sendFailures.IsExhausted() {
			return fmt.Errorf("%w (%d consecutive failures): %w", ErrDisconnected, n, err)
		}
		return nil
	}
	l.sendFailures.RecordSuccess()
	l.framesSent.Add(1)

	if l.recorder != nil {
		if err := l.recorder.Record(det, &batch); err != nil {
			// logged once per burst of failures
			if l.recordErrors.Add(1) == 1 {
				slog.Error("failed to record frame", "frame_seq", det.Seq, "error", err)
			}
		} else {
			l.recordErrors.Store(0)
		}
	}
	return nil
}

func (l *Loop) terminate(err error) error {
	l.mu.Lock()
	if l.state == StateTerminated {
		l.mu.Unlock()
		return l.err
	}
	l.state = StateTerminated
	l.err = err
	l.mu.Unlock()
	close(l.done)

	if err != nil {
		slog.Error("streaming terminated", "error", err)
	} else {
		slog.Info("streaming stopped")
	}
	return err
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *Loop) currentMapper() mapper.Mapper {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.mapper
}

// State returns the current state.
func (l *Loop) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Done is closed once the loop has terminated.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Err returns the terminating error, nil while running or after an orderly stop.
func (l *Loop) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.err
}

// Pause stops sending. Camera reads and detection continue so resuming is
// immediate.
func (l *Loop) Pause() {
	if !l.paused.Swap(true) {
		slog.Info("streaming paused")
	}
}

// Resume restarts sending after Pause.
func (l *Loop) Resume() {
	if l.paused.Swap(false) {
		slog.Info("streaming resumed")
	}
}

// Paused reports whether sending is paused.
func (l *Loop) Paused() bool {
	return l.paused.Load()
}

// Policy returns the active mapper name.
func (l *Loop) Policy() string {
	return l.currentMapper().Name()
}

// SetPolicy swaps the mapper to the named preset. It takes effect from the
// next processed frame.
func (l *Loop) SetPolicy(name string) error {
	p, err := mapper.Lookup(name)
	if err != nil {
		return err
	}
	m, err := mapper.New(p.Apply(l.cfg.Mode))
	if err != nil {
		return err
	}

	l.mu.Lock()
	old := l.mapper.Name()
	l.mapper = m
	l.mu.Unlock()

	slog.Info("mapper policy changed", "from", old, "to", m.Name())
	return nil
}
