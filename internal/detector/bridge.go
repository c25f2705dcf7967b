/*
Package detector bridges the streaming loop to an external face landmarker.

The landmarker runs as a subprocess. Frames go to its stdin and results come
back on its stdout, both as 4-byte big-endian length-prefixed msgpack:

	Go ──Request{seq, trace_id, timestamp_ms, width, height, image(jpeg)}──▶ stdin
	Go ◀──Result{seq, trace_id, timestamp_ms, faces[...]}─────────────────── stdout

Goroutines:
  - processFrames: takes the pending frame, encodes it, writes it (2s timeout);
    while a timed-out write is still blocked on stdin, new frames are dropped
  - readResults:   decodes results and hands valid frames to the Sink
  - logStderr:     maps [ERROR]/[WARNING] prefixed lines to slog levels
  - waitProcess:   reaps the process

DetectAsync never blocks: while a frame is pending, newer frames are dropped.
A result with zero faces puts nothing into the Sink.
*/
package detector

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/types"
)

// Sink receives detection frames. frameslot.Slot implements it.
type Sink interface {
	Put(frame *types.DetectionFrame)
}

// Config describes the detector process.
type Config struct {
	Command     string
	Args        []string
	Model       string
	UseGPU      bool
	InputWidth  int
	JPEGQuality int
	// Env is appended to the inherited environment.
	Env []string
}

// Metrics is a snapshot of bridge counters.
type Metrics struct {
	FramesSent     uint64    `json:"frames_sent"`
	FramesDropped  uint64    `json:"frames_dropped"`
	Results        uint64    `json:"results"`
	NoFace         uint64    `json:"no_face"`
	Invalid        uint64    `json:"invalid"`
	AvgLatencyMs   float64   `json:"avg_latency_ms"`
	LastResultAt   time.Time `json:"last_result_at"`
	ProcessRunning bool      `json:"process_running"`
}

// Bridge manages the detector subprocess.
type Bridge struct {
	cfg  Config
	sink Sink

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	pending chan *types.CameraFrame

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	isActive atomic.Bool
	exited   chan struct{}

	lastTs       int64 // last timestamp sent; owned by processFrames
	writeTimeout time.Duration
	writing      atomic.Bool // a write to stdin has not returned yet

	framesSent     atomic.Uint64
	framesDropped  atomic.Uint64
	results        atomic.Uint64
	noFace         atomic.Uint64
	invalid        atomic.Uint64
	totalLatencyMs atomic.Uint64
	lastResultAt   atomic.Value // time.Time
}

// NewBridge creates a bridge delivering results into sink.
func NewBridge(cfg Config, sink Sink) (*Bridge, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("detector: command is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("detector: sink is required")
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 85
	}
	return &Bridge{
		cfg:     cfg,
		sink:    sink,
		pending:      make(chan *types.CameraFrame, 1),
		exited:       make(chan struct{}),
		writeTimeout: 2 * time.Second,
	}, nil
}

// Start spawns the detector process and its goroutines.
func (b *Bridge) Start(ctx context.Context) error {
	if b.isActive.Load() {
		return fmt.Errorf("detector: already started")
	}
	b.ctx, b.cancel = context.WithCancel(ctx)

	args := append([]string{}, b.cfg.Args...)
	if b.cfg.Model != "" {
		args = append(args, "--model", b.cfg.Model)
	}
	if b.cfg.UseGPU {
		args = append(args, "--gpu")
	}

	b.cmd = exec.CommandContext(b.ctx, b.cfg.Command, args...)
	b.cmd.Env = append(os.Environ(), b.cfg.Env...)

	var err error
	if b.stdin, err = b.cmd.StdinPipe(); err != nil {
		return fmt.Errorf("detector: stdin pipe: %w", err)
	}
	if b.stdout, err = b.cmd.StdoutPipe(); err != nil {
		return fmt.Errorf("detector: stdout pipe: %w", err)
	}
	if b.stderr, err = b.cmd.StderrPipe(); err != nil {
		return fmt.Errorf("detector: stderr pipe: %w", err)
	}
	if err := b.cmd.Start(); err != nil {
		b.cancel()
		return fmt.Errorf("detector: start %s: %w", b.cfg.Command, err)
	}

	b.isActive.Store(true)
	b.lastResultAt.Store(time.Time{})

	slog.Info("detector: process spawned",
		"command", b.cfg.Command,
		"pid", b.cmd.Process.Pid,
		"model", b.cfg.Model,
		"gpu", b.cfg.UseGPU,
	)

	b.wg.Add(4)
	go b.processFrames()
	go b.readResults()
	go b.logStderr()
	go b.waitProcess()
	return nil
}

// DetectAsync offers a frame to the detector without blocking. It reports
// false when the frame was dropped because another one is still pending or
// the bridge is not running.
func (b *Bridge) DetectAsync(frame *types.CameraFrame) bool {
	if frame == nil || !b.isActive.Load() {
		b.framesDropped.Add(1)
		return false
	}
	select {
	case b.pending <- frame:
		return true
	default:
		b.framesDropped.Add(1)
		return false
	}
}

func (b *Bridge) processFrames() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case frame := <-b.pending:
			err := b.sendFrame(frame)
			if errors.Is(err, errWriteInFlight) {
				slog.Debug("detector: frame dropped", "frame_seq", frame.Seq, "error", err)
				continue
			}
			if err != nil {
				slog.Error("detector: failed to send frame",
					"frame_seq", frame.Seq,
					"trace_id", frame.TraceID,
					"error", err,
				)
			}
		}
	}
}

// errWriteInFlight reports a frame dropped because an earlier write is still
// blocked on the detector's stdin.
var errWriteInFlight = errors.New("previous stdin write still pending (detector may be hung)")

func (b *Bridge) sendFrame(frame *types.CameraFrame) error {
	if b.writing.Load() {
		b.framesDropped.Add(1)
		return errWriteInFlight
	}

	data, w, h, err := EncodeFrame(frame.Image, b.cfg.InputWidth, b.cfg.JPEGQuality)
	if err != nil {
		return err
	}

	// the landmarker requires monotonically increasing timestamps
	ts := frame.TimestampMs
	if ts <= b.lastTs {
		ts = b.lastTs + 1
	}
	b.lastTs = ts

	req := Request{
		Seq:         frame.Seq,
		TraceID:     frame.TraceID,
		TimestampMs: ts,
		Width:       w,
		Height:      h,
		Image:       data,
	}

	writeErr := make(chan error, 1)
	b.writing.Store(true)
	go func() {
		defer b.writing.Store(false)
		writeErr <- WriteMessage(b.stdin, &req)
	}()

	select {
	case err := <-writeErr:
		if err != nil {
			return err
		}
		b.framesSent.Add(1)
		return nil
	case <-time.After(b.writeTimeout):
		return fmt.Errorf("stdin write timeout (detector may be hung)")
	case <-b.ctx.Done():
		return fmt.Errorf("cancelled during write")
	}
}

func (b *Bridge) readResults() {
	defer b.wg.Done()

	if err := b.consume(b.stdout); err != nil && !errors.Is(err, io.EOF) && b.ctx.Err() == nil {
		slog.Error("detector: result stream failed", "error", err)
	}
}

// consume reads results from r until EOF or a framing error.
func (b *Bridge) consume(r io.Reader) error {
	for {
		var res Result
		if err := ReadMessage(r, &res); err != nil {
			return err
		}
		b.handleResult(&res)
	}
}

func (b *Bridge) handleResult(res *Result) {
	b.results.Add(1)
	b.lastResultAt.Store(time.Now())
	if res.TotalMs > 0 {
		b.totalLatencyMs.Add(uint64(res.TotalMs))
	}

	frame, err := ToDetectionFrame(res)
	switch {
	case errors.Is(err, ErrNoFace):
		b.noFace.Add(1)
		return
	case err != nil:
		b.invalid.Add(1)
		slog.Warn("detector: dropping invalid result",
			"frame_seq", res.Seq,
			"trace_id", res.TraceID,
			"error", err,
		)
		return
	}

	frame.DetectedAt = time.Now()
	b.sink.Put(frame)
}

func (b *Bridge) logStderr() {
	defer b.wg.Done()

	scanner := bufio.NewScanner(b.stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case containsAny(line, "[ERROR]", "[CRITICAL]"):
			slog.Error("detector: process error", "log", line)
		case containsAny(line, "[WARNING]", "[WARN]"):
			slog.Warn("detector: process warning", "log", line)
		default:
			slog.Debug("detector: process log", "log", line)
		}
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func (b *Bridge) waitProcess() {
	defer b.wg.Done()
	defer close(b.exited)

	err := b.cmd.Wait()
	b.isActive.Store(false)

	switch {
	case b.ctx.Err() != nil:
		slog.Debug("detector: process exited (shutdown)", "pid", b.cmd.Process.Pid)
	case err != nil:
		slog.Error("detector: process exited unexpectedly", "pid", b.cmd.Process.Pid, "error", err)
	default:
		slog.Info("detector: process exited", "pid", b.cmd.Process.Pid)
	}
}

// Exited is closed when the detector process has exited.
func (b *Bridge) Exited() <-chan struct{} {
	return b.exited
}

// Stop closes stdin so the process can exit on its own, then kills it if it
// has not exited within 2 seconds.
func (b *Bridge) Stop() error {
	if b.cmd == nil || b.cancel == nil {
		return nil
	}
	b.isActive.Store(false)
	b.stdin.Close()

	select {
	case <-b.exited:
	case <-time.After(b.writeTimeout):
		slog.Warn("detector: process did not exit, killing")
		if b.cmd.Process != nil {
			b.cmd.Process.Kill()
		}
	}
	b.cancel()
	b.wg.Wait()

	slog.Info("detector: stopped",
		"frames_sent", b.framesSent.Load(),
		"results", b.results.Load(),
		"no_face", b.noFace.Load(),
	)
	return nil
}

// Metrics returns a snapshot of bridge counters.
func (b *Bridge) Metrics() Metrics {
	m := Metrics{
		FramesSent:     b.framesSent.Load(),
		FramesDropped:  b.framesDropped.Load(),
		Results:        b.results.Load(),
		NoFace:         b.noFace.Load(),
		Invalid:        b.invalid.Load(),
		ProcessRunning: b.isActive.Load(),
	}
	if m.Results > 0 {
		m.AvgLatencyMs = float64(b.totalLatencyMs.Load()) / float64(m.Results)
	}
	if t, ok := b.lastResultAt.Load().(time.Time); ok {
		m.LastResultAt = t
	}
	return m
}
