package detector

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/types"
)

// maxMessageSize bounds a single framed message (a 4K RGBA frame fits).
const maxMessageSize = 64 << 20

var (
	// ErrNoFace means the detector found no subject in the frame.
	ErrNoFace = errors.New("detector: no face in frame")

	// ErrInvalidResult means a result could not be turned into a frame.
	ErrInvalidResult = errors.New("detector: invalid result")
)

// Request is one frame sent to the detector process.
type Request struct {
	Seq         uint64 `msgpack:"seq"`
	TraceID     string `msgpack:"trace_id"`
	TimestampMs int64  `msgpack:"timestamp_ms"`
	Width       int    `msgpack:"width"`
	Height      int    `msgpack:"height"`
	Image       []byte `msgpack:"image"` // JPEG
}

// Result is the detector's answer for one request.
type Result struct {
	Seq         uint64  `msgpack:"seq"`
	TraceID     string  `msgpack:"trace_id"`
	TimestampMs int64   `msgpack:"timestamp_ms"`
	Faces       []Face  `msgpack:"faces"`
	Error       string  `msgpack:"error,omitempty"`
	TotalMs     float64 `msgpack:"total_ms,omitempty"`
}

// Face is one subject: named blendshape scores, landmarks and a row-major
// 4x4 head transform.
type Face struct {
	Blendshapes map[string]float64 `msgpack:"blendshapes"`
	Landmarks   [][]float64        `msgpack:"landmarks"`
	Transform   []float64          `msgpack:"transform"`
}

// WriteMessage writes v as a 4-byte big-endian length prefix followed by its
// msgpack encoding.
func WriteMessage(w io.Writer, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal msgpack message: %w", err)
	}
	if len(data) > maxMessageSize {
		return fmt.Errorf("message too large: %d bytes", len(data))
	}

	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed msgpack message into v. A clean EOF
// before the prefix is returned as io.EOF.
func ReadMessage(r io.Reader, v any) error {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(lengthBuf[:])
	if n > maxMessageSize {
		return fmt.Errorf("message length %d exceeds limit", n)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("failed to read message body (%d bytes): %w", n, err)
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal msgpack message: %w", err)
	}
	return nil
}

// ToDetectionFrame validates the first face of res into a DetectionFrame.
// Zero faces is ErrNoFace; anything malformed wraps ErrInvalidResult.
func ToDetectionFrame(res *Result) (*types.DetectionFrame, error) {
	if res.Error != "" {
		return nil, fmt.Errorf("%w: detector error: %s", ErrInvalidResult, res.Error)
	}
	if len(res.Faces) == 0 {
		return nil, ErrNoFace
	}
	face := res.Faces[0]

	bs, err := types.NewBlendshapes(face.Blendshapes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResult, err)
	}

	transform, ok := types.TransformFromSlice(face.Transform)
	if !ok {
		return nil, fmt.Errorf("%w: transform has %d values, want 16", ErrInvalidResult, len(face.Transform))
	}
	for _, v := range face.Transform {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-finite transform", ErrInvalidResult)
		}
	}

	landmarks := make([]types.Point3D, len(face.Landmarks))
	for i, p := range face.Landmarks {
		if len(p) != 3 {
			return nil, fmt.Errorf("%w: landmark %d has %d coordinates", ErrInvalidResult, i, len(p))
		}
		landmarks[i] = types.Point3D{X: p[0], Y: p[1], Z: p[2]}
	}

	return &types.DetectionFrame{
		Seq:         res.Seq,
		TraceID:     res.TraceID,
		TimestampMs: res.TimestampMs,
		Blendshapes: bs,
		Landmarks:   landmarks,
		Transform:   transform,
	}, nil
}
