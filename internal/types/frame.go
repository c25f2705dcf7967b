package types

import (
	"image"
	"time"
)

// Point3D is a tracked landmark in normalized image-space coordinates.
type Point3D struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
	Z float64 `json:"z" msgpack:"z"`
}

// Transform is a 4x4 rigid transform (head pose relative to camera), row-major.
type Transform [4][4]float64

// IdentityTransform returns the identity isometry.
func IdentityTransform() Transform {
	return Transform{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
}

// TransformFromSlice builds a Transform from 16 row-major values.
// Returns false if the slice does not hold exactly 16 values.
func TransformFromSlice(values []float64) (Transform, bool) {
	var t Transform
	if len(values) != 16 {
		return t, false
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			t[i][j] = values[i*4+j]
		}
	}
	return t, true
}

// Translation returns the translation column of the transform.
func (t Transform) Translation() [3]float64 {
	return [3]float64{t[0][3], t[1][3], t[2][3]}
}

// Rotation returns the upper-left 3x3 rotation block.
func (t Transform) Rotation() [3][3]float64 {
	var r [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = t[i][j]
		}
	}
	return r
}

// Flatten returns the 16 row-major values of the transform.
func (t Transform) Flatten() []float64 {
	out := make([]float64, 0, 16)
	for i := 0; i < 4; i++ {
		out = append(out, t[i][:]...)
	}
	return out
}

// DetectionFrame is the output of one successful detector invocation for a
// single subject. It is immutable after creation; ownership moves through the
// frame slot and is never shared for writing.
type DetectionFrame struct {
	Seq         uint64
	TraceID     string
	TimestampMs int64
	Blendshapes Blendshapes
	Landmarks   []Point3D
	Transform   Transform
	DetectedAt  time.Time
}

// CameraFrame is one image read from the capture source.
type CameraFrame struct {
	Seq         uint64
	TraceID     string
	TimestampMs int64
	CapturedAt  time.Time
	Image       image.Image
}

// Width returns the pixel width of the frame image.
func (f *CameraFrame) Width() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

// Height returns the pixel height of the frame image.
func (f *CameraFrame) Height() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}
