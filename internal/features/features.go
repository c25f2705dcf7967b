// Package features derives scalar geometric descriptors from face landmarks.
//
// Every function here is pure and total: a malformed landmark list, a subset
// that does not resolve to its declared size, or degenerate geometry produce
// the neutral value 0 instead of an error.
package features

import (
	"math"

	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/types"
)

// Tuning holds the normalization constants of the geometric features.
type Tuning struct {
	MouthHullOffset float64 `yaml:"mouth_hull_offset" json:"mouth_hull_offset"`
	MouthHullScale  float64 `yaml:"mouth_hull_scale" json:"mouth_hull_scale"`
	EyeOpenOffset   float64 `yaml:"eye_open_offset" json:"eye_open_offset"`
	EyeOpenScale    float64 `yaml:"eye_open_scale" json:"eye_open_scale"`
	CheekPuffOffset float64 `yaml:"cheek_puff_offset" json:"cheek_puff_offset"`
	CheekPuffScale  float64 `yaml:"cheek_puff_scale" json:"cheek_puff_scale"`
}

// DefaultTuning returns the calibrated constants.
func DefaultTuning() Tuning {
	return Tuning{
		MouthHullOffset: 0.035,
		MouthHullScale:  20,
		EyeOpenOffset:   0.2,
		EyeOpenScale:    20,
		// face oval axis ratio is roughly 1.5 puffed and 1.7 at rest
		CheekPuffOffset: 1.7,
		CheekPuffScale:  -3.5,
	}
}

// Vector is the per-frame feature set. It is recomputed from scratch for every
// frame and never carries state between frames.
type Vector struct {
	MouthOpen    float64 `json:"mouth_open"`
	EyeOpenLeft  float64 `json:"eye_open_left"`
	EyeOpenRight float64 `json:"eye_open_right"`
	CheekPuff    float64 `json:"cheek_puff"`
}

// Extractor computes feature vectors with a fixed tuning.
type Extractor struct {
	tuning Tuning
}

// NewExtractor returns an extractor using tuning.
func NewExtractor(tuning Tuning) *Extractor {
	return &Extractor{tuning: tuning}
}

// Extract computes all features of a frame.
func (e *Extractor) Extract(landmarks []types.Point3D) Vector {
	return Vector{
		MouthOpen:    e.MouthOpen(landmarks),
		EyeOpenLeft:  e.EyeOpen(landmarks, LeftEye),
		EyeOpenRight: e.EyeOpen(landmarks, RightEye),
		CheekPuff:    e.CheekPuff(landmarks),
	}
}

// MouthOpen is the lip hull area as a share of the face oval hull area,
// normalized to [0,1].
func (e *Extractor) MouthOpen(landmarks []types.Point3D) float64 {
	lip, ok := Lips.Collect(landmarks)
	if !ok {
		return 0
	}
	face, ok := FaceOval.Collect(landmarks)
	if !ok {
		return 0
	}
	return NormalizeHullRatio(HullArea(lip), HullArea(face), e.tuning)
}

// NormalizeHullRatio maps lip/face hull areas onto [0,1].
func NormalizeHullRatio(lipArea, faceArea float64, t Tuning) float64 {
	if faceArea <= 0 || lipArea <= 0 {
		return 0
	}
	return clamp01(t.MouthHullScale * (lipArea/faceArea - t.MouthHullOffset))
}

// EyeOpen fits an ellipse to an eye contour and normalizes the minor/major
// axis ratio.
func (e *Extractor) EyeOpen(landmarks []types.Point3D, eye LandmarkSubset) float64 {
	ratio, ok := subsetAxisRatio(landmarks, eye)
	if !ok {
		return 0
	}
	return NormalizeEyeOpen(ratio, e.tuning)
}

// NormalizeEyeOpen maps a major/minor axis ratio onto [0,1] using its inverse.
func NormalizeEyeOpen(majorMinor float64, t Tuning) float64 {
	if majorMinor <= 0 {
		return 0
	}
	return clamp01((1/majorMinor - t.EyeOpenOffset) * t.EyeOpenScale)
}

// CheekPuff fits an ellipse to the face oval. A rounder face reads as puffed
// cheeks. The normalized value is squared so the resting state stays near 0.
func (e *Extractor) CheekPuff(landmarks []types.Point3D) float64 {
	ratio, ok := subsetAxisRatio(landmarks, FaceOval)
	if !ok {
		return 0
	}
	return NormalizeCheekPuff(ratio, e.tuning)
}

// NormalizeCheekPuff maps a major/minor axis ratio onto [0,1], squared.
func NormalizeCheekPuff(majorMinor float64, t Tuning) float64 {
	v := clamp01((majorMinor - t.CheekPuffOffset) * t.CheekPuffScale)
	return v * v
}

func subsetAxisRatio(landmarks []types.Point3D, subset LandmarkSubset) (float64, bool) {
	points, ok := subset.Collect(landmarks)
	if !ok {
		return 0, false
	}
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i], ys[i] = p.X, p.Y
	}
	return EllipseAxisRatio(xs, ys)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
