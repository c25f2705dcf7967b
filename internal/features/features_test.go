package features

import (
	"math"
	"testing"

	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/types"
)

const meshSize = 468

// placeOnEllipse writes the subset's points onto an ellipse with semi-axes a
// (along x) and b (along y), rotated by theta, with a small z ripple.
func placeOnEllipse(landmarks []types.Point3D, subset LandmarkSubset, cx, cy, a, b, theta, ripple float64) {
	idx := subset.Indices()
	for k, i := range idx {
		t := 2 * math.Pi * float64(k) / float64(len(idx))
		x := a * math.Cos(t)
		y := b * math.Sin(t)
		landmarks[i] = types.Point3D{
			X: cx + x*math.Cos(theta) - y*math.Sin(theta),
			Y: cy + x*math.Sin(theta) + y*math.Cos(theta),
			Z: ripple * math.Sin(3*t),
		}
	}
}

func syntheticFace() []types.Point3D {
	lm := make([]types.Point3D, meshSize)
	for i := range lm {
		lm[i] = types.Point3D{X: 0.5, Y: 0.5}
	}
	// face oval taller than wide: ratio 1.6
	placeOnEllipse(lm, FaceOval, 0.5, 0.5, 0.25, 0.4, math.Pi/2, 0.05)
	placeOnEllipse(lm, Lips, 0.5, 0.7, 0.08, 0.02, 0, 0.01)
	placeOnEllipse(lm, LeftEye, 0.6, 0.4, 0.03, 0.0066, 0, 0)
	placeOnEllipse(lm, RightEye, 0.4, 0.4, 0.03, 0.0075, 0, 0)
	return lm
}

func TestSubsetSizes(t *testing.T) {
	cases := map[string]struct {
		subset LandmarkSubset
		want   int
	}{
		"left eye":  {LeftEye, 16},
		"right eye": {RightEye, 16},
		"face oval": {FaceOval, 36},
		"lips":      {Lips, 40},
	}
	for name, tc := range cases {
		if got := tc.subset.Size(); got != tc.want {
			t.Errorf("%s: Size() = %d, want %d", name, got, tc.want)
		}
	}
}

func TestCollectShortList(t *testing.T) {
	lm := make([]types.Point3D, 300)
	if _, ok := FaceOval.Collect(lm); ok {
		t.Error("face oval must not resolve from 300 landmarks")
	}
	if _, ok := RightEye.Collect(lm); !ok {
		t.Error("right eye indices are all < 300 and must resolve")
	}
}

func TestHullArea_Cube(t *testing.T) {
	var pts []types.Point3D
	for _, x := range []float64{0, 1} {
		for _, y := range []float64{0, 1} {
			for _, z := range []float64{0, 1} {
				pts = append(pts, types.Point3D{X: x, Y: y, Z: z})
			}
		}
	}
	pts = append(pts, types.Point3D{X: 0.5, Y: 0.5, Z: 0.5}) // interior

	if got := HullArea(pts); math.Abs(got-6) > 1e-9 {
		t.Errorf("cube hull area = %v, want 6", got)
	}
}

func TestHullArea_Tetrahedron(t *testing.T) {
	pts := []types.Point3D{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 0, Y: 1, Z: 0}, {X: 0, Y: 0, Z: 1}}
	want := 1.5 + math.Sqrt(3)/2
	if got := HullArea(pts); math.Abs(got-want) > 1e-9 {
		t.Errorf("tetrahedron hull area = %v, want %v", got, want)
	}
}

func TestHullArea_Degenerate(t *testing.T) {
	cases := map[string][]types.Point3D{
		"empty":     nil,
		"three":     {{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 0, Y: 1, Z: 0}},
		"coplanar":  {{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 0, Y: 1, Z: 0}, {X: 1, Y: 1, Z: 0}, {X: 0.5, Y: 0.2, Z: 0}},
		"collinear": {{X: 0, Y: 0, Z: 0}, {X: 1, Y: 1, Z: 1}, {X: 2, Y: 2, Z: 2}, {X: 3, Y: 3, Z: 3}},
		"identical": {{X: 1, Y: 1, Z: 1}, {X: 1, Y: 1, Z: 1}, {X: 1, Y: 1, Z: 1}, {X: 1, Y: 1, Z: 1}},
		"nan":       {{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 0, Y: 1, Z: 0}, {X: 0, Y: 0, Z: math.NaN()}},
	}
	for name, pts := range cases {
		if got := HullArea(pts); got != 0 {
			t.Errorf("%s: HullArea = %v, want 0", name, got)
		}
	}
}

func TestEllipseAxisRatio_Rotated(t *testing.T) {
	var xs, ys []float64
	theta := math.Pi / 6
	for k := 0; k < 24; k++ {
		s := 2 * math.Pi * float64(k) / 24
		x, y := 2*math.Cos(s), math.Sin(s)
		xs = append(xs, 0.5+x*math.Cos(theta)-y*math.Sin(theta))
		ys = append(ys, 0.3+x*math.Sin(theta)+y*math.Cos(theta))
	}
	ratio, ok := EllipseAxisRatio(xs, ys)
	if !ok {
		t.Fatal("fit failed")
	}
	if math.Abs(ratio-2) > 1e-6 {
		t.Errorf("ratio = %v, want 2", ratio)
	}
}

func TestEllipseAxisRatio_Circle(t *testing.T) {
	var xs, ys []float64
	for k := 0; k < 12; k++ {
		s := 2 * math.Pi * float64(k) / 12
		xs = append(xs, 3+0.1*math.Cos(s))
		ys = append(ys, -1+0.1*math.Sin(s))
	}
	ratio, ok := EllipseAxisRatio(xs, ys)
	if !ok {
		t.Fatal("fit failed")
	}
	if math.Abs(ratio-1) > 1e-6 {
		t.Errorf("ratio = %v, want 1", ratio)
	}
}

func TestEllipseAxisRatio_Degenerate(t *testing.T) {
	if _, ok := EllipseAxisRatio([]float64{0, 1, 2}, []float64{0, 1, 2}); ok {
		t.Error("three points must not fit")
	}
	line := []float64{0, 1, 2, 3, 4, 5, 6}
	if _, ok := EllipseAxisRatio(line, line); ok {
		t.Error("collinear points must not fit")
	}
	same := []float64{1, 1, 1, 1, 1, 1}
	if _, ok := EllipseAxisRatio(same, same); ok {
		t.Error("identical points must not fit")
	}
}

func TestExtract_SyntheticFace(t *testing.T) {
	e := NewExtractor(DefaultTuning())
	v := e.Extract(syntheticFace())

	// left eye b/a = 0.22 → (0.22-0.2)*20 = 0.4
	if math.Abs(v.EyeOpenLeft-0.4) > 1e-6 {
		t.Errorf("EyeOpenLeft = %v, want 0.4", v.EyeOpenLeft)
	}
	// right eye b/a = 0.25 → 1.0
	if math.Abs(v.EyeOpenRight-1) > 1e-6 {
		t.Errorf("EyeOpenRight = %v, want 1", v.EyeOpenRight)
	}
	// face ratio 1.6 → (1.6-1.7)*-3.5 = 0.35 → squared
	if math.Abs(v.CheekPuff-0.1225) > 1e-6 {
		t.Errorf("CheekPuff = %v, want 0.1225", v.CheekPuff)
	}
	if v.MouthOpen < 0 || v.MouthOpen > 1 {
		t.Errorf("MouthOpen = %v out of [0,1]", v.MouthOpen)
	}
}

func TestExtract_Deterministic(t *testing.T) {
	e := NewExtractor(DefaultTuning())
	lm := syntheticFace()
	if a, b := e.Extract(lm), e.Extract(lm); a != b {
		t.Errorf("Extract not deterministic: %+v vs %+v", a, b)
	}
}

// TestExtract_MalformedFrame validates every feature degrades to 0 when the
// landmark list is missing required indices.
func TestExtract_MalformedFrame(t *testing.T) {
	e := NewExtractor(DefaultTuning())
	for _, n := range []int{0, 10, 200, 400} {
		lm := syntheticFace()[:n]
		v := e.Extract(lm)
		if v.EyeOpenLeft != 0 {
			t.Errorf("n=%d: EyeOpenLeft = %v, want 0", n, v.EyeOpenLeft)
		}
		if v.MouthOpen != 0 || v.CheekPuff != 0 {
			t.Errorf("n=%d: expected neutral hull/cheek features, got %+v", n, v)
		}
	}
}

func TestNormalizeHullRatio(t *testing.T) {
	tuning := DefaultTuning()
	// ratio 0.014, offset 0.035, scale 20 → clamp(-0.42) = 0
	if got := NormalizeHullRatio(0.007, 0.5, tuning); got != 0 {
		t.Errorf("NormalizeHullRatio(0.007, 0.5) = %v, want 0", got)
	}
	// ratio 0.06 → 20*0.025 = 0.5
	if got := NormalizeHullRatio(0.03, 0.5, tuning); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("NormalizeHullRatio(0.03, 0.5) = %v, want 0.5", got)
	}
	if got := NormalizeHullRatio(0.03, 0, tuning); got != 0 {
		t.Errorf("zero face area must yield 0, got %v", got)
	}
}

func TestNormalizeCheekPuff_Squared(t *testing.T) {
	tuning := DefaultTuning()
	if got := NormalizeCheekPuff(1.7, tuning); got != 0 {
		t.Errorf("resting ratio must map to 0, got %v", got)
	}
	if got := NormalizeCheekPuff(1.0, tuning); got != 1 {
		t.Errorf("round face must saturate at 1, got %v", got)
	}
}
