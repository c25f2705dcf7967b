package mapper

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"

	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/features"
	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/types"
)

func mustMapper(t *testing.T, p Policy) Mapper {
	t.Helper()
	m, err := New(p)
	if err != nil {
		t.Fatalf("New(%s): %v", p.Name, err)
	}
	return m
}

func input(scores map[types.Category]float64) *Input {
	in := &Input{Transform: types.IdentityTransform()}
	for c, v := range scores {
		in.Blendshapes.Set(c, v)
	}
	return in
}

func value(t *testing.T, b types.ParameterBatch, id string) float64 {
	t.Helper()
	v, ok := b.Value(id)
	if !ok {
		t.Fatalf("parameter %s missing from batch", id)
	}
	return v
}

func randomInput(r *rand.Rand) *Input {
	in := &Input{}
	for c := types.Category(0); c < types.NumCategories; c++ {
		in.Blendshapes.Set(c, r.Float64())
	}
	in.Features = features.Vector{
		MouthOpen:    r.Float64(),
		EyeOpenLeft:  r.Float64(),
		EyeOpenRight: r.Float64(),
		CheekPuff:    r.Float64(),
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			in.Transform[i][j] = r.NormFloat64() * 50
		}
	}
	return in
}

// TestMouthOpen_SqrtScenario: jawOpen=0.5, scale 3 → sqrt(clamp(1.5)) = 1.
func TestMouthOpen_SqrtScenario(t *testing.T) {
	m := mustMapper(t, Perceptual())
	b := m.Map(input(map[types.Category]float64{types.JawOpen: 0.5}))

	if got := value(t, b, "MouthOpen"); got != 1 {
		t.Errorf("MouthOpen = %v, want 1", got)
	}

	b = m.Map(input(map[types.Category]float64{types.JawOpen: 0.12}))
	if got := value(t, b, "MouthOpen"); math.Abs(got-0.6) > 1e-9 {
		t.Errorf("MouthOpen(0.12) = %v, want 0.6", got)
	}
}

// TestMouthSmile_RawScenario: smile L/R 0.8/0.3, pucker 0.1, shrugLower 0.05 → 0.7.
func TestMouthSmile_RawScenario(t *testing.T) {
	in := input(map[types.Category]float64{
		types.MouthSmileLeft:  0.8,
		types.MouthSmileRight: 0.3,
		types.MouthPucker:     0.1,
		types.MouthShrugLower: 0.05,
	})

	if got := RawSmile(&in.Blendshapes); math.Abs(got-0.7) > 1e-12 {
		t.Errorf("RawSmile = %v, want 0.7", got)
	}

	b := mustMapper(t, Perceptual()).Map(in)
	if got := value(t, b, "MouthSmile"); math.Abs(got-0.7) > 1e-12 {
		t.Errorf("perceptual MouthSmile = %v, want 0.7", got)
	}
	if got := value(t, b, "VoiceFrequencyPlusMouthSmile"); math.Abs(got-0.35) > 1e-12 {
		t.Errorf("VoiceFrequencyPlusMouthSmile = %v, want 0.35", got)
	}

	// classic: 0.7*0.6 + 0.4 = 0.82
	b = mustMapper(t, Classic()).Map(in)
	if got := value(t, b, "MouthSmile"); math.Abs(got-0.82) > 1e-12 {
		t.Errorf("classic MouthSmile = %v, want 0.82", got)
	}
}

func TestClassic_FloorsSmileAndLinearMouth(t *testing.T) {
	in := input(map[types.Category]float64{
		types.MouthPucker: 1,
		types.JawOpen:     0.2,
	})
	b := mustMapper(t, Classic()).Map(in)

	// (0-1)*0.6+0.4 = -0.2 → floored to 0
	if got := value(t, b, "MouthSmile"); got != 0 {
		t.Errorf("MouthSmile = %v, want 0", got)
	}
	if got := value(t, b, "MouthOpen"); math.Abs(got-0.6) > 1e-12 {
		t.Errorf("MouthOpen = %v, want 0.6", got)
	}
	if _, ok := b.Value("FaceAngleX"); ok {
		t.Error("classic policy must not emit pose parameters")
	}
}

// TestEyeOpen_BlinkOverridesSquint validates the two-regime formula: above the
// threshold, output depends on blink only.
func TestEyeOpen_BlinkOverridesSquint(t *testing.T) {
	m := mustMapper(t, Perceptual())

	for _, blink := range []float64{0.41, 0.6, 0.99} {
		var first float64
		for i, squint := range []float64{0, 0.3, 0.7, 1} {
			b := m.Map(input(map[types.Category]float64{
				types.EyeBlinkRight:  blink,
				types.EyeSquintRight: squint,
			}))
			got := value(t, b, "EyeOpenLeft")
			if i == 0 {
				first = got
				continue
			}
			if got != first {
				t.Errorf("blink=%v squint=%v: EyeOpenLeft=%v differs from %v", blink, squint, got, first)
			}
		}
	}
}

func TestEyeOpen_SquintRegime(t *testing.T) {
	m := mustMapper(t, Perceptual())
	b := m.Map(input(map[types.Category]float64{
		types.EyeBlinkLeft:  0.4, // at threshold: squint regime
		types.EyeSquintLeft: 0.5,
	}))
	// 1 + 0.5*-0.2 = 0.9, read by the mirrored output
	if got := value(t, b, "EyeOpenRight"); math.Abs(got-0.9) > 1e-12 {
		t.Errorf("EyeOpenRight = %v, want 0.9", got)
	}
	if got := value(t, b, "EyeOpenLeft"); got != 1 {
		t.Errorf("EyeOpenLeft = %v, want 1 (right eye untouched)", got)
	}
}

func TestMirroring(t *testing.T) {
	in := input(map[types.Category]float64{
		types.BrowOuterUpLeft: 0.9,
		types.BrowDownRight:   0.5,
		types.EyeLookUpLeft:   0.7,
		types.EyeLookOutLeft:  0.6,
		types.EyeLookInRight:  0.2,
	})
	b := mustMapper(t, Perceptual()).Map(in)

	cases := map[string]float64{
		"BrowRightY":           0.9,  // subject left brow up
		"BrowLeftY":            -0.5, // subject right brow down
		"EyeRightY":            0.7,
		"EyeLeftY":             0,
		"EyeRightX":            0.6,
		"EyeLeftX":             0.2,
		"Brows":                0.4,
		"lilac_BrowsRightForm": -0.9,
		"lilac_BrowsLeftForm":  0,
	}
	for id, want := range cases {
		if got := value(t, b, id); math.Abs(got-want) > 1e-12 {
			t.Errorf("%s = %v, want %v", id, got, want)
		}
	}
}

func TestMouthX(t *testing.T) {
	m := mustMapper(t, Perceptual())
	b := m.Map(input(map[types.Category]float64{
		types.MouthRight:     0.1,
		types.MouthPressLeft: 0.05,
	}))
	if got := value(t, b, "lilac_MouthX"); math.Abs(got-0.15) > 1e-12 {
		t.Errorf("lilac_MouthX = %v, want 0.15", got)
	}

	b = m.Map(input(map[types.Category]float64{types.MouthLeft: 0.9}))
	if got := value(t, b, "lilac_MouthX"); got != -1 {
		t.Errorf("lilac_MouthX = %v, want -1 (clamped)", got)
	}
}

func TestFacePose(t *testing.T) {
	// 30° about z, translation (2, 3, -40)
	c, s := math.Cos(math.Pi/6), math.Sin(math.Pi/6)
	in := input(nil)
	in.Transform = types.Transform{
		{c, -s, 0, 2},
		{s, c, 0, 3},
		{0, 0, 1, -40},
		{0, 0, 0, 1},
	}
	b := mustMapper(t, Perceptual()).Map(in)

	want := map[string]float64{
		"FacePositionX": -2,
		"FacePositionY": 3,
		"FacePositionZ": 40,
		"FaceAngleX":    0,
		"FaceAngleY":    0,
		"FaceAngleZ":    30,
	}
	for id, w := range want {
		if got := value(t, b, id); math.Abs(got-w) > 1e-9 {
			t.Errorf("%s = %v, want %v", id, got, w)
		}
	}
}

func TestEulerZYX_Composite(t *testing.T) {
	rz, ry, rx := 20.0, -35.0, 10.0
	r := composeZYX(rz*math.Pi/180, ry*math.Pi/180, rx*math.Pi/180)
	z, y, x := EulerZYX(r)
	if math.Abs(z-rz) > 1e-9 || math.Abs(y-ry) > 1e-9 || math.Abs(x-rx) > 1e-9 {
		t.Errorf("EulerZYX = (%v, %v, %v), want (%v, %v, %v)", z, y, x, rz, ry, rx)
	}
}

// TestEulerZYX_ExtrinsicOrderDiffers pins the intrinsic convention: a matrix
// composed in the opposite order (Rx·Ry·Rz, extrinsic z-y-x) does not read back
// its composing angles.
func TestEulerZYX_ExtrinsicOrderDiffers(t *testing.T) {
	rad := math.Pi / 180
	r := mul3(mul3(rotX(20*rad), rotY(30*rad)), rotZ(10*rad))
	z, y, x := EulerZYX(r)
	t.Logf("EulerZYX(Rx(20)·Ry(30)·Rz(10)) = (%.3f, %.3f, %.3f)", z, y, x)
	want := [3]float64{21.246, 23.786, 27.210}
	got := [3]float64{z, y, x}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-3 {
			t.Errorf("angle %d = %.3f, want %.3f", i, got[i], want[i])
		}
	}
}

func TestEulerZYX_GimbalLock(t *testing.T) {
	r := composeZYX(0.3, math.Pi/2, 0)
	z, y, x := EulerZYX(r)
	if math.Abs(y-90) > 1e-6 || x != 0 {
		t.Errorf("gimbal decomposition = (%v, %v, %v)", z, y, x)
	}
	if math.Abs(z-0.3*180/math.Pi) > 1e-6 {
		t.Errorf("z = %v, want %v", z, 0.3*180/math.Pi)
	}
}

func composeZYX(z, y, x float64) [3][3]float64 {
	return mul3(mul3(rotZ(z), rotY(y)), rotX(x))
}

func rotZ(a float64) [3][3]float64 {
	return [3][3]float64{{math.Cos(a), -math.Sin(a), 0}, {math.Sin(a), math.Cos(a), 0}, {0, 0, 1}}
}

func rotY(a float64) [3][3]float64 {
	return [3][3]float64{{math.Cos(a), 0, math.Sin(a)}, {0, 1, 0}, {-math.Sin(a), 0, math.Cos(a)}}
}

func rotX(a float64) [3][3]float64 {
	return [3][3]float64{{1, 0, 0}, {0, math.Cos(a), -math.Sin(a)}, {0, math.Sin(a), math.Cos(a)}}
}

func mul3(a, b [3][3]float64) [3][3]float64 {
	var out [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out[i][j] += a[i][k] * b[k][j]
			}
		}
	}
	return out
}

// TestLandmarkPolicy_UsesFeatures validates the landmark preset reads geometry
// for mouth and eyes, mirrored.
func TestLandmarkPolicy_UsesFeatures(t *testing.T) {
	m := mustMapper(t, Landmark())
	if !m.UsesLandmarks() {
		t.Fatal("landmark policy must report UsesLandmarks")
	}
	in := input(map[types.Category]float64{types.JawOpen: 1, types.EyeBlinkLeft: 1})
	in.Features = features.Vector{MouthOpen: 0.25, EyeOpenLeft: 0.8, EyeOpenRight: 0.3, CheekPuff: 0.5}

	b := m.Map(in)
	checks := map[string]float64{
		"MouthOpen":    0.25,
		"EyeOpenLeft":  0.3,
		"EyeOpenRight": 0.8,
		"CheekPuff":    0.5,
	}
	for id, want := range checks {
		if got := value(t, b, id); got != want {
			t.Errorf("%s = %v, want %v", id, got, want)
		}
	}
}

// TestAllPolicies_RangeInvariant validates every output lies in its declared
// range for random valid inputs, including wild transforms.
func TestAllPolicies_RangeInvariant(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for _, name := range Presets() {
		p, err := Lookup(name)
		if err != nil {
			t.Fatal(err)
		}
		m := mustMapper(t, p)
		defs := m.Parameters()

		for i := 0; i < 2000; i++ {
			b := m.Map(randomInput(r))
			if len(b.Params) != len(defs) {
				t.Fatalf("%s: batch has %d params, declared %d", name, len(b.Params), len(defs))
			}
			for j, cp := range b.Params {
				if cp.ID != defs[j].ID {
					t.Fatalf("%s: param %d is %s, declared %s", name, j, cp.ID, defs[j].ID)
				}
				if cp.Value < cp.Min || cp.Value > cp.Max || math.IsNaN(cp.Value) {
					t.Fatalf("%s: %s=%v outside [%v,%v]", name, cp.ID, cp.Value, cp.Min, cp.Max)
				}
			}
		}
	}
}

// TestMap_Idempotent validates identical inputs produce byte-identical batches.
func TestMap_Idempotent(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for _, name := range Presets() {
		p, _ := Lookup(name)
		m := mustMapper(t, p)
		for i := 0; i < 50; i++ {
			in := randomInput(r)
			a, _ := json.Marshal(m.Map(in))
			b, _ := json.Marshal(m.Map(in))
			if string(a) != string(b) {
				t.Fatalf("%s: batches differ:\n%s\n%s", name, a, b)
			}
		}
	}
}

func TestLookup(t *testing.T) {
	p, err := Lookup("")
	if err != nil || p.Name != DefaultPolicy {
		t.Errorf("Lookup(\"\") = %v, %v", p.Name, err)
	}
	if _, err := Lookup("nope"); err == nil {
		t.Error("expected error for unknown policy")
	}
	if _, err := New(Perceptual().Apply("replace")); err == nil {
		t.Error("expected error for invalid mode")
	}
	if got := Perceptual().Apply(types.ModeSet).Mode; got != types.ModeSet {
		t.Errorf("Apply mode = %q", got)
	}
}

func TestBatchBuilder_ClampAndOrder(t *testing.T) {
	b := NewBatchBuilder(types.ModeAdd, 3)
	b.Add(ParamMouthOpen, 1.5)
	b.Add(ParamMouthSmile, math.NaN())
	b.Add(ParamEyeOpenLeft, math.Inf(-1))
	b.Frame(9, 300)
	batch := b.Build()

	if batch.Params[0].Value != 1 {
		t.Errorf("MouthOpen = %v, want 1", batch.Params[0].Value)
	}
	if batch.Params[1].Value != ParamMouthSmile.Default {
		t.Errorf("NaN must map to default, got %v", batch.Params[1].Value)
	}
	if batch.Params[2].Value != ParamEyeOpenLeft.Default {
		t.Errorf("-Inf must map to default, got %v", batch.Params[2].Value)
	}
	if batch.FrameSeq != 9 || batch.TimestampMs != 300 || batch.Mode != types.ModeAdd {
		t.Errorf("unexpected batch header: %+v", batch)
	}
}
