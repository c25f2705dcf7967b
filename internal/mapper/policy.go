// Package mapper turns blendshape scores and geometric features into avatar
// control parameters.
//
// A Mapper is a pure function: no I/O, no shared state, identical input gives
// an identical batch. The competing formula sets are expressed as one Policy
// struct with named presets rather than separate implementations.
//
// Left/right handedness: tracker inputs are named from the subject's point of
// view, output parameters from the avatar's. Every rule that has a side reads
// the opposite side's input. This file is the only place that flip happens.
package mapper

import (
	"fmt"
	"math"
	"sort"

	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/features"
	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/types"
)

// Input is everything a mapper reads for one frame.
type Input struct {
	Blendshapes types.Blendshapes
	Features    features.Vector
	Transform   types.Transform
}

// Mapper converts one frame's input into an ordered parameter batch.
type Mapper interface {
	Name() string
	Map(in *Input) types.ParameterBatch
	// Parameters lists the declared outputs in batch order.
	Parameters() []types.ParameterDef
	// UsesLandmarks reports whether Map reads Input.Features.
	UsesLandmarks() bool
}

// Curve selects the response shape of a rule.
type Curve string

const (
	CurveLinear Curve = "linear"
	CurveSqrt   Curve = "sqrt"
	CurveRaw    Curve = "raw"
)

// Policy is one parameterized formula set.
type Policy struct {
	Name string `yaml:"name" json:"name"`
	Mode string `yaml:"mode" json:"mode"`

	BlinkThreshold    float64 `yaml:"blink_threshold" json:"blink_threshold"`
	BlinkScale        float64 `yaml:"blink_scale" json:"blink_scale"`
	SquintToOpenRatio float64 `yaml:"squint_to_open_ratio" json:"squint_to_open_ratio"`

	MouthXScale    float64 `yaml:"mouth_x_scale" json:"mouth_x_scale"`
	MouthOpenScale float64 `yaml:"mouth_open_scale" json:"mouth_open_scale"`
	MouthOpenCurve Curve   `yaml:"mouth_open_curve" json:"mouth_open_curve"`

	// SmileCurve linear applies max(raw*SmileScale + SmileOffset, 0).
	SmileCurve  Curve   `yaml:"smile_curve" json:"smile_curve"`
	SmileScale  float64 `yaml:"smile_scale" json:"smile_scale"`
	SmileOffset float64 `yaml:"smile_offset" json:"smile_offset"`

	VoiceParams      bool    `yaml:"voice_params" json:"voice_params"`
	VoiceSmileFactor float64 `yaml:"voice_smile_factor" json:"voice_smile_factor"`
	PoseParams       bool    `yaml:"pose_params" json:"pose_params"`
	LandmarkGeometry bool    `yaml:"landmark_geometry" json:"landmark_geometry"`
}

func basePolicy() Policy {
	return Policy{
		Mode:              types.ModeAdd,
		BlinkThreshold:    0.4,
		BlinkScale:        0,
		SquintToOpenRatio: -0.2,
		MouthXScale:       3,
		MouthOpenScale:    3,
		VoiceSmileFactor:  0.5,
	}
}

// Classic is the linear formula set: offset smile and linear mouth opening,
// no pose parameters.
func Classic() Policy {
	p := basePolicy()
	p.Name = "classic"
	p.MouthOpenCurve = CurveLinear
	p.SmileCurve = CurveLinear
	p.SmileScale = 0.6
	p.SmileOffset = 0.4
	return p
}

// Perceptual is the default: raw smile, square-root mouth opening, voice
// mirrors and face pose.
func Perceptual() Policy {
	p := basePolicy()
	p.Name = "perceptual"
	p.MouthOpenCurve = CurveSqrt
	p.SmileCurve = CurveRaw
	p.VoiceParams = true
	p.PoseParams = true
	return p
}

// Landmark is Perceptual with mouth and eye openness taken from landmark
// geometry, plus cheek puff.
func Landmark() Policy {
	p := Perceptual()
	p.Name = "landmark"
	p.LandmarkGeometry = true
	return p
}

// DefaultPolicy is the name of the preset used when none is configured.
const DefaultPolicy = "perceptual"

var presets = map[string]func() Policy{
	"classic":    Classic,
	"perceptual": Perceptual,
	"landmark":   Landmark,
}

// Presets returns the sorted names of the built-in policies.
func Presets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns a preset by name.
func Lookup(name string) (Policy, error) {
	if name == "" {
		name = DefaultPolicy
	}
	ctor, ok := presets[name]
	if !ok {
		return Policy{}, fmt.Errorf("unknown mapper policy %q (available: %v)", name, Presets())
	}
	return ctor(), nil
}

// Validate checks that the policy is usable.
func (p Policy) Validate() error {
	if p.Mode != types.ModeAdd && p.Mode != types.ModeSet {
		return fmt.Errorf("policy %s: mode must be %q or %q, got %q", p.Name, types.ModeAdd, types.ModeSet, p.Mode)
	}
	switch p.MouthOpenCurve {
	case CurveLinear, CurveSqrt:
	default:
		return fmt.Errorf("policy %s: unsupported mouth_open_curve %q", p.Name, p.MouthOpenCurve)
	}
	switch p.SmileCurve {
	case CurveLinear, CurveRaw:
	default:
		return fmt.Errorf("policy %s: unsupported smile_curve %q", p.Name, p.SmileCurve)
	}
	return nil
}

type rule struct {
	def  types.ParameterDef
	eval func(in *Input) float64
}

type policyMapper struct {
	policy Policy
	rules  []rule
}

// New builds a mapper for p.
func New(p Policy) (Mapper, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &policyMapper{policy: p, rules: p.rules()}, nil
}

func (m *policyMapper) Name() string { return m.policy.Name }

func (m *policyMapper) UsesLandmarks() bool { return m.policy.LandmarkGeometry }

func (m *policyMapper) Parameters() []types.ParameterDef {
	defs := make([]types.ParameterDef, len(m.rules))
	for i, r := range m.rules {
		defs[i] = r.def
	}
	return defs
}

func (m *policyMapper) Map(in *Input) types.ParameterBatch {
	b := NewBatchBuilder(m.policy.Mode, len(m.rules))
	for _, r := range m.rules {
		b.Add(r.def, r.eval(in))
	}
	return b.Build()
}

// rules lists the policy's outputs in declaration order.
func (p Policy) rules() []rule {
	rs := []rule{
		{ParamMouthSmile, p.mouthSmile},
		{ParamMouthOpen, p.mouthOpen},
	}
	if p.VoiceParams {
		rs = append(rs,
			rule{ParamVoiceVolume, p.mouthOpen},
			rule{ParamVoiceFrequency, func(in *Input) float64 { return p.mouthSmile(in) * p.VoiceSmileFactor }},
		)
	}
	rs = append(rs,
		rule{ParamBrows, brows},
		rule{ParamBrowLeftY, func(in *Input) float64 { return browY(in, sideRight) }},
		rule{ParamBrowRightY, func(in *Input) float64 { return browY(in, sideLeft) }},
		rule{ParamEyeOpenLeft, func(in *Input) float64 { return p.eyeOpen(in, sideRight) }},
		rule{ParamEyeOpenRight, func(in *Input) float64 { return p.eyeOpen(in, sideLeft) }},
		rule{ParamEyeLeftX, func(in *Input) float64 { return gazeX(in, sideRight) }},
		rule{ParamEyeLeftY, func(in *Input) float64 { return gazeY(in, sideRight) }},
		rule{ParamEyeRightX, func(in *Input) float64 { return gazeX(in, sideLeft) }},
		rule{ParamEyeRightY, func(in *Input) float64 { return gazeY(in, sideLeft) }},
		rule{ParamMouthX, p.mouthX},
		rule{ParamBrowsLeftForm, func(in *Input) float64 { return browForm(in, sideRight) }},
		rule{ParamBrowsRightForm, func(in *Input) float64 { return browForm(in, sideLeft) }},
	)
	if p.LandmarkGeometry {
		rs = append(rs, rule{ParamCheekPuff, func(in *Input) float64 { return in.Features.CheekPuff }})
	}
	if p.PoseParams {
		rs = append(rs,
			rule{ParamFacePositionX, func(in *Input) float64 { pos, _ := facePose(in.Transform); return pos[0] }},
			rule{ParamFacePositionY, func(in *Input) float64 { pos, _ := facePose(in.Transform); return pos[1] }},
			rule{ParamFacePositionZ, func(in *Input) float64 { pos, _ := facePose(in.Transform); return pos[2] }},
			rule{ParamFaceAngleX, func(in *Input) float64 { _, ang := facePose(in.Transform); return ang[0] }},
			rule{ParamFaceAngleY, func(in *Input) float64 { _, ang := facePose(in.Transform); return ang[1] }},
			rule{ParamFaceAngleZ, func(in *Input) float64 { _, ang := facePose(in.Transform); return ang[2] }},
		)
	}
	return rs
}

type side int

const (
	sideLeft side = iota
	sideRight
)

func pick(s side, left, right types.Category) types.Category {
	if s == sideLeft {
		return left
	}
	return right
}

// RawSmile is max(smile L/R) minus max(pucker, shrugLower), the closest
// tracked proxy for a frown.
func RawSmile(b *types.Blendshapes) float64 {
	smile := math.Max(b.Get(types.MouthSmileLeft), b.Get(types.MouthSmileRight))
	frown := math.Max(b.Get(types.MouthPucker), b.Get(types.MouthShrugLower))
	return smile - frown
}

func (p Policy) mouthSmile(in *Input) float64 {
	raw := RawSmile(&in.Blendshapes)
	if p.SmileCurve == CurveLinear {
		return math.Max(raw*p.SmileScale+p.SmileOffset, 0)
	}
	return raw
}

func (p Policy) mouthOpen(in *Input) float64 {
	if p.LandmarkGeometry {
		return in.Features.MouthOpen
	}
	v := math.Max(0, math.Min(p.MouthOpenScale*in.Blendshapes.Get(types.JawOpen), 1))
	if p.MouthOpenCurve == CurveSqrt {
		return math.Sqrt(v)
	}
	return v
}

func (p Policy) mouthX(in *Input) float64 {
	b := &in.Blendshapes
	left := math.Max(b.Get(types.MouthLeft), b.Get(types.MouthPressLeft))
	right := math.Max(b.Get(types.MouthRight), b.Get(types.MouthPressRight))
	return math.Max(-1, math.Min(1, (right-left)*p.MouthXScale))
}

// eyeOpen has two regimes: above the blink threshold the output depends on
// blink alone; below it, squint narrows a fully open eye. The transition at
// the threshold is a hard cutover.
func (p Policy) eyeOpen(in *Input, s side) float64 {
	if p.LandmarkGeometry {
		if s == sideLeft {
			return in.Features.EyeOpenLeft
		}
		return in.Features.EyeOpenRight
	}
	b := &in.Blendshapes
	blink := b.Get(pick(s, types.EyeBlinkLeft, types.EyeBlinkRight))
	if blink > p.BlinkThreshold {
		return (1 - blink) * p.BlinkScale
	}
	squint := b.Get(pick(s, types.EyeSquintLeft, types.EyeSquintRight))
	return math.Min(1+squint*p.SquintToOpenRatio, 1)
}

func brows(in *Input) float64 {
	b := &in.Blendshapes
	up := math.Max(math.Max(b.Get(types.BrowInnerUp), b.Get(types.BrowOuterUpLeft)), b.Get(types.BrowOuterUpRight))
	down := math.Max(b.Get(types.BrowDownLeft), b.Get(types.BrowDownRight))
	return up - down
}

func browY(in *Input, s side) float64 {
	b := &in.Blendshapes
	up := math.Max(b.Get(types.BrowInnerUp), b.Get(pick(s, types.BrowOuterUpLeft, types.BrowOuterUpRight)))
	return up - b.Get(pick(s, types.BrowDownLeft, types.BrowDownRight))
}

func browForm(in *Input, s side) float64 {
	b := &in.Blendshapes
	return b.Get(types.BrowInnerUp) - b.Get(pick(s, types.BrowOuterUpLeft, types.BrowOuterUpRight))
}

// gazeX is positive when the eye looks toward the subject's left for both
// eyes: out-in for the left eye, in-out for the right eye.
func gazeX(in *Input, s side) float64 {
	b := &in.Blendshapes
	if s == sideLeft {
		return b.Get(types.EyeLookOutLeft) - b.Get(types.EyeLookInLeft)
	}
	return b.Get(types.EyeLookInRight) - b.Get(types.EyeLookOutRight)
}

func gazeY(in *Input, s side) float64 {
	b := &in.Blendshapes
	return b.Get(pick(s, types.EyeLookUpLeft, types.EyeLookUpRight)) -
		b.Get(pick(s, types.EyeLookDownLeft, types.EyeLookDownRight))
}

// Apply overrides the policy's mode when mode is non-empty.
func (p Policy) Apply(mode string) Policy {
	if mode != "" {
		p.Mode = mode
	}
	return p
}
