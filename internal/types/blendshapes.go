package types

import (
	"errors"
	"fmt"
	"math"
)

// ErrMissingBlendshape is returned when a detector result lacks an expected category.
var ErrMissingBlendshape = errors.New("missing blendshape category")

// ErrInvalidScore is returned when a blendshape score is not a finite number.
var ErrInvalidScore = errors.New("invalid blendshape score")

// Category identifies one facial action unit reported by the landmarker.
type Category int

// Categories in detector output order.
const (
	Neutral Category = iota
	BrowDownLeft
	BrowDownRight
	BrowInnerUp
	BrowOuterUpLeft
	BrowOuterUpRight
	CheekPuff
	CheekSquintLeft
	CheekSquintRight
	EyeBlinkLeft
	EyeBlinkRight
	EyeLookDownLeft
	EyeLookDownRight
	EyeLookInLeft
	EyeLookInRight
	EyeLookOutLeft
	EyeLookOutRight
	EyeLookUpLeft
	EyeLookUpRight
	EyeSquintLeft
	EyeSquintRight
	EyeWideLeft
	EyeWideRight
	JawForward
	JawLeft
	JawOpen
	JawRight
	MouthClose
	MouthDimpleLeft
	MouthDimpleRight
	MouthFrownLeft
	MouthFrownRight
	MouthFunnel
	MouthLeft
	MouthLowerDownLeft
	MouthLowerDownRight
	MouthPressLeft
	MouthPressRight
	MouthPucker
	MouthRight
	MouthRollLower
	MouthRollUpper
	MouthShrugLower
	MouthShrugUpper
	MouthSmileLeft
	MouthSmileRight
	MouthStretchLeft
	MouthStretchRight
	MouthUpperUpLeft
	MouthUpperUpRight
	NoseSneerLeft
	NoseSneerRight

	NumCategories
)

var categoryNames = [NumCategories]string{
	"_neutral",
	"browDownLeft",
	"browDownRight",
	"browInnerUp",
	"browOuterUpLeft",
	"browOuterUpRight",
	"cheekPuff",
	"cheekSquintLeft",
	"cheekSquintRight",
	"eyeBlinkLeft",
	"eyeBlinkRight",
	"eyeLookDownLeft",
	"eyeLookDownRight",
	"eyeLookInLeft",
	"eyeLookInRight",
	"eyeLookOutLeft",
	"eyeLookOutRight",
	"eyeLookUpLeft",
	"eyeLookUpRight",
	"eyeSquintLeft",
	"eyeSquintRight",
	"eyeWideLeft",
	"eyeWideRight",
	"jawForward",
	"jawLeft",
	"jawOpen",
	"jawRight",
	"mouthClose",
	"mouthDimpleLeft",
	"mouthDimpleRight",
	"mouthFrownLeft",
	"mouthFrownRight",
	"mouthFunnel",
	"mouthLeft",
	"mouthLowerDownLeft",
	"mouthLowerDownRight",
	"mouthPressLeft",
	"mouthPressRight",
	"mouthPucker",
	"mouthRight",
	"mouthRollLower",
	"mouthRollUpper",
	"mouthShrugLower",
	"mouthShrugUpper",
	"mouthSmileLeft",
	"mouthSmileRight",
	"mouthStretchLeft",
	"mouthStretchRight",
	"mouthUpperUpLeft",
	"mouthUpperUpRight",
	"noseSneerLeft",
	"noseSneerRight",
}

// String returns the detector's name for the category.
func (c Category) String() string {
	if c < 0 || c >= NumCategories {
		return fmt.Sprintf("category(%d)", int(c))
	}
	return categoryNames[c]
}

// Blendshapes is the validated score record for one subject. Every category
// holds a score in [0,1]; lookups never fail.
type Blendshapes [NumCategories]float64

// Get returns the score of a category.
func (b *Blendshapes) Get(c Category) float64 {
	return b[c]
}

// Set stores a score, clamped to [0,1].
func (b *Blendshapes) Set(c Category, v float64) {
	b[c] = math.Max(0, math.Min(1, v))
}

// Map returns the scores keyed by detector category name.
func (b *Blendshapes) Map() map[string]float64 {
	out := make(map[string]float64, NumCategories)
	for c := Category(0); c < NumCategories; c++ {
		out[categoryNames[c]] = b[c]
	}
	return out
}

// NewBlendshapes validates a name-keyed score map at ingestion.
//
// Every category except the neutral one must be present; a missing key yields
// ErrMissingBlendshape and a non-finite score yields ErrInvalidScore. Unknown
// names are ignored. Scores outside [0,1] are clamped.
func NewBlendshapes(scores map[string]float64) (Blendshapes, error) {
	var b Blendshapes
	for c := Category(0); c < NumCategories; c++ {
		name := categoryNames[c]
		v, ok := scores[name]
		if !ok {
			if c == Neutral {
				continue
			}
			return b, fmt.Errorf("%w: %s", ErrMissingBlendshape, name)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return b, fmt.Errorf("%w: %s=%v", ErrInvalidScore, name, v)
		}
		b.Set(c, v)
	}
	return b, nil
}

// LookupCategory resolves a detector category name.
func LookupCategory(name string) (Category, bool) {
	for c := Category(0); c < NumCategories; c++ {
		if categoryNames[c] == name {
			return c, true
		}
	}
	return 0, false
}
