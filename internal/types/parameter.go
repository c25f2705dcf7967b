package types

// Injection modes understood by the remote engine.
const (
	ModeAdd = "add"
	ModeSet = "set"
)

// ParameterDef declares one avatar control parameter and its valid range.
type ParameterDef struct {
	ID          string
	Explanation string
	Min         float64
	Max         float64
	Default     float64
	// Custom parameters must be registered with the engine before streaming.
	Custom bool
}

// ControlParameter is one computed value for a declared parameter.
type ControlParameter struct {
	ID      string  `json:"id"`
	Value   float64 `json:"value"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Default float64 `json:"default"`
}

// ParameterBatch is the ordered set of updates produced for one frame.
type ParameterBatch struct {
	FaceFound   bool               `json:"face_found"`
	Mode        string             `json:"mode"`
	Params      []ControlParameter `json:"params"`
	FrameSeq    uint64             `json:"frame_seq"`
	TimestampMs int64              `json:"timestamp_ms"`
}

// Empty reports whether the batch has nothing to transmit.
func (b *ParameterBatch) Empty() bool {
	return len(b.Params) == 0
}

// Value returns the value of a parameter by id.
func (b *ParameterBatch) Value(id string) (float64, bool) {
	for _, p := range b.Params {
		if p.ID == id {
			return p.Value, true
		}
	}
	return 0, false
}
