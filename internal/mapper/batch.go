package mapper

import (
	"math"

	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/types"
)

// BatchBuilder assembles one ordered batch of parameter updates.
// Parameters keep the order in which they were added.
type BatchBuilder struct {
	batch types.ParameterBatch
}

// NewBatchBuilder starts a batch with the given injection mode.
func NewBatchBuilder(mode string, capacity int) *BatchBuilder {
	return &BatchBuilder{
		batch: types.ParameterBatch{
			Mode:   mode,
			Params: make([]types.ControlParameter, 0, capacity),
		},
	}
}

// Add appends a value for def, clamped to the declared range.
// A non-finite value is replaced by the parameter's default.
func (b *BatchBuilder) Add(def types.ParameterDef, value float64) {
	b.batch.Params = append(b.batch.Params, types.ControlParameter{
		ID:      def.ID,
		Value:   Clamp(value, def),
		Min:     def.Min,
		Max:     def.Max,
		Default: def.Default,
	})
}

// Frame stamps the batch with the frame it was computed from.
func (b *BatchBuilder) Frame(seq uint64, timestampMs int64) {
	b.batch.FrameSeq = seq
	b.batch.TimestampMs = timestampMs
}

// Len returns the number of parameters added so far.
func (b *BatchBuilder) Len() int {
	return len(b.batch.Params)
}

// Build returns the assembled batch. The builder must not be reused.
func (b *BatchBuilder) Build() types.ParameterBatch {
	return b.batch
}

// Clamp bounds v to def's range.
func Clamp(v float64, def types.ParameterDef) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return def.Default
	}
	return math.Max(def.Min, math.Min(def.Max, v))
}
