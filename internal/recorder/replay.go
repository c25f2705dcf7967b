package recorder

import (
	"context"
	"math"

	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/features"
	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/mapper"
)

// ParamDiff summarizes how a replayed parameter differs from what was sent.
type ParamDiff struct {
	ID      string  `json:"id"`
	Frames  int     `json:"frames"`
	Changed int     `json:"changed"`
	MaxAbs  float64 `json:"max_abs"`
	MeanAbs float64 `json:"mean_abs"`
	// Added: produced by the replay policy but never recorded.
	// Removed: recorded but not produced by the replay policy.
	Added   bool `json:"added,omitempty"`
	Removed bool `json:"removed,omitempty"`
}

// Report is the result of replaying one session.
type Report struct {
	SessionID      string      `json:"session_id"`
	RecordedPolicy string      `json:"recorded_policy"`
	ReplayPolicy   string      `json:"replay_policy"`
	Frames         int         `json:"frames"`
	Params         []ParamDiff `json:"params"`
}

// Identical reports whether the replay reproduced every recorded value.
func (r *Report) Identical() bool {
	for _, p := range r.Params {
		if p.Changed > 0 || p.Added || p.Removed {
			return false
		}
	}
	return true
}

// Epsilon is the tolerance below which a replayed value counts as unchanged.
const Epsilon = 1e-9

// Replay re-runs m over a recorded session and compares every parameter with
// the recorded batch. progress, if set, is called once per frame.
func Replay(ctx context.Context, store *Store, sessionID string, m mapper.Mapper, progress func()) (*Report, error) {
	info, err := store.Session(sessionID)
	if err != nil {
		return nil, err
	}

	report := &Report{
		SessionID:      sessionID,
		RecordedPolicy: info.Policy,
		ReplayPolicy:   m.Name(),
	}

	extractor := features.NewExtractor(features.DefaultTuning())
	diffs := make(map[string]*ParamDiff)
	var order []string
	diffFor := func(id string) *ParamDiff {
		d, ok := diffs[id]
		if !ok {
			d = &ParamDiff{ID: id}
			diffs[id] = d
			order = append(order, id)
		}
		return d
	}
	// replay policy's parameters first, in batch order
	for _, def := range m.Parameters() {
		diffFor(def.ID)
	}

	err = store.ReadFrames(sessionID, func(rec *RecordedFrame) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		in := mapper.Input{
			Blendshapes: rec.Frame.Blendshapes,
			Transform:   rec.Frame.Transform,
		}
		if m.UsesLandmarks() {
			in.Features = extractor.Extract(rec.Frame.Landmarks)
		}
		batch := m.Map(&in)

		recorded := make(map[string]float64, len(rec.Sent))
		for _, p := range rec.Sent {
			recorded[p.ID] = p.Value
		}
		for _, p := range batch.Params {
			d := diffFor(p.ID)
			old, ok := recorded[p.ID]
			if !ok {
				d.Added = true
				continue
			}
			delete(recorded, p.ID)
			d.Frames++
			delta := math.Abs(p.Value - old)
			if delta > Epsilon {
				d.Changed++
			}
			d.MaxAbs = math.Max(d.MaxAbs, delta)
			d.MeanAbs += delta
		}
		for _, p := range rec.Sent {
			if _, left := recorded[p.ID]; left {
				diffFor(p.ID).Removed = true
			}
		}

		report.Frames++
		if progress != nil {
			progress()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, id := range order {
		d := diffs[id]
		if d.Frames > 0 {
			d.MeanAbs /= float64(d.Frames)
		}
		// a parameter neither policy emitted in any frame is noise
		if d.Frames == 0 && !d.Added && !d.Removed {
			continue
		}
		report.Params = append(report.Params, *d)
	}
	return report, nil
}
