package pipeline

import "time"

// Stats is a point-in-time snapshot of the loop.
type Stats struct {
	State           State     `json:"state"`
	Paused          bool      `json:"paused"`
	Policy          string    `json:"policy"`
	StartedAt       time.Time `json:"started_at"`
	UptimeSeconds   int64     `json:"uptime_seconds"`
	FramesRead      uint64    `json:"frames_read"`
	FramesProcessed uint64    `json:"frames_processed"`
	FramesSent      uint64    `json:"frames_sent"`
	EmptyBatches    uint64    `json:"empty_batches"`
	PausedSkips     uint64    `json:"paused_skips"`
	SendFailures    int       `json:"send_failures"`
	CameraFailures  int       `json:"camera_failures"`
	TotalSendFails  uint64    `json:"total_send_failures"`
	TotalCamFails   uint64    `json:"total_camera_failures"`
	SlotDrops       uint64    `json:"slot_drops"`
	LastError       string    `json:"last_error,omitempty"`
}

// Stats returns a snapshot of loop counters.
func (l *Loop) Stats() Stats {
	l.mu.RLock()
	s := Stats{
		State:     l.state,
		Policy:    l.mapper.Name(),
		StartedAt: l.startedAt,
	}
	if l.err != nil {
		s.LastError = l.err.Error()
	}
	l.mu.RUnlock()

	if !s.StartedAt.IsZero() {
		s.UptimeSeconds = int64(time.Since(s.StartedAt).Seconds())
	}
	s.Paused = l.paused.Load()
	s.FramesRead = l.framesRead.Load()
	s.FramesProcessed = l.framesProcessed.Load()
	s.FramesSent = l.framesSent.Load()
	s.EmptyBatches = l.emptyBatches.Load()
	s.PausedSkips = l.pausedSkips.Load()
	s.SendFailures = l.sendFailures.Count()
	s.CameraFailures = l.cameraFailures.Count()
	s.TotalSendFails = l.sendFailures.Total()
	s.TotalCamFails = l.cameraFailures.Total()
	s.SlotDrops = l.slot.Stats().Drops
	return s
}
