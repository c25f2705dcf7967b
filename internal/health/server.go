// Package health serves liveness and statistics over HTTP.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/detector"
	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/frameslot"
	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/pipeline"
	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/vts"
)

// Health states.
const (
	StatusHealthy    = "healthy"
	StatusDegraded   = "degraded"
	StatusTerminated = "terminated"
)

// Sources supplies the snapshots served by the endpoints. Only Loop is
// required.
type Sources struct {
	Loop          func() pipeline.Stats
	Detector      func() detector.Metrics
	Slot          func() frameslot.Stats
	Client        func() vts.ClientStats
	MQTTConnected func() bool // nil when MQTT is disabled
}

// Status is the /health payload.
type Status struct {
	Status          string         `json:"status"` // "healthy", "degraded", "terminated"
	UptimeSeconds   int64          `json:"uptime_seconds"`
	State           pipeline.State `json:"state"`
	Policy          string         `json:"policy"`
	Paused          bool           `json:"paused"`
	Connected       bool           `json:"connected"`
	DetectorRunning bool           `json:"detector_running"`
	MQTTConnected   *bool          `json:"mqtt_connected,omitempty"`
	Reasons         []string       `json:"reasons,omitempty"`
}

// StatsResponse is the /stats payload.
type StatsResponse struct {
	Loop     pipeline.Stats    `json:"loop"`
	Detector *detector.Metrics `json:"detector,omitempty"`
	Slot     *frameslot.Stats  `json:"slot,omitempty"`
	Client   *vts.ClientStats  `json:"client,omitempty"`
}

// Check derives the health status from the current snapshots.
func Check(src Sources) Status {
	loop := src.Loop()
	st := Status{
		Status:        StatusHealthy,
		UptimeSeconds: loop.UptimeSeconds,
		State:         loop.State,
		Policy:        loop.Policy,
		Paused:        loop.Paused,
		Connected:     loop.State == pipeline.StateStreaming,
	}

	degrade := func(reason string) {
		st.Status = StatusDegraded
		st.Reasons = append(st.Reasons, reason)
	}

	if loop.State == pipeline.StateTerminated {
		st.Status = StatusTerminated
		st.Connected = false
		if loop.LastError != "" {
			st.Reasons = append(st.Reasons, loop.LastError)
		}
		return st
	}
	if loop.State != pipeline.StateStreaming {
		degrade("not streaming yet")
	}
	if loop.Paused {
		degrade("paused")
	}
	if loop.SendFailures > 0 {
		degrade("send failures")
	}
	if loop.CameraFailures > 0 {
		degrade("camera failures")
	}
	if src.Detector != nil {
		st.DetectorRunning = src.Detector().ProcessRunning
		if !st.DetectorRunning {
			degrade("detector not running")
		}
	}
	if src.MQTTConnected != nil {
		ok := src.MQTTConnected()
		st.MQTTConnected = &ok
		if !ok {
			degrade("mqtt disconnected")
		}
	}
	return st
}

// Server is the HTTP health server.
type Server struct {
	src    Sources
	router *mux.Router
	srv    *http.Server
}

// NewServer builds the router for addr. Call Start to listen.
func NewServer(addr string, src Sources) *Server {
	s := &Server{src: src}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/stats", s.handleStats).Methods("GET")
	s.router = r

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves in a goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}

	slog.Info("starting health server",
		"addr", ln.Addr().String(),
		"endpoints", []string{"/health", "/stats"},
	)

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("health server failed", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := Check(s.src)

	code := http.StatusOK
	if st.Status == StatusTerminated {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, st)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	resp := StatsResponse{Loop: s.src.Loop()}
	if s.src.Detector != nil {
		m := s.src.Detector()
		resp.Detector = &m
	}
	if s.src.Slot != nil {
		st := s.src.Slot()
		resp.Slot = &st
	}
	if s.src.Client != nil {
		cs := s.src.Client()
		resp.Client = &cs
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}
