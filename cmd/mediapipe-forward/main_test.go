package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/auth"
	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/config"
	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/mapper"
	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/recorder"
	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/vts"
)

// engine answers every request with the matching response type and counts
// requests per message type.
type engine struct {
	srv *httptest.Server

	mu     sync.Mutex
	counts map[string]int
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	e := &engine{counts: make(map[string]int)}
	upgrader := websocket.Upgrader{}

	replies := map[string]struct {
		msgType string
		data    any
	}{
		vts.MsgAuthenticationTokenRequest: {vts.MsgAuthenticationTokenResponse, map[string]string{"authenticationToken": "tok-123"}},
		vts.MsgAuthenticationRequest:      {vts.MsgAuthenticationResponse, map[string]bool{"authenticated": true}},
		vts.MsgParameterCreationRequest:   {vts.MsgParameterCreationResponse, map[string]string{}},
	}

	e.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req vts.Envelope
			if err := json.Unmarshal(data, &req); err != nil {
				return
			}
			e.mu.Lock()
			e.counts[req.MessageType]++
			e.mu.Unlock()

			reply, ok := replies[req.MessageType]
			if !ok {
				return
			}
			payload, _ := json.Marshal(reply.data)
			raw, _ := json.Marshal(vts.Envelope{
				APIName:     vts.APIName,
				APIVersion:  vts.APIVersion,
				RequestID:   req.RequestID,
				MessageType: reply.msgType,
				Data:        payload,
			})
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		}
	}))
	t.Cleanup(e.srv.Close)
	return e
}

func (e *engine) count(msgType string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counts[msgType]
}

func (e *engine) vtsConfig(t *testing.T) config.VTSConfig {
	return config.VTSConfig{
		Address:  "ws" + strings.TrimPrefix(e.srv.URL, "http"),
		AuthFile: filepath.Join(t.TempDir(), "auth.json"),
		Timeout:  2 * time.Second,
	}
}

// TestLoadToken_RequestsOnce validates that a missing auth file triggers one
// token request whose result is persisted and reused on the next load.
func TestLoadToken_RequestsOnce(t *testing.T) {
	e := newEngine(t)
	cfg := e.vtsConfig(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	token, err := loadToken(ctx, cfg)
	if err != nil {
		t.Fatalf("loadToken: %v", err)
	}
	if token != "tok-123" {
		t.Errorf("token = %q", token)
	}
	stored, err := auth.Load(cfg.AuthFile)
	if err != nil || stored != "tok-123" {
		t.Errorf("stored = %q, %v", stored, err)
	}

	if _, err := loadToken(ctx, cfg); err != nil {
		t.Fatalf("second loadToken: %v", err)
	}
	if n := e.count(vts.MsgAuthenticationTokenRequest); n != 1 {
		t.Errorf("token requests = %d, want 1", n)
	}
}

func TestRegisterParams(t *testing.T) {
	e := newEngine(t)
	cfg := e.vtsConfig(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := connect(ctx, cfg, cfg.Timeout)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()
	if err := client.Authenticate(ctx, "tok-123"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	m, err := mapper.New(mapper.Perceptual())
	if err != nil {
		t.Fatal(err)
	}
	n, err := registerParams(ctx, client, m)
	if err != nil {
		t.Fatalf("registerParams: %v", err)
	}
	if n != 3 || e.count(vts.MsgParameterCreationRequest) != 3 {
		t.Errorf("registered %d, engine saw %d", n, e.count(vts.MsgParameterCreationRequest))
	}
}

func TestResolvePolicy(t *testing.T) {
	p, err := resolvePolicy(config.MapperConfig{Policy: "classic", Mode: "set"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "classic" || p.Mode != "set" {
		t.Errorf("policy = %s/%s", p.Name, p.Mode)
	}
	if _, err := resolvePolicy(config.MapperConfig{Policy: "nope"}); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestOpenCamera_Synthetic(t *testing.T) {
	cam, err := openCamera(config.CameraConfig{Backend: "synthetic", Width: 32, Height: 24, FPS: 200})
	if err != nil {
		t.Fatal(err)
	}
	defer cam.Close()

	frame, err := cam.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if b := frame.Image.Bounds(); b.Dx() != 32 || b.Dy() != 24 {
		t.Errorf("frame size = %v", b)
	}
	if _, err := openCamera(config.CameraConfig{Backend: "webcam"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestListPolicies(t *testing.T) {
	var buf bytes.Buffer
	if err := listPolicies(&buf, "perceptual"); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	t.Logf("\n%s", out)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want header + 3", len(lines))
	}
	if !strings.Contains(out, "perceptual *") || strings.Contains(out, "classic *") {
		t.Error("active policy not marked")
	}
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, &recorder.Report{
		SessionID: "s1", RecordedPolicy: "classic", ReplayPolicy: "classic", Frames: 4,
		Params: []recorder.ParamDiff{{ID: "MouthOpen", Frames: 4}},
	})
	if !strings.Contains(buf.String(), "identical") {
		t.Errorf("output = %q", buf.String())
	}

	buf.Reset()
	printReport(&buf, &recorder.Report{
		SessionID: "s1", RecordedPolicy: "classic", ReplayPolicy: "perceptual", Frames: 4,
		Params: []recorder.ParamDiff{
			{ID: "MouthOpen", Frames: 4, Changed: 3, MaxAbs: 0.25, MeanAbs: 0.1},
			{ID: "VoiceVolumePlusMouthOpen", Frames: 4, Added: true},
		},
	})
	out := buf.String()
	if !strings.Contains(out, "3/4") || !strings.Contains(out, "added") {
		t.Errorf("output = %q", out)
	}
}

// TestPoliciesCommand drives the cobra tree end to end with defaults only.
func TestPoliciesCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"policies", "--show", "classic"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		policiesShow = ""
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(buf.String(), "name: classic") {
		t.Errorf("output = %q", buf.String())
	}
}
