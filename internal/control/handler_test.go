package control

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/config"
)

type fakePublisher struct {
	mu        sync.Mutex
	topics    []string
	responses []Response
}

func (p *fakePublisher) Publish(topic string, payload []byte) error {
	var r Response
	if err := json.Unmarshal(payload, &r); err != nil {
		return err
	}
	p.mu.Lock()
	p.topics = append(p.topics, topic)
	p.responses = append(p.responses, r)
	p.mu.Unlock()
	return nil
}

func (p *fakePublisher) last(t *testing.T) Response {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.responses) == 0 {
		t.Fatal("no response published")
	}
	return p.responses[len(p.responses)-1]
}

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Topics: config.MQTTTopics{Control: "mpf/control", Telemetry: "mpf/telemetry"},
	}
}

type fakeLoop struct {
	paused   bool
	policy   string
	shutdown chan struct{}
}

func (f *fakeLoop) callbacks() CommandCallbacks {
	return CommandCallbacks{
		OnGetStatus: func() map[string]any {
			return map[string]any{"state": "streaming", "policy": f.policy}
		},
		OnPause:  func() error { f.paused = true; return nil },
		OnResume: func() error { f.paused = false; return nil },
		OnSetPolicy: func(name string) error {
			if name != "classic" && name != "perceptual" {
				return errors.New("unknown policy " + name)
			}
			f.policy = name
			return nil
		},
		OnListPolicies: func() []string { return []string{"classic", "perceptual"} },
		OnShutdown:     func() error { close(f.shutdown); return nil },
	}
}

func newTestHandler() (*Handler, *fakePublisher, *fakeLoop) {
	pub := &fakePublisher{}
	loop := &fakeLoop{policy: "perceptual", shutdown: make(chan struct{})}
	h := NewHandler(testConfig(), nil, pub, loop.callbacks())
	h.shutdownDelay = time.Millisecond
	return h, pub, loop
}

func TestHandleCommand_PauseResume(t *testing.T) {
	h, pub, loop := newTestHandler()

	h.handleCommand(Command{Command: "pause"})
	if r := pub.last(t); r.Status != "paused" || r.CommandAck != "pause" {
		t.Errorf("pause response = %+v", r)
	}
	if !loop.paused || !h.IsPaused() {
		t.Error("pause not applied")
	}

	h.handleCommand(Command{Command: "resume"})
	if r := pub.last(t); r.Status != "success" || r.Data["streaming_active"] != true {
		t.Errorf("resume response = %+v", r)
	}
	if loop.paused || h.IsPaused() {
		t.Error("resume not applied")
	}
	if pub.topics[0] != "mpf/telemetry" {
		t.Errorf("response topic = %s", pub.topics[0])
	}
}

func TestHandleCommand_SetPolicy(t *testing.T) {
	h, pub, loop := newTestHandler()

	tests := []struct {
		params     map[string]any
		wantStatus string
		wantPolicy string
	}{
		{map[string]any{"name": "classic"}, "success", "classic"},
		{map[string]any{"name": "bogus"}, "error", "classic"},
		{map[string]any{"name": 3.0}, "error", "classic"},
		{nil, "error", "classic"},
	}
	for _, tt := range tests {
		h.handleCommand(Command{Command: "set_policy", Params: tt.params})
		r := pub.last(t)
		if r.Status != tt.wantStatus {
			t.Errorf("params %v: status = %s (%s), want %s", tt.params, r.Status, r.Error, tt.wantStatus)
		}
		if loop.policy != tt.wantPolicy {
			t.Errorf("params %v: policy = %s", tt.params, loop.policy)
		}
	}
}

func TestHandleCommand_StatusAndList(t *testing.T) {
	h, pub, _ := newTestHandler()

	h.handleCommand(Command{Command: "get_status"})
	if r := pub.last(t); r.Status != "success" || r.Data["state"] != "streaming" {
		t.Errorf("get_status = %+v", r)
	}
	h.handleCommand(Command{Command: "list_policies"})
	if r := pub.last(t); r.Status != "success" || len(r.Data["policies"].([]any)) != 2 {
		t.Errorf("list_policies = %+v", r)
	}
	if r := pub.last(t); r.Timestamp == "" {
		t.Error("missing timestamp")
	}
}

func TestHandleCommand_Shutdown(t *testing.T) {
	h, pub, loop := newTestHandler()

	h.handleCommand(Command{Command: "shutdown"})
	if r := pub.last(t); r.Status != "success" {
		t.Errorf("shutdown response = %+v", r)
	}
	select {
	case <-loop.shutdown:
	case <-time.After(time.Second):
		t.Fatal("shutdown callback not invoked")
	}
}

func TestHandleCommand_UnknownAndMissing(t *testing.T) {
	pub := &fakePublisher{}
	h := NewHandler(testConfig(), nil, pub, CommandCallbacks{})

	h.handleCommand(Command{Command: "reboot"})
	if r := pub.last(t); r.Status != "error" || r.Error != "unknown command: reboot" {
		t.Errorf("unknown = %+v", r)
	}
	for _, c := range []string{"get_status", "pause", "resume", "set_policy", "list_policies", "shutdown"} {
		h.handleCommand(Command{Command: c})
		if r := pub.last(t); r.Status != "error" {
			t.Errorf("%s without callback: status %s", c, r.Status)
		}
	}
}

func TestEnqueue(t *testing.T) {
	h, pub, _ := newTestHandler()

	h.enqueue([]byte("{not json"))
	if r := pub.last(t); r.CommandAck != "unknown" || r.Error != "invalid JSON" {
		t.Errorf("invalid json response = %+v", r)
	}

	for i := 0; i < 12; i++ {
		h.enqueue([]byte(`{"command":"get_status"}`))
	}
	if n := len(h.commands); n != 10 {
		t.Errorf("queued = %d, want 10 (queue full drops)", n)
	}
	cmd := <-h.commands
	if cmd.Command != "get_status" {
		t.Errorf("queued command = %+v", cmd)
	}

	h.Stop()
	h.Stop()
}
