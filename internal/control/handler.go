package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/config"
)

// Command represents a control plane command
type Command struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string         `json:"command_ack"`
	Status     string         `json:"status"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

// Publisher sends a payload to a topic. emitter.MQTTEmitter implements it.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// CommandCallbacks contains callback functions for commands
type CommandCallbacks struct {
	OnGetStatus    func() map[string]any
	OnPause        func() error
	OnResume       func() error
	OnSetPolicy    func(name string) error
	OnListPolicies func() []string
	OnShutdown     func() error
}

// Handler handles control plane commands
type Handler struct {
	cfg       config.MQTTConfig
	client    mqtt.Client
	publisher Publisher
	commands  chan Command
	callbacks CommandCallbacks

	// shutdownDelay lets the response go out before the process stops
	shutdownDelay time.Duration

	mu       sync.RWMutex
	isPaused bool
	stopOnce sync.Once
}

// NewHandler creates a new control plane handler
func NewHandler(cfg config.MQTTConfig, client mqtt.Client, publisher Publisher, callbacks CommandCallbacks) *Handler {
	return &Handler{
		cfg:           cfg,
		client:        client,
		publisher:     publisher,
		commands:      make(chan Command, 10),
		callbacks:     callbacks,
		shutdownDelay: 500 * time.Millisecond,
	}
}

// Start subscribes to the control topic and starts processing commands
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.Topics.Control

	slog.Info("subscribing to control plane", "topic", topic, "qos", h.cfg.QoS)

	token := h.client.Subscribe(topic, h.cfg.QoS, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	slog.Info("control plane handler started")

	go h.processCommands(ctx)
	return nil
}

// Stop unsubscribes and stops command processing
func (h *Handler) Stop() error {
	h.stopOnce.Do(func() {
		if h.client != nil && h.client.IsConnected() {
			token := h.client.Unsubscribe(h.cfg.Topics.Control)
			token.WaitTimeout(2 * time.Second)
		}
		close(h.commands)
		slog.Info("control plane handler stopped")
	})
	return nil
}

func (h *Handler) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	h.enqueue(msg.Payload())
}

// enqueue parses a raw command and queues it. A full queue drops the command.
func (h *Handler) enqueue(payload []byte) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		slog.Error("failed to parse control command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control command received", "command", cmd.Command)

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("command queue full, dropping command", "command", cmd.Command)
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-h.commands:
			if !ok {
				return
			}
			h.handleCommand(cmd)
		}
	}
}

func (h *Handler) handleCommand(cmd Command) {
	resp := Response{CommandAck: cmd.Command}

	switch cmd.Command {
	case "get_status":
		if h.callbacks.OnGetStatus == nil {
			resp.fail("get_status not implemented")
			break
		}
		resp.Status = "success"
		resp.Data = h.callbacks.OnGetStatus()

	case "pause":
		if h.callbacks.OnPause == nil {
			resp.fail("pause not implemented")
			break
		}
		if err := h.callbacks.OnPause(); err != nil {
			resp.fail(err.Error())
			break
		}
		h.setPaused(true)
		resp.Status = "paused"
		resp.Data = map[string]any{"streaming_active": false}

	case "resume":
		if h.callbacks.OnResume == nil {
			resp.fail("resume not implemented")
			break
		}
		if err := h.callbacks.OnResume(); err != nil {
			resp.fail(err.Error())
			break
		}
		h.setPaused(false)
		resp.Status = "success"
		resp.Data = map[string]any{"streaming_active": true}

	case "set_policy":
		if h.callbacks.OnSetPolicy == nil {
			resp.fail("set_policy not implemented")
			break
		}
		name, ok := cmd.Params["name"].(string)
		if !ok || name == "" {
			resp.fail("missing or invalid 'name' parameter (expected string)")
			break
		}
		if err := h.callbacks.OnSetPolicy(name); err != nil {
			resp.fail(err.Error())
			break
		}
		resp.Status = "success"
		resp.Data = map[string]any{"policy": name}

	case "list_policies":
		if h.callbacks.OnListPolicies == nil {
			resp.fail("list_policies not implemented")
			break
		}
		resp.Status = "success"
		resp.Data = map[string]any{"policies": h.callbacks.OnListPolicies()}

	case "shutdown":
		if h.callbacks.OnShutdown == nil {
			resp.fail("shutdown not implemented")
			break
		}
		resp.Status = "success"
		resp.Data = map[string]any{"message": "shutting down"}
		h.sendResponse(resp)

		go func() {
			time.Sleep(h.shutdownDelay)
			if err := h.callbacks.OnShutdown(); err != nil {
				slog.Error("shutdown callback failed", "error", err)
			}
		}()
		return

	default:
		resp.fail(fmt.Sprintf("unknown command: %s", cmd.Command))
	}

	h.sendResponse(resp)
}

func (r *Response) fail(msg string) {
	r.Status = "error"
	r.Error = msg
}

// sendResponse publishes a response to the telemetry topic
func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}
	if err := h.publisher.Publish(h.cfg.Topics.Telemetry, payload); err != nil {
		slog.Error("failed to publish response", "command_ack", resp.CommandAck, "error", err)
		return
	}

	slog.Debug("response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}

func (h *Handler) setPaused(v bool) {
	h.mu.Lock()
	h.isPaused = v
	h.mu.Unlock()
}

// IsPaused returns whether streaming was paused through the control plane
func (h *Handler) IsPaused() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.isPaused
}
