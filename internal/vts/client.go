package vts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/types"
)

// PluginInfo identifies this plugin to the engine.
type PluginInfo struct {
	Name      string
	Developer string
	RequestID string
}

// DefaultPluginInfo returns the plugin identity used when none is configured.
func DefaultPluginInfo() PluginInfo {
	return PluginInfo{
		Name:      DefaultPluginName,
		Developer: DefaultPluginDeveloper,
		RequestID: DefaultRequestID,
	}
}

// Client performs request/response round trips against the engine.
//
// Thread-safety: round trips are serialized; the request and its response are
// never interleaved with another call's.
type Client struct {
	transport Transport
	info      PluginInfo

	mu sync.Mutex // serializes round trips

	sent        atomic.Uint64
	failed      atomic.Uint64
	skipped     atomic.Uint64
	lastLatency atomic.Int64 // nanoseconds
}

// ClientStats is a snapshot of inject traffic.
type ClientStats struct {
	Sent        uint64        `json:"sent"`
	Failed      uint64        `json:"failed"`
	Skipped     uint64        `json:"skipped"`
	LastLatency time.Duration `json:"last_latency_ns"`
}

// NewClient wraps a connected transport.
func NewClient(t Transport, info PluginInfo) *Client {
	def := DefaultPluginInfo()
	if info.Name == "" {
		info.Name = def.Name
	}
	if info.Developer == "" {
		info.Developer = def.Developer
	}
	if info.RequestID == "" {
		info.RequestID = def.RequestID
	}
	return &Client{transport: t, info: info}
}

// Info returns the plugin identity the client presents.
func (c *Client) Info() PluginInfo {
	return c.info
}

// roundTrip sends one request and reads exactly one response.
func (c *Client) roundTrip(ctx context.Context, messageType string, data any) (*Envelope, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("vts: encode %s: %w", messageType, err)
	}
	req := Envelope{
		APIName:     APIName,
		APIVersion:  APIVersion,
		RequestID:   c.info.RequestID,
		MessageType: messageType,
		Data:        payload,
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("vts: encode envelope: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.transport.Send(ctx, string(raw)); err != nil {
		return nil, err
	}
	resp, err := c.transport.Receive(ctx)
	if err != nil {
		return nil, err
	}
	return decodeEnvelope(resp)
}

// RequestToken asks the engine for a long-lived plugin token. The user must
// approve the request in the engine's UI, so ctx should allow for that.
func (c *Client) RequestToken(ctx context.Context) (string, error) {
	env, err := c.roundTrip(ctx, MsgAuthenticationTokenRequest, tokenRequest{
		PluginName:      c.info.Name,
		PluginDeveloper: c.info.Developer,
	})
	if err != nil {
		return "", fmt.Errorf("%w: token request: %v", ErrAuthFailed, err)
	}
	if env.MessageType != MsgAuthenticationTokenResponse {
		return "", fmt.Errorf("%w: token request answered with %s", ErrAuthFailed, env.MessageType)
	}

	var data tokenResponse
	if err := json.Unmarshal(env.Data, &data); err != nil || data.AuthenticationToken == "" {
		return "", fmt.Errorf("%w: token response carries no token", ErrAuthFailed)
	}
	slog.Info("vts: authentication token granted")
	return data.AuthenticationToken, nil
}

// Authenticate establishes a session with token. Any response other than a
// successful AuthenticationResponse is ErrAuthFailed.
func (c *Client) Authenticate(ctx context.Context, token string) error {
	env, err := c.roundTrip(ctx, MsgAuthenticationRequest, authRequest{
		PluginName:          c.info.Name,
		PluginDeveloper:     c.info.Developer,
		AuthenticationToken: token,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	if env.MessageType != MsgAuthenticationResponse {
		return fmt.Errorf("%w: engine answered with %s", ErrAuthFailed, env.MessageType)
	}

	var data authResponse
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}
	}
	if data.Authenticated != nil && !*data.Authenticated {
		return fmt.Errorf("%w: %s", ErrAuthFailed, data.Reason)
	}
	slog.Info("vts: authenticated", "plugin", c.info.Name)
	return nil
}

// CreateParameter registers one custom parameter with the engine.
func (c *Client) CreateParameter(ctx context.Context, def types.ParameterDef) error {
	env, err := c.roundTrip(ctx, MsgParameterCreationRequest, parameterCreationRequest{
		ParameterName: def.ID,
		Explanation:   def.Explanation,
		Min:           def.Min,
		Max:           def.Max,
		DefaultValue:  def.Default,
	})
	if err != nil {
		return fmt.Errorf("vts: create parameter %s: %w", def.ID, err)
	}
	if env.MessageType != MsgParameterCreationResponse {
		return fmt.Errorf("vts: create parameter %s: %w: %s", def.ID, ErrUnexpectedResponse, env.MessageType)
	}
	slog.Info("vts: parameter registered", "parameter", def.ID, "min", def.Min, "max", def.Max)
	return nil
}

// Send injects one batch: exactly one blocking request/acknowledge round trip.
// An empty batch is skipped without touching the transport and reports
// sent=false. Any transport error, undecodable acknowledgement or APIError is
// returned as a failure.
func (c *Client) Send(ctx context.Context, batch *types.ParameterBatch) (sent bool, err error) {
	if batch == nil || batch.Empty() {
		c.skipped.Add(1)
		return false, nil
	}

	data := InjectData{
		FaceFound:       batch.FaceFound,
		Mode:            batch.Mode,
		ParameterValues: make([]ParameterValue, len(batch.Params)),
	}
	for i, p := range batch.Params {
		data.ParameterValues[i] = ParameterValue{ID: p.ID, Value: p.Value}
	}

	start := time.Now()
	if _, err := c.roundTrip(ctx, MsgInjectParameterDataRequest, data); err != nil {
		c.failed.Add(1)
		return false, fmt.Errorf("vts: inject: %w", err)
	}
	c.lastLatency.Store(int64(time.Since(start)))
	c.sent.Add(1)
	return true, nil
}

// Stats returns a snapshot of inject traffic.
func (c *Client) Stats() ClientStats {
	return ClientStats{
		Sent:        c.sent.Load(),
		Failed:      c.failed.Load(),
		Skipped:     c.skipped.Load(),
		LastLatency: time.Duration(c.lastLatency.Load()),
	}
}

// Close closes the underlying transport.
func (c *Client) Close() error {
	return c.transport.Close()
}
