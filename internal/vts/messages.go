// Package vts speaks the remote puppeteering engine's JSON-over-WebSocket API.
//
// Every message, in both directions, is an Envelope. The Client performs one
// blocking request/response round trip per call and never retries; retry
// policy belongs to the caller.
package vts

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	APIName    = "VTubeStudioPublicAPI"
	APIVersion = "1.0"

	DefaultRequestID       = "lilacsMediaPipeForward"
	DefaultPluginName      = "Lilac's MediaPipe Forward"
	DefaultPluginDeveloper = "lilacGalaxy"
)

// Message types.
const (
	MsgAuthenticationTokenRequest  = "AuthenticationTokenRequest"
	MsgAuthenticationTokenResponse = "AuthenticationTokenResponse"
	MsgAuthenticationRequest       = "AuthenticationRequest"
	MsgAuthenticationResponse      = "AuthenticationResponse"
	MsgParameterCreationRequest    = "ParameterCreationRequest"
	MsgParameterCreationResponse   = "ParameterCreationResponse"
	MsgInjectParameterDataRequest  = "InjectParameterDataRequest"
	MsgInjectParameterDataResponse = "InjectParameterDataResponse"
	MsgAPIError                    = "APIError"
)

var (
	// ErrAuthFailed means the engine rejected the token or handshake. Fatal.
	ErrAuthFailed = errors.New("vts: authentication failed")

	// ErrUnexpectedResponse means a response could not be decoded or had the
	// wrong message type.
	ErrUnexpectedResponse = errors.New("vts: unexpected response")
)

// Envelope wraps every request and response.
type Envelope struct {
	APIName     string          `json:"apiName"`
	APIVersion  string          `json:"apiVersion"`
	RequestID   string          `json:"requestID"`
	MessageType string          `json:"messageType"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// APIError is the payload of an APIError response.
type APIError struct {
	ErrorID int    `json:"errorID"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vts: api error %d: %s", e.ErrorID, e.Message)
}

type tokenRequest struct {
	PluginName      string `json:"pluginName"`
	PluginDeveloper string `json:"pluginDeveloper"`
}

type tokenResponse struct {
	AuthenticationToken string `json:"authenticationToken"`
}

type authRequest struct {
	PluginName          string `json:"pluginName"`
	PluginDeveloper     string `json:"pluginDeveloper"`
	AuthenticationToken string `json:"authenticationToken"`
}

type authResponse struct {
	Authenticated *bool  `json:"authenticated,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

type parameterCreationRequest struct {
	ParameterName string  `json:"parameterName"`
	Explanation   string  `json:"explanation"`
	Min           float64 `json:"min"`
	Max           float64 `json:"max"`
	DefaultValue  float64 `json:"defaultValue"`
}

// InjectData is the per-frame payload of an InjectParameterDataRequest.
type InjectData struct {
	FaceFound       bool             `json:"faceFound"`
	Mode            string           `json:"mode"`
	ParameterValues []ParameterValue `json:"parameterValues"`
}

// ParameterValue is one {id, value} pair on the wire.
type ParameterValue struct {
	ID    string  `json:"id"`
	Value float64 `json:"value"`
}

// decodeEnvelope parses raw into an envelope and surfaces APIError responses
// as *APIError.
func decodeEnvelope(raw string) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	if env.MessageType == MsgAPIError {
		apiErr := &APIError{}
		if len(env.Data) > 0 {
			_ = json.Unmarshal(env.Data, apiErr)
		}
		return &env, apiErr
	}
	return &env, nil
}
