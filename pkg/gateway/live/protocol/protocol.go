// Package protocol defines the JSON frames exchanged with the glasses over
// the live websocket.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const ProtocolVersion1 = "1"

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

type HelloClient struct {
	Name     string `json:"name,omitempty"`
	Version  string `json:"version,omitempty"`
	Platform string `json:"platform,omitempty"`
}

type HelloAuth struct {
	GatewayAPIKey string `json:"gateway_api_key,omitempty"`
}

type HelloFeatures struct {
	// FollowUp opts the wearer into the post-answer listening window.
	FollowUp bool `json:"follow_up,omitempty"`
	// HeadUpGate requires a raised head before idle wake phrases count.
	HeadUpGate bool `json:"head_up_gate,omitempty"`
	// Camera reports whether the device can serve photo requests.
	Camera bool `json:"camera,omitempty"`
}

type ClientHello struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	Client          HelloClient   `json:"client,omitempty"`
	Auth            *HelloAuth    `json:"auth,omitempty"`
	UserID          string        `json:"user_id"`
	Features        HelloFeatures `json:"features,omitempty"`
}

// RedactedForLog drops the API key before the hello reaches the access log.
func (h ClientHello) RedactedForLog() map[string]any {
	return map[string]any{
		"type":             h.Type,
		"protocol_version": h.ProtocolVersion,
		"user_id":          h.UserID,
		"client":           h.Client,
		"features":         h.Features,
		"has_gateway_key":  h.Auth != nil && strings.TrimSpace(h.Auth.GatewayAPIKey) != "",
	}
}

// ClientTranscription carries one speech-to-text event. Text is cumulative
// within the current utterance, not a delta.
type ClientTranscription struct {
	Type        string `json:"type"`
	SpeakerID   string `json:"speaker_id"`
	Text        string `json:"text"`
	IsFinal     bool   `json:"is_final"`
	TimestampMS *int64 `json:"timestamp_ms,omitempty"`
}

// ClientPhotoResponse answers an earlier server photo_request.
type ClientPhotoResponse struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	MimeType  string `json:"mime_type,omitempty"`
	DataB64   string `json:"data_b64,omitempty"`
	Error     string `json:"error,omitempty"`
}

type ClientHeadPosition struct {
	Type string `json:"type"`
	Up   bool   `json:"up"`
}

type ClientControl struct {
	Type string `json:"type"`
	Op   string `json:"op"`
}

func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "hello":
		var msg ClientHello
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid hello frame", "")
		}
		if err := ValidateHello(msg); err != nil {
			return nil, err
		}
		return msg, nil
	case "transcription":
		var msg ClientTranscription
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid transcription", "")
		}
		if strings.TrimSpace(msg.SpeakerID) == "" {
			return nil, badRequest("transcription.speaker_id is required", "speaker_id")
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, badRequest("transcription.text is required", "text")
		}
		return msg, nil
	case "photo_response":
		var msg ClientPhotoResponse
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid photo_response", "")
		}
		if strings.TrimSpace(msg.RequestID) == "" {
			return nil, badRequest("photo_response.request_id is required", "request_id")
		}
		if strings.TrimSpace(msg.DataB64) == "" && strings.TrimSpace(msg.Error) == "" {
			return nil, badRequest("photo_response needs data_b64 or error", "data_b64")
		}
		return msg, nil
	case "head_position":
		var msg ClientHeadPosition
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid head_position", "")
		}
		return msg, nil
	case "control":
		var msg ClientControl
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid control", "")
		}
		op := strings.TrimSpace(msg.Op)
		if op == "" {
			return nil, badRequest("control.op is required", "op")
		}
		switch op {
		case "end_session":
		default:
			return nil, unsupported("unsupported control operation", "op")
		}
		msg.Op = op
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

func ValidateHello(msg ClientHello) error {
	if strings.TrimSpace(msg.ProtocolVersion) == "" {
		return badRequest("hello.protocol_version is required", "protocol_version")
	}
	if msg.ProtocolVersion != ProtocolVersion1 {
		return unsupported("unsupported protocol version", "protocol_version")
	}
	if strings.TrimSpace(msg.UserID) == "" {
		return badRequest("hello.user_id is required", "user_id")
	}
	return nil
}

type SessionReadyLimits struct {
	MaxJSONMessageBytes int `json:"max_json_message_bytes"`
	PhotoWaitMS         int `json:"photo_wait_ms"`
	FollowUpWindowMS    int `json:"follow_up_window_ms"`
}

type ServerSessionReady struct {
	Type            string              `json:"type"`
	ProtocolVersion string              `json:"protocol_version"`
	SessionID       string              `json:"session_id"`
	Features        HelloFeatures       `json:"features"`
	Limits          *SessionReadyLimits `json:"limits,omitempty"`
}

// ServerStatus carries a short state string ("listening", "processing",
// "idle") for UI feedback on the glasses.
type ServerStatus struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

type ServerSpeak struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ServerDisplay struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ServerPhotoRequest asks the device for a capture; the device answers with
// a photo_response carrying the same request id.
type ServerPhotoRequest struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
}

// ServerAppAction tells the device to start or stop the app the user picked
// out of a disambiguation offer.
type ServerAppAction struct {
	Type        string `json:"type"`
	Action      string `json:"action"`
	CandidateID string `json:"candidate_id,omitempty"`
	Name        string `json:"name"`
}

type ServerSessionError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
	Close   bool   `json:"close,omitempty"`
}
