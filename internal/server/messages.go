package server

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cadenza-coach/cadenza/internal/analysis"
	"github.com/cadenza-coach/cadenza/internal/coach"
	"github.com/cadenza-coach/cadenza/internal/session"
)

// Message types sent by clients.
const (
	TypeStartSession       = "start_session"
	TypeTranscriptFragment = "transcript_fragment"
	TypeEndSession         = "end_session"
)

// Message types sent by the server.
const (
	TypeSessionStarted = "session_started"
	TypeMetricsUpdate  = "metrics_update"
	TypeFeedback       = "feedback"
	TypeSessionReport  = "session_report"
	TypeError          = "error"
)

// Error codes carried in error envelopes.
const (
	CodeInvalidMessage    = "invalid_message"
	CodeSessionNotFound   = "session_not_found"
	CodeSessionNotActive  = "session_not_active"
	CodeInvalidFragment   = "invalid_fragment"
	CodePersistenceFailed = "persistence_failed"
	CodeInternal          = "internal_error"
)

// Envelope is the wire frame for every websocket message in both directions.
// Data carries the type-specific payload.
type Envelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// StartSessionPayload is the client payload for start_session.
type StartSessionPayload struct {
	UserID string `json:"userId"`
}

// FragmentPayload is the client payload for transcript_fragment. Audio is
// optional; when absent the analyzer applies fixed defaults.
type FragmentPayload struct {
	Text  string               `json:"text"`
	Audio *analysis.AudioStats `json:"audio,omitempty"`
}

// SessionStartedPayload is the server payload for session_started.
type SessionStartedPayload struct {
	SessionID string `json:"sessionId"`
}

// FeedbackPayload is the server payload for feedback.
type FeedbackPayload struct {
	Items []coach.FeedbackItem `json:"items"`
}

// ErrorPayload is the server payload for error envelopes.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DecodeEnvelope parses a raw websocket frame into an Envelope. A missing
// type is rejected here so handlers never see an untyped message.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("server: decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("server: decode envelope: missing type")
	}
	return &env, nil
}

// encodeEnvelope builds an envelope with a marshalled payload.
func encodeEnvelope(msgType, sessionID string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("server: encode %s: %w", msgType, err)
	}
	return Envelope{Type: msgType, SessionID: sessionID, Data: data}, nil
}

// errorCode maps a session manager error to its wire code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return CodeSessionNotFound
	case errors.Is(err, session.ErrSessionNotActive):
		return CodeSessionNotActive
	case errors.Is(err, session.ErrInvalidFragment):
		return CodeInvalidFragment
	case errors.Is(err, session.ErrPersistence):
		return CodePersistenceFailed
	}
	return CodeInternal
}
