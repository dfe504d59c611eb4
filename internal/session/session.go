// Package session implements the lifecycle of a live coaching session: start,
// transcript fragment ingestion with incremental metrics, and finalization
// into a session report folded into the user's long-term progress.
//
// The [Manager] owns all live session state. Locally computed analysis never
// depends on the external feedback generator; generator failures degrade to
// deterministic fallbacks and never abort a session.
package session

import (
	"time"

	"github.com/cadenza-coach/cadenza/internal/analysis"
	"github.com/cadenza-coach/cadenza/internal/coach"
)

// State describes where a session is in its lifecycle.
type State int

const (
	// StateActive means the session accepts transcript fragments.
	StateActive State = iota

	// StateEnded means the session has been finalized. Ended sessions reject
	// fragments and return their stored report on repeated End calls.
	StateEnded
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

// Report is the immutable summary produced when a session ends.
type Report struct {
	SessionID       string                     `json:"sessionId"`
	UserID          string                     `json:"userId"`
	DurationSeconds int                        `json:"durationSeconds"`
	Metrics         analysis.Metrics           `json:"metrics"`
	Patterns        analysis.Patterns          `json:"patterns"`
	Pace            analysis.PaceRating        `json:"pace"`
	PaceSuggestion  string                     `json:"paceSuggestion"`
	Personality     *coach.PersonalityAnalysis `json:"personality,omitempty"`
	EndedAt         time.Time                  `json:"endedAt"`
}

// Emitter receives session events for delivery to the client transport.
//
// Implementations must not block: the manager calls emitter methods while
// processing fragments and finalization. Delivery is best-effort; a client
// that has gone away simply misses the event.
type Emitter interface {
	// MetricsUpdate delivers a fresh metrics snapshot after a fragment.
	MetricsUpdate(sessionID string, m analysis.Metrics)

	// FeedbackItems delivers generated coaching feedback.
	FeedbackItems(sessionID string, items []coach.FeedbackItem)

	// SessionReport delivers the final report when a session ends.
	SessionReport(sessionID string, r *Report)

	// Error delivers a non-fatal error notice, identified by a stable kind
	// string such as "persistence_failed".
	Error(sessionID, kind string)
}

// noopEmitter is used when the manager has no transport attached.
type noopEmitter struct{}

func (noopEmitter) MetricsUpdate(string, analysis.Metrics)     {}
func (noopEmitter) FeedbackItems(string, []coach.FeedbackItem) {}
func (noopEmitter) SessionReport(string, *Report)              {}
func (noopEmitter) Error(string, string)                       {}
