// Package store defines the persistence boundary for Cadenza: users, finished
// session records, per-session feedback items, and longitudinal user progress.
//
// The interface is implemented twice — an in-memory map store (memstore) for
// development and tests, and a PostgreSQL store (postgres) for production —
// and the choice is made by configuration at composition time, never inside
// the session manager.
//
// Every implementation must be safe for concurrent use.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/cadenza-coach/cadenza/internal/analysis"
	"github.com/cadenza-coach/cadenza/internal/coach"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("store: not found")

// User is a registered speaker.
type User struct {
	ID              string
	Username        string
	PersonalityType string
	Level           string
	CreatedAt       time.Time
}

// SessionRecord is the persisted form of one coaching session. While a
// session is live it is saved with Ended=false; the final save freezes the
// transcript and metrics and sets Ended=true.
type SessionRecord struct {
	ID     string
	UserID string

	// StartedAt is the session start instant (UTC).
	StartedAt time.Time

	// DurationSeconds is the elapsed speaking time, set on finalization.
	DurationSeconds int

	// Metrics is the latest (or, once ended, final) metrics snapshot.
	Metrics analysis.Metrics

	// Transcript is the accumulated transcript text; immutable once Ended.
	Transcript string

	// Personality is the generator's whole-transcript analysis, or the
	// deterministic default profile when the generator was unavailable.
	Personality *coach.PersonalityAnalysis

	// Ended marks the record as finalized.
	Ended bool

	CreatedAt time.Time
}

// FeedbackItem is one persisted piece of coaching feedback, owned by exactly
// one session and read back in arrival order.
type FeedbackItem struct {
	ID        string
	SessionID string
	Type      coach.FeedbackType
	Category  string
	Message   string
	Timestamp time.Time
}

// UserProgress is the durable cross-session aggregate for one user.
type UserProgress struct {
	UserID string

	// TotalSpeakingTime is cumulative speaking time in seconds. It only
	// ever increases.
	TotalSpeakingTime int

	// StreakDays is the current consecutive-day practice streak.
	StreakDays int

	// TrackedIssues counts recurring issue detections by label. Counts only
	// increase.
	TrackedIssues map[string]int

	// PersonalityTraits is the latest session's trait map, replaced
	// wholesale on every session end.
	PersonalityTraits map[string]int

	// ImprovementAreas is the latest session's improvement suggestions.
	ImprovementAreas []string

	// LastSessionAt is the end time of the most recent session.
	LastSessionAt time.Time

	UpdatedAt time.Time
}

// Store is the persistence abstraction consumed by the session manager and
// the progress aggregator.
type Store interface {
	// GetUser returns the user with the given ID, or [ErrNotFound].
	GetUser(ctx context.Context, id string) (*User, error)

	// CreateUser persists a new user.
	CreateUser(ctx context.Context, u *User) error

	// UpdateUser overwrites an existing user record, or returns [ErrNotFound].
	UpdateUser(ctx context.Context, u *User) error

	// SaveSession inserts or overwrites a session record keyed by its ID.
	SaveSession(ctx context.Context, rec *SessionRecord) error

	// GetSession returns the session record with the given ID, or [ErrNotFound].
	GetSession(ctx context.Context, id string) (*SessionRecord, error)

	// SessionsForUser returns the user's most recent sessions, newest first,
	// capped at limit (a non-positive limit applies the implementation default).
	SessionsForUser(ctx context.Context, userID string, limit int) ([]SessionRecord, error)

	// ActiveSessionForUser returns the user's most recently started
	// non-ended session record, or [ErrNotFound].
	ActiveSessionForUser(ctx context.Context, userID string) (*SessionRecord, error)

	// AppendFeedback persists one feedback item.
	AppendFeedback(ctx context.Context, item *FeedbackItem) error

	// FeedbackForSession returns a session's feedback items in arrival order.
	FeedbackForSession(ctx context.Context, sessionID string) ([]FeedbackItem, error)

	// GetProgress returns the user's progress record, or [ErrNotFound] when
	// the user has never finished a session.
	GetProgress(ctx context.Context, userID string) (*UserProgress, error)

	// SaveProgress inserts or overwrites the user's progress record.
	SaveProgress(ctx context.Context, p *UserProgress) error
}
