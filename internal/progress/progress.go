// Package progress folds finished session outcomes into durable per-user
// aggregates: cumulative speaking time, recurring issue counts, a practice
// streak and the latest personality snapshot.
package progress

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/cadenza-coach/cadenza/internal/store"
)

// Outcome is the summary of one finished session handed to [Aggregator.Fold].
type Outcome struct {
	// DurationSeconds is the session's elapsed speaking time.
	DurationSeconds int

	// Issues holds detected issue labels, one entry per detection.
	Issues []string

	// Traits is the session's personality trait map. It replaces the stored
	// map wholesale; a nil map leaves the stored one unchanged.
	Traits map[string]int

	// ImprovementAreas replaces the stored list wholesale; nil leaves the
	// stored list unchanged.
	ImprovementAreas []string

	// EndedAt is the session end instant.
	EndedAt time.Time
}

// StreakPolicy decides the new streak value when a session ends.
type StreakPolicy interface {
	// Advance returns the new streak given the previous streak, the previous
	// session's end time (zero when this is the user's first session) and the
	// current session's end time.
	Advance(streak int, last, now time.Time) int
}

// UTCDayStreak is the default [StreakPolicy]: streaks advance over UTC
// calendar days. A second session on the same day keeps the streak, a session
// on the next day extends it by one, and a gap of two or more days (or a
// first-ever session) resets it to one.
type UTCDayStreak struct{}

var _ StreakPolicy = UTCDayStreak{}

// Advance implements [StreakPolicy].
func (UTCDayStreak) Advance(streak int, last, now time.Time) int {
	if last.IsZero() {
		return 1
	}
	lastDay := utcDay(last)
	nowDay := utcDay(now)
	switch nowDay.Sub(lastDay) {
	case 0:
		if streak < 1 {
			return 1
		}
		return streak
	case 24 * time.Hour:
		return streak + 1
	default:
		return 1
	}
}

func utcDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Option configures an [Aggregator].
type Option func(*Aggregator)

// WithStreakPolicy replaces the default [UTCDayStreak] policy.
func WithStreakPolicy(p StreakPolicy) Option {
	return func(a *Aggregator) { a.streak = p }
}

// Aggregator folds session outcomes into [store.UserProgress] records.
type Aggregator struct {
	store  store.Store
	streak StreakPolicy
}

// NewAggregator creates an Aggregator persisting through st.
func NewAggregator(st store.Store, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:  st,
		streak: UTCDayStreak{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Fold merges outcome into the user's progress record and persists it. The
// record is created on first use. Cumulative fields (speaking time, issue
// counts) only grow; snapshot fields (traits, improvement areas) are replaced
// by the session's values.
func (a *Aggregator) Fold(ctx context.Context, userID string, outcome Outcome) (*store.UserProgress, error) {
	p, err := a.store.GetProgress(ctx, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		p = &store.UserProgress{
			UserID:        userID,
			TrackedIssues: make(map[string]int),
		}
	case err != nil:
		return nil, fmt.Errorf("progress: load: %w", err)
	}
	if p.TrackedIssues == nil {
		p.TrackedIssues = make(map[string]int)
	}

	p.TotalSpeakingTime += outcome.DurationSeconds
	for _, issue := range outcome.Issues {
		p.TrackedIssues[issue]++
	}
	if outcome.Traits != nil {
		p.PersonalityTraits = maps.Clone(outcome.Traits)
	}
	if outcome.ImprovementAreas != nil {
		p.ImprovementAreas = slices.Clone(outcome.ImprovementAreas)
	}

	endedAt := outcome.EndedAt
	if endedAt.IsZero() {
		endedAt = time.Now().UTC()
	}
	p.StreakDays = a.streak.Advance(p.StreakDays, p.LastSessionAt, endedAt)
	p.LastSessionAt = endedAt
	p.UpdatedAt = time.Now().UTC()

	if err := a.store.SaveProgress(ctx, p); err != nil {
		return nil, fmt.Errorf("progress: save: %w", err)
	}
	return p, nil
}
