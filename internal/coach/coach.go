// Package coach defines the boundary to the external text-generation
// collaborator that produces natural-language coaching feedback and
// personality analysis for a speaking session.
//
// The generator is advisory, never authoritative: every call may fail
// (timeout, malformed response, missing fields) and callers must recover via
// the deterministic fallback values in this package. A generator failure must
// never abort session finalization or block persistence of locally computed
// metrics.
//
// Implementations must be safe for concurrent use.
package coach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cadenza-coach/cadenza/internal/analysis"
)

// ErrUnavailable is returned (possibly wrapped) when the generator cannot
// produce a usable response. Callers should substitute the deterministic
// defaults and proceed.
var ErrUnavailable = errors.New("coach: generator unavailable")

// FeedbackType classifies a feedback item.
type FeedbackType string

const (
	FeedbackSuggestion FeedbackType = "suggestion"
	FeedbackPraise     FeedbackType = "praise"
	FeedbackCorrection FeedbackType = "correction"
)

// IsValid reports whether t is a recognised feedback type.
func (t FeedbackType) IsValid() bool {
	switch t {
	case FeedbackSuggestion, FeedbackPraise, FeedbackCorrection:
		return true
	}
	return false
}

// FeedbackItem is one piece of coaching feedback produced for a live session.
type FeedbackItem struct {
	// Type classifies the item (suggestion, praise, correction).
	Type FeedbackType `json:"type"`

	// Category is a free-form label such as "grammar", "pace", or "filler".
	Category string `json:"category"`

	// Message is the coaching text shown to the speaker.
	Message string `json:"message"`
}

// SessionMemory carries the cross-session observations the generator keeps
// between analyses of the same speaker.
type SessionMemory struct {
	RecurringMistakes []string `json:"recurringMistakes"`
	ImprovementAreas  []string `json:"improvementAreas"`
	RecommendedFocus  []string `json:"recommendedFocus"`
}

// PersonalityAnalysis is the structured result of a whole-transcript style
// analysis. Trait scores are in [0, 100].
type PersonalityAnalysis struct {
	PrimaryType     string         `json:"primaryType"`
	SecondaryTrait  string         `json:"secondaryTrait"`
	Strengths       []string       `json:"strengths"`
	GrowthAreas     []string       `json:"growthAreas"`
	Confidence      int            `json:"confidence"`
	FluencyScore    int            `json:"fluencyScore"`
	GrammarScore    int            `json:"grammarScore"`
	VocabularyScore int            `json:"vocabularyScore"`
	OverusedWords   []string       `json:"overusedWords"`
	Traits          map[string]int `json:"traits"`
	SessionMemory   SessionMemory  `json:"sessionMemory"`
	GeneratedAt     time.Time      `json:"generatedAt"`
}

// Validate checks that an analysis parsed from a generator response carries
// the required fields. A failed validation is treated like any other
// generator failure: the caller falls back to [DefaultPersonality].
func (p *PersonalityAnalysis) Validate() error {
	var errs []error
	if p.PrimaryType == "" {
		errs = append(errs, errors.New("primaryType is empty"))
	}
	if p.SecondaryTrait == "" {
		errs = append(errs, errors.New("secondaryTrait is empty"))
	}
	if len(p.Strengths) == 0 {
		errs = append(errs, errors.New("strengths is empty"))
	}
	if len(p.GrowthAreas) == 0 {
		errs = append(errs, errors.New("growthAreas is empty"))
	}
	if len(p.Traits) == 0 {
		errs = append(errs, errors.New("traits is empty"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("coach: invalid personality analysis: %w", err)
	}
	return nil
}

// Generator is the abstraction over the external text-generation service.
//
// Every method is best-effort: a non-nil error means the caller should apply
// the corresponding deterministic fallback. Implementations must respect
// context cancellation and deadlines.
type Generator interface {
	// GenerateFeedback produces coaching feedback for the newest transcript
	// fragment, given the conversation so far and the current metrics snapshot.
	GenerateFeedback(ctx context.Context, fragment, conversation string, m analysis.Metrics) ([]FeedbackItem, error)

	// AnalyzePersonality produces a whole-transcript personality and style
	// analysis. previous, when non-nil, is the analysis from an earlier
	// session and enables cross-session memory of recurring mistakes.
	AnalyzePersonality(ctx context.Context, transcript string, previous *PersonalityAnalysis) (*PersonalityAnalysis, error)

	// ConversationStarter produces an opening line for a practice
	// conversation about topic at the given proficiency level.
	ConversationStarter(ctx context.Context, topic, level string) (string, error)

	// InterviewQuestion produces a mock-interview question for the subject
	// and difficulty, avoiding the previously asked questions.
	InterviewQuestion(ctx context.Context, subject, difficulty string, previous []string) (string, error)

	// SeminarQuestion produces an audience question for presented content.
	SeminarQuestion(ctx context.Context, presentation string) (string, error)
}
