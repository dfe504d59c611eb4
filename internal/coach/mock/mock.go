// Package mock provides a test double for the coach.Generator interface.
//
// Zero values for response fields cause methods to return empty values and
// nil errors. Set the Err fields to inject failures. All mocks are safe for
// concurrent use and record their invocations.
//
// Example:
//
//	g := &mock.Generator{
//	    FeedbackResult: []coach.FeedbackItem{{Type: coach.FeedbackPraise, Message: "Nice!"}},
//	}
//	items, err := g.GenerateFeedback(ctx, "hello", "", metrics)
package mock

import (
	"context"
	"sync"

	"github.com/cadenza-coach/cadenza/internal/analysis"
	"github.com/cadenza-coach/cadenza/internal/coach"
)

// Compile-time interface check.
var _ coach.Generator = (*Generator)(nil)

// FeedbackCall records a single invocation of GenerateFeedback.
type FeedbackCall struct {
	Fragment     string
	Conversation string
	Metrics      analysis.Metrics
}

// PersonalityCall records a single invocation of AnalyzePersonality.
type PersonalityCall struct {
	Transcript string
	Previous   *coach.PersonalityAnalysis
}

// Generator is a mock implementation of coach.Generator.
type Generator struct {
	mu sync.Mutex

	// FeedbackResult is returned by GenerateFeedback.
	FeedbackResult []coach.FeedbackItem

	// FeedbackErr, if non-nil, is returned by GenerateFeedback.
	FeedbackErr error

	// FeedbackDelay, if set, blocks GenerateFeedback until the delay elapses
	// or the context is cancelled (whichever comes first).
	FeedbackDelay <-chan struct{}

	// PersonalityResult is returned by AnalyzePersonality.
	PersonalityResult *coach.PersonalityAnalysis

	// PersonalityErr, if non-nil, is returned by AnalyzePersonality.
	PersonalityErr error

	// LineResult is returned by the question-generation helpers.
	LineResult string

	// LineErr, if non-nil, is returned by the question-generation helpers.
	LineErr error

	// --- Recorded calls ---

	FeedbackCalls    []FeedbackCall
	PersonalityCalls []PersonalityCall
}

// GenerateFeedback implements coach.Generator.
func (g *Generator) GenerateFeedback(ctx context.Context, fragment, conversation string, m analysis.Metrics) ([]coach.FeedbackItem, error) {
	g.mu.Lock()
	g.FeedbackCalls = append(g.FeedbackCalls, FeedbackCall{Fragment: fragment, Conversation: conversation, Metrics: m})
	delay := g.FeedbackDelay
	result, err := g.FeedbackResult, g.FeedbackErr
	g.mu.Unlock()

	if delay != nil {
		select {
		case <-delay:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return result, err
}

// AnalyzePersonality implements coach.Generator.
func (g *Generator) AnalyzePersonality(ctx context.Context, transcript string, previous *coach.PersonalityAnalysis) (*coach.PersonalityAnalysis, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.PersonalityCalls = append(g.PersonalityCalls, PersonalityCall{Transcript: transcript, Previous: previous})
	return g.PersonalityResult, g.PersonalityErr
}

// ConversationStarter implements coach.Generator.
func (g *Generator) ConversationStarter(ctx context.Context, topic, level string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.LineResult, g.LineErr
}

// InterviewQuestion implements coach.Generator.
func (g *Generator) InterviewQuestion(ctx context.Context, subject, difficulty string, previous []string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.LineResult, g.LineErr
}

// SeminarQuestion implements coach.Generator.
func (g *Generator) SeminarQuestion(ctx context.Context, presentation string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.LineResult, g.LineErr
}

// FeedbackCallCount returns the number of recorded GenerateFeedback calls.
func (g *Generator) FeedbackCallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.FeedbackCalls)
}

// PersonalityCallCount returns the number of recorded AnalyzePersonality calls.
func (g *Generator) PersonalityCallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.PersonalityCalls)
}
