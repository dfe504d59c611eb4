package session

import (
	"context"
	"strings"
	"time"

	"github.com/cadenza-coach/cadenza/internal/coach"
)

// Practice prompts are one-shot generator calls made outside any session.
// They share the feedback path's breaker and timeout and always return a
// usable prompt: generator failure degrades to the fixed defaults.

// ConversationStarter returns an opening line for a free-conversation
// practice round on the given topic and speaker level.
func (m *Manager) ConversationStarter(ctx context.Context, topic, level string) string {
	return m.practicePrompt(ctx, "conversation_starter", coach.DefaultConversationStarter(),
		func(ctx context.Context, gen coach.Generator) (string, error) {
			return gen.ConversationStarter(ctx, topic, level)
		})
}

// InterviewQuestion returns a mock-interview question for the subject,
// avoiding the previously asked questions.
func (m *Manager) InterviewQuestion(ctx context.Context, subject, difficulty string, previous []string) string {
	return m.practicePrompt(ctx, "interview_question", coach.DefaultInterviewQuestion(),
		func(ctx context.Context, gen coach.Generator) (string, error) {
			return gen.InterviewQuestion(ctx, subject, difficulty, previous)
		})
}

// SeminarQuestion returns an audience question for presented content.
func (m *Manager) SeminarQuestion(ctx context.Context, presentation string) string {
	return m.practicePrompt(ctx, "seminar_question", coach.DefaultSeminarQuestion(),
		func(ctx context.Context, gen coach.Generator) (string, error) {
			return gen.SeminarQuestion(ctx, presentation)
		})
}

func (m *Manager) practicePrompt(ctx context.Context, kind, fallback string, call func(context.Context, coach.Generator) (string, error)) string {
	gen := m.generator()
	if gen == nil {
		return fallback
	}
	ctx, cancel := context.WithTimeout(ctx, m.genTimeout)
	defer cancel()

	var prompt string
	started := time.Now()
	err := m.breaker.Execute(func() error {
		var genErr error
		prompt, genErr = call(ctx, gen)
		return genErr
	})
	if m.metrics != nil {
		m.metrics.GeneratorDuration.Record(ctx, time.Since(started).Seconds())
		status := "ok"
		if err != nil {
			status = "error"
		}
		m.metrics.RecordGeneratorRequest(ctx, kind, status)
	}
	if err != nil || strings.TrimSpace(prompt) == "" {
		m.logger.Warn("practice prompt degraded to default", "kind", kind, "error", err)
		if m.metrics != nil {
			m.metrics.RecordGeneratorFallback(ctx, kind)
		}
		return fallback
	}
	return prompt
}
