// Package anyllm implements coach.Generator on top of
// github.com/mozilla-ai/any-llm-go, the unified multi-provider LLM interface
// (OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and more).
//
// Usage:
//
//	g, err := anyllm.New("openai", "gpt-4o", anyllmlib.WithAPIKey("sk-..."))
package anyllm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/cadenza-coach/cadenza/internal/analysis"
	"github.com/cadenza-coach/cadenza/internal/coach"
)

// Compile-time interface check.
var _ coach.Generator = (*Generator)(nil)

const (
	feedbackSystemPrompt = `You are Cadenza, an AI speaking coach. Given the speaker's newest
utterance, the conversation so far, and their current speech metrics, respond
with a JSON array of at most three feedback items in this exact format:
[{"type":"suggestion|praise|correction","category":"string","message":"string"}]
Respond with JSON only, no prose.`

	personalitySystemPrompt = `You are Cadenza, an AI speaking coach specialising in fluency and
confidence building. Analyse the speaker's full transcript and respond with
JSON in this exact format:
{"primaryType":"string","secondaryTrait":"string","strengths":["..."],
"growthAreas":["..."],"confidence":0,"fluencyScore":0,"grammarScore":0,
"vocabularyScore":0,"overusedWords":["..."],
"traits":{"confident":0,"expressive":0,"analytical":0,"social":0,"creative":0,"technical":0},
"sessionMemory":{"recurringMistakes":["..."],"improvementAreas":["..."],"recommendedFocus":["..."]}}
All numeric scores are 0-100. Respond with JSON only, no prose.`
)

// Option is a functional option for configuring a [Generator].
type Option func(*Generator)

// WithTemperature sets the sampling temperature for all calls. Default: 0.7.
func WithTemperature(t float64) Option {
	return func(g *Generator) {
		g.temperature = t
	}
}

// WithMaxTokens caps completion length. Default: 2000.
func WithMaxTokens(n int) Option {
	return func(g *Generator) {
		g.maxTokens = n
	}
}

// Generator implements coach.Generator by prompting an LLM through
// any-llm-go and parsing its JSON responses.
type Generator struct {
	backend     anyllmlib.Provider
	model       string
	temperature float64
	maxTokens   int
}

// New creates a Generator backed by the named LLM provider.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq", "llamacpp", "llamafile". model is the
// provider-specific model identifier (e.g., "gpt-4o"). libOpts are any-llm-go
// options (anyllmlib.WithAPIKey, anyllmlib.WithBaseURL); without an API key
// option the provider falls back to its environment variable.
func New(providerName, model string, libOpts []anyllmlib.Option, opts ...Option) (*Generator, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, libOpts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	g := &Generator{
		backend:     backend,
		model:       model,
		temperature: 0.7,
		maxTokens:   2000,
	}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

// GenerateFeedback implements coach.Generator.
func (g *Generator) GenerateFeedback(ctx context.Context, fragment, conversation string, m analysis.Metrics) ([]coach.FeedbackItem, error) {
	user := fmt.Sprintf(
		"Newest utterance: %q\n\nConversation so far:\n%s\n\nCurrent metrics: %d WPM, clarity %d/100, confidence %d/100, %d filler words.",
		fragment, conversation, m.WordsPerMinute, m.ClarityScore, m.ConfidenceLevel, m.FillerWordCount,
	)

	content, err := g.complete(ctx, feedbackSystemPrompt, user)
	if err != nil {
		return nil, err
	}

	var items []coach.FeedbackItem
	if err := json.Unmarshal([]byte(stripFences(content)), &items); err != nil {
		return nil, fmt.Errorf("%w: parse feedback: %v", coach.ErrUnavailable, err)
	}
	for i, item := range items {
		if !item.Type.IsValid() {
			return nil, fmt.Errorf("%w: feedback item %d has invalid type %q", coach.ErrUnavailable, i, item.Type)
		}
		if item.Message == "" {
			return nil, fmt.Errorf("%w: feedback item %d has empty message", coach.ErrUnavailable, i)
		}
	}
	return items, nil
}

// AnalyzePersonality implements coach.Generator.
func (g *Generator) AnalyzePersonality(ctx context.Context, transcript string, previous *coach.PersonalityAnalysis) (*coach.PersonalityAnalysis, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Analyse this speaker's transcript:\n\n%q\n", transcript)
	if previous != nil {
		prev, err := json.Marshal(previous)
		if err == nil {
			fmt.Fprintf(&sb, "\nPrevious session analysis for cross-session memory: %s\n", prev)
		}
	}

	content, err := g.complete(ctx, personalitySystemPrompt, sb.String())
	if err != nil {
		return nil, err
	}

	var result coach.PersonalityAnalysis
	if err := json.Unmarshal([]byte(stripFences(content)), &result); err != nil {
		return nil, fmt.Errorf("%w: parse personality analysis: %v", coach.ErrUnavailable, err)
	}
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", coach.ErrUnavailable, err)
	}
	result.GeneratedAt = time.Now().UTC()
	return &result, nil
}

// ConversationStarter implements coach.Generator.
func (g *Generator) ConversationStarter(ctx context.Context, topic, level string) (string, error) {
	if level == "" {
		level = "intermediate"
	}
	sys := "You are Cadenza's conversation partner. Generate one natural, engaging conversation starter. Keep it supportive and encouraging. Respond with the line only."
	user := fmt.Sprintf("Context: %q. Speaker level: %s.", topic, level)
	return g.completeLine(ctx, sys, user)
}

// InterviewQuestion implements coach.Generator.
func (g *Generator) InterviewQuestion(ctx context.Context, subject, difficulty string, previous []string) (string, error) {
	sys := "You are Cadenza's interview simulator. Generate one realistic interview question matching the subject and difficulty. Do not repeat earlier questions. Respond with the question only."
	prev := "None"
	if len(previous) > 0 {
		prev = strings.Join(previous, "; ")
	}
	user := fmt.Sprintf("Subject: %s. Difficulty: %s. Previously asked: %s.", subject, difficulty, prev)
	return g.completeLine(ctx, sys, user)
}

// SeminarQuestion implements coach.Generator.
func (g *Generator) SeminarQuestion(ctx context.Context, presentation string) (string, error) {
	sys := "You are Cadenza's seminar audience. Generate one thoughtful audience question directly related to the presented content. Respond with the question only."
	user := fmt.Sprintf("Presentation content: %q", presentation)
	return g.completeLine(ctx, sys, user)
}

// complete sends a system+user prompt pair and returns the raw completion text.
func (g *Generator) complete(ctx context.Context, system, user string) (string, error) {
	params := anyllmlib.CompletionParams{
		Model: g.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: system},
			{Role: anyllmlib.RoleUser, Content: user},
		},
	}
	t := g.temperature
	params.Temperature = &t
	if g.maxTokens > 0 {
		mt := g.maxTokens
		params.MaxTokens = &mt
	}

	resp, err := g.backend.Completion(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%w: completion: %v", coach.ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices in response", coach.ErrUnavailable)
	}
	content := resp.Choices[0].Message.ContentString()
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("%w: empty completion", coach.ErrUnavailable)
	}
	return content, nil
}

// completeLine is complete with whitespace trimming, for single-line answers.
func (g *Generator) completeLine(ctx context.Context, system, user string) (string, error) {
	content, err := g.complete(ctx, system, user)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

// stripFences removes a Markdown code fence wrapper if the model added one.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// createBackend creates the underlying any-llm-go provider by name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}
