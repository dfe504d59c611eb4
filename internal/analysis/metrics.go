package analysis

import (
	"math"
	"strings"
	"time"
)

// confidentPhrases raise the confidence estimate by 5 points per occurrence.
var confidentPhrases = []string{
	"i believe", "i think", "clearly", "obviously", "definitely",
	"certainly", "absolutely", "without doubt", "i'm confident",
}

// uncertainPhrases lower the confidence estimate by 8 points per occurrence.
var uncertainPhrases = []string{
	"maybe", "perhaps", "i guess", "probably", "might be",
	"could be", "not sure", "i don't know", "possibly",
}

// PauseStats carries pause measurements taken from the audio signal.
type PauseStats struct {
	// AverageLength is the mean pause length in seconds.
	AverageLength float64 `json:"averagePauseLength"`

	// Frequency is the fraction of speaking time spent pausing.
	Frequency float64 `json:"pauseFrequency"`
}

// VolumeStats carries volume measurements taken from the audio signal.
type VolumeStats struct {
	// Average is the normalised mean volume in [0, 1].
	Average float64 `json:"averageVolume"`

	// Variation is the normalised volume variance in [0, 1].
	Variation float64 `json:"volumeVariation"`
}

// AudioStats bundles the audio-level measurements a client may report
// alongside a transcript fragment. The metrics engine passes these through
// unchanged; it never derives them from text.
type AudioStats struct {
	Pause  PauseStats  `json:"pause"`
	Volume VolumeStats `json:"volume"`
}

// defaultAudioStats is used when the client reports no audio measurements.
var defaultAudioStats = AudioStats{
	Pause:  PauseStats{AverageLength: 0.8, Frequency: 0.3},
	Volume: VolumeStats{Average: 0.7, Variation: 0.4},
}

// Metrics is the quantitative snapshot computed over a complete
// transcript-so-far. It is recomputed from scratch on every analysis call and
// never mutated incrementally.
type Metrics struct {
	WordsPerMinute  int         `json:"wordsPerMinute"`
	ClarityScore    int         `json:"clarityScore"`
	FillerWordCount int         `json:"fillerWordCount"`
	ConfidenceLevel int         `json:"confidenceLevel"`
	Pause           PauseStats  `json:"pauseAnalysis"`
	Volume          VolumeStats `json:"volumeAnalysis"`
}

// EngineOption is a functional option for configuring an [Engine].
type EngineOption func(*Engine)

// WithFillerWords overrides the filler vocabulary used by the engine.
// An empty list leaves the default in place.
func WithFillerWords(words []string) EngineOption {
	return func(e *Engine) {
		if len(words) > 0 {
			e.fillers = newFillerSet(words)
		}
	}
}

// Engine computes [Metrics] from transcript text and elapsed speaking time.
// Analyze is a pure function of its inputs and the configured phrase lists,
// so an Engine is safe for concurrent use.
type Engine struct {
	fillers fillerSet
}

// NewEngine creates an Engine with the default phrase lists, modified by opts.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{fillers: newFillerSet(DefaultFillerWords)}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Analyze computes a full metrics snapshot over transcript. elapsed is the
// speaking time covered by the transcript; a zero or negative value yields a
// words-per-minute of 0 rather than an error. audio carries client-reported
// pause/volume measurements; nil applies fixed defaults.
func (e *Engine) Analyze(transcript string, elapsed time.Duration, audio *AudioStats) Metrics {
	stats := defaultAudioStats
	if audio != nil {
		stats = *audio
	}

	tokens := Tokenize(transcript)
	if len(tokens) == 0 {
		// No speech yet: perfect clarity, base confidence, nothing to divide by.
		return Metrics{
			ClarityScore:    100,
			ConfidenceLevel: 70,
			Pause:           stats.Pause,
			Volume:          stats.Volume,
		}
	}

	fillers := e.fillers.detect(tokens)

	wpm := 0
	if secs := elapsed.Seconds(); secs > 0 {
		wpm = int(math.Round(float64(len(tokens)) / secs * 60))
	}

	return Metrics{
		WordsPerMinute:  wpm,
		ClarityScore:    clarityScore(transcript, tokens, len(fillers)),
		FillerWordCount: len(fillers),
		ConfidenceLevel: confidenceLevel(transcript, tokens),
		Pause:           stats.Pause,
		Volume:          stats.Volume,
	}
}

// clarityScore starts at 100 and applies three independent additive penalties
// before a single final clamp: filler density, vocabulary repetition, and
// short average sentence length. The additive-then-clamp order is deliberate
// and must not be reordered.
func clarityScore(transcript string, tokens []string, fillerCount int) int {
	score := 100.0

	fillerRatio := float64(fillerCount) / float64(len(tokens))
	score -= fillerRatio * 30

	unique := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		unique[t] = struct{}{}
	}
	varietyRatio := float64(len(unique)) / float64(len(tokens))
	if varietyRatio < 0.5 {
		score -= (0.5 - varietyRatio) * 20
	}

	if sentences := SplitSentences(transcript); len(sentences) > 0 {
		avgSentenceLen := float64(len(tokens)) / float64(len(sentences))
		if avgSentenceLen < 5 {
			score -= 10
		}
	}

	return clampScore(score)
}

// confidenceLevel starts at a base of 70 and is adjusted by confident and
// uncertain phrase frequency plus a question-density penalty.
func confidenceLevel(transcript string, tokens []string) int {
	score := 70.0
	text := strings.ToLower(transcript)

	for _, phrase := range confidentPhrases {
		score += float64(strings.Count(text, phrase)) * 5
	}
	for _, phrase := range uncertainPhrases {
		score -= float64(strings.Count(text, phrase)) * 8
	}

	if questions := strings.Count(transcript, "?"); float64(questions) > float64(len(tokens))*0.1 {
		score -= 15
	}

	return clampScore(score)
}

// clampScore rounds and clamps a score to [0, 100].
func clampScore(score float64) int {
	rounded := int(math.Round(score))
	if rounded < 0 {
		return 0
	}
	if rounded > 100 {
		return 100
	}
	return rounded
}
