package analysis

import (
	"regexp"
	"strings"
)

// Labels emitted by the pattern detector. Downstream progress tracking keys
// recurring-issue counts by these exact strings, so they must stay stable.
const (
	IssueMissingArticles = "Missing articles before nouns"
	IssueSubjectVerb     = "Subject-verb agreement error"

	StyleDiplomatic = "Uses diplomatic language patterns"
	StyleAssertive  = "Shows assertive communication style"

	SuggestFewerFillers  = "Try pausing instead of using filler words"
	SuggestMoreDetail    = "Try expanding your responses with more detail"
	SuggestVariedWording = "Consider using more varied vocabulary"
)

var (
	// articleRE matches an article followed by a word.
	articleRE = regexp.MustCompile(`\b(?:a|an|the)\s+\w+`)

	// commonNounRE matches the fixed common-noun list the article heuristic
	// is measured against.
	commonNounRE = regexp.MustCompile(`\b(?:person|people|thing|idea|concept|problem|solution)\b`)
)

// subjectVerbErrors is the fixed list of ungrammatical subject-verb pairs.
var subjectVerbErrors = []string{
	"he are", "she are", "it are", "they is", "we is", "you is",
}

// diplomaticPhrases mark hedged, diplomatic phrasing.
var diplomaticPhrases = []string{
	"i respectfully", "perhaps we could", "it might be worth",
	"from my perspective", "i would suggest", "if i may",
}

// assertivePhrases mark direct, assertive phrasing.
var assertivePhrases = []string{
	"i will", "we must", "it is essential", "clearly",
	"without question", "i insist", "we need to",
}

// Patterns is the result of a full pattern-detection pass over a transcript.
// GrammarIssues may contain repeated labels (one per detection); none of the
// slices is ever nil.
type Patterns struct {
	GrammarIssues          []string `json:"grammarIssues"`
	StyleObservations      []string `json:"styleObservations"`
	ImprovementSuggestions []string `json:"improvementSuggestions"`
}

// DetectorOption is a functional option for configuring a [Detector].
type DetectorOption func(*Detector)

// WithDetectorFillerWords overrides the filler vocabulary used by the
// filler-overuse suggestion. An empty list leaves the default in place.
func WithDetectorFillerWords(words []string) DetectorOption {
	return func(d *Detector) {
		if len(words) > 0 {
			d.fillers = newFillerSet(words)
		}
	}
}

// Detector runs lexical pattern-matching heuristics over a transcript. It is
// deliberately not a grammar parser: every check is a substring or regular
// expression heuristic with fixed thresholds. Safe for concurrent use.
type Detector struct {
	fillers fillerSet
}

// NewDetector creates a Detector with the default phrase lists, modified by opts.
func NewDetector(opts ...DetectorOption) *Detector {
	d := &Detector{fillers: newFillerSet(DefaultFillerWords)}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Detect runs all three heuristic passes over transcript.
func (d *Detector) Detect(transcript string) Patterns {
	return Patterns{
		GrammarIssues:          d.GrammarIssues(transcript),
		StyleObservations:      d.StyleObservations(transcript),
		ImprovementSuggestions: d.Suggestions(transcript),
	}
}

// GrammarIssues flags missing articles (article-to-noun ratio below 0.3 with
// at least one listed noun present) and subject-verb agreement errors (one
// label per ungrammatical pair found).
func (d *Detector) GrammarIssues(transcript string) []string {
	issues := []string{}
	text := strings.ToLower(transcript)

	articles := len(articleRE.FindAllString(text, -1))
	nouns := len(commonNounRE.FindAllString(text, -1))
	if nouns > 0 && float64(articles)/float64(nouns) < 0.3 {
		issues = append(issues, IssueMissingArticles)
	}

	for _, pair := range subjectVerbErrors {
		if strings.Contains(text, pair) {
			issues = append(issues, IssueSubjectVerb)
		}
	}

	return issues
}

// StyleObservations flags diplomatic and assertive phrasing when any phrase
// from the respective fixed list appears at least once.
func (d *Detector) StyleObservations(transcript string) []string {
	observations := []string{}
	text := strings.ToLower(transcript)

	if countAny(text, diplomaticPhrases) > 0 {
		observations = append(observations, StyleDiplomatic)
	}
	if countAny(text, assertivePhrases) > 0 {
		observations = append(observations, StyleAssertive)
	}

	return observations
}

// Suggestions flags filler overuse (more than 5% of tokens), brevity (fewer
// than 50 tokens), and low lexical complexity (mean token length under 4
// characters).
func (d *Detector) Suggestions(transcript string) []string {
	suggestions := []string{}
	tokens := Tokenize(transcript)
	if len(tokens) == 0 {
		return suggestions
	}

	fillerCount := len(d.fillers.detect(tokens))
	if float64(fillerCount) > float64(len(tokens))*0.05 {
		suggestions = append(suggestions, SuggestFewerFillers)
	}

	if len(tokens) < 50 {
		suggestions = append(suggestions, SuggestMoreDetail)
	}

	totalLen := 0
	for _, t := range tokens {
		totalLen += len(t)
	}
	if avg := float64(totalLen) / float64(len(tokens)); avg < 4 {
		suggestions = append(suggestions, SuggestVariedWording)
	}

	return suggestions
}

// countAny sums the occurrence counts of every phrase in phrases within text.
func countAny(text string, phrases []string) int {
	total := 0
	for _, p := range phrases {
		total += strings.Count(text, p)
	}
	return total
}
