// Package analysis implements the lexical core of Cadenza's speech coaching:
// transcript tokenization, greedy filler-phrase detection, heuristic clarity
// and confidence scoring, and pattern detection over a running transcript.
//
// Everything in this package is a pure function of its inputs and the
// configured phrase lists. Identical inputs always produce identical outputs;
// there is no randomness and no hidden state. The pause and volume figures in
// [Metrics] are pass-through values sourced from audio-level measurement
// outside this package — they are never derived from text.
package analysis

import "strings"

// DefaultFillerWords is the built-in filler vocabulary. Multi-word phrases
// are matched greedily before their single-word prefixes ("i mean" before
// "i", "sort of" before "sort").
var DefaultFillerWords = []string{
	"um", "uh", "like", "you know", "so", "well", "actually", "basically",
	"literally", "totally", "really", "very", "quite", "just", "maybe",
	"i mean", "sort of", "kind of",
}

// Tokenize lowercases text, strips punctuation, and splits on whitespace.
// Empty tokens are dropped; empty input yields an empty (non-nil) slice.
func Tokenize(text string) []string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	tokens := strings.Fields(b.String())
	if tokens == nil {
		tokens = []string{}
	}
	return tokens
}

// SplitSentences splits text into sentences on '.', '!' and '?' and drops
// segments that are blank after trimming.
func SplitSentences(text string) []string {
	segments := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	sentences := make([]string, 0, len(segments))
	for _, s := range segments {
		if strings.TrimSpace(s) != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// fillerSet is a lookup table over a filler vocabulary.
type fillerSet map[string]struct{}

// newFillerSet builds a fillerSet from a word/phrase list.
func newFillerSet(words []string) fillerSet {
	set := make(fillerSet, len(words))
	for _, w := range words {
		set[strings.ToLower(w)] = struct{}{}
	}
	return set
}

// detect scans tokens left to right, at each position preferring the longest
// matching phrase (three words, then two, then one). On a match the scan
// advances past all matched tokens, so matches never overlap and no token is
// counted twice.
func (fs fillerSet) detect(tokens []string) []string {
	found := []string{}
	for i := 0; i < len(tokens); i++ {
		if i+2 < len(tokens) {
			phrase := tokens[i] + " " + tokens[i+1] + " " + tokens[i+2]
			if _, ok := fs[phrase]; ok {
				found = append(found, phrase)
				i += 2
				continue
			}
		}
		if i+1 < len(tokens) {
			phrase := tokens[i] + " " + tokens[i+1]
			if _, ok := fs[phrase]; ok {
				found = append(found, phrase)
				i++
				continue
			}
		}
		if _, ok := fs[tokens[i]]; ok {
			found = append(found, tokens[i])
		}
	}
	return found
}

// DetectFillers scans tokens for filler words and phrases from vocabulary,
// greedily preferring the longest match at each position. A nil or empty
// vocabulary uses [DefaultFillerWords].
func DetectFillers(tokens []string, vocabulary []string) []string {
	if len(vocabulary) == 0 {
		vocabulary = DefaultFillerWords
	}
	return newFillerSet(vocabulary).detect(tokens)
}
