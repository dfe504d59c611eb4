package analysis

// PaceRating is the qualitative classification of a words-per-minute value.
type PaceRating string

const (
	PaceTooSlow PaceRating = "Too Slow"
	PaceOptimal PaceRating = "Optimal"
	PaceTooFast PaceRating = "Too Fast"
)

// paceSuggestions maps each rating to its fixed coaching suggestion.
var paceSuggestions = map[PaceRating]string{
	PaceTooSlow: "Try to speak a bit faster to maintain audience engagement. Practice with a metronome to build rhythm.",
	PaceTooFast: "Slow down slightly to ensure clarity. Take pauses between main points to let ideas sink in.",
	PaceOptimal: "Great speaking pace! You're maintaining good rhythm and clarity.",
}

// RatePace classifies a words-per-minute value. Below 140 WPM is too slow,
// above 180 is too fast, anything in between is optimal. The returned
// suggestion is the fixed coaching line for that rating.
func RatePace(wordsPerMinute int) (PaceRating, string) {
	var rating PaceRating
	switch {
	case wordsPerMinute < 140:
		rating = PaceTooSlow
	case wordsPerMinute > 180:
		rating = PaceTooFast
	default:
		rating = PaceOptimal
	}
	return rating, paceSuggestions[rating]
}
