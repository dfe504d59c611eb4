package coach

// Deterministic fallback payloads applied when the generator fails or times
// out. These are fixed values: the only sanctioned non-determinism in the
// coaching pipeline is the external generator itself, never its fallback.

// fallbackFeedbackMessage is the fixed encouraging message substituted for a
// failed live-feedback call.
const fallbackFeedbackMessage = "Keep going — you're doing great. Focus on speaking clearly and at a steady pace."

// Fixed fallback lines for the question-generation helpers.
const (
	fallbackConversationStarter = "Hello! I'm excited to practice speaking with you. What's on your mind today?"
	fallbackInterviewQuestion   = "Can you describe a challenging situation you've faced and how you handled it?"
	fallbackSeminarQuestion     = "What are the practical implications of what you've presented?"
)

// DefaultFeedback returns the fixed feedback item substituted when live
// feedback generation fails.
func DefaultFeedback() []FeedbackItem {
	return []FeedbackItem{{
		Type:     FeedbackPraise,
		Category: "encouragement",
		Message:  fallbackFeedbackMessage,
	}}
}

// DefaultPersonality returns the fixed personality profile substituted when
// whole-transcript analysis fails. The payload is intentionally encouraging
// and generic.
func DefaultPersonality() *PersonalityAnalysis {
	return &PersonalityAnalysis{
		PrimaryType:    "Developing Speaker",
		SecondaryTrait: "Enthusiastic Learner",
		Strengths: []string{
			"Shows willingness to practice and improve",
			"Demonstrates effort in communication",
			"Has potential for growth",
			"Maintains positive attitude toward learning",
		},
		GrowthAreas: []string{
			"Focus on pronunciation clarity",
			"Practice grammar fundamentals",
			"Expand vocabulary usage",
			"Build speaking confidence",
			"Work on fluency rhythm",
		},
		Confidence:      65,
		FluencyScore:    65,
		GrammarScore:    68,
		VocabularyScore: 72,
		OverusedWords:   []string{"like", "actually", "basically"},
		Traits: map[string]int{
			"confident":  65,
			"expressive": 70,
			"analytical": 60,
			"social":     75,
			"creative":   68,
			"technical":  62,
		},
		SessionMemory: SessionMemory{
			RecurringMistakes: []string{"Pronunciation of 'th' sounds", "Past tense irregulars"},
			ImprovementAreas:  []string{"Vocabulary expansion", "Speaking confidence"},
			RecommendedFocus:  []string{"Daily conversation practice", "Pronunciation drills"},
		},
	}
}

// DefaultConversationStarter returns the fixed conversation opener.
func DefaultConversationStarter() string { return fallbackConversationStarter }

// DefaultInterviewQuestion returns the fixed interview question.
func DefaultInterviewQuestion() string { return fallbackInterviewQuestion }

// DefaultSeminarQuestion returns the fixed seminar question.
func DefaultSeminarQuestion() string { return fallbackSeminarQuestion }
