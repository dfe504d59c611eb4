package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; anything else
// (listen address, storage driver, coach provider) requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// FillerWordsChanged is true when the analysis filler vocabulary differs.
	// New sessions pick up the new vocabulary; running sessions keep the one
	// they started with.
	FillerWordsChanged bool
	NewFillerWords     []string

	// CoachModelChanged is true when the generator model name differs.
	CoachModelChanged bool
	NewCoachModel     string
}

// Any reports whether the diff contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.FillerWordsChanged || d.CoachModelChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !slices.Equal(old.Analysis.FillerWords, new.Analysis.FillerWords) {
		d.FillerWordsChanged = true
		d.NewFillerWords = slices.Clone(new.Analysis.FillerWords)
	}

	if old.Coach.Model != new.Coach.Model {
		d.CoachModelChanged = true
		d.NewCoachModel = new.Coach.Model
	}

	return d
}
