package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidCoachProviders lists the LLM provider names the coach layer knows how
// to construct. [Validate] warns about unrecognised names rather than failing
// so that new providers can be tried without a code change.
var ValidCoachProviders = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values and fills in
// defaults for unset fields. It returns a joined error listing all validation
// failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Storage
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = StorageMemory
	}
	if !cfg.Storage.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("storage.driver %q is invalid; valid values: memory, postgres", cfg.Storage.Driver))
	}
	if cfg.Storage.Driver == StoragePostgres && cfg.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("storage.postgres_dsn is required when storage.driver is postgres"))
	}
	if cfg.Storage.Driver == StorageMemory {
		slog.Info("using in-memory storage; session history will not survive a restart")
	}

	// Coach
	if cfg.Coach.Provider == "" {
		slog.Warn("coach.provider is empty; running with deterministic fallback feedback only")
	} else if !slices.Contains(ValidCoachProviders, cfg.Coach.Provider) {
		slog.Warn("unknown coach provider — may be a typo or an unsupported backend",
			"name", cfg.Coach.Provider,
			"known", ValidCoachProviders,
		)
	}
	if cfg.Coach.Provider != "" && cfg.Coach.Model == "" {
		errs = append(errs, fmt.Errorf("coach.model is required when coach.provider is set"))
	}
	if cfg.Coach.Timeout < 0 {
		errs = append(errs, fmt.Errorf("coach.timeout %v must not be negative", cfg.Coach.Timeout))
	}
	if cfg.Coach.Timeout == 0 {
		cfg.Coach.Timeout = DefaultCoachTimeout
	}
	if cfg.Coach.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("coach.history_limit %d must not be negative", cfg.Coach.HistoryLimit))
	}
	if cfg.Coach.HistoryLimit == 0 {
		cfg.Coach.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Coach.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("coach.max_failures %d must not be negative", cfg.Coach.MaxFailures))
	}

	// Analysis
	for i, w := range cfg.Analysis.FillerWords {
		if strings.TrimSpace(w) == "" {
			errs = append(errs, fmt.Errorf("analysis.filler_words[%d] is blank", i))
		}
	}
	if cfg.Analysis.MaxFragmentBytes < 0 {
		errs = append(errs, fmt.Errorf("analysis.max_fragment_bytes %d must not be negative", cfg.Analysis.MaxFragmentBytes))
	}
	if cfg.Analysis.MaxFragmentBytes == 0 {
		cfg.Analysis.MaxFragmentBytes = DefaultMaxFragmentBytes
	}

	return errors.Join(errs...)
}
