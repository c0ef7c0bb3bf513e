package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidLLMProviders lists the model backends the llm feedback mode supports.
var ValidLLMProviders = []string{"openai", "anthropic", "ollama"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
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

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Feedback
	mode := cfg.Feedback.Mode
	if mode != "" && !mode.IsValid() {
		errs = append(errs, fmt.Errorf("feedback.mode %q is invalid; valid values: backend, llm, off", mode))
	}
	if mode == FeedbackLLM {
		if cfg.Feedback.LLM.Model == "" {
			errs = append(errs, errors.New("feedback.llm.model is required when feedback.mode is llm"))
		}
		if name := cfg.Feedback.LLM.Provider; name != "" && !slices.Contains(ValidLLMProviders, name) {
			slog.Warn("unknown LLM provider name, may be a typo",
				"name", name,
				"known", ValidLLMProviders,
			)
		}
	}

	// The backend supplies passages and receives completions regardless of
	// the feedback mode, so its URL is effectively mandatory.
	if cfg.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url is required"))
	}
	if cfg.Backend.Timeout < 0 {
		errs = append(errs, errors.New("backend.timeout must not be negative"))
	}

	// Alignment
	if cfg.Alignment.MaxEditDistance < 0 {
		errs = append(errs, errors.New("alignment.max_edit_distance must not be negative"))
	}
	if cfg.Alignment.TailWindow < 0 {
		errs = append(errs, errors.New("alignment.tail_window must not be negative"))
	}
	if cfg.Alignment.MinRecoveryMatches < 0 {
		errs = append(errs, errors.New("alignment.min_recovery_matches must not be negative"))
	}
	if b := cfg.Alignment.MaxBridgedMisreads; b != nil && *b < 0 {
		errs = append(errs, errors.New("alignment.max_bridged_misreads must not be negative"))
	}

	// Session timers
	for name, d := range map[string]Duration{
		"session.restart_delay":     cfg.Session.RestartDelay,
		"session.check_interval":    cfg.Session.CheckInterval,
		"session.silence_after":     cfg.Session.SilenceAfter,
		"session.stuck_after":       cfg.Session.StuckAfter,
		"session.feedback_cooldown": cfg.Session.FeedbackCooldown,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if cfg.Session.MinTokensBeforeFeedback < 0 {
		errs = append(errs, errors.New("session.min_tokens_before_feedback must not be negative"))
	}
	if s, st := cfg.Session.SilenceAfter, cfg.Session.StuckAfter; s > 0 && st > 0 && st.Std() > s.Std() {
		slog.Warn("session.stuck_after exceeds session.silence_after; stalling will never be detected before silence",
			"stuck_after", st.Std(),
			"silence_after", s.Std(),
		)
	}

	// Reveal cadence sanity. Below ~20ms the highlight is a blur, above 2s
	// it visibly lags the reader.
	if iv := cfg.Reveal.Interval.Std(); iv != 0 && (iv < 20*time.Millisecond || iv > 2*time.Second) {
		errs = append(errs, fmt.Errorf("reveal.interval %s is out of range [20ms, 2s]", iv))
	}

	return errors.Join(errs...)
}
