// Package config provides the configuration schema and loader for the
// Parlando read-aloud server.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/parlando-ai/parlando/internal/align"
	"github.com/parlando-ai/parlando/internal/session"
	"github.com/parlando-ai/parlando/internal/textproc"
)

// LogLevel controls log verbosity for the Parlando server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// FeedbackMode selects where tutoring feedback comes from.
type FeedbackMode string

const (
	// FeedbackBackend asks the REST tutoring backend.
	FeedbackBackend FeedbackMode = "backend"

	// FeedbackLLM asks a language model directly.
	FeedbackLLM FeedbackMode = "llm"

	// FeedbackOff disables struggle feedback entirely.
	FeedbackOff FeedbackMode = "off"
)

// IsValid reports whether m is a recognised feedback mode.
func (m FeedbackMode) IsValid() bool {
	switch m {
	case FeedbackBackend, FeedbackLLM, FeedbackOff:
		return true
	}
	return false
}

// Duration is a time.Duration that unmarshals from YAML strings such as
// "300ms" or "10s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"300ms\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for Parlando.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Backend   BackendConfig   `yaml:"backend"`
	Feedback  FeedbackConfig  `yaml:"feedback"`
	Alignment AlignmentConfig `yaml:"alignment"`
	Session   SessionConfig   `yaml:"session"`
	Reveal    RevealConfig    `yaml:"reveal"`
}

// ServerConfig holds network and logging settings for the Parlando server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// BackendConfig points at the tutoring backend that supplies passages,
// answers feedback requests, and receives session completions.
type BackendConfig struct {
	// BaseURL is the backend's root URL (e.g., "http://localhost:9000").
	BaseURL string `yaml:"base_url"`

	// Timeout is the per-request timeout. Zero uses the client default.
	Timeout Duration `yaml:"timeout"`
}

// FeedbackConfig selects and configures the tutoring feedback source.
type FeedbackConfig struct {
	// Mode selects the feedback source. Empty defaults to "backend".
	Mode FeedbackMode `yaml:"mode"`

	// LLM configures the model used when Mode is "llm".
	LLM LLMConfig `yaml:"llm"`
}

// LLMConfig configures the direct-to-model feedback provider.
type LLMConfig struct {
	// Provider selects the model backend (e.g., "openai", "anthropic",
	// "ollama").
	Provider string `yaml:"provider"`

	// Model is the provider-specific model identifier.
	Model string `yaml:"model"`

	// APIKey authenticates against the provider. Empty falls back to the
	// provider's environment variable.
	APIKey string `yaml:"api_key"`
}

// AlignmentConfig tunes the fuzzy matcher and the sequential tracker.
// Zero fields keep the engine defaults.
type AlignmentConfig struct {
	// MaxEditDistance caps the Levenshtein tolerance for long words.
	MaxEditDistance int `yaml:"max_edit_distance"`

	// Substitutions replaces the recognizer-confusion whitelist for short
	// words. Keys are reference words, values the spoken forms accepted for
	// them.
	Substitutions map[string][]string `yaml:"substitutions"`

	// Fillers replaces the spoken-disfluency list ("um", "uh", ...).
	Fillers []string `yaml:"fillers"`

	// TailWindow is how many recent spoken tokens tail recovery searches.
	TailWindow int `yaml:"tail_window"`

	// MinRecoveryMatches is the shortest consecutive run tail recovery
	// accepts.
	MinRecoveryMatches int `yaml:"min_recovery_matches"`

	// MaxBridgedMisreads caps how many reference tokens one spoken token may
	// step over. Explicit 0 disables bridging; nil keeps the default.
	MaxBridgedMisreads *int `yaml:"max_bridged_misreads"`
}

// MatcherOptions converts the matcher tuning into [align.MatcherOption]s.
func (c AlignmentConfig) MatcherOptions() []align.MatcherOption {
	var opts []align.MatcherOption
	if c.MaxEditDistance > 0 {
		opts = append(opts, align.WithMaxEditDistance(c.MaxEditDistance))
	}
	if len(c.Substitutions) > 0 {
		opts = append(opts, align.WithSubstitutions(c.Substitutions))
	}
	return opts
}

// TrackerOptions converts the tracker tuning into [align.TrackerOption]s.
func (c AlignmentConfig) TrackerOptions() []align.TrackerOption {
	var opts []align.TrackerOption
	if c.TailWindow > 0 {
		opts = append(opts, align.WithTailWindow(c.TailWindow))
	}
	if c.MinRecoveryMatches > 0 {
		opts = append(opts, align.WithMinRecoveryMatches(c.MinRecoveryMatches))
	}
	if c.MaxBridgedMisreads != nil {
		opts = append(opts, align.WithMaxBridgedMisreads(*c.MaxBridgedMisreads))
	}
	if len(c.Fillers) > 0 {
		opts = append(opts, align.WithFillerFilter(textproc.NewFillerFilter(c.Fillers...)))
	}
	return opts
}

// SessionConfig tunes the session controller's timers. Zero fields keep the
// controller defaults.
type SessionConfig struct {
	// RestartDelay is the pause before reopening a dropped recognition
	// stream.
	RestartDelay Duration `yaml:"restart_delay"`

	// CheckInterval is the struggle evaluation cadence.
	CheckInterval Duration `yaml:"check_interval"`

	// SilenceAfter is how long without speech counts as silence.
	SilenceAfter Duration `yaml:"silence_after"`

	// StuckAfter is how long without progress, while speech continues,
	// counts as stalling.
	StuckAfter Duration `yaml:"stuck_after"`

	// FeedbackCooldown is the minimum gap between feedback requests.
	FeedbackCooldown Duration `yaml:"feedback_cooldown"`

	// MinTokensBeforeFeedback suppresses feedback until this many tokens are
	// confirmed.
	MinTokensBeforeFeedback int `yaml:"min_tokens_before_feedback"`
}

// Timing converts the session tuning into a [session.Timing]; zero fields
// pick up the controller defaults.
func (c SessionConfig) Timing() session.Timing {
	return session.Timing{
		RestartDelay:            c.RestartDelay.Std(),
		CheckInterval:           c.CheckInterval.Std(),
		SilenceAfter:            c.SilenceAfter.Std(),
		StuckAfter:              c.StuckAfter.Std(),
		FeedbackCooldown:        c.FeedbackCooldown.Std(),
		MinTokensBeforeFeedback: c.MinTokensBeforeFeedback,
	}
}

// RevealConfig tunes the highlight animator.
type RevealConfig struct {
	// Interval is the reveal cadence, one token per tick. Zero keeps the
	// default.
	Interval Duration `yaml:"interval"`
}
