package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/prdflow/prdflow/internal/agent"
	"github.com/prdflow/prdflow/internal/errors"
	"github.com/prdflow/prdflow/internal/logging"
	"github.com/prdflow/prdflow/internal/retry"
	"github.com/prdflow/prdflow/internal/watch"
)

// Config represents the complete prdflow configuration
type Config struct {
	// PlanRoot is the directory session directories are created under
	PlanRoot string `mapstructure:"plan_root"`
	// ContinueOnError keeps the run going past non-fatal subtask failures
	ContinueOnError bool `mapstructure:"continue_on_error"`
	// MaxParallel is the number of independent subtasks run concurrently (1 = serial)
	MaxParallel int `mapstructure:"max_parallel"`

	Agent   AgentConfig   `mapstructure:"agent"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Git     GitConfig     `mapstructure:"git"`
	Logging LoggingConfig `mapstructure:"logging"`
	Watch   WatchConfig   `mapstructure:"watch"`
}

// AgentConfig controls the agent runtime invoked per subtask
type AgentConfig struct {
	// Command is the agent executable; must resolve on PATH or be absolute
	Command string `mapstructure:"command"`
	// Args are passed to every invocation before the brief is piped to stdin
	Args []string `mapstructure:"args"`
	// TimeoutSeconds bounds a single invocation (0 = no deadline)
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// RatePerMinute throttles invocations across the run (0 = unthrottled)
	RatePerMinute float64 `mapstructure:"rate_per_minute"`
	// Burst is the limiter burst size when throttled (default: 1)
	Burst int `mapstructure:"burst"`
}

// RetryConfig controls the retry policy for transient agent failures
type RetryConfig struct {
	// BaseDelayMs is the deterministic delay before the first retry
	BaseDelayMs int `mapstructure:"base_delay_ms"`
	// MaxDelayMs caps the backoff delay
	MaxDelayMs int `mapstructure:"max_delay_ms"`
	// MaxAttempts is the total number of attempts, including the first
	MaxAttempts int `mapstructure:"max_attempts"`
	// JitterFraction adds up to this fraction of random delay on top of the backoff (0..1)
	JitterFraction float64 `mapstructure:"jitter_fraction"`
}

// GitConfig controls per-subtask commits
type GitConfig struct {
	// Enabled turns on commit-per-subtask when the working directory is a repository
	Enabled bool `mapstructure:"enabled"`
	// CommitPrefix is prepended to every commit subject (e.g. "[prdflow]")
	CommitPrefix string `mapstructure:"commit_prefix"`
}

// LoggingConfig controls structured log output
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Format is "json" or "text" (default: "json")
	Format string `mapstructure:"format"`
	// Dir is the directory the pipeline log file is written to; empty logs to stderr
	Dir string `mapstructure:"dir"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
}

// WatchConfig controls PRD watch mode
type WatchConfig struct {
	// DebounceMs coalesces bursts of file events before re-running (default: 500)
	DebounceMs int `mapstructure:"debounce_ms"`
}

// Timeout returns the agent invocation timeout as a time.Duration (0 means no deadline)
func (a *AgentConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// Options converts the section into runtime options for the agent CLI.
func (a *AgentConfig) Options() agent.Options {
	return agent.Options{
		Command:           a.Command,
		Args:              a.Args,
		Timeout:           a.Timeout(),
		RequestsPerMinute: a.RatePerMinute,
		Burst:             a.Burst,
	}
}

// Policy converts the section into a retry policy. Zero fields fall back to
// the policy defaults.
func (r *RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		BaseDelay:      time.Duration(r.BaseDelayMs) * time.Millisecond,
		MaxDelay:       time.Duration(r.MaxDelayMs) * time.Millisecond,
		MaxAttempts:    r.MaxAttempts,
		JitterFraction: r.JitterFraction,
	}.ApplyDefaults()
}

// Options converts the section into logger options.
func (l *LoggingConfig) Options() logging.Options {
	return logging.Options{
		Dir:    l.Dir,
		Level:  l.Level,
		Format: l.Format,
		Rotation: logging.RotationConfig{
			MaxSizeMB:  l.MaxSizeMB,
			MaxBackups: l.MaxBackups,
		},
	}
}

// Debounce returns the watch debounce window as a time.Duration
func (w *WatchConfig) Debounce() time.Duration {
	return time.Duration(w.DebounceMs) * time.Millisecond
}

// Default returns a Config with sensible default values
func Default() *Config {
	rotation := logging.DefaultRotationConfig()
	policy := retry.DefaultPolicy()

	return &Config{
		PlanRoot:        filepath.Join(".prdflow", "sessions"),
		ContinueOnError: false,
		MaxParallel:     1,
		Agent: AgentConfig{
			Command:        "",
			Args:           []string{},
			TimeoutSeconds: 0, // No deadline unless configured
			RatePerMinute:  0, // Unthrottled
			Burst:          1,
		},
		Retry: RetryConfig{
			BaseDelayMs:    int(policy.BaseDelay / time.Millisecond),
			MaxDelayMs:     int(policy.MaxDelay / time.Millisecond),
			MaxAttempts:    policy.MaxAttempts,
			JitterFraction: policy.JitterFraction,
		},
		Git: GitConfig{
			Enabled:      true,
			CommitPrefix: "",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Dir:        "", // Empty means stderr
			MaxSizeMB:  rotation.MaxSizeMB,
			MaxBackups: rotation.MaxBackups,
		},
		Watch: WatchConfig{
			DebounceMs: int(watch.DefaultDebounce / time.Millisecond),
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("plan_root", defaults.PlanRoot)
	viper.SetDefault("continue_on_error", defaults.ContinueOnError)
	viper.SetDefault("max_parallel", defaults.MaxParallel)

	// Agent defaults
	viper.SetDefault("agent.command", defaults.Agent.Command)
	viper.SetDefault("agent.args", defaults.Agent.Args)
	viper.SetDefault("agent.timeout_seconds", defaults.Agent.TimeoutSeconds)
	viper.SetDefault("agent.rate_per_minute", defaults.Agent.RatePerMinute)
	viper.SetDefault("agent.burst", defaults.Agent.Burst)

	// Retry defaults
	viper.SetDefault("retry.base_delay_ms", defaults.Retry.BaseDelayMs)
	viper.SetDefault("retry.max_delay_ms", defaults.Retry.MaxDelayMs)
	viper.SetDefault("retry.max_attempts", defaults.Retry.MaxAttempts)
	viper.SetDefault("retry.jitter_fraction", defaults.Retry.JitterFraction)

	// Git defaults
	viper.SetDefault("git.enabled", defaults.Git.Enabled)
	viper.SetDefault("git.commit_prefix", defaults.Git.CommitPrefix)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.format", defaults.Logging.Format)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)

	// Watch defaults
	viper.SetDefault("watch.debounce_ms", defaults.Watch.DebounceMs)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, errors.NewEnvironmentError("failed to parse configuration", err).
			WithCode(errors.CodeInvalidConfig).
			WithOperation("load_config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "prdflow")
	}
	// Fall back to ~/.config/prdflow
	home, err := os.UserHomeDir()
	if err != nil {
		return ".prdflow"
	}
	return filepath.Join(home, ".config", "prdflow")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
