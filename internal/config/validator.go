package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/prdflow/prdflow/internal/errors"
	"github.com/prdflow/prdflow/internal/logging"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "retry.max_attempts")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidFormats returns the list of valid log output formats
func ValidFormats() []string {
	return []string{"json", "text"}
}

// Validate checks the Config for invalid values. It returns nil or a single
// environment error carrying every problem found, so a broken config file
// surfaces all of its mistakes in one run.
func (c *Config) Validate() error {
	var errs ValidationErrors
	errs = append(errs, c.validateCore()...)
	errs = append(errs, c.validateAgent()...)
	errs = append(errs, c.validateRetry()...)
	errs = append(errs, c.validateGit()...)
	errs = append(errs, c.validateLogging()...)
	errs = append(errs, c.validateWatch()...)

	if len(errs) == 0 {
		return nil
	}
	return errors.NewEnvironmentError("invalid configuration", errs).
		WithCode(errors.CodeInvalidConfig).
		WithOperation("load_config")
}

func (c *Config) validateCore() []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(c.PlanRoot) == "" {
		errs = append(errs, ValidationError{
			Field:   "plan_root",
			Value:   c.PlanRoot,
			Message: "must not be empty",
		})
	}
	if c.MaxParallel < 0 {
		errs = append(errs, ValidationError{
			Field:   "max_parallel",
			Value:   c.MaxParallel,
			Message: "must be zero or positive",
		})
	}

	return errs
}

func (c *Config) validateAgent() []ValidationError {
	var errs []ValidationError

	if c.Agent.TimeoutSeconds < 0 {
		errs = append(errs, ValidationError{
			Field:   "agent.timeout_seconds",
			Value:   c.Agent.TimeoutSeconds,
			Message: "must be zero or positive",
		})
	}
	if c.Agent.RatePerMinute < 0 {
		errs = append(errs, ValidationError{
			Field:   "agent.rate_per_minute",
			Value:   c.Agent.RatePerMinute,
			Message: "must be zero or positive",
		})
	}
	if c.Agent.Burst < 0 {
		errs = append(errs, ValidationError{
			Field:   "agent.burst",
			Value:   c.Agent.Burst,
			Message: "must be zero or positive",
		})
	}

	return errs
}

func (c *Config) validateRetry() []ValidationError {
	var errs []ValidationError

	if c.Retry.BaseDelayMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "retry.base_delay_ms",
			Value:   c.Retry.BaseDelayMs,
			Message: "must be zero or positive",
		})
	}
	if c.Retry.MaxDelayMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "retry.max_delay_ms",
			Value:   c.Retry.MaxDelayMs,
			Message: "must be zero or positive",
		})
	}
	if c.Retry.MaxDelayMs > 0 && c.Retry.BaseDelayMs > c.Retry.MaxDelayMs {
		errs = append(errs, ValidationError{
			Field:   "retry.base_delay_ms",
			Value:   c.Retry.BaseDelayMs,
			Message: fmt.Sprintf("must not exceed retry.max_delay_ms (%d)", c.Retry.MaxDelayMs),
		})
	}
	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, ValidationError{
			Field:   "retry.max_attempts",
			Value:   c.Retry.MaxAttempts,
			Message: "must be zero or positive",
		})
	}
	if c.Retry.JitterFraction < 0 || c.Retry.JitterFraction > 1 {
		errs = append(errs, ValidationError{
			Field:   "retry.jitter_fraction",
			Value:   c.Retry.JitterFraction,
			Message: "must be between 0 and 1",
		})
	}

	return errs
}

func (c *Config) validateGit() []ValidationError {
	var errs []ValidationError

	if strings.ContainsAny(c.Git.CommitPrefix, "\r\n") {
		errs = append(errs, ValidationError{
			Field:   "git.commit_prefix",
			Value:   c.Git.CommitPrefix,
			Message: "must be a single line",
		})
	}

	return errs
}

func (c *Config) validateLogging() []ValidationError {
	var errs []ValidationError

	if c.Logging.Level != "" && !slices.Contains(logging.ValidLevels(), c.Logging.Level) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(logging.ValidLevels(), ", ")),
		})
	}
	if c.Logging.Format != "" && !slices.Contains(ValidFormats(), c.Logging.Format) {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Value:   c.Logging.Format,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidFormats(), ", ")),
		})
	}
	if c.Logging.MaxSizeMB < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be zero or positive",
		})
	}
	if c.Logging.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be zero or positive",
		})
	}

	return errs
}

func (c *Config) validateWatch() []ValidationError {
	var errs []ValidationError

	if c.Watch.DebounceMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "watch.debounce_ms",
			Value:   c.Watch.DebounceMs,
			Message: "must be zero or positive",
		})
	}

	return errs
}
