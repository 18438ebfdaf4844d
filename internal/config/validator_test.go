package config

import (
	"strings"
	"testing"

	"github.com/prdflow/prdflow/internal/errors"
)

func TestValidateDefaults(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v, want nil", err)
	}
}

func TestValidateFieldCases(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{
			name:      "empty plan root",
			mutate:    func(c *Config) { c.PlanRoot = "  " },
			wantField: "plan_root",
		},
		{
			name:      "negative max parallel",
			mutate:    func(c *Config) { c.MaxParallel = -1 },
			wantField: "max_parallel",
		},
		{
			name:      "negative agent timeout",
			mutate:    func(c *Config) { c.Agent.TimeoutSeconds = -30 },
			wantField: "agent.timeout_seconds",
		},
		{
			name:      "negative rate",
			mutate:    func(c *Config) { c.Agent.RatePerMinute = -1 },
			wantField: "agent.rate_per_minute",
		},
		{
			name:      "negative burst",
			mutate:    func(c *Config) { c.Agent.Burst = -1 },
			wantField: "agent.burst",
		},
		{
			name:      "negative base delay",
			mutate:    func(c *Config) { c.Retry.BaseDelayMs = -1 },
			wantField: "retry.base_delay_ms",
		},
		{
			name:      "base delay above max delay",
			mutate:    func(c *Config) { c.Retry.BaseDelayMs = c.Retry.MaxDelayMs + 1 },
			wantField: "retry.base_delay_ms",
		},
		{
			name:      "negative max attempts",
			mutate:    func(c *Config) { c.Retry.MaxAttempts = -1 },
			wantField: "retry.max_attempts",
		},
		{
			name:      "jitter above one",
			mutate:    func(c *Config) { c.Retry.JitterFraction = 1.5 },
			wantField: "retry.jitter_fraction",
		},
		{
			name:      "multiline commit prefix",
			mutate:    func(c *Config) { c.Git.CommitPrefix = "feat\nextra" },
			wantField: "git.commit_prefix",
		},
		{
			name:      "unknown log level",
			mutate:    func(c *Config) { c.Logging.Level = "verbose" },
			wantField: "logging.level",
		},
		{
			name:      "unknown log format",
			mutate:    func(c *Config) { c.Logging.Format = "yaml" },
			wantField: "logging.format",
		},
		{
			name:      "negative rotation size",
			mutate:    func(c *Config) { c.Logging.MaxSizeMB = -1 },
			wantField: "logging.max_size_mb",
		},
		{
			name:      "negative debounce",
			mutate:    func(c *Config) { c.Watch.DebounceMs = -1 },
			wantField: "watch.debounce_ms",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if errors.KindOf(err) != errors.KindEnvironment {
				t.Errorf("KindOf(err) = %q, want %q", errors.KindOf(err), errors.KindEnvironment)
			}
			if errors.CodeOf(err) != errors.CodeInvalidConfig {
				t.Errorf("CodeOf(err) = %q, want %q", errors.CodeOf(err), errors.CodeInvalidConfig)
			}

			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("error %v does not unwrap to ValidationErrors", err)
			}
			if len(verrs) != 1 {
				t.Fatalf("got %d validation errors, want 1: %v", len(verrs), verrs)
			}
			if verrs[0].Field != tt.wantField {
				t.Errorf("Field = %q, want %q", verrs[0].Field, tt.wantField)
			}
		})
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.PlanRoot = ""
	cfg.MaxParallel = -2
	cfg.Retry.JitterFraction = 3

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}

	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("error %v does not unwrap to ValidationErrors", err)
	}
	if len(verrs) != 3 {
		t.Errorf("got %d validation errors, want 3: %v", len(verrs), verrs)
	}
}

func TestValidationErrorsError(t *testing.T) {
	if got := (ValidationErrors{}).Error(); got != "" {
		t.Errorf("empty ValidationErrors.Error() = %q, want empty", got)
	}

	single := ValidationErrors{{Field: "max_parallel", Value: -1, Message: "must be zero or positive"}}
	if got := single.Error(); got != "max_parallel: must be zero or positive (got: -1)" {
		t.Errorf("single error = %q", got)
	}

	multi := ValidationErrors{
		{Field: "plan_root", Value: "", Message: "must not be empty"},
		{Field: "max_parallel", Value: -1, Message: "must be zero or positive"},
	}
	got := multi.Error()
	if !strings.HasPrefix(got, "2 validation errors:") {
		t.Errorf("multi error header = %q", got)
	}
	if !strings.Contains(got, "plan_root") || !strings.Contains(got, "max_parallel") {
		t.Errorf("multi error missing fields: %q", got)
	}
}
