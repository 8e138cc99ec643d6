package config

import (
	"strings"
	"testing"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "test.field",
		Value:   123,
		Message: "must be greater than zero",
	}

	expected := "test.field: must be greater than zero (got: 123)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty errors", func(t *testing.T) {
		var errs ValidationErrors
		if errs.Error() != "" {
			t.Errorf("Error() for empty = %q, want empty string", errs.Error())
		}
	})

	t.Run("single error", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "runner.default", Value: "gpt", Message: "invalid"},
		}
		got := errs.Error()
		if !strings.Contains(got, "runner.default") || !strings.Contains(got, "gpt") {
			t.Errorf("unexpected error string: %q", got)
		}
		if strings.Contains(got, "validation errors") {
			t.Errorf("single error should not use multi-error format: %q", got)
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "runner.default", Value: "gpt", Message: "invalid"},
			{Field: "loop.max_iterations", Value: 0, Message: "must be at least 1"},
		}
		got := errs.Error()
		if !strings.Contains(got, "2 validation errors") {
			t.Errorf("expected multi-error header, got: %q", got)
		}
	})
}

func TestValidate_DefaultConfigIsValid(t *testing.T) {
	cfg := Default()

	errs := cfg.Validate()
	if len(errs) != 0 {
		t.Errorf("Default config should be valid, got %d errors: %v", len(errs), ValidationErrors(errs))
	}
}

func TestValidateRunner(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{
			name:      "invalid default platform",
			mutate:    func(c *Config) { c.Runner.Default = "gpt" },
			wantField: "runner.default",
		},
		{
			name:      "invalid fallback platform",
			mutate:    func(c *Config) { c.Runner.Fallbacks = []string{"claude", "bogus"} },
			wantField: "runner.fallbacks[1]",
		},
		{
			name:      "negative timeout",
			mutate:    func(c *Config) { c.Runner.TimeoutSeconds = -1 },
			wantField: "runner.timeout_seconds",
		},
		{
			name:      "timeout over maximum",
			mutate:    func(c *Config) { c.Runner.TimeoutSeconds = 90000 },
			wantField: "runner.timeout_seconds",
		},
		{
			name:      "invalid sandbox mode",
			mutate:    func(c *Config) { c.Runner.Codex.Sandbox = "yolo" },
			wantField: "runner.codex.sandbox",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			errs := cfg.Validate()
			if !hasFieldError(errs, tt.wantField) {
				t.Errorf("expected error for field %q, got: %v", tt.wantField, ValidationErrors(errs))
			}
		})
	}
}

func TestValidateAgents(t *testing.T) {
	t.Run("invalid agent runner", func(t *testing.T) {
		cfg := Default()
		cfg.Agents.QA.Runner = "bogus"

		errs := cfg.Validate()
		if !hasFieldError(errs, "agents.qa.runner") {
			t.Errorf("expected error for agents.qa.runner, got: %v", ValidationErrors(errs))
		}
	})

	t.Run("negative agent timeout", func(t *testing.T) {
		cfg := Default()
		cfg.Agents.Manager.TimeoutSeconds = -5

		errs := cfg.Validate()
		if !hasFieldError(errs, "agents.manager.timeout_seconds") {
			t.Errorf("expected error for agents.manager.timeout_seconds, got: %v", ValidationErrors(errs))
		}
	})

	t.Run("empty agent runner is allowed", func(t *testing.T) {
		cfg := Default()
		cfg.Agents.QA.Runner = ""

		errs := cfg.Validate()
		if hasFieldError(errs, "agents.qa.runner") {
			t.Errorf("empty runner should be valid (uses default), got: %v", ValidationErrors(errs))
		}
	})
}

func TestValidateLoop(t *testing.T) {
	t.Run("zero max iterations rejected", func(t *testing.T) {
		cfg := Default()
		cfg.Loop.MaxIterations = 0

		errs := cfg.Validate()
		if !hasFieldError(errs, "loop.max_iterations") {
			t.Errorf("expected error for loop.max_iterations, got: %v", ValidationErrors(errs))
		}
	})

	t.Run("excessive max iterations rejected", func(t *testing.T) {
		cfg := Default()
		cfg.Loop.MaxIterations = 5000

		errs := cfg.Validate()
		if !hasFieldError(errs, "loop.max_iterations") {
			t.Errorf("expected error for loop.max_iterations, got: %v", ValidationErrors(errs))
		}
	})
}

func TestValidateLogging(t *testing.T) {
	t.Run("invalid level", func(t *testing.T) {
		cfg := Default()
		cfg.Logging.Level = "verbose"

		errs := cfg.Validate()
		if !hasFieldError(errs, "logging.level") {
			t.Errorf("expected error for logging.level, got: %v", ValidationErrors(errs))
		}
	})

	t.Run("level is case-insensitive", func(t *testing.T) {
		cfg := Default()
		cfg.Logging.Level = "DEBUG"

		errs := cfg.Validate()
		if hasFieldError(errs, "logging.level") {
			t.Errorf("DEBUG should be valid, got: %v", ValidationErrors(errs))
		}
	})

	t.Run("negative max size", func(t *testing.T) {
		cfg := Default()
		cfg.Logging.MaxSizeMB = -1

		errs := cfg.Validate()
		if !hasFieldError(errs, "logging.max_size_mb") {
			t.Errorf("expected error for logging.max_size_mb, got: %v", ValidationErrors(errs))
		}
	})

	t.Run("negative max backups", func(t *testing.T) {
		cfg := Default()
		cfg.Logging.MaxBackups = -1

		errs := cfg.Validate()
		if !hasFieldError(errs, "logging.max_backups") {
			t.Errorf("expected error for logging.max_backups, got: %v", ValidationErrors(errs))
		}
	})
}

// hasFieldError reports whether errs contains an error for the given field.
func hasFieldError(errs []ValidationError, field string) bool {
	for _, e := range errs {
		if e.Field == field {
			return true
		}
	}
	return false
}
