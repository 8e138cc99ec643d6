package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "runner.timeout_seconds")
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

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation
// errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateRunner()...)
	errors = append(errors, c.validateAgents()...)
	errors = append(errors, c.validateLoop()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateRunner validates the RunnerConfig
func (c *Config) validateRunner() []ValidationError {
	var errors []ValidationError

	if c.Runner.Default != "" && !IsValidPlatform(c.Runner.Default) {
		errors = append(errors, ValidationError{
			Field:   "runner.default",
			Value:   c.Runner.Default,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidPlatforms(), ", ")),
		})
	}

	for i, fallback := range c.Runner.Fallbacks {
		if !IsValidPlatform(fallback) {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("runner.fallbacks[%d]", i),
				Value:   fallback,
				Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidPlatforms(), ", ")),
			})
		}
	}

	if c.Runner.TimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "runner.timeout_seconds",
			Value:   c.Runner.TimeoutSeconds,
			Message: "must be non-negative",
		})
	}

	// Guard against timeouts so large they overflow time.Duration math
	const maxTimeoutSeconds = 86400 // 24 hours
	if c.Runner.TimeoutSeconds > maxTimeoutSeconds {
		errors = append(errors, ValidationError{
			Field:   "runner.timeout_seconds",
			Value:   c.Runner.TimeoutSeconds,
			Message: fmt.Sprintf("exceeds maximum of %d", maxTimeoutSeconds),
		})
	}

	if c.Runner.Codex.Sandbox != "" && !IsValidSandboxMode(c.Runner.Codex.Sandbox) {
		errors = append(errors, ValidationError{
			Field:   "runner.codex.sandbox",
			Value:   c.Runner.Codex.Sandbox,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidSandboxModes(), ", ")),
		})
	}

	return errors
}

// validateAgents validates the per-agent overrides
func (c *Config) validateAgents() []ValidationError {
	var errors []ValidationError

	roles := []struct {
		name string
		cfg  AgentConfig
	}{
		{"implementer", c.Agents.Implementer},
		{"test_critique", c.Agents.TestCritique},
		{"qa", c.Agents.QA},
		{"code_quality", c.Agents.CodeQuality},
		{"manager", c.Agents.Manager},
		{"dod", c.Agents.DoD},
	}

	for _, role := range roles {
		if role.cfg.Runner != "" && !IsValidPlatform(role.cfg.Runner) {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("agents.%s.runner", role.name),
				Value:   role.cfg.Runner,
				Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidPlatforms(), ", ")),
			})
		}
		if role.cfg.TimeoutSeconds < 0 {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("agents.%s.timeout_seconds", role.name),
				Value:   role.cfg.TimeoutSeconds,
				Message: "must be non-negative",
			})
		}
	}

	return errors
}

// validateLoop validates the LoopConfig
func (c *Config) validateLoop() []ValidationError {
	var errors []ValidationError

	if c.Loop.MaxIterations < 1 {
		errors = append(errors, ValidationError{
			Field:   "loop.max_iterations",
			Value:   c.Loop.MaxIterations,
			Message: "must be at least 1",
		})
	}

	const maxIterationsLimit = 1000
	if c.Loop.MaxIterations > maxIterationsLimit {
		errors = append(errors, ValidationError{
			Field:   "loop.max_iterations",
			Value:   c.Loop.MaxIterations,
			Message: fmt.Sprintf("exceeds maximum of %d", maxIterationsLimit),
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative",
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
