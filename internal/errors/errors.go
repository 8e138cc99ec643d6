// Package errors provides centralized error definitions and error handling
// utilities for the agentloop codebase. It defines domain-specific errors,
// semantic error types, error constructors with context wrapping, and error
// classification helpers.
//
// # Error Types
//
// The package provides two categories of errors:
//
// Domain-specific errors represent errors from specific subsystems:
//   - RunnerError: errors related to backend agent invocation
//   - LoopError: errors related to the execution loop and phase machine
//   - StateError: errors related to execution-state persistence
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input or state
//   - TimeoutError: operation timed out
//
// # Usage
//
// Creating errors:
//
//	// Domain-specific error
//	err := errors.NewRunnerError("claude CLI not found", errors.ErrRunnerUnavailable).WithRunner("claude")
//
//	// Semantic error
//	err := errors.NewNotFoundError("task", "task-7")
//
//	// With context wrapping
//	err := errors.NewLoopError("retry budget exhausted", errors.ErrMaxIterations).WithTaskID("task-7")
//
// Checking errors:
//
//	// Check for specific sentinel errors
//	if errors.Is(err, errors.ErrRunnerUnavailable) { ... }
//
//	// Check for error types
//	var loopErr *errors.LoopError
//	if errors.As(err, &loopErr) { ... }
//
//	// Use classification helpers
//	if errors.IsRetryable(err) { ... }
//	if errors.IsUserFacing(err) { ... }
//
// # Error Classification
//
// Errors can be classified by severity and behavior:
//   - Retryable: transient errors that may succeed on retry
//   - UserFacing: errors safe to display to users (vs internal errors)
//   - Severity: Debug, Info, Warning, Error, Critical
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Runner-related sentinel errors
var (
	// ErrRunnerUnavailable indicates the backend CLI is missing or misconfigured.
	ErrRunnerUnavailable = New("runner unavailable")
	// ErrAuthFailed indicates the backend rejected the configured credentials.
	ErrAuthFailed = New("authentication failed")
	// ErrUnknownPlatform indicates an unrecognized platform identifier.
	ErrUnknownPlatform = New("unknown platform")
	// ErrNoFallback indicates no runner in the fallback chain is available.
	ErrNoFallback = New("no available runner in fallback chain")
)

// Loop-related sentinel errors
var (
	// ErrMaxIterations indicates the retry budget has been exhausted.
	ErrMaxIterations = New("max iterations exceeded")
	// ErrTaskNotFound indicates a task has no persisted execution state.
	ErrTaskNotFound = New("task not found")
	// ErrTaskFinished indicates a task is already in a terminal phase.
	ErrTaskFinished = New("task already finished")
	// ErrMalformedArtifacts indicates task artifacts are missing or unreadable.
	ErrMalformedArtifacts = New("malformed task artifacts")
)

// State-related sentinel errors
var (
	// ErrStateCorrupted indicates persisted execution state cannot be decoded.
	ErrStateCorrupted = New("execution state corrupted")
	// ErrStateLocked indicates another orchestrator owns the task's state.
	ErrStateLocked = New("execution state locked by another process")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// LoopAwareError is the base interface for all agentloop errors.
// It extends the standard error interface with classification methods.
type LoopAwareError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error {
	return e.cause
}

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *baseError) Severity() Severity { return e.severity }

func (e *baseError) IsRetryable() bool { return e.retryable }

func (e *baseError) IsUserFacing() bool { return e.userFacing }

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// RunnerError represents errors related to backend agent invocation.
//
// Example:
//
//	err := errors.NewRunnerError("process exited abnormally", cause).
//		WithRunner("codex").
//		WithExitCode(2)
type RunnerError struct {
	baseError
	Runner   string
	Agent    string
	ExitCode int
}

// NewRunnerError creates a new RunnerError.
func NewRunnerError(message string, cause error) *RunnerError {
	return &RunnerError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
		ExitCode: -1, // -1 indicates not set
	}
}

// WithRunner adds the runner name to the error context.
func (e *RunnerError) WithRunner(name string) *RunnerError {
	e.Runner = name
	return e
}

// WithAgent adds the agent role to the error context.
func (e *RunnerError) WithAgent(agent string) *RunnerError {
	e.Agent = agent
	return e
}

// WithExitCode adds the child process exit code to the error context.
func (e *RunnerError) WithExitCode(code int) *RunnerError {
	e.ExitCode = code
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *RunnerError) WithRetryable(r bool) *RunnerError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *RunnerError) Error() string {
	var parts []string
	if e.Runner != "" {
		parts = append(parts, fmt.Sprintf("runner=%s", e.Runner))
	}
	if e.Agent != "" {
		parts = append(parts, fmt.Sprintf("agent=%s", e.Agent))
	}
	if e.ExitCode >= 0 {
		parts = append(parts, fmt.Sprintf("exit=%d", e.ExitCode))
	}

	prefix := "runner error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("runner error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *RunnerError) Is(target error) bool {
	if _, ok := target.(*RunnerError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// LoopError represents errors related to the execution loop and phase machine.
//
// Example:
//
//	err := errors.NewLoopError("cannot resume", errors.ErrTaskFinished).
//		WithTaskID("task-1").
//		WithPhase("completed")
type LoopError struct {
	baseError
	TaskID    string
	Phase     string
	Iteration int
}

// NewLoopError creates a new LoopError.
func NewLoopError(message string, cause error) *LoopError {
	return &LoopError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
		Iteration: -1, // -1 indicates not set
	}
}

// WithTaskID adds a task ID to the error context.
func (e *LoopError) WithTaskID(id string) *LoopError {
	e.TaskID = id
	return e
}

// WithPhase adds the current phase to the error context.
func (e *LoopError) WithPhase(phase string) *LoopError {
	e.Phase = phase
	return e
}

// WithIteration adds the iteration counter to the error context.
func (e *LoopError) WithIteration(n int) *LoopError {
	e.Iteration = n
	return e
}

// Error returns the formatted error message.
func (e *LoopError) Error() string {
	var parts []string
	if e.TaskID != "" {
		parts = append(parts, fmt.Sprintf("task=%s", e.TaskID))
	}
	if e.Phase != "" {
		parts = append(parts, fmt.Sprintf("phase=%s", e.Phase))
	}
	if e.Iteration >= 0 {
		parts = append(parts, fmt.Sprintf("iteration=%d", e.Iteration))
	}

	prefix := "loop error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("loop error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *LoopError) Is(target error) bool {
	if _, ok := target.(*LoopError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// StateError represents errors related to execution-state persistence.
type StateError struct {
	baseError
	TaskID string
	Path   string
}

// NewStateError creates a new StateError.
func NewStateError(message string, cause error) *StateError {
	return &StateError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithTaskID adds a task ID to the error context.
func (e *StateError) WithTaskID(id string) *StateError {
	e.TaskID = id
	return e
}

// WithPath adds the state file path to the error context.
func (e *StateError) WithPath(path string) *StateError {
	e.Path = path
	return e
}

// Error returns the formatted error message.
func (e *StateError) Error() string {
	var parts []string
	if e.TaskID != "" {
		parts = append(parts, fmt.Sprintf("task=%s", e.TaskID))
	}
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}

	prefix := "state error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("state error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *StateError) Is(target error) bool {
	if _, ok := target.(*StateError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("task", "task-7")
//	fmt.Println(err) // "task 'task-7' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	if errors.Is(target, ErrTaskNotFound) && e.ResourceType == "task" {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}

	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}

	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("waiting for codex to exit", 5*time.Minute)
//	fmt.Println(err) // "timeout error: waiting for codex to exit (timeout: 5m0s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true, // Timeouts are generally retryable
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var loopErr LoopAwareError
	if As(err, &loopErr) {
		return loopErr.IsRetryable()
	}

	if Is(err, ErrTimeout) {
		return true
	}

	return false
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var loopErr LoopAwareError
	if As(err, &loopErr) {
		return loopErr.IsUserFacing()
	}

	var notFound *NotFoundError
	var validation *ValidationError
	var timeout *TimeoutError

	if As(err, &notFound) || As(err, &validation) || As(err, &timeout) {
		return true
	}

	return false
}

// IsFatal returns true if the error must halt the loop rather than feed the
// fix-info retry path. Authentication failures, exhausted fallback chains,
// retry-budget exhaustion, and unreadable task artifacts are fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return Is(err, ErrAuthFailed) ||
		Is(err, ErrMaxIterations) ||
		Is(err, ErrNoFallback) ||
		Is(err, ErrMalformedArtifacts)
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement LoopAwareError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var loopErr LoopAwareError
	if As(err, &loopErr) {
		return loopErr.Severity()
	}

	return SeverityError
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
//
// Example:
//
//	err := errors.Wrap(baseErr, "failed to persist state")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
//
// Example:
//
//	err := errors.Wrapf(baseErr, "failed to load state for task %s", taskID)
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
