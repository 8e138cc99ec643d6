// Package logging provides structured logging for agentloop runs.
//
// This package wraps Go's log/slog to provide JSON-formatted logs with
// context propagation support for debugging and post-hoc analysis. It is
// designed to help troubleshoot long multi-phase agent runs by providing
// structured, filterable logs that can be analyzed after the fact.
//
// # Features
//
//   - JSON-formatted structured logging via slog
//   - Configurable log levels (DEBUG, INFO, WARN, ERROR)
//   - Context propagation (task ID, phase, runner, iteration)
//   - Log rotation with configurable size limits
//   - Optional gzip compression for rotated logs
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. The [Logger] type
// uses Go's slog internally which is designed for concurrent access. The
// [RotatingWriter] type uses a mutex to protect file operations during
// rotation. Child loggers created via With* methods share the underlying
// writer safely.
//
// # Basic Usage
//
// Create a logger for a state directory:
//
//	logger, err := logging.NewLogger("/path/to/.agentloop", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.Debug("detailed info", "key", "value")
//	logger.Info("phase completed", "duration_ms", 150)
//	logger.Warn("falling back", "from", "codex", "to", "claude")
//	logger.Error("agent failed", "error", err.Error())
//
// # Context Propagation
//
// Create child loggers with persistent context attributes:
//
//	taskLogger := logger.WithTask("task-7")
//	phaseLogger := taskLogger.WithPhase("qa").WithRunner("gemini")
//
//	// All logs from phaseLogger include task_id, phase, and runner
//	phaseLogger.Info("agent finished", "exit_code", 0)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"agent finished","task_id":"task-7","phase":"qa","runner":"gemini","exit_code":0}
//
// # Log Rotation
//
// For long runs, use log rotation to prevent unbounded growth:
//
//	config := logging.RotationConfig{
//	    MaxSizeMB:  10,
//	    MaxBackups: 3,
//	    Compress:   true,
//	}
//
//	logger, err := logging.NewLoggerWithRotation("/path/to/.agentloop", "INFO", config)
//
// Rotated files are named agentloop.log.1, agentloop.log.2, etc., where .1
// is the most recent backup. With compression enabled they become
// agentloop.log.1.gz, etc.
//
// # Testing
//
// For testing, use [NopLogger] to discard all log output.
package logging
