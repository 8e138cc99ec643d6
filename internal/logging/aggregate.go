// This file contains utilities for aggregating and filtering run logs
// for post-hoc debugging and analysis.
package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LogEntry represents a parsed log entry with all structured fields.
type LogEntry struct {
	Timestamp time.Time      `json:"time"`
	Level     string         `json:"level"`
	Message   string         `json:"msg"`
	TaskID    string         `json:"task_id,omitempty"`
	Phase     string         `json:"phase,omitempty"`
	Runner    string         `json:"runner,omitempty"`
	Iteration int            `json:"iteration,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// LogFilter defines criteria for filtering log entries.
// Multiple criteria are combined with AND logic.
type LogFilter struct {
	// Level filters to entries at or above this level (DEBUG < INFO < WARN < ERROR).
	// Empty string means no level filtering.
	Level string

	// StartTime filters to entries at or after this time.
	// Zero value means no start time filtering.
	StartTime time.Time

	// EndTime filters to entries at or before this time.
	// Zero value means no end time filtering.
	EndTime time.Time

	// TaskID filters to entries for this specific task.
	TaskID string

	// Phase filters to entries from this specific phase.
	Phase string

	// Runner filters to entries from this specific runner.
	Runner string

	// MessageContains filters to entries whose message contains this substring.
	MessageContains string
}

// levelOrder defines the ordering of log levels for filtering.
var levelOrder = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// AggregateLogs reads and parses all log entries from a state directory.
// It looks for the agentloop.log file in the specified directory and parses
// each line as a JSON log entry. Lines that fail to parse are skipped so
// partially corrupted logs still yield the readable entries.
// Entries are returned sorted by timestamp in ascending order.
func AggregateLogs(stateDir string) ([]LogEntry, error) {
	logPath := filepath.Join(stateDir, LogFileName)

	file, err := os.Open(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no log file found in state directory: %w", err)
		}
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var entries []LogEntry
	scanner := bufio.NewScanner(file)

	// Agent output excerpts can produce long lines.
	const maxScanTokenSize = 1024 * 1024
	buf := make([]byte, maxScanTokenSize)
	scanner.Buffer(buf, maxScanTokenSize)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		entry, err := parseLogEntry(line)
		if err != nil {
			continue
		}

		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading log file: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})

	return entries, nil
}

// parseLogEntry parses a single JSON log line into a LogEntry.
func parseLogEntry(line string) (LogEntry, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return LogEntry{}, fmt.Errorf("invalid JSON: %w", err)
	}

	entry := LogEntry{
		Attrs: make(map[string]any),
	}

	if timeStr, ok := raw["time"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, timeStr); err == nil {
			entry.Timestamp = t
		}
	}

	if level, ok := raw["level"].(string); ok {
		entry.Level = level
	}

	if msg, ok := raw["msg"].(string); ok {
		entry.Message = msg
	}

	if taskID, ok := raw["task_id"].(string); ok {
		entry.TaskID = taskID
	}

	if phase, ok := raw["phase"].(string); ok {
		entry.Phase = phase
	}

	if runner, ok := raw["runner"].(string); ok {
		entry.Runner = runner
	}

	if iteration, ok := raw["iteration"].(float64); ok {
		entry.Iteration = int(iteration)
	}

	// Collect remaining fields as attrs
	standardFields := map[string]bool{
		"time":      true,
		"level":     true,
		"msg":       true,
		"task_id":   true,
		"phase":     true,
		"runner":    true,
		"iteration": true,
	}

	for k, v := range raw {
		if !standardFields[k] {
			entry.Attrs[k] = v
		}
	}

	return entry, nil
}

// FilterLogs filters log entries based on the provided filter criteria.
func FilterLogs(entries []LogEntry, filter LogFilter) []LogEntry {
	if isEmptyFilter(filter) {
		return entries
	}

	var filtered []LogEntry
	for _, entry := range entries {
		if matchesFilter(entry, filter) {
			filtered = append(filtered, entry)
		}
	}

	return filtered
}

// isEmptyFilter checks if no filter criteria are set.
func isEmptyFilter(f LogFilter) bool {
	return f.Level == "" &&
		f.StartTime.IsZero() &&
		f.EndTime.IsZero() &&
		f.TaskID == "" &&
		f.Phase == "" &&
		f.Runner == "" &&
		f.MessageContains == ""
}

// matchesFilter checks if an entry matches all filter criteria.
func matchesFilter(entry LogEntry, filter LogFilter) bool {
	// Level filter: entry level must be >= filter level
	if filter.Level != "" {
		filterLevelOrder, filterOk := levelOrder[strings.ToUpper(filter.Level)]
		entryLevelOrder, entryOk := levelOrder[entry.Level]
		if filterOk && entryOk && entryLevelOrder < filterLevelOrder {
			return false
		}
	}

	if !filter.StartTime.IsZero() && entry.Timestamp.Before(filter.StartTime) {
		return false
	}
	if !filter.EndTime.IsZero() && entry.Timestamp.After(filter.EndTime) {
		return false
	}

	if filter.TaskID != "" && entry.TaskID != filter.TaskID {
		return false
	}

	if filter.Phase != "" && entry.Phase != filter.Phase {
		return false
	}

	if filter.Runner != "" && entry.Runner != filter.Runner {
		return false
	}

	if filter.MessageContains != "" && !strings.Contains(entry.Message, filter.MessageContains) {
		return false
	}

	return true
}

// FormatEntry renders a single entry in a human-readable line format:
// [TIMESTAMP] LEVEL - MESSAGE (context) {attrs}
func FormatEntry(entry LogEntry) string {
	var parts []string

	ts := entry.Timestamp.Format("2006-01-02 15:04:05.000")
	parts = append(parts, fmt.Sprintf("[%s]", ts))
	parts = append(parts, entry.Level)
	parts = append(parts, "-", entry.Message)

	var context []string
	if entry.TaskID != "" {
		context = append(context, fmt.Sprintf("task=%s", entry.TaskID))
	}
	if entry.Phase != "" {
		context = append(context, fmt.Sprintf("phase=%s", entry.Phase))
	}
	if entry.Runner != "" {
		context = append(context, fmt.Sprintf("runner=%s", entry.Runner))
	}
	if len(context) > 0 {
		parts = append(parts, fmt.Sprintf("(%s)", strings.Join(context, ", ")))
	}

	if len(entry.Attrs) > 0 {
		attrsJSON, _ := json.Marshal(entry.Attrs)
		parts = append(parts, string(attrsJSON))
	}

	return strings.Join(parts, " ")
}
