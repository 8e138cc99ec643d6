// Package state persists the execution loop's progress so interrupted runs
// can resume. Each task gets one YAML state file under the state directory,
// written atomically after every transition, plus a lock file that keeps two
// processes from driving the same task at once.
package state

import (
	"time"

	"github.com/google/uuid"
)

// Phase is a position in the execution loop.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseImplementation Phase = "implementation"
	PhaseTestCritique   Phase = "test_critique"
	PhaseQA             Phase = "qa"
	PhaseCodeQuality    Phase = "code_quality"
	PhaseManager        Phase = "manager"
	PhaseDoDCheck       Phase = "dod_check"
	PhaseStopped        Phase = "stopped"
	PhaseCompleted      Phase = "completed"
	PhaseFailed         Phase = "failed"
)

// StepStatus is the outcome of a single phase execution.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepSkipped    StepStatus = "skipped"
)

// StepRecord captures one phase execution within an iteration.
type StepRecord struct {
	Phase         Phase      `yaml:"phase"`
	Status        StepStatus `yaml:"status"`
	StartedAt     *time.Time `yaml:"started_at,omitempty"`
	CompletedAt   *time.Time `yaml:"completed_at,omitempty"`
	Attempt       int        `yaml:"attempt"`
	Error         string     `yaml:"error,omitempty"`
	OutputSummary string     `yaml:"output_summary,omitempty"`
}

// IterationRecord captures one trip through the loop.
type IterationRecord struct {
	Iteration          int          `yaml:"iteration"`
	StartedAt          time.Time    `yaml:"started_at"`
	CompletedAt        *time.Time   `yaml:"completed_at,omitempty"`
	Steps              []StepRecord `yaml:"steps,omitempty"`
	TestCritiquePassed bool         `yaml:"test_critique_passed"`
	QualityPassed      bool         `yaml:"quality_passed"`
	DoDAchieved        bool         `yaml:"dod_achieved"`
	FixInfo            string       `yaml:"fix_info,omitempty"`
	FilesChanged       []string     `yaml:"files_changed,omitempty"`
	FilesAdded         []string     `yaml:"files_added,omitempty"`
	FilesDeleted       []string     `yaml:"files_deleted,omitempty"`
}

// ExecutionState is the durable record of one task's loop execution.
type ExecutionState struct {
	TaskID           string            `yaml:"task_id"`
	TaskPath         string            `yaml:"task_path"`
	RunID            string            `yaml:"run_id"`
	CurrentPhase     Phase             `yaml:"current_phase"`
	CurrentIteration int               `yaml:"current_iteration"`
	MaxIterations    int               `yaml:"max_iterations"`
	StartedAt        *time.Time        `yaml:"started_at,omitempty"`
	CompletedAt      *time.Time        `yaml:"completed_at,omitempty"`
	ErrorMessage     string            `yaml:"error_message,omitempty"`
	Warnings         []string          `yaml:"warnings,omitempty"`
	Iterations       []IterationRecord `yaml:"iterations,omitempty"`
	Context          map[string]any    `yaml:"context,omitempty"`

	// LastAgentOutput keeps the most recent agent transcript so a resumed
	// run can hand it back as context.
	LastAgentOutput string `yaml:"last_agent_output,omitempty"`
}

// NewExecutionState builds a fresh state for a task about to run.
func NewExecutionState(taskID, taskPath string, maxIterations int) *ExecutionState {
	now := time.Now()
	return &ExecutionState{
		TaskID:        taskID,
		TaskPath:      taskPath,
		RunID:         uuid.NewString(),
		CurrentPhase:  PhaseIdle,
		MaxIterations: maxIterations,
		StartedAt:     &now,
	}
}

// IsRunning reports whether the loop is mid-flight. Idle, stopped,
// completed, and failed states are all at rest.
func (s *ExecutionState) IsRunning() bool {
	switch s.CurrentPhase {
	case PhaseIdle, PhaseStopped, PhaseCompleted, PhaseFailed:
		return false
	}
	return true
}

// IsFinished reports whether the loop reached a terminal outcome.
func (s *ExecutionState) IsFinished() bool {
	return s.CurrentPhase == PhaseCompleted || s.CurrentPhase == PhaseFailed
}

// CurrentIterationRecord returns the in-progress iteration, or nil before
// the first one starts.
func (s *ExecutionState) CurrentIterationRecord() *IterationRecord {
	if len(s.Iterations) == 0 {
		return nil
	}
	return &s.Iterations[len(s.Iterations)-1]
}

// StartIteration advances the iteration counter by one and opens a new
// iteration record.
func (s *ExecutionState) StartIteration() *IterationRecord {
	s.CurrentIteration++
	s.Iterations = append(s.Iterations, IterationRecord{
		Iteration: s.CurrentIteration,
		StartedAt: time.Now(),
	})
	return s.CurrentIterationRecord()
}

// RecordStep appends a step to the current iteration, opening an iteration
// if none exists yet.
func (s *ExecutionState) RecordStep(phase Phase, status StepStatus, stepErr, outputSummary string) *StepRecord {
	if len(s.Iterations) == 0 {
		s.StartIteration()
	}

	step := StepRecord{
		Phase:         phase,
		Status:        status,
		Attempt:       1,
		Error:         stepErr,
		OutputSummary: outputSummary,
	}
	now := time.Now()
	switch status {
	case StepInProgress:
		step.StartedAt = &now
	case StepCompleted, StepFailed:
		step.CompletedAt = &now
	}

	record := s.CurrentIterationRecord()
	record.Steps = append(record.Steps, step)
	return &record.Steps[len(record.Steps)-1]
}

// AddWarning appends a warning to the durable record, deduplicating exact
// repeats.
func (s *ExecutionState) AddWarning(warning string) {
	for _, existing := range s.Warnings {
		if existing == warning {
			return
		}
	}
	s.Warnings = append(s.Warnings, warning)
}
