package state

import (
	"testing"
)

func TestNewExecutionState(t *testing.T) {
	s := NewExecutionState("task-042", "docs/tasks/task-042.md", 10)

	if s.TaskID != "task-042" {
		t.Errorf("TaskID = %q", s.TaskID)
	}
	if s.CurrentPhase != PhaseIdle {
		t.Errorf("CurrentPhase = %q, want idle", s.CurrentPhase)
	}
	if s.CurrentIteration != 0 {
		t.Errorf("CurrentIteration = %d, want 0", s.CurrentIteration)
	}
	if s.RunID == "" {
		t.Error("RunID should be set")
	}
	if s.StartedAt == nil {
		t.Error("StartedAt should be set")
	}

	other := NewExecutionState("task-042", "docs/tasks/task-042.md", 10)
	if other.RunID == s.RunID {
		t.Error("each run should get a distinct RunID")
	}
}

func TestExecutionState_IsRunning(t *testing.T) {
	tests := []struct {
		phase Phase
		want  bool
	}{
		{PhaseIdle, false},
		{PhaseImplementation, true},
		{PhaseTestCritique, true},
		{PhaseQA, true},
		{PhaseCodeQuality, true},
		{PhaseManager, true},
		{PhaseDoDCheck, true},
		{PhaseStopped, false},
		{PhaseCompleted, false},
		{PhaseFailed, false},
	}

	for _, tt := range tests {
		s := &ExecutionState{CurrentPhase: tt.phase}
		if got := s.IsRunning(); got != tt.want {
			t.Errorf("IsRunning() in %s = %v, want %v", tt.phase, got, tt.want)
		}
	}
}

func TestExecutionState_StartIteration(t *testing.T) {
	s := NewExecutionState("task-1", "task.md", 5)

	first := s.StartIteration()
	if s.CurrentIteration != 1 || first.Iteration != 1 {
		t.Errorf("first iteration = %d/%d, want 1/1", s.CurrentIteration, first.Iteration)
	}

	second := s.StartIteration()
	if s.CurrentIteration != 2 || second.Iteration != 2 {
		t.Errorf("second iteration = %d/%d, want 2/2", s.CurrentIteration, second.Iteration)
	}
	if len(s.Iterations) != 2 {
		t.Errorf("len(Iterations) = %d, want 2", len(s.Iterations))
	}
}

func TestExecutionState_RecordStep(t *testing.T) {
	s := NewExecutionState("task-1", "task.md", 5)

	// Recording before any iteration opens one implicitly.
	step := s.RecordStep(PhaseImplementation, StepInProgress, "", "")
	if s.CurrentIteration != 1 {
		t.Errorf("CurrentIteration = %d, want 1", s.CurrentIteration)
	}
	if step.StartedAt == nil {
		t.Error("in-progress step should have StartedAt")
	}
	if step.CompletedAt != nil {
		t.Error("in-progress step should not have CompletedAt")
	}

	done := s.RecordStep(PhaseImplementation, StepCompleted, "", "implemented the parser")
	if done.CompletedAt == nil {
		t.Error("completed step should have CompletedAt")
	}
	if done.OutputSummary != "implemented the parser" {
		t.Errorf("OutputSummary = %q", done.OutputSummary)
	}

	failed := s.RecordStep(PhaseQA, StepFailed, "acceptance criteria unmet", "")
	if failed.Error != "acceptance criteria unmet" {
		t.Errorf("Error = %q", failed.Error)
	}

	if got := len(s.CurrentIterationRecord().Steps); got != 3 {
		t.Errorf("steps in iteration = %d, want 3", got)
	}
}

func TestExecutionState_AddWarning(t *testing.T) {
	s := NewExecutionState("task-1", "task.md", 5)

	s.AddWarning("runner fallback taken")
	s.AddWarning("runner fallback taken")
	s.AddWarning("structured output missing")

	if len(s.Warnings) != 2 {
		t.Errorf("Warnings = %v, want 2 distinct entries", s.Warnings)
	}
}
