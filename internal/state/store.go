package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	looperrors "github.com/agentloop/agentloop/internal/errors"
)

// stateFileSuffix names the per-task state file: <task-id>-execution-state.yaml.
const stateFileSuffix = "-execution-state.yaml"

// Store persists execution states as YAML files in the state directory.
// Every save is a temp-file-plus-rename so a crash mid-write never leaves a
// truncated state file behind.
type Store struct {
	stateDir string
	mu       sync.Mutex
}

// NewStore returns a store rooted at stateDir. The directory is created
// lazily on first save.
func NewStore(stateDir string) *Store {
	return &Store{stateDir: stateDir}
}

// StateDir returns the directory this store writes into.
func (st *Store) StateDir() string {
	return st.stateDir
}

// StateFile returns the state file path for a task.
func (st *Store) StateFile(taskID string) string {
	return filepath.Join(st.stateDir, taskID+stateFileSuffix)
}

// Create builds and persists a fresh state for a task.
func (st *Store) Create(taskID, taskPath string, maxIterations int) (*ExecutionState, error) {
	state := NewExecutionState(taskID, taskPath, maxIterations)
	if err := st.Save(state); err != nil {
		return nil, err
	}
	return state, nil
}

// Load reads a task's state. A missing file is ErrTaskNotFound; an
// unparseable file is ErrStateCorrupted.
func (st *Store) Load(taskID string) (*ExecutionState, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	path := st.StateFile(taskID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, looperrors.NewNotFoundError("task", taskID)
		}
		return nil, looperrors.NewStateError("reading state file", err).
			WithTaskID(taskID).
			WithPath(path)
	}

	var state ExecutionState
	if err := yaml.Unmarshal(data, &state); err != nil {
		return nil, looperrors.NewStateError("parsing state file", looperrors.Join(looperrors.ErrStateCorrupted, err)).
			WithTaskID(taskID).
			WithPath(path)
	}
	if state.TaskID == "" {
		return nil, looperrors.NewStateError("state file missing task id", looperrors.ErrStateCorrupted).
			WithTaskID(taskID).
			WithPath(path)
	}

	return &state, nil
}

// Save writes a state atomically.
func (st *Store) Save(state *ExecutionState) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if state.TaskID == "" {
		return looperrors.NewStateError("task id cannot be empty", looperrors.ErrInvalidInput)
	}

	if err := os.MkdirAll(st.stateDir, 0o755); err != nil {
		return looperrors.NewStateError("creating state directory", err).
			WithTaskID(state.TaskID).
			WithPath(st.stateDir)
	}

	data, err := yaml.Marshal(state)
	if err != nil {
		return looperrors.NewStateError("encoding state", err).WithTaskID(state.TaskID)
	}

	path := st.StateFile(state.TaskID)
	if err := atomicWriteFile(path, data, 0o644); err != nil {
		return looperrors.NewStateError("writing state file", err).
			WithTaskID(state.TaskID).
			WithPath(path)
	}
	return nil
}

// UpdatePhase moves the state to a phase, records the step as in progress,
// and persists.
func (st *Store) UpdatePhase(state *ExecutionState, phase Phase) error {
	state.CurrentPhase = phase
	state.RecordStep(phase, StepInProgress, "", "")
	return st.Save(state)
}

// CompletePhase records a phase as completed and persists.
func (st *Store) CompletePhase(state *ExecutionState, phase Phase, outputSummary string) error {
	state.RecordStep(phase, StepCompleted, "", outputSummary)
	return st.Save(state)
}

// FailPhase records a phase failure, moves the loop to failed, and
// persists.
func (st *Store) FailPhase(state *ExecutionState, phase Phase, errMsg string) error {
	state.CurrentPhase = PhaseFailed
	state.ErrorMessage = errMsg
	state.RecordStep(phase, StepFailed, errMsg, "")
	return st.Save(state)
}

// MarkCompleted stamps the terminal completed state and persists.
func (st *Store) MarkCompleted(state *ExecutionState) error {
	now := time.Now()
	state.CurrentPhase = PhaseCompleted
	state.CompletedAt = &now
	return st.Save(state)
}

// MarkStopped stamps the stopped state with a reason and persists. Stopped
// is resumable, unlike failed.
func (st *Store) MarkStopped(state *ExecutionState, reason string) error {
	now := time.Now()
	state.CurrentPhase = PhaseStopped
	state.CompletedAt = &now
	state.ErrorMessage = reason
	return st.Save(state)
}

// MarkFailed stamps the terminal failed state and persists.
func (st *Store) MarkFailed(state *ExecutionState, errMsg string) error {
	now := time.Now()
	state.CurrentPhase = PhaseFailed
	state.CompletedAt = &now
	state.ErrorMessage = errMsg
	state.RecordStep(PhaseFailed, StepFailed, errMsg, "")
	return st.Save(state)
}

// ListTasks returns the task ids with saved state, sorted.
func (st *Store) ListTasks() ([]string, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	entries, err := os.ReadDir(st.stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, looperrors.NewStateError("listing state directory", err).WithPath(st.stateDir)
	}

	var tasks []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, stateFileSuffix) {
			continue
		}
		tasks = append(tasks, strings.TrimSuffix(name, stateFileSuffix))
	}

	sort.Strings(tasks)
	return tasks, nil
}

// Delete removes a task's state file. Deleting a task without state is
// ErrTaskNotFound.
func (st *Store) Delete(taskID string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := os.Remove(st.StateFile(taskID)); err != nil {
		if os.IsNotExist(err) {
			return looperrors.NewNotFoundError("task", taskID)
		}
		return looperrors.NewStateError("deleting state file", err).WithTaskID(taskID)
	}
	return nil
}

// atomicWriteFile writes via a temp file in the target directory followed
// by a rename, so readers never observe a partial file.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	success = true
	return nil
}
