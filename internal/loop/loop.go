// Package loop drives the autonomous execution loop: implementation, test
// critique, QA, code quality, manager bookkeeping, and the completion gate,
// repeated until the task is done, the retry budget runs out, or the run is
// interrupted. Phase legality lives in the state machine; this package owns
// the verdict semantics and persistence.
package loop

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentloop/agentloop/internal/config"
	looperrors "github.com/agentloop/agentloop/internal/errors"
	"github.com/agentloop/agentloop/internal/extract"
	"github.com/agentloop/agentloop/internal/logging"
	"github.com/agentloop/agentloop/internal/runner"
	"github.com/agentloop/agentloop/internal/state"
)

// StopReasonMaxIterations is recorded when the retry budget runs out.
const StopReasonMaxIterations = "max iterations exceeded"

// StopReasonInterrupted is recorded when cancellation stops the run.
const StopReasonInterrupted = "interrupted"

// Loop orchestrates one task's execution.
type Loop struct {
	cfg        *config.Config
	registry   *runner.Registry
	store      *state.Store
	logger     *logging.Logger
	workingDir string
	agentsDir  string
	taskDir    string
}

// New wires a loop from its collaborators. A nil logger discards output.
func New(cfg *config.Config, registry *runner.Registry, store *state.Store, logger *logging.Logger, workingDir string) *Loop {
	if logger == nil {
		logger = logging.NopLogger()
	}

	// Pin each agent role's platform, variant, and timeout up front so the
	// registry can route and preflight them.
	roles := []string{AgentImplementer, AgentTestCritique, AgentQA, AgentCodeQuality, AgentManager, AgentDoD}
	for _, role := range roles {
		agentCfg := cfg.Agents.ForAgent(role)
		registry.ConfigureAgent(runner.AgentConfig{
			AgentName: role,
			Platform:  agentCfg.Runner,
			Variant:   agentCfg.Variant,
			Model:     agentCfg.Model,
			Timeout:   agentCfg.Timeout(cfg.Runner.Timeout()),
		})
	}

	return &Loop{
		cfg:        cfg,
		registry:   registry,
		store:      store,
		logger:     logger,
		workingDir: workingDir,
		agentsDir:  cfg.Paths.ResolveAgentsDir(workingDir),
		taskDir:    cfg.Paths.ResolveTaskDir(workingDir),
	}
}

// Run starts a fresh execution for a task, replacing any previous state.
// The returned state reflects the final outcome even when err is non-nil.
func (l *Loop) Run(ctx context.Context, taskID string) (*state.ExecutionState, error) {
	taskPath, err := l.resolveTaskPath(taskID)
	if err != nil {
		return nil, err
	}

	if err := l.store.Delete(taskID); err != nil && !looperrors.Is(err, looperrors.ErrTaskNotFound) {
		return nil, err
	}

	st, err := l.store.Create(taskID, taskPath, l.cfg.Loop.MaxIterations)
	if err != nil {
		return nil, err
	}

	return l.execute(ctx, st)
}

// Resume continues a previously stopped execution. Completed and failed
// tasks cannot resume.
func (l *Loop) Resume(ctx context.Context, taskID string) (*state.ExecutionState, error) {
	st, err := l.store.Load(taskID)
	if err != nil {
		return nil, err
	}
	if st.IsFinished() {
		return st, looperrors.NewLoopError(
			fmt.Sprintf("task %q already finished", taskID),
			looperrors.ErrTaskFinished,
		).WithTaskID(taskID).WithPhase(string(st.CurrentPhase))
	}

	st.ErrorMessage = ""
	st.CompletedAt = nil
	l.logger.WithTask(taskID).Info("resuming execution",
		"iteration", st.CurrentIteration,
		"max_iterations", st.MaxIterations,
	)

	return l.execute(ctx, st)
}

// resolveTaskPath locates the task artifact directory or file for a task id.
func (l *Loop) resolveTaskPath(taskID string) (string, error) {
	candidates := []string{
		filepath.Join(l.taskDir, taskID),
		filepath.Join(l.taskDir, taskID+".md"),
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", looperrors.NewLoopError(
		fmt.Sprintf("no task artifacts for %q under %s", taskID, l.taskDir),
		looperrors.ErrMalformedArtifacts,
	).WithTaskID(taskID)
}

// execute drives the phase sequence until a terminal outcome. It holds the
// task lock for the whole run.
func (l *Loop) execute(ctx context.Context, st *state.ExecutionState) (*state.ExecutionState, error) {
	lock, err := state.AcquireLock(l.store.StateDir(), st.TaskID, l.logger)
	if err != nil {
		return st, err
	}
	defer lock.Release()

	log := l.logger.WithTask(st.TaskID)

	// A run interrupted mid-iteration picks up at its persisted phase; the
	// completed phases of the open iteration do not re-run and the iteration
	// counter does not advance.
	start, midIteration := resumePhase(st)

	machine, err := NewMachine(st.TaskID, start, func() bool {
		return st.CurrentIteration < st.MaxIterations
	})
	if err != nil {
		return st, err
	}

	log.Info("execution started",
		"run_id", st.RunID,
		"task_path", st.TaskPath,
		"start_phase", string(start),
		"max_iterations", st.MaxIterations,
	)

	for {
		if ctx.Err() != nil {
			return st, l.interrupt(st, machine, log)
		}

		// The budget gates fresh iterations only; a resumed mid-iteration
		// pass finishes the iteration it already started.
		if !midIteration {
			if st.CurrentIteration >= st.MaxIterations {
				return st, l.stopExhausted(st, machine, log)
			}
			st.StartIteration()
			if err := l.store.Save(st); err != nil {
				return st, err
			}
		}

		done, err := l.runIteration(ctx, st, machine, start, log.WithIteration(st.CurrentIteration))
		start, midIteration = state.PhaseImplementation, false
		if err != nil {
			if isCancellation(err) {
				return st, l.interrupt(st, machine, log)
			}
			return st, err
		}
		if done {
			return st, nil
		}
	}
}

// resumePhase decides where a run picks up. A persisted running phase with
// an open iteration record continues in place without opening a new
// iteration; anything else, including a fresh run or a stop between
// iterations, starts a fresh iteration at implementation.
func resumePhase(st *state.ExecutionState) (state.Phase, bool) {
	if _, running := phaseOrder[st.CurrentPhase]; running && st.CurrentIterationRecord() != nil {
		return st.CurrentPhase, true
	}
	return state.PhaseImplementation, false
}

// runIteration executes one trip through the phase sequence starting at
// from; phases ranked before it already completed in an earlier process and
// are not re-run. done reports a terminal outcome (completed, stopped, or
// failed); a false return loops back to the implementation phase.
func (l *Loop) runIteration(ctx context.Context, st *state.ExecutionState, m *Machine, from state.Phase, log *logging.Logger) (bool, error) {
	rank := phaseOrder[from]

	// Implementation builds; everything after it judges.
	if rank <= phaseOrder[state.PhaseImplementation] {
		if err := l.runImplementation(ctx, st, m, log); err != nil {
			return true, err
		}
		if err := m.Fire(EventPass); err != nil {
			return true, err
		}
	}

	if rank <= phaseOrder[state.PhaseTestCritique] {
		passed, fixInfo, err := l.runTestCritique(ctx, st, log)
		if err != nil {
			return true, err
		}
		if !passed {
			return l.gateFailed(st, m, log, fixInfo, "test critique failed")
		}
		if err := m.Fire(EventPass); err != nil {
			return true, err
		}
	}

	if rank <= phaseOrder[state.PhaseQA] {
		passed, fixInfo, err := l.runQA(ctx, st, log)
		if err != nil {
			return true, err
		}
		if !passed {
			return l.gateFailed(st, m, log, fixInfo, "acceptance criteria not met")
		}
		if err := m.Fire(EventPass); err != nil {
			return true, err
		}
	}

	if rank <= phaseOrder[state.PhaseCodeQuality] {
		passed, fixInfo, err := l.runCodeQuality(ctx, st, log)
		if err != nil {
			return true, err
		}
		if !passed {
			return l.gateFailed(st, m, log, fixInfo, "code quality check failed")
		}
		if err := m.Fire(EventPass); err != nil {
			return true, err
		}
	}

	if rank <= phaseOrder[state.PhaseManager] {
		if err := l.runManager(ctx, st, log); err != nil {
			return true, err
		}
		if err := m.Fire(EventPass); err != nil {
			return true, err
		}
	}

	complete, fixInfo, err := l.runDoD(ctx, st, log)
	if err != nil {
		return true, err
	}
	if complete {
		if err := m.Fire(EventComplete); err != nil {
			return true, err
		}
		if err := l.store.MarkCompleted(st); err != nil {
			return true, err
		}
		log.Info("task completed", "iterations", st.CurrentIteration)
		return true, nil
	}
	return l.gateFailed(st, m, log, fixInfo, "definition of done not met")
}

// gateFailed records fix info for the next iteration and routes the machine
// back to implementation. A rejected transition means the retry budget is
// spent, which stops the run.
func (l *Loop) gateFailed(st *state.ExecutionState, m *Machine, log *logging.Logger, fixInfo, reason string) (bool, error) {
	if fixInfo == "" {
		fixInfo = reason
	}
	if st.Context == nil {
		st.Context = map[string]any{}
	}
	st.Context["fix_info"] = fixInfo
	if record := st.CurrentIterationRecord(); record != nil {
		record.FixInfo = fixInfo
	}

	if err := m.Fire(EventFail); err != nil {
		return true, l.stopExhausted(st, m, log)
	}

	if err := l.store.Save(st); err != nil {
		return true, err
	}
	log.Info("iteration failed a gate, retrying", "reason", reason)
	return false, nil
}

// stopExhausted stops the run because the retry budget ran out.
func (l *Loop) stopExhausted(st *state.ExecutionState, m *Machine, log *logging.Logger) error {
	_ = m.Fire(EventStop)
	if err := l.store.MarkStopped(st, StopReasonMaxIterations); err != nil {
		return err
	}
	log.Warn("retry budget exhausted",
		"iterations", st.CurrentIteration,
		"max_iterations", st.MaxIterations,
	)
	return looperrors.NewLoopError(
		fmt.Sprintf("stopped after %d iterations", st.CurrentIteration),
		looperrors.ErrMaxIterations,
	).WithTaskID(st.TaskID).WithIteration(st.CurrentIteration)
}

// authFailed fails the run because a backend rejected its credentials.
// Retrying cannot succeed until a human re-authenticates, so the failure
// surfaces immediately instead of burning the retry budget.
func (l *Loop) authFailed(st *state.ExecutionState, phase state.Phase, detail string, log *logging.Logger) error {
	msg := fmt.Sprintf("runner authentication failed during %s: %s (re-authenticate the backend CLI, then rerun the task)", phase, detail)
	log.Error("runner authentication failed", "phase", string(phase), "error", detail)
	if saveErr := l.store.MarkFailed(st, msg); saveErr != nil {
		return saveErr
	}
	return looperrors.NewLoopError(msg, looperrors.ErrAuthFailed).
		WithTaskID(st.TaskID).
		WithPhase(string(phase))
}

// interrupt handles cancellation: the manager gets one bookkeeping pass when
// real work happened this iteration and it has not run yet, then the run is
// marked stopped so it can resume later.
func (l *Loop) interrupt(st *state.ExecutionState, m *Machine, log *logging.Logger) error {
	if l.shouldRunManagerOnInterrupt(st) {
		log.Info("running manager before stopping to persist progress")
		if err := l.runManager(context.Background(), st, log); err != nil {
			log.Warn("manager cleanup failed during interrupt", "error", err.Error())
		}
	}

	_ = m.Fire(EventStop)
	if err := l.store.MarkStopped(st, StopReasonInterrupted); err != nil {
		return err
	}
	log.Warn("execution interrupted", "iteration", st.CurrentIteration)
	return nil
}

// phaseOrder ranks the running phases for interrupt bookkeeping.
var phaseOrder = map[state.Phase]int{
	state.PhaseImplementation: 0,
	state.PhaseTestCritique:   1,
	state.PhaseQA:             2,
	state.PhaseCodeQuality:    3,
	state.PhaseManager:        4,
	state.PhaseDoDCheck:       5,
}

// shouldRunManagerOnInterrupt reports whether a bookkeeping pass is owed:
// at least one iteration started, the loop was interrupted before the
// manager phase, and the manager has not already run this iteration.
func (l *Loop) shouldRunManagerOnInterrupt(st *state.ExecutionState) bool {
	if st.CurrentIteration == 0 {
		return false
	}
	rank, running := phaseOrder[st.CurrentPhase]
	if !running || rank >= phaseOrder[state.PhaseManager] {
		return false
	}
	record := st.CurrentIterationRecord()
	if record == nil {
		return false
	}
	for _, step := range record.Steps {
		if step.Phase == state.PhaseManager && step.Status == state.StepCompleted {
			return false
		}
	}
	return true
}

// runImplementation executes the build phase. A failed subprocess here is
// terminal: there is nothing to critique, so the run fails rather than
// burning budget.
func (l *Loop) runImplementation(ctx context.Context, st *state.ExecutionState, m *Machine, log *logging.Logger) error {
	log = log.WithPhase(string(state.PhaseImplementation))
	if err := l.store.UpdatePhase(st, state.PhaseImplementation); err != nil {
		return err
	}
	log.Info("implementation started")

	result, warning, err := l.registry.RunAgent(ctx, AgentImplementer, l.agentsDir, implementationPrompt(st), l.promptContext(st, nil))
	l.noteWarning(st, warning, log)
	if err != nil {
		_ = m.Fire(EventError)
		if saveErr := l.store.MarkFailed(st, err.Error()); saveErr != nil {
			return saveErr
		}
		return looperrors.NewLoopError("implementation agent could not run", err).
			WithTaskID(st.TaskID).
			WithPhase(string(state.PhaseImplementation))
	}
	if !result.Success {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_ = m.Fire(EventError)
		if runner.IsAuthFailure(result) {
			return l.authFailed(st, state.PhaseImplementation, result.Error, log)
		}
		if saveErr := l.store.FailPhase(st, state.PhaseImplementation, result.Error); saveErr != nil {
			return saveErr
		}
		log.Error("implementation failed", "error", result.Error, "exit_code", result.ExitCode)
		return looperrors.NewLoopError("implementation failed: "+result.Error, nil).
			WithTaskID(st.TaskID).
			WithPhase(string(state.PhaseImplementation)).
			WithIteration(st.CurrentIteration)
	}

	record := st.CurrentIterationRecord()
	record.FilesChanged = stringSlice(result.Structured["files_changed"])
	record.FilesAdded = stringSlice(result.Structured["files_added"])
	record.FilesDeleted = stringSlice(result.Structured["files_deleted"])
	st.LastAgentOutput = result.Output
	delete(st.Context, "fix_info")

	l.validateStructured(st, extract.SchemaImplementation, result.Structured, log)
	log.Info("implementation completed",
		"files_changed", len(record.FilesChanged),
		"files_added", len(record.FilesAdded),
		"tokens_used", result.TokensUsed,
	)
	return l.store.CompletePhase(st, state.PhaseImplementation, summarize(result.Output))
}

// runTestCritique judges test quality. The gate is lenient about its own
// machinery: a missing agent definition or an agent error passes with a
// warning rather than blocking the loop.
func (l *Loop) runTestCritique(ctx context.Context, st *state.ExecutionState, log *logging.Logger) (bool, string, error) {
	log = log.WithPhase(string(state.PhaseTestCritique))

	agentName := AgentTestCritique
	if skipped, err := l.skipIfUnconfigured(st, state.PhaseTestCritique, agentName, log); skipped || err != nil {
		if record := st.CurrentIterationRecord(); record != nil {
			record.TestCritiquePassed = true
		}
		return true, "", err
	}

	if err := l.store.UpdatePhase(st, state.PhaseTestCritique); err != nil {
		return false, "", err
	}
	log.Info("test critique started")

	record := st.CurrentIterationRecord()
	files := append(append([]string{}, record.FilesChanged...), record.FilesAdded...)

	result, warning, err := l.registry.RunAgent(ctx, agentName, l.agentsDir, testCritiquePrompt(st, files), l.promptContext(st, nil))
	l.noteWarning(st, warning, log)
	if err != nil || !result.Success {
		if ctx.Err() != nil {
			return false, "", ctx.Err()
		}
		if runner.IsAuthFailure(result) {
			return false, "", l.authFailed(st, state.PhaseTestCritique, result.Error, log)
		}
		// A broken critique agent must not block real work.
		detail := result.Error
		if err != nil {
			detail = err.Error()
		}
		st.AddWarning("test critique agent error, proceeding: " + detail)
		log.Warn("test critique agent error, proceeding", "error", detail)
		record.TestCritiquePassed = true
		return true, "", l.store.CompletePhase(st, state.PhaseTestCritique, "agent error, passed leniently")
	}

	l.validateStructured(st, extract.SchemaTestCritique, result.Structured, log)

	passed := boolField(result.Structured, "critique_passed", true)
	fixInfo := stringField(result.Structured, "fix_info")
	score := stringField(result.Structured, "test_quality_score")
	record.TestCritiquePassed = passed

	log.Info("test critique finished", "passed", passed, "score", score)
	if err := l.store.CompletePhase(st, state.PhaseTestCritique, "score "+score); err != nil {
		return false, "", err
	}
	return passed, fixInfo, nil
}

// runQA verifies acceptance criteria. Unlike the critique gates, a QA agent
// failure counts as a failed verdict: unverified work never advances.
func (l *Loop) runQA(ctx context.Context, st *state.ExecutionState, log *logging.Logger) (bool, string, error) {
	log = log.WithPhase(string(state.PhaseQA))
	if err := l.store.UpdatePhase(st, state.PhaseQA); err != nil {
		return false, "", err
	}
	log.Info("qa verification started")

	extra := map[string]any{"implementation_output": st.LastAgentOutput}
	result, warning, err := l.registry.RunAgent(ctx, AgentQA, l.agentsDir, qaPrompt(st), l.promptContext(st, extra))
	l.noteWarning(st, warning, log)
	if err != nil {
		return false, "", err
	}
	if !result.Success {
		if ctx.Err() != nil {
			return false, "", ctx.Err()
		}
		if runner.IsAuthFailure(result) {
			return false, "", l.authFailed(st, state.PhaseQA, result.Error, log)
		}
		log.Warn("qa agent failed, treating as failed verdict", "error", result.Error)
		if saveErr := l.store.CompletePhase(st, state.PhaseQA, "agent error"); saveErr != nil {
			return false, "", saveErr
		}
		return false, "QA verification could not run: " + result.Error, nil
	}

	l.validateStructured(st, extract.SchemaQA, result.Structured, log)

	achieved := boolField(result.Structured, "dod_achieved", false)
	fixInfo := stringField(result.Structured, "fix_info")
	if record := st.CurrentIterationRecord(); record != nil {
		record.DoDAchieved = achieved
	}

	log.Info("qa verification finished", "dod_achieved", achieved)
	if err := l.store.CompletePhase(st, state.PhaseQA, fmt.Sprintf("dod_achieved=%v", achieved)); err != nil {
		return false, "", err
	}
	return achieved, fixInfo, nil
}

// runCodeQuality judges lint and complexity findings. Like the test
// critique, its own machinery failing passes with a warning.
func (l *Loop) runCodeQuality(ctx context.Context, st *state.ExecutionState, log *logging.Logger) (bool, string, error) {
	log = log.WithPhase(string(state.PhaseCodeQuality))

	agentName := AgentCodeQuality
	if skipped, err := l.skipIfUnconfigured(st, state.PhaseCodeQuality, agentName, log); skipped || err != nil {
		if record := st.CurrentIterationRecord(); record != nil {
			record.QualityPassed = true
		}
		return true, "", err
	}

	if err := l.store.UpdatePhase(st, state.PhaseCodeQuality); err != nil {
		return false, "", err
	}
	log.Info("code quality analysis started")

	record := st.CurrentIterationRecord()
	files := append(append([]string{}, record.FilesChanged...), record.FilesAdded...)

	result, warning, err := l.registry.RunAgent(ctx, agentName, l.agentsDir, codeQualityPrompt(st, files), l.promptContext(st, nil))
	l.noteWarning(st, warning, log)
	if err != nil || !result.Success {
		if ctx.Err() != nil {
			return false, "", ctx.Err()
		}
		if runner.IsAuthFailure(result) {
			return false, "", l.authFailed(st, state.PhaseCodeQuality, result.Error, log)
		}
		detail := result.Error
		if err != nil {
			detail = err.Error()
		}
		st.AddWarning("code quality agent error, proceeding: " + detail)
		log.Warn("code quality agent error, proceeding", "error", detail)
		record.QualityPassed = true
		return true, "", l.store.CompletePhase(st, state.PhaseCodeQuality, "agent error, passed leniently")
	}

	l.validateStructured(st, extract.SchemaCodeQuality, result.Structured, log)

	passed := boolField(result.Structured, "quality_passed", true)
	fixInfo := stringField(result.Structured, "fix_info")
	record.QualityPassed = passed

	log.Info("code quality analysis finished", "passed", passed)
	if err := l.store.CompletePhase(st, state.PhaseCodeQuality, fmt.Sprintf("quality_passed=%v", passed)); err != nil {
		return false, "", err
	}
	return passed, fixInfo, nil
}

// runManager runs the bookkeeping pass that checks off completed artifact
// items. Manager problems never block the loop.
func (l *Loop) runManager(ctx context.Context, st *state.ExecutionState, log *logging.Logger) error {
	log = log.WithPhase(string(state.PhaseManager))

	agentName := AgentManager
	if skipped, err := l.skipIfUnconfigured(st, state.PhaseManager, agentName, log); skipped || err != nil {
		return err
	}

	if err := l.store.UpdatePhase(st, state.PhaseManager); err != nil {
		return err
	}
	log.Info("manager update started")

	result, warning, err := l.registry.RunAgent(ctx, agentName, l.agentsDir, managerPrompt(st), l.promptContext(st, nil))
	l.noteWarning(st, warning, log)
	if err != nil || !result.Success {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if runner.IsAuthFailure(result) {
			return l.authFailed(st, state.PhaseManager, result.Error, log)
		}
		detail := result.Error
		if err != nil {
			detail = err.Error()
		}
		st.AddWarning("manager agent error, artifacts may be stale: " + detail)
		log.Warn("manager agent error, continuing", "error", detail)
		return l.store.CompletePhase(st, state.PhaseManager, "agent error")
	}

	l.validateStructured(st, extract.SchemaManager, result.Structured, log)
	log.Info("manager update finished", "status", stringField(result.Structured, "status"))
	return l.store.CompletePhase(st, state.PhaseManager, stringField(result.Structured, "status"))
}

// runDoD runs the completion gate. Only an explicit task_complete=true from
// the agent completes the task; everything else keeps the loop going.
func (l *Loop) runDoD(ctx context.Context, st *state.ExecutionState, log *logging.Logger) (bool, string, error) {
	log = log.WithPhase(string(state.PhaseDoDCheck))

	agentName := AgentDoD
	if skipped, err := l.skipIfUnconfigured(st, state.PhaseDoDCheck, agentName, log); skipped || err != nil {
		if skipped {
			st.AddWarning("completion agent not configured, task cannot auto-complete")
		}
		return false, "completion agent not configured", err
	}

	if err := l.store.UpdatePhase(st, state.PhaseDoDCheck); err != nil {
		return false, "", err
	}
	log.Info("completion check started")

	result, warning, err := l.registry.RunAgent(ctx, agentName, l.agentsDir, dodPrompt(st), l.promptContext(st, nil))
	l.noteWarning(st, warning, log)
	if err != nil || !result.Success || len(result.Structured) == 0 {
		if ctx.Err() != nil {
			return false, "", ctx.Err()
		}
		if runner.IsAuthFailure(result) {
			return false, "", l.authFailed(st, state.PhaseDoDCheck, result.Error, log)
		}
		detail := "no structured verdict"
		if err != nil {
			detail = err.Error()
		} else if !result.Success {
			detail = result.Error
		}
		st.AddWarning("completion check inconclusive: " + detail)
		log.Warn("completion check inconclusive, continuing", "error", detail)
		if saveErr := l.store.CompletePhase(st, state.PhaseDoDCheck, "inconclusive"); saveErr != nil {
			return false, "", saveErr
		}
		return false, "completion could not be verified: " + detail, nil
	}

	l.validateStructured(st, extract.SchemaDoD, result.Structured, log)

	complete := boolField(result.Structured, "task_complete", false)
	remaining := stringSlice(result.Structured["remaining_items"])
	reasoning := stringField(result.Structured, "reasoning")

	log.Info("completion check finished", "task_complete", complete, "remaining", len(remaining))
	if err := l.store.CompletePhase(st, state.PhaseDoDCheck, fmt.Sprintf("task_complete=%v", complete)); err != nil {
		return false, "", err
	}
	if complete {
		return true, "", nil
	}

	var b strings.Builder
	b.WriteString("Remaining work:\n")
	for _, item := range remaining {
		b.WriteString("- " + item + "\n")
	}
	if reasoning != "" {
		b.WriteString("\n" + reasoning)
	}
	return false, b.String(), nil
}

// skipIfUnconfigured marks a phase skipped when its agent definition file
// does not exist. Optional gates pass; the completion gate never does.
func (l *Loop) skipIfUnconfigured(st *state.ExecutionState, phase state.Phase, agentName string, log *logging.Logger) (bool, error) {
	specPath := l.registry.AgentSpecPath(agentName, l.agentsDir)
	if _, err := os.Stat(specPath); err == nil {
		return false, nil
	}
	log.Warn("agent definition not found, skipping phase", "agent", agentName, "path", specPath)
	st.RecordStep(phase, state.StepSkipped, "", "agent not configured")
	return true, l.store.Save(st)
}

// promptContext builds the structured context block shared by every phase.
func (l *Loop) promptContext(st *state.ExecutionState, extra map[string]any) map[string]any {
	ctx := map[string]any{
		"task_id":        st.TaskID,
		"task_path":      st.TaskPath,
		"iteration":      st.CurrentIteration,
		"max_iterations": st.MaxIterations,
	}
	for k, v := range extra {
		ctx[k] = v
	}
	return ctx
}

// noteWarning persists a runner fallback warning with the run.
func (l *Loop) noteWarning(st *state.ExecutionState, warning string, log *logging.Logger) {
	if warning == "" {
		return
	}
	st.AddWarning(warning)
	log.Warn("runner fallback taken", "detail", warning)
}

// validateStructured checks an agent's structured output against its phase
// schema. Findings degrade to warnings; malformed output never halts a run.
func (l *Loop) validateStructured(st *state.ExecutionState, schema string, structured map[string]any, log *logging.Logger) {
	if len(structured) == 0 {
		return
	}
	findings, err := extract.ValidateRecord(schema, structured)
	if err != nil {
		log.Debug("schema validation error", "schema", schema, "error", err.Error())
		return
	}
	if len(findings) == 0 {
		return
	}
	log.Warn("structured output failed validation", "schema", schema, "findings", strings.Join(findings, "; "))
	st.AddWarning(fmt.Sprintf("%s output failed validation: %s", schema, strings.Join(findings, "; ")))
}

// isCancellation reports whether an error came from context cancellation.
func isCancellation(err error) bool {
	return looperrors.Is(err, context.Canceled) || looperrors.Is(err, context.DeadlineExceeded)
}

// summarize trims agent output to a short single-line step summary.
func summarize(output string) string {
	output = strings.TrimSpace(output)
	if idx := strings.IndexByte(output, '\n'); idx >= 0 {
		output = output[:idx]
	}
	const max = 200
	if len(output) > max {
		return output[:max] + "..."
	}
	return output
}

// boolField reads a boolean from a structured record with a default.
func boolField(record map[string]any, key string, def bool) bool {
	if record == nil {
		return def
	}
	if v, ok := record[key].(bool); ok {
		return v
	}
	return def
}

// stringField reads a string from a structured record, empty when absent.
func stringField(record map[string]any, key string) string {
	if record == nil {
		return ""
	}
	if v, ok := record[key].(string); ok {
		return v
	}
	return ""
}

// stringSlice normalizes a structured-record list that may arrive as
// []string (from the tree tracker) or []any (from decoded JSON).
func stringSlice(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
