package loop

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agentloop/agentloop/internal/config"
	looperrors "github.com/agentloop/agentloop/internal/errors"
	"github.com/agentloop/agentloop/internal/extract"
	"github.com/agentloop/agentloop/internal/runner"
	"github.com/agentloop/agentloop/internal/state"
)

var allAgents = []string{
	AgentImplementer,
	AgentTestCritique,
	AgentQA,
	AgentCodeQuality,
	AgentManager,
	AgentDoD,
}

// passingResponses scripts every agent to approve on the first pass.
func passingResponses() map[string]string {
	return map[string]string{
		AgentImplementer:  `{"summary": "implemented the feature", "files_changed": ["internal/app/app.go"], "files_added": ["internal/app/app_test.go"]}`,
		AgentTestCritique: `{"critique_passed": true, "test_quality_score": "A"}`,
		AgentQA:           `{"dod_achieved": true}`,
		AgentCodeQuality:  `{"quality_passed": true}`,
		AgentManager:      `{"status": "success", "updates_made": ["checked item 1"], "items_completed": ["item 1"]}`,
		AgentDoD:          `{"task_complete": true, "remaining_items": [], "reasoning": "all criteria met"}`,
	}
}

// newTestLoop builds a loop wired to a mock backend with task artifacts and
// agent definitions on disk.
func newTestLoop(t *testing.T, mock *runner.Mock, maxIterations int) (*Loop, *state.Store) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Runner.Default = runner.PlatformMock
	cfg.Loop.MaxIterations = maxIterations
	cfg.Paths.StateDir = filepath.Join(dir, ".agentloop")
	cfg.Paths.TaskDir = filepath.Join(dir, "tasks")
	cfg.Paths.AgentsDir = filepath.Join(dir, "agents")

	if err := os.MkdirAll(filepath.Join(dir, "tasks"), 0o755); err != nil {
		t.Fatalf("mkdir tasks: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "tasks", "task-1.md"), []byte("# Task 1\n"), 0o644); err != nil {
		t.Fatalf("write task: %v", err)
	}

	if err := os.MkdirAll(filepath.Join(dir, "agents"), 0o755); err != nil {
		t.Fatalf("mkdir agents: %v", err)
	}
	for _, name := range allAgents {
		spec := "---\nname: " + name + "\n---\n\nAgent definition.\n"
		if err := os.WriteFile(filepath.Join(dir, "agents", name+".md"), []byte(spec), 0o644); err != nil {
			t.Fatalf("write agent spec: %v", err)
		}
	}

	registry := runner.NewRegistry()
	registry.RegisterInstance(runner.PlatformMock, mock)
	registry.SetDefaultPlatform(runner.PlatformMock)

	store := state.NewStore(cfg.Paths.ResolveStateDir(dir))
	return New(cfg, registry, store, nil, dir), store
}

// agentCalls counts invocations per agent stem.
func agentCalls(mock *runner.Mock) map[string]int {
	counts := map[string]int{}
	for _, call := range mock.History() {
		stem := strings.TrimSuffix(filepath.Base(call.AgentSpecPath), ".md")
		counts[stem]++
	}
	return counts
}

func TestLoop_Run_CompletesInOneIteration(t *testing.T) {
	mock := runner.NewMock(passingResponses())
	l, _ := newTestLoop(t, mock, 5)

	st, err := l.Run(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.CurrentPhase != state.PhaseCompleted {
		t.Errorf("CurrentPhase = %s, want completed", st.CurrentPhase)
	}
	if st.CurrentIteration != 1 {
		t.Errorf("CurrentIteration = %d, want 1", st.CurrentIteration)
	}
	if st.CompletedAt == nil {
		t.Error("CompletedAt should be set")
	}

	record := st.CurrentIterationRecord()
	if record == nil {
		t.Fatal("missing iteration record")
	}
	if !record.TestCritiquePassed || !record.QualityPassed || !record.DoDAchieved {
		t.Errorf("gate verdicts = critique %v, quality %v, dod %v, want all true",
			record.TestCritiquePassed, record.QualityPassed, record.DoDAchieved)
	}
	if len(record.FilesChanged) != 1 || record.FilesChanged[0] != "internal/app/app.go" {
		t.Errorf("FilesChanged = %v", record.FilesChanged)
	}
	if len(record.FilesAdded) != 1 {
		t.Errorf("FilesAdded = %v", record.FilesAdded)
	}

	counts := agentCalls(mock)
	for _, agent := range allAgents {
		if counts[agent] != 1 {
			t.Errorf("%s invoked %d times, want 1", agent, counts[agent])
		}
	}
}

func TestLoop_Run_PersistsFinalState(t *testing.T) {
	mock := runner.NewMock(passingResponses())
	l, store := newTestLoop(t, mock, 5)

	if _, err := l.Run(context.Background(), "task-1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	loaded, err := store.Load("task-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.CurrentPhase != state.PhaseCompleted {
		t.Errorf("persisted phase = %s, want completed", loaded.CurrentPhase)
	}
	if loaded.LastAgentOutput == "" {
		t.Error("LastAgentOutput should be persisted")
	}
}

func TestLoop_Run_QAFailureRetriesWithFixInfo(t *testing.T) {
	responses := passingResponses()
	responses[AgentQA] = `{"dod_achieved": false, "fix_info": "assertions missing in app_test.go"}`
	mock := runner.NewMock(responses)
	l, _ := newTestLoop(t, mock, 3)

	st, err := l.Run(context.Background(), "task-1")
	if err == nil {
		t.Fatal("expected max-iterations error")
	}
	if !looperrors.Is(err, looperrors.ErrMaxIterations) {
		t.Errorf("error should wrap ErrMaxIterations, got: %v", err)
	}
	if st.CurrentPhase != state.PhaseStopped {
		t.Errorf("CurrentPhase = %s, want stopped", st.CurrentPhase)
	}
	if st.ErrorMessage != StopReasonMaxIterations {
		t.Errorf("ErrorMessage = %q", st.ErrorMessage)
	}
	if st.CurrentIteration != 3 {
		t.Errorf("CurrentIteration = %d, want 3", st.CurrentIteration)
	}

	counts := agentCalls(mock)
	if counts[AgentImplementer] != 3 {
		t.Errorf("implementer invoked %d times, want 3", counts[AgentImplementer])
	}
	// QA failure never reaches code quality or later phases.
	if counts[AgentCodeQuality] != 0 || counts[AgentDoD] != 0 {
		t.Errorf("phases after qa should not run: quality=%d dod=%d",
			counts[AgentCodeQuality], counts[AgentDoD])
	}

	// The second implementation prompt switches to fix mode with the QA
	// findings.
	var implPrompts []string
	for _, call := range mock.History() {
		if strings.Contains(call.AgentSpecPath, AgentImplementer) {
			implPrompts = append(implPrompts, call.Prompt)
		}
	}
	if len(implPrompts) != 3 {
		t.Fatalf("implementation prompts = %d, want 3", len(implPrompts))
	}
	if strings.Contains(implPrompts[0], "Fix Mode") {
		t.Error("first iteration should not be in fix mode")
	}
	if !strings.Contains(implPrompts[1], "Fix Mode") ||
		!strings.Contains(implPrompts[1], "assertions missing in app_test.go") {
		t.Errorf("second prompt missing fix info:\n%s", implPrompts[1])
	}

	for _, record := range st.Iterations {
		if record.FixInfo == "" {
			t.Errorf("iteration %d missing fix info", record.Iteration)
		}
	}
}

// flakyQARunner wraps the mock and fails the first QA verdict only.
type flakyQARunner struct {
	*runner.Mock
	qaCalls int
}

func (f *flakyQARunner) Invoke(ctx context.Context, inv runner.Invocation) runner.Result {
	if strings.Contains(inv.AgentSpecPath, AgentQA) {
		f.qaCalls++
		if f.qaCalls == 1 {
			response := `{"dod_achieved": false, "fix_info": "tests X, Y failing"}`
			f.Mock.Invoke(ctx, inv)
			return runner.Success(response, extract.FirstJSON(response), nil)
		}
	}
	return f.Mock.Invoke(ctx, inv)
}

func TestLoop_Run_QAFailureThenPassCompletesInTwoIterations(t *testing.T) {
	mock := runner.NewMock(passingResponses())
	flaky := &flakyQARunner{Mock: mock}
	l, _ := newTestLoop(t, mock, 5)
	l.registry.RegisterInstance(runner.PlatformMock, flaky)

	st, err := l.Run(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.CurrentPhase != state.PhaseCompleted {
		t.Errorf("CurrentPhase = %s, want completed", st.CurrentPhase)
	}
	if st.CurrentIteration != 2 {
		t.Errorf("CurrentIteration = %d, want 2", st.CurrentIteration)
	}
	if len(st.Iterations) != 2 {
		t.Fatalf("iteration records = %d, want 2", len(st.Iterations))
	}
	if !strings.Contains(st.Iterations[0].FixInfo, "tests X, Y failing") {
		t.Errorf("first iteration FixInfo = %q", st.Iterations[0].FixInfo)
	}
	if st.Iterations[1].FixInfo != "" {
		t.Errorf("second iteration should carry no fix info, got %q", st.Iterations[1].FixInfo)
	}
}

// downRunner simulates an uninstalled backend.
type downRunner struct{}

func (downRunner) Invoke(context.Context, runner.Invocation) runner.Result {
	return runner.Failure("not installed", runner.ExitNotFound)
}

func (downRunner) InvokeRaw(context.Context, string, string, time.Duration) runner.Result {
	return runner.Failure("not installed", runner.ExitNotFound)
}

func (downRunner) Available() bool { return false }
func (downRunner) Name() string    { return "claude" }

func TestLoop_Run_FallbackRunnerCompletesWithWarning(t *testing.T) {
	mock := runner.NewMock(passingResponses())
	l, _ := newTestLoop(t, mock, 5)
	l.registry.RegisterInstance(runner.PlatformClaude, downRunner{})
	l.registry.SetDefaultPlatform(runner.PlatformClaude)
	l.registry.SetFallbacks([]string{runner.PlatformMock})

	st, err := l.Run(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.CurrentPhase != state.PhaseCompleted {
		t.Errorf("CurrentPhase = %s, want completed", st.CurrentPhase)
	}

	var warned bool
	for _, w := range st.Warnings {
		if strings.Contains(w, "falling back") {
			warned = true
		}
	}
	if !warned {
		t.Errorf("fallback warning missing: %v", st.Warnings)
	}

	counts := agentCalls(mock)
	for _, agent := range allAgents {
		if counts[agent] != 1 {
			t.Errorf("%s invoked %d times on the fallback, want 1", agent, counts[agent])
		}
	}
}

func TestLoop_Run_ImplementationFailureIsTerminal(t *testing.T) {
	mock := runner.NewMock(passingResponses())
	mock.ScriptResult(AgentImplementer, runner.Failure("agent crashed", 1))
	l, _ := newTestLoop(t, mock, 5)

	st, err := l.Run(context.Background(), "task-1")
	if err == nil {
		t.Fatal("expected error for failed implementation")
	}
	if st.CurrentPhase != state.PhaseFailed {
		t.Errorf("CurrentPhase = %s, want failed", st.CurrentPhase)
	}
	if !strings.Contains(st.ErrorMessage, "agent crashed") {
		t.Errorf("ErrorMessage = %q", st.ErrorMessage)
	}
	if got := len(mock.History()); got != 1 {
		t.Errorf("calls after implementation failure = %d, want 1", got)
	}
}

func TestLoop_Run_LenientGatesPassOnAgentError(t *testing.T) {
	mock := runner.NewMock(passingResponses())
	mock.ScriptResult(AgentTestCritique, runner.Failure("critique agent broke", 1))
	mock.ScriptResult(AgentCodeQuality, runner.Failure("quality agent broke", 1))
	l, _ := newTestLoop(t, mock, 5)

	st, err := l.Run(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.CurrentPhase != state.PhaseCompleted {
		t.Errorf("CurrentPhase = %s, want completed", st.CurrentPhase)
	}

	var critiqueWarn, qualityWarn bool
	for _, w := range st.Warnings {
		if strings.Contains(w, "test critique agent error") {
			critiqueWarn = true
		}
		if strings.Contains(w, "code quality agent error") {
			qualityWarn = true
		}
	}
	if !critiqueWarn || !qualityWarn {
		t.Errorf("lenient gate warnings missing: %v", st.Warnings)
	}
}

func TestLoop_Run_DoDIncompleteRetries(t *testing.T) {
	responses := passingResponses()
	responses[AgentDoD] = `{"task_complete": false, "remaining_items": ["wire the config flag"], "reasoning": "one item open"}`
	mock := runner.NewMock(responses)
	l, _ := newTestLoop(t, mock, 2)

	st, err := l.Run(context.Background(), "task-1")
	if !looperrors.Is(err, looperrors.ErrMaxIterations) {
		t.Fatalf("error should wrap ErrMaxIterations, got: %v", err)
	}
	if st.CurrentIteration != 2 {
		t.Errorf("CurrentIteration = %d, want 2", st.CurrentIteration)
	}

	counts := agentCalls(mock)
	for _, agent := range allAgents {
		if counts[agent] != 2 {
			t.Errorf("%s invoked %d times, want 2", agent, counts[agent])
		}
	}

	record := st.CurrentIterationRecord()
	if !strings.Contains(record.FixInfo, "wire the config flag") {
		t.Errorf("FixInfo = %q", record.FixInfo)
	}
}

func TestLoop_Run_SkipsUnconfiguredOptionalAgents(t *testing.T) {
	mock := runner.NewMock(passingResponses())
	l, _ := newTestLoop(t, mock, 5)

	os.Remove(filepath.Join(l.agentsDir, AgentTestCritique+".md"))
	os.Remove(filepath.Join(l.agentsDir, AgentManager+".md"))

	st, err := l.Run(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.CurrentPhase != state.PhaseCompleted {
		t.Errorf("CurrentPhase = %s, want completed", st.CurrentPhase)
	}

	counts := agentCalls(mock)
	if counts[AgentTestCritique] != 0 || counts[AgentManager] != 0 {
		t.Errorf("unconfigured agents should not be invoked: %v", counts)
	}

	var skipped []state.Phase
	for _, step := range st.CurrentIterationRecord().Steps {
		if step.Status == state.StepSkipped {
			skipped = append(skipped, step.Phase)
		}
	}
	if len(skipped) != 2 {
		t.Errorf("skipped steps = %v, want test_critique and manager", skipped)
	}
}

func TestLoop_Run_MissingDoDAgentNeverCompletes(t *testing.T) {
	mock := runner.NewMock(passingResponses())
	l, _ := newTestLoop(t, mock, 2)

	os.Remove(filepath.Join(l.agentsDir, AgentDoD+".md"))

	st, err := l.Run(context.Background(), "task-1")
	if !looperrors.Is(err, looperrors.ErrMaxIterations) {
		t.Fatalf("error should wrap ErrMaxIterations, got: %v", err)
	}
	if st.CurrentPhase != state.PhaseStopped {
		t.Errorf("CurrentPhase = %s, want stopped", st.CurrentPhase)
	}

	var warned bool
	for _, w := range st.Warnings {
		if strings.Contains(w, "cannot auto-complete") {
			warned = true
		}
	}
	if !warned {
		t.Errorf("missing completion-agent warning: %v", st.Warnings)
	}
}

func TestLoop_Run_MissingTaskArtifacts(t *testing.T) {
	mock := runner.NewMock(passingResponses())
	l, _ := newTestLoop(t, mock, 5)

	_, err := l.Run(context.Background(), "no-such-task")
	if !looperrors.Is(err, looperrors.ErrMalformedArtifacts) {
		t.Errorf("error should wrap ErrMalformedArtifacts, got: %v", err)
	}
	if len(mock.History()) != 0 {
		t.Error("no agents should run without task artifacts")
	}
}

func TestLoop_Run_CanceledContextStops(t *testing.T) {
	mock := runner.NewMock(passingResponses())
	l, _ := newTestLoop(t, mock, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st, err := l.Run(ctx, "task-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.CurrentPhase != state.PhaseStopped {
		t.Errorf("CurrentPhase = %s, want stopped", st.CurrentPhase)
	}
	if st.ErrorMessage != StopReasonInterrupted {
		t.Errorf("ErrorMessage = %q", st.ErrorMessage)
	}
	if len(mock.History()) != 0 {
		t.Error("no agents should run after cancellation")
	}
}

func TestLoop_Resume_FinishedTaskRejected(t *testing.T) {
	mock := runner.NewMock(passingResponses())
	l, store := newTestLoop(t, mock, 5)

	st, err := store.Create("task-1", "tasks/task-1.md", 5)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.MarkCompleted(st); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	_, err = l.Resume(context.Background(), "task-1")
	if !looperrors.Is(err, looperrors.ErrTaskFinished) {
		t.Errorf("error should wrap ErrTaskFinished, got: %v", err)
	}
}

func TestLoop_Resume_StoppedTaskContinues(t *testing.T) {
	mock := runner.NewMock(passingResponses())
	l, store := newTestLoop(t, mock, 5)

	st, err := store.Create("task-1", "tasks/task-1.md", 5)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	st.StartIteration()
	if err := store.MarkStopped(st, StopReasonInterrupted); err != nil {
		t.Fatalf("MarkStopped: %v", err)
	}

	resumed, err := l.Resume(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.CurrentPhase != state.PhaseCompleted {
		t.Errorf("CurrentPhase = %s, want completed", resumed.CurrentPhase)
	}
	// The interrupted iteration counts against the budget.
	if resumed.CurrentIteration != 2 {
		t.Errorf("CurrentIteration = %d, want 2", resumed.CurrentIteration)
	}
}

func TestLoop_Resume_MidIterationContinuesFromPersistedPhase(t *testing.T) {
	mock := runner.NewMock(passingResponses())
	l, store := newTestLoop(t, mock, 5)

	// A run that died during QA: implementation and critique already done,
	// phase persisted as qa, iteration 1 still open.
	st, err := store.Create("task-1", "tasks/task-1.md", 5)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	st.StartIteration()
	st.RecordStep(state.PhaseImplementation, state.StepCompleted, "", "implemented")
	st.RecordStep(state.PhaseTestCritique, state.StepCompleted, "", "score A")
	st.CurrentPhase = state.PhaseQA
	if err := store.Save(st); err != nil {
		t.Fatalf("Save: %v", err)
	}

	resumed, err := l.Resume(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.CurrentPhase != state.PhaseCompleted {
		t.Errorf("CurrentPhase = %s, want completed", resumed.CurrentPhase)
	}
	// Continuing the open iteration must not advance the counter.
	if resumed.CurrentIteration != 1 {
		t.Errorf("CurrentIteration = %d, want 1", resumed.CurrentIteration)
	}

	counts := agentCalls(mock)
	if counts[AgentImplementer] != 0 || counts[AgentTestCritique] != 0 {
		t.Errorf("completed phases re-ran: implementer=%d critique=%d",
			counts[AgentImplementer], counts[AgentTestCritique])
	}
	for _, agent := range []string{AgentQA, AgentCodeQuality, AgentManager, AgentDoD} {
		if counts[agent] != 1 {
			t.Errorf("%s invoked %d times, want 1", agent, counts[agent])
		}
	}
}

func TestLoop_Run_AuthFailureHaltsImmediately(t *testing.T) {
	mock := runner.NewMock(passingResponses())
	mock.ScriptResult(AgentQA, runner.Failure("API Error: 401 Unauthorized · Please run /login", 1))
	l, _ := newTestLoop(t, mock, 5)

	st, err := l.Run(context.Background(), "task-1")
	if !looperrors.Is(err, looperrors.ErrAuthFailed) {
		t.Fatalf("error should wrap ErrAuthFailed, got: %v", err)
	}
	if st.CurrentPhase != state.PhaseFailed {
		t.Errorf("CurrentPhase = %s, want failed", st.CurrentPhase)
	}
	if !strings.Contains(st.ErrorMessage, "re-authenticate") {
		t.Errorf("ErrorMessage should tell the operator what to do: %q", st.ErrorMessage)
	}

	// The rejection must not burn the retry budget.
	if counts := agentCalls(mock); counts[AgentImplementer] != 1 {
		t.Errorf("implementer invoked %d times, want 1", counts[AgentImplementer])
	}
}

func TestLoop_Run_AuthFailureInLenientGateStillHalts(t *testing.T) {
	mock := runner.NewMock(passingResponses())
	mock.ScriptResult(AgentTestCritique, runner.Failure("you are not logged in, run /login", 1))
	l, _ := newTestLoop(t, mock, 5)

	st, err := l.Run(context.Background(), "task-1")
	if !looperrors.Is(err, looperrors.ErrAuthFailed) {
		t.Fatalf("error should wrap ErrAuthFailed, got: %v", err)
	}
	if st.CurrentPhase != state.PhaseFailed {
		t.Errorf("CurrentPhase = %s, want failed", st.CurrentPhase)
	}
	if counts := agentCalls(mock); counts[AgentQA] != 0 {
		t.Error("credential rejection must not pass the gate leniently")
	}
}

func TestLoop_Run_ReplacesPreviousState(t *testing.T) {
	mock := runner.NewMock(passingResponses())
	l, store := newTestLoop(t, mock, 5)

	if _, err := l.Run(context.Background(), "task-1"); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	st, err := l.Run(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if st.CurrentIteration != 1 {
		t.Errorf("fresh run iteration = %d, want 1", st.CurrentIteration)
	}

	loaded, err := store.Load("task-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.RunID != st.RunID {
		t.Error("persisted state should belong to the fresh run")
	}
}
