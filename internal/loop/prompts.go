package loop

import (
	"fmt"
	"strings"

	"github.com/agentloop/agentloop/internal/state"
)

// Agent role names. Each maps to a definition file in the agents directory,
// optionally suffixed with a configured variant.
const (
	AgentImplementer  = "execution-implementer"
	AgentTestCritique = "execution-test-critique"
	AgentQA           = "execution-qa"
	AgentCodeQuality  = "execution-code-quality"
	AgentManager      = "execution-manager"
	AgentDoD          = "execution-dod"
)

// implementationPrompt builds the implementer's instruction. Retry
// iterations switch to fix mode, scoped to the issues the gates reported;
// first iterations get the full test-first development cycle.
func implementationPrompt(st *state.ExecutionState) string {
	parts := []string{
		fmt.Sprintf("Implement task: %s", st.TaskID),
		fmt.Sprintf("Task path: %s", st.TaskPath),
		fmt.Sprintf("Iteration: %d", st.CurrentIteration),
		"",
	}

	if fixInfo := contextString(st, "fix_info"); fixInfo != "" {
		parts = append(parts,
			"## Fix Mode",
			"",
			"Previous iteration failed. Focus on fixing these issues:",
			"",
			fixInfo,
			"",
			"Run tests after each fix to verify progress.",
		)
	} else {
		parts = append(parts,
			"## Test-First Development Cycle",
			"",
			"Follow the test-first approach:",
			"",
			"### Phase 1: Interfaces",
			fmt.Sprintf("- Read API contracts at `%s/api-contracts/`", st.TaskPath),
			"- Define the types and interfaces the contracts describe",
			"",
			"### Phase 2: Tests (Red)",
			fmt.Sprintf("- Read test specs at `%s/test-specs/`", st.TaskPath),
			"- Write tests based on the specs",
			"- Tests WILL fail initially (this is expected)",
			"",
			"### Phase 3: Implementation (Green)",
			"- Implement code to make all tests pass",
			"- Run tests after implementation to verify",
			"",
			"Read the task artifacts and follow the cycle strictly.",
		)
	}

	// File changes are captured by the runner's tree diff, so the agent is
	// never asked to self-report them.
	return strings.Join(parts, "\n")
}

// testCritiquePrompt builds the hollow-test analysis instruction, scoped to
// the test files touched this iteration when any are known.
func testCritiquePrompt(st *state.ExecutionState, files []string) string {
	var testFiles []string
	for _, f := range files {
		if strings.Contains(strings.ToLower(f), "test") {
			testFiles = append(testFiles, f)
		}
	}

	parts := []string{
		fmt.Sprintf("Analyze test quality for task: %s", st.TaskID),
		fmt.Sprintf("Task path: %s", st.TaskPath),
		fmt.Sprintf("Iteration: %d", st.CurrentIteration),
		"",
	}

	if len(testFiles) > 0 {
		parts = append(parts, "Test files to analyze (from this iteration):")
		for _, f := range testFiles {
			parts = append(parts, "  - "+f)
		}
	} else {
		parts = append(parts, "No specific test files identified. Search for test files in the project.")
	}

	parts = append(parts,
		"",
		"Analyze tests for hollow patterns:",
		"- Over-mocking (>3 mocks per test)",
		"- Mocking the system under test",
		"- Placeholder tests with no real body",
		"- Assertions that only check mock calls, not outcomes",
		"",
		"Score A/B/C = proceed, D/F = block QA (tests are hollow)",
		"",
		`Return JSON: {"critique_passed": true/false, "test_quality_score": "A-F", "fix_info": "..."}`,
	)

	return strings.Join(parts, "\n")
}

// qaPrompt builds the acceptance verification instruction.
func qaPrompt(st *state.ExecutionState) string {
	parts := []string{
		fmt.Sprintf("Verify the implementation for task: %s", st.TaskID),
		fmt.Sprintf("Task path: %s", st.TaskPath),
		"",
		"Check that:",
		"1. The implementation matches the task requirements",
		"2. All acceptance criteria are met",
		"3. Tests pass (if applicable)",
		"",
		`Return a JSON with: {"dod_achieved": true/false, "fix_info": "..." if not achieved}`,
	}
	return strings.Join(parts, "\n")
}

// codeQualityPrompt builds the lint and complexity analysis instruction,
// scoped to the files touched this iteration when any are known.
func codeQualityPrompt(st *state.ExecutionState, files []string) string {
	parts := []string{
		fmt.Sprintf("Analyze code quality for task: %s", st.TaskID),
		fmt.Sprintf("Task path: %s", st.TaskPath),
		fmt.Sprintf("Iteration: %d", st.CurrentIteration),
		"",
	}

	if len(files) > 0 {
		parts = append(parts, "Files to analyze:")
		for _, f := range files {
			parts = append(parts, "  - "+f)
		}
	} else {
		parts = append(parts, "No specific files provided. Analyze recent changes in the task directory.")
	}

	parts = append(parts,
		"",
		"Run the project's quality tools (linters, type checks, complexity analysis) on these files.",
		"Filter false positives and pre-existing issues.",
		"Only fail for genuine problems in the changed code.",
		"",
		`Return JSON: {"quality_passed": true/false, "fix_info": "..." if failed}`,
	)

	return strings.Join(parts, "\n")
}

// managerPrompt builds the artifact bookkeeping instruction.
func managerPrompt(st *state.ExecutionState) string {
	parts := []string{
		fmt.Sprintf("Update task artifacts after iteration %d for: %s", st.CurrentIteration, st.TaskID),
		fmt.Sprintf("Task path: %s", st.TaskPath),
		"",
		"Your job:",
		fmt.Sprintf("1. Read the user stories at %s/user-stories/", st.TaskPath),
		fmt.Sprintf("2. Read the implementation plan at %s/implementation-plan/", st.TaskPath),
		"3. Based on what was implemented this iteration, update:",
		"   - Mark completed acceptance criteria with [x]",
		"   - Update user story status if all criteria are met",
		"   - Mark completed phases in the implementation plan",
		"",
		"Only mark items as done that are actually implemented.",
		"Be conservative - if unsure, leave it as pending.",
		"",
		`Return JSON: {"status": "success", "updates_made": [...], "items_completed": [...]}`,
	}
	return strings.Join(parts, "\n")
}

// dodPrompt builds the completion gate instruction.
func dodPrompt(st *state.ExecutionState) string {
	parts := []string{
		fmt.Sprintf("Verify if task is COMPLETE: %s", st.TaskID),
		fmt.Sprintf("Task path: %s", st.TaskPath),
		fmt.Sprintf("Iterations completed: %d", st.CurrentIteration),
		"",
		"CRITICAL: You must actually read and verify the task artifacts.",
		"",
		"Steps:",
		"1. Read task-description.md for the overall goals",
		"2. Read ALL user stories in user-stories/",
		"   - Count total acceptance criteria",
		"   - Count how many are marked [x] done",
		"3. Read implementation-plan/ phases",
		"   - Check if all phases are marked complete",
		"",
		"Task is COMPLETE only if:",
		"- ALL user stories have status 'Done'",
		"- ALL acceptance criteria are checked [x]",
		"- ALL implementation phases are complete",
		"",
		"Task is NOT complete if ANY work remains.",
		"",
		`Return JSON: {"task_complete": true/false, "remaining_items": [...], "reasoning": "..."}`,
	}
	return strings.Join(parts, "\n")
}

// contextString reads a string value from the execution state's context bag.
func contextString(st *state.ExecutionState, key string) string {
	if st.Context == nil {
		return ""
	}
	if v, ok := st.Context[key].(string); ok {
		return v
	}
	return ""
}
