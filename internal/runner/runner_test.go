package runner

import (
	"strings"
	"testing"
)

func TestAgentNameFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/agents/execution_implementer.md", "execution-implementer"},
		{".claude/agents/execution-qa.md", "execution-qa"},
		{"execution_dod.md", "execution-dod"},
	}

	for _, tt := range tests {
		if got := AgentNameFromPath(tt.path); got != tt.want {
			t.Errorf("AgentNameFromPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestAppendContext(t *testing.T) {
	t.Run("no context passes through", func(t *testing.T) {
		if got := appendContext("do the task", nil); got != "do the task" {
			t.Errorf("appendContext = %q", got)
		}
	})

	t.Run("context renders as json block", func(t *testing.T) {
		got := appendContext("do the task", map[string]any{"iteration": 3})
		if !strings.Contains(got, "## Context") {
			t.Error("missing Context heading")
		}
		if !strings.Contains(got, "```json") {
			t.Error("missing json fence")
		}
		if !strings.Contains(got, `"iteration": 3`) {
			t.Errorf("missing context value: %q", got)
		}
		if !strings.HasPrefix(got, "do the task") {
			t.Error("prompt should lead the output")
		}
	})
}

func TestFailure(t *testing.T) {
	r := Failure("command timed out after 5m0s", ExitTimeout)
	if r.Success {
		t.Error("Failure should not be successful")
	}
	if r.ExitCode != 124 {
		t.Errorf("ExitCode = %d, want 124", r.ExitCode)
	}
	if r.Output != "" {
		t.Errorf("Output = %q, want empty", r.Output)
	}
}

func TestSuccess_InfersTotalTokens(t *testing.T) {
	usage := TokenUsage{UsageInput: 100, UsageOutput: 50}
	r := Success("done", nil, usage)
	if !r.Success {
		t.Error("Success should be successful")
	}
	if r.TokensUsed != 150 {
		t.Errorf("TokensUsed = %d, want 150", r.TokensUsed)
	}
}

func TestBuildEmbeddedPrompt(t *testing.T) {
	t.Run("prelude separated by rule", func(t *testing.T) {
		got := buildEmbeddedPrompt("fix the bug", nil, "You are a reviewer.", "## Skill: tdd\n\nWrite tests first.")
		wantOrder := []string{"You are a reviewer.", "## Skill: tdd", "---", "fix the bug"}
		last := -1
		for _, part := range wantOrder {
			idx := strings.Index(got, part)
			if idx < 0 {
				t.Fatalf("missing %q in prompt:\n%s", part, got)
			}
			if idx < last {
				t.Fatalf("%q out of order in prompt:\n%s", part, got)
			}
			last = idx
		}
	})

	t.Run("no prelude means no rule", func(t *testing.T) {
		got := buildEmbeddedPrompt("fix the bug", nil, "", "")
		if got != "fix the bug" {
			t.Errorf("buildEmbeddedPrompt = %q", got)
		}
	})

	t.Run("context appended after prompt", func(t *testing.T) {
		got := buildEmbeddedPrompt("fix the bug", map[string]any{"attempt": 2}, "system", "")
		if !strings.Contains(got, "## Context") {
			t.Error("missing context block")
		}
		if strings.Index(got, "fix the bug") > strings.Index(got, "## Context") {
			t.Error("context should follow the prompt")
		}
	})
}
