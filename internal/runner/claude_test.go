package runner

import (
	"reflect"
	"testing"
)

func TestParseResultEnvelope(t *testing.T) {
	t.Run("result envelope", func(t *testing.T) {
		stdout := `{"type":"result","subtype":"success","is_error":false,` +
			`"result":"{\"dod_achieved\": true}",` +
			`"usage":{"input_tokens":1200,"output_tokens":340,"cache_read_input_tokens":8000}}`

		text, usage, isError := parseResultEnvelope(stdout)
		if isError {
			t.Error("is_error should be false")
		}
		if text != `{"dod_achieved": true}` {
			t.Errorf("text = %q", text)
		}
		if usage[UsageInput] != 1200 || usage[UsageOutput] != 340 {
			t.Errorf("usage = %v", usage)
		}
		if usage[UsageCacheRead] != 8000 {
			t.Errorf("cache reads not normalized: %v", usage)
		}
	})

	t.Run("error envelope", func(t *testing.T) {
		stdout := `{"type":"result","is_error":true,"result":"Invalid API key"}`
		text, _, isError := parseResultEnvelope(stdout)
		if !isError {
			t.Error("is_error should be true")
		}
		if text != "Invalid API key" {
			t.Errorf("text = %q", text)
		}
	})

	t.Run("plain output passes through", func(t *testing.T) {
		text, usage, isError := parseResultEnvelope("just some text output")
		if text != "just some text output" || usage != nil || isError {
			t.Errorf("passthrough = %q, %v, %v", text, usage, isError)
		}
	})

	t.Run("non-result json passes through", func(t *testing.T) {
		stdout := `{"type":"message","content":"hi"}`
		text, _, _ := parseResultEnvelope(stdout)
		if text != stdout {
			t.Errorf("text = %q", text)
		}
	})
}

func TestClaude_AgentArgs(t *testing.T) {
	c := NewClaude(ClaudeOptions{Model: "sonnet", SkipPermissions: true})

	args := c.agentArgs(Invocation{
		AgentSpecPath: "agents/execution_qa.md",
		Prompt:        "verify",
	})
	want := []string{"--print", "--agent", "execution-qa", "--dangerously-skip-permissions", "verify"}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("args = %v, want %v", args, want)
	}

	args = c.agentArgs(Invocation{
		AgentSpecPath: "agents/execution-qa.md",
		Prompt:        "verify",
		Model:         "opus",
	})
	want = []string{"--print", "--agent", "execution-qa", "--model", "opus", "--dangerously-skip-permissions", "verify"}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("args with model override = %v, want %v", args, want)
	}
}

func TestClaude_RawArgs(t *testing.T) {
	t.Run("with model", func(t *testing.T) {
		c := NewClaude(ClaudeOptions{Model: "sonnet"})
		args := c.rawArgs("do it", "be brief")
		want := []string{"--print", "--model", "sonnet", "--system-prompt", "be brief", "do it"}
		if !reflect.DeepEqual(args, want) {
			t.Errorf("args = %v, want %v", args, want)
		}
	})

	t.Run("empty model omits the flag", func(t *testing.T) {
		c := NewClaude(ClaudeOptions{})
		args := c.rawArgs("do it", "")
		want := []string{"--print", "do it"}
		if !reflect.DeepEqual(args, want) {
			t.Errorf("args = %v, want %v", args, want)
		}
	})
}
