// Package runner abstracts the CLI coding agents the loop drives.
//
// Each backend wraps one external command line tool as a subprocess. The
// interface is deliberately narrow so the orchestration layer stays agnostic
// to which vendor executes a phase: invoke an agent, invoke a raw prompt,
// report availability, report a name. Backends differ in how agent
// definitions reach the model. Some support them natively by name, others
// need the definition embedded into the prompt; those differences live
// entirely inside each implementation.
package runner

import (
	"context"
	"encoding/json"
	"time"
)

// Exit codes a Result carries for process-level failures, mirroring the
// shell conventions for timeout and missing executables.
const (
	ExitTimeout  = 124
	ExitNotFound = 127
)

// Invocation describes one agent run: which agent definition to use, the
// task prompt, and optional structured context appended as a JSON block.
type Invocation struct {
	// AgentSpecPath points at the agent definition markdown file. The
	// file name (minus extension, underscores mapped to hyphens) is the
	// agent name for backends with native agent support.
	AgentSpecPath string

	// Prompt is the task instruction for this phase.
	Prompt string

	// Context carries structured data rendered into the prompt as a
	// fenced JSON block under a "## Context" heading.
	Context map[string]any

	// Model overrides the backend's configured model for this invocation.
	// Empty means the backend default.
	Model string

	// Timeout bounds the subprocess. Zero means the backend default.
	Timeout time.Duration
}

// Result is the outcome of one backend invocation.
type Result struct {
	Success    bool
	Output     string
	Structured map[string]any
	Error      string
	TokensUsed int
	TokenUsage TokenUsage
	ExitCode   int
}

// Runner is a CLI agent backend.
type Runner interface {
	// Invoke runs an agent definition against a prompt. Errors surface
	// in the Result rather than as a second return value so callers
	// always get whatever partial output the subprocess produced.
	Invoke(ctx context.Context, inv Invocation) Result

	// InvokeRaw runs a bare prompt with an optional system prompt and no
	// agent definition.
	InvokeRaw(ctx context.Context, prompt, systemPrompt string, timeout time.Duration) Result

	// Available reports whether the backend's executable is installed
	// and usable. It must never panic; a broken installation is false.
	Available() bool

	// Name identifies the backend for logs and state records.
	Name() string
}

// Failure builds a failed Result with no output.
func Failure(errMsg string, exitCode int) Result {
	return Result{
		Success:  false,
		Error:    errMsg,
		ExitCode: exitCode,
	}
}

// Success builds a successful Result, inferring the token total from the
// usage map when no explicit total is known.
func Success(output string, structured map[string]any, usage TokenUsage) Result {
	return Result{
		Success:    true,
		Output:     output,
		Structured: structured,
		TokensUsed: usage.Total(),
		TokenUsage: usage,
	}
}

// appendContext renders structured context onto a prompt as a fenced JSON
// block. The prompt passes through unchanged when context is empty.
func appendContext(prompt string, context map[string]any) string {
	if len(context) == 0 {
		return prompt
	}

	encoded, err := json.MarshalIndent(context, "", "  ")
	if err != nil {
		return prompt
	}

	return prompt + "\n\n## Context\n\n```json\n" + string(encoded) + "\n```"
}
