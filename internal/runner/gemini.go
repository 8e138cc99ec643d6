package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/agentloop/agentloop/internal/changes"
	"github.com/agentloop/agentloop/internal/extract"
)

// Gemini runs agents through the gemini CLI. Like codex it lacks native
// agent definitions; the definition body is prepended to the prompt as
// system instructions. The CLI runs non-interactively with tool calls
// auto-accepted, so a tree tracker records what it actually edited.
type Gemini struct {
	model          string
	workingDir     string
	sandbox        bool
	defaultTimeout time.Duration
}

// GeminiOptions configures a Gemini backend.
type GeminiOptions struct {
	Model      string
	WorkingDir string
	Sandbox    bool
	Timeout    time.Duration
}

// NewGemini constructs the gemini CLI backend.
func NewGemini(opts GeminiOptions) *Gemini {
	return &Gemini{
		model:          opts.Model,
		workingDir:     opts.WorkingDir,
		sandbox:        opts.Sandbox,
		defaultTimeout: opts.Timeout,
	}
}

func (g *Gemini) Name() string {
	if g.model != "" {
		return fmt.Sprintf("gemini-cli (%s)", g.model)
	}
	return "gemini-cli"
}

func (g *Gemini) Available() bool {
	return commandAvailable("gemini")
}

func (g *Gemini) Invoke(ctx context.Context, inv Invocation) Result {
	systemPrompt := systemPromptFromSpec(inv.AgentSpecPath)
	prompt := appendContext(inv.Prompt, inv.Context)
	return g.run(ctx, prompt, systemPrompt, g.modelFor(inv.Model), g.timeout(inv.Timeout))
}

func (g *Gemini) InvokeRaw(ctx context.Context, prompt, systemPrompt string, timeout time.Duration) Result {
	return g.run(ctx, prompt, systemPrompt, g.model, g.timeout(timeout))
}

func (g *Gemini) modelFor(override string) string {
	if override != "" {
		return override
	}
	return g.model
}

func (g *Gemini) timeout(requested time.Duration) time.Duration {
	if requested > 0 {
		return requested
	}
	return g.defaultTimeout
}

func (g *Gemini) run(ctx context.Context, prompt, systemPrompt, model string, timeout time.Duration) Result {
	tracker := changes.NewTracker(g.workingDir)
	if err := tracker.Begin(); err != nil {
		return Failure(fmt.Sprintf("snapshotting working tree: %v", err), 1)
	}

	args := []string{}
	if model != "" {
		args = append(args, "--model", model)
	}
	if g.sandbox {
		args = append(args, "--sandbox")
	}
	args = append(args, "--yolo")

	full := prompt
	if systemPrompt != "" {
		full = systemPrompt + "\n\n---\n\n" + prompt
	}
	args = append(args, "-p", full)

	outcome, failed := runCommand(ctx, g.workingDir, "", "gemini", args, timeout)
	if failed != nil {
		return *failed
	}
	if outcome.exitCode != 0 {
		return failureFromOutcome(outcome)
	}

	structured := extract.FirstJSON(outcome.stdout)

	set, diffErr := tracker.Diff()
	if diffErr == nil && !set.Empty() {
		if structured == nil {
			structured = map[string]any{}
		}
		structured["files_changed"] = set.Changed
		structured["files_added"] = set.Added
		if len(set.Deleted) > 0 {
			structured["files_deleted"] = set.Deleted
		}
	}

	return Success(outcome.stdout, structured, nil)
}
