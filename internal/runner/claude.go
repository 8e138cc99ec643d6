package runner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/agentloop/agentloop/internal/extract"
)

// Styles for streamed model output. Model text is distinguishable from
// tool call chatter so a human watching a run can follow the reasoning.
var (
	streamTextStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	streamToolStyle = lipgloss.NewStyle().Faint(true)
	streamErrStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
)

// Claude runs agents through the claude CLI. It is the only backend with
// native agent definitions: invocations pass the agent by name and the CLI
// loads the definition, model, and tool allowlist from its frontmatter.
type Claude struct {
	model           string
	workingDir      string
	allowedTools    []string
	skipPermissions bool
	streamOutput    bool
	defaultTimeout  time.Duration
}

// ClaudeOptions configures a Claude backend.
type ClaudeOptions struct {
	Model           string
	WorkingDir      string
	AllowedTools    []string
	SkipPermissions bool
	StreamOutput    bool
	Timeout         time.Duration
}

// NewClaude constructs the claude CLI backend.
func NewClaude(opts ClaudeOptions) *Claude {
	return &Claude{
		model:           opts.Model,
		workingDir:      opts.WorkingDir,
		allowedTools:    opts.AllowedTools,
		skipPermissions: opts.SkipPermissions,
		streamOutput:    opts.StreamOutput,
		defaultTimeout:  opts.Timeout,
	}
}

func (c *Claude) Name() string {
	if c.model != "" {
		return fmt.Sprintf("claude-cli (%s)", c.model)
	}
	return "claude-cli"
}

func (c *Claude) Available() bool {
	return commandAvailable("claude")
}

// Invoke runs a native agent by name. Model and tool allowlist come from
// the agent frontmatter, so the command carries only the agent flag unless
// the invocation pins a model.
func (c *Claude) Invoke(ctx context.Context, inv Invocation) Result {
	return c.execute(ctx, c.agentArgs(inv), c.timeout(inv.Timeout))
}

// InvokeRaw runs a bare prompt with the configured model.
func (c *Claude) InvokeRaw(ctx context.Context, prompt, systemPrompt string, timeout time.Duration) Result {
	return c.execute(ctx, c.rawArgs(prompt, systemPrompt), c.timeout(timeout))
}

func (c *Claude) agentArgs(inv Invocation) []string {
	agentName := AgentNameFromPath(inv.AgentSpecPath)
	prompt := appendContext(inv.Prompt, inv.Context)

	args := []string{"--print", "--agent", agentName}
	if inv.Model != "" {
		args = append(args, "--model", inv.Model)
	}
	if c.skipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	return append(args, prompt)
}

func (c *Claude) rawArgs(prompt, systemPrompt string) []string {
	args := []string{"--print"}
	if c.model != "" {
		args = append(args, "--model", c.model)
	}
	if systemPrompt != "" {
		args = append(args, "--system-prompt", systemPrompt)
	}
	if len(c.allowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(c.allowedTools, ","))
	}
	if c.skipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	return append(args, prompt)
}

func (c *Claude) timeout(requested time.Duration) time.Duration {
	if requested > 0 {
		return requested
	}
	return c.defaultTimeout
}

func (c *Claude) execute(ctx context.Context, args []string, timeout time.Duration) Result {
	if c.streamOutput {
		return c.executeStreaming(ctx, args, timeout)
	}

	jsonArgs := append(append([]string{}, args...), "--output-format", "json")

	outcome, failed := runCommand(ctx, c.workingDir, "", "claude", jsonArgs, timeout)
	if failed != nil {
		return *failed
	}
	if outcome.exitCode != 0 {
		return failureFromOutcome(outcome)
	}

	text, usage, isError := parseResultEnvelope(outcome.stdout)
	if isError {
		errMsg := strings.TrimSpace(text)
		if errMsg == "" {
			errMsg = "claude reported an error"
		}
		return Result{Success: false, Output: text, Error: errMsg, ExitCode: 1}
	}
	return Success(text, extract.FirstJSON(text), usage)
}

// parseResultEnvelope unpacks the single-object envelope emitted by
// --output-format json: the assistant text lives under "result" and token
// accounting under "usage". Output that is not an envelope, such as stdout
// from an older CLI, passes through untouched.
func parseResultEnvelope(stdout string) (text string, usage TokenUsage, isError bool) {
	var env struct {
		Type    string         `json:"type"`
		Result  string         `json:"result"`
		IsError bool           `json:"is_error"`
		Usage   map[string]any `json:"usage"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(stdout)), &env); err != nil || env.Type != "result" {
		return stdout, nil, false
	}
	if env.Usage != nil {
		usage = NormalizeTokenUsage(env.Usage)
	}
	return env.Result, usage, env.IsError
}

// executeStreaming runs the CLI in stream-json mode, echoing model text to
// the terminal as it arrives while accumulating it for the Result.
func (c *Claude) executeStreaming(ctx context.Context, args []string, timeout time.Duration) Result {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	streamArgs := append(append([]string{}, args...),
		"--output-format", "stream-json", "--include-partial-messages")

	cmd := exec.CommandContext(ctx, "claude", streamArgs...)
	cmd.Dir = c.workingDir

	// Same process-group treatment as runCommand: a timeout must take down
	// any children the CLI spawned, or they hold the stdout pipe open and
	// Wait never returns.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Failure(err.Error(), 1)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return Failure("claude CLI not found, is it installed?", ExitNotFound)
		}
		return Failure(err.Error(), 1)
	}

	var collected strings.Builder
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var event map[string]any
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			fmt.Println(line)
			continue
		}
		handleStreamEvent(event, &collected)
	}

	waitErr := cmd.Wait()

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return Failure(fmt.Sprintf("command timed out after %s", timeout), ExitTimeout)
	case errors.Is(ctx.Err(), context.Canceled):
		return Failure("command canceled", 1)
	}

	output := collected.String()
	if waitErr != nil {
		errMsg := strings.TrimSpace(stderr.String())
		exitCode := 1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		if errMsg == "" {
			errMsg = fmt.Sprintf("exit code: %d", exitCode)
		}
		return Result{Success: false, Output: output, Error: errMsg, ExitCode: exitCode}
	}

	return Success(output, extract.FirstJSON(output), nil)
}

// handleStreamEvent renders one NDJSON stream event and accumulates model
// text deltas into collected.
func handleStreamEvent(event map[string]any, collected *strings.Builder) {
	switch event["type"] {
	case "stream_event":
		inner, ok := event["event"].(map[string]any)
		if !ok {
			return
		}
		if inner["type"] != "content_block_delta" {
			return
		}
		delta, ok := inner["delta"].(map[string]any)
		if !ok {
			return
		}
		switch delta["type"] {
		case "text_delta":
			if text, ok := delta["text"].(string); ok {
				fmt.Print(streamTextStyle.Render(text))
				collected.WriteString(text)
			}
		}

	case "user":
		// Tool results surface stderr so failures are visible mid-run.
		if result, ok := event["tool_use_result"].(map[string]any); ok {
			if errText, ok := result["stderr"].(string); ok && errText != "" {
				fmt.Println(streamToolStyle.Render("  ⚠ " + truncate(errText, 100)))
			}
		}

	case "error":
		msg := "unknown error"
		if errObj, ok := event["error"].(map[string]any); ok {
			if m, ok := errObj["message"].(string); ok {
				msg = m
			}
		}
		fmt.Fprintln(os.Stderr, streamErrStyle.Render("✗ "+msg))
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
