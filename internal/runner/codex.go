package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/agentloop/agentloop/internal/changes"
	"github.com/agentloop/agentloop/internal/extract"
)

// Codex runs agents through the codex CLI. The CLI has no native agent
// definitions, so the definition body and any referenced skills are embedded
// into the prompt. Because codex reports its edits unreliably, a filesystem
// tracker diffs the working tree around each run and records the touched
// files in the structured output.
type Codex struct {
	model             string
	workingDir        string
	skillsDir         string
	sandbox           string
	dangerouslyBypass bool
	defaultTimeout    time.Duration
}

// CodexOptions configures a Codex backend.
type CodexOptions struct {
	Model             string
	WorkingDir        string
	SkillsDir         string
	Sandbox           string
	DangerouslyBypass bool
	Timeout           time.Duration
}

// NewCodex constructs the codex CLI backend.
func NewCodex(opts CodexOptions) *Codex {
	return &Codex{
		model:             opts.Model,
		workingDir:        opts.WorkingDir,
		skillsDir:         opts.SkillsDir,
		sandbox:           opts.Sandbox,
		dangerouslyBypass: opts.DangerouslyBypass,
		defaultTimeout:    opts.Timeout,
	}
}

func (c *Codex) Name() string {
	if c.model != "" {
		return fmt.Sprintf("codex-cli (%s)", c.model)
	}
	return "codex-cli"
}

func (c *Codex) Available() bool {
	return commandAvailable("codex")
}

// Invoke embeds the agent definition and skills into the prompt, then runs
// the assembled prompt.
func (c *Codex) Invoke(ctx context.Context, inv Invocation) Result {
	systemPrompt := systemPromptFromSpec(inv.AgentSpecPath)
	skillsPrompt := skillsPromptFromSpec(inv.AgentSpecPath, c.skillsDir)
	prompt := buildEmbeddedPrompt(inv.Prompt, inv.Context, systemPrompt, skillsPrompt)
	return c.run(ctx, prompt, c.modelFor(inv.Model), c.timeout(inv.Timeout))
}

func (c *Codex) InvokeRaw(ctx context.Context, prompt, systemPrompt string, timeout time.Duration) Result {
	full := buildEmbeddedPrompt(prompt, nil, systemPrompt, "")
	return c.run(ctx, full, c.model, c.timeout(timeout))
}

func (c *Codex) modelFor(override string) string {
	if override != "" {
		return override
	}
	return c.model
}

func (c *Codex) timeout(requested time.Duration) time.Duration {
	if requested > 0 {
		return requested
	}
	return c.defaultTimeout
}

func (c *Codex) run(ctx context.Context, prompt, model string, timeout time.Duration) Result {
	tracker := changes.NewTracker(c.workingDir)
	if err := tracker.Begin(); err != nil {
		return Failure(fmt.Sprintf("snapshotting working tree: %v", err), 1)
	}

	outputFile, err := os.CreateTemp("", "codex-last-message-*")
	if err != nil {
		return Failure(fmt.Sprintf("creating output file: %v", err), 1)
	}
	outputPath := outputFile.Name()
	outputFile.Close()
	defer os.Remove(outputPath)

	args := c.buildArgs(outputPath, model)

	outcome, failed := runCommand(ctx, c.workingDir, prompt, "codex", args, timeout)
	if failed != nil {
		return *failed
	}
	if outcome.exitCode != 0 {
		return failureFromOutcome(outcome)
	}

	// The last-message file holds the final assistant turn, which is a
	// cleaner extraction source than the full transcript on stdout.
	textOutput := outcome.stdout
	if data, err := os.ReadFile(outputPath); err == nil && strings.TrimSpace(string(data)) != "" {
		textOutput = string(data)
	}

	structured := extract.FirstJSON(textOutput)
	if structured == nil {
		structured = map[string]any{}
	}

	usage := c.extractTokenUsage(textOutput, structured, outcome.stdout)
	if usage == nil {
		usage = c.usageFromSessionLogs()
	}

	set, diffErr := tracker.Diff()
	if diffErr == nil && !set.Empty() {
		structured["files_changed"] = set.Changed
		structured["files_added"] = set.Added
		if len(set.Deleted) > 0 {
			structured["files_deleted"] = set.Deleted
		}
	}

	if len(structured) == 0 {
		structured = nil
	}
	return Success(textOutput, structured, usage)
}

func (c *Codex) buildArgs(outputPath, model string) []string {
	args := []string{
		"exec",
		"-", // prompt arrives on stdin
		"--output-last-message", outputPath,
		"--color", "never",
		"--cd", c.workingDir,
		"--skip-git-repo-check",
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	if c.dangerouslyBypass {
		args = append(args, "--dangerously-bypass-approvals-and-sandbox")
	} else if c.sandbox != "" {
		args = append(args, "--sandbox", c.sandbox)
	}
	return args
}

// extractTokenUsage gathers usage candidates from the structured record,
// the raw stdout (JSON or JSONL), and the final message, taking the last
// candidate seen as the most current accounting.
func (c *Codex) extractTokenUsage(textOutput string, structured map[string]any, rawStdout string) TokenUsage {
	var candidates []map[string]any

	if structured != nil {
		collectUsageCandidates(structured, &candidates)
	}
	for _, payload := range parseJSONPayloads(rawStdout) {
		collectUsageCandidates(payload, &candidates)
	}
	if textOutput != "" && textOutput != rawStdout {
		for _, payload := range parseJSONPayloads(textOutput) {
			collectUsageCandidates(payload, &candidates)
		}
	}

	if len(candidates) == 0 {
		return nil
	}
	return NormalizeTokenUsage(candidates[len(candidates)-1])
}

// parseJSONPayloads decodes a string as a single JSON document, then as
// JSONL line by line, then via block extraction as a last resort.
func parseJSONPayloads(text string) []any {
	var payloads []any
	stripped := strings.TrimSpace(text)
	if stripped == "" {
		return payloads
	}

	var whole any
	if err := json.Unmarshal([]byte(stripped), &whole); err == nil {
		return append(payloads, whole)
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var payload any
		if err := json.Unmarshal([]byte(line), &payload); err == nil {
			payloads = append(payloads, payload)
		}
	}

	if record := extract.FirstJSON(text); record != nil {
		payloads = append(payloads, record)
	}
	return payloads
}

// usageFromSessionLogs is a best-effort fallback that scans the tail of the
// newest codex session log for usage records.
func (c *Codex) usageFromSessionLogs() TokenUsage {
	codexHome := os.Getenv("CODEX_HOME")
	if codexHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		codexHome = filepath.Join(home, ".codex")
	}

	sessionsDir := filepath.Join(codexHome, "sessions")
	latest := newestSessionLog(sessionsDir)
	if latest == "" {
		return nil
	}

	data, err := os.ReadFile(latest)
	if err != nil {
		return nil
	}

	lines := strings.Split(string(data), "\n")
	if len(lines) > 200 {
		lines = lines[len(lines)-200:]
	}

	var candidates []map[string]any
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var payload any
		if err := json.Unmarshal([]byte(line), &payload); err != nil {
			continue
		}
		collectUsageCandidates(payload, &candidates)
	}

	if len(candidates) == 0 {
		return nil
	}
	return NormalizeTokenUsage(candidates[len(candidates)-1])
}

// newestSessionLog returns the most recently modified rollout log under the
// sessions tree, or empty when none exist.
func newestSessionLog(sessionsDir string) string {
	type entry struct {
		path  string
		mtime time.Time
	}
	var logs []entry

	filepath.WalkDir(sessionsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		name := d.Name()
		if !strings.HasPrefix(name, "rollout-") || !strings.HasSuffix(name, ".jsonl") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		logs = append(logs, entry{path: path, mtime: info.ModTime()})
		return nil
	})

	if len(logs) == 0 {
		return ""
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].mtime.After(logs[j].mtime) })
	return logs[0].path
}
