package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	looperrors "github.com/agentloop/agentloop/internal/errors"
)

// Platform identifiers for the supported backends.
const (
	PlatformClaude = "claude"
	PlatformCodex  = "codex"
	PlatformGemini = "gemini"
	PlatformMock   = "mock"
)

// AgentConfig pins an agent role to a backend, an optional definition
// variant, and model and timeout overrides.
type AgentConfig struct {
	AgentName string
	Platform  string
	Variant   string // e.g. "playwright" selects execution-qa-playwright.md
	Model     string
	Timeout   time.Duration
}

// SpecFileName returns the definition file name for this agent, including
// the variant suffix when one is configured.
func (c AgentConfig) SpecFileName() string {
	if c.Variant != "" {
		return c.AgentName + "-" + c.Variant + ".md"
	}
	return c.AgentName + ".md"
}

// Factory constructs a backend on first use.
type Factory func() Runner

// Registry manages the backend pool: lazy construction per platform,
// per-agent routing, and fallback when the preferred backend is not
// installed.
type Registry struct {
	mu              sync.Mutex
	factories       map[string]Factory
	instances       map[string]Runner
	agentConfigs    map[string]AgentConfig
	defaultPlatform string
	fallbacks       []string
}

// NewRegistry constructs an empty registry defaulting to the claude
// platform.
func NewRegistry() *Registry {
	return &Registry{
		factories:       map[string]Factory{},
		instances:       map[string]Runner{},
		agentConfigs:    map[string]AgentConfig{},
		defaultPlatform: PlatformClaude,
	}
}

// RegisterFactory registers a lazily-constructed backend for a platform.
func (r *Registry) RegisterFactory(platform string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[platform] = factory
}

// RegisterInstance registers an already-constructed backend.
func (r *Registry) RegisterInstance(platform string, runner Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[platform] = runner
}

// SetDefaultPlatform sets the backend used by agents without an explicit
// configuration.
func (r *Registry) SetDefaultPlatform(platform string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultPlatform = platform
}

// SetFallbacks sets the ordered platforms tried when a resolved backend is
// unavailable.
func (r *Registry) SetFallbacks(platforms []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks = append([]string(nil), platforms...)
}

// ConfigureAgent routes an agent role to a specific backend and settings.
func (r *Registry) ConfigureAgent(cfg AgentConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agentConfigs[cfg.AgentName] = cfg
}

// AgentConfig returns the configuration for an agent, if any.
func (r *Registry) AgentConfig(agentName string) (AgentConfig, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.agentConfigs[agentName]
	return cfg, ok
}

// AgentSpecPath resolves the definition file for an agent inside agentsDir,
// honoring a configured variant.
func (r *Registry) AgentSpecPath(agentName, agentsDir string) string {
	r.mu.Lock()
	cfg, ok := r.agentConfigs[agentName]
	r.mu.Unlock()

	if !ok {
		cfg = AgentConfig{AgentName: agentName}
	}
	return filepath.Join(agentsDir, cfg.SpecFileName())
}

// Runner returns the backend for a platform, constructing it on first use.
func (r *Registry) Runner(platform string) (Runner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runnerLocked(platform)
}

func (r *Registry) runnerLocked(platform string) (Runner, error) {
	if platform == "" {
		platform = r.defaultPlatform
	}
	if runner, ok := r.instances[platform]; ok {
		return runner, nil
	}
	factory, ok := r.factories[platform]
	if !ok {
		return nil, looperrors.NewRunnerError(
			fmt.Sprintf("no runner registered for platform %q", platform),
			looperrors.ErrUnknownPlatform,
		).WithRunner(platform)
	}
	runner := factory()
	r.instances[platform] = runner
	return runner, nil
}

// RunnerForAgent resolves an agent's backend, applying the fallback chain
// when the preferred backend is not installed. The returned warning is
// non-empty when a fallback was taken; callers surface it and persist it
// with the run.
func (r *Registry) RunnerForAgent(agentName string) (Runner, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	platform := r.defaultPlatform
	if cfg, ok := r.agentConfigs[agentName]; ok && cfg.Platform != "" {
		platform = cfg.Platform
	}

	preferred, err := r.runnerLocked(platform)
	if err != nil {
		return nil, "", err
	}
	if preferred.Available() {
		return preferred, "", nil
	}

	for _, fallback := range r.fallbacks {
		if fallback == platform {
			continue
		}
		candidate, err := r.runnerLocked(fallback)
		if err != nil {
			continue
		}
		if candidate.Available() {
			warning := fmt.Sprintf("runner %q unavailable for agent %q, falling back to %q",
				platform, agentName, fallback)
			return candidate, warning, nil
		}
	}

	return nil, "", looperrors.NewRunnerError(
		fmt.Sprintf("runner %q unavailable and no fallback is installed", platform),
		looperrors.ErrNoFallback,
	).WithRunner(platform).WithAgent(agentName)
}

// RunAgent resolves the agent's backend and invokes its definition with the
// configured timeout. The warning mirrors RunnerForAgent.
func (r *Registry) RunAgent(ctx context.Context, agentName, agentsDir, prompt string, promptContext map[string]any) (Result, string, error) {
	runner, warning, err := r.RunnerForAgent(agentName)
	if err != nil {
		return Result{}, "", err
	}

	cfg, _ := r.AgentConfig(agentName)
	result := runner.Invoke(ctx, Invocation{
		AgentSpecPath: r.AgentSpecPath(agentName, agentsDir),
		Prompt:        prompt,
		Context:       promptContext,
		Model:         cfg.Model,
		Timeout:       cfg.Timeout,
	})
	return result, warning, nil
}

// ValidateConfigured verifies every backend referenced by the default
// platform or an agent configuration is installed, before the loop starts
// burning iterations. An unavailable platform is tolerated when the fallback
// chain can cover it. The mock platform is always available and skipped.
func (r *Registry) ValidateConfigured() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	platforms := map[string]struct{}{r.defaultPlatform: {}}
	for _, cfg := range r.agentConfigs {
		if cfg.Platform != "" {
			platforms[cfg.Platform] = struct{}{}
		}
	}

	var unavailable []string
	for platform := range platforms {
		if platform == PlatformMock {
			continue
		}
		runner, err := r.runnerLocked(platform)
		if err == nil && runner.Available() {
			continue
		}
		if r.fallbackCoversLocked(platform) {
			continue
		}
		unavailable = append(unavailable, platform)
	}

	if len(unavailable) == 0 {
		return nil
	}

	sort.Strings(unavailable)
	return looperrors.NewRunnerError(
		fmt.Sprintf("configured runners unavailable: %s", strings.Join(unavailable, ", ")),
		looperrors.ErrRunnerUnavailable,
	)
}

// fallbackCoversLocked reports whether some platform in the fallback chain,
// other than the one that just failed, is installed.
func (r *Registry) fallbackCoversLocked(platform string) bool {
	for _, fallback := range r.fallbacks {
		if fallback == platform {
			continue
		}
		candidate, err := r.runnerLocked(fallback)
		if err == nil && candidate.Available() {
			return true
		}
	}
	return false
}

// Platforms lists every platform the registry can produce, sorted.
func (r *Registry) Platforms() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := map[string]struct{}{}
	for platform := range r.factories {
		seen[platform] = struct{}{}
	}
	for platform := range r.instances {
		seen[platform] = struct{}{}
	}

	platforms := make([]string, 0, len(seen))
	for platform := range seen {
		platforms = append(platforms, platform)
	}
	sort.Strings(platforms)
	return platforms
}
