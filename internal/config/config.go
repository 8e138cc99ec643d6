package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete agentloop configuration
type Config struct {
	Runner  RunnerConfig  `mapstructure:"runner"`
	Agents  AgentsConfig  `mapstructure:"agents"`
	Loop    LoopConfig    `mapstructure:"loop"`
	Logging LoggingConfig `mapstructure:"logging"`
	Paths   PathsConfig   `mapstructure:"paths"`
}

// RunnerConfig controls which backend CLIs run the agents and how
type RunnerConfig struct {
	// Default is the platform used when an agent has no override
	// Options: "claude", "codex", "gemini", "mock"
	Default string `mapstructure:"default"`
	// Fallbacks is the ordered list of platforms to try when the
	// requested one is unavailable
	Fallbacks []string `mapstructure:"fallbacks"`
	// TimeoutSeconds is the per-invocation timeout in seconds
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// Claude configures the claude CLI backend
	Claude ClaudeConfig `mapstructure:"claude"`
	// Codex configures the codex CLI backend
	Codex CodexConfig `mapstructure:"codex"`
	// Gemini configures the gemini CLI backend
	Gemini GeminiConfig `mapstructure:"gemini"`
}

// ClaudeConfig controls the claude CLI backend
type ClaudeConfig struct {
	// Model is the model identifier passed via --model
	Model string `mapstructure:"model"`
	// SkipPermissions passes --dangerously-skip-permissions (default: false)
	SkipPermissions bool `mapstructure:"dangerously_skip_permissions"`
	// StreamOutput mirrors the child's stdout to the console while running
	StreamOutput bool `mapstructure:"stream_output"`
}

// CodexConfig controls the codex CLI backend
type CodexConfig struct {
	// Model is the model identifier, empty uses the CLI's default
	Model string `mapstructure:"model"`
	// Sandbox is the sandbox policy passed via --sandbox
	// Options: "read-only", "workspace-write", "danger-full-access"
	Sandbox string `mapstructure:"sandbox"`
	// DangerouslyBypass passes --dangerously-bypass-approvals-and-sandbox
	DangerouslyBypass bool `mapstructure:"dangerously_bypass_sandbox"`
}

// GeminiConfig controls the gemini CLI backend
type GeminiConfig struct {
	// Model is the model identifier passed via --model
	Model string `mapstructure:"model"`
}

// AgentsConfig holds per-agent runner overrides.
// Different agents can run on different platforms: a tool-heavy
// implementer on claude, a cheaper verification pass on gemini.
type AgentsConfig struct {
	Implementer  AgentConfig `mapstructure:"implementer"`
	TestCritique AgentConfig `mapstructure:"test_critique"`
	QA           AgentConfig `mapstructure:"qa"`
	CodeQuality  AgentConfig `mapstructure:"code_quality"`
	Manager      AgentConfig `mapstructure:"manager"`
	DoD          AgentConfig `mapstructure:"dod"`
}

// AgentConfig is the runner override for a single agent role
type AgentConfig struct {
	// Runner is the platform for this agent, empty uses runner.default
	Runner string `mapstructure:"runner"`
	// Variant is an agent spec variant suffix
	// (e.g. "playwright" selects execution-qa-playwright.md)
	Variant string `mapstructure:"variant"`
	// Model overrides the platform's configured model for this agent
	Model string `mapstructure:"model"`
	// TimeoutSeconds overrides runner.timeout_seconds, 0 uses the global value
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// LoopConfig controls execution loop behavior
type LoopConfig struct {
	// MaxIterations is the retry budget: the number of times the loop may
	// return to the implementation phase before halting (default: 10)
	MaxIterations int `mapstructure:"max_iterations"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether debug logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
}

// PathsConfig controls where agentloop reads and stores data
type PathsConfig struct {
	// StateDir is the directory holding per-task execution state files.
	// Relative paths are resolved against the working directory.
	// Supports ~ for home directory expansion. (default: ".agentloop")
	StateDir string `mapstructure:"state_dir"`

	// TaskDir is the directory holding task artifact folders (default: "docs/tasks")
	TaskDir string `mapstructure:"task_dir"`

	// AgentsDir is the directory holding agent spec markdown files
	// (default: ".claude/agents")
	AgentsDir string `mapstructure:"agents_dir"`

	// SkillsDir is the directory holding skill folders with SKILL.md files
	// (default: ".claude/skills")
	SkillsDir string `mapstructure:"skills_dir"`

	// WorkingDir is the directory agents run in, empty uses the current
	// working directory
	WorkingDir string `mapstructure:"working_dir"`
}

// Timeout returns the per-invocation timeout as a time.Duration
func (r *RunnerConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// Timeout returns the agent's timeout, falling back to the given default
// when no override is set.
func (a *AgentConfig) Timeout(fallback time.Duration) time.Duration {
	if a.TimeoutSeconds <= 0 {
		return fallback
	}
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// ForAgent returns the override config for the named agent role.
// Unknown roles get a zero AgentConfig (all defaults).
func (c *AgentsConfig) ForAgent(agentName string) AgentConfig {
	switch agentName {
	case "execution-implementer":
		return c.Implementer
	case "execution-test-critique":
		return c.TestCritique
	case "execution-qa":
		return c.QA
	case "execution-code-quality":
		return c.CodeQuality
	case "execution-manager":
		return c.Manager
	case "execution-dod":
		return c.DoD
	default:
		return AgentConfig{}
	}
}

// resolvePath expands ~ and resolves relative paths against baseDir.
func resolvePath(path, baseDir string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = home
		}
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}

	return path
}

// ResolveStateDir returns the resolved state directory path.
func (p *PathsConfig) ResolveStateDir(baseDir string) string {
	if p.StateDir == "" {
		return filepath.Join(baseDir, ".agentloop")
	}
	return resolvePath(p.StateDir, baseDir)
}

// ResolveTaskDir returns the resolved task artifact directory path.
func (p *PathsConfig) ResolveTaskDir(baseDir string) string {
	if p.TaskDir == "" {
		return filepath.Join(baseDir, "docs", "tasks")
	}
	return resolvePath(p.TaskDir, baseDir)
}

// ResolveAgentsDir returns the resolved agent spec directory path.
func (p *PathsConfig) ResolveAgentsDir(baseDir string) string {
	if p.AgentsDir == "" {
		return filepath.Join(baseDir, ".claude", "agents")
	}
	return resolvePath(p.AgentsDir, baseDir)
}

// ResolveSkillsDir returns the resolved skills directory path.
func (p *PathsConfig) ResolveSkillsDir(baseDir string) string {
	if p.SkillsDir == "" {
		return filepath.Join(baseDir, ".claude", "skills")
	}
	return resolvePath(p.SkillsDir, baseDir)
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Runner: RunnerConfig{
			Default:        "claude",
			Fallbacks:      []string{},
			TimeoutSeconds: 300,
			Claude: ClaudeConfig{
				Model:           "claude-sonnet-4-5-20250929",
				SkipPermissions: false,
				StreamOutput:    true,
			},
			Codex: CodexConfig{
				Model:             "", // Empty uses the CLI's default
				Sandbox:           "workspace-write",
				DangerouslyBypass: false,
			},
			Gemini: GeminiConfig{
				Model: "gemini-2.5-pro",
			},
		},
		Agents: AgentsConfig{},
		Loop: LoopConfig{
			MaxIterations: 10,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Paths: PathsConfig{
			StateDir:   ".agentloop",
			TaskDir:    filepath.Join("docs", "tasks"),
			AgentsDir:  filepath.Join(".claude", "agents"),
			SkillsDir:  filepath.Join(".claude", "skills"),
			WorkingDir: "",
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Runner defaults
	viper.SetDefault("runner.default", defaults.Runner.Default)
	viper.SetDefault("runner.fallbacks", defaults.Runner.Fallbacks)
	viper.SetDefault("runner.timeout_seconds", defaults.Runner.TimeoutSeconds)
	viper.SetDefault("runner.claude.model", defaults.Runner.Claude.Model)
	viper.SetDefault("runner.claude.dangerously_skip_permissions", defaults.Runner.Claude.SkipPermissions)
	viper.SetDefault("runner.claude.stream_output", defaults.Runner.Claude.StreamOutput)
	viper.SetDefault("runner.codex.model", defaults.Runner.Codex.Model)
	viper.SetDefault("runner.codex.sandbox", defaults.Runner.Codex.Sandbox)
	viper.SetDefault("runner.codex.dangerously_bypass_sandbox", defaults.Runner.Codex.DangerouslyBypass)
	viper.SetDefault("runner.gemini.model", defaults.Runner.Gemini.Model)

	// Loop defaults
	viper.SetDefault("loop.max_iterations", defaults.Loop.MaxIterations)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)

	// Paths defaults
	viper.SetDefault("paths.state_dir", defaults.Paths.StateDir)
	viper.SetDefault("paths.task_dir", defaults.Paths.TaskDir)
	viper.SetDefault("paths.agents_dir", defaults.Paths.AgentsDir)
	viper.SetDefault("paths.skills_dir", defaults.Paths.SkillsDir)
	viper.SetDefault("paths.working_dir", defaults.Paths.WorkingDir)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "agentloop")
	}
	// Fall back to ~/.config/agentloop
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentloop"
	}
	return filepath.Join(home, ".config", "agentloop")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ValidPlatforms returns the list of valid platform identifiers
func ValidPlatforms() []string {
	return []string{"claude", "codex", "gemini", "mock"}
}

// IsValidPlatform checks if the given platform identifier is valid
func IsValidPlatform(platform string) bool {
	for _, valid := range ValidPlatforms() {
		if platform == valid {
			return true
		}
	}
	return false
}

// ValidSandboxModes returns the list of valid codex sandbox policies
func ValidSandboxModes() []string {
	return []string{"read-only", "workspace-write", "danger-full-access"}
}

// IsValidSandboxMode checks if the given sandbox policy is valid
func IsValidSandboxMode(mode string) bool {
	for _, valid := range ValidSandboxModes() {
		if mode == valid {
			return true
		}
	}
	return false
}
