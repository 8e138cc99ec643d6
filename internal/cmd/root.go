// Package cmd implements the agentloop command line interface.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agentloop/agentloop/internal/config"
	looperrors "github.com/agentloop/agentloop/internal/errors"
	"github.com/agentloop/agentloop/internal/logging"
	"github.com/agentloop/agentloop/internal/runner"
	"github.com/agentloop/agentloop/internal/state"
)

// Exit codes. Scripts driving the loop branch on these.
const (
	ExitOK                 = 0
	ExitError              = 1
	ExitRunnerUnavailable  = 2
	ExitMaxIterations      = 3
	ExitMalformedArtifacts = 4
)

var rootCmd = &cobra.Command{
	Use:   "agentloop",
	Short: "Autonomous multi-phase code-improvement loop",
	Long: `Agentloop drives CLI coding agents through an execution loop:
implement, critique the tests, verify acceptance criteria, check code
quality, update task artifacts, and gate on the definition of done,
iterating until the task completes or the retry budget runs out.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and maps the outcome to an exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if looperrors.IsFatal(err) {
			fmt.Fprintln(os.Stderr, fatalGuidance(err))
		}
		return exitCodeFor(err)
	}
	return ExitOK
}

// fatalGuidance tells the operator what to do about an error that retrying
// cannot fix.
func fatalGuidance(err error) string {
	switch {
	case looperrors.Is(err, looperrors.ErrAuthFailed):
		return "The backend CLI rejected its credentials. Re-authenticate (e.g. `claude /login`, `codex login`, `gemini`) and rerun the task."
	case looperrors.Is(err, looperrors.ErrNoFallback):
		return "No configured runner is installed. Install one of the configured CLIs or adjust runner.fallbacks in the config."
	case looperrors.Is(err, looperrors.ErrMaxIterations):
		return "The retry budget ran out. Inspect the task with `agentloop status`, then resume with a higher --max-iterations if appropriate."
	case looperrors.Is(err, looperrors.ErrMalformedArtifacts):
		return "Task artifacts are missing or malformed. Check the task directory referenced in the config."
	default:
		return "This error will not resolve by retrying; fix the underlying cause first."
	}
}

// exitCodeFor maps loop outcomes onto the documented exit codes.
func exitCodeFor(err error) int {
	switch {
	case looperrors.Is(err, looperrors.ErrRunnerUnavailable),
		looperrors.Is(err, looperrors.ErrNoFallback),
		looperrors.Is(err, looperrors.ErrUnknownPlatform):
		return ExitRunnerUnavailable
	case looperrors.Is(err, looperrors.ErrMaxIterations):
		return ExitMaxIterations
	case looperrors.Is(err, looperrors.ErrMalformedArtifacts):
		return ExitMalformedArtifacts
	default:
		return ExitError
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/agentloop/config.yaml)")
	rootCmd.PersistentFlags().String("working-dir", "", "directory agents run in (default: current directory)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("paths.working_dir", rootCmd.PersistentFlags().Lookup("working-dir"))
}

func initConfig() {
	// Defaults first so everything works without a config file.
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/agentloop")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("AGENTLOOP")
	// AGENTLOOP_RUNNER_DEFAULT maps to runner.default and so on.
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	_ = viper.ReadInConfig()
}

// environment bundles everything a command needs to touch a run.
type environment struct {
	cfg        *config.Config
	registry   *runner.Registry
	store      *state.Store
	logger     *logging.Logger
	workingDir string
	stateDir   string
}

// loadEnvironment resolves config, wires the runner registry, and opens the
// state store and debug log.
func loadEnvironment() (*environment, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	workingDir := cfg.Paths.WorkingDir
	if workingDir == "" {
		workingDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
	}

	stateDir := cfg.Paths.ResolveStateDir(workingDir)

	logger := logging.NopLogger()
	if cfg.Logging.Enabled {
		logger, err = logging.NewLoggerWithRotation(stateDir, cfg.Logging.Level, logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
		})
		if err != nil {
			return nil, fmt.Errorf("opening debug log: %w", err)
		}
	}

	return &environment{
		cfg:        cfg,
		registry:   newRegistry(cfg, workingDir),
		store:      state.NewStore(stateDir),
		logger:     logger,
		workingDir: workingDir,
		stateDir:   stateDir,
	}, nil
}

// newRegistry wires the backend factories from configuration. Backends are
// constructed lazily so an uninstalled CLI costs nothing until resolved.
func newRegistry(cfg *config.Config, workingDir string) *runner.Registry {
	registry := runner.NewRegistry()
	timeout := cfg.Runner.Timeout()
	skillsDir := cfg.Paths.ResolveSkillsDir(workingDir)

	registry.RegisterFactory(runner.PlatformClaude, func() runner.Runner {
		return runner.NewClaude(runner.ClaudeOptions{
			Model:           cfg.Runner.Claude.Model,
			WorkingDir:      workingDir,
			SkipPermissions: cfg.Runner.Claude.SkipPermissions,
			StreamOutput:    cfg.Runner.Claude.StreamOutput,
			Timeout:         timeout,
		})
	})
	registry.RegisterFactory(runner.PlatformCodex, func() runner.Runner {
		return runner.NewCodex(runner.CodexOptions{
			Model:             cfg.Runner.Codex.Model,
			WorkingDir:        workingDir,
			SkillsDir:         skillsDir,
			Sandbox:           cfg.Runner.Codex.Sandbox,
			DangerouslyBypass: cfg.Runner.Codex.DangerouslyBypass,
			Timeout:           timeout,
		})
	})
	registry.RegisterFactory(runner.PlatformGemini, func() runner.Runner {
		return runner.NewGemini(runner.GeminiOptions{
			Model:      cfg.Runner.Gemini.Model,
			WorkingDir: workingDir,
			Sandbox:    true,
			Timeout:    timeout,
		})
	})
	registry.RegisterFactory(runner.PlatformMock, func() runner.Runner {
		return runner.NewMock(nil)
	})

	registry.SetDefaultPlatform(cfg.Runner.Default)
	registry.SetFallbacks(cfg.Runner.Fallbacks)
	return registry
}

func (e *environment) Close() {
	_ = e.logger.Close()
}
