package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agentloop/agentloop/internal/loop"
	"github.com/agentloop/agentloop/internal/state"
)

var runCmd = &cobra.Command{
	Use:   "run <task-id>",
	Short: "Run the execution loop for a task",
	Long: `Run the execution loop for a task from scratch, replacing any
previous execution state. The loop iterates until the task completes,
the retry budget runs out, or the run is interrupted with Ctrl+C.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Int("max-iterations", 0, "retry budget override (default from config)")
	_ = viper.BindPFlag("loop.max_iterations_override", runCmd.Flags().Lookup("max-iterations"))
}

func runRun(cmd *cobra.Command, args []string) error {
	taskID := args[0]

	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	defer env.Close()

	if n := viper.GetInt("loop.max_iterations_override"); n > 0 {
		env.cfg.Loop.MaxIterations = n
	}

	l := loop.New(env.cfg, env.registry, env.store, env.logger, env.workingDir)

	// Unavailable backends fail fast instead of burning iterations. The loop
	// registers per-agent platform overrides, so validate after wiring it.
	if err := env.registry.ValidateConfigured(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := l.Run(ctx, taskID)
	if st != nil {
		printOutcome(st)
	}
	return err
}

// printOutcome renders a one-screen summary of how the run ended.
func printOutcome(st *state.ExecutionState) {
	switch st.CurrentPhase {
	case state.PhaseCompleted:
		fmt.Println(okStyle.Render("✓ Task completed"), detailStyle.Render(
			fmt.Sprintf("(%d iteration(s))", st.CurrentIteration)))
	case state.PhaseStopped:
		fmt.Println(warnStyle.Render("■ Run stopped:"), st.ErrorMessage)
		fmt.Println(detailStyle.Render(fmt.Sprintf("  resume with: agentloop resume %s", st.TaskID)))
	case state.PhaseFailed:
		fmt.Println(errStyle.Render("✗ Run failed:"), st.ErrorMessage)
	default:
		fmt.Println(warnStyle.Render("Run ended in phase:"), string(st.CurrentPhase))
	}

	for _, warning := range st.Warnings {
		fmt.Println(warnStyle.Render("  warning:"), warning)
	}
}
