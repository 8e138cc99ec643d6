package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentloop/agentloop/internal/loop"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <task-id>",
	Short: "Resume a stopped execution",
	Long: `Resume a task whose execution stopped, either from an interrupt or
an exhausted retry budget. Completed and failed tasks cannot resume.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	taskID := args[0]

	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	defer env.Close()

	l := loop.New(env.cfg, env.registry, env.store, env.logger, env.workingDir)

	if err := env.registry.ValidateConfigured(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := l.Resume(ctx, taskID)
	if st != nil {
		printOutcome(st)
	}
	return err
}
