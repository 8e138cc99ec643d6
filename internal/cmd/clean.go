package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	looperrors "github.com/agentloop/agentloop/internal/errors"
	"github.com/agentloop/agentloop/internal/state"
)

var cleanAll bool

var cleanCmd = &cobra.Command{
	Use:   "clean [task-id]",
	Short: "Remove execution state",
	Long: `Remove persisted execution state. With a task id, removes that
task's state and any stale lock. Without arguments, removes state for
every finished task; --all removes everything, including stopped tasks
that could still resume.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runClean,
}

func init() {
	rootCmd.AddCommand(cleanCmd)
	cleanCmd.Flags().BoolVar(&cleanAll, "all", false, "also remove resumable (stopped) task state")
}

func runClean(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	defer env.Close()

	if len(args) == 1 {
		return cleanTask(env, args[0])
	}

	tasks, err := env.store.ListTasks()
	if err != nil {
		return err
	}

	removed := 0
	for _, taskID := range tasks {
		st, err := env.store.Load(taskID)
		if err != nil {
			// Corrupted state is exactly what clean is for.
			if delErr := env.store.Delete(taskID); delErr == nil {
				removed++
			}
			continue
		}
		if !cleanAll && !st.IsFinished() {
			continue
		}
		if err := cleanTask(env, taskID); err != nil {
			return err
		}
		removed++
	}
	fmt.Printf("Removed state for %d task(s).\n", removed)
	return nil
}

func cleanTask(env *environment, taskID string) error {
	if _, locked := state.IsLocked(env.stateDir, taskID); locked {
		return fmt.Errorf("task %q is running, refusing to remove its state", taskID)
	}
	if _, err := state.CleanStaleLock(env.stateDir, taskID, env.logger); err != nil {
		return err
	}
	if err := env.store.Delete(taskID); err != nil {
		if looperrors.Is(err, looperrors.ErrTaskNotFound) {
			fmt.Printf("No state for task %q.\n", taskID)
			return nil
		}
		return err
	}
	fmt.Printf("Removed state for task %q.\n", taskID)
	return nil
}
