package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentloop/agentloop/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status [task-id]",
	Short: "Show execution state",
	Long: `Show the execution state of tasks. Without arguments, lists every
task with persisted state. With a task id, shows the full iteration
history for that task.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	defer env.Close()

	if len(args) == 1 {
		return showTask(env, args[0])
	}
	return listTasks(env)
}

func listTasks(env *environment) error {
	tasks, err := env.store.ListTasks()
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks with execution state.")
		return nil
	}

	fmt.Println(headerStyle.Render(fmt.Sprintf("%-24s %-16s %-12s %s", "TASK", "PHASE", "ITERATION", "STARTED")))
	for _, taskID := range tasks {
		st, err := env.store.Load(taskID)
		if err != nil {
			fmt.Printf("%-24s %s\n", taskID, errStyle.Render("unreadable: "+err.Error()))
			continue
		}

		started := ""
		if st.StartedAt != nil {
			started = st.StartedAt.Format("2006-01-02 15:04")
		}
		phase := phaseStyle(string(st.CurrentPhase)).Render(fmt.Sprintf("%-16s", st.CurrentPhase))
		fmt.Printf("%-24s %s %-12s %s\n",
			taskID,
			phase,
			fmt.Sprintf("%d/%d", st.CurrentIteration, st.MaxIterations),
			detailStyle.Render(started),
		)
	}
	return nil
}

func showTask(env *environment, taskID string) error {
	st, err := env.store.Load(taskID)
	if err != nil {
		return err
	}

	fmt.Println(headerStyle.Render("Task: " + st.TaskID))
	fmt.Println("  Phase:      " + phaseStyle(string(st.CurrentPhase)).Render(string(st.CurrentPhase)))
	fmt.Printf("  Iteration:  %d/%d\n", st.CurrentIteration, st.MaxIterations)
	fmt.Println("  Run ID:     " + detailStyle.Render(st.RunID))
	fmt.Println("  Artifacts:  " + detailStyle.Render(st.TaskPath))
	if st.StartedAt != nil {
		fmt.Println("  Started:    " + detailStyle.Render(st.StartedAt.Format("2006-01-02 15:04:05")))
	}
	if st.CompletedAt != nil {
		fmt.Println("  Ended:      " + detailStyle.Render(st.CompletedAt.Format("2006-01-02 15:04:05")))
	}
	if st.ErrorMessage != "" {
		fmt.Println("  Reason:     " + errStyle.Render(st.ErrorMessage))
	}

	if holder, locked := state.IsLocked(env.stateDir, taskID); locked {
		fmt.Printf("  Lock:       %s\n",
			warnStyle.Render(fmt.Sprintf("held by PID %d on %s", holder.PID, holder.Hostname)))
	}

	if len(st.Warnings) > 0 {
		fmt.Println("\n" + headerStyle.Render("Warnings"))
		for _, w := range st.Warnings {
			fmt.Println("  " + warnStyle.Render("!") + " " + w)
		}
	}

	if len(st.Iterations) > 0 {
		fmt.Println("\n" + headerStyle.Render("Iterations"))
		for _, it := range st.Iterations {
			fmt.Printf("  #%d  %s\n", it.Iteration, iterationSummary(it))
			for _, step := range it.Steps {
				fmt.Printf("      %-16s %s\n", step.Phase, stepSummary(step))
			}
			if it.FixInfo != "" {
				fmt.Println("      " + detailStyle.Render("fix: "+firstLine(it.FixInfo)))
			}
		}
	}
	return nil
}

func iterationSummary(it state.IterationRecord) string {
	var parts []string
	if len(it.FilesChanged)+len(it.FilesAdded)+len(it.FilesDeleted) > 0 {
		parts = append(parts, fmt.Sprintf("%d changed, %d added, %d deleted",
			len(it.FilesChanged), len(it.FilesAdded), len(it.FilesDeleted)))
	}
	if it.DoDAchieved {
		parts = append(parts, "acceptance met")
	}
	if len(parts) == 0 {
		return detailStyle.Render("no file changes recorded")
	}
	return detailStyle.Render(strings.Join(parts, ", "))
}

func stepSummary(step state.StepRecord) string {
	switch step.Status {
	case state.StepCompleted:
		s := okStyle.Render("done")
		if step.OutputSummary != "" {
			s += " " + detailStyle.Render(firstLine(step.OutputSummary))
		}
		return s
	case state.StepFailed:
		return errStyle.Render("failed") + " " + firstLine(step.Error)
	case state.StepSkipped:
		return warnStyle.Render("skipped") + " " + detailStyle.Render(step.OutputSummary)
	default:
		return string(step.Status)
	}
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	const max = 80
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
