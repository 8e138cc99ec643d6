package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentloop/agentloop/internal/logging"
)

var (
	logsTask  string
	logsPhase string
	logsLevel string
	logsSince string
	logsGrep  string
	logsTail  int
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View debug logs",
	Long: `View and filter the structured debug log for past runs.

Examples:
  # Last 50 entries
  agentloop logs

  # Everything the QA phase logged for one task
  agentloop logs --task task-7 --phase qa -n 0

  # Warnings and errors from the last hour
  agentloop logs --level warn --since 1h`,
	RunE: runLogsCmd,
}

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().StringVar(&logsTask, "task", "", "filter by task id")
	logsCmd.Flags().StringVar(&logsPhase, "phase", "", "filter by phase")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "entries since duration ago (e.g. 1h, 30m)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "filter by message substring")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "number of entries to show (0 for all)")
}

func runLogsCmd(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	defer env.Close()

	entries, err := logging.AggregateLogs(env.stateDir)
	if err != nil {
		return err
	}

	filter := logging.LogFilter{
		TaskID:          logsTask,
		Phase:           logsPhase,
		MessageContains: logsGrep,
	}
	if logsLevel != "" {
		filter.Level = logging.ParseLevel(logsLevel)
	}
	if logsSince != "" {
		d, err := time.ParseDuration(logsSince)
		if err != nil {
			return fmt.Errorf("invalid --since duration: %w", err)
		}
		filter.StartTime = time.Now().Add(-d)
	}

	entries = logging.FilterLogs(entries, filter)
	if logsTail > 0 && len(entries) > logsTail {
		entries = entries[len(entries)-logsTail:]
	}

	if len(entries) == 0 {
		fmt.Println("No matching log entries.")
		return nil
	}
	for _, entry := range entries {
		fmt.Println(logging.FormatEntry(entry))
	}
	return nil
}
