package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/awe-dev/agentcheck/internal/core"
)

var statusFlags struct {
	history bool
}

var statusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Show a task's current row, and optionally its Event Analyser report",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusFlags.history, "history", false, "include the Event Analyser's findings/disputes/next-steps report")
}

func runStatus(_ *cobra.Command, args []string) error {
	d, err := buildDeps()
	if err != nil {
		return err
	}
	defer d.Close()

	ctx := context.Background()
	taskID := core.TaskID(args[0])
	task, err := d.repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	out := map[string]any{
		"task_id":          task.TaskID,
		"status":           task.Status,
		"rounds_completed": task.RoundsCompleted,
		"max_rounds":       task.MaxRounds,
		"last_gate_reason": task.LastGateReason,
		"cancel_requested": task.CancelRequested,
	}

	if statusFlags.history {
		report, err := d.analyser.Analyze(ctx, taskID)
		if err != nil {
			return fmt.Errorf("analyzing task history: %w", err)
		}
		out["history"] = report
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
