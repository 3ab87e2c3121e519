package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/awe-dev/agentcheck/internal/core"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Set the sticky cancel_requested flag on a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}

func runCancel(_ *cobra.Command, args []string) error {
	d, err := buildDeps()
	if err != nil {
		return err
	}
	defer d.Close()

	taskID := core.TaskID(args[0])
	if err := d.service.Cancel(context.Background(), taskID); err != nil {
		return err
	}
	fmt.Printf("cancel requested for task %s\n", taskID)
	return nil
}
