package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/awe-dev/agentcheck/internal/core"
	"github.com/awe-dev/agentcheck/internal/service"
)

var createFlags struct {
	title         string
	description   string
	author        string
	reviewers     []string
	projectPath   string
	workspacePath string
	testCommand   string
	lintCommand   string
	maxRounds     int
	autoMerge     bool
	sandboxMode   bool
	repairMode    string
	policyTemplate string
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create and admit a new task",
	RunE:  runCreate,
}

func init() {
	rootCmd.AddCommand(createCmd)
	createCmd.Flags().StringVar(&createFlags.title, "title", "", "task title (required)")
	createCmd.Flags().StringVar(&createFlags.description, "description", "", "task description handed to the author participant")
	createCmd.Flags().StringVar(&createFlags.author, "author", "", "author participant, provider#alias (required)")
	createCmd.Flags().StringSliceVar(&createFlags.reviewers, "reviewer", nil, "reviewer participant, provider#alias (repeatable)")
	createCmd.Flags().StringVar(&createFlags.projectPath, "project", "", "project root path (required)")
	createCmd.Flags().StringVar(&createFlags.workspacePath, "workspace", "", "operator-specified sandbox path (optional; generated if empty and sandbox_mode is set)")
	createCmd.Flags().StringVar(&createFlags.testCommand, "test-command", "", "verification test command")
	createCmd.Flags().StringVar(&createFlags.lintCommand, "lint-command", "", "verification lint command")
	createCmd.Flags().IntVar(&createFlags.maxRounds, "max-rounds", 1, "maximum discussion/review rounds [1, 20]")
	createCmd.Flags().BoolVar(&createFlags.autoMerge, "auto-merge", false, "fuse sandbox changes back into the target tree on pass")
	createCmd.Flags().BoolVar(&createFlags.sandboxMode, "sandbox", false, "run the task in an isolated sandbox copy of the project")
	createCmd.Flags().StringVar(&createFlags.repairMode, "repair-mode", "balanced", "minimal, balanced, or structural")
	createCmd.Flags().StringVar(&createFlags.policyTemplate, "policy-template", "", "pre-seed policy fields from a named preset (balanced-default, safe-review, rapid-fix, deep-evolve)")

	_ = createCmd.MarkFlagRequired("title")
	_ = createCmd.MarkFlagRequired("author")
	_ = createCmd.MarkFlagRequired("project")
}

func runCreate(cmd *cobra.Command, _ []string) error {
	d, err := buildDeps()
	if err != nil {
		return err
	}
	defer d.Close()

	req := service.CreateRequest{
		Title:         createFlags.title,
		Description:   createFlags.description,
		Author:        createFlags.author,
		Reviewers:     createFlags.reviewers,
		ProjectPath:   createFlags.projectPath,
		WorkspacePath: createFlags.workspacePath,
		TestCommand:   createFlags.testCommand,
		LintCommand:   createFlags.lintCommand,
		MaxRounds:     createFlags.maxRounds,
		AutoMerge:     createFlags.autoMerge,
		SandboxMode:   createFlags.sandboxMode,
		RepairMode:    core.RepairMode(createFlags.repairMode),
	}

	if createFlags.policyTemplate != "" {
		if err := service.ApplyPolicyTemplate(&req, createFlags.policyTemplate); err != nil {
			return err
		}
		if cmd.Flags().Changed("max-rounds") {
			req.MaxRounds = createFlags.maxRounds
		}
		if cmd.Flags().Changed("auto-merge") {
			req.AutoMerge = createFlags.autoMerge
		}
		if cmd.Flags().Changed("sandbox") {
			req.SandboxMode = createFlags.sandboxMode
		}
		if cmd.Flags().Changed("repair-mode") {
			req.RepairMode = core.RepairMode(createFlags.repairMode)
		}
	}

	taskID := core.TaskID(uuid.NewString())
	ctx := context.Background()
	task, err := d.service.CreateTask(ctx, taskID, req)
	if err != nil {
		var de *core.DomainError
		if errors.As(err, &de) && de.Field() != "" {
			return fmt.Errorf("%s (field: %s)", de.Message, de.Field())
		}
		return err
	}

	if err := d.service.Admit(ctx, task.TaskID); err != nil {
		return fmt.Errorf("admitting task: %w", err)
	}

	fmt.Printf("created task %s (status=%s)\n", task.TaskID, task.Status)
	return nil
}
