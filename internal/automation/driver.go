package automation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/awe-dev/agentcheck/internal/core"
	"github.com/awe-dev/agentcheck/internal/logging"
	"github.com/awe-dev/agentcheck/internal/service"
	"github.com/awe-dev/agentcheck/internal/store"
)

// TaskSpec describes one corpus task for the driver to submit; the
// participant pool is injected by the driver, not the spec.
type TaskSpec struct {
	ID            core.TaskID
	Title         string
	Description   string
	ProjectPath   string
	WorkspacePath string
	TestCommand   string
	LintCommand   string
	MaxRounds     int
	SandboxMode   bool
	AutoMerge     bool
}

// Driver runs an overnight corpus of tasks to completion, polling for
// terminal status, re-issuing start requests on concurrency_limit, and
// switching participant pools on classified failures.
type Driver struct {
	Service      *service.Service
	Repo         store.Repository
	Switcher     *PoolSwitcher
	PollInterval time.Duration
	Logger       *logging.Logger
}

// New creates a Driver.
func New(svc *service.Service, repo store.Repository, switcher *PoolSwitcher, pollInterval time.Duration, logger *logging.Logger) *Driver {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Driver{Service: svc, Repo: repo, Switcher: switcher, PollInterval: pollInterval, Logger: logger}
}

// RunCorpus submits every spec under the currently active participant pool
// and blocks until all tasks reach a terminal status (or ctx is canceled).
// It returns the final task rows in spec order.
func (d *Driver) RunCorpus(ctx context.Context, specs []TaskSpec) ([]*core.Task, error) {
	for _, spec := range specs {
		pool := d.Switcher.Active()
		req := service.CreateRequest{
			Title:         spec.Title,
			Description:   spec.Description,
			Author:        pool.Author.String(),
			Reviewers:     participantStrings(pool.Reviewers),
			ProjectPath:   spec.ProjectPath,
			WorkspacePath: spec.WorkspacePath,
			TestCommand:   spec.TestCommand,
			LintCommand:   spec.LintCommand,
			MaxRounds:     spec.MaxRounds,
			SandboxMode:   spec.SandboxMode,
			AutoMerge:     spec.AutoMerge,
		}
		if _, err := d.Service.CreateTask(ctx, spec.ID, req); err != nil {
			return nil, fmt.Errorf("submit task %s: %w", spec.ID, err)
		}
		if err := d.Service.Admit(ctx, spec.ID); err != nil {
			return nil, fmt.Errorf("admit task %s: %w", spec.ID, err)
		}
	}

	results := make([]*core.Task, len(specs))
	pending := make(map[int]bool, len(specs))
	for i := range specs {
		pending[i] = true
	}

	ticker := time.NewTicker(d.PollInterval)
	defer ticker.Stop()

	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		case <-ticker.C:
			for i := range specs {
				if !pending[i] {
					continue
				}
				task, err := d.Repo.GetTask(ctx, specs[i].ID)
				if err != nil {
					continue
				}
				d.observe(ctx, task)
				if task.Status.IsTerminal() {
					results[i] = task
					delete(pending, i)
				}
			}
		}
	}
	return results, nil
}

// observe feeds a task's terminal/queued state into the driver's fallback
// and retry logic.
func (d *Driver) observe(ctx context.Context, task *core.Task) {
	switch task.Status {
	case core.TaskStatusFailedSystem:
		d.Switcher.ObserveFailure(task.LastGateReason)
		if d.Logger != nil && strings.Contains(task.LastGateReason, core.ReasonProviderLimit) {
			d.Logger.Warn("provider_limit_cooldown", "task_id", string(task.TaskID), "reason", task.LastGateReason)
		}
	case core.TaskStatusQueued:
		if task.LastGateReason == core.ReasonConcurrencyLimit {
			_ = d.Service.Admit(ctx, task.TaskID)
		}
	}
}

func participantStrings(participants []core.Participant) []string {
	out := make([]string, len(participants))
	for i, p := range participants {
		out[i] = p.String()
	}
	return out
}
