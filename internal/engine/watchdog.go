package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/awe-dev/agentcheck/internal/core"
	"github.com/awe-dev/agentcheck/internal/store"
)

// SweepWatchdog force-fails any running task whose last update predates
// now by more than timeout, writing reason "watchdog_timeout" — a task
// stuck in running past task_timeout_seconds is force-failed, not left to
// hang forever. Nothing in this module schedules it: the caller decides
// when to sweep and passes the timeout.
func SweepWatchdog(ctx context.Context, repo store.Repository, timeout time.Duration) (int, error) {
	tasks, err := repo.ListTasks(ctx, 0)
	if err != nil {
		return 0, err
	}

	forced := 0
	now := time.Now()
	for _, task := range tasks {
		if task.Status != core.TaskStatusRunning {
			continue
		}
		if now.Sub(task.UpdatedAt) < timeout {
			continue
		}
		reason := fmt.Sprintf("%s: task exceeded %ds without terminal status", core.ReasonWatchdogTimeout, int(timeout.Seconds()))
		updated, err := repo.UpdateTaskStatusIf(ctx, task.TaskID, core.TaskStatusRunning, core.TaskStatusFailedSystem, reason, nil, nil)
		if err != nil {
			return forced, err
		}
		if updated != nil {
			forced++
		}
	}
	return forced, nil
}
