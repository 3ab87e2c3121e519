// Package store persists tasks and their event logs with ACID semantics,
// atomic status transitions, and monotonic per-task event sequence numbers.
package store

import (
	"context"

	"github.com/awe-dev/agentcheck/internal/core"
)

// Repository is the Task Repository contract. Two concrete
// variants exist: a durable SQLite-backed store and an in-memory store
// for tests.
type Repository interface {
	CreateTask(ctx context.Context, task *core.Task) error
	GetTask(ctx context.Context, id core.TaskID) (*core.Task, error)
	ListTasks(ctx context.Context, limit int) ([]*core.Task, error)

	// UpdateTaskStatus unconditionally sets status/reason/rounds_completed.
	// Returns core.ErrNotFound if the task is absent.
	UpdateTaskStatus(ctx context.Context, id core.TaskID, status core.TaskStatus, reason string, roundsCompleted *int) error

	// UpdateTaskStatusIf is an optimistic compare-and-set: it only applies
	// when the task's current status equals expected. Returns the updated
	// task, or (nil, nil) on a mismatch — a lost race is not an error.
	UpdateTaskStatusIf(ctx context.Context, id core.TaskID, expected, newStatus core.TaskStatus, reason string, roundsCompleted *int, setCancelRequested *bool) (*core.Task, error)

	SetCancelRequested(ctx context.Context, id core.TaskID, requested bool) error
	IsCancelRequested(ctx context.Context, id core.TaskID) (bool, error)

	// AppendEvent atomically reserves the next seq for the task and
	// persists the event.
	AppendEvent(ctx context.Context, id core.TaskID, eventType core.EventType, payload map[string]any, round *int) (core.TaskEvent, error)
	ListEvents(ctx context.Context, id core.TaskID) ([]core.TaskEvent, error)

	DeleteTasks(ctx context.Context, ids []core.TaskID) error

	Close() error
}
