package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awe-dev/agentcheck/internal/core"
)

func newTestTask(id core.TaskID) *core.Task {
	task := core.NewTask(id, "test task")
	task.AuthorParticipant = core.Participant{Provider: "claude", Alias: "author"}
	task.ReviewerParticipants = []core.Participant{{Provider: "codex", Alias: "reviewer"}}
	task.ProjectPath = "/tmp/project"
	task.WorkspacePath = "/tmp/project"
	return task
}

func TestMemoryRepository_CreateAndGetTask(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	task := newTestTask("task-1")

	require.NoError(t, repo.CreateTask(ctx, task))

	got, err := repo.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, task.Title, got.Title)
	assert.Equal(t, core.TaskStatusQueued, got.Status)

	// Mutating the returned task must not affect the stored copy.
	got.Title = "mutated"
	got2, err := repo.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "test task", got2.Title)
}

func TestMemoryRepository_CreateTask_Duplicate(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	task := newTestTask("task-1")

	require.NoError(t, repo.CreateTask(ctx, task))
	err := repo.CreateTask(ctx, task)
	require.Error(t, err)
	assert.Equal(t, "TASK_ALREADY_EXISTS", core.Reason(err))
}

func TestMemoryRepository_GetTask_NotFound(t *testing.T) {
	repo := NewMemoryRepository()
	_, err := repo.GetTask(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}

func TestMemoryRepository_UpdateTaskStatusIf(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	task := newTestTask("task-1")
	require.NoError(t, repo.CreateTask(ctx, task))

	rounds := 1
	updated, err := repo.UpdateTaskStatusIf(ctx, "task-1", core.TaskStatusQueued, core.TaskStatusRunning, "", &rounds, nil)
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, core.TaskStatusRunning, updated.Status)
	assert.Equal(t, 1, updated.RoundsCompleted)

	// Stale expected status: mismatch is reported as (nil, nil), not an error.
	mismatch, err := repo.UpdateTaskStatusIf(ctx, "task-1", core.TaskStatusQueued, core.TaskStatusPassed, "", nil, nil)
	require.NoError(t, err)
	assert.Nil(t, mismatch)
}

func TestMemoryRepository_AppendEvent_MonotonicGapFree(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	task := newTestTask("task-1")
	require.NoError(t, repo.CreateTask(ctx, task))

	for i := 0; i < 5; i++ {
		ev, err := repo.AppendEvent(ctx, "task-1", core.EventDiscussion, map[string]any{"i": i}, nil)
		require.NoError(t, err)
		assert.Equal(t, i+1, ev.Seq)
	}

	events, err := repo.ListEvents(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i, ev := range events {
		assert.Equal(t, i+1, ev.Seq)
	}
}

func TestMemoryRepository_DeleteTasks(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.CreateTask(ctx, newTestTask("task-1")))
	require.NoError(t, repo.CreateTask(ctx, newTestTask("task-2")))

	require.NoError(t, repo.DeleteTasks(ctx, []core.TaskID{"task-1"}))

	_, err := repo.GetTask(ctx, "task-1")
	require.Error(t, err)
	_, err = repo.GetTask(ctx, "task-2")
	require.NoError(t, err)

	tasks, err := repo.ListTasks(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestMemoryRepository_CancelRequested(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.CreateTask(ctx, newTestTask("task-1")))

	requested, err := repo.IsCancelRequested(ctx, "task-1")
	require.NoError(t, err)
	assert.False(t, requested)

	require.NoError(t, repo.SetCancelRequested(ctx, "task-1", true))
	requested, err = repo.IsCancelRequested(ctx, "task-1")
	require.NoError(t, err)
	assert.True(t, requested)
}
