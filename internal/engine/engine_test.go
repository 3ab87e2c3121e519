package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awe-dev/agentcheck/internal/artifacts"
	"github.com/awe-dev/agentcheck/internal/core"
	"github.com/awe-dev/agentcheck/internal/logging"
	"github.com/awe-dev/agentcheck/internal/runner"
	"github.com/awe-dev/agentcheck/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, store.Repository) {
	t.Helper()
	repo := store.NewMemoryRepository()
	art := artifacts.New(t.TempDir())
	table := runner.NewProviderTable(nil)
	dryRunner := runner.New(table, logging.NewNop(), true, 0)
	eng := New(Deps{
		Repo:                      repo,
		Artifacts:                 art,
		Runner:                    dryRunner,
		ConsensusStallAttempts:    3,
		ParticipantTimeoutSeconds: 30,
		CommandTimeoutSeconds:     30,
	})
	return eng, repo
}

func newRunnableTask(t *testing.T, id core.TaskID) *core.Task {
	t.Helper()
	dir := t.TempDir()
	task := core.NewTask(id, "add a feature")
	task.Description = "implement the thing"
	task.AuthorParticipant = core.Participant{Provider: "claude", Alias: "author"}
	task.ReviewerParticipants = []core.Participant{{Provider: "codex", Alias: "reviewer"}}
	task.ProjectPath = dir
	task.WorkspacePath = dir
	task.MaxRounds = 2
	return task
}

func TestEngine_RunTask_DryRunHappyPath(t *testing.T) {
	eng, repo := newTestEngine(t)
	ctx := context.Background()

	task := newRunnableTask(t, "task-1")
	require.NoError(t, repo.CreateTask(ctx, task))

	require.NoError(t, eng.RunTask(ctx, "task-1"))

	got, err := repo.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusPassed, got.Status)
	assert.Equal(t, 1, got.RoundsCompleted)

	evs, err := repo.ListEvents(ctx, "task-1")
	require.NoError(t, err)
	var types []core.EventType
	for _, e := range evs {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, core.EventDiscussion)
	assert.Contains(t, types, core.EventReview)
	assert.Contains(t, types, core.EventGatePassed)
}

func TestEngine_RunTask_RespectsCancelRequested(t *testing.T) {
	eng, repo := newTestEngine(t)
	ctx := context.Background()

	task := newRunnableTask(t, "task-1")
	require.NoError(t, repo.CreateTask(ctx, task))
	require.NoError(t, repo.SetCancelRequested(ctx, "task-1", true))

	require.NoError(t, eng.RunTask(ctx, "task-1"))

	got, err := repo.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusCanceled, got.Status)
}

func TestSweepWatchdog_ForceFailsStaleRunningTask(t *testing.T) {
	repo := store.NewMemoryRepository()
	ctx := context.Background()

	task := newRunnableTask(t, "task-1")
	require.NoError(t, repo.CreateTask(ctx, task))
	_, err := repo.UpdateTaskStatusIf(ctx, "task-1", core.TaskStatusQueued, core.TaskStatusRunning, "", nil, nil)
	require.NoError(t, err)

	// A zero timeout treats any running task as already stale.
	forced, err := SweepWatchdog(ctx, repo, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, forced)

	got, err := repo.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusFailedSystem, got.Status)
	assert.Equal(t, "watchdog_timeout: task exceeded 0s without terminal status", got.LastGateReason)
}

func TestEngine_RunTask_StallKindEscalatesAcrossResumes(t *testing.T) {
	dir := t.TempDir()
	writeScript := func(name, body string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
		return path
	}
	authorScript := writeScript("author.sh", "echo 'proposal text'")
	blockerScript := writeScript("blocker.sh", "echo 'VERDICT: BLOCKER'")
	unknownScript := writeScript("unknown.sh", "echo 'VERDICT: UNKNOWN'")

	table := runner.NewProviderTable(map[string]string{
		"claude": authorScript,
		"codex":  blockerScript,
		"gemini": unknownScript,
	})
	realRunner := runner.New(table, logging.NewNop(), false, 0)

	repo := store.NewMemoryRepository()
	art := artifacts.New(t.TempDir())
	eng := New(Deps{
		Repo:                      repo,
		Artifacts:                 art,
		Runner:                    realRunner,
		ConsensusStallAttempts:    1,
		ParticipantTimeoutSeconds: 5,
		CommandTimeoutSeconds:     5,
	})

	task := newRunnableTask(t, "task-stall")
	task.ReviewerParticipants = []core.Participant{
		{Provider: "codex", Alias: "r1"},
		{Provider: "gemini", Alias: "r2"},
	}
	task.MaxRounds = 5
	ctx := context.Background()
	require.NoError(t, repo.CreateTask(ctx, task))

	require.NoError(t, eng.RunTask(ctx, "task-stall"))
	got, err := repo.GetTask(ctx, "task-stall")
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusWaitingManual, got.Status)

	// Resume: the event log already carries one stall, so this round's
	// stall must be classified as a repeat.
	require.NoError(t, eng.RunTask(ctx, "task-stall"))
	got, err = repo.GetTask(ctx, "task-stall")
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusWaitingManual, got.Status)

	evs, err := repo.ListEvents(ctx, "task-stall")
	require.NoError(t, err)
	var kinds []string
	for _, ev := range evs {
		if ev.Type == core.EventProposalConsensusStalled {
			kinds = append(kinds, ev.Payload["stall_kind"].(string))
		}
	}
	require.Len(t, kinds, 2)
	assert.Equal(t, "in_round", kinds[0])
	assert.Equal(t, "across_rounds", kinds[1])
}

func TestMixedConsensus(t *testing.T) {
	assert.False(t, mixedConsensus([]core.ReviewVerdict{core.VerdictNoBlocker}))
	assert.False(t, mixedConsensus([]core.ReviewVerdict{core.VerdictBlocker, core.VerdictBlocker}))
	assert.True(t, mixedConsensus([]core.ReviewVerdict{core.VerdictBlocker, core.VerdictUnknown}))
}
