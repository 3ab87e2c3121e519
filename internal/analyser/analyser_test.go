package analyser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awe-dev/agentcheck/internal/artifacts"
	"github.com/awe-dev/agentcheck/internal/core"
	"github.com/awe-dev/agentcheck/internal/store"
)

func newTestTask(t *testing.T, repo store.Repository, id core.TaskID, status core.TaskStatus) *core.Task {
	t.Helper()
	task := core.NewTask(id, "fix the bug")
	task.Description = "fix it"
	task.ProjectPath = t.TempDir()
	task.WorkspacePath = task.ProjectPath
	require.NoError(t, repo.CreateTask(context.Background(), task))
	if status != core.TaskStatusQueued {
		_, err := repo.UpdateTaskStatusIf(context.Background(), id, core.TaskStatusQueued, core.TaskStatusRunning, "", nil, nil)
		require.NoError(t, err)
		if status != core.TaskStatusRunning {
			_, err := repo.UpdateTaskStatusIf(context.Background(), id, core.TaskStatusRunning, status, "set", nil, nil)
			require.NoError(t, err)
		}
	}
	return task
}

func TestAnalyser_Analyze_Disputes(t *testing.T) {
	repo := store.NewMemoryRepository()
	art := artifacts.New(t.TempDir())
	ctx := context.Background()

	newTestTask(t, repo, "task-1", core.TaskStatusFailedGate)

	round := 1
	_, err := repo.AppendEvent(ctx, "task-1", core.EventReview, map[string]any{
		"reviewer": "codex#r1",
		"verdict":  "blocker",
		"output":   "missing test coverage",
	}, &round)
	require.NoError(t, err)
	_, err = repo.AppendEvent(ctx, "task-1", core.EventGateFailed, map[string]any{"reason": "review_blocker"}, &round)
	require.NoError(t, err)

	a := New(repo, art)
	report, err := a.Analyze(ctx, "task-1")
	require.NoError(t, err)

	require.Len(t, report.Disputes, 2)
	assert.Equal(t, "review", report.Disputes[0].Kind)
	assert.Equal(t, "blocker", report.Disputes[0].Verdict)
	assert.Equal(t, "gate_failed", report.Disputes[1].Kind)
	assert.Contains(t, report.NextSteps[0], "review_blocker")
}

func TestAnalyser_Analyze_StalledConsensusNextSteps(t *testing.T) {
	repo := store.NewMemoryRepository()
	art := artifacts.New(t.TempDir())
	ctx := context.Background()

	newTestTask(t, repo, "task-2", core.TaskStatusWaitingManual)

	round := 1
	_, err := repo.AppendEvent(ctx, "task-2", core.EventProposalConsensusStalled, map[string]any{
		"stall_kind":     "in_round",
		"attempt":        3,
		"retry_limit":    3,
		"verdict_counts": map[string]any{"blocker": 1, "unknown": 1},
	}, &round)
	require.NoError(t, err)

	a := New(repo, art)
	report, err := a.Analyze(ctx, "task-2")
	require.NoError(t, err)

	require.Len(t, report.Disputes, 1)
	assert.Equal(t, "proposal_consensus_stalled", report.Disputes[0].Kind)
	assert.Equal(t, "in_round", report.Disputes[0].StallKind)
	assert.Equal(t, 3, report.Disputes[0].RetryLimit)
	assert.Equal(t, map[string]int{"blocker": 1, "unknown": 1}, report.Disputes[0].VerdictCounts)
	assert.Contains(t, report.NextSteps[0], "no consensus")
}

func TestAnalyser_Analyze_RevisionsAndFindings(t *testing.T) {
	repo := store.NewMemoryRepository()
	art := artifacts.New(t.TempDir())
	ctx := context.Background()

	newTestTask(t, repo, "task-3", core.TaskStatusPassed)

	round := 1
	_, err := repo.AppendEvent(ctx, "task-3", core.EventGatePassed, map[string]any{"reason": "passed"}, &round)
	require.NoError(t, err)
	_, err = repo.AppendEvent(ctx, "task-3", core.EventAutoMergeCompleted, map[string]any{
		"mode":           "cross_repo",
		"changed_files":  []any{"a.txt"},
		"deleted_files":  []any{},
		"snapshot_path":  "/tmp/snap.zip",
		"changelog_path": "/tmp/CHANGELOG.md",
	}, &round)
	require.NoError(t, err)

	a := New(repo, art)
	report, err := a.Analyze(ctx, "task-3")
	require.NoError(t, err)

	require.Len(t, report.Revisions, 1)
	assert.Equal(t, "cross_repo", report.Revisions[0].Mode)
	assert.Equal(t, []string{"a.txt"}, report.Revisions[0].ChangedFiles)
	assert.NotEmpty(t, report.CoreFindings)
	assert.Equal(t, []string{"Task passed all gates. No further action needed."}, report.NextSteps)
}

func TestAnalyser_Analyze_PrefersMarkdownSummary(t *testing.T) {
	repo := store.NewMemoryRepository()
	art := artifacts.New(t.TempDir())
	ctx := context.Background()

	newTestTask(t, repo, "task-4", core.TaskStatusRunning)
	require.NoError(t, art.WriteMarkdown("task-4", "summary.md", "# Summary\n\nThe fix addresses the race condition.\n"))

	a := New(repo, art)
	report, err := a.Analyze(ctx, "task-4")
	require.NoError(t, err)

	require.Len(t, report.CoreFindings, 1)
	assert.Equal(t, "The fix addresses the race condition.", report.CoreFindings[0])
}
