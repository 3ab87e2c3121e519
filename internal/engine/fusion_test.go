package engine

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awe-dev/agentcheck/internal/artifacts"
	"github.com/awe-dev/agentcheck/internal/core"
	"github.com/awe-dev/agentcheck/internal/fusion"
	"github.com/awe-dev/agentcheck/internal/logging"
	"github.com/awe-dev/agentcheck/internal/runner"
	"github.com/awe-dev/agentcheck/internal/sandbox"
	"github.com/awe-dev/agentcheck/internal/store"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestEngine_RunTask_ReviewerBlockerFailsGate(t *testing.T) {
	dir := t.TempDir()
	author := writeScript(t, dir, "author.sh", "echo 'proposal text'")
	blocker := writeScript(t, dir, "reviewer.sh", "echo 'VERDICT: BLOCKER'")

	table := runner.NewProviderTable(map[string]string{"claude": author, "codex": blocker})
	repo := store.NewMemoryRepository()
	eng := New(Deps{
		Repo:                      repo,
		Artifacts:                 artifacts.New(t.TempDir()),
		Runner:                    runner.New(table, logging.NewNop(), false, 0),
		ParticipantTimeoutSeconds: 10,
		CommandTimeoutSeconds:     10,
	})

	task := newRunnableTask(t, "task-blocker")
	task.MaxRounds = 1
	ctx := context.Background()
	require.NoError(t, repo.CreateTask(ctx, task))
	require.NoError(t, eng.RunTask(ctx, "task-blocker"))

	got, err := repo.GetTask(ctx, "task-blocker")
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusFailedGate, got.Status)
	assert.Equal(t, core.ReasonReviewBlocker, got.LastGateReason)

	evs, err := repo.ListEvents(ctx, "task-blocker")
	require.NoError(t, err)
	var sawBlockerReview bool
	for _, ev := range evs {
		if ev.Type == core.EventReview && ev.Payload["verdict"] == string(core.VerdictBlocker) {
			sawBlockerReview = true
		}
	}
	assert.True(t, sawBlockerReview)
}

func TestEngine_RunTask_ProviderLimitReviewerBecomesSyntheticUnknown(t *testing.T) {
	dir := t.TempDir()
	author := writeScript(t, dir, "author.sh", "echo 'proposal text'")
	limited := writeScript(t, dir, "reviewer.sh", "echo 'you have hit your limit for today'")

	table := runner.NewProviderTable(map[string]string{"claude": author, "codex": limited})
	repo := store.NewMemoryRepository()
	eng := New(Deps{
		Repo:                      repo,
		Artifacts:                 artifacts.New(t.TempDir()),
		Runner:                    runner.New(table, logging.NewNop(), false, 0),
		ParticipantTimeoutSeconds: 10,
		CommandTimeoutSeconds:     10,
	})

	task := newRunnableTask(t, "task-limit")
	task.MaxRounds = 1
	ctx := context.Background()
	require.NoError(t, repo.CreateTask(ctx, task))
	require.NoError(t, eng.RunTask(ctx, "task-limit"))

	got, err := repo.GetTask(ctx, "task-limit")
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusFailedGate, got.Status)
	assert.Equal(t, core.ReasonReviewUnknown, got.LastGateReason)

	evs, err := repo.ListEvents(ctx, "task-limit")
	require.NoError(t, err)
	var sawReviewError, sawSynthetic bool
	for _, ev := range evs {
		switch ev.Type {
		case core.EventReviewError:
			assert.Equal(t, core.ReasonProviderLimit, ev.Payload["reason"])
			sawReviewError = true
		case core.EventReview:
			if output, _ := ev.Payload["output"].(string); len(output) > 0 && output[0] == '[' {
				assert.Equal(t, string(core.VerdictUnknown), ev.Payload["verdict"])
				sawSynthetic = true
			}
		}
	}
	assert.True(t, sawReviewError)
	assert.True(t, sawSynthetic)
}

func TestEngine_RunTask_AutoMergeFusesSandboxIntoTarget(t *testing.T) {
	targetRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(targetRoot, "b.txt"), []byte("stale"), 0o644))

	sandboxRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(sandboxRoot, "b.txt"), []byte("stale"), 0o644))

	art := artifacts.New(t.TempDir())
	before, err := fusion.BuildManifest(sandboxRoot)
	require.NoError(t, err)
	require.NoError(t, art.WriteArtifact("task-merge", "before_manifest", before))

	// The workflow edits the sandbox: one new file, one deletion.
	require.NoError(t, os.WriteFile(filepath.Join(sandboxRoot, "a.txt"), []byte("v2"), 0o644))
	require.NoError(t, os.Remove(filepath.Join(sandboxRoot, "b.txt")))

	repo := store.NewMemoryRepository()
	table := runner.NewProviderTable(nil)
	eng := New(Deps{
		Repo:                      repo,
		Artifacts:                 art,
		Runner:                    runner.New(table, logging.NewNop(), true, 0),
		Sandbox:                   sandbox.New(t.TempDir()),
		ParticipantTimeoutSeconds: 10,
		CommandTimeoutSeconds:     10,
	})

	task := newRunnableTask(t, "task-merge")
	task.MaxRounds = 1
	task.SandboxMode = true
	task.AutoMerge = true
	task.SandboxGenerated = true
	task.SandboxCleanupOnPass = true
	task.SandboxWorkspacePath = sandboxRoot
	task.WorkspacePath = sandboxRoot
	task.ProjectPath = targetRoot
	task.MergeTargetPath = targetRoot

	ctx := context.Background()
	require.NoError(t, repo.CreateTask(ctx, task))
	require.NoError(t, eng.RunTask(ctx, "task-merge"))

	got, err := repo.GetTask(ctx, "task-merge")
	require.NoError(t, err)
	require.Equal(t, core.TaskStatusPassed, got.Status)

	data, err := os.ReadFile(filepath.Join(targetRoot, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
	_, err = os.Stat(filepath.Join(targetRoot, "b.txt"))
	assert.True(t, os.IsNotExist(err))

	evs, err := repo.ListEvents(ctx, "task-merge")
	require.NoError(t, err)
	var merge *core.TaskEvent
	for i := range evs {
		if evs[i].Type == core.EventAutoMergeCompleted {
			merge = &evs[i]
		}
	}
	require.NotNil(t, merge)
	assert.Equal(t, string(fusion.ModeCrossRepo), merge.Payload["mode"])

	// sandbox_cleanup_on_pass removed the generated sandbox.
	_, err = os.Stat(sandboxRoot)
	assert.True(t, os.IsNotExist(err))
}

func TestEngine_RunTask_PromotionGuardBlocksDisallowedBranch(t *testing.T) {
	targetRoot := t.TempDir()
	gitInit(t, targetRoot, "work")

	sandboxRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(sandboxRoot, "a.txt"), []byte("new"), 0o644))

	art := artifacts.New(t.TempDir())
	require.NoError(t, art.WriteArtifact("task-guard", "before_manifest", fusion.Manifest{}))

	repo := store.NewMemoryRepository()
	eng := New(Deps{
		Repo:                      repo,
		Artifacts:                 art,
		Runner:                    runner.New(runner.NewProviderTable(nil), logging.NewNop(), true, 0),
		Promotion:                 fusion.PromotionGuardConfig{Enabled: true, AllowedBranches: []string{"main"}},
		ParticipantTimeoutSeconds: 10,
		CommandTimeoutSeconds:     10,
	})

	task := newRunnableTask(t, "task-guard")
	task.MaxRounds = 1
	task.SandboxMode = true
	task.AutoMerge = true
	task.SandboxWorkspacePath = sandboxRoot
	task.WorkspacePath = sandboxRoot
	task.ProjectPath = targetRoot
	task.MergeTargetPath = targetRoot

	ctx := context.Background()
	require.NoError(t, repo.CreateTask(ctx, task))
	require.NoError(t, eng.RunTask(ctx, "task-guard"))

	// The merge was blocked, not the task: it passed, the file stayed out
	// of the target, and a manual_gate event records the blocked promotion.
	got, err := repo.GetTask(ctx, "task-guard")
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusPassed, got.Status)
	_, err = os.Stat(filepath.Join(targetRoot, "a.txt"))
	assert.True(t, os.IsNotExist(err))

	evs, err := repo.ListEvents(ctx, "task-guard")
	require.NoError(t, err)
	var sawManualGate bool
	for _, ev := range evs {
		if ev.Type == core.EventManualGate {
			assert.Equal(t, "promotion_guard_blocked", ev.Payload["kind"])
			sawManualGate = true
		}
	}
	assert.True(t, sawManualGate)
}

func gitInit(t *testing.T, root, branch string) {
	t.Helper()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = root
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
		require.NoError(t, cmd.Run())
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("x"), 0o644))
	run("init", "-q", "-b", branch)
	run("add", "-A")
	run("commit", "-q", "-m", "initial")
}
