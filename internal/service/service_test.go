package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awe-dev/agentcheck/internal/artifacts"
	"github.com/awe-dev/agentcheck/internal/core"
	"github.com/awe-dev/agentcheck/internal/engine"
	"github.com/awe-dev/agentcheck/internal/logging"
	"github.com/awe-dev/agentcheck/internal/runner"
	"github.com/awe-dev/agentcheck/internal/sandbox"
	"github.com/awe-dev/agentcheck/internal/store"
)

func newTestService(t *testing.T) (*Service, store.Repository) {
	t.Helper()
	repo := store.NewMemoryRepository()
	art := artifacts.New(t.TempDir())
	sb := sandbox.New(t.TempDir())
	table := runner.NewProviderTable(nil)
	dryRunner := runner.New(table, logging.NewNop(), true, 0)
	eng := engine.New(engine.Deps{
		Repo:                      repo,
		Artifacts:                 art,
		Runner:                    dryRunner,
		ConsensusStallAttempts:    3,
		ParticipantTimeoutSeconds: 30,
		CommandTimeoutSeconds:     30,
	})
	svc := New(Deps{
		Repo:                 repo,
		Artifacts:            art,
		Sandbox:              sb,
		SupportedProvider:    func(p string) bool { return p == "claude" || p == "codex" },
		Engine:               eng,
		Logger:               logging.NewNop(),
		MaxConcurrentRunning: 2,
	})
	return svc, repo
}

func baseRequest(t *testing.T) CreateRequest {
	t.Helper()
	return CreateRequest{
		Title:                "add a feature",
		Description:          "implement the thing",
		Author:               "claude#author",
		Reviewers:            []string{"codex#reviewer"},
		ProjectPath:          t.TempDir(),
		TestCommand:          "true",
		LintCommand:          "true",
		MaxRounds:            1,
		RepairMode:           core.RepairModeBalanced,
		ConversationLanguage: "en",
	}
}

func TestService_CreateTask_HappyPath(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	task, err := svc.CreateTask(ctx, "task-1", baseRequest(t))
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusQueued, task.Status)
	assert.Equal(t, task.ProjectPath, task.WorkspacePath)
	assert.NotEmpty(t, task.WorkspaceFingerprint)

	got, err := repo.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, task.Title, got.Title)
}

func TestService_CreateTask_UnknownProvider(t *testing.T) {
	svc, _ := newTestService(t)
	req := baseRequest(t)
	req.Author = "unknown#author"

	_, err := svc.CreateTask(context.Background(), "task-1", req)
	require.Error(t, err)
	assert.Equal(t, "UNKNOWN_PROVIDER", core.Reason(err))
}

func TestService_CreateTask_MissingWorkspace(t *testing.T) {
	svc, _ := newTestService(t)
	req := baseRequest(t)
	req.ProjectPath = "/no/such/path/does-not-exist"

	_, err := svc.CreateTask(context.Background(), "task-1", req)
	require.Error(t, err)
	assert.Equal(t, "INVALID_WORKSPACE_PATH", core.Reason(err))
}

func TestService_CreateTask_InvalidLanguage(t *testing.T) {
	svc, _ := newTestService(t)
	req := baseRequest(t)
	req.ConversationLanguage = "fr"

	_, err := svc.CreateTask(context.Background(), "task-1", req)
	require.Error(t, err)
	assert.Equal(t, "INVALID_CONVERSATION_LANGUAGE", core.Reason(err))
}

func TestService_CreateTask_MultiRoundForcesSandbox(t *testing.T) {
	svc, _ := newTestService(t)
	req := baseRequest(t)
	req.MaxRounds = 3
	req.AutoMerge = false

	task, err := svc.CreateTask(context.Background(), "task-1", req)
	require.NoError(t, err)
	assert.True(t, task.SandboxMode)
	assert.NotEqual(t, task.ProjectPath, task.WorkspacePath)
}

func TestService_CreateTask_InvalidParticipantModelKey(t *testing.T) {
	svc, _ := newTestService(t)
	req := baseRequest(t)
	req.ParticipantModels = map[string]string{"codex#stranger": "gpt"}

	_, err := svc.CreateTask(context.Background(), "task-1", req)
	require.Error(t, err)
	assert.Equal(t, "INVALID_PARTICIPANT_MODEL_KEY", core.Reason(err))
}

func TestService_Admit_RunsTaskToCompletion(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateTask(ctx, "task-1", baseRequest(t))
	require.NoError(t, err)

	require.NoError(t, svc.Admit(ctx, "task-1"))

	require.Eventually(t, func() bool {
		got, err := repo.GetTask(ctx, "task-1")
		return err == nil && got.Status.IsTerminal()
	}, 2*time.Second, 10*time.Millisecond)

	got, err := repo.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusPassed, got.Status)
}

func TestService_Admit_ConcurrencyLimitLeavesTaskQueued(t *testing.T) {
	svc, repo := newTestService(t)
	svc.sem.TryAcquire(2) // saturate the ceiling (MaxConcurrentRunning=2)
	ctx := context.Background()

	_, err := svc.CreateTask(ctx, "task-1", baseRequest(t))
	require.NoError(t, err)

	require.NoError(t, svc.Admit(ctx, "task-1"))

	got, err := repo.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusQueued, got.Status)
	assert.Equal(t, core.ReasonConcurrencyLimit, got.LastGateReason)
}

func TestService_CreateTask_PreflightGateRejectsHighRiskWorkspace(t *testing.T) {
	svc, _ := newTestService(t)
	req := baseRequest(t)

	root := req.ProjectPath
	for _, name := range []string{"prod", "security", "payment"} {
		require.NoError(t, os.Mkdir(filepath.Join(root, name), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(root, name, "f.go"), []byte("package x"), 0o644))
	}
	req.Reviewers = nil
	req.TestCommand = ""

	_, err := svc.CreateTask(context.Background(), "task-1", req)
	require.Error(t, err)
	assert.Equal(t, core.ReasonPreflightFailed, core.Reason(err))
}

func TestService_Cancel_SetsStickyFlag(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateTask(ctx, "task-1", baseRequest(t))
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(ctx, "task-1"))

	requested, err := repo.IsCancelRequested(ctx, "task-1")
	require.NoError(t, err)
	assert.True(t, requested)
}
