package risk

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awe-dev/agentcheck/internal/core"
)

func TestEvaluate_LowTierWithReviewerAndCommands_Passes(t *testing.T) {
	task := newPreflightTask(t, "task-1", "add a feature")

	result, err := Evaluate(task, t.TempDir(), DefaultContract())
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Equal(t, TierLow, result.RiskTier)
	assert.Empty(t, result.FailedChecks)
}

func TestEvaluate_ReviewerAndCommandChecksAreUnconditional(t *testing.T) {
	// Even a low-tier task whose contract names none of these checks must
	// carry a reviewer, a test command, and a lint command.
	task := core.NewTask("task-1", "add a feature").WithDescription("implement the thing")

	result, err := Evaluate(task, t.TempDir(), DefaultContract())
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Contains(t, result.FailedChecks, "reviewers_present")
	assert.Contains(t, result.FailedChecks, "test_command_present")
	assert.Contains(t, result.FailedChecks, "lint_command_present")
}

func TestEvaluate_HighTier_RequiresHarnessAndReviewers(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"prod", "security", "payment"} {
		require.NoError(t, os.Mkdir(filepath.Join(root, name), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(root, name, "f.go"), []byte("package x"), 0o644))
	}

	task := core.NewTask("task-1", "touch prod payment auth")
	result, err := Evaluate(task, root, DefaultContract())
	require.NoError(t, err)
	assert.Equal(t, TierHigh, result.RiskTier)
	assert.False(t, result.Passed)
	assert.Contains(t, result.FailedChecks, "harness-smoke")
	assert.Contains(t, result.FailedChecks, "reviewers_present")

	author, err := core.ParseParticipant("claude#author")
	require.NoError(t, err)
	reviewer, err := core.ParseParticipant("codex#reviewer")
	require.NoError(t, err)

	// A test command alone is not enough: harness-smoke wants both
	// verification commands, and lint_command_present fails regardless.
	task.WithParticipants(author, reviewer).WithVerification("go test ./...", "")
	result, err = Evaluate(task, root, DefaultContract())
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Contains(t, result.FailedChecks, "harness-smoke")
	assert.Contains(t, result.FailedChecks, "lint_command_present")

	task.WithVerification("go test ./...", "go vet ./...")
	result, err = Evaluate(task, root, DefaultContract())
	require.NoError(t, err)
	assert.True(t, result.Passed)
}

func TestEvaluate_HeadSHAGate_OnlyAppliesToGitRepos(t *testing.T) {
	task := newPreflightTask(t, "task-1", "add a feature")

	plain, err := Evaluate(task, t.TempDir(), DefaultContract())
	require.NoError(t, err)
	assert.True(t, plain.Passed, "a non-git workspace has nothing for head-sha-gate to check")

	gitRoot := t.TempDir()
	runGitSetup(t, gitRoot)

	withCommit, err := Evaluate(task, gitRoot, DefaultContract())
	require.NoError(t, err)
	assert.True(t, withCommit.Passed)
	assert.Len(t, withCommit.HeadSHA, 40)
}

func TestEvaluate_BrowserConcern_RequiresBrowserCapableTest(t *testing.T) {
	task := newPreflightTask(t, "task-1", "fix the frontend UI layout bug")

	result, err := Evaluate(task, t.TempDir(), DefaultContract())
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Contains(t, result.FailedChecks, checkBrowserCapableTest)

	task.WithVerification("npx playwright test", "golangci-lint run")
	result, err = Evaluate(task, t.TempDir(), DefaultContract())
	require.NoError(t, err)
	assert.True(t, result.Passed)
}

func newPreflightTask(t *testing.T, id core.TaskID, title string) *core.Task {
	t.Helper()
	author, err := core.ParseParticipant("claude#author")
	require.NoError(t, err)
	reviewer, err := core.ParseParticipant("codex#reviewer")
	require.NoError(t, err)
	task := core.NewTask(id, title).WithDescription("implement the thing")
	task.WithParticipants(author, reviewer).WithVerification("go test ./...", "golangci-lint run")
	return task
}

func runGitSetup(t *testing.T, root string) {
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
	run("init", "-q")
	run("add", "-A")
	run("commit", "-q", "-m", "initial")
}
