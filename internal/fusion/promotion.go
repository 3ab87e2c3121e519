package fusion

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/awe-dev/agentcheck/internal/core"
)

// PromotionGuardConfig controls whether a cross-repo merge into a target
// tree is allowed to proceed (AWE_PROMOTION_GUARD_ENABLED /
// AWE_PROMOTION_REQUIRE_CLEAN / AWE_PROMOTION_ALLOWED_BRANCHES).
type PromotionGuardConfig struct {
	Enabled         bool
	RequireClean    bool
	AllowedBranches []string
}

// GuardResult is the outcome of evaluating the promotion guard against a
// target tree.
type GuardResult struct {
	Allowed bool
	Reason  string
	Branch  string
}

// EvaluatePromotionGuard checks the target tree's git branch and working
// tree cleanliness against the configured policy before a cross-repo fusion
// is allowed to proceed. A target that is not a git repository is always
// allowed — the guard only applies when it can establish a branch.
func EvaluatePromotionGuard(cfg PromotionGuardConfig, targetRoot string) (GuardResult, error) {
	if !cfg.Enabled {
		return GuardResult{Allowed: true, Reason: "guard_disabled"}, nil
	}

	branch, err := gitCurrentBranch(targetRoot)
	if err != nil {
		return GuardResult{Allowed: true, Reason: "not_a_git_repo"}, nil
	}

	if len(cfg.AllowedBranches) > 0 && !containsString(cfg.AllowedBranches, branch) {
		return GuardResult{Allowed: false, Reason: "branch_not_allowed: " + branch, Branch: branch}, nil
	}

	if cfg.RequireClean {
		clean, err := gitIsClean(targetRoot)
		if err != nil {
			return GuardResult{}, err
		}
		if !clean {
			return GuardResult{Allowed: false, Reason: "worktree_not_clean", Branch: branch}, nil
		}
	}

	return GuardResult{Allowed: true, Reason: "passed", Branch: branch}, nil
}

// IsGitRepo reports whether root is the working tree of a git repository.
// Used by the risk gate's head-sha-gate check to tell "not a git project"
// (check does not apply) from "git project with no resolvable HEAD" (fails).
func IsGitRepo(root string) bool {
	info, err := os.Stat(filepath.Join(root, ".git"))
	return err == nil && (info.IsDir() || info.Mode().IsRegular())
}

// ReadHeadSHA resolves the 40-char lowercase hex HEAD commit of root, used
// by the risk gate's head-sha-gate check.
func ReadHeadSHA(root string) (string, error) {
	out, err := runGit(root, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	sha := strings.TrimSpace(out)
	if len(sha) != 40 || !isLowerHex(sha) {
		return "", core.ErrValidation("INVALID_HEAD_SHA", "git rev-parse HEAD did not return a 40-char hex sha")
	}
	return sha, nil
}

func gitCurrentBranch(root string) (string, error) {
	out, err := runGit(root, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func gitIsClean(root string) (bool, error) {
	out, err := runGit(root, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "", nil
}

func runGit(dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = absDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", core.ErrStorage("GIT_COMMAND_FAILED", stderr.String(), false).WithCause(err)
	}
	return stdout.String(), nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func isLowerHex(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
