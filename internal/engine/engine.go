// Package engine implements the Workflow Engine: it drives a
// task through bounded rounds of discussion, review, verification, and
// gating, serializing every status transition through the repository's
// compare-and-set contract.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/awe-dev/agentcheck/internal/artifacts"
	"github.com/awe-dev/agentcheck/internal/core"
	"github.com/awe-dev/agentcheck/internal/events"
	"github.com/awe-dev/agentcheck/internal/fusion"
	"github.com/awe-dev/agentcheck/internal/gate"
	"github.com/awe-dev/agentcheck/internal/logging"
	"github.com/awe-dev/agentcheck/internal/runner"
	"github.com/awe-dev/agentcheck/internal/sandbox"
	"github.com/awe-dev/agentcheck/internal/store"
)

// Deps bundles the collaborators the engine needs for one task run.
type Deps struct {
	Repo      store.Repository
	Artifacts *artifacts.Store
	Runner    *runner.Runner
	Sandbox   *sandbox.Manager
	Bus       *events.Bus
	Logger    *logging.Logger

	// Promotion gates Auto-Fusion's cross-repo merge against the target
	// tree's branch/cleanliness policy.
	Promotion fusion.PromotionGuardConfig

	// ConsensusStallAttempts bounds how many in-round re-review attempts
	// the engine makes before declaring a stalled proposal.
	ConsensusStallAttempts int
	// TaskTimeoutSeconds carries the configured watchdog threshold. The
	// engine does not read it; SweepWatchdog takes its timeout as an argument.
	TaskTimeoutSeconds int
	// ParticipantTimeoutSeconds bounds each Runner invocation.
	ParticipantTimeoutSeconds int
	// CommandTimeoutSeconds bounds each test_command/lint_command run.
	CommandTimeoutSeconds int
}

// Engine runs one task at a time through RunTask; callers (the Service,
// typically one goroutine per admitted task) are responsible for
// concurrency across tasks.
type Engine struct {
	deps Deps
}

// New creates an Engine.
func New(deps Deps) *Engine {
	if deps.ConsensusStallAttempts <= 0 {
		deps.ConsensusStallAttempts = 3
	}
	return &Engine{deps: deps}
}

// RunTask drives taskID from queued (or a resumed waiting_manual/failed_gate/
// failed_system state) through to a terminal status, or until it yields at
// waiting_manual.
func (e *Engine) RunTask(ctx context.Context, taskID core.TaskID) error {
	task, err := e.deps.Repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	if task.Status != core.TaskStatusRunning {
		if !core.CanTransition(task.Status, core.TaskStatusRunning) {
			return core.ErrValidation("INVALID_RESUME", fmt.Sprintf("cannot run task from status %s", task.Status))
		}
		if task.Status != core.TaskStatusQueued {
			e.checkWorkspaceDrift(ctx, task)
		}
		updated, err := e.deps.Repo.UpdateTaskStatusIf(ctx, taskID, task.Status, core.TaskStatusRunning, "", nil, nil)
		if err != nil {
			return err
		}
		if updated == nil {
			// Another writer already moved it first; nothing to do here.
			return nil
		}
		task = updated
	}

	return e.runRounds(ctx, task)
}

// checkWorkspaceDrift recomputes the workspace fingerprint on a resumed
// task and records a history event when any root drifted from what was
// observed at creation. Drift is surfaced, not enforced: the operator
// resumed knowingly, and the event log keeps the evidence.
func (e *Engine) checkWorkspaceDrift(ctx context.Context, task *core.Task) {
	recorded, ok := core.DecodeWorkspaceFingerprint(task.WorkspaceFingerprint)
	if !ok {
		return
	}
	current := core.BuildWorkspaceFingerprint(task.ProjectPath, task.WorkspacePath, task.SandboxWorkspacePath, task.MergeTargetPath)
	if !recorded.Drifted(current) {
		return
	}
	if e.deps.Logger != nil {
		e.deps.Logger.Warn("workspace_drift_detected", "task_id", string(task.TaskID))
	}
	e.emit(ctx, task, core.EventHistoryEvent, task.RoundsCompleted, map[string]any{
		"kind":     "workspace_drift_detected",
		"recorded": recorded,
		"current":  current,
	})
}

func (e *Engine) emit(ctx context.Context, task *core.Task, eventType core.EventType, round int, payload map[string]any) {
	ev, err := e.deps.Repo.AppendEvent(ctx, task.TaskID, eventType, payload, &round)
	if err != nil {
		if e.deps.Logger != nil {
			e.deps.Logger.Warn("event_append_failed", "task_id", string(task.TaskID), "type", string(eventType), "error", err.Error())
		}
		return
	}
	if e.deps.Artifacts != nil {
		_ = e.deps.Artifacts.AppendEventLine(task.TaskID, ev)
	}
	publishTaskEvent(e.deps.Bus, ev)
}

// checkCancel re-reads cancel_requested and, if set, transitions the task to
// canceled. Returns true when the caller should stop processing.
func (e *Engine) checkCancel(ctx context.Context, task *core.Task) (bool, error) {
	requested, err := e.deps.Repo.IsCancelRequested(ctx, task.TaskID)
	if err != nil {
		return false, err
	}
	if !requested {
		return false, nil
	}
	if _, err := e.deps.Repo.UpdateTaskStatusIf(ctx, task.TaskID, task.Status, core.TaskStatusCanceled, core.ReasonCancelled, nil, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) resolveModel(task *core.Task, p core.Participant) string {
	if m, ok := task.ParticipantModels[p.String()]; ok && m != "" {
		return m
	}
	return task.ProviderModels[p.Provider]
}

func (e *Engine) resolveModelParams(task *core.Task, p core.Participant) string {
	if m, ok := task.ParticipantModelParams[p.String()]; ok && m != "" {
		return m
	}
	return task.ProviderModelParams[p.Provider]
}

// runRounds executes the bounded discussion/review/verification/gate loop
// until the task reaches a terminal status or yields at
// waiting_manual.
func (e *Engine) runRounds(ctx context.Context, task *core.Task) error {
	priorStalls, err := e.priorStallCount(ctx, task.TaskID)
	if err != nil {
		return err
	}
	strategyHint := ""

	for {
		if stop, err := e.checkCancel(ctx, task); err != nil {
			return err
		} else if stop {
			return nil
		}

		round := task.RoundsCompleted + 1

		// 1. Discussion.
		prompt := buildDiscussionPrompt(task, strategyHint)
		discussion, err := e.deps.Runner.Run(ctx, runner.Options{
			Participant:      task.AuthorParticipant,
			Prompt:           prompt,
			WorkDir:          task.WorkspacePath,
			TimeoutSeconds:   e.deps.ParticipantTimeoutSeconds,
			Model:            e.resolveModel(task, task.AuthorParticipant),
			ModelParams:      e.resolveModelParams(task, task.AuthorParticipant),
			ClaudeTeamAgents: task.ClaudeTeamAgents,
		})
		if err != nil {
			return e.failSystem(ctx, task, err)
		}
		e.emit(ctx, task, core.EventDiscussion, round, map[string]any{"output": discussion.Output})
		if e.deps.Artifacts != nil {
			section := fmt.Sprintf("## Round %d — %s\n\n%s\n\n", round, task.AuthorParticipant, discussion.Output)
			_ = e.deps.Artifacts.AppendMarkdown(task.TaskID, "discussion.md", section)
		}

		if stop, err := e.checkCancel(ctx, task); err != nil {
			return err
		} else if stop {
			return nil
		}

		// 2. Review, with in-round retry on a mixed/stalled consensus.
		var verdicts []core.ReviewVerdict
		stalled := false
		for attempt := 1; attempt <= e.deps.ConsensusStallAttempts; attempt++ {
			verdicts = e.reviewOnce(ctx, task, round, discussion.Output)
			if !mixedConsensus(verdicts) {
				stalled = false
				break
			}
			stalled = true
		}

		if stalled {
			kind := "in_round"
			if priorStalls > 0 {
				kind = "across_rounds"
			}
			priorStalls++
			e.emit(ctx, task, core.EventProposalConsensusStalled, round, map[string]any{
				"stall_kind":     kind,
				"round":          round,
				"attempt":        e.deps.ConsensusStallAttempts,
				"retry_limit":    e.deps.ConsensusStallAttempts,
				"verdict_counts": verdictCounts(verdicts),
			})
			updated, err := e.deps.Repo.UpdateTaskStatusIf(ctx, task.TaskID, core.TaskStatusRunning, core.TaskStatusWaitingManual, "proposal_consensus_stalled", nil, nil)
			if err != nil {
				return err
			}
			if updated != nil {
				task = updated
			}
			return nil
		}

		if stop, err := e.checkCancel(ctx, task); err != nil {
			return err
		} else if stop {
			return nil
		}

		// 3. Verification.
		testsOK, lintOK, err := e.verify(ctx, task)
		if err != nil {
			return e.failSystem(ctx, task, err)
		}

		// 4. Gate.
		outcome := gate.Evaluate(testsOK, lintOK, verdicts)
		roundsCompleted := round
		if outcome.Passed {
			e.emit(ctx, task, core.EventGatePassed, round, map[string]any{"reason": outcome.Reason})
			updated, err := e.deps.Repo.UpdateTaskStatusIf(ctx, task.TaskID, core.TaskStatusRunning, core.TaskStatusPassed, outcome.Reason, &roundsCompleted, nil)
			if err != nil {
				return err
			}
			if updated != nil {
				task = updated
			}
			if err := e.runFusion(ctx, task); err != nil {
				return err
			}
			e.writeTerminalArtifacts(task, verdicts)
			e.cleanupSandboxOnPass(task)
			return nil
		}

		e.emit(ctx, task, core.EventGateFailed, round, map[string]any{"reason": outcome.Reason})

		if roundsCompleted >= task.MaxRounds {
			updated, err := e.deps.Repo.UpdateTaskStatusIf(ctx, task.TaskID, core.TaskStatusRunning, core.TaskStatusFailedGate, outcome.Reason, &roundsCompleted, nil)
			if err != nil {
				return err
			}
			if updated != nil {
				task = updated
			}
			e.writeTerminalArtifacts(task, verdicts)
			return nil
		}

		if err := e.deps.Repo.UpdateTaskStatus(ctx, task.TaskID, core.TaskStatusRunning, outcome.Reason, &roundsCompleted); err != nil {
			return err
		}
		task.RoundsCompleted = roundsCompleted
		strategyHint = strategyHintFor(outcome.Reason)
	}
}

// priorStallCount returns how many proposal_consensus_stalled events already
// exist in the task's event log, so a stall observed in this RunTask call can
// be classified as a first-time "in_round" stall versus an "across_rounds"
// repeat surviving a prior waiting_manual resume.
func (e *Engine) priorStallCount(ctx context.Context, taskID core.TaskID) (int, error) {
	evs, err := e.deps.Repo.ListEvents(ctx, taskID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, ev := range evs {
		if ev.Type == core.EventProposalConsensusStalled {
			count++
		}
	}
	return count, nil
}

// reviewOnce invokes every reviewer once and returns their verdicts,
// substituting a synthetic unknown verdict for any reviewer whose runner
// call fails with a classified runtime error.
func (e *Engine) reviewOnce(ctx context.Context, task *core.Task, round int, proposal string) []core.ReviewVerdict {
	verdicts := make([]core.ReviewVerdict, 0, len(task.ReviewerParticipants))
	for _, reviewer := range task.ReviewerParticipants {
		result, err := e.deps.Runner.Run(ctx, runner.Options{
			Participant:    reviewer,
			Prompt:         buildReviewPrompt(task, proposal),
			WorkDir:        task.WorkspacePath,
			TimeoutSeconds: e.deps.ParticipantTimeoutSeconds,
			Model:          e.resolveModel(task, reviewer),
			ModelParams:    e.resolveModelParams(task, reviewer),
		})
		if err != nil {
			reason := core.Reason(err)
			e.emit(ctx, task, core.EventReviewError, round, map[string]any{"reviewer": reviewer.String(), "reason": reason})
			e.emit(ctx, task, core.EventReview, round, map[string]any{
				"reviewer": reviewer.String(),
				"verdict":  string(core.VerdictUnknown),
				"output":   "[review_error] " + reason,
			})
			verdicts = append(verdicts, core.VerdictUnknown)
			continue
		}
		e.emit(ctx, task, core.EventReview, round, map[string]any{
			"reviewer": reviewer.String(),
			"verdict":  string(result.Verdict),
			"output":   result.Output,
		})
		verdicts = append(verdicts, result.Verdict)
	}
	return verdicts
}

func mixedConsensus(verdicts []core.ReviewVerdict) bool {
	hasBlocker, hasUnknown := false, false
	for _, v := range verdicts {
		switch v {
		case core.VerdictBlocker:
			hasBlocker = true
		case core.VerdictUnknown:
			hasUnknown = true
		}
	}
	return hasBlocker && hasUnknown
}

func verdictCounts(verdicts []core.ReviewVerdict) map[string]int {
	counts := map[string]int{}
	for _, v := range verdicts {
		counts[string(v)]++
	}
	return counts
}

func (e *Engine) verify(ctx context.Context, task *core.Task) (testsOK, lintOK bool, err error) {
	testResult, runErr := runCommand(ctx, ExecutorOptions{
		Command:        task.TestCommand,
		WorkDir:        task.WorkspacePath,
		TimeoutSeconds: e.deps.CommandTimeoutSeconds,
	})
	if runErr != nil {
		return false, false, core.ErrRuntime(core.ReasonCommandFailed, "", task.TestCommand, runErr.Error())
	}
	testsOK = testResult.ReturnCode == 0 && !testResult.TimedOut

	lintResult, runErr := runCommand(ctx, ExecutorOptions{
		Command:        task.LintCommand,
		WorkDir:        task.WorkspacePath,
		TimeoutSeconds: e.deps.CommandTimeoutSeconds,
	})
	if runErr != nil {
		return false, false, core.ErrRuntime(core.ReasonCommandFailed, "", task.LintCommand, runErr.Error())
	}
	lintOK = lintResult.ReturnCode == 0 && !lintResult.TimedOut

	return testsOK, lintOK, nil
}

// writeTerminalArtifacts snapshots the terminal task row to state.json and
// renders summary.md, final_report.md, and decisions.json from it.
func (e *Engine) writeTerminalArtifacts(task *core.Task, verdicts []core.ReviewVerdict) {
	if e.deps.Artifacts == nil {
		return
	}
	_ = e.deps.Artifacts.WriteState(task.TaskID, task)

	var summary strings.Builder
	fmt.Fprintf(&summary, "# %s\n\n", task.Title)
	fmt.Fprintf(&summary, "Task %s finished with status %s after %d round(s).\n\n", task.TaskID, task.Status, task.RoundsCompleted)
	fmt.Fprintf(&summary, "Gate reason: %s\n", task.LastGateReason)
	_ = e.deps.Artifacts.WriteMarkdown(task.TaskID, "summary.md", summary.String())

	var report strings.Builder
	fmt.Fprintf(&report, "# Final report: %s\n\n", task.Title)
	fmt.Fprintf(&report, "- Status: %s\n- Rounds: %d/%d\n- Gate reason: %s\n", task.Status, task.RoundsCompleted, task.MaxRounds, task.LastGateReason)
	fmt.Fprintf(&report, "- Author: %s\n", task.AuthorParticipant)
	for _, r := range task.ReviewerParticipants {
		fmt.Fprintf(&report, "- Reviewer: %s\n", r)
	}
	_ = e.deps.Artifacts.WriteMarkdown(task.TaskID, "final_report.md", report.String())

	verdictStrings := make([]string, 0, len(verdicts))
	for _, v := range verdicts {
		verdictStrings = append(verdictStrings, string(v))
	}
	_ = e.deps.Artifacts.WriteDecisions(task.TaskID, map[string]any{
		"status":           string(task.Status),
		"last_gate_reason": task.LastGateReason,
		"rounds_completed": task.RoundsCompleted,
		"final_verdicts":   verdictStrings,
	})
}

// cleanupSandboxOnPass removes a generated sandbox once the task has
// passed, when the task opted in. Operator-supplied sandboxes are never
// removed.
func (e *Engine) cleanupSandboxOnPass(task *core.Task) {
	if !task.SandboxCleanupOnPass || !task.SandboxGenerated || task.SandboxWorkspacePath == "" {
		return
	}
	if e.deps.Sandbox == nil {
		return
	}
	if err := e.deps.Sandbox.Remove(task.SandboxWorkspacePath); err != nil && e.deps.Logger != nil {
		e.deps.Logger.Warn("sandbox_cleanup_failed", "task_id", string(task.TaskID), "error", err.Error())
	}
}

// runFusion promotes sandbox changes into merge_target_path when the task
// is configured for auto-merge. A cross-repo merge is
// first checked against the promotion guard; a blocked merge is recorded
// as a manual_gate event instead of failing the already-passed task.
func (e *Engine) runFusion(ctx context.Context, task *core.Task) error {
	if !task.AutoMerge || !task.SandboxMode {
		return nil
	}
	targetRoot := task.MergeTargetPath
	if targetRoot == "" {
		targetRoot = task.ProjectPath
	}
	guard, err := fusion.EvaluatePromotionGuard(e.deps.Promotion, targetRoot)
	if err != nil {
		return err
	}
	if !guard.Allowed {
		e.emit(ctx, task, core.EventManualGate, task.RoundsCompleted, map[string]any{
			"kind":   "promotion_guard_blocked",
			"reason": guard.Reason,
			"branch": guard.Branch,
			"target": targetRoot,
		})
		return nil
	}
	// The before-manifest was captured when the sandbox was bootstrapped;
	// a task created before that artifact existed falls back to diffing
	// against the target tree's current contents.
	var before fusion.Manifest
	if e.deps.Artifacts != nil {
		if ok, err := e.deps.Artifacts.ReadArtifact(task.TaskID, "before_manifest", &before); err != nil {
			return err
		} else if !ok {
			before = nil
		}
	}
	if before == nil {
		m, err := fusion.BuildManifest(targetRoot)
		if err != nil {
			return err
		}
		before = m
	}

	snapshotDir := task.WorkspacePath
	if e.deps.Artifacts != nil {
		if dir, err := e.deps.Artifacts.TaskDir(task.TaskID); err == nil {
			snapshotDir = filepath.Join(dir, "snapshots")
		}
	}

	result, err := fusion.Fuse(fusion.Input{
		TaskID:         task.TaskID,
		SourceRoot:     task.WorkspacePath,
		TargetRoot:     targetRoot,
		BeforeManifest: before,
		SnapshotDir:    snapshotDir,
		MergedAt:       time.Now(),
	})
	if err != nil {
		return err
	}
	e.emit(ctx, task, core.EventAutoMergeCompleted, task.RoundsCompleted, map[string]any{
		"mode":           string(result.Mode),
		"changed_files":  result.ChangedFiles,
		"deleted_files":  result.DeletedFiles,
		"snapshot_path":  result.SnapshotPath,
		"changelog_path": result.ChangelogPath,
	})
	return nil
}

func (e *Engine) failSystem(ctx context.Context, task *core.Task, runErr error) error {
	reason := core.Reason(runErr)
	provider, command := "", ""
	if de, ok := runErr.(*core.DomainError); ok {
		if p, ok := de.Details["provider"].(string); ok {
			provider = p
		}
		if c, ok := de.Details["command"].(string); ok {
			command = c
		}
	}
	gateReason := core.RuntimeReasonToGateReason(reason, provider, command)
	if _, err := e.deps.Repo.UpdateTaskStatusIf(ctx, task.TaskID, core.TaskStatusRunning, core.TaskStatusFailedSystem, gateReason, nil, nil); err != nil {
		return err
	}
	return nil
}

func buildDiscussionPrompt(task *core.Task, strategyHint string) string {
	var b strings.Builder
	b.WriteString(task.Description)
	if strategyHint != "" {
		b.WriteString("\n\n")
		b.WriteString(strategyHint)
	}
	return b.String()
}

func buildReviewPrompt(task *core.Task, proposal string) string {
	return "Review the following proposal for: " + task.Description + "\n\n" + proposal
}

// strategyHintFor injects a round-to-round retry hint keyed on the prior
// gate failure reason.
func strategyHintFor(reason string) string {
	switch reason {
	case core.ReasonTestsFailed:
		return "The previous round failed tests. Focus on making the test suite pass."
	case core.ReasonLintFailed:
		return "The previous round failed lint. Focus on resolving lint violations."
	case core.ReasonReviewBlocker:
		return "A reviewer raised a BLOCKER. Address their concerns directly."
	case core.ReasonReviewUnknown:
		return "A reviewer's verdict could not be classified. Clarify ambiguous areas."
	default:
		return "The previous round did not pass the gate. Revise the proposal."
	}
}
