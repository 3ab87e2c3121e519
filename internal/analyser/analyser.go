// Package analyser implements the Event Analyser: it reads a
// task's event log — from the repository, or from its on-disk
// events.jsonl fallback — and derives the core findings, disputes, fusion
// revisions, and next-step suggestions external presentation layers show.
package analyser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/awe-dev/agentcheck/internal/artifacts"
	"github.com/awe-dev/agentcheck/internal/core"
	"github.com/awe-dev/agentcheck/internal/store"
)

// maxFindingLength clips a markdown highlight or event snippet before it
// is surfaced as a core finding.
const maxFindingLength = 220

// Dispute records one blocking or unresolved reviewer outcome, or a gate
// failure, surfaced for operator attention.
type Dispute struct {
	Round    int    `json:"round"`
	Kind     string `json:"kind"` // "review" | "gate_failed" | "proposal_consensus_stalled"
	Reviewer string `json:"reviewer,omitempty"`
	Verdict  string `json:"verdict,omitempty"`
	Reason   string `json:"reason,omitempty"`

	// proposal_consensus_stalled detail.
	StallKind     string         `json:"stall_kind,omitempty"`
	Attempt       int            `json:"attempt,omitempty"`
	RetryLimit    int            `json:"retry_limit,omitempty"`
	VerdictCounts map[string]int `json:"verdict_counts,omitempty"`
}

// Revision summarizes one auto-merge completion.
type Revision struct {
	Round         int      `json:"round"`
	Mode          string   `json:"mode"`
	ChangedFiles  []string `json:"changed_files"`
	DeletedFiles  []string `json:"deleted_files"`
	SnapshotPath  string   `json:"snapshot_path,omitempty"`
	ChangelogPath string   `json:"changelog_path,omitempty"`
}

// Report is the Event Analyser's output for one task.
type Report struct {
	TaskID       core.TaskID `json:"task_id"`
	CoreFindings []string    `json:"core_findings"`
	Revisions    []Revision  `json:"revisions"`
	Disputes     []Dispute   `json:"disputes"`
	NextSteps    []string    `json:"next_steps"`
}

// Analyser derives reports from a task's persisted state.
type Analyser struct {
	repo      store.Repository
	artifacts *artifacts.Store
}

// New creates an Analyser. artifactStore may be nil, in which case the
// on-disk events.jsonl / summary.md fallback path is unavailable and the
// Analyser works purely from the repository.
func New(repo store.Repository, artifactStore *artifacts.Store) *Analyser {
	return &Analyser{repo: repo, artifacts: artifactStore}
}

// Analyze builds a Report for taskID from the repository's event list,
// falling back to the on-disk artifact log when the repository holds no
// events for the task. The task row is always read from the repository: an
// error from GetTask or ListEvents, including a task whose row was pruned,
// is returned as is and does not trigger the on-disk fallback.
func (a *Analyser) Analyze(ctx context.Context, taskID core.TaskID) (*Report, error) {
	task, err := a.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	events, err := a.repo.ListEvents(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 && a.artifacts != nil {
		if onDisk, ferr := readEventsFromDisk(a.artifacts, taskID); ferr == nil {
			events = onDisk
		}
	}

	report := &Report{TaskID: taskID}
	report.CoreFindings = a.coreFindings(taskID, events)
	report.Revisions = revisionsFromEvents(events)
	report.Disputes = disputesFromEvents(events)
	report.NextSteps = nextSteps(task, report.Disputes)
	return report, nil
}

// coreFindings prefers first non-heading lines from summary.md /
// final_report.md (clipped to maxFindingLength), falling back to
// evidence-bearing review/gate event snippets when no markdown summary
// exists yet.
func (a *Analyser) coreFindings(taskID core.TaskID, events []core.TaskEvent) []string {
	if a.artifacts != nil {
		if findings := findingsFromMarkdown(a.artifacts, taskID); len(findings) > 0 {
			return findings
		}
	}
	return findingsFromEvents(events)
}

func findingsFromMarkdown(art *artifacts.Store, taskID core.TaskID) []string {
	var findings []string
	for _, name := range []string{"summary.md", "final_report.md"} {
		content, ok := art.ReadMarkdown(taskID, name)
		if !ok {
			continue
		}
		if line := firstNonHeadingLine(content); line != "" {
			findings = append(findings, clip(line, maxFindingLength))
		}
	}
	return findings
}

func firstNonHeadingLine(content string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		return trimmed
	}
	return ""
}

// findingsFromEvents falls back to the review/gate events themselves when
// no markdown summary has been written: a no_blocker review or a gate_passed
// reason is the most evidence-bearing content available.
func findingsFromEvents(events []core.TaskEvent) []string {
	var findings []string
	for _, ev := range events {
		switch ev.Type {
		case core.EventReview, core.EventProposalReview, core.EventDebateReview:
			verdict, _ := ev.Payload["verdict"].(string)
			if verdict == string(core.VerdictNoBlocker) {
				if output, ok := ev.Payload["output"].(string); ok && output != "" {
					findings = append(findings, clip(output, maxFindingLength))
				}
			}
		case core.EventGatePassed:
			if reason, ok := ev.Payload["reason"].(string); ok {
				findings = append(findings, fmt.Sprintf("round %d: %s", ev.Round, reason))
			}
		}
	}
	return findings
}

// disputesFromEvents extends the prior two event types (review BLOCKER/
// UNKNOWN, gate_failed) with proposal_consensus_stalled details.
func disputesFromEvents(events []core.TaskEvent) []Dispute {
	var disputes []Dispute
	for _, ev := range events {
		switch ev.Type {
		case core.EventReview, core.EventProposalReview:
			verdict, _ := ev.Payload["verdict"].(string)
			if verdict != string(core.VerdictBlocker) && verdict != string(core.VerdictUnknown) {
				continue
			}
			reviewer, _ := ev.Payload["reviewer"].(string)
			disputes = append(disputes, Dispute{
				Round:    ev.Round,
				Kind:     "review",
				Reviewer: reviewer,
				Verdict:  verdict,
			})
		case core.EventGateFailed:
			reason, _ := ev.Payload["reason"].(string)
			disputes = append(disputes, Dispute{
				Round:  ev.Round,
				Kind:   "gate_failed",
				Reason: reason,
			})
		case core.EventProposalConsensusStalled:
			d := Dispute{
				Round:      ev.Round,
				Kind:       "proposal_consensus_stalled",
				RetryLimit: intFromPayload(ev.Payload, "retry_limit"),
				Attempt:    intFromPayload(ev.Payload, "attempt"),
			}
			if sk, ok := ev.Payload["stall_kind"].(string); ok {
				d.StallKind = sk
			}
			if counts, ok := ev.Payload["verdict_counts"].(map[string]int); ok {
				d.VerdictCounts = counts
			} else if raw, ok := ev.Payload["verdict_counts"].(map[string]any); ok {
				d.VerdictCounts = make(map[string]int, len(raw))
				for k, v := range raw {
					d.VerdictCounts[k] = intFromAny(v)
				}
			}
			disputes = append(disputes, d)
		}
	}
	return disputes
}

func revisionsFromEvents(events []core.TaskEvent) []Revision {
	var revisions []Revision
	for _, ev := range events {
		if ev.Type != core.EventAutoMergeCompleted {
			continue
		}
		rev := Revision{Round: ev.Round}
		if mode, ok := ev.Payload["mode"].(string); ok {
			rev.Mode = mode
		}
		rev.ChangedFiles = stringSliceFromPayload(ev.Payload, "changed_files")
		rev.DeletedFiles = stringSliceFromPayload(ev.Payload, "deleted_files")
		if v, ok := ev.Payload["snapshot_path"].(string); ok {
			rev.SnapshotPath = v
		}
		if v, ok := ev.Payload["changelog_path"].(string); ok {
			rev.ChangelogPath = v
		}
		revisions = append(revisions, rev)
	}
	return revisions
}

// nextSteps derives status-keyed suggestions, with specific copy for a
// task stalled on an unresolved proposal. A failed gate cites the reason of
// the latest gate_failed event, or the task's last_gate_reason if none has one.
func nextSteps(task *core.Task, disputes []Dispute) []string {
	switch task.Status {
	case core.TaskStatusWaitingManual:
		if hasStalledDispute(disputes) {
			return []string{
				"Reviewers reached no consensus after the configured retry limit.",
				"Use a custom reply to break the tie, or cancel the task and restart with adjusted reviewers.",
			}
		}
		return []string{"Task is waiting for manual input before it can resume."}
	case core.TaskStatusFailedGate:
		reason := task.LastGateReason
		for _, d := range disputes {
			if d.Kind == "gate_failed" && d.Reason != "" {
				reason = d.Reason
			}
		}
		return []string{
			fmt.Sprintf("Gate failed: %s.", reason),
			"Resume the task to retry, or cancel it if the failure is not actionable.",
		}
	case core.TaskStatusFailedSystem:
		return []string{
			fmt.Sprintf("A system error stopped the task: %s.", task.LastGateReason),
			"Check provider availability and command configuration before resuming.",
		}
	case core.TaskStatusPassed:
		return []string{"Task passed all gates. No further action needed."}
	case core.TaskStatusCanceled:
		return []string{"Task was canceled."}
	default:
		return []string{"Task is still in progress."}
	}
}

func hasStalledDispute(disputes []Dispute) bool {
	for _, d := range disputes {
		if d.Kind == "proposal_consensus_stalled" {
			return true
		}
	}
	return false
}

func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

func intFromPayload(payload map[string]any, key string) int {
	return intFromAny(payload[key])
}

func intFromAny(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func stringSliceFromPayload(payload map[string]any, key string) []string {
	raw, ok := payload[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// readEventsFromDisk parses a task's events.jsonl fallback log.
func readEventsFromDisk(art *artifacts.Store, taskID core.TaskID) ([]core.TaskEvent, error) {
	dir, err := art.TaskDir(taskID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "events.jsonl"))
	if err != nil {
		return nil, err
	}

	var events []core.TaskEvent
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var raw struct {
			Seq       int            `json:"seq"`
			TaskID    core.TaskID    `json:"task_id"`
			Type      core.EventType `json:"type"`
			Round     int            `json:"round"`
			Payload   map[string]any `json:"payload"`
			CreatedAt string         `json:"created_at"`
		}
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			continue
		}
		events = append(events, core.TaskEvent{
			TaskID:  raw.TaskID,
			Seq:     raw.Seq,
			Type:    raw.Type,
			Round:   raw.Round,
			Payload: raw.Payload,
		})
	}
	return events, nil
}
