// Package service implements the Service/Task Manager: it
// validates task creation requests, provisions the sandbox workspace and
// artifact store, persists the task row, and admits queued tasks to the
// Workflow Engine under a process-wide concurrency ceiling.
package service

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/awe-dev/agentcheck/internal/artifacts"
	"github.com/awe-dev/agentcheck/internal/core"
	"github.com/awe-dev/agentcheck/internal/engine"
	"github.com/awe-dev/agentcheck/internal/fusion"
	"github.com/awe-dev/agentcheck/internal/logging"
	"github.com/awe-dev/agentcheck/internal/risk"
	"github.com/awe-dev/agentcheck/internal/sandbox"
	"github.com/awe-dev/agentcheck/internal/store"
)

// CreateRequest is the unvalidated input to CreateTask.
type CreateRequest struct {
	Title       string
	Description string

	Author    string // "provider#alias"
	Reviewers []string

	ProjectPath   string
	WorkspacePath string // optional operator-specified sandbox; empty means generate one

	TestCommand string
	LintCommand string

	MaxRounds            int
	SelfLoopMode         int
	AutoMerge            bool
	MergeTargetPath      string
	RepairMode           core.RepairMode
	DebateMode           bool
	PlainMode            bool
	StreamMode           bool
	SandboxMode          bool
	SandboxCleanupOnPass bool
	EvolutionLevel       int
	EvolveUntil          string // parsed as ISO/local datetime
	ConversationLanguage string

	ProviderModels            map[string]string
	ProviderModelParams       map[string]string
	ParticipantModels         map[string]string
	ParticipantModelParams    map[string]string
	ClaudeTeamAgents          bool
	CodexMultiAgents          bool
	ClaudeTeamAgentsOverrides map[string]string
	CodexMultiAgentsOverrides map[string]string
}

// ApplyPolicyTemplate pre-seeds req's policy-relevant fields from a named
// template. Callers — the cobra command layer, which can tell an
// explicitly-set flag from its default via cmd.Flags().Changed — should
// call this before overlaying explicit flags onto req, not after.
func ApplyPolicyTemplate(req *CreateRequest, name string) error {
	tmpl, ok := risk.LookupTemplate(name)
	if !ok {
		return core.ErrValidation("UNKNOWN_POLICY_TEMPLATE", fmt.Sprintf("no such policy template %q", name)).WithField("policy_template")
	}
	req.SandboxMode = tmpl.SandboxMode
	req.SelfLoopMode = tmpl.SelfLoopMode
	req.AutoMerge = tmpl.AutoMerge
	req.MaxRounds = tmpl.MaxRounds
	req.RepairMode = tmpl.RepairMode
	req.SandboxCleanupOnPass = tmpl.SandboxCleanupOnPass
	return nil
}

// Deps bundles the Service's collaborators.
type Deps struct {
	Repo              store.Repository
	Artifacts         *artifacts.Store
	Sandbox           *sandbox.Manager
	SupportedProvider func(provider string) bool

	// RiskPolicy yields the preflight contract; a live risk.Watcher keeps
	// long-running drivers current with on-disk policy edits. Nil falls
	// back to the builtin default contract.
	RiskPolicy risk.ContractSource

	Engine *engine.Engine
	Logger *logging.Logger

	// MaxConcurrentRunning bounds how many tasks may be status=running at
	// once; additional admissions stay queued with concurrency_limit.
	MaxConcurrentRunning int64
}

// Service validates and admits tasks.
type Service struct {
	deps Deps
	sem  *semaphore.Weighted
}

// New creates a Service.
func New(deps Deps) *Service {
	if deps.MaxConcurrentRunning <= 0 {
		deps.MaxConcurrentRunning = 4
	}
	return &Service{deps: deps, sem: semaphore.NewWeighted(deps.MaxConcurrentRunning)}
}

// CreateTask validates req, provisions the task's workspace, runs the
// Risk/Preflight Gate against it, and returns the newly created
// task row (status=queued). A failed preflight rejects the task before it is
// ever persisted or admitted to run. On any failure after a sandbox was
// generated, the sandbox is removed; an operator-specified workspace is left
// untouched.
func (s *Service) CreateTask(ctx context.Context, id core.TaskID, req CreateRequest) (*core.Task, error) {
	task, err := s.validate(id, req)
	if err != nil {
		return nil, err
	}

	task.ApplyDerivedDefaults()
	if !task.SandboxMode {
		task.WorkspacePath = task.ProjectPath
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}

	generatedSandbox := false
	if task.SandboxMode {
		sandboxPath := task.SandboxWorkspacePath
		if sandboxPath == "" {
			sandboxPath = s.deps.Sandbox.GeneratePath(task.ProjectPath, time.Now())
			generatedSandbox = true
		}
		if _, err := s.deps.Sandbox.Bootstrap(task.ProjectPath, sandboxPath); err != nil {
			return nil, err
		}
		task.SandboxWorkspacePath = sandboxPath
		task.WorkspacePath = sandboxPath
		task.SandboxGenerated = generatedSandbox
	} else {
		task.WorkspacePath = task.ProjectPath
	}
	task.WorkspaceFingerprint = core.BuildWorkspaceFingerprint(
		task.ProjectPath, task.WorkspacePath, task.SandboxWorkspacePath, task.MergeTargetPath,
	).Encode()

	var contract *risk.Contract
	if s.deps.RiskPolicy != nil {
		contract = s.deps.RiskPolicy.Contract()
	}
	preflight, err := risk.Evaluate(task, task.WorkspacePath, contract)
	if err != nil {
		s.cleanupFailedSandbox(task, generatedSandbox)
		return nil, err
	}
	if !preflight.Passed {
		s.cleanupFailedSandbox(task, generatedSandbox)
		return nil, core.ErrGate(core.ReasonPreflightFailed, preflight.Reason).
			WithDetail("risk_tier", string(preflight.RiskTier)).
			WithDetail("failed_checks", preflight.FailedChecks)
	}

	if err := s.deps.Repo.CreateTask(ctx, task); err != nil {
		s.cleanupFailedSandbox(task, generatedSandbox)
		return nil, err
	}

	if _, err := s.deps.Artifacts.TaskDir(task.TaskID); err != nil {
		s.cleanupFailedSandbox(task, generatedSandbox)
		return nil, err
	}
	if err := s.deps.Artifacts.WriteState(task.TaskID, task); err != nil {
		s.cleanupFailedSandbox(task, generatedSandbox)
		return nil, err
	}

	// Auto-fusion diffs the sandbox against what it looked like at
	// bootstrap, so capture that manifest now, while the two are identical.
	if task.SandboxMode && task.AutoMerge {
		manifest, err := fusion.BuildManifest(task.WorkspacePath)
		if err != nil {
			s.cleanupFailedSandbox(task, generatedSandbox)
			return nil, err
		}
		if err := s.deps.Artifacts.WriteArtifact(task.TaskID, "before_manifest", manifest); err != nil {
			s.cleanupFailedSandbox(task, generatedSandbox)
			return nil, err
		}
	}

	return task, nil
}

func (s *Service) cleanupFailedSandbox(task *core.Task, generated bool) {
	if generated && task.SandboxWorkspacePath != "" {
		_ = s.deps.Sandbox.Remove(task.SandboxWorkspacePath)
	}
}

// validate applies every Service-boundary rule and returns an unfinished
// task (workspace fields not yet resolved).
func (s *Service) validate(id core.TaskID, req CreateRequest) (*core.Task, error) {
	if req.Title == "" {
		return nil, core.ErrValidation("TASK_TITLE_REQUIRED", "title cannot be empty").WithField("title")
	}

	author, err := s.parseKnownParticipant(req.Author, "author")
	if err != nil {
		return nil, err
	}
	reviewers := make([]core.Participant, 0, len(req.Reviewers))
	for i, r := range req.Reviewers {
		p, err := s.parseKnownParticipant(r, fmt.Sprintf("reviewers[%d]", i))
		if err != nil {
			return nil, err
		}
		reviewers = append(reviewers, p)
	}

	info, err := os.Stat(req.ProjectPath)
	if err != nil || !info.IsDir() {
		return nil, core.ErrValidation("INVALID_WORKSPACE_PATH", "workspace_path must exist and be a directory").WithField("workspace_path")
	}

	language, ok := core.CanonicalizeLanguage(req.ConversationLanguage)
	if !ok {
		return nil, core.ErrValidation("INVALID_CONVERSATION_LANGUAGE", fmt.Sprintf("unrecognized conversation_language %q", req.ConversationLanguage)).WithField("conversation_language")
	}

	switch req.RepairMode {
	case "":
		req.RepairMode = core.RepairModeBalanced
	case core.RepairModeMinimal, core.RepairModeBalanced, core.RepairModeStructural:
	default:
		return nil, core.ErrValidation("INVALID_REPAIR_MODE", "repair_mode must be one of minimal, balanced, structural").WithField("repair_mode")
	}

	var evolveUntil *time.Time
	if req.EvolveUntil != "" {
		parsed, err := parseFlexibleTime(req.EvolveUntil)
		if err != nil {
			return nil, core.ErrValidation("INVALID_EVOLVE_UNTIL", "evolve_until must be an ISO or local datetime").WithField("evolve_until")
		}
		truncated := parsed.Truncate(time.Second)
		evolveUntil = &truncated
	}

	if err := s.validateModelMaps(author, reviewers, req); err != nil {
		return nil, err
	}

	task := core.NewTask(id, req.Title)
	task.Description = req.Description
	task.AuthorParticipant = author
	task.ReviewerParticipants = reviewers
	task.ProjectPath = req.ProjectPath
	task.SandboxWorkspacePath = req.WorkspacePath
	task.TestCommand = req.TestCommand
	task.LintCommand = req.LintCommand
	if req.MaxRounds > 0 {
		task.MaxRounds = req.MaxRounds
	}
	task.SelfLoopMode = req.SelfLoopMode
	task.AutoMerge = req.AutoMerge
	task.MergeTargetPath = req.MergeTargetPath
	task.RepairMode = req.RepairMode
	task.DebateMode = req.DebateMode
	task.PlainMode = req.PlainMode
	task.StreamMode = req.StreamMode
	task.SandboxMode = req.SandboxMode || req.WorkspacePath != ""
	task.SandboxCleanupOnPass = req.SandboxCleanupOnPass
	task.EvolutionLevel = req.EvolutionLevel
	task.EvolveUntil = evolveUntil
	task.ConversationLanguage = language
	task.ProviderModels = req.ProviderModels
	task.ProviderModelParams = req.ProviderModelParams
	task.ParticipantModels = req.ParticipantModels
	task.ParticipantModelParams = req.ParticipantModelParams
	task.ClaudeTeamAgents = req.ClaudeTeamAgents
	task.CodexMultiAgents = req.CodexMultiAgents
	task.ClaudeTeamAgentsOverrides = req.ClaudeTeamAgentsOverrides
	task.CodexMultiAgentsOverrides = req.CodexMultiAgentsOverrides

	return task, nil
}

func (s *Service) parseKnownParticipant(raw, field string) (core.Participant, error) {
	p, err := core.ParseParticipant(raw)
	if err != nil {
		return core.Participant{}, err.(*core.DomainError).WithField(field)
	}
	if s.deps.SupportedProvider != nil && !s.deps.SupportedProvider(p.Provider) {
		return core.Participant{}, core.ErrValidation("UNKNOWN_PROVIDER", fmt.Sprintf("provider %q is not supported", p.Provider)).WithField(field)
	}
	return p, nil
}

func (s *Service) validateModelMaps(author core.Participant, reviewers []core.Participant, req CreateRequest) error {
	participants := map[string]bool{author.String(): true}
	for _, r := range reviewers {
		participants[r.String()] = true
	}

	for provider := range req.ProviderModels {
		if s.deps.SupportedProvider != nil && !s.deps.SupportedProvider(provider) {
			return core.ErrValidation("INVALID_PROVIDER_MODEL_KEY", fmt.Sprintf("provider_models key %q is not a supported provider", provider)).WithField("provider_models")
		}
	}
	for provider := range req.ProviderModelParams {
		if s.deps.SupportedProvider != nil && !s.deps.SupportedProvider(provider) {
			return core.ErrValidation("INVALID_PROVIDER_MODEL_PARAM_KEY", fmt.Sprintf("provider_model_params key %q is not a supported provider", provider)).WithField("provider_model_params")
		}
	}
	for participant := range req.ParticipantModels {
		if !participants[participant] {
			return core.ErrValidation("INVALID_PARTICIPANT_MODEL_KEY", fmt.Sprintf("participant_models key %q is not a participant on this task", participant)).WithField("participant_models")
		}
	}
	for participant := range req.ParticipantModelParams {
		if !participants[participant] {
			return core.ErrValidation("INVALID_PARTICIPANT_MODEL_PARAM_KEY", fmt.Sprintf("participant_model_params key %q is not a participant on this task", participant)).WithField("participant_model_params")
		}
	}
	for participant := range req.ClaudeTeamAgentsOverrides {
		p, err := core.ParseParticipant(participant)
		if err != nil || p.Provider != "claude" {
			return core.ErrValidation("INVALID_CLAUDE_OVERRIDE_KEY", fmt.Sprintf("claude_team_agents_overrides key %q must target a claude participant", participant)).WithField("claude_team_agents_overrides")
		}
	}
	for participant := range req.CodexMultiAgentsOverrides {
		p, err := core.ParseParticipant(participant)
		if err != nil || p.Provider != "codex" {
			return core.ErrValidation("INVALID_CODEX_OVERRIDE_KEY", fmt.Sprintf("codex_multi_agents_overrides key %q must target a codex participant", participant)).WithField("codex_multi_agents_overrides")
		}
	}
	return nil
}

func parseFlexibleTime(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	var lastErr error
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}

// Admit attempts to move a queued task to running and hand it to the
// Workflow Engine, subject to the concurrency ceiling. If the
// ceiling is saturated the task is left queued with last_gate_reason
// "concurrency_limit" and Admit returns immediately without error.
func (s *Service) Admit(ctx context.Context, taskID core.TaskID) error {
	if !s.sem.TryAcquire(1) {
		if err := s.deps.Repo.UpdateTaskStatus(ctx, taskID, core.TaskStatusQueued, core.ReasonConcurrencyLimit, nil); err != nil {
			return err
		}
		return nil
	}

	// The task outlives this call's context, so the run uses a fresh
	// background context; cancellation goes through cancel_requested, not
	// ctx.Done().
	go func() {
		defer s.sem.Release(1)
		if err := s.deps.Engine.RunTask(context.Background(), taskID); err != nil && s.deps.Logger != nil {
			s.deps.Logger.Error("task_run_failed", "task_id", string(taskID), "error", err.Error())
		}
	}()
	return nil
}

// Cancel sets the sticky cancel_requested flag; the engine observes it at
// its next suspension point.
func (s *Service) Cancel(ctx context.Context, taskID core.TaskID) error {
	return s.deps.Repo.SetCancelRequested(ctx, taskID, true)
}

// Resume moves a waiting_manual or failed_gate/failed_system task back to
// running and re-admits it to the engine.
func (s *Service) Resume(ctx context.Context, taskID core.TaskID) error {
	task, err := s.deps.Repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if !core.CanTransition(task.Status, core.TaskStatusRunning) {
		return core.ErrValidation("INVALID_RESUME", fmt.Sprintf("cannot resume task from status %s", task.Status))
	}
	return s.Admit(ctx, taskID)
}
