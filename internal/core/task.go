package core

import (
	"fmt"
	"strings"
	"time"
)

// TaskID uniquely identifies a task.
type TaskID string

// TaskStatus represents the current state of a task's lifecycle.
type TaskStatus string

const (
	TaskStatusQueued        TaskStatus = "queued"
	TaskStatusRunning       TaskStatus = "running"
	TaskStatusWaitingManual TaskStatus = "waiting_manual"
	TaskStatusPassed        TaskStatus = "passed"
	TaskStatusFailedGate    TaskStatus = "failed_gate"
	TaskStatusFailedSystem  TaskStatus = "failed_system"
	TaskStatusCanceled      TaskStatus = "canceled"
)

// transitions is the status transition DAG from the workflow engine's design.
var transitions = map[TaskStatus]map[TaskStatus]bool{
	TaskStatusQueued: {
		TaskStatusRunning:  true,
		TaskStatusCanceled: true,
	},
	TaskStatusRunning: {
		TaskStatusWaitingManual: true,
		TaskStatusPassed:        true,
		TaskStatusFailedGate:    true,
		TaskStatusFailedSystem:  true,
		TaskStatusCanceled:      true,
	},
	TaskStatusWaitingManual: {
		TaskStatusRunning:  true,
		TaskStatusCanceled: true,
	},
	TaskStatusFailedGate: {
		TaskStatusRunning:  true,
		TaskStatusCanceled: true,
	},
	TaskStatusFailedSystem: {
		TaskStatusRunning:  true,
		TaskStatusCanceled: true,
	},
	TaskStatusPassed:   {},
	TaskStatusCanceled: {},
}

// CanTransition reports whether from -> to is an allowed status transition.
func CanTransition(from, to TaskStatus) bool {
	next, ok := transitions[from]
	return ok && next[to]
}

// IsTerminal reports whether a status admits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// RepairMode controls how aggressively the author participant is asked to
// revise a proposal between rounds.
type RepairMode string

const (
	RepairModeMinimal    RepairMode = "minimal"
	RepairModeBalanced   RepairMode = "balanced"
	RepairModeStructural RepairMode = "structural"
)

// Participant identifies an external CLI identity as provider#alias.
type Participant struct {
	Provider string
	Alias    string
}

// ParseParticipant parses a "provider#alias" identifier.
func ParseParticipant(s string) (Participant, error) {
	parts := strings.SplitN(s, "#", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Participant{}, ErrValidation("INVALID_PARTICIPANT", fmt.Sprintf("participant %q must be provider#alias", s))
	}
	return Participant{Provider: parts[0], Alias: parts[1]}, nil
}

func (p Participant) String() string {
	return p.Provider + "#" + p.Alias
}

// Task represents a unit of orchestrated work: a task description driven
// through bounded rounds of discussion, review, verification, and gating.
type Task struct {
	TaskID      TaskID
	Title       string
	Description string
	Status      TaskStatus

	AuthorParticipant    Participant
	ReviewerParticipants []Participant

	ProjectPath          string
	WorkspacePath        string
	SandboxWorkspacePath string
	SandboxGenerated     bool
	WorkspaceFingerprint string

	TestCommand string
	LintCommand string

	MaxRounds            int
	SelfLoopMode         int
	AutoMerge            bool
	MergeTargetPath      string
	RepairMode           RepairMode
	DebateMode           bool
	PlainMode            bool
	StreamMode           bool
	SandboxMode          bool
	SandboxCleanupOnPass bool
	EvolutionLevel       int
	EvolveUntil          *time.Time
	ConversationLanguage string

	ProviderModels            map[string]string
	ProviderModelParams       map[string]string
	ParticipantModels         map[string]string
	ParticipantModelParams    map[string]string
	ClaudeTeamAgents          bool
	CodexMultiAgents          bool
	ClaudeTeamAgentsOverrides map[string]string
	CodexMultiAgentsOverrides map[string]string

	RoundsCompleted int
	CancelRequested bool
	LastGateReason  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewTask creates a task with the documented defaults.
func NewTask(id TaskID, title string) *Task {
	now := time.Now()
	return &Task{
		TaskID:               id,
		Title:                title,
		Status:               TaskStatusQueued,
		MaxRounds:            1,
		RepairMode:           RepairModeBalanced,
		ConversationLanguage: "en",
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// WithDescription sets the task description.
func (t *Task) WithDescription(desc string) *Task {
	t.Description = desc
	return t
}

// WithParticipants sets the author and reviewer participants.
func (t *Task) WithParticipants(author Participant, reviewers ...Participant) *Task {
	t.AuthorParticipant = author
	t.ReviewerParticipants = reviewers
	return t
}

// WithWorkspace sets the project and effective workspace paths.
func (t *Task) WithWorkspace(projectPath, workspacePath string) *Task {
	t.ProjectPath = projectPath
	t.WorkspacePath = workspacePath
	return t
}

// WithVerification sets the test and lint commands.
func (t *Task) WithVerification(testCommand, lintCommand string) *Task {
	t.TestCommand = testCommand
	t.LintCommand = lintCommand
	return t
}

// MarkRunning transitions the task to running. RoundsCompleted is left
// unchanged.
func (t *Task) MarkRunning() error {
	if !CanTransition(t.Status, TaskStatusRunning) {
		return ErrValidation("INVALID_TRANSITION", fmt.Sprintf("cannot move to running from %s", t.Status))
	}
	t.Status = TaskStatusRunning
	t.UpdatedAt = time.Now()
	return nil
}

// MarkWaitingManual transitions the task to waiting_manual.
func (t *Task) MarkWaitingManual(reason string) error {
	if !CanTransition(t.Status, TaskStatusWaitingManual) {
		return ErrValidation("INVALID_TRANSITION", fmt.Sprintf("cannot move to waiting_manual from %s", t.Status))
	}
	t.Status = TaskStatusWaitingManual
	t.LastGateReason = reason
	t.UpdatedAt = time.Now()
	return nil
}

// MarkPassed transitions the task to passed.
func (t *Task) MarkPassed() error {
	if !CanTransition(t.Status, TaskStatusPassed) {
		return ErrValidation("INVALID_TRANSITION", fmt.Sprintf("cannot move to passed from %s", t.Status))
	}
	t.Status = TaskStatusPassed
	t.LastGateReason = ReasonPassed
	t.UpdatedAt = time.Now()
	return nil
}

// MarkFailedGate transitions the task to failed_gate with the given reason.
func (t *Task) MarkFailedGate(reason string) error {
	if !CanTransition(t.Status, TaskStatusFailedGate) {
		return ErrValidation("INVALID_TRANSITION", fmt.Sprintf("cannot move to failed_gate from %s", t.Status))
	}
	t.Status = TaskStatusFailedGate
	t.LastGateReason = reason
	t.UpdatedAt = time.Now()
	return nil
}

// MarkFailedSystem transitions the task to failed_system with the formatted
// workflow_error reason string.
func (t *Task) MarkFailedSystem(reason, provider, command string) error {
	if !CanTransition(t.Status, TaskStatusFailedSystem) {
		return ErrValidation("INVALID_TRANSITION", fmt.Sprintf("cannot move to failed_system from %s", t.Status))
	}
	t.Status = TaskStatusFailedSystem
	t.LastGateReason = RuntimeReasonToGateReason(reason, provider, command)
	t.UpdatedAt = time.Now()
	return nil
}

// MarkCanceled transitions the task to canceled.
func (t *Task) MarkCanceled() error {
	if !CanTransition(t.Status, TaskStatusCanceled) {
		return ErrValidation("INVALID_TRANSITION", fmt.Sprintf("cannot move to canceled from %s", t.Status))
	}
	t.Status = TaskStatusCanceled
	t.LastGateReason = ReasonCancelled
	t.UpdatedAt = time.Now()
	return nil
}

// Resume transitions a waiting_manual or failed_gate/failed_system task back
// to running for another round.
func (t *Task) Resume() error {
	if !CanTransition(t.Status, TaskStatusRunning) {
		return ErrValidation("INVALID_TRANSITION", fmt.Sprintf("cannot resume from %s", t.Status))
	}
	t.Status = TaskStatusRunning
	t.UpdatedAt = time.Now()
	return nil
}

// CanStartAnotherRound reports whether another discussion/review round may
// start: cancellation must not be requested and the round budget must not be
// spent. SelfLoopMode is not consulted.
func (t *Task) CanStartAnotherRound() bool {
	if t.CancelRequested {
		return false
	}
	if t.RoundsCompleted >= t.MaxRounds {
		return false
	}
	return true
}

// Validate checks the invariants a task must satisfy before it can be
// admitted to the engine. It does not validate provider configuration —
// that is the Service's job, since it alone knows the supported-provider set.
func (t *Task) Validate() error {
	if t.TaskID == "" {
		return ErrValidation("TASK_ID_REQUIRED", "task_id cannot be empty").WithField("task_id")
	}
	if t.Title == "" {
		return ErrValidation("TASK_TITLE_REQUIRED", "title cannot be empty").WithField("title")
	}
	if t.MaxRounds < 1 || t.MaxRounds > 20 {
		return ErrValidation("INVALID_MAX_ROUNDS", "max_rounds must be in [1, 20]").WithField("max_rounds")
	}
	if t.EvolutionLevel < 0 || t.EvolutionLevel > 2 {
		return ErrValidation("INVALID_EVOLUTION_LEVEL", "evolution_level must be in [0, 2]").WithField("evolution_level")
	}
	if t.SelfLoopMode != 0 && t.SelfLoopMode != 1 {
		return ErrValidation("INVALID_SELF_LOOP_MODE", "self_loop_mode must be 0 or 1").WithField("self_loop_mode")
	}
	switch t.RepairMode {
	case RepairModeMinimal, RepairModeBalanced, RepairModeStructural:
	default:
		return ErrValidation("INVALID_REPAIR_MODE", "repair_mode must be one of minimal, balanced, structural").WithField("repair_mode")
	}
	if !t.SandboxMode && t.WorkspacePath != t.ProjectPath {
		return ErrValidation("WORKSPACE_PROJECT_MISMATCH", "workspace_path must equal project_path when sandbox_mode is false").WithField("workspace_path")
	}
	if t.RoundsCompleted > t.MaxRounds {
		return ErrValidation("ROUNDS_EXCEEDED", "rounds_completed exceeds max_rounds").WithField("rounds_completed")
	}
	return nil
}

// CanonicalizeLanguage maps an accepted language alias to its canonical code.
// Returns false for unrecognized values.
func CanonicalizeLanguage(lang string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "en", "english", "":
		return "en", true
	case "zh", "chinese", "zh-cn", "zh-hans":
		return "zh", true
	default:
		return "", false
	}
}

// MultiRoundManualPromote implements the service-boundary rule that
// max_rounds > 1 without auto_merge forces sandbox isolation: without a
// sandbox, a failed intermediate round would leave the project tree in a
// half-edited state with nothing to roll back to.
func (t *Task) MultiRoundManualPromote() bool {
	return t.MaxRounds > 1 && !t.AutoMerge
}

// ApplyDerivedDefaults applies the cross-field defaulting rules that run
// once a task has been validated, before it is admitted.
func (t *Task) ApplyDerivedDefaults() {
	if t.MultiRoundManualPromote() {
		t.SandboxMode = true
		t.SandboxWorkspacePath = ""
	}
	if t.AutoMerge && t.SandboxMode && t.MergeTargetPath == "" {
		t.MergeTargetPath = t.ProjectPath
	}
}

// IsSuccess reports whether the task reached the passed terminal state.
func (t *Task) IsSuccess() bool {
	return t.Status == TaskStatusPassed
}
