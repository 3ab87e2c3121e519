package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/awe-dev/agentcheck/internal/core"
)

// MemoryRepository is an in-process Repository used by tests and by the
// single-shot CLI paths that don't need durability across process restarts.
type MemoryRepository struct {
	mu       sync.Mutex
	tasks    map[core.TaskID]*core.Task
	events   map[core.TaskID][]core.TaskEvent
	nextSeq  map[core.TaskID]int
	order    []core.TaskID
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		tasks:   make(map[core.TaskID]*core.Task),
		events:  make(map[core.TaskID][]core.TaskEvent),
		nextSeq: make(map[core.TaskID]int),
	}
}

func cloneTask(t *core.Task) *core.Task {
	c := *t
	c.ReviewerParticipants = append([]core.Participant(nil), t.ReviewerParticipants...)
	c.ProviderModels = cloneStringMap(t.ProviderModels)
	c.ProviderModelParams = cloneStringMap(t.ProviderModelParams)
	c.ParticipantModels = cloneStringMap(t.ParticipantModels)
	c.ParticipantModelParams = cloneStringMap(t.ParticipantModelParams)
	c.ClaudeTeamAgentsOverrides = cloneStringMap(t.ClaudeTeamAgentsOverrides)
	c.CodexMultiAgentsOverrides = cloneStringMap(t.CodexMultiAgentsOverrides)
	if t.EvolveUntil != nil {
		when := *t.EvolveUntil
		c.EvolveUntil = &when
	}
	return &c
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// CreateTask stores a new task. It returns core.ErrValidation if the task
// id already exists, matching the repository's "create is not upsert"
// contract.
func (r *MemoryRepository) CreateTask(_ context.Context, task *core.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[task.TaskID]; exists {
		return core.ErrValidation("TASK_ALREADY_EXISTS", string(task.TaskID)).WithField("task_id")
	}
	r.tasks[task.TaskID] = cloneTask(task)
	r.nextSeq[task.TaskID] = 1
	r.order = append(r.order, task.TaskID)
	return nil
}

func (r *MemoryRepository) GetTask(_ context.Context, id core.TaskID) (*core.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, core.ErrNotFound("task", string(id))
	}
	return cloneTask(t), nil
}

func (r *MemoryRepository) ListTasks(_ context.Context, limit int) ([]*core.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := append([]core.TaskID(nil), r.order...)
	sort.Slice(ids, func(i, j int) bool {
		return r.tasks[ids[i]].CreatedAt.After(r.tasks[ids[j]].CreatedAt)
	})
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	out := make([]*core.Task, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneTask(r.tasks[id]))
	}
	return out, nil
}

func (r *MemoryRepository) UpdateTaskStatus(_ context.Context, id core.TaskID, status core.TaskStatus, reason string, roundsCompleted *int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return core.ErrNotFound("task", string(id))
	}
	t.Status = status
	t.LastGateReason = reason
	if roundsCompleted != nil {
		t.RoundsCompleted = *roundsCompleted
	}
	t.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryRepository) UpdateTaskStatusIf(_ context.Context, id core.TaskID, expected, newStatus core.TaskStatus, reason string, roundsCompleted *int, setCancelRequested *bool) (*core.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, core.ErrNotFound("task", string(id))
	}
	if t.Status != expected {
		return nil, nil
	}
	t.Status = newStatus
	t.LastGateReason = reason
	if roundsCompleted != nil {
		t.RoundsCompleted = *roundsCompleted
	}
	if setCancelRequested != nil {
		t.CancelRequested = *setCancelRequested
	}
	t.UpdatedAt = time.Now()
	return cloneTask(t), nil
}

func (r *MemoryRepository) SetCancelRequested(_ context.Context, id core.TaskID, requested bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return core.ErrNotFound("task", string(id))
	}
	t.CancelRequested = requested
	t.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryRepository) IsCancelRequested(_ context.Context, id core.TaskID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return false, core.ErrNotFound("task", string(id))
	}
	return t.CancelRequested, nil
}

// AppendEvent reserves the next sequence number for id and appends the
// event. Sequence numbers are 1-based and gap-free per task, matching the
// SQLite-backed store's counter-row contract.
func (r *MemoryRepository) AppendEvent(_ context.Context, id core.TaskID, eventType core.EventType, payload map[string]any, round *int) (core.TaskEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; !ok {
		return core.TaskEvent{}, core.ErrNotFound("task", string(id))
	}
	seq := r.nextSeq[id]
	r.nextSeq[id] = seq + 1

	roundVal := 0
	if round != nil {
		roundVal = *round
	}
	ev := core.TaskEvent{
		TaskID:    id,
		Seq:       seq,
		Type:      eventType,
		Round:     roundVal,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	r.events[id] = append(r.events[id], ev)
	return ev, nil
}

func (r *MemoryRepository) ListEvents(_ context.Context, id core.TaskID) ([]core.TaskEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; !ok {
		return nil, core.ErrNotFound("task", string(id))
	}
	out := append([]core.TaskEvent(nil), r.events[id]...)
	return out, nil
}

func (r *MemoryRepository) DeleteTasks(_ context.Context, ids []core.TaskID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.tasks, id)
		delete(r.events, id)
		delete(r.nextSeq, id)
	}
	filtered := r.order[:0]
	for _, id := range r.order {
		if _, ok := r.tasks[id]; ok {
			filtered = append(filtered, id)
		}
	}
	r.order = filtered
	return nil
}

func (r *MemoryRepository) Close() error {
	return nil
}
