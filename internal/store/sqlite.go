package store

import (
	"context"
	"database/sql"
	"encoding/json"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/awe-dev/agentcheck/internal/core"
)

//go:embed migrations/001_initial.sql
var migrationV1 string

// SQLiteRepository is the durable Repository backed by modernc.org/sqlite
// (pure Go, no cgo). A single write connection serializes writers, matching
// SQLite's own single-writer model; a separate read-only pool serves
// concurrent reads without blocking on writer locks.
type SQLiteRepository struct {
	db     *sql.DB
	readDB *sql.DB

	maxRetries    int
	baseRetryWait time.Duration
}

const timestampLayout = time.RFC3339Nano

// OpenSQLite opens (creating if necessary) a SQLite-backed repository at
// path and applies pending migrations.
func OpenSQLite(path string) (*SQLiteRepository, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, core.ErrStorage("STORE_DIR", err.Error(), false).WithCause(err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(30000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, core.ErrStorage("STORE_OPEN", err.Error(), false).WithCause(err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	readDSN := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&mode=ro"
	readDB, err := sql.Open("sqlite", readDSN)
	if err != nil {
		_ = db.Close()
		return nil, core.ErrStorage("STORE_OPEN_RO", err.Error(), false).WithCause(err)
	}
	readDB.SetMaxOpenConns(8)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	r := &SQLiteRepository{
		db:            db,
		readDB:        readDB,
		maxRetries:    5,
		baseRetryWait: 50 * time.Millisecond,
	}
	if err := r.migrate(); err != nil {
		_ = db.Close()
		_ = readDB.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRepository) migrate() error {
	var version int
	err := r.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		version = 0
	}
	if version < 1 {
		if _, err := r.db.Exec(migrationV1); err != nil {
			return core.ErrStorage("STORE_MIGRATE", err.Error(), false).WithCause(err)
		}
		if _, err := r.db.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (1, ?)`, time.Now().UTC().Format(timestampLayout)); err != nil {
			return core.ErrStorage("STORE_MIGRATE", err.Error(), false).WithCause(err)
		}
	}
	return nil
}

// isSQLiteBusy reports whether err is a transient lock-contention error
// worth retrying.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED")
}

// retryWrite runs fn, retrying with bounded exponential backoff (capped
// around 200ms) when the underlying error is a transient SQLite lock
// contention.
func (r *SQLiteRepository) retryWrite(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		lastErr = err
		if attempt == r.maxRetries {
			break
		}
		wait := r.baseRetryWait * time.Duration(1<<attempt)
		if wait > 200*time.Millisecond {
			wait = 200 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return core.ErrStorage("STORE_RETRY_CANCELED", ctx.Err().Error(), false).WithCause(ctx.Err())
		case <-time.After(wait):
		}
	}
	return core.ErrStorage("STORE_RETRIES_EXHAUSTED", fmt.Sprintf("%s: max retries exceeded", operation), false).WithCause(lastErr)
}

func marshalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalJSON[T any](s string, dst *T) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), dst)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func taskToRow(t *core.Task) (map[string]any, error) {
	reviewers := make([]string, 0, len(t.ReviewerParticipants))
	for _, p := range t.ReviewerParticipants {
		reviewers = append(reviewers, p.String())
	}
	reviewersJSON, err := marshalJSON(reviewers)
	if err != nil {
		return nil, err
	}
	providerModels, err := marshalJSON(orEmptyMap(t.ProviderModels))
	if err != nil {
		return nil, err
	}
	providerModelParams, err := marshalJSON(orEmptyMap(t.ProviderModelParams))
	if err != nil {
		return nil, err
	}
	participantModels, err := marshalJSON(orEmptyMap(t.ParticipantModels))
	if err != nil {
		return nil, err
	}
	participantModelParams, err := marshalJSON(orEmptyMap(t.ParticipantModelParams))
	if err != nil {
		return nil, err
	}
	claudeOverrides, err := marshalJSON(orEmptyMap(t.ClaudeTeamAgentsOverrides))
	if err != nil {
		return nil, err
	}
	codexOverrides, err := marshalJSON(orEmptyMap(t.CodexMultiAgentsOverrides))
	if err != nil {
		return nil, err
	}
	var evolveUntil any
	if t.EvolveUntil != nil {
		evolveUntil = t.EvolveUntil.UTC().Format(timestampLayout)
	}

	return map[string]any{
		"task_id":                      string(t.TaskID),
		"title":                        t.Title,
		"description":                  t.Description,
		"status":                       string(t.Status),
		"author_participant":           t.AuthorParticipant.String(),
		"reviewer_participants":        reviewersJSON,
		"project_path":                 t.ProjectPath,
		"workspace_path":               t.WorkspacePath,
		"sandbox_workspace_path":       t.SandboxWorkspacePath,
		"sandbox_generated":            boolToInt(t.SandboxGenerated),
		"workspace_fingerprint":        t.WorkspaceFingerprint,
		"test_command":                 t.TestCommand,
		"lint_command":                 t.LintCommand,
		"max_rounds":                   t.MaxRounds,
		"self_loop_mode":               t.SelfLoopMode,
		"auto_merge":                   boolToInt(t.AutoMerge),
		"merge_target_path":            t.MergeTargetPath,
		"repair_mode":                  string(t.RepairMode),
		"debate_mode":                  boolToInt(t.DebateMode),
		"plain_mode":                   boolToInt(t.PlainMode),
		"stream_mode":                  boolToInt(t.StreamMode),
		"sandbox_mode":                 boolToInt(t.SandboxMode),
		"sandbox_cleanup_on_pass":      boolToInt(t.SandboxCleanupOnPass),
		"evolution_level":              t.EvolutionLevel,
		"evolve_until":                 evolveUntil,
		"conversation_language":        t.ConversationLanguage,
		"provider_models":              providerModels,
		"provider_model_params":        providerModelParams,
		"participant_models":           participantModels,
		"participant_model_params":     participantModelParams,
		"claude_team_agents":           boolToInt(t.ClaudeTeamAgents),
		"codex_multi_agents":           boolToInt(t.CodexMultiAgents),
		"claude_team_agents_overrides": claudeOverrides,
		"codex_multi_agents_overrides": codexOverrides,
		"rounds_completed":             t.RoundsCompleted,
		"cancel_requested":             boolToInt(t.CancelRequested),
		"last_gate_reason":             t.LastGateReason,
		"created_at":                   t.CreatedAt.UTC().Format(timestampLayout),
		"updated_at":                   t.UpdatedAt.UTC().Format(timestampLayout),
	}, nil
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

const taskColumns = `task_id, title, description, status, author_participant, reviewer_participants,
	project_path, workspace_path, sandbox_workspace_path, sandbox_generated, workspace_fingerprint,
	test_command, lint_command, max_rounds, self_loop_mode, auto_merge, merge_target_path, repair_mode,
	debate_mode, plain_mode, stream_mode, sandbox_mode, sandbox_cleanup_on_pass, evolution_level,
	evolve_until, conversation_language, provider_models, provider_model_params, participant_models,
	participant_model_params, claude_team_agents, codex_multi_agents, claude_team_agents_overrides,
	codex_multi_agents_overrides, rounds_completed, cancel_requested, last_gate_reason, created_at, updated_at`

func scanTask(scan func(dest ...any) error) (*core.Task, error) {
	var (
		t                                                                      core.Task
		statusStr, authorStr, reviewersJSON                                    string
		repairModeStr                                                         string
		providerModels, providerModelParams, participantModels, participantModelParams string
		claudeOverrides, codexOverrides                                       string
		sandboxGenerated, autoMerge, debateMode, plainMode, streamMode        int
		sandboxMode, sandboxCleanupOnPass, claudeTeamAgents, codexMultiAgents int
		cancelRequested                                                      int
		evolveUntil                                                          sql.NullString
		createdAt, updatedAt                                                 string
	)
	err := scan(
		&t.TaskID, &t.Title, &t.Description, &statusStr, &authorStr, &reviewersJSON,
		&t.ProjectPath, &t.WorkspacePath, &t.SandboxWorkspacePath, &sandboxGenerated, &t.WorkspaceFingerprint,
		&t.TestCommand, &t.LintCommand, &t.MaxRounds, &t.SelfLoopMode, &autoMerge, &t.MergeTargetPath, &repairModeStr,
		&debateMode, &plainMode, &streamMode, &sandboxMode, &sandboxCleanupOnPass, &t.EvolutionLevel,
		&evolveUntil, &t.ConversationLanguage, &providerModels, &providerModelParams, &participantModels,
		&participantModelParams, &claudeTeamAgents, &codexMultiAgents, &claudeOverrides,
		&codexOverrides, &t.RoundsCompleted, &cancelRequested, &t.LastGateReason, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = core.TaskStatus(statusStr)
	t.RepairMode = core.RepairMode(repairModeStr)
	t.SandboxGenerated = sandboxGenerated != 0
	t.AutoMerge = autoMerge != 0
	t.DebateMode = debateMode != 0
	t.PlainMode = plainMode != 0
	t.StreamMode = streamMode != 0
	t.SandboxMode = sandboxMode != 0
	t.SandboxCleanupOnPass = sandboxCleanupOnPass != 0
	t.ClaudeTeamAgents = claudeTeamAgents != 0
	t.CodexMultiAgents = codexMultiAgents != 0
	t.CancelRequested = cancelRequested != 0

	if authorStr != "" {
		if p, err := core.ParseParticipant(authorStr); err == nil {
			t.AuthorParticipant = p
		}
	}
	var reviewerStrs []string
	if err := unmarshalJSON(reviewersJSON, &reviewerStrs); err != nil {
		return nil, err
	}
	for _, s := range reviewerStrs {
		if p, err := core.ParseParticipant(s); err == nil {
			t.ReviewerParticipants = append(t.ReviewerParticipants, p)
		}
	}

	if err := unmarshalJSON(providerModels, &t.ProviderModels); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(providerModelParams, &t.ProviderModelParams); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(participantModels, &t.ParticipantModels); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(participantModelParams, &t.ParticipantModelParams); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(claudeOverrides, &t.ClaudeTeamAgentsOverrides); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(codexOverrides, &t.CodexMultiAgentsOverrides); err != nil {
		return nil, err
	}

	if evolveUntil.Valid && evolveUntil.String != "" {
		when, err := time.Parse(timestampLayout, evolveUntil.String)
		if err == nil {
			t.EvolveUntil = &when
		}
	}
	if when, err := time.Parse(timestampLayout, createdAt); err == nil {
		t.CreatedAt = when
	}
	if when, err := time.Parse(timestampLayout, updatedAt); err == nil {
		t.UpdatedAt = when
	}

	return &t, nil
}

// taskColumnOrder matches taskColumns and the positional binding order used
// by CreateTask and row-building helpers.
var taskColumnOrder = []string{
	"task_id", "title", "description", "status", "author_participant", "reviewer_participants",
	"project_path", "workspace_path", "sandbox_workspace_path", "sandbox_generated", "workspace_fingerprint",
	"test_command", "lint_command", "max_rounds", "self_loop_mode", "auto_merge", "merge_target_path", "repair_mode",
	"debate_mode", "plain_mode", "stream_mode", "sandbox_mode", "sandbox_cleanup_on_pass", "evolution_level",
	"evolve_until", "conversation_language", "provider_models", "provider_model_params", "participant_models",
	"participant_model_params", "claude_team_agents", "codex_multi_agents", "claude_team_agents_overrides",
	"codex_multi_agents_overrides", "rounds_completed", "cancel_requested", "last_gate_reason", "created_at", "updated_at",
}

func (r *SQLiteRepository) CreateTask(ctx context.Context, task *core.Task) error {
	row, err := taskToRow(task)
	if err != nil {
		return core.ErrStorage("STORE_ENCODE", err.Error(), false).WithCause(err)
	}
	args := make([]any, len(taskColumnOrder))
	for i, col := range taskColumnOrder {
		args[i] = row[col]
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(taskColumnOrder)), ",")

	return r.retryWrite(ctx, "CreateTask", func() error {
		_, err := r.db.ExecContext(ctx, `INSERT INTO tasks (`+taskColumns+`) VALUES (`+placeholders+`)`, args...)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return core.ErrValidation("TASK_ALREADY_EXISTS", string(task.TaskID)).WithField("task_id")
			}
			return core.ErrStorage("STORE_INSERT", err.Error(), isSQLiteBusy(err)).WithCause(err)
		}
		_, err = r.db.ExecContext(ctx, `INSERT INTO task_event_counters (task_id, next_seq) VALUES (?, 1)`, string(task.TaskID))
		return err
	})
}

func (r *SQLiteRepository) GetTask(ctx context.Context, id core.TaskID) (*core.Task, error) {
	row := r.readDB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, string(id))
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound("task", string(id))
	}
	if err != nil {
		return nil, core.ErrStorage("STORE_SCAN", err.Error(), false).WithCause(err)
	}
	return t, nil
}

func (r *SQLiteRepository) ListTasks(ctx context.Context, limit int) ([]*core.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks ORDER BY created_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.ErrStorage("STORE_QUERY", err.Error(), false).WithCause(err)
	}
	defer rows.Close()

	var out []*core.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, core.ErrStorage("STORE_SCAN", err.Error(), false).WithCause(err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) UpdateTaskStatus(ctx context.Context, id core.TaskID, status core.TaskStatus, reason string, roundsCompleted *int) error {
	return r.retryWrite(ctx, "UpdateTaskStatus", func() error {
		var res sql.Result
		var err error
		now := time.Now().UTC().Format(timestampLayout)
		if roundsCompleted != nil {
			res, err = r.db.ExecContext(ctx, `UPDATE tasks SET status = ?, last_gate_reason = ?, rounds_completed = ?, updated_at = ? WHERE task_id = ?`,
				string(status), reason, *roundsCompleted, now, string(id))
		} else {
			res, err = r.db.ExecContext(ctx, `UPDATE tasks SET status = ?, last_gate_reason = ?, updated_at = ? WHERE task_id = ?`,
				string(status), reason, now, string(id))
		}
		if err != nil {
			return core.ErrStorage("STORE_UPDATE", err.Error(), isSQLiteBusy(err)).WithCause(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return core.ErrNotFound("task", string(id))
		}
		return nil
	})
}

// UpdateTaskStatusIf performs the compare-and-set inside a single
// transaction: the WHERE clause includes the expected status, so a
// concurrent writer that already moved the row away from expected causes
// this UPDATE to affect zero rows, which this method reports as (nil, nil)
// rather than an error.
func (r *SQLiteRepository) UpdateTaskStatusIf(ctx context.Context, id core.TaskID, expected, newStatus core.TaskStatus, reason string, roundsCompleted *int, setCancelRequested *bool) (*core.Task, error) {
	var result *core.Task
	err := r.retryWrite(ctx, "UpdateTaskStatusIf", func() error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		now := time.Now().UTC().Format(timestampLayout)
		query := `UPDATE tasks SET status = ?, last_gate_reason = ?, updated_at = ?`
		args := []any{string(newStatus), reason, now}
		if roundsCompleted != nil {
			query += `, rounds_completed = ?`
			args = append(args, *roundsCompleted)
		}
		if setCancelRequested != nil {
			query += `, cancel_requested = ?`
			args = append(args, boolToInt(*setCancelRequested))
		}
		query += ` WHERE task_id = ? AND status = ?`
		args = append(args, string(id), string(expected))

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			// Either the task doesn't exist or expected no longer matches.
			var exists int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE task_id = ?`, string(id)).Scan(&exists); err != nil {
				return err
			}
			if exists == 0 {
				return core.ErrNotFound("task", string(id))
			}
			result = nil
			return tx.Commit()
		}

		row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, string(id))
		t, err := scanTask(row.Scan)
		if err != nil {
			return err
		}
		result = t
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) SetCancelRequested(ctx context.Context, id core.TaskID, requested bool) error {
	return r.retryWrite(ctx, "SetCancelRequested", func() error {
		res, err := r.db.ExecContext(ctx, `UPDATE tasks SET cancel_requested = ?, updated_at = ? WHERE task_id = ?`,
			boolToInt(requested), time.Now().UTC().Format(timestampLayout), string(id))
		if err != nil {
			return core.ErrStorage("STORE_UPDATE", err.Error(), isSQLiteBusy(err)).WithCause(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return core.ErrNotFound("task", string(id))
		}
		return nil
	})
}

func (r *SQLiteRepository) IsCancelRequested(ctx context.Context, id core.TaskID) (bool, error) {
	var v int
	err := r.readDB.QueryRowContext(ctx, `SELECT cancel_requested FROM tasks WHERE task_id = ?`, string(id)).Scan(&v)
	if err == sql.ErrNoRows {
		return false, core.ErrNotFound("task", string(id))
	}
	if err != nil {
		return false, core.ErrStorage("STORE_QUERY", err.Error(), false).WithCause(err)
	}
	return v != 0, nil
}

// AppendEvent reserves the task's next sequence number from the
// task_event_counters row inside a write transaction, guaranteeing a
// monotonic, gap-free sequence even under concurrent appenders: the single
// write connection runs one transaction at a time, so appenders in this
// process are serialized, and retryWrite retries transient SQLite lock
// contention.
func (r *SQLiteRepository) AppendEvent(ctx context.Context, id core.TaskID, eventType core.EventType, payload map[string]any, round *int) (core.TaskEvent, error) {
	var ev core.TaskEvent
	err := r.retryWrite(ctx, "AppendEvent", func() error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		var seq int
		err = tx.QueryRowContext(ctx, `SELECT next_seq FROM task_event_counters WHERE task_id = ?`, string(id)).Scan(&seq)
		if err == sql.ErrNoRows {
			var exists int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE task_id = ?`, string(id)).Scan(&exists); err != nil {
				return err
			}
			if exists == 0 {
				return core.ErrNotFound("task", string(id))
			}
			// Counter row missing (pre-existing task from an older schema):
			// fall back to max(seq)+1.
			if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM task_events WHERE task_id = ?`, string(id)).Scan(&seq); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO task_event_counters (task_id, next_seq) VALUES (?, ?)`, string(id), seq); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `UPDATE task_event_counters SET next_seq = ? WHERE task_id = ?`, seq+1, string(id)); err != nil {
			return err
		}

		roundVal := 0
		if round != nil {
			roundVal = *round
		}
		payloadJSON, err := marshalJSON(payload)
		if err != nil {
			return err
		}
		createdAt := time.Now()
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_events (task_id, seq, type, round, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			string(id), seq, string(eventType), roundVal, payloadJSON, createdAt.UTC().Format(timestampLayout)); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return err
		}
		ev = core.TaskEvent{TaskID: id, Seq: seq, Type: eventType, Round: roundVal, Payload: payload, CreatedAt: createdAt}
		return nil
	})
	if err != nil {
		return core.TaskEvent{}, err
	}
	return ev, nil
}

func (r *SQLiteRepository) ListEvents(ctx context.Context, id core.TaskID) ([]core.TaskEvent, error) {
	rows, err := r.readDB.QueryContext(ctx, `SELECT task_id, seq, type, round, payload, created_at FROM task_events WHERE task_id = ? ORDER BY seq ASC`, string(id))
	if err != nil {
		return nil, core.ErrStorage("STORE_QUERY", err.Error(), false).WithCause(err)
	}
	defer rows.Close()

	var out []core.TaskEvent
	for rows.Next() {
		var ev core.TaskEvent
		var taskID, typeStr, payloadJSON, createdAt string
		var round sql.NullInt64
		if err := rows.Scan(&taskID, &ev.Seq, &typeStr, &round, &payloadJSON, &createdAt); err != nil {
			return nil, core.ErrStorage("STORE_SCAN", err.Error(), false).WithCause(err)
		}
		ev.TaskID = core.TaskID(taskID)
		ev.Type = core.EventType(typeStr)
		ev.Round = int(round.Int64)
		if err := unmarshalJSON(payloadJSON, &ev.Payload); err != nil {
			return nil, err
		}
		if when, err := time.Parse(timestampLayout, createdAt); err == nil {
			ev.CreatedAt = when
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) DeleteTasks(ctx context.Context, ids []core.TaskID) error {
	if len(ids) == 0 {
		return nil
	}
	return r.retryWrite(ctx, "DeleteTasks", func() error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = ?`, string(id)); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

func (r *SQLiteRepository) Close() error {
	var firstErr error
	if err := r.readDB.Close(); err != nil {
		firstErr = err
	}
	if err := r.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
