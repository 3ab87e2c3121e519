// Package artifacts owns each task's on-disk workspace: state snapshot,
// event log, discussion/summary markdown, and named artifact payloads.
// It is the only component allowed to write these files; everyone else
// reads them (Event Analyser, external presentation layers).
package artifacts

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"

	"github.com/awe-dev/agentcheck/internal/core"
)

var taskIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Store manages the `<root>/threads/<task_id>/` directory for every task.
type Store struct {
	root string
}

// New creates a Store rooted at the given artifact root directory
// (AWE_ARTIFACT_ROOT).
func New(root string) *Store {
	return &Store{root: root}
}

// ValidateTaskID rejects task IDs that could escape the artifact root via
// path traversal.
func ValidateTaskID(taskID string) error {
	if taskID == "" {
		return core.ErrValidation("TASK_ID_REQUIRED", "task_id is required").WithField("task_id")
	}
	if !taskIDPattern.MatchString(taskID) {
		return core.ErrValidation("INVALID_TASK_ID", "invalid task_id").WithField("task_id")
	}
	return nil
}

// TaskDir returns the per-task directory path, creating it and its
// artifacts/ subdirectory if absent.
func (s *Store) TaskDir(taskID core.TaskID) (string, error) {
	if err := ValidateTaskID(string(taskID)); err != nil {
		return "", err
	}
	dir := filepath.Join(s.root, "threads", string(taskID))
	if err := os.MkdirAll(filepath.Join(dir, "artifacts"), 0o750); err != nil {
		return "", core.ErrStorage("ARTIFACT_DIR_CREATE", err.Error(), false).WithCause(err)
	}
	return dir, nil
}

// WriteState atomically writes the current task snapshot to state.json.
func (s *Store) WriteState(taskID core.TaskID, snapshot any) error {
	dir, err := s.TaskDir(taskID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return core.ErrStorage("STATE_ENCODE", err.Error(), false).WithCause(err)
	}
	if err := atomicWriteFile(filepath.Join(dir, "state.json"), data, 0o640); err != nil {
		return core.ErrStorage("STATE_WRITE", err.Error(), false).WithCause(err)
	}
	return nil
}

// ReadState reads the last written state.json, if any.
func (s *Store) ReadState(taskID core.TaskID, out any) (bool, error) {
	dir, err := s.TaskDir(taskID)
	if err != nil {
		return false, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "state.json"))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, core.ErrStorage("STATE_READ", err.Error(), false).WithCause(err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, core.ErrStorage("STATE_DECODE", err.Error(), false).WithCause(err)
	}
	return true, nil
}

// AppendEventLine appends one JSON-encoded event line to events.jsonl. The
// repository owns seq assignment; this only mirrors the event to disk for
// the Event Analyser's on-disk fallback path.
func (s *Store) AppendEventLine(taskID core.TaskID, event core.TaskEvent) error {
	dir, err := s.TaskDir(taskID)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, "events.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return core.ErrStorage("EVENT_LOG_OPEN", err.Error(), false).WithCause(err)
	}
	defer f.Close()

	line, err := json.Marshal(map[string]any{
		"seq":        event.Seq,
		"task_id":    event.TaskID,
		"type":       event.Type,
		"round":      event.Round,
		"payload":    event.Payload,
		"created_at": event.CreatedAt,
	})
	if err != nil {
		return core.ErrStorage("EVENT_ENCODE", err.Error(), false).WithCause(err)
	}
	w := bufio.NewWriter(f)
	if _, err := w.Write(line); err != nil {
		return core.ErrStorage("EVENT_LOG_WRITE", err.Error(), false).WithCause(err)
	}
	if err := w.WriteByte('\n'); err != nil {
		return core.ErrStorage("EVENT_LOG_WRITE", err.Error(), false).WithCause(err)
	}
	return w.Flush()
}

// WriteMarkdown writes one of discussion.md/summary.md/final_report.md.
func (s *Store) WriteMarkdown(taskID core.TaskID, name, content string) error {
	dir, err := s.TaskDir(taskID)
	if err != nil {
		return err
	}
	if err := atomicWriteFile(filepath.Join(dir, name), []byte(content), 0o640); err != nil {
		return core.ErrStorage("MARKDOWN_WRITE", err.Error(), false).WithCause(err)
	}
	return nil
}

// AppendMarkdown appends a section to one of the per-task markdown files,
// creating it if absent. Used for the round-by-round discussion transcript,
// where rewriting the whole file per round would race a concurrent reader.
func (s *Store) AppendMarkdown(taskID core.TaskID, name, section string) error {
	dir, err := s.TaskDir(taskID)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return core.ErrStorage("MARKDOWN_OPEN", err.Error(), false).WithCause(err)
	}
	defer f.Close()
	if _, err := f.WriteString(section); err != nil {
		return core.ErrStorage("MARKDOWN_APPEND", err.Error(), false).WithCause(err)
	}
	return nil
}

// ReadMarkdown reads one of discussion.md/summary.md/final_report.md.
// The second return value is false if the file has not been written yet.
func (s *Store) ReadMarkdown(taskID core.TaskID, name string) (string, bool) {
	dir, err := s.TaskDir(taskID)
	if err != nil {
		return "", false
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// WriteDecisions writes decisions.json.
func (s *Store) WriteDecisions(taskID core.TaskID, decisions any) error {
	dir, err := s.TaskDir(taskID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(decisions, "", "  ")
	if err != nil {
		return core.ErrStorage("DECISIONS_ENCODE", err.Error(), false).WithCause(err)
	}
	if err := atomicWriteFile(filepath.Join(dir, "decisions.json"), data, 0o640); err != nil {
		return core.ErrStorage("DECISIONS_WRITE", err.Error(), false).WithCause(err)
	}
	return nil
}

// WriteArtifact writes a named JSON payload under artifacts/<name>.json.
func (s *Store) WriteArtifact(taskID core.TaskID, name string, payload any) error {
	if !taskIDPattern.MatchString(name) {
		return core.ErrValidation("INVALID_ARTIFACT_NAME", "invalid artifact name").WithField("name")
	}
	dir, err := s.TaskDir(taskID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return core.ErrStorage("ARTIFACT_ENCODE", err.Error(), false).WithCause(err)
	}
	path := filepath.Join(dir, "artifacts", name+".json")
	if err := atomicWriteFile(path, data, 0o640); err != nil {
		return core.ErrStorage("ARTIFACT_WRITE", err.Error(), false).WithCause(err)
	}
	return nil
}

// ReadArtifact reads a named JSON payload previously written with
// WriteArtifact. The first return value is false if it does not exist.
func (s *Store) ReadArtifact(taskID core.TaskID, name string, out any) (bool, error) {
	if !taskIDPattern.MatchString(name) {
		return false, core.ErrValidation("INVALID_ARTIFACT_NAME", "invalid artifact name").WithField("name")
	}
	dir, err := s.TaskDir(taskID)
	if err != nil {
		return false, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "artifacts", name+".json"))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, core.ErrStorage("ARTIFACT_READ", err.Error(), false).WithCause(err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, core.ErrStorage("ARTIFACT_DECODE", err.Error(), false).WithCause(err)
	}
	return true, nil
}

// Remove deletes a task's entire artifact directory.
func (s *Store) Remove(taskID core.TaskID) error {
	dir, err := s.TaskDir(taskID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return core.ErrStorage("ARTIFACT_REMOVE", err.Error(), false).WithCause(err)
	}
	return nil
}
