package artifacts

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awe-dev/agentcheck/internal/core"
)

func TestStore_WriteAndReadState(t *testing.T) {
	s := New(t.TempDir())

	task := core.NewTask("task-1", "add a feature")
	require.NoError(t, s.WriteState("task-1", task))

	var got core.Task
	ok, err := s.ReadState("task-1", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, task.Title, got.Title)
}

func TestStore_ReadState_MissingReturnsFalse(t *testing.T) {
	s := New(t.TempDir())
	var got core.Task
	ok, err := s.ReadState("task-1", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_AppendEventLine_OnePerLine(t *testing.T) {
	root := t.TempDir()
	s := New(root)

	for seq := 1; seq <= 3; seq++ {
		ev := core.TaskEvent{TaskID: "task-1", Seq: seq, Type: core.EventReview, Round: 1, CreatedAt: time.Now()}
		require.NoError(t, s.AppendEventLine("task-1", ev))
	}

	data, err := os.ReadFile(filepath.Join(root, "threads", "task-1", "events.jsonl"))
	require.NoError(t, err)
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	assert.Equal(t, 3, lines)
}

func TestStore_AppendMarkdown_Accumulates(t *testing.T) {
	s := New(t.TempDir())

	require.NoError(t, s.AppendMarkdown("task-1", "discussion.md", "## Round 1\n\nfirst\n"))
	require.NoError(t, s.AppendMarkdown("task-1", "discussion.md", "## Round 2\n\nsecond\n"))

	content, ok := s.ReadMarkdown("task-1", "discussion.md")
	require.True(t, ok)
	assert.Contains(t, content, "Round 1")
	assert.Contains(t, content, "Round 2")
}

func TestStore_WriteAndReadArtifact(t *testing.T) {
	s := New(t.TempDir())

	payload := map[string]string{"a.txt": "deadbeef"}
	require.NoError(t, s.WriteArtifact("task-1", "before_manifest", payload))

	var got map[string]string
	ok, err := s.ReadArtifact("task-1", "before_manifest", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, payload, got)

	ok, err = s.ReadArtifact("task-1", "never_written", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValidateTaskID_RejectsTraversal(t *testing.T) {
	assert.Error(t, ValidateTaskID(""))
	assert.Error(t, ValidateTaskID("../escape"))
	assert.Error(t, ValidateTaskID("a/b"))
	assert.NoError(t, ValidateTaskID("task-1.retry_2"))
}
