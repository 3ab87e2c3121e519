package fusion

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/awe-dev/agentcheck/internal/core"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
}

// TestFuse_CrossRepoScenario: source starts with
// {a.txt:"v1", b.txt:"stale"}, target with {b.txt:"stale"}; source changes to
// {a.txt:"v2", c.txt:"new"} and drops b.txt.
func TestFuse_CrossRepoScenario(t *testing.T) {
	source := t.TempDir()
	target := t.TempDir()

	writeFile(t, filepath.Join(source, "a.txt"), "v1")
	writeFile(t, filepath.Join(source, "b.txt"), "stale")
	writeFile(t, filepath.Join(target, "b.txt"), "stale")

	before, err := BuildManifest(source)
	if err != nil {
		t.Fatalf("BuildManifest(before): %v", err)
	}

	writeFile(t, filepath.Join(source, "a.txt"), "v2")
	if err := os.Remove(filepath.Join(source, "b.txt")); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(source, "c.txt"), "new")

	mergedAt := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	result, err := Fuse(Input{
		TaskID:         core.TaskID("task-cross-repo"),
		SourceRoot:     source,
		TargetRoot:     target,
		BeforeManifest: before,
		SnapshotDir:    t.TempDir(),
		MergedAt:       mergedAt,
	})
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}

	if result.Mode != ModeCrossRepo {
		t.Errorf("Mode = %q, want %q", result.Mode, ModeCrossRepo)
	}
	if got, want := result.ChangedFiles, []string{"a.txt", "c.txt"}; !equalStrings(got, want) {
		t.Errorf("ChangedFiles = %v, want %v", got, want)
	}
	if got, want := result.DeletedFiles, []string{"b.txt"}; !equalStrings(got, want) {
		t.Errorf("DeletedFiles = %v, want %v", got, want)
	}

	targetA, err := os.ReadFile(filepath.Join(target, "a.txt"))
	if err != nil || string(targetA) != "v2" {
		t.Errorf("target a.txt = %q, %v; want v2", targetA, err)
	}
	targetC, err := os.ReadFile(filepath.Join(target, "c.txt"))
	if err != nil || string(targetC) != "new" {
		t.Errorf("target c.txt = %q, %v; want new", targetC, err)
	}
	if _, err := os.Stat(filepath.Join(target, "b.txt")); !os.IsNotExist(err) {
		t.Errorf("expected target b.txt to be deleted, stat err=%v", err)
	}

	if result.SnapshotPath == "" || result.ChangelogPath == "" {
		t.Fatal("expected snapshot and changelog paths to be set")
	}
	if _, err := os.Stat(result.SnapshotPath); err != nil {
		t.Errorf("snapshot zip missing: %v", err)
	}
	changelog, err := os.ReadFile(result.ChangelogPath)
	if err != nil {
		t.Fatalf("changelog missing: %v", err)
	}
	if !contains(string(changelog), "task-cross-repo") {
		t.Errorf("changelog does not reference task id: %s", changelog)
	}
}

func TestFuse_NoChangesWhenSameRoot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "v1")

	before, err := BuildManifest(root)
	if err != nil {
		t.Fatalf("BuildManifest: %v", err)
	}

	result, err := Fuse(Input{
		TaskID:         core.TaskID("task-no-changes"),
		SourceRoot:     root,
		TargetRoot:     root,
		BeforeManifest: before,
		SnapshotDir:    t.TempDir(),
		MergedAt:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	if result.Mode != ModeNoChanges {
		t.Errorf("Mode = %q, want %q", result.Mode, ModeNoChanges)
	}
	if result.SnapshotPath != "" {
		t.Errorf("expected no snapshot for no_changes, got %q", result.SnapshotPath)
	}
}

// TestFuse_IsPureOverInputs re-runs Fuse with identical (before, source,
// target) content and asserts identical changed/deleted sets.
func TestFuse_IsPureOverInputs(t *testing.T) {
	source := t.TempDir()
	target := t.TempDir()
	writeFile(t, filepath.Join(source, "a.txt"), "v1")
	writeFile(t, filepath.Join(target, "a.txt"), "v0")

	before := Manifest{"a.txt": "deadbeef"}

	run := func() *Result {
		snapshotDir := t.TempDir()
		result, err := Fuse(Input{
			TaskID:         core.TaskID("task-pure"),
			SourceRoot:     source,
			TargetRoot:     target,
			BeforeManifest: before,
			SnapshotDir:    snapshotDir,
			MergedAt:       time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC),
		})
		if err != nil {
			t.Fatalf("Fuse: %v", err)
		}
		return result
	}

	first := run()
	// Re-establish target's pre-fusion content so the second run observes
	// the same starting point as the first.
	writeFile(t, filepath.Join(target, "a.txt"), "v0")
	second := run()

	if !equalStrings(first.ChangedFiles, second.ChangedFiles) {
		t.Errorf("ChangedFiles differ across runs: %v vs %v", first.ChangedFiles, second.ChangedFiles)
	}
	if !equalStrings(first.DeletedFiles, second.DeletedFiles) {
		t.Errorf("DeletedFiles differ across runs: %v vs %v", first.DeletedFiles, second.DeletedFiles)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func contains(haystack, needle string) bool {
	return len(needle) == 0 || (len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
