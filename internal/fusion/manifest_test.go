package fusion

import (
	"path/filepath"
	"testing"
)

func TestBuildManifest_ExcludesIgnoredPaths(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.go"), "package main")
	writeFile(t, filepath.Join(root, ".git", "HEAD"), "ref: refs/heads/main")
	writeFile(t, filepath.Join(root, ".env"), "SECRET=1")

	manifest, err := BuildManifest(root)
	if err != nil {
		t.Fatalf("BuildManifest: %v", err)
	}
	if _, ok := manifest["main.go"]; !ok {
		t.Error("expected main.go in manifest")
	}
	for _, ignored := range []string{".git/HEAD", ".env"} {
		if _, ok := manifest[ignored]; ok {
			t.Errorf("expected %s to be excluded from manifest", ignored)
		}
	}
}

func TestDiff_ChangedAndDeleted(t *testing.T) {
	before := Manifest{"a.txt": "h1", "b.txt": "h2"}
	after := Manifest{"a.txt": "h1-changed", "c.txt": "h3"}

	changed, deleted := Diff(before, after)
	if !equalStrings(changed, []string{"a.txt", "c.txt"}) {
		t.Errorf("changed = %v, want [a.txt c.txt]", changed)
	}
	if !equalStrings(deleted, []string{"b.txt"}) {
		t.Errorf("deleted = %v, want [b.txt]", deleted)
	}
}

func TestBuildManifest_MissingRootIsEmpty(t *testing.T) {
	manifest, err := BuildManifest(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("BuildManifest: %v", err)
	}
	if len(manifest) != 0 {
		t.Errorf("expected empty manifest for missing root, got %v", manifest)
	}
}
