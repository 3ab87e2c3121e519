package fusion

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/awe-dev/agentcheck/internal/core"
)

// snapshotMeta is the meta.json written into every fusion snapshot zip.
type snapshotMeta struct {
	TaskID    string    `json:"task_id"`
	Changed   []string  `json:"changed"`
	Deleted   []string  `json:"deleted"`
	MergedAt  time.Time `json:"merged_at"`
	SourceDir string    `json:"source_root"`
	TargetDir string    `json:"target_root"`
}

// writeSnapshot archives the new/modified files under sourceRoot plus a
// meta.json into a zip at snapshotPath, and writes a markdown changelog at
// changelogPath.
func writeSnapshot(taskID core.TaskID, sourceRoot, targetRoot, snapshotDir string, changed, deleted []string, mergedAt time.Time) (snapshotPath, changelogPath string, err error) {
	if err := os.MkdirAll(snapshotDir, 0o750); err != nil {
		return "", "", core.ErrStorage("FUSION_SNAPSHOT_MKDIR", err.Error(), false).WithCause(err)
	}

	stamp := mergedAt.UTC().Format("20060102T150405Z")
	snapshotPath = filepath.Join(snapshotDir, fmt.Sprintf("%s-%s.zip", taskID, stamp))
	changelogPath = filepath.Join(snapshotDir, fmt.Sprintf("%s-%s.changelog.md", taskID, stamp))

	meta := snapshotMeta{
		TaskID:    string(taskID),
		Changed:   changed,
		Deleted:   deleted,
		MergedAt:  mergedAt,
		SourceDir: sourceRoot,
		TargetDir: targetRoot,
	}

	if err := writeZip(snapshotPath, sourceRoot, meta); err != nil {
		return "", "", err
	}
	if err := writeChangelog(changelogPath, meta); err != nil {
		return "", "", err
	}
	return snapshotPath, changelogPath, nil
}

func writeZip(path, sourceRoot string, meta snapshotMeta) error {
	out, err := os.Create(path) // #nosec G304 -- path built from task id + timestamp, not user input
	if err != nil {
		return core.ErrStorage("FUSION_ZIP_CREATE", err.Error(), false).WithCause(err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)

	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return core.ErrStorage("FUSION_ZIP_META_ENCODE", err.Error(), false).WithCause(err)
	}
	w, err := zw.Create("meta.json")
	if err != nil {
		return core.ErrStorage("FUSION_ZIP_META_WRITE", err.Error(), false).WithCause(err)
	}
	if _, err := w.Write(metaBytes); err != nil {
		return core.ErrStorage("FUSION_ZIP_META_WRITE", err.Error(), false).WithCause(err)
	}

	sortedChanged := append([]string(nil), meta.Changed...)
	sort.Strings(sortedChanged)
	for _, rel := range sortedChanged {
		if err := addZipFile(zw, filepath.Join(sourceRoot, filepath.FromSlash(rel)), rel); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return core.ErrStorage("FUSION_ZIP_CLOSE", err.Error(), false).WithCause(err)
	}
	return out.Close()
}

func addZipFile(zw *zip.Writer, diskPath, archivePath string) error {
	data, err := os.ReadFile(diskPath) // #nosec G304 -- path comes from a validated manifest diff
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return core.ErrStorage("FUSION_ZIP_READ", err.Error(), false).WithCause(err)
	}
	w, err := zw.Create(archivePath)
	if err != nil {
		return core.ErrStorage("FUSION_ZIP_ENTRY", err.Error(), false).WithCause(err)
	}
	_, err = io.Copy(w, bytes.NewReader(data))
	if err != nil {
		return core.ErrStorage("FUSION_ZIP_WRITE", err.Error(), false).WithCause(err)
	}
	return nil
}

func writeChangelog(path string, meta snapshotMeta) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Auto-fusion changelog\n\n")
	fmt.Fprintf(&b, "Task: %s\n", meta.TaskID)
	fmt.Fprintf(&b, "Merged at: %s\n\n", meta.MergedAt.Format(time.RFC3339))

	fmt.Fprintf(&b, "## Changed files (%d)\n\n", len(meta.Changed))
	for _, p := range meta.Changed {
		fmt.Fprintf(&b, "- %s\n", p)
	}
	fmt.Fprintf(&b, "\n## Deleted files (%d)\n\n", len(meta.Deleted))
	for _, p := range meta.Deleted {
		fmt.Fprintf(&b, "- %s\n", p)
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o640); err != nil {
		return core.ErrStorage("FUSION_CHANGELOG_WRITE", err.Error(), false).WithCause(err)
	}
	return nil
}
