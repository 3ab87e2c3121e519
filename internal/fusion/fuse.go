package fusion

import (
	"path/filepath"
	"time"

	"github.com/awe-dev/agentcheck/internal/core"
)

// Mode classifies a fusion run's outcome.
type Mode string

const (
	ModeNoChanges Mode = "no_changes"
	ModeInPlace   Mode = "in_place"
	ModeCrossRepo Mode = "cross_repo"
)

// Input is everything Fuse needs to merge a sandbox back into a target tree.
type Input struct {
	TaskID          core.TaskID
	SourceRoot      string
	TargetRoot      string
	BeforeManifest  Manifest
	SnapshotDir     string
	MergedAt        time.Time
}

// Result is the summary a fusion run returns, mirrored into an
// auto_merge_completed event payload.
type Result struct {
	Mode          Mode      `json:"mode"`
	ChangedFiles  []string  `json:"changed_files"`
	DeletedFiles  []string  `json:"deleted_files"`
	CopiedFiles   []string  `json:"copied_files"`
	SnapshotPath  string    `json:"snapshot_path,omitempty"`
	ChangelogPath string    `json:"changelog_path,omitempty"`
	MergedAt      time.Time `json:"merged_at"`
}

// Fuse runs the full Auto-Fusion algorithm: compute
// the after-manifest, diff against before, apply to the target, and write
// a snapshot + changelog. It is a pure function of
// (BeforeManifest, SourceRoot, TargetRoot) content — re-running with the
// same inputs yields identical changed/deleted sets.
func Fuse(input Input) (*Result, error) {
	sameRoot := samePath(input.SourceRoot, input.TargetRoot)

	afterManifest, err := BuildManifest(input.SourceRoot)
	if err != nil {
		return nil, err
	}
	changed, deleted := Diff(input.BeforeManifest, afterManifest)

	if sameRoot && len(changed) == 0 && len(deleted) == 0 {
		return &Result{Mode: ModeNoChanges, MergedAt: input.MergedAt}, nil
	}

	mode := ModeInPlace
	if !sameRoot {
		mode = ModeCrossRepo
		if err := applyChanges(input.SourceRoot, input.TargetRoot, changed, deleted); err != nil {
			return nil, err
		}
	}

	snapshotPath, changelogPath, err := writeSnapshot(input.TaskID, input.SourceRoot, input.TargetRoot, input.SnapshotDir, changed, deleted, input.MergedAt)
	if err != nil {
		return nil, err
	}

	return &Result{
		Mode:          mode,
		ChangedFiles:  changed,
		DeletedFiles:  deleted,
		CopiedFiles:   changed,
		SnapshotPath:  snapshotPath,
		ChangelogPath: changelogPath,
		MergedAt:      input.MergedAt,
	}, nil
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return filepath.Clean(absA) == filepath.Clean(absB)
}
