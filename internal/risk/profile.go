// Package risk implements the Risk/Preflight Gate: it scores a workspace's
// risk, resolves a tier-dependent checklist of required checks, and
// returns a pass/fail structure before a task starts.
package risk

import (
	"os"
	"path/filepath"
	"strings"
)

// SizeBucket classifies a repository by file count.
type SizeBucket string

const (
	SizeSmall  SizeBucket = "small"
	SizeMedium SizeBucket = "medium"
	SizeLarge  SizeBucket = "large"
)

// Small repos top out at 120 files, medium at 1200, anything larger is
// large.
const (
	smallFileCeiling  = 120
	mediumFileCeiling = 1200
)

// riskMarkers are path/name substrings that flag a repository area as
// operationally sensitive.
var riskMarkers = []string{
	"prod", "deploy", "k8s", "security", "auth", "payment", "migrations", "database",
}

// Level is the richer risk-profile classification computed from file
// count and marker density; it collapses to Tier via ResolveTierFromProfile.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Tier is the coarse enum the policy contract keys required checks on.
type Tier string

const (
	TierLow  Tier = "low"
	TierHigh Tier = "high"
)

// Profile is the repository risk profile computed over a project tree.
type Profile struct {
	FileCount    int        `json:"file_count"`
	RiskMarkers  []string   `json:"risk_markers"`
	SizeBucket   SizeBucket `json:"size_bucket"`
	RiskLevel    Level      `json:"risk_level"`
}

// ComputeProfile walks root, counting regular files and collecting which
// risk-token markers appear in any path, then derives a size bucket and
// risk level.
func ComputeProfile(root string) (Profile, error) {
	var fileCount int
	markerHits := map[string]bool{}

	err := filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		lower := strings.ToLower(filepath.ToSlash(rel))
		for _, marker := range riskMarkers {
			if strings.Contains(lower, marker) {
				markerHits[marker] = true
			}
		}
		if !info.IsDir() {
			fileCount++
		}
		return nil
	})
	if err != nil {
		return Profile{}, err
	}

	markers := make([]string, 0, len(markerHits))
	for m := range markerHits {
		markers = append(markers, m)
	}

	return Profile{
		FileCount:   fileCount,
		RiskMarkers: markers,
		SizeBucket:  sizeBucketFor(fileCount),
		RiskLevel:   riskLevelFor(fileCount, len(markers)),
	}, nil
}

func sizeBucketFor(fileCount int) SizeBucket {
	switch {
	case fileCount <= smallFileCeiling:
		return SizeSmall
	case fileCount <= mediumFileCeiling:
		return SizeMedium
	default:
		return SizeLarge
	}
}

// riskLevelFor derives a 3-way risk level from size and marker density: a
// large repo or one with 3+ distinct sensitive-area markers is high risk;
// any marker hit at all is at least medium.
func riskLevelFor(fileCount, markerCount int) Level {
	switch {
	case markerCount >= 3 || fileCount > mediumFileCeiling:
		return LevelHigh
	case markerCount >= 1:
		return LevelMedium
	default:
		return LevelLow
	}
}

// ResolveTierFromProfile collapses the richer Level to the two-value Tier
// the policy contract keys on: anything short of high maps to low.
func ResolveTierFromProfile(p Profile) Tier {
	if p.RiskLevel == LevelHigh {
		return TierHigh
	}
	return TierLow
}
