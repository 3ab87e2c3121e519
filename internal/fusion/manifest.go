// Package fusion implements the Auto-Fusion Manager: it diffs a sandbox
// against a target tree using a content-addressed manifest, applies
// copies/deletes, writes a changelog, and archives a snapshot zip
//.
package fusion

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/awe-dev/agentcheck/internal/core"
	"github.com/awe-dev/agentcheck/internal/sandbox"
)

// Manifest maps a forward-slash relative path to its content's SHA-256 hex
// digest.
type Manifest map[string]string

// BuildManifest walks root and hashes every file not excluded by the shared
// sandbox ignore list, keyed by forward-slash relative path.
func BuildManifest(root string) (Manifest, error) {
	manifest := Manifest{}
	isWindows := runtime.GOOS == "windows"

	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return manifest, nil
		}
		return nil, core.ErrStorage("MANIFEST_STAT", err.Error(), false).WithCause(err)
	}
	if !info.IsDir() {
		return nil, core.ErrValidation("MANIFEST_ROOT_NOT_DIR", root+" is not a directory")
	}

	err = filepath.Walk(root, func(path string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		relSlash := filepath.ToSlash(rel)
		if sandbox.IsIgnored(rel, isWindows) {
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if fi.IsDir() || fi.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		digest, err := hashFile(path)
		if err != nil {
			return err
		}
		manifest[relSlash] = digest
		return nil
	})
	if err != nil {
		return nil, core.ErrStorage("MANIFEST_WALK", err.Error(), false).WithCause(err)
	}
	return manifest, nil
}

// hashFile streams a file through SHA-256 in fixed-size reads, returning a
// lowercase hex digest.
func hashFile(path string) (string, error) {
	f, err := os.Open(path) // #nosec G304 -- path discovered by manifest walk
	if err != nil {
		return "", core.ErrStorage("MANIFEST_HASH_OPEN", err.Error(), false).WithCause(err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, 64*1024)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", core.ErrStorage("MANIFEST_HASH_READ", err.Error(), false).WithCause(err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Diff computes the changed and deleted path sets between a before and
// after manifest of the same root.
func Diff(before, after Manifest) (changed, deleted []string) {
	for path, afterSum := range after {
		if beforeSum, ok := before[path]; !ok || beforeSum != afterSum {
			changed = append(changed, path)
		}
	}
	for path := range before {
		if _, ok := after[path]; !ok {
			deleted = append(deleted, path)
		}
	}
	sort.Strings(changed)
	sort.Strings(deleted)
	return changed, deleted
}
