// Package sandbox bootstraps an isolated copy of a project tree for a task
// to run against, enforcing the shared ignore list and recording a
// workspace fingerprint so the engine can detect drift on resume
//.
package sandbox

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/awe-dev/agentcheck/internal/core"
)

// Manager creates and tears down sandbox workspaces.
type Manager struct {
	baseDir string
}

// New creates a Manager rooted at baseDir. An empty baseDir falls back to
// "<home>/.awe-agentcheck/sandboxes".
func New(baseDir string) *Manager {
	if strings.TrimSpace(baseDir) == "" {
		if home, err := os.UserHomeDir(); err == nil {
			baseDir = filepath.Join(home, ".awe-agentcheck", "sandboxes")
		} else {
			baseDir = filepath.Join(os.TempDir(), ".awe-agentcheck", "sandboxes")
		}
	}
	return &Manager{baseDir: baseDir}
}

// ResolveBase picks the sandbox base directory: an explicit base wins, the
// shared world-readable base is opt-in, and an empty result falls through
// to New's per-user default.
func ResolveBase(base string, usePublicBase bool) string {
	if strings.TrimSpace(base) != "" {
		return base
	}
	if usePublicBase {
		if runtime.GOOS == "windows" {
			public := os.Getenv("PUBLIC")
			if public == "" {
				public = "C:/Users/Public"
			}
			return filepath.Join(public, "awe-agentcheck-sandboxes")
		}
		return filepath.Join(os.TempDir(), "awe-agentcheck-sandboxes")
	}
	return ""
}

// GeneratePath builds a fresh sandbox directory path under the base dir:
// <base>/<project_name>-lab/<timestamp>-<6-hex>. It does not create the
// directory.
func (m *Manager) GeneratePath(projectPath string, now time.Time) string {
	projectName := filepath.Base(filepath.Clean(projectPath))
	if projectName == "" || projectName == "." || projectName == string(filepath.Separator) {
		projectName = "project"
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	dirName := now.UTC().Format("20060102T150405Z") + "-" + suffix
	return filepath.Join(m.baseDir, projectName+"-lab", dirName)
}

// Bootstrap creates sandboxPath and recursively copies projectPath into it,
// skipping any path matched by the shared ignore list. Returns the recorded
// fingerprint of the freshly created sandbox.
func (m *Manager) Bootstrap(projectPath, sandboxPath string) (fingerprint string, err error) {
	if err := os.MkdirAll(sandboxPath, 0o750); err != nil {
		return "", core.ErrStorage("SANDBOX_MKDIR", err.Error(), false).WithCause(err)
	}
	if err := m.copyTree(projectPath, sandboxPath); err != nil {
		_ = os.RemoveAll(sandboxPath)
		return "", err
	}
	fp, err := core.Fingerprint(sandboxPath)
	if err != nil {
		_ = os.RemoveAll(sandboxPath)
		return "", err
	}
	return fp, nil
}

// Remove deletes a generated sandbox directory. Callers must never call
// this for an operator-supplied sandbox path.
func (m *Manager) Remove(sandboxPath string) error {
	if strings.TrimSpace(sandboxPath) == "" {
		return nil
	}
	if err := os.RemoveAll(sandboxPath); err != nil {
		return core.ErrStorage("SANDBOX_REMOVE", err.Error(), false).WithCause(err)
	}
	return nil
}

func (m *Manager) copyTree(src, dst string) error {
	isWindows := runtime.GOOS == "windows"
	return filepath.Walk(src, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if IsIgnored(rel, isWindows) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

func copyFile(src, dst string, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return core.ErrStorage("SANDBOX_COPY_MKDIR", err.Error(), false).WithCause(err)
	}
	in, err := os.Open(src) // #nosec G304 -- path discovered by project tree walk
	if err != nil {
		return core.ErrStorage("SANDBOX_COPY_OPEN", err.Error(), false).WithCause(err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return core.ErrStorage("SANDBOX_COPY_CREATE", err.Error(), false).WithCause(err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return core.ErrStorage("SANDBOX_COPY_WRITE", err.Error(), false).WithCause(err)
	}
	return out.Close()
}
