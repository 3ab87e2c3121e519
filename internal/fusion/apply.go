package fusion

import (
	"io"
	"os"
	"path/filepath"

	"github.com/awe-dev/agentcheck/internal/core"
)

// applyChanges copies each changed path from sourceRoot to targetRoot and
// removes each deleted path from targetRoot.
func applyChanges(sourceRoot, targetRoot string, changed, deleted []string) error {
	for _, rel := range changed {
		src := filepath.Join(sourceRoot, filepath.FromSlash(rel))
		dst := filepath.Join(targetRoot, filepath.FromSlash(rel))
		if err := copyFile(src, dst); err != nil {
			return err
		}
	}
	for _, rel := range deleted {
		dst := filepath.Join(targetRoot, filepath.FromSlash(rel))
		if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
			return core.ErrStorage("FUSION_DELETE", err.Error(), false).WithCause(err).WithDetail("path", rel)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return core.ErrStorage("FUSION_COPY_STAT", err.Error(), false).WithCause(err).WithDetail("path", src)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return core.ErrStorage("FUSION_COPY_MKDIR", err.Error(), false).WithCause(err)
	}
	in, err := os.Open(src) // #nosec G304 -- path comes from a validated manifest diff
	if err != nil {
		return core.ErrStorage("FUSION_COPY_OPEN", err.Error(), false).WithCause(err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return core.ErrStorage("FUSION_COPY_CREATE", err.Error(), false).WithCause(err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return core.ErrStorage("FUSION_COPY_WRITE", err.Error(), false).WithCause(err)
	}
	return out.Close()
}
