package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// AtomicWrite replaces path's contents without ever exposing a partial
// file: data goes to a tempfile in the same directory (same filesystem, so
// the rename is atomic), is fsynced, and is then renamed over the target.
// The automation driver's single-instance lock file depends on this — a
// concurrent reader must see either the old lock or the new one, never a
// torn PID line. An existing file keeps its permissions; a new one is
// created 0600.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("atomic write %s: %w", path, err)
	}

	perm := os.FileMode(0o600)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".")
	if err != nil {
		return fmt.Errorf("atomic write %s: %w", path, err)
	}
	tmpPath := tmp.Name()

	commit := func() error {
		if err := tmp.Chmod(perm); err != nil {
			return err
		}
		if _, err := tmp.Write(data); err != nil {
			return err
		}
		if err := tmp.Sync(); err != nil {
			return err
		}
		if err := tmp.Close(); err != nil {
			return err
		}
		return os.Rename(tmpPath, path)
	}

	if err := commit(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("atomic write %s: %w", path, err)
	}
	return nil
}
