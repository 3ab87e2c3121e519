// Package fsutil holds filesystem safety helpers for reading files whose
// paths originate outside the process — a task's project root is
// operator-supplied, so anything resolved relative to it gets a scoped
// read that cannot follow the path out of its directory.
package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ReadFileScoped reads path through an os.Root anchored at its parent
// directory, so symlinks or dot-dot components inside the final element
// cannot escape the directory the caller intended to read from.
func ReadFileScoped(path string) ([]byte, error) {
	cleaned := filepath.Clean(path)
	base := filepath.Base(cleaned)
	switch base {
	case "", ".", string(filepath.Separator):
		return nil, fmt.Errorf("invalid file path: %q", path)
	}

	root, err := os.OpenRoot(filepath.Dir(cleaned))
	if err != nil {
		return nil, err
	}
	defer root.Close()

	f, err := root.Open(base)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
