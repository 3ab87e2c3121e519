package sandbox

import (
	"path/filepath"
	"regexp"
	"strings"
)

// ignoredSegments lists first-path-segments that are always excluded from a
// sandbox bootstrap copy: VCS metadata, agent state, caches, editor state.
var ignoredSegments = map[string]bool{
	".git":            true,
	".agents":         true,
	".claude":         true,
	".venv":           true,
	"__pycache__":     true,
	".pytest_cache":   true,
	".ruff_cache":     true,
	"node_modules":    true,
	".mypy_cache":     true,
	".idea":           true,
	".vscode":         true,
}

// ignoredLeafGlobs are filename glob patterns excluded regardless of
// directory depth.
var ignoredLeafGlobs = []string{
	"*.pyc",
	"*.pyo",
	".env",
	".env.*",
	"*.pem",
	"*.key",
}

// secretNamePattern matches filenames that look like credential material
// even without one of the glob extensions above.
var secretNamePattern = regexp.MustCompile(`(?i)(^|[._-])(token|tokens|secret|secrets|apikey|api-key|access-key)([._-]|$)`)

// windowsReservedNames are device names Windows treats specially regardless
// of extension.
var windowsReservedNames = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true, "com5": true,
	"com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true, "lpt5": true,
	"lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

// IsIgnored reports whether relPath (slash-separated, relative to the
// project root) must be excluded from a sandbox bootstrap copy. The
// segment list applies to the first path segment only; the leaf patterns
// apply at any depth.
func IsIgnored(relPath string, isWindows bool) bool {
	relPath = filepath.ToSlash(relPath)
	segments := strings.Split(relPath, "/")
	if ignoredSegments[segments[0]] {
		return true
	}

	leaf := segments[len(segments)-1]
	for _, pattern := range ignoredLeafGlobs {
		if ok, _ := filepath.Match(pattern, leaf); ok {
			return true
		}
	}
	if secretNamePattern.MatchString(leaf) {
		return true
	}

	if isWindows {
		base := leaf
		if idx := strings.IndexByte(base, '.'); idx >= 0 {
			base = base[:idx]
		}
		if windowsReservedNames[strings.ToLower(base)] {
			return true
		}
	}

	return false
}
