package core

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// fingerprintIgnoredNames mirrors the sandbox ignore list's first-segment
// entries. Duplicated here rather than imported: internal/sandbox depends
// on this package, so reaching back for its list would cycle.
var fingerprintIgnoredNames = map[string]bool{
	".git":          true,
	".agents":       true,
	".claude":       true,
	".venv":         true,
	"__pycache__":   true,
	".pytest_cache": true,
	".ruff_cache":   true,
	"node_modules":  true,
	".mypy_cache":   true,
	".idea":         true,
	".vscode":       true,
}

// Fingerprint computes a short, stable signature over a workspace's
// top-level directory listing. It is recomputed when a non-queued task is
// resumed, to detect whether a workspace drifted since task creation,
// so comparisons must be insensitive to path separator and case
// differences between platforms. Cache and VCS directories are excluded
// from the listing: `.git`/`node_modules` churn is not drift.
func Fingerprint(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", ErrStorage("FINGERPRINT_READDIR", err.Error(), false).WithCause(err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := filepath.ToSlash(e.Name())
		if fingerprintIgnoredNames[name] {
			continue
		}
		names = append(names, strings.ToLower(name))
	}
	sort.Strings(names)

	h := sha1.New()
	for _, n := range names {
		h.Write([]byte(n))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}

// WorkspaceFingerprint summarizes the triple of roots a task touches, so a
// resumed task can detect whether any of them drifted since the fingerprint
// was recorded.
type WorkspaceFingerprint struct {
	ProjectPath          string `json:"project_path"`
	WorkspacePath        string `json:"workspace_path"`
	SandboxWorkspacePath string `json:"sandbox_workspace_path,omitempty"`
	MergeTargetPath      string `json:"merge_target_path,omitempty"`

	ProjectSignature          string `json:"project_signature,omitempty"`
	WorkspaceSignature        string `json:"workspace_signature,omitempty"`
	SandboxWorkspaceSignature string `json:"sandbox_workspace_signature,omitempty"`
}

// normalizePath lowercases and forward-slashes a path on Windows (case
// insensitivity) and forward-slashes it everywhere else.
func normalizePath(path string) string {
	clean := filepath.ToSlash(filepath.Clean(path))
	if runtime.GOOS == "windows" {
		clean = strings.ToLower(clean)
	}
	return clean
}

// signRoot computes Fingerprint for root if it exists and is a directory,
// returning "" for a root that is empty, missing, or not a directory —
// the nullable sandbox/merge-target roots are expected to be absent.
func signRoot(root string) string {
	if strings.TrimSpace(root) == "" {
		return ""
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return ""
	}
	sig, err := Fingerprint(root)
	if err != nil {
		return ""
	}
	return sig
}

// BuildWorkspaceFingerprint computes the fingerprint for a task's triple of
// workspace roots at the moment the sandbox is created.
func BuildWorkspaceFingerprint(projectPath, workspacePath, sandboxWorkspacePath, mergeTargetPath string) WorkspaceFingerprint {
	return WorkspaceFingerprint{
		ProjectPath:               normalizePath(projectPath),
		WorkspacePath:             normalizePath(workspacePath),
		SandboxWorkspacePath:      normalizePath(sandboxWorkspacePath),
		MergeTargetPath:           normalizePath(mergeTargetPath),
		ProjectSignature:          signRoot(projectPath),
		WorkspaceSignature:        signRoot(workspacePath),
		SandboxWorkspaceSignature: signRoot(sandboxWorkspacePath),
	}
}

// Encode serializes the fingerprint to the string form stored on Task.
func (f WorkspaceFingerprint) Encode() string {
	data, err := json.Marshal(f)
	if err != nil {
		return ""
	}
	return string(data)
}

// DecodeWorkspaceFingerprint parses a fingerprint previously produced by
// Encode. An empty or malformed input yields the zero value and ok=false.
func DecodeWorkspaceFingerprint(encoded string) (WorkspaceFingerprint, bool) {
	var f WorkspaceFingerprint
	if strings.TrimSpace(encoded) == "" {
		return f, false
	}
	if err := json.Unmarshal([]byte(encoded), &f); err != nil {
		return f, false
	}
	return f, true
}

// Drifted reports whether current differs from the recorded fingerprint in
// any normalized path or root signature — used at resume time to detect
// that a sandbox or project tree changed out from under the engine.
func (f WorkspaceFingerprint) Drifted(current WorkspaceFingerprint) bool {
	return f != current
}
