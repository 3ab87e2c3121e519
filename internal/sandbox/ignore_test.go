package sandbox

import "testing"

func TestIsIgnored_Segments(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{".git/HEAD", true},
		{".agents/state.json", true},
		{".claude/settings.json", true},
		{".venv/bin/python", true},
		{"pkg/__pycache__/mod.pyc", true},
		{".pytest_cache/v/cache", true},
		{".ruff_cache/0/1", true},
		{"node_modules/foo/index.js", true},
		{".mypy_cache/3.11/x", true},
		{".idea/workspace.xml", true},
		{".vscode/settings.json", true},
		{"src/main.go", false},
		{"README.md", false},
		// Only the first segment is matched against the segment list: a
		// nested directory that happens to share an ignored name is kept.
		{"nested/.git/config", false},
		{"src/node_modules/helper.js", false},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			if got := IsIgnored(tc.path, false); got != tc.want {
				t.Errorf("IsIgnored(%q) = %v, want %v", tc.path, got, tc.want)
			}
		})
	}
}

func TestIsIgnored_LeafGlobsAndSecrets(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"build/output.pyc", true},
		{"build/output.pyo", true},
		{".env", true},
		{".env.local", true},
		{"certs/server.pem", true},
		{"certs/server.key", true},
		{"config/token.json", true},
		{"config/api-key.txt", true},
		{"config/secrets.yaml", true},
		{"config/access-key", true},
		{"backup-secret.json", true},
		{"build_token.txt", true},
		{"old-api-key.txt", true},
		{"src/keyboard.go", false},
		{"src/tokenizer.go", false},
		{"src/secretary.md", false},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			if got := IsIgnored(tc.path, false); got != tc.want {
				t.Errorf("IsIgnored(%q) = %v, want %v", tc.path, got, tc.want)
			}
		})
	}
}

func TestIsIgnored_WindowsReservedNames(t *testing.T) {
	cases := []struct {
		path      string
		isWindows bool
		want      bool
	}{
		{"con", true, true},
		{"CON.txt", true, true},
		{"lpt1.log", true, true},
		{"com9", true, true},
		{"console.go", true, false},
		{"con", false, false},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			if got := IsIgnored(tc.path, tc.isWindows); got != tc.want {
				t.Errorf("IsIgnored(%q, windows=%v) = %v, want %v", tc.path, tc.isWindows, got, tc.want)
			}
		})
	}
}
