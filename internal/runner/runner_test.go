package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/awe-dev/agentcheck/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunDryRun(t *testing.T) {
	table := NewProviderTable(nil)
	r := New(table, nil, true, 1)

	result, err := r.Run(context.Background(), Options{
		Participant: core.Participant{Provider: "claude", Alias: "author"},
		Prompt:      "implement the feature",
	})

	require.NoError(t, err)
	assert.Equal(t, core.VerdictNoBlocker, result.Verdict)
	assert.Equal(t, core.NextActionPass, result.NextAction)
	assert.Equal(t, 0, result.ReturnCode)
}

func TestRunUnconfiguredProvider(t *testing.T) {
	table := NewProviderTable(nil)
	r := New(table, nil, false, 0)

	_, err := r.Run(context.Background(), Options{
		Participant: core.Participant{Provider: "unknown", Alias: "x"},
	})

	require.Error(t, err)
	assert.Equal(t, core.ReasonCommandNotConfigured, core.Reason(err))
}

func TestIsProviderLimitOutput(t *testing.T) {
	cases := []struct {
		output string
		want   bool
	}{
		{"", false},
		{"all good here", false},
		{"Error: you have hit your limit for today", true},
		{"RATE LIMIT exceeded, try later", true},
		{"quota exceeded for this resource", true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsProviderLimitOutput(tc.output), tc.output)
	}
}

func TestParseVerdictAndNextAction(t *testing.T) {
	output := "Some discussion text.\nVERDICT: BLOCKER\nNEXT_ACTION: retry\ntrailing"
	assert.Equal(t, core.VerdictBlocker, ParseVerdict(output))
	assert.Equal(t, core.NextActionRetry, ParseNextAction(output))
}

func TestParseVerdictIdempotent(t *testing.T) {
	output := "VERDICT: no_blocker"
	first := ParseVerdict(output)
	second := ParseVerdict("VERDICT: " + string(first))
	assert.Equal(t, first, second)
}

func TestBuildArgvAddsModelFlagOnce(t *testing.T) {
	argv := buildArgv([]string{"claude", "-p"}, "claude", "opus", false)
	assert.Equal(t, []string{"claude", "-p", "--model", "opus"}, argv)

	argvNoDup := buildArgv([]string{"claude", "--model", "sonnet"}, "claude", "opus", false)
	assert.Equal(t, []string{"claude", "--model", "sonnet"}, argvNoDup)
}

func TestRunDeliversPromptViaArgvForPromptFlagProviders(t *testing.T) {
	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "fake_gemini.sh")
	capturePath := filepath.Join(dir, "capture.txt")
	script := "#!/bin/sh\n" +
		"printf 'ARGV:%s\\n' \"$*\" > \"" + capturePath + "\"\n" +
		"printf 'STDIN:%s' \"$(cat)\" >> \"" + capturePath + "\"\n" +
		"echo\n" +
		"echo 'VERDICT: NO_BLOCKER'\n"
	require.NoError(t, os.WriteFile(scriptPath, []byte(script), 0o755))

	table := NewProviderTable(map[string]string{"gemini": scriptPath})
	r := New(table, nil, false, 0)

	result, err := r.Run(context.Background(), Options{
		Participant:    core.Participant{Provider: "gemini", Alias: "author"},
		Prompt:         "review this change",
		TimeoutSeconds: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, core.VerdictNoBlocker, result.Verdict)

	captured, err := os.ReadFile(capturePath)
	require.NoError(t, err)
	assert.Contains(t, string(captured), "ARGV:--prompt review this change")
	assert.NotContains(t, string(captured), "STDIN:review this change")
}

func TestRunDeliversPromptViaStdinByDefault(t *testing.T) {
	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "fake_claude.sh")
	capturePath := filepath.Join(dir, "capture.txt")
	script := "#!/bin/sh\n" +
		"printf 'ARGV:%s\\n' \"$*\" > \"" + capturePath + "\"\n" +
		"printf 'STDIN:%s' \"$(cat)\" >> \"" + capturePath + "\"\n" +
		"echo\n" +
		"echo 'VERDICT: NO_BLOCKER'\n"
	require.NoError(t, os.WriteFile(scriptPath, []byte(script), 0o755))

	table := NewProviderTable(map[string]string{"claude": scriptPath})
	r := New(table, nil, false, 0)

	result, err := r.Run(context.Background(), Options{
		Participant:    core.Participant{Provider: "claude", Alias: "author"},
		Prompt:         "review this change",
		TimeoutSeconds: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, core.VerdictNoBlocker, result.Verdict)

	captured, err := os.ReadFile(capturePath)
	require.NoError(t, err)
	assert.NotContains(t, string(captured), "--prompt")
	assert.Contains(t, string(captured), "STDIN:review this change")
}

func TestShellSplit(t *testing.T) {
	got := shellSplit(`codex exec -c reasoning="high effort"`)
	assert.Equal(t, []string{"codex", "exec", "-c", "reasoning=high effort"}, got)
}
