package runner

import (
	"strings"

	"github.com/awe-dev/agentcheck/internal/core"
)

// BuiltinProviders is the set of providers the runner knows about without
// any registration call.
var BuiltinProviders = map[string]bool{
	"claude": true,
	"codex":  true,
	"gemini": true,
}

// DefaultCommands are the stock argv templates per provider, shell-split
// before use.
var DefaultCommands = map[string]string{
	"claude": "claude -p --dangerously-skip-permissions --effort low",
	"codex":  "codex exec --skip-git-repo-check --dangerously-bypass-approvals-and-sandbox -c model_reasoning_effort=low",
	"gemini": "gemini -p --yolo",
}

// modelFlagByProvider maps a provider to the CLI flag it accepts a model
// name under.
var modelFlagByProvider = map[string]string{
	"claude": "--model",
	"codex":  "-m",
	"gemini": "-m",
}

// usesPromptFlag lists providers that prefer `--prompt <text>` argv delivery
// over stdin.
var usesPromptFlag = map[string]bool{
	"gemini": true,
}

// PromptViaArgv reports whether provider should receive its prompt as a
// `--prompt <text>` argv pair with empty stdin, rather than via stdin.
// capabilityOverrides is the caller-supplied capability table for this
// run; a "prompt_flag" entry there takes precedence over the builtin
// usesPromptFlag table.
func PromptViaArgv(provider string, capabilityOverrides map[string]bool) bool {
	if capabilityOverrides != nil {
		if v, ok := capabilityOverrides["prompt_flag"]; ok {
			return v
		}
	}
	return usesPromptFlag[strings.ToLower(strings.TrimSpace(provider))]
}

// ProviderTable holds the registered provider → command mapping, with
// optional per-provider overrides layered over DefaultCommands.
type ProviderTable struct {
	commands map[string]string
	extra    map[string]bool
}

// NewProviderTable builds a table seeded with the builtin providers plus any
// overrides (e.g. from AWE_<PROVIDER>_COMMAND or AWE_PROVIDER_ADAPTERS_JSON).
func NewProviderTable(overrides map[string]string) *ProviderTable {
	commands := make(map[string]string, len(DefaultCommands)+len(overrides))
	for k, v := range DefaultCommands {
		commands[k] = v
	}
	for k, v := range overrides {
		commands[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return &ProviderTable{commands: commands, extra: map[string]bool{}}
}

// Register adds or overrides a single provider's command line at runtime.
func (t *ProviderTable) Register(provider, command string) {
	p := strings.ToLower(strings.TrimSpace(provider))
	t.commands[p] = command
	if !BuiltinProviders[p] {
		t.extra[p] = true
	}
}

// Command returns the configured command line for a provider, if any.
func (t *ProviderTable) Command(provider string) (string, bool) {
	cmd, ok := t.commands[strings.ToLower(strings.TrimSpace(provider))]
	return cmd, ok
}

// IsSupported reports whether a provider is builtin or has been registered.
func (t *ProviderTable) IsSupported(provider string) bool {
	p := strings.ToLower(strings.TrimSpace(provider))
	if BuiltinProviders[p] {
		return true
	}
	_, ok := t.commands[p]
	return ok && t.extra[p]
}

// SupportedProviders returns the full set of providers this table accepts.
func (t *ProviderTable) SupportedProviders() map[string]bool {
	out := make(map[string]bool, len(BuiltinProviders)+len(t.extra))
	for p := range BuiltinProviders {
		out[p] = true
	}
	for p := range t.extra {
		out[p] = true
	}
	return out
}

// hasModelFlag reports whether argv already carries a model flag.
func hasModelFlag(argv []string) bool {
	for _, tok := range argv {
		if tok == "--model" || tok == "-m" || strings.HasPrefix(tok, "--model=") {
			return true
		}
	}
	return false
}

// hasAgentsFlag reports whether argv already carries a --agents flag.
func hasAgentsFlag(argv []string) bool {
	for _, tok := range argv {
		if tok == "--agents" || strings.HasPrefix(tok, "--agents=") {
			return true
		}
	}
	return false
}

// buildArgv renders the final argv for a run, applying the model flag and
// provider-specific normalizations.
func buildArgv(base []string, provider, model string, claudeTeamAgents bool) []string {
	argv := append([]string(nil), base...)

	model = strings.TrimSpace(model)
	if model != "" && !hasModelFlag(argv) {
		if flag, ok := modelFlagByProvider[strings.ToLower(provider)]; ok {
			argv = append(argv, flag, model)
		}
	}

	if strings.ToLower(provider) == "claude" && claudeTeamAgents && !hasAgentsFlag(argv) {
		argv = append(argv, "--agents", "{}")
	}

	return argv
}

// formatCommand renders argv back into a human/log-friendly command string.
func formatCommand(argv []string) string {
	return strings.Join(argv, " ")
}

// commandNotConfigured builds the classified error for an unsupported or
// unconfigured provider.
func commandNotConfigured(provider string) *core.DomainError {
	return core.ErrRuntime(core.ReasonCommandNotConfigured, provider, "", "no command configured for provider: "+provider)
}
