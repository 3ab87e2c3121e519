package automation

import (
	"strings"
	"sync"
	"time"

	"github.com/awe-dev/agentcheck/internal/core"
)

// ParticipantPool is an (author, reviewers) pairing the driver can submit
// new tasks with.
type ParticipantPool struct {
	Author    core.Participant
	Reviewers []core.Participant
}

// shouldSwitchToFallback matches a failed_system task's last_gate_reason:
// it triggers on reasons mentioning "claude" or "command failed".
func shouldSwitchToFallback(reason string) bool {
	lower := strings.ToLower(reason)
	return strings.Contains(lower, "claude") || strings.Contains(lower, "command failed")
}

// shouldSwitchBackToPrimary triggers on reasons mentioning "provider=codex"
// together with one of command_timeout, command_not_found, provider_limit.
func shouldSwitchBackToPrimary(reason string) bool {
	lower := strings.ToLower(reason)
	if !strings.Contains(lower, "provider=codex") {
		return false
	}
	for _, marker := range []string{core.ReasonCommandTimeout, core.ReasonCommandNotFound, core.ReasonProviderLimit} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// providerLimitProvider extracts the provider named in a "provider_limit
// provider=<p>" reason string, or "" if the reason doesn't match.
func providerLimitProvider(reason string) string {
	idx := strings.Index(reason, core.ReasonProviderLimit)
	if idx < 0 {
		return ""
	}
	rest := reason[idx:]
	marker := "provider="
	pIdx := strings.Index(rest, marker)
	if pIdx < 0 {
		return ""
	}
	rest = rest[pIdx+len(marker):]
	end := strings.IndexAny(rest, " \t\n")
	if end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// PoolSwitcher tracks which participant pool is active and which providers
// are under a provider_limit cooldown.
type PoolSwitcher struct {
	Primary  ParticipantPool
	Fallback ParticipantPool
	Cooldown time.Duration

	mu             sync.Mutex
	usingFallback  bool
	cooldownUntil  map[string]time.Time
}

// NewPoolSwitcher creates a switcher starting on the primary pool.
func NewPoolSwitcher(primary, fallback ParticipantPool, cooldown time.Duration) *PoolSwitcher {
	if cooldown <= 0 {
		cooldown = 10 * time.Minute
	}
	return &PoolSwitcher{
		Primary:       primary,
		Fallback:      fallback,
		Cooldown:      cooldown,
		cooldownUntil: make(map[string]time.Time),
	}
}

// Active returns the pool the driver should use for new task submissions.
func (s *PoolSwitcher) Active() ParticipantPool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usingFallback {
		return s.Fallback
	}
	return s.Primary
}

// ObserveFailure inspects a failed_system last_gate_reason and updates pool
// selection and provider cooldowns accordingly.
func (s *PoolSwitcher) ObserveFailure(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if provider := providerLimitProvider(reason); provider != "" {
		s.cooldownUntil[provider] = time.Now().Add(s.Cooldown)
	}

	if !s.usingFallback && shouldSwitchToFallback(reason) {
		s.usingFallback = true
		return
	}
	if s.usingFallback && shouldSwitchBackToPrimary(reason) {
		s.usingFallback = false
	}
}

// ProviderOnCooldown reports whether provider is currently disabled
// following a provider_limit classification.
func (s *PoolSwitcher) ProviderOnCooldown(provider string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.cooldownUntil[provider]
	return ok && time.Now().Before(until)
}
