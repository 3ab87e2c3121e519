package runner

import (
	"strings"

	"github.com/awe-dev/agentcheck/internal/core"
)

// limitPatterns are substrings of participant output that indicate the
// provider refused to continue due to quota, rate, or capacity limits.
var limitPatterns = []string{
	"hit your limit",
	"usage limit",
	"rate limit",
	"quota exceeded",
	"insufficient_quota",
	"ratelimitexceeded",
	"resource_exhausted",
	"model_capacity_exhausted",
	"no capacity available",
}

// IsProviderLimitOutput reports whether output matches a known provider
// quota/rate/capacity refusal. Deterministic and case-insensitive; empty
// input is never a limit.
func IsProviderLimitOutput(output string) bool {
	text := strings.ToLower(strings.TrimSpace(output))
	if text == "" {
		return false
	}
	for _, pattern := range limitPatterns {
		if strings.Contains(text, pattern) {
			return true
		}
	}
	return false
}

// clipPromptForRetry keeps the first 1,200 characters of a prompt and notes
// how much was dropped, so a timed-out attempt can be retried with a
// shorter payload.
func clipPromptForRetry(prompt string) string {
	const keep = 1200
	if len(prompt) <= keep {
		return prompt
	}
	dropped := len(prompt) - keep
	return prompt[:keep] + "\n\n[retry prompt clipped: " + itoa(dropped) + " chars removed]"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ParseVerdict extracts the VERDICT directive from participant output,
// scanning each line independently and matching case-insensitively.
// Returns core.VerdictUnknown if no line matches.
func ParseVerdict(output string) core.ReviewVerdict {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		if !strings.HasPrefix(upper, "VERDICT") {
			continue
		}
		idx := strings.Index(upper, ":")
		if idx < 0 {
			continue
		}
		token := strings.ToLower(strings.TrimSpace(line[idx+1:]))
		switch token {
		case "no_blocker":
			return core.VerdictNoBlocker
		case "blocker":
			return core.VerdictBlocker
		case "unknown":
			return core.VerdictUnknown
		}
	}
	return core.VerdictUnknown
}

// ParseNextAction extracts the NEXT_ACTION directive, or "" if absent.
func ParseNextAction(output string) core.NextAction {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		if !strings.HasPrefix(upper, "NEXT_ACTION") {
			continue
		}
		idx := strings.Index(upper, ":")
		if idx < 0 {
			continue
		}
		token := strings.ToLower(strings.TrimSpace(line[idx+1:]))
		switch core.NextAction(token) {
		case core.NextActionRetry, core.NextActionPass, core.NextActionStop:
			return core.NextAction(token)
		}
	}
	return ""
}
