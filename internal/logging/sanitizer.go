package logging

import "regexp"

const redactedPlaceholder = "[REDACTED]"

// Participant CLIs run with the operator's real credentials in the
// environment, and their raw stdout/stderr is logged on failure — so every
// log line is scrubbed for credential-shaped content before it reaches a
// sink. The table pairs a label (kept for debuggability of the rules
// themselves) with the pattern it removes.
var redactionRules = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"anthropic-key", regexp.MustCompile(`sk-ant-[a-zA-Z0-9-]{40,}`)},
	{"openai-key", regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`)},
	{"google-ai-key", regexp.MustCompile(`AIza[a-zA-Z0-9_-]{35}`)},
	{"github-token", regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36}`)},
	{"aws-access-key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"aws-secret-key", regexp.MustCompile(`(?i)aws[_-]?secret[_-]?access[_-]?key["'\s:=]+[A-Za-z0-9/+=]{40}`)},
	{"slack-token", regexp.MustCompile(`xox[baprs]-[0-9a-zA-Z-]{10,}`)},
	{"bearer-token", regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`)},
	{"generic-api-key", regexp.MustCompile(`(?i)api[_-]?key["'\s:=]+[a-zA-Z0-9_-]{20,}`)},
	{"generic-secret", regexp.MustCompile(`(?i)secret["'\s:=]+[a-zA-Z0-9_-]{20,}`)},
	{"generic-password", regexp.MustCompile(`(?i)password["'\s:=]+[^\s"']{8,}`)},
	{"generic-token", regexp.MustCompile(`(?i)token["'\s:=]+[a-zA-Z0-9_-]{20,}`)},
}

// Sanitizer strips credential-shaped substrings out of log content.
type Sanitizer struct {
	extra []*regexp.Regexp
}

// NewSanitizer creates a Sanitizer covering the builtin redaction rules.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{}
}

// AddPattern registers an additional redaction pattern on top of the
// builtin rules.
func (s *Sanitizer) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	s.extra = append(s.extra, re)
	return nil
}

// Sanitize replaces every credential-shaped match in input with a
// placeholder.
func (s *Sanitizer) Sanitize(input string) string {
	out := input
	for _, rule := range redactionRules {
		out = rule.pattern.ReplaceAllString(out, redactedPlaceholder)
	}
	for _, re := range s.extra {
		out = re.ReplaceAllString(out, redactedPlaceholder)
	}
	return out
}
