package executor

import (
	"regexp"
	"strings"
)

// dangerousPatterns match commands that must never run regardless of policy
// verdicts or approvals. The screen is a last line of defence behind the
// decision engine, not a substitute for it.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`rm\s+-rf\s+/(\s|$)`),
	regexp.MustCompile(`rm\s+-fr\s+/(\s|$)`),
	regexp.MustCompile(`dd\s+if=.*of=/dev/[sh]d`),
	regexp.MustCompile(`mkfs\.`),
	regexp.MustCompile(`\bfdisk\b`),
	regexp.MustCompile(`parted.*\brm\b`),
	regexp.MustCompile(`:\(\)\{ :\|:& \};:`),
	regexp.MustCompile(`chmod\s+777\s+/(\s|$)`),
	regexp.MustCompile(`chown\s+\S+\s+/(\s|$)`),
	regexp.MustCompile(`\b(shutdown|poweroff|halt)\b`),
	regexp.MustCompile(`>\s*/dev/[sh]d`),
}

// SafetyScreen rejects commands matching a fixed dangerous-pattern list.
type SafetyScreen struct{}

// NewSafetyScreen builds the screen with the built-in pattern set.
func NewSafetyScreen() *SafetyScreen {
	return &SafetyScreen{}
}

// Check returns the matched pattern and false when the command is blocked.
func (s *SafetyScreen) Check(command string) (string, bool) {
	lowered := strings.ToLower(command)
	for _, p := range dangerousPatterns {
		if p.MatchString(lowered) {
			return p.String(), false
		}
	}
	return "", true
}
