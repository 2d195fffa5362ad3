package redact

import "regexp"

// Placeholder replaces any substring that looks like a credential.
const Placeholder = "[REDACTED]"

// Patterns that must never reach storage, quota errors, or dedup state.
var patterns = []*regexp.Regexp{
	// Bearer and basic authorization values.
	regexp.MustCompile(`(?i)\b(bearer|basic)\s+[A-Za-z0-9._~+/=-]{8,}`),
	// key=value style secrets; keeps the key name for debuggability.
	regexp.MustCompile(`(?i)\b(api[_-]?key|(?:access[_-]|refresh[_-])?token|secret|password|passwd|client[_-]?secret)\b"?\s*[:=]\s*"?[^\s",}]+`),
	// JWTs.
	regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]+\b`),
	// AWS access key IDs.
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
	// GitHub / OpenAI style prefixed tokens.
	regexp.MustCompile(`\b(ghp|gho|ghu|ghs|sk|pk)_[A-Za-z0-9]{16,}\b`),
}

var keyValue = patterns[1]

// Message scrubs recognizable credentials from a log message.
func Message(s string) string {
	for i, p := range patterns {
		if i == 1 {
			continue
		}
		s = p.ReplaceAllString(s, Placeholder)
	}
	s = keyValue.ReplaceAllString(s, "$1="+Placeholder)
	return s
}

// Args scrubs each stringified argument in place and returns the slice.
func Args(args []string) []string {
	for i, a := range args {
		args[i] = Message(a)
	}
	return args
}
