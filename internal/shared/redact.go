package shared

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// Alarm payloads are opaque caller data and regularly carry webhook tokens
// or credentials; these patterns cover what shows up in them.
var secretPatterns = []*regexp.Regexp{
	// key=value / "key": "value" pairs with secret-looking keys.
	regexp.MustCompile(`(?i)("?(?:api[_-]?key|apikey|secret|token|password|passwd)"?\s*[:=]\s*)"?([^\s",}]{6,})"?`),
	// Bearer tokens.
	regexp.MustCompile(`(?i)(Bearer\s+)([A-Za-z0-9_\-./+=]{16,})`),
	// Credentials embedded in URLs.
	regexp.MustCompile(`(://[^/\s:@]+:)([^@\s/]+)@`),
}

// Redact masks secret-bearing substrings in s.
func Redact(s string) string {
	if s == "" {
		return s
	}
	out := s
	for i, pat := range secretPatterns {
		repl := "${1}" + redactedPlaceholder
		if i == 2 {
			repl = "${1}" + redactedPlaceholder + "@"
		}
		out = pat.ReplaceAllString(out, repl)
	}
	return out
}

// IsSensitiveKey reports whether a log/config key names a secret.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(strings.TrimSpace(key))
	if lower == "" {
		return false
	}
	for _, token := range []string{"token", "secret", "password", "authorization", "api_key", "apikey", "bearer"} {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}
