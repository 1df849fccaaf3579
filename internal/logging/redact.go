package logging

import (
	"net/url"
	"regexp"
	"strings"
)

// Query parameters and headers that carry credentials.
var sensitiveFields = []string{
	"token",
	"authorization",
	"password",
	"secret",
	"x-gotify-key",
	"apikey",
	"api_key",
}

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+([a-zA-Z0-9._~+/=-]{8,})`),
	regexp.MustCompile(`(?i)(token|key|secret|password)=([^&\s"']+)`),
}

// RedactedValue is the replacement for sensitive values.
const RedactedValue = "[REDACTED]"

// Redact replaces credentials in free-form text.
func Redact(s string) string {
	result := s
	for _, pattern := range secretPatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			if idx := strings.IndexAny(match, "= "); idx >= 0 && !strings.HasPrefix(strings.ToLower(match), "bearer") {
				return match[:idx+1] + RedactedValue
			}
			return RedactedValue
		})
	}
	return result
}

// RedactURL masks sensitive query parameters, leaving the rest intact.
// The stream endpoint carries the client token in its query string.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return Redact(raw)
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	q := u.Query()
	changed := false
	for key := range q {
		if IsSensitiveField(key) {
			q.Set(key, RedactedValue)
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// IsSensitiveField checks if a field name is considered sensitive.
func IsSensitiveField(name string) bool {
	lowerName := strings.ToLower(name)
	for _, field := range sensitiveFields {
		if strings.Contains(lowerName, field) {
			return true
		}
	}
	return false
}
