package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces sensitive values in logs.
const RedactedValue = "[REDACTED]"

var sensitiveMarkers = []string{"secret", "token", "password", "authorization", "dsn"}

// IsSensitive reports whether a log key names a credential.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	for _, marker := range sensitiveMarkers {
		if strings.Contains(normalized, marker) {
			return true
		}
	}
	return false
}

// MaskValue returns RedactedValue for non-empty values.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField builds a string attribute, redacting the value when the key is
// sensitive.
func MaskField(key, value string) slog.Attr {
	if IsSensitive(key) {
		return slog.String(key, MaskValue(value))
	}
	return slog.String(key, value)
}
