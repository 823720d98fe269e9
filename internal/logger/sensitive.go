// sensitive.go
package logger

import (
	"regexp"
	"strings"
)

// SensitiveDataPatterns contains regex patterns for sensitive data that should be redacted in logs
var SensitiveDataPatterns = []*regexp.Regexp{
	// Telegram bot tokens as they appear in API and file URLs
	regexp.MustCompile(`(bot\d{5,}:)([A-Za-z0-9_-]{20,})`),
	// Bearer tokens
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9-._~+/]+=*)`),
	// API keys, tokens and secrets in key=value form
	regexp.MustCompile(`(?i)((api|access|auth|token|secret|key|passw(or)?d)[0-9a-z\-_\.]*\s*[:=]\s*)([^;,\s&]{5,})`),
}

// SensitiveKeywords indicate that a field's value must never be logged
var SensitiveKeywords = []string{
	"password", "passwd", "secret", "credential", "token", "api_key",
	"apikey", "authorization", "dsn",
}

// RedactSensitiveData replaces sensitive information with "[REDACTED]"
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}
	for _, pattern := range SensitiveDataPatterns {
		input = pattern.ReplaceAllString(input, "$1[REDACTED]")
	}
	return input
}

// IsSensitiveKey reports whether a field key names a secret
func IsSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, k := range SensitiveKeywords {
		if strings.Contains(keyLower, k) {
			return true
		}
	}
	return false
}
