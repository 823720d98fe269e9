// Package privacy scrubs credentials and personal data from messages before
// they reach logs or telemetry.
package privacy

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Pre-compiled patterns, applied in the order ScrubMessage lists them.
var (
	urlPattern = regexp.MustCompile(`\bhttps?://[^\s"']+`)

	// Bot API tokens look like 123456789:AAE...; in file URLs they follow "bot".
	botTokenPattern = regexp.MustCompile(`\b(bot)?\d{6,12}:[A-Za-z0-9_-]{30,}`)

	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

	// Photo locations are logged as "lat, lon" with at least two decimals.
	coordPattern = regexp.MustCompile(`-?\b\d{1,3}\.\d{2,}\s*,\s*-?\d{1,3}\.\d{2,}\b`)

	apiKeyPattern = regexp.MustCompile(`(?i)\b(api[_-]?key|token|secret|password)(\s*[=:]\s*)[^\s&"']{8,}`)
)

// ScrubMessage removes bot tokens, API keys, URLs with credentials or query
// strings, e-mail addresses and coordinates from message.
func ScrubMessage(message string) string {
	s := urlPattern.ReplaceAllStringFunc(message, AnonymizeURL)
	s = ScrubBotTokens(s)
	s = ScrubAPITokens(s)
	s = ScrubEmails(s)
	return ScrubCoordinates(s)
}

// ScrubBotTokens replaces Telegram bot tokens.
func ScrubBotTokens(message string) string {
	return botTokenPattern.ReplaceAllStringFunc(message, func(m string) string {
		if strings.HasPrefix(m, "bot") {
			return "bot[TOKEN]"
		}
		return "[TOKEN]"
	})
}

// ScrubAPITokens replaces values of key=value or key: value credentials.
func ScrubAPITokens(message string) string {
	return apiKeyPattern.ReplaceAllString(message, "$1$2[TOKEN]")
}

// ScrubEmails replaces e-mail addresses.
func ScrubEmails(message string) string {
	return emailPattern.ReplaceAllString(message, "[EMAIL]")
}

// ScrubCoordinates replaces latitude, longitude pairs.
func ScrubCoordinates(message string) string {
	return coordPattern.ReplaceAllString(message, "[LAT],[LON]")
}

// AnonymizeURL keeps the scheme, host and path of rawURL for debugging but
// drops user info and the query string and redacts bot tokens in the path.
// Unparseable input is replaced by a short hash.
func AnonymizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		hash := sha256.Sum256([]byte(rawURL))
		return fmt.Sprintf("url-hash-%x", hash[:8])
	}

	var sb strings.Builder
	sb.WriteString(u.Scheme)
	sb.WriteString("://")
	sb.WriteString(u.Host)
	sb.WriteString(ScrubBotTokens(u.Path))
	if u.RawQuery != "" {
		sb.WriteString("?[REDACTED]")
	}
	return sb.String()
}
