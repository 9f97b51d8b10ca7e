package logging

import (
	"regexp"
	"strings"
)

const (
	// MaxQueryLogLength is the maximum length of a query to log
	MaxQueryLogLength = 100
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// key=value credentials as found in DSNs and ADO-style connection strings:
	// password=xxx, pwd=xxx, pass=xxx (until the next delimiter).
	passwordPattern = regexp.MustCompile(`(?i)\b(password|pwd|pass)=[^;&\s]+`)

	// SQL that carries a credential literal, e.g.
	// CREATE USER x WITH PASSWORD 'secret' or ALTER LOGIN x WITH PASSWORD = 'secret'.
	sqlPasswordPattern = regexp.MustCompile(`(?i)\b(password)(\s*=?\s*)'(?:[^']|'')*'`)

	// user:pass@host in postgres://, sqlserver:// and redis:// URLs.
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s?]+`)

	// Secrets passed as URL or DSN options.
	secretOptionPattern = regexp.MustCompile(`(?i)\b(secret|token|access[_-]?key)=[^;&\s]+`)

	whitespacePattern = regexp.MustCompile(`\s+`)
)

// SanitizeConnectionString removes credentials from a backend connection
// string. Use this before logging any DSN.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	sanitized = secretOptionPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeError sanitizes error messages that might contain sensitive data.
// Drivers echo DSNs and statement text in errors, so every backend error is
// passed through here before it is logged or returned to a caller.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(err.Error(), "${1}="+RedactedText)
	sanitized = sqlPasswordPattern.ReplaceAllString(sanitized, "${1}${2}'"+RedactedText+"'")
	sanitized = secretOptionPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeQuery prepares SQL text for a log line: whitespace is collapsed,
// credential literals are redacted and the result is truncated to
// MaxQueryLogLength.
func SanitizeQuery(query string) string {
	if query == "" {
		return ""
	}

	sanitized := strings.TrimSpace(whitespacePattern.ReplaceAllString(query, " "))
	sanitized = sqlPasswordPattern.ReplaceAllString(sanitized, "${1}${2}'"+RedactedText+"'")
	sanitized = passwordPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)

	return TruncateString(sanitized, MaxQueryLogLength)
}

// TruncateString truncates a string to maxLen bytes and adds an ellipsis if
// needed. The cut never splits a UTF-8 sequence.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
