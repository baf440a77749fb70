// ABOUTME: Sensitive data redaction for secure logging
// ABOUTME: Masks abuse.ch auth keys, tokens, and credentials in URLs, headers, and errors

package observability

import (
	"net/url"
	"regexp"
	"strings"
)

// RedactionPlaceholder is the replacement text for redacted values.
const RedactionPlaceholder = "[REDACTED]"

// sensitivePatterns contains regex patterns for sensitive data in strings.
// Use [^\s&]+ to match values that stop at whitespace or & (for query params).
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(password|passwd|pwd)=[^\s&]+`),
	regexp.MustCompile(`(?i)(token|auth_token|access_token)=[^\s&]+`),
	regexp.MustCompile(`(?i)(api[_-]?key|apikey|auth[_-]?key)=[^\s&]+`),
	regexp.MustCompile(`(?i)(secret|client_secret)=[^\s&]+`),
	regexp.MustCompile(`(?i)(auth-key):\s*[^\s]+`),
	regexp.MustCompile(`(?i)Bearer\s+[^\s]+`),
}

// sensitiveReplacements contains the replacement patterns.
var sensitiveReplacements = []string{
	"${1}=" + RedactionPlaceholder,
	"${1}=" + RedactionPlaceholder,
	"${1}=" + RedactionPlaceholder,
	"${1}=" + RedactionPlaceholder,
	"${1}: " + RedactionPlaceholder,
	"Bearer " + RedactionPlaceholder,
}

// sensitiveKeyPatterns are patterns for sensitive header and field names.
var sensitiveKeyPatterns = []string{
	"password",
	"passwd",
	"pwd",
	"token",
	"secret",
	"api_key",
	"api-key",
	"apikey",
	"auth",
	"credential",
	"private_key",
	"private-key",
}

// RedactSensitive replaces sensitive data in a string with [REDACTED].
func RedactSensitive(value string) string {
	result := value
	for i, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllString(result, sensitiveReplacements[i])
	}
	return result
}

// RedactURL masks userinfo passwords and sensitive query parameters.
// Unparseable input falls back to RedactSensitive.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return RedactSensitive(raw)
	}

	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), RedactionPlaceholder)
		}
	}

	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			if IsSensitiveKey(k) {
				q.Set(k, RedactionPlaceholder)
			}
		}
		u.RawQuery = q.Encode()
	}

	return u.String()
}

// RedactHeaders returns a copy of headers with sensitive values masked.
func RedactHeaders(headers map[string]string) map[string]string {
	result := make(map[string]string, len(headers))
	for k, v := range headers {
		if IsSensitiveKey(k) {
			result[k] = RedactionPlaceholder
			continue
		}
		result[k] = v
	}
	return result
}

// IsSensitiveKey returns true if the key name suggests sensitive data.
func IsSensitiveKey(key string) bool {
	lowerKey := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(lowerKey, pattern) {
			return true
		}
	}
	return false
}
