// Package redact strips credentials from strings before they are logged,
// returned to callers or persisted as a record's processing error. Only
// secrets are removed; hosts, paths and document locators are kept so that a
// stored failure still says what went wrong.
package redact

import "regexp"

// Constants for redaction placeholders
const (
	RedactionPlaceholder          = "[REDACTED]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedJWTPlaceholder        = "[REDACTED_JWT]"
)

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Rules run in order. Earlier rules leave placeholders that later patterns
// cannot match, so the most specific shapes come first.
var rules = []rule{
	// Stack trace fragments
	{
		pattern:     regexp.MustCompile(`(?:goroutine \d+|panic:)[\s\S]*?(\n\t.*)+`),
		replacement: "[STACK_TRACE_REDACTED]",
	},
	// Pre-signed URL query parameters
	{
		pattern: regexp.MustCompile(
			`(?i)([?&](?:X-Amz-Signature|X-Amz-Credential|X-Amz-Security-Token|Signature|sig|token|api_key|key)=)[^&\s"']+`,
		),
		replacement: "${1}" + RedactionPlaceholder,
	},
	// Userinfo in connection strings
	{
		pattern:     regexp.MustCompile(`(?i)\b(postgres|postgresql|mysql|mongodb|redis|rediss|amqp)://[^@\s/]+@`),
		replacement: "${1}://" + RedactedCredentialPlaceholder + "@",
	},
	// JWT, recognized by its base64url-encoded JSON header and claims
	{
		pattern:     regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),
		replacement: RedactedJWTPlaceholder,
	},
	{
		pattern:     regexp.MustCompile(`(?i)\b(bearer)\s+[A-Za-z0-9_\-.~+/=]{8,}`),
		replacement: "${1} " + RedactionPlaceholder,
	},
	{
		pattern:     regexp.MustCompile(`(?i)\b(password|passwd|pwd)(\s*[=:]\s*['"]?)[^'"&\s]{3,}`),
		replacement: "${1}${2}" + RedactedCredentialPlaceholder,
	},
	{
		pattern: regexp.MustCompile(
			`(?i)\b(api[_-]?key|access[_-]?key(?:[_-]?id)?|secret(?:[_-]?key)?|token|auth)(\s*[=:]\s*['"]?)[A-Za-z0-9_\-.~+/]{8,}`,
		),
		replacement: "${1}${2}" + RedactedKeyPlaceholder,
	},
	// AWS access key IDs
	{
		pattern:     regexp.MustCompile(`\b(?:AKIA|ASIA)[A-Z0-9]{16}\b`),
		replacement: RedactedKeyPlaceholder,
	},
	// Gemini API keys
	{
		pattern:     regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{35}\b`),
		replacement: RedactedKeyPlaceholder,
	},
	{
		pattern:     regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
		replacement: "[REDACTED_EMAIL]",
	},
}

// String redacts sensitive information from the input string
func String(input string) string {
	if input == "" {
		return input
	}

	result := input
	for _, r := range rules {
		result = r.pattern.ReplaceAllString(result, r.replacement)
	}
	return result
}

// Error redacts sensitive information from an error's Error() output
func Error(err error) string {
	if err == nil {
		return ""
	}

	return String(err.Error())
}
