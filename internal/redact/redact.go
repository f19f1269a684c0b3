// Package redact scrubs credentials and bulky payloads from strings before
// they are logged or persisted as a task's user-visible error message.
// Backend error bodies routinely echo request headers, keys and inline image
// data; nothing of that kind should reach the task row.
package redact

import "regexp"

// Redaction placeholders.
const (
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedTokenPlaceholder      = "[REDACTED_TOKEN]"
	RedactedDataPlaceholder       = "[REDACTED_DATA]"
)

// DefaultMaxLength bounds the length of a redacted message.
const DefaultMaxLength = 500

type rule struct {
	re          *regexp.Regexp
	placeholder string
}

// Rules apply in order; data URIs go first so their base64 payload is not
// mistaken for a key.
var rules = []rule{
	{
		re:          regexp.MustCompile(`data:[a-zA-Z0-9.+/-]+;base64,[A-Za-z0-9+/=]+`),
		placeholder: RedactedDataPlaceholder,
	},
	{
		re:          regexp.MustCompile(`(?i)(postgres|postgresql|redis|rediss|mysql)://[^@\s]+@`),
		placeholder: RedactedCredentialPlaceholder,
	},
	{
		re:          regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-.~+/=]{8,}`),
		placeholder: "Bearer " + RedactedTokenPlaceholder,
	},
	{
		re:          regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{16,}`),
		placeholder: RedactedKeyPlaceholder,
	},
	{
		re:          regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{30,}`),
		placeholder: RedactedKeyPlaceholder,
	},
	{
		re:          regexp.MustCompile(`(?i)((?:api[_-]?key|x-goog-api-key|key|token|secret)["']?\s*[:=]\s*["']?)[A-Za-z0-9_\-.~+/]{8,}`),
		placeholder: "${1}" + RedactedKeyPlaceholder,
	},
	{
		re:          regexp.MustCompile(`(?i)((?:password|passwd|pwd)["']?\s*[:=]\s*["']?)[^"'&\s]{3,}`),
		placeholder: "${1}" + RedactedCredentialPlaceholder,
	},
}

// String redacts sensitive information from the input string.
func String(input string) string {
	if input == "" {
		return input
	}

	result := input
	for _, r := range rules {
		result = r.re.ReplaceAllString(result, r.placeholder)
	}
	return result
}

// Error redacts sensitive information from an error's Error() output.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}

// Message redacts err and truncates the result to max bytes, appending an
// ellipsis when cut. A non-positive max uses DefaultMaxLength.
func Message(err error, max int) string {
	if max <= 0 {
		max = DefaultMaxLength
	}
	s := Error(err)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
