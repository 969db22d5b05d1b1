// Package redact strips sensitive information from strings before they are
// logged. Error chains in this service can carry Postgres and Redis
// connection strings, bearer tokens, signing secrets and raw SQL; none of
// that belongs in log output.
package redact

import "regexp"

// Redaction placeholders
const (
	CredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	KeyPlaceholder        = "[REDACTED_KEY]"
	JWTPlaceholder        = "[REDACTED_JWT]"
	SQLPlaceholder        = "[REDACTED_SQL]"
	HostPlaceholder       = "[REDACTED_HOST]"
)

type rule struct {
	pattern     *regexp.Regexp
	placeholder string
}

// rules are applied in order; earlier, more specific patterns run before
// the broad host pattern.
var rules = []rule{
	// postgres:// and redis:// URLs with inline credentials
	{regexp.MustCompile(`(?i)(postgres|postgresql|redis|rediss)://[^@\s]+@[^\s]+`), CredentialPlaceholder},
	// password/secret key-value fragments, as in DSN or config errors
	{regexp.MustCompile(`(?i)(password|passwd|secret|jwt_secret)([=:\s]['"]?)[^'"&\s]{3,}`), CredentialPlaceholder},
	// bare tokens and API keys
	{regexp.MustCompile(`(?i)(api[_-]?key|token|auth)(['"\s:=]+)[A-Za-z0-9_\-.~+/]{8,}`), KeyPlaceholder},
	// three-part base64url JWT
	{regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`), JWTPlaceholder},
	// SQL fragments surfaced by driver errors
	{regexp.MustCompile(`(?i)(SELECT|INSERT|UPDATE|DELETE)\s[\s\w,*()='"$]+(?:FROM|INTO|SET|WHERE)[\s\w,*()='"$]*`), SQLPlaceholder},
	// host:port endpoints from dial errors
	{regexp.MustCompile(`\b(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}:\d{1,5}\b`), HostPlaceholder},
}

// String redacts sensitive information from the input string.
func String(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, r := range rules {
		result = r.pattern.ReplaceAllString(result, r.placeholder)
	}
	return result
}

// Error redacts the message of err. Returns the empty string for nil.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
