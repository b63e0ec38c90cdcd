// Package audit defines the correlation record kept for every tools/call
// dispatch, allowed or denied: a client-visible category and redacted message alongside the
// full, unredacted root cause, tied together by a request id. There is no
// admin surface here, so the record carries only what the write pipeline,
// the tool registry, and the OAuth/SSE error paths need to correlate a
// failure back to its cause.
package audit

import (
	"strings"
	"time"
)

// Record is a single auditable event: a tool call, an auth failure, or a
// pipeline error.
type Record struct {
	Timestamp     time.Time
	RequestID     string // correlation id, also returned in the X-Request-ID response header
	SessionID     string
	Principal     string // JWT sub or the legacy bearer marker
	ToolName      string
	Decision      string // "allow" or "deny"
	Category      string // validation, auth, protocol, resource_exhausted, timeout, database, schema_violation
	Message       string // redacted, client-visible message
	Cause         string // full, unredacted root cause — never sent to the client
}

// Decision constants.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// sensitiveKeywords lists substrings that indicate a sensitive argument key.
var sensitiveKeywords = []string{
	"password", "secret", "token", "api_key", "apikey",
	"credential", "auth", "private_key", "privatekey",
}

// RedactSensitiveArgs returns a copy of args with sensitive values masked,
// used before logging tool_call arguments.
func RedactSensitiveArgs(args map[string]interface{}) map[string]interface{} {
	if len(args) == 0 {
		return args
	}
	redacted := make(map[string]interface{}, len(args))
	for k, v := range args {
		if isSensitiveKey(k) {
			redacted[k] = "***REDACTED***"
		} else {
			redacted[k] = v
		}
	}
	return redacted
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
