package gatewayerr

import (
	"fmt"
	"regexp"
)

// sensitivePatterns match messages that must never reach a client verbatim,
// even for codes not in maskedCodes, once masking is enabled.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bsql\b`),
	regexp.MustCompile(`(?i)\bdatabase\b`),
	regexp.MustCompile(`(?i)\bstack\s*trace\b`),
	regexp.MustCompile(`(?i)\berrno\b`),
	regexp.MustCompile(`(?i)\bat\s+[\w./]+\.go:\d+\b`),
}

// Error is the gateway's typed error carrying everything a pipeline stage
// or adapter needs to render a standard envelope.
type Error struct {
	Code        Code
	Message     string
	Status      int
	Recoverable bool
	RetryAfter  int // seconds; 0 means not applicable
	Cause       error
	// DebugReason carries extra diagnostic detail (e.g. AI-firewall trigger)
	// that is only ever surfaced when error masking is disabled.
	DebugReason string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a typed Error defaulting status/recoverable from the taxonomy;
// either can be overridden by the manifest's error-code table by the caller
// after construction.
func New(code Code, message string) *Error {
	return &Error{
		Code:        code,
		Message:     message,
		Status:      DefaultStatus(code),
		Recoverable: IsRecoverable(code),
	}
}

// Wrap builds a typed Error from an arbitrary cause, defaulting to
// INTERNAL_ERROR — used at the dispatch boundary when the kernel executor
// or an adapter panics/returns an unmapped error.
func Wrap(cause error) *Error {
	return &Error{
		Code:        CodeInternal,
		Message:     cause.Error(),
		Status:      DefaultStatus(CodeInternal),
		Recoverable: IsRecoverable(CodeInternal),
		Cause:       cause,
	}
}

// WithRetryAfter sets a Retry-After value (seconds, minimum 1) and returns e.
func (e *Error) WithRetryAfter(seconds int) *Error {
	if seconds < 1 {
		seconds = 1
	}
	e.RetryAfter = seconds
	return e
}

// WithDebugReason attaches a debug-only reason (e.g. AI-firewall trigger).
func (e *Error) WithDebugReason(reason string) *Error {
	e.DebugReason = reason
	return e
}

// MaskedMessage returns the message to surface to a client given the
// masking policy: codes in maskedCodes, or any message matching a
// sensitivity pattern, are replaced with a generic phrase.
func (e *Error) MaskedMessage(maskingEnabled bool) string {
	if !maskingEnabled {
		return e.Message
	}
	if IsMaskedByDefault(e.Code) {
		return genericMaskedMessage
	}
	for _, p := range sensitivePatterns {
		if p.MatchString(e.Message) {
			return genericMaskedMessage
		}
	}
	return e.Message
}
