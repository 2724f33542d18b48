// Package errkind centralizes the stable error-kind taxonomy surfaced across
// the orchestration core (ToolRouter, JobRegistry, CreditLedger, Orchestrator,
// and the HTTP Edge).
//
// Callers should prefer constructing errors with [New] or [Wrap] and
// inspecting them with [As] or [Of] rather than comparing error strings.
package errkind

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a stable, wire-visible error classification.
type Kind string

const (
	// InvalidInput marks a validation failure (upload, arguments, schema).
	InvalidInput Kind = "invalid_input"

	// ToolNotAllowed marks a tool name absent from the public allow-list or
	// the router's class mapping.
	ToolNotAllowed Kind = "tool_not_allowed"

	// ActionRequired marks an unmet workflow precondition the LLM can act on
	// (e.g. preprocessing required, verse change requires re-preprocess).
	ActionRequired Kind = "action_required"

	// WorkerLost marks a transport or process failure mid-call.
	WorkerLost Kind = "worker_lost"

	// Backpressure marks a queue-depth overflow; no state was changed.
	Backpressure Kind = "backpressure"

	// Timeout marks a tool deadline exceeded.
	Timeout Kind = "timeout"

	// Cancelled marks an explicit cancel or deadline expiry.
	Cancelled Kind = "cancelled"

	// InsufficientCredits marks a reservation rejected for balance.
	InsufficientCredits Kind = "insufficient_credits"

	// Locked marks an overdrafted account.
	Locked Kind = "locked"

	// Internal marks an unclassified failure.
	Internal Kind = "internal"
)

// Error is a typed error carrying a stable [Kind], a human-readable message,
// and optional structured data (e.g. a repair hint for the LLM).
type Error struct {
	Kind    Kind
	Message string
	Data    map[string]any

	// Cause is wrapped for %w / errors.Unwrap but never rendered in Message
	// — stack traces and internal detail never cross the API boundary.
	Cause error
}

// New creates an *Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithData attaches structured data (e.g. {"suggested_tool": "parse_score"})
// and returns the receiver for chaining.
func (e *Error) WithData(data map[string]any) *Error {
	e.Data = data
	return e
}

// Wrap creates an *Error of the given kind that wraps cause for %w chains.
// cause's text is never included in Message; call sites choose what is
// user-visible.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Of extracts the [Kind] of err, returning [Internal] if err does not wrap an
// *Error.
func Of(err error) Kind {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return Internal
}

// HTTPStatus maps a Kind to the HTTP status code the Edge should respond
// with. This mapping is consulted only at the HTTP boundary — internal
// callers must reason about Kind, never about status codes.
func (k Kind) HTTPStatus() int {
	switch k {
	case InvalidInput:
		return http.StatusBadRequest
	case ToolNotAllowed, ActionRequired:
		return http.StatusUnprocessableEntity
	case Backpressure:
		return http.StatusServiceUnavailable
	case Timeout:
		return http.StatusGatewayTimeout
	case Cancelled:
		return http.StatusConflict
	case InsufficientCredits:
		return http.StatusPaymentRequired
	case Locked:
		return http.StatusLocked
	case WorkerLost:
		return http.StatusBadGateway
	case Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
