package tools

import "errors"

// Tool invocation errors. ConsentDenied and execution failures are surfaced
// back into the conversation as tool-result messages, not raised to the host.
var (
	// ErrToolNotFound is returned when a tool is not registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolUnavailable is returned when a tool's enabled predicate
	// rejects the current context.
	ErrToolUnavailable = errors.New("tool unavailable")

	// ErrConsentDenied is returned when the effective consent forbids the
	// call or the user declines the request.
	ErrConsentDenied = errors.New("consent denied")

	// ErrExecutionFailed wraps a tool executor's own error.
	ErrExecutionFailed = errors.New("tool execution failed")

	// ErrAlreadyRegistered is returned when registering a duplicate name.
	ErrAlreadyRegistered = errors.New("tool already registered")
)
