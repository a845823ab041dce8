// Package tools holds the engine's fixed tool catalog and mediates every
// side effect through a consent gate: "always"-consented tools run
// immediately, "ask" tools suspend on a user decision, "denied" tools fail
// closed.
package tools

import (
	"context"

	"appforge/internal/llm"
)

// Policy is a tool's consent policy.
type Policy string

const (
	PolicyAsk    Policy = "ask"
	PolicyAlways Policy = "always"
	PolicyDenied Policy = "denied"
)

// Decision is a user's answer to a consent request.
type Decision string

const (
	DecisionAcceptOnce   Decision = "accept-once"
	DecisionAcceptAlways Decision = "accept-always"
	DecisionDecline      Decision = "decline"
)

// Context carries per-invocation state into enabled predicates and
// executors.
type Context struct {
	ConversationID string
	// ReadOnlyPass is set during the explore pre-pass; only read-only tools
	// may run then.
	ReadOnlyPass bool
}

// Definition is a static tool descriptor. Process-wide and read-only after
// registration.
type Definition struct {
	Name           string
	Description    string
	Parameters     map[string]any // JSON Schema for the model's tool catalog
	DefaultConsent Policy
	// ReadOnly marks tools with no side effects; only these run during an
	// explore pre-pass.
	ReadOnly bool
	// Enabled gates availability per invocation context. Nil means always
	// enabled.
	Enabled func(tc *Context) bool
	// ExclusiveKeys returns the mutual-exclusion keys (file paths, typically)
	// the call must hold for its duration, or nil for no serialization
	// requirement. A rename lists both its source and destination.
	ExclusiveKeys func(args map[string]any) []string
	// Execute runs the tool. Its error becomes a tool-result error message,
	// never a fault.
	Execute func(ctx context.Context, args map[string]any, tc *Context) (string, error)
}

// Schema converts the definition to the model-facing tool schema.
func (d *Definition) Schema() llm.ToolSchema {
	params := d.Parameters
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return llm.ToolSchema{Name: d.Name, Description: d.Description, Parameters: params}
}

func (d *Definition) enabled(tc *Context) bool {
	if tc != nil && tc.ReadOnlyPass && !d.ReadOnly {
		return false
	}
	if d.Enabled == nil {
		return true
	}
	return d.Enabled(tc)
}
