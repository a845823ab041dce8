package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"appforge/internal/llm"
)

// previewBytes caps the argument preview shown in a consent request.
const previewBytes = 400

// Registry holds the catalog of callable tools and mediates execution
// through the consent gate. Registration happens at engine start; the
// catalog is read-only afterwards.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Definition
	locks *pathLocks
	gate  *Gate
	log   *zap.Logger
}

// NewRegistry creates an empty registry bound to a consent gate.
func NewRegistry(gate *Gate, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		tools: make(map[string]*Definition),
		locks: newPathLocks(),
		gate:  gate,
		log:   log,
	}
}

// Gate returns the registry's consent gate.
func (r *Registry) Gate() *Gate { return r.gate }

// Register adds a tool. Duplicate names are an error.
func (r *Registry) Register(d *Definition) error {
	if d.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if d.Execute == nil {
		return fmt.Errorf("tool %s: execute function cannot be nil", d.Name)
	}
	if d.DefaultConsent == "" {
		d.DefaultConsent = PolicyAsk
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[d.Name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, d.Name)
	}
	r.tools[d.Name] = d
	r.log.Debug("tool registered", zap.String("tool", d.Name), zap.String("consent", string(d.DefaultConsent)))
	return nil
}

// MustRegister registers a tool and panics on error. For static catalog
// construction at startup.
func (r *Registry) MustRegister(d *Definition) {
	if err := r.Register(d); err != nil {
		panic(fmt.Sprintf("register tool %s: %v", d.Name, err))
	}
}

// Get returns a tool by name, or nil.
func (r *Registry) Get(name string) *Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Schemas returns the model-facing tool catalog for the given context,
// sorted by name so the transcript stays deterministic.
func (r *Registry) Schemas(tc *Context) []llm.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llm.ToolSchema, 0, len(r.tools))
	for _, d := range r.tools {
		if d.enabled(tc) {
			out = append(out, d.Schema())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invoke runs one tool call through the full state machine:
// Enabled? → ResolveConsent → Execute → Complete.
//
// ErrToolUnavailable, ErrConsentDenied and ErrExecutionFailed are the only
// error shapes; callers serialize them into the conversation as tool-result
// errors and never treat them as faults.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any, tc *Context) (string, error) {
	d := r.Get(name)
	if d == nil {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if !d.enabled(tc) {
		return "", fmt.Errorf("%w: %s", ErrToolUnavailable, name)
	}

	switch r.gate.Effective(d) {
	case PolicyAlways:
		// proceed immediately, no pending request
	case PolicyDenied:
		return "", fmt.Errorf("%w: %s is denied", ErrConsentDenied, name)
	default: // PolicyAsk
		decision := r.gate.Await(ctx, name, argsPreview(args))
		if decision == DecisionDecline {
			return "", fmt.Errorf("%w: user declined %s", ErrConsentDenied, name)
		}
	}

	if keys := exclusiveKeys(d, args); len(keys) > 0 {
		unlock := r.locks.acquireAll(keys)
		defer unlock()
	}

	out, err := d.Execute(ctx, args, tc)
	if err != nil {
		r.log.Debug("tool failed", zap.String("tool", name), zap.Error(err))
		return "", fmt.Errorf("%w: %s: %v", ErrExecutionFailed, name, err)
	}
	return out, nil
}

func exclusiveKeys(d *Definition, args map[string]any) []string {
	if d.ExclusiveKeys == nil {
		return nil
	}
	var keys []string
	for _, k := range d.ExclusiveKeys(args) {
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func argsPreview(args map[string]any) string {
	data, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	if len(data) > previewBytes {
		return string(data[:previewBytes]) + "..."
	}
	return string(data)
}
