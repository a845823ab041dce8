package tools

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PolicyStore is the settings collaborator holding effective consent
// decisions. Persistent overrides ("accept-always"/"decline") go through it.
type PolicyStore interface {
	// Effective returns the stored policy for a tool, or "" when the tool's
	// default applies.
	Effective(tool string) Policy
	// SetPolicy persists an override. Errors are the store's business; the
	// gate logs and continues.
	SetPolicy(tool string, p Policy) error
}

// MemoryPolicies is an in-memory PolicyStore, used in tests and as the
// default when no settings file is wired.
type MemoryPolicies struct {
	mu sync.Mutex
	m  map[string]Policy
}

func NewMemoryPolicies() *MemoryPolicies {
	return &MemoryPolicies{m: make(map[string]Policy)}
}

func (s *MemoryPolicies) Effective(tool string) Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[tool]
}

func (s *MemoryPolicies) SetPolicy(tool string, p Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[tool] = p
	return nil
}

// ConsentRequest is surfaced to the UI collaborator when an "ask" tool wants
// to run.
type ConsentRequest struct {
	RequestID   string `json:"requestId"`
	ToolName    string `json:"toolName"`
	ArgsPreview string `json:"argsPreview"`
}

// Gate mediates consent. Pending requests live in a map from request id to a
// resolver; each is resolved by exactly one response event, then removed.
type Gate struct {
	mu      sync.Mutex
	pending map[string]chan Decision
	tools   map[string]string // request id → tool name, for sticky decisions
	store   PolicyStore
	notify  func(ConsentRequest)
	log     *zap.Logger
}

// NewGate creates a consent gate. notify is called (outside the gate's lock)
// for every new pending request; nil means requests are created but never
// surfaced, which only makes sense in tests.
func NewGate(store PolicyStore, notify func(ConsentRequest), log *zap.Logger) *Gate {
	if store == nil {
		store = NewMemoryPolicies()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{
		pending: make(map[string]chan Decision),
		tools:   make(map[string]string),
		store:   store,
		notify:  notify,
		log:     log,
	}
}

// Effective returns the tool's effective policy: the stored override if any,
// else the default.
func (g *Gate) Effective(d *Definition) Policy {
	if p := g.store.Effective(d.Name); p != "" {
		return p
	}
	return d.DefaultConsent
}

// Await creates a pending request, surfaces it, and blocks until a response
// event resolves it or ctx is cancelled. Cancellation counts as decline.
func (g *Gate) Await(ctx context.Context, toolName, argsPreview string) Decision {
	id := uuid.NewString()
	ch := make(chan Decision, 1)

	g.mu.Lock()
	g.pending[id] = ch
	g.tools[id] = toolName
	g.mu.Unlock()

	if g.notify != nil {
		g.notify(ConsentRequest{RequestID: id, ToolName: toolName, ArgsPreview: argsPreview})
	}

	select {
	case d := <-ch:
		return d
	case <-ctx.Done():
		// The request must not leak; discard it as declined without
		// persisting anything — this is not a user decision.
		g.discard(id)
		return DecisionDecline
	}
}

// Resolve answers a pending request with a user decision. Sticky decisions
// (accept-always, decline) are persisted to the policy store. Returns false
// if the id is unknown or already resolved; at-most-once resolution is an
// invariant.
func (g *Gate) Resolve(requestID string, d Decision) bool {
	g.mu.Lock()
	ch, ok := g.pending[requestID]
	var toolName string
	if ok {
		delete(g.pending, requestID)
		toolName = g.tools[requestID]
		delete(g.tools, requestID)
	}
	g.mu.Unlock()
	if !ok {
		return false
	}
	g.record(toolName, d)
	ch <- d
	return true
}

// discard removes a pending request without treating it as a user decision.
func (g *Gate) discard(requestID string) {
	g.mu.Lock()
	delete(g.pending, requestID)
	delete(g.tools, requestID)
	g.mu.Unlock()
}

// ResolveAll answers every outstanding request with the given decision.
// Called on engine shutdown and on user cancellation.
func (g *Gate) ResolveAll(d Decision) {
	g.mu.Lock()
	pending := g.pending
	g.pending = make(map[string]chan Decision)
	g.tools = make(map[string]string)
	g.mu.Unlock()
	for id, ch := range pending {
		ch <- d
		g.log.Debug("consent auto-resolved", zap.String("request", id), zap.String("decision", string(d)))
	}
}

// PendingCount returns the number of unresolved requests.
func (g *Gate) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// record persists a sticky decision. accept-once is per-call and not stored.
func (g *Gate) record(toolName string, d Decision) {
	if toolName == "" {
		return
	}
	var p Policy
	switch d {
	case DecisionAcceptAlways:
		p = PolicyAlways
	case DecisionDecline:
		p = PolicyDenied
	default:
		return
	}
	if err := g.store.SetPolicy(toolName, p); err != nil {
		g.log.Warn("consent policy save failed", zap.String("tool", toolName), zap.Error(err))
	}
}
