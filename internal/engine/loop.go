// Package engine runs the turn loop: it turns a single user request into a
// bounded sequence of model turns, streaming each response through the tag
// protocol parser, dispatching command blocks through the consent-gated tool
// registry, and deciding whether another pass is needed.
package engine

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"appforge/internal/llm"
	"appforge/internal/tagparse"
	"appforge/internal/todo"
	"appforge/internal/tools"
)

// State is the terminal state of one user request.
type State string

const (
	StateDone    State = "done"
	StateAborted State = "aborted"
)

// Config bounds the turn loop.
type Config struct {
	Model        string
	SystemPrompt string
	// MaxPasses is the global ceiling of send-stream-dispatch cycles per
	// user request; a fail-safe against infinite loops.
	MaxPasses int
	// ReminderBudget bounds todo-reminder continuations per user request.
	ReminderBudget int
	// Explore enables a read-only context-gathering pre-pass on the first
	// user message of a conversation.
	Explore bool
	// MaxConcurrentTools bounds concurrent tool executions within one pass.
	MaxConcurrentTools int
	MaxTokens          int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxPasses <= 0 {
		out.MaxPasses = 20
	}
	if out.ReminderBudget < 0 {
		out.ReminderBudget = 1
	}
	if out.MaxConcurrentTools <= 0 {
		out.MaxConcurrentTools = 4
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = 8192
	}
	return out
}

// Result summarizes one completed user request.
type Result struct {
	State     State
	Passes    int
	Reminders int
	// FinalText is the last assistant prose (tags stripped).
	FinalText string
}

// Controller is the top-level turn loop state machine. One controller serves
// many conversations; each Run call owns its conversation exclusively for
// the duration.
type Controller struct {
	llm      llm.Client
	registry *tools.Registry
	todos    *todo.Store
	convos   *ConversationStore
	cfg      Config
	log      *zap.Logger
}

// New creates a controller.
func New(client llm.Client, registry *tools.Registry, todos *todo.Store, cfg Config, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		llm:      client,
		registry: registry,
		todos:    todos,
		convos:   NewConversationStore(),
		cfg:      cfg.withDefaults(),
		log:      log,
	}
}

// Registry returns the controller's tool registry.
func (c *Controller) Registry() *tools.Registry { return c.registry }

// Shutdown tears the engine down: every outstanding consent request resolves
// as declined so nothing leaks.
func (c *Controller) Shutdown() {
	c.registry.Gate().ResolveAll(tools.DecisionDecline)
	c.convos.Close()
}

// Run handles one user request on a conversation. Events stream to the UI
// collaborator through events (nil to discard). Cancellation of ctx aborts
// the in-flight stream, marks pending blocks aborted, declines outstanding
// consent requests, and keeps completed side effects as-is.
func (c *Controller) Run(ctx context.Context, conversationID, userMessage string, events chan<- StreamEvent) (*Result, error) {
	return c.run(ctx, conversationID, userMessage, events, runOptions{
		maxPasses:      c.cfg.MaxPasses,
		reminderBudget: c.cfg.ReminderBudget,
		explore:        c.cfg.Explore,
	})
}

// Delegate runs a sub-agent: a fresh conversation with a read-only tool view
// and a tighter pass ceiling. Returns the sub-agent's final text. Used by
// the spawn_subagent tool.
func (c *Controller) Delegate(ctx context.Context, task, instructions string) (string, error) {
	prompt := task
	if instructions != "" {
		prompt = task + "\n\n" + instructions
	}
	res, err := c.run(ctx, "sub:"+newCallID(), prompt, nil, runOptions{
		maxPasses: 5,
		readOnly:  true,
	})
	if err != nil {
		return "", err
	}
	if res.State == StateAborted {
		return "", errors.New("sub-agent aborted")
	}
	return res.FinalText, nil
}

type runOptions struct {
	maxPasses      int
	reminderBudget int
	explore        bool
	readOnly       bool
}

func (c *Controller) run(ctx context.Context, conversationID, userMessage string, events chan<- StreamEvent, opts runOptions) (*Result, error) {
	conv, err := c.convos.acquire(conversationID)
	if err != nil {
		return nil, err
	}
	defer c.convos.release(conversationID)

	firstMessage := len(conv.Messages) == 0
	conv.Messages = append(conv.Messages, llm.Human(userMessage))

	tctx := &tools.Context{ConversationID: conversationID, ReadOnlyPass: opts.readOnly}
	res := &Result{State: StateDone}

	// Explore pre-pass: one read-only turn to gather codebase context. Does
	// not count toward the reminder budget or the pass ceiling.
	if opts.explore && firstMessage && !opts.readOnly {
		exploreCtx := &tools.Context{ConversationID: conversationID, ReadOnlyPass: true}
		conv.Messages = append(conv.Messages, llm.Human(explorePrompt))
		if aborted := c.pass(ctx, conv, exploreCtx, events); aborted {
			res.State = StateAborted
			c.finish(ctx, conversationID, events, res)
			return res, nil
		}
	}

	for res.Passes < opts.maxPasses {
		res.Passes++

		outcome, aborted := c.modelTurnAndDispatch(ctx, conv, tctx, events)
		if aborted {
			res.State = StateAborted
			break
		}
		res.FinalText = outcome.prose

		c.emit(ctx, events, StreamEvent{Event: EventPassEnd, ConversationID: conversationID, Data: res.Passes})

		if outcome.dispatched > 0 {
			// The model acted; give it the tool results and keep going.
			continue
		}

		// Text-only response. Continue only for a todo reminder within
		// budget; everything else is Done.
		if !opts.readOnly && res.Reminders < opts.reminderBudget && c.todos.AnyIncomplete(conversationID) {
			res.Reminders++
			conv.Messages = append(conv.Messages, llm.Human(reminderPrompt))
			c.log.Debug("todo reminder pass",
				zap.String("conversation", conversationID), zap.Int("reminders", res.Reminders))
			continue
		}
		c.finish(ctx, conversationID, events, res)
		return res, nil
	}

	if res.State != StateAborted {
		c.log.Warn("pass ceiling reached", zap.String("conversation", conversationID), zap.Int("passes", res.Passes))
	}
	c.finish(ctx, conversationID, events, res)
	return res, nil
}

// pass runs one model turn plus dispatch and reports only whether it was
// aborted. Used for the explore pre-pass, where continuation never loops.
func (c *Controller) pass(ctx context.Context, conv *Conversation, tctx *tools.Context, events chan<- StreamEvent) bool {
	_, aborted := c.modelTurnAndDispatch(ctx, conv, tctx, events)
	return aborted
}

func (c *Controller) finish(ctx context.Context, conversationID string, events chan<- StreamEvent, res *Result) {
	ev := StreamEvent{Event: EventDone, ConversationID: conversationID, Data: res.Passes}
	if res.State == StateAborted {
		ev.Event = EventAborted
	}
	c.emit(context.WithoutCancel(ctx), events, ev)
}

// turnOutcome is what one send-stream-dispatch cycle produced.
type turnOutcome struct {
	prose      string // assistant text with command blocks stripped
	dispatched int    // number of executed command blocks
}

// modelTurnAndDispatch sends the conversation to the model, parses the
// stream, dispatches finished blocks, and appends tool results in dispatch
// order. The second return is true when the turn was aborted by ctx.
func (c *Controller) modelTurnAndDispatch(ctx context.Context, conv *Conversation, tctx *tools.Context, events chan<- StreamEvent) (*turnOutcome, bool) {
	req := llm.Request{
		Model:        c.cfg.Model,
		Messages:     conv.Messages,
		Tools:        c.registry.Schemas(tctx),
		SystemPrompt: c.cfg.SystemPrompt,
		MaxTokens:    c.cfg.MaxTokens,
	}

	chunks := make(chan llm.StreamChunk, 64)
	var streamErr error
	var streamDone sync.WaitGroup
	streamDone.Add(1)
	go func() {
		defer streamDone.Done()
		streamErr = c.llm.Stream(ctx, req, chunks)
	}()

	parser := tagparse.NewParser()
	var raw strings.Builder
	var prose strings.Builder
	var invocations []invocation
	var nativeCalls []llm.ToolCall

	handle := func(evts []tagparse.Event) {
		for _, ev := range evts {
			if ev.IsText() {
				prose.WriteString(ev.Text)
				c.emit(ctx, events, StreamEvent{Event: EventText, ConversationID: conv.ID, Text: ev.Text})
				continue
			}
			b := ev.Block
			c.emit(ctx, events, StreamEvent{
				Event:          blockEventName(b),
				ConversationID: conv.ID,
				Name:           string(b.Kind),
				Data:           BlockInfo{Kind: b.Kind, State: b.State, Attrs: b.Attrs},
			})
			if b.State == tagparse.StateFinished {
				if inv, ok := blockInvocation(b); ok {
					invocations = append(invocations, inv)
				}
			}
			// Aborted blocks are recorded by the event above, never executed.
		}
	}

	var chunkErr error
	for chunk := range chunks {
		if chunk.Err != nil {
			if chunkErr == nil {
				chunkErr = chunk.Err
			}
			continue
		}
		if chunkErr != nil {
			continue
		}
		if chunk.Delta != "" {
			raw.WriteString(chunk.Delta)
			handle(parser.Feed(chunk.Delta))
		}
		if chunk.ToolCall != nil {
			nativeCalls = append(nativeCalls, *chunk.ToolCall)
		}
	}
	handle(parser.Close())
	streamDone.Wait()
	if streamErr == nil {
		streamErr = chunkErr
	}

	cancelled := ctx.Err() != nil
	if streamErr != nil && !cancelled {
		c.log.Warn("model stream failed", zap.String("conversation", conv.ID), zap.Error(streamErr))
		c.emit(ctx, events, StreamEvent{Event: EventError, ConversationID: conv.ID, Text: streamErr.Error()})
	}

	// The assistant turn goes back into the conversation verbatim so the
	// next pass sees exactly what the model wrote.
	conv.Messages = append(conv.Messages, llm.AI(raw.String(), nativeCalls...))

	// Provider-native tool calls bridge into the same dispatch path as
	// tag-derived blocks, after them, preserving arrival order within each
	// family.
	for _, tc := range nativeCalls {
		invocations = append(invocations, invocation{callID: tc.ID, name: tc.Name, args: tc.Args})
	}

	if cancelled {
		// Outstanding consent requests must not leak on cancellation.
		c.registry.Gate().ResolveAll(tools.DecisionDecline)
		return &turnOutcome{prose: strings.TrimSpace(prose.String())}, true
	}

	results := c.dispatch(ctx, conv.ID, invocations, tctx, events)
	for _, r := range results {
		conv.Messages = append(conv.Messages, llm.ToolMsg(r.callID, r.name, r.output))
	}

	if ctx.Err() != nil {
		c.registry.Gate().ResolveAll(tools.DecisionDecline)
		return &turnOutcome{prose: strings.TrimSpace(prose.String())}, true
	}

	return &turnOutcome{
		prose:      strings.TrimSpace(prose.String()),
		dispatched: len(results),
	}, false
}

func blockEventName(b *tagparse.Block) string {
	if b.Kind == tagparse.KindStatus {
		return EventStatus
	}
	return EventBlock
}

func (c *Controller) emit(ctx context.Context, events chan<- StreamEvent, ev StreamEvent) {
	if events == nil {
		return
	}
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

const explorePrompt = "Before making any changes, explore the project: read the files relevant " +
	"to my request and summarize the structure, conventions, and anything that affects the " +
	"implementation. Do not modify anything yet."

const reminderPrompt = "Reminder: the todo list still has incomplete items. Continue working " +
	"through them, updating their status as you finish. If an item no longer applies, mark it " +
	"completed with a note."
