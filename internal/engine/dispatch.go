package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"appforge/internal/tagparse"
	"appforge/internal/tools"
)

// invocation is one executable tool call, whether it arrived as a command
// block or as a provider-native tool call.
type invocation struct {
	callID string
	name   string
	args   map[string]any
	// argsErr short-circuits execution with an error result when the
	// block carried an unparseable payload.
	argsErr error
}

type invocationResult struct {
	callID string
	name   string
	output string
}

// blockInvocation maps a finished command block onto the tool it targets.
// Status blocks carry no action and return false.
func blockInvocation(b *tagparse.Block) (invocation, bool) {
	switch b.Kind {
	case tagparse.KindStatus:
		return invocation{}, false
	case tagparse.KindWrite:
		return invocation{
			callID: newCallID(),
			name:   "write_file",
			args:   map[string]any{"path": b.Attrs["path"], "content": b.Payload},
		}, true
	case tagparse.KindEdit:
		return invocation{
			callID: newCallID(),
			name:   "edit_file",
			args:   map[string]any{"path": b.Attrs["path"], "payload": b.Payload},
		}, true
	case tagparse.KindRename:
		return invocation{
			callID: newCallID(),
			name:   "rename_file",
			args:   map[string]any{"from": b.Attrs["from"], "to": b.Attrs["to"]},
		}, true
	case tagparse.KindDelete:
		return invocation{
			callID: newCallID(),
			name:   "delete_file",
			args:   map[string]any{"path": b.Attrs["path"]},
		}, true
	case tagparse.KindTool:
		inv := invocation{callID: b.Attrs["id"], name: b.Attrs["name"]}
		if inv.callID == "" {
			inv.callID = newCallID()
		}
		if inv.name == "" {
			inv.argsErr = errors.New("tool block missing name attribute")
			inv.name = "unknown"
			return inv, true
		}
		if p := b.Payload; len(p) > 0 {
			if err := json.Unmarshal([]byte(p), &inv.args); err != nil {
				inv.argsErr = fmt.Errorf("invalid tool arguments: %w", err)
			}
		}
		return inv, true
	default:
		return invocation{}, false
	}
}

// dispatch runs the pass's invocations concurrently, bounded by
// MaxConcurrentTools, and returns their results in dispatch order. Per-path
// serialization is the registry's job; dispatch only bounds parallelism.
func (c *Controller) dispatch(ctx context.Context, conversationID string, invocations []invocation, tctx *tools.Context, events chan<- StreamEvent) []invocationResult {
	if len(invocations) == 0 {
		return nil
	}

	results := make([]invocationResult, len(invocations))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxConcurrentTools)

	for i, inv := range invocations {
		i, inv := i, inv
		g.Go(func() error {
			c.emit(ctx, events, StreamEvent{
				Event: EventToolStart, ConversationID: conversationID,
				Name: inv.name, RunID: inv.callID,
			})
			output := c.invoke(gctx, inv, tctx)
			results[i] = invocationResult{callID: inv.callID, name: inv.name, output: output}
			c.emit(ctx, events, StreamEvent{
				Event: EventToolEnd, ConversationID: conversationID,
				Name: inv.name, RunID: inv.callID,
				Data: ToolOutcome{Output: output},
			})
			return nil
		})
	}
	g.Wait()
	return results
}

// invoke executes one invocation and folds every failure mode into the
// result string the model sees. A declined consent or a failed tool is
// information for the model, not a loop-stopping error.
func (c *Controller) invoke(ctx context.Context, inv invocation, tctx *tools.Context) string {
	if inv.argsErr != nil {
		return "Error: " + inv.argsErr.Error()
	}
	out, err := c.registry.Invoke(ctx, inv.name, inv.args, tctx)
	if err != nil {
		switch {
		case errors.Is(err, tools.ErrConsentDenied):
			return fmt.Sprintf("Error: the user declined to run %s. Do not retry it; adjust the plan instead.", inv.name)
		case errors.Is(err, tools.ErrToolNotFound):
			return fmt.Sprintf("Error: unknown tool %q", inv.name)
		case errors.Is(err, tools.ErrToolUnavailable):
			return fmt.Sprintf("Error: tool %s is not available right now", inv.name)
		default:
			c.log.Debug("tool failed", zap.String("tool", inv.name), zap.Error(err))
			return "Error: " + err.Error()
		}
	}
	return out
}

func newCallID() string {
	return uuid.NewString()
}
