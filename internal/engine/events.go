package engine

import "appforge/internal/tagparse"

// Event types sent to the UI collaborator over the bridge.
const (
	EventText           = "text"            // streamed assistant prose
	EventBlock          = "block"           // command block lifecycle change
	EventStatus         = "status"          // status marker from the stream
	EventToolStart      = "tool_start"      // dispatch began
	EventToolEnd        = "tool_end"        // dispatch finished
	EventConsentRequest = "consent_request" // pending consent surfaced
	EventPassEnd        = "pass_end"        // one send-stream-dispatch cycle done
	EventDone           = "done"            // request finished
	EventAborted        = "aborted"         // request cancelled
	EventError          = "error"           // request failed
)

// StreamEvent is sent from the turn loop to the UI bridge.
type StreamEvent struct {
	Event          string `json:"event"`
	ConversationID string `json:"conversation_id,omitempty"`
	Name           string `json:"name,omitempty"`   // tool name or block kind
	RunID          string `json:"run_id,omitempty"` // tool call id
	Text           string `json:"text,omitempty"`
	Data           any    `json:"data,omitempty"`
}

// BlockInfo is the Data payload of block events.
type BlockInfo struct {
	Kind  tagparse.Kind     `json:"kind"`
	State tagparse.State    `json:"state"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// ToolOutcome is the Data payload of tool_end events.
type ToolOutcome struct {
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}
