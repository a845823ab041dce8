// Package llm defines the boundary to the model-serving collaborator. The
// engine only depends on the Client interface; provider-specific key
// handling and transport live behind it.
package llm

import "context"

// Client is the interface to a model provider.
type Client interface {
	// Call makes a synchronous call and returns the full response.
	Call(ctx context.Context, req Request) (*Response, error)

	// Stream makes a call and sends chunks to ch until done or error.
	// Implementations close ch when streaming ends.
	Stream(ctx context.Context, req Request, ch chan<- StreamChunk) error
}

// Message is a role-tagged chat message.
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // set when Role == "tool"
	Name       string     `json:"name,omitempty"`         // tool name when Role == "tool"
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a provider-native tool invocation attached to an assistant
// message or streamed as a chunk.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"arguments"`
}

// ToolSchema describes one tool in the catalog sent to the model.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is the input to a model call.
type Request struct {
	Model        string       `json:"model"`
	Messages     []Message    `json:"messages"`
	Tools        []ToolSchema `json:"tools,omitempty"`
	SystemPrompt string       `json:"system_prompt,omitempty"`
	MaxTokens    int          `json:"max_tokens,omitempty"`
	Temperature  *float64     `json:"temperature,omitempty"`
}

// Response is the full result of a model call.
type Response struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// StreamChunk is one increment of a streaming call. Exactly one of Delta and
// ToolCall is meaningful per chunk; Err terminates the stream.
type StreamChunk struct {
	Delta    string
	ToolCall *ToolCall
	Done     bool
	Err      error
}

// Role constants for Message.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// System creates a system message.
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// Human creates a user message.
func Human(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AI creates an assistant message with optional tool calls.
func AI(content string, toolCalls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: toolCalls}
}

// ToolMsg creates a tool result message.
func ToolMsg(toolCallID, name, output string) Message {
	return Message{Role: RoleTool, Content: output, ToolCallID: toolCallID, Name: name}
}
