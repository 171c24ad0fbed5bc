// Package agent holds the conversation primitives shared by the LLM
// providers, the MCP tool layer, and the conversation engine.
package agent

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ConversationMessage is the provider-agnostic message type. Assistant
// messages may carry tool calls; a tool message carries the results of the
// preceding assistant tool-call batch, paired by position. Providers encode
// these into their native wire shapes at dispatch time.
type ConversationMessage struct {
	Role    Role
	Content string

	// ToolCalls is set on assistant messages that request tool execution.
	ToolCalls []ToolCall

	// ToolResults is set on tool messages. ToolResults[i] answers
	// ToolCalls[i] of the preceding assistant message.
	ToolResults []ToolResult

	// CacheMarked flags tool results that the engine asked the provider to
	// annotate for prompt caching (Anthropic dialect only).
	CacheMarked []bool
}

// ToolDefinition describes a tool available to the LLM. Name is fully
// qualified as "server__tool".
type ToolDefinition struct {
	Name             string
	Description      string
	ParametersSchema string // JSON Schema
}

// ToolCall is the LLM's request to invoke a tool.
type ToolCall struct {
	ID        string
	Name      string // qualified "server__tool"
	Arguments string // JSON
}

// ToolResult is the outcome of executing one ToolCall.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
	IsError bool

	// Err carries the underlying failure for logging. Never sent to the
	// model beyond what Content already says.
	Err error
}

// TokenUsage aggregates token consumption across LLM calls.
type TokenUsage struct {
	InputTokens      int
	OutputTokens     int
	TotalTokens      int
	CacheReadTokens  int
	CacheWriteTokens int
}

// Add accumulates usage from a single call.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
	u.CacheReadTokens += other.CacheReadTokens
	u.CacheWriteTokens += other.CacheWriteTokens
}
