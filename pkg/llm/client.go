// Package llm defines the provider boundary for model calls: a channel-based
// streaming interface plus the Anthropic-backed implementation behind it.
package llm

import "context"

// Client is the interface the agent loop calls. Implementations deliver the
// response as a stream of chunks; the channel is closed when the call
// completes. Errors are delivered as ErrorChunk values in the channel.
type Client interface {
	Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error)
	Close() error
}

// GenerateInput is a single model call.
type GenerateInput struct {
	SessionID string
	AgentName string
	Model     string // concrete model id, resolved from a profile by the caller
	System    string
	Messages  []Message
	Tools     []ToolDefinition // nil = no tools
	MaxTokens int
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one conversation turn. Assistant messages may carry tool calls;
// tool messages carry a result for a prior call.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall // assistant messages only
	ToolCallID string     // tool result messages only
	ToolName   string     // tool result messages only
	IsError    bool       // tool result messages only
}

// ToolDefinition describes a tool advertised to the model.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema string // JSON Schema
}

// ToolCall is the model's request to invoke a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Chunk is the interface for streaming chunk types.
type Chunk interface{ chunkType() string }

// TextChunk is a delta of the assistant's text response.
type TextChunk struct{ Content string }

// ToolCallChunk signals a complete tool call from the model.
type ToolCallChunk struct{ CallID, Name, Arguments string }

// UsageChunk reports token consumption; emitted once per call.
type UsageChunk struct{ InputTokens, OutputTokens int64 }

// ErrorChunk signals a provider error. Retryable marks rate-limit and
// timeout classes the caller may retry with backoff.
type ErrorChunk struct {
	Message   string
	Code      string
	Retryable bool
}

func (c *TextChunk) chunkType() string     { return "text" }
func (c *ToolCallChunk) chunkType() string { return "tool_call" }
func (c *UsageChunk) chunkType() string    { return "usage" }
func (c *ErrorChunk) chunkType() string    { return "error" }

// Error codes surfaced in ErrorChunk.Code.
const (
	ErrCodeRateLimited = "rate_limited"
	ErrCodeTimeout     = "timeout"
	ErrCodeProvider    = "provider_error"
	ErrCodeCancelled   = "cancelled"
)
