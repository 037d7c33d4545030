// Package provider implements LLM provider integrations for the generation
// engine. Each adapter handles one upstream API (Anthropic, OpenAI, Google)
// and presents a unified streaming interface: one model turn in, one channel
// of chunks out. Multi-step tool loops are driven above this layer by the
// orchestrator.
package provider

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/relay/pkg/models"
)

// Provider streams a single model turn.
//
// Implementations must be safe for concurrent use; each Complete call creates
// an independent stream and goroutine.
type Provider interface {
	// Complete sends one turn and returns a streaming response. The channel
	// is closed when the turn completes or fails; a failure is delivered as
	// a chunk with Error set.
	Complete(ctx context.Context, req *Request) (<-chan *Chunk, error)

	// Name returns the provider name used for routing and metrics.
	Name() string
}

// Request contains all parameters for one model turn.
type Request struct {
	// Model is the provider-side model identifier.
	Model string `json:"model"`

	// System is the system prompt, handled separately from messages by most
	// provider APIs.
	System string `json:"system,omitempty"`

	// Messages is the conversation history in chronological order.
	Messages []Message `json:"messages"`

	// Tools defines the tools the model may request. Empty disables tool
	// calling for the turn.
	Tools []ToolDef `json:"tools,omitempty"`

	// MaxTokens limits the generated response length. Zero uses the
	// provider default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// EnableThinking turns on extended reasoning for models that support it.
	EnableThinking bool `json:"enable_thinking,omitempty"`
}

// Message is a single message in a conversation. Role is "user",
// "assistant", or "tool".
type Message struct {
	Role        string              `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []ToolCall          `json:"tool_calls,omitempty"`
	ToolResults []ToolResult        `json:"tool_results,omitempty"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

// ToolCall is a model request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of an executed tool call, sent back to the model
// on the following turn.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ToolDef describes a tool the model may call.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// Chunk is a single element of a streaming response.
//
// Exactly one of the content fields is meaningful per chunk:
//   - Text: partial response text
//   - Thinking: partial reasoning text (ThinkingStart/End bracket the block)
//   - ToolCall: a complete tool invocation request
//   - Done: successful end of turn, with token counts when available
//   - Error: terminal failure, stream ends after this chunk
type Chunk struct {
	Text          string    `json:"text,omitempty"`
	Thinking      string    `json:"thinking,omitempty"`
	ThinkingStart bool      `json:"thinking_start,omitempty"`
	ThinkingEnd   bool      `json:"thinking_end,omitempty"`
	ToolCall      *ToolCall `json:"tool_call,omitempty"`
	Done          bool      `json:"done,omitempty"`
	Error         error     `json:"-"`
	InputTokens   int       `json:"input_tokens,omitempty"`
	OutputTokens  int       `json:"output_tokens,omitempty"`
}
