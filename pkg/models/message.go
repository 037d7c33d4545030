package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single turn in a chat. Assistant messages are created as
// placeholders (IsComplete=false, empty content) before generation starts and
// are patched incrementally while the response streams; once IsComplete is
// true the content is immutable except for the cancellation marker.
type Message struct {
	ID      string `json:"id"`
	ChatID  string `json:"chat_id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ModelID records which model produced an assistant message.
	ModelID string `json:"model_id,omitempty"`

	// Thinking accumulates reasoning deltas when the model emits them.
	Thinking string `json:"thinking,omitempty"`

	// ThinkingDuration is wall-clock seconds from the first reasoning delta
	// to completion.
	ThinkingDuration float64 `json:"thinking_duration,omitempty"`

	IsComplete  bool `json:"is_complete"`
	IsCancelled bool `json:"is_cancelled,omitempty"`

	Attachments []Attachment     `json:"attachments,omitempty"`
	ToolCalls   []ToolCallRecord `json:"tool_calls,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Attachment references a file uploaded through a separate pipeline. It is
// immutable once attached; the message references the blob, it does not own it.
type Attachment struct {
	Name string `json:"name"`
	Type string `json:"type"` // MIME type
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// ToolCallRecord tracks one tool invocation within an assistant message.
// The record is created when the provider emits the tool call; Result is
// merged in asynchronously when execution finishes. ToolCallID is unique
// within one generation and correlates the call with its result.
type ToolCallRecord struct {
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// HasResult reports whether a result has been merged into the record.
func (r *ToolCallRecord) HasResult() bool {
	return len(r.Result) > 0
}
