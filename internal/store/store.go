// Package store provides persistence for chats, messages, usage windows,
// and research sessions. Two backends are available: an in-memory store for
// tests and local runs, and a SQLite-backed store for durable deployments.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/relay/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// ChatPatch is a partial update to a chat. Nil fields are left unchanged.
type ChatPatch struct {
	Title             *string
	IsPinned          *bool
	IsShared          *bool
	IsGeneratingTitle *bool
	ShareID           *string
}

// MessagePatch is a partial update to a message. Nil fields are left
// unchanged. Content, Thinking, and ToolCalls are full-state snapshot
// overwrites, not appends: the orchestrator patches the entire accumulated
// value after each delta, so repeated writes with growing content are
// idempotent and a reader always sees a consistent prefix.
type MessagePatch struct {
	Content          *string
	Thinking         *string
	ThinkingDuration *float64
	IsComplete       *bool
	IsCancelled      *bool
	ToolCalls        []models.ToolCallRecord
	Attachments      []models.Attachment
	ModelID          *string
}

// ChatStore persists chats.
type ChatStore interface {
	InsertChat(ctx context.Context, chat *models.Chat) error
	GetChat(ctx context.Context, id string) (*models.Chat, error)
	PatchChat(ctx context.Context, id string, patch ChatPatch) error
	// DeleteChat removes the chat and cascades to its messages.
	DeleteChat(ctx context.Context, id string) error
	ListChats(ctx context.Context, ownerID string) ([]*models.Chat, error)
	// ClaimTitleGeneration atomically sets IsGeneratingTitle if it was
	// unset and the chat has no title yet. Returns true only for the single
	// caller that won the claim.
	ClaimTitleGeneration(ctx context.Context, id string) (bool, error)
}

// MessageStore persists messages within chats.
type MessageStore interface {
	InsertMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	PatchMessage(ctx context.Context, id string, patch MessagePatch) error
	// GetMessagesForChat returns messages in creation order, oldest first.
	GetMessagesForChat(ctx context.Context, chatID string) ([]*models.Message, error)
	// DeleteMessagesFrom removes the given message and every message created
	// after it in the same chat. Used by retry/edit to discard the stale
	// continuation before regenerating.
	DeleteMessagesFrom(ctx context.Context, chatID, fromMessageID string) error
}

// UsageStore persists admission-control counters. ConsumeWindow is the only
// concurrently-contended mutation in the system and must be atomic: two
// simultaneous calls with one slot remaining must not both be allowed.
type UsageStore interface {
	// ConsumeWindow performs an atomic check-then-increment for the subject.
	// A missing record is created with count=1; an expired window (now -
	// windowStart >= window) is reset to count=1; an active window below the
	// ceiling is incremented. Returns the resulting window state and whether
	// the request was admitted. A rejection does not mutate the record.
	ConsumeWindow(ctx context.Context, key string, window time.Duration, ceiling int, now time.Time) (models.UsageWindow, bool, error)
	// RefundWindow decrements the subject's count by one, not below zero.
	RefundWindow(ctx context.Context, key string) error
	GetWindow(ctx context.Context, key string) (*models.UsageWindow, error)
}

// ResearchStore persists research sessions and their append-only action logs.
type ResearchStore interface {
	InsertSession(ctx context.Context, session *models.ResearchSession) error
	GetSession(ctx context.Context, id string) (*models.ResearchSession, error)
	// AppendAction durably appends one action to the session log as the run
	// executes, so partial progress survives a crash.
	AppendAction(ctx context.Context, sessionID string, action models.ResearchAction) error
	CompleteSession(ctx context.Context, id, summary string, at time.Time) error
	FailSession(ctx context.Context, id string, at time.Time) error
	// ListSessions returns the user's sessions, oldest first. An empty user
	// id returns all sessions.
	ListSessions(ctx context.Context, userID string) ([]*models.ResearchSession, error)
}

// Store groups the persistence interfaces consumed by the orchestrator and
// its callers.
type Store interface {
	ChatStore
	MessageStore
	UsageStore
	ResearchStore
}
