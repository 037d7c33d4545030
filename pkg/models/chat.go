package models

import "time"

// Chat is a conversation thread owned by exactly one user. A chat is created
// on the first user message or an explicit "new chat" action; deleting a chat
// cascades to its messages.
type Chat struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	Title   string `json:"title,omitempty"`

	IsPinned bool `json:"is_pinned,omitempty"`
	IsShared bool `json:"is_shared,omitempty"`
	IsBranch bool `json:"is_branch,omitempty"`

	// IsGeneratingTitle guards the one-shot async title generation so two
	// concurrent sends cannot both kick it off.
	IsGeneratingTitle bool `json:"is_generating_title,omitempty"`

	ShareID string `json:"share_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
