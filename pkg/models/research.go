package models

import "time"

// ResearchStatus is the lifecycle state of a research session.
type ResearchStatus string

const (
	ResearchRunning   ResearchStatus = "running"
	ResearchCompleted ResearchStatus = "completed"
	ResearchFailed    ResearchStatus = "failed"
)

// ResearchActionType identifies what the agent chose to do in one step.
type ResearchActionType string

const (
	ActionSearch ResearchActionType = "search"
	ActionRead   ResearchActionType = "read"
)

// ResearchSession is the record of one bounded autonomous research run.
// Actions is an append-only audit trail: each action is persisted as the
// loop executes, so a crash mid-run still leaves the partial log visible.
type ResearchSession struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	Prompt      string           `json:"prompt"`
	Status      ResearchStatus   `json:"status"`
	Summary     string           `json:"summary,omitempty"`
	Actions     []ResearchAction `json:"actions,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt time.Time        `json:"completed_at,omitzero"`
}

// ResearchAction is one entry in a session's action log.
type ResearchAction struct {
	Type       ResearchActionType `json:"type"`
	ToolCallID string             `json:"tool_call_id"`
	Thoughts   string             `json:"thoughts,omitempty"`
	Query      string             `json:"query,omitempty"`
	URL        string             `json:"url,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}
