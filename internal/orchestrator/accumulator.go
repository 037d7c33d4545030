package orchestrator

import (
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/relay/pkg/models"
)

// accumulator collects the streamed output of one generation run.
//
// Writer discipline: content is written only by the text consumer; thinking
// and toolCalls only by the event consumer. The mutex does not arbitrate
// writers, it exists so a snapshot taken by either consumer sees a
// consistent cross-field view.
type accumulator struct {
	mu sync.Mutex

	content  strings.Builder
	thinking strings.Builder

	toolCalls   []models.ToolCallRecord
	attachments []models.Attachment

	// firstThinking is when the first reasoning delta arrived; zero if the
	// model never emitted reasoning.
	firstThinking time.Time
}

func (a *accumulator) appendContent(delta string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.content.WriteString(delta)
}

func (a *accumulator) appendThinking(delta string, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.firstThinking.IsZero() {
		a.firstThinking = now
	}
	a.thinking.WriteString(delta)
}

func (a *accumulator) addToolCall(record models.ToolCallRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.toolCalls = append(a.toolCalls, record)
}

// addAttachments records files produced by tool execution, in arrival order.
func (a *accumulator) addAttachments(attachments []models.Attachment) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attachments = append(a.attachments, attachments...)
}

// mergeToolResult attaches a result to the matching tool-call record. An
// unmatched result is dropped rather than creating a new entry.
func (a *accumulator) mergeToolResult(toolCallID string, result []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.toolCalls {
		if a.toolCalls[i].ToolCallID == toolCallID {
			a.toolCalls[i].Result = result
			return
		}
	}
}

// snapshot returns copies of the full accumulated state for a persistence
// write.
func (a *accumulator) snapshot() (content, thinking string, toolCalls []models.ToolCallRecord, attachments []models.Attachment) {
	a.mu.Lock()
	defer a.mu.Unlock()
	toolCalls = make([]models.ToolCallRecord, len(a.toolCalls))
	copy(toolCalls, a.toolCalls)
	if len(a.attachments) > 0 {
		attachments = append([]models.Attachment(nil), a.attachments...)
	}
	return a.content.String(), a.thinking.String(), toolCalls, attachments
}

// thinkingDuration is wall-clock seconds from the first reasoning delta to
// now. Zero when no reasoning was emitted.
func (a *accumulator) thinkingDuration(now time.Time) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.firstThinking.IsZero() {
		return 0
	}
	return now.Sub(a.firstThinking).Seconds()
}
