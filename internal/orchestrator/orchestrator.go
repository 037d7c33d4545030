// Package orchestrator drives streaming response generation: it resolves the
// model and credential, builds the active tool set, runs the bounded
// multi-step provider loop, demultiplexes the text and event streams into a
// single assistant message record, and keeps that record incrementally
// persisted so readers always see a consistent, growing snapshot.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/relay/internal/catalog"
	"github.com/haasonsaas/relay/internal/config"
	"github.com/haasonsaas/relay/internal/observability"
	"github.com/haasonsaas/relay/internal/provider"
	"github.com/haasonsaas/relay/internal/store"
	"github.com/haasonsaas/relay/internal/tools"
	"github.com/haasonsaas/relay/pkg/models"
)

// errorNotice is appended to whatever content accumulated before a
// mid-stream failure, so the user sees the partial answer plus an
// explanation instead of a raw error.
const errorNotice = "\n\nI apologize, but I encountered an error while generating this response. Please try again."

// cancelNotice is appended when the user cancels a generation.
const cancelNotice = "\n\n*Generation cancelled.*"

// Deps are the orchestrator's collaborators, injected explicitly.
type Deps struct {
	Chats    store.ChatStore
	Messages store.MessageStore
	Catalog  *catalog.Catalog

	// Providers binds a catalog model and the user's credential to a
	// streaming adapter.
	Providers *provider.Registry

	// BuildTools constructs the tool registry for a run. Nil uses the
	// built-in tools with default settings.
	BuildTools func(flags tools.Flags) *tools.Registry

	Generation config.GenerationConfig

	// Clock is injectable for tests. Nil uses time.Now.
	Clock func() time.Time

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Orchestrator runs generations. Safe for concurrent use; each Generate call
// is an independent run.
type Orchestrator struct {
	deps Deps

	// cancelled tracks message ids cancelled mid-run so checkpoint and
	// final writes from the original generation never clobber the cancel
	// marker.
	mu        sync.Mutex
	cancelled map[string]bool
}

// New creates an orchestrator, applying defaults for optional deps.
func New(deps Deps) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = observability.NewLogger(observability.LogConfig{})
	}
	if deps.Generation.MaxSteps == 0 {
		deps.Generation = config.Default().Generation
	}
	if deps.BuildTools == nil {
		metrics := deps.Metrics
		deps.BuildTools = func(flags tools.Flags) *tools.Registry {
			return tools.Build(flags, tools.BuildConfig{}, metrics)
		}
	}
	return &Orchestrator{deps: deps, cancelled: make(map[string]bool)}
}

// Request describes one generation run.
type Request struct {
	ChatID string
	UserID string

	// AssistantMessageID names the placeholder message the caller created
	// before invoking Generate: persisted, IsComplete=false, empty content.
	// A crash mid-run leaves a visible in-progress row, not a gap.
	AssistantMessageID string

	// ModelID selects the model; unknown or empty falls back to the catalog
	// default.
	ModelID string

	Tools       tools.Flags
	Preferences Preferences

	// MaxSteps overrides the configured step ceiling. Zero uses the config.
	MaxSteps int
}

// Generate runs one generation against the placeholder message.
//
// Model-resolution and credential failures happen before any streaming;
// they finalize the placeholder empty and return the typed error untouched.
// Mid-stream failures persist the accumulated partial content with an
// appended notice, finalize the message, and return a StreamError. In every
// handled path the message ends with IsComplete=true.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (msg *models.Message, err error) {
	ctx = observability.WithChatID(ctx, req.ChatID)
	ctx = observability.WithUserID(ctx, req.UserID)
	start := o.deps.Clock()

	if o.deps.Tracer != nil {
		var span trace.Span
		ctx, span = o.deps.Tracer.Start(ctx, "orchestrator.generate",
			attribute.String("chat_id", req.ChatID),
			attribute.String("model", req.ModelID))
		defer func() {
			observability.RecordError(span, err)
			span.End()
		}()
	}

	model, err := o.deps.Catalog.ResolveOrDefault(req.ModelID)
	if err != nil {
		o.finalizeEmpty(ctx, req.AssistantMessageID)
		o.recordRun(req.ModelID, "error", start, 0)
		return nil, err
	}

	p, err := o.deps.Providers.Bind(ctx, req.UserID, model)
	if err != nil {
		o.finalizeEmpty(ctx, req.AssistantMessageID)
		o.recordRun(model.ID, "error", start, 0)
		return nil, err
	}

	history, err := o.deps.Messages.GetMessagesForChat(ctx, req.ChatID)
	if err != nil {
		o.finalizeEmpty(ctx, req.AssistantMessageID)
		o.recordRun(model.ID, "error", start, 0)
		return nil, fmt.Errorf("load history: %w", err)
	}

	registry := o.deps.BuildTools(req.Tools)
	preq := &provider.Request{
		Model:          model.ID,
		System:         systemPrompt(req.Tools, req.Preferences, o.deps.Clock()),
		Messages:       convertHistory(history, req.AssistantMessageID),
		Tools:          toolDefs(registry),
		MaxTokens:      o.deps.Generation.MaxTokens,
		EnableThinking: model.HasCapability(catalog.CapReasoning),
	}

	maxSteps := req.MaxSteps
	if maxSteps == 0 {
		maxSteps = o.deps.Generation.MaxSteps
	}

	o.deps.Logger.Info(ctx, "generation started",
		"model", model.ID, "provider", string(model.Provider), "max_steps", maxSteps)

	acc := &accumulator{}
	steps, runErr := o.stream(ctx, p, preq, registry, maxSteps, req.AssistantMessageID, acc)

	return o.finalize(ctx, req.AssistantMessageID, model.ID, acc, runErr, steps, start)
}

// streamResult carries the step driver's outcome across the producer
// goroutine boundary.
type streamResult struct {
	steps int
	err   error
}

// stream runs the step driver and the two demux consumers.
//
// The text consumer owns the content field; the event consumer owns
// toolCalls and thinking. Each delta triggers a full-state snapshot write.
// Both consumers run until their channel closes and are joined before
// returning, so the final write always sees the complete state. Delta order
// is preserved within each stream but not between them; every snapshot is a
// full overwrite, so interleaving only affects which intermediate state a
// concurrent reader observes.
func (o *Orchestrator) stream(ctx context.Context, p provider.Provider, preq *provider.Request, registry *tools.Registry, maxSteps int, messageID string, acc *accumulator) (int, error) {
	textCh := make(chan string, 16)
	events := make(chan event, 16)
	resultCh := make(chan streamResult, 1)

	go func() {
		defer close(textCh)
		defer close(events)
		steps, err := o.runSteps(ctx, p, preq, registry, maxSteps, textCh, events)
		resultCh <- streamResult{steps: steps, err: err}
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for delta := range textCh {
			acc.appendContent(delta)
			o.checkpoint(ctx, messageID, acc)
		}
	}()
	go func() {
		defer wg.Done()
		for ev := range events {
			switch {
			case ev.toolCall != nil:
				acc.addToolCall(models.ToolCallRecord{
					ToolCallID: ev.toolCall.ID,
					ToolName:   ev.toolCall.Name,
					Args:       ev.toolCall.Input,
				})
			case ev.resultID != "":
				acc.mergeToolResult(ev.resultID, ev.result)
				if len(ev.attachments) > 0 {
					acc.addAttachments(ev.attachments)
				}
			case ev.thinking != "":
				acc.appendThinking(ev.thinking, o.deps.Clock())
			}
			o.checkpoint(ctx, messageID, acc)
		}
	}()
	wg.Wait()

	result := <-resultCh
	return result.steps, result.err
}

// checkpoint persists the full accumulated state. Best effort: a failed
// write is logged and the stream continues, the next delta writes a
// superset.
func (o *Orchestrator) checkpoint(ctx context.Context, messageID string, acc *accumulator) {
	if o.isCancelled(messageID) {
		return
	}
	content, thinking, toolCalls, attachments := acc.snapshot()
	patch := store.MessagePatch{Content: &content, ToolCalls: toolCalls, Attachments: attachments}
	if thinking != "" {
		patch.Thinking = &thinking
	}
	if err := o.deps.Messages.PatchMessage(ctx, messageID, patch); err != nil {
		o.deps.Logger.Warn(ctx, "snapshot write failed", "message_id", messageID, "error", err)
		return
	}
	// Cancel may have written its notice between the guard above and the
	// patch. Terminality is untouched (this patch never writes the flags),
	// but the notice content was just overwritten; put it back.
	if o.isCancelled(messageID) {
		o.restoreCancelNotice(ctx, messageID)
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.SnapshotPatches.Inc()
	}
}

// restoreCancelNotice re-appends the cancel notice after a snapshot write
// lost the race with Cancel and overwrote it.
func (o *Orchestrator) restoreCancelNotice(ctx context.Context, messageID string) {
	msg, err := o.deps.Messages.GetMessage(ctx, messageID)
	if err != nil || strings.HasSuffix(msg.Content, cancelNotice) {
		return
	}
	content := msg.Content + cancelNotice
	if err := o.deps.Messages.PatchMessage(ctx, messageID, store.MessagePatch{Content: &content}); err != nil {
		o.deps.Logger.Warn(ctx, "failed to restore cancel notice",
			"message_id", messageID, "error", err)
	}
}

// finalize writes the terminal state of the run and reports metrics. A
// message cancelled mid-run is left exactly as Cancel wrote it.
func (o *Orchestrator) finalize(ctx context.Context, messageID, modelID string, acc *accumulator, runErr error, steps int, start time.Time) (*models.Message, error) {
	defer o.clearCancelled(messageID)

	current, err := o.deps.Messages.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("load message for final write: %w", err)
	}
	if current.IsCancelled || o.isCancelled(messageID) {
		o.recordRun(modelID, "cancelled", start, steps)
		o.deps.Logger.Info(ctx, "generation cancelled", "message_id", messageID, "steps", steps)
		return current, nil
	}

	content, thinking, toolCalls, attachments := acc.snapshot()
	status := "completed"
	if runErr != nil {
		status = "error"
		content += errorNotice
	}

	complete := true
	patch := store.MessagePatch{
		Content:     &content,
		ToolCalls:   toolCalls,
		Attachments: attachments,
		IsComplete:  &complete,
		ModelID:     &modelID,
	}
	if thinking != "" {
		patch.Thinking = &thinking
		duration := acc.thinkingDuration(o.deps.Clock())
		patch.ThinkingDuration = &duration
	}
	if err := o.deps.Messages.PatchMessage(ctx, messageID, patch); err != nil {
		return nil, fmt.Errorf("final write: %w", err)
	}
	if o.isCancelled(messageID) {
		o.restoreCancelNotice(ctx, messageID)
	}

	o.recordRun(modelID, status, start, steps)
	o.deps.Logger.Info(ctx, "generation finished",
		"message_id", messageID, "status", status, "steps", steps,
		"content_len", len(content))

	final, err := o.deps.Messages.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if runErr != nil {
		return final, runErr
	}
	return final, nil
}

// finalizeEmpty marks the placeholder complete without content, used when
// generation fails before any streaming starts. The error itself bubbles to
// the caller untouched.
func (o *Orchestrator) finalizeEmpty(ctx context.Context, messageID string) {
	complete := true
	if err := o.deps.Messages.PatchMessage(ctx, messageID, store.MessagePatch{IsComplete: &complete}); err != nil {
		o.deps.Logger.Warn(ctx, "failed to finalize placeholder", "message_id", messageID, "error", err)
	}
}

// Cancel marks an in-flight generation cancelled: the message gets the
// cancel notice appended and becomes terminal. The underlying provider and
// tool calls are not transport-aborted; their late writes are suppressed by
// the cancellation guard instead. Cancelling an already-complete message is
// a no-op.
func (o *Orchestrator) Cancel(ctx context.Context, messageID string) error {
	msg, err := o.deps.Messages.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.IsComplete {
		return nil
	}

	o.mu.Lock()
	o.cancelled[messageID] = true
	o.mu.Unlock()

	content := msg.Content + cancelNotice
	cancelled, complete := true, true
	if err := o.deps.Messages.PatchMessage(ctx, messageID, store.MessagePatch{
		Content:     &content,
		IsCancelled: &cancelled,
		IsComplete:  &complete,
	}); err != nil {
		return fmt.Errorf("cancel write: %w", err)
	}
	o.deps.Logger.Info(ctx, "generation cancelled by user", "message_id", messageID)
	return nil
}

func (o *Orchestrator) isCancelled(messageID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelled[messageID]
}

func (o *Orchestrator) clearCancelled(messageID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.cancelled, messageID)
}

func (o *Orchestrator) recordRun(modelID, status string, start time.Time, steps int) {
	if o.deps.Metrics == nil {
		return
	}
	o.deps.Metrics.RecordGeneration(modelID, status, o.deps.Clock().Sub(start).Seconds(), steps)
}

// convertHistory maps persisted messages to provider messages, skipping the
// placeholder being generated and any other incomplete assistant rows. Tool
// calls and their results are replayed so the model sees its prior tool use.
func convertHistory(msgs []*models.Message, excludeID string) []provider.Message {
	out := make([]provider.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == excludeID {
			continue
		}
		switch m.Role {
		case models.RoleUser:
			if m.Content == "" && len(m.Attachments) == 0 {
				continue
			}
			out = append(out, provider.Message{
				Role:        "user",
				Content:     m.Content,
				Attachments: m.Attachments,
			})
		case models.RoleAssistant:
			if !m.IsComplete {
				continue
			}
			if m.Content == "" && len(m.ToolCalls) == 0 {
				continue
			}
			pm := provider.Message{Role: "assistant", Content: m.Content}
			var results []provider.ToolResult
			for _, tc := range m.ToolCalls {
				pm.ToolCalls = append(pm.ToolCalls, provider.ToolCall{
					ID:    tc.ToolCallID,
					Name:  tc.ToolName,
					Input: tc.Args,
				})
				if tc.HasResult() {
					results = append(results, provider.ToolResult{
						ToolCallID: tc.ToolCallID,
						Content:    strings.TrimSpace(string(tc.Result)),
					})
				}
			}
			out = append(out, pm)
			if len(results) > 0 {
				out = append(out, provider.Message{Role: "tool", ToolResults: results})
			}
		}
	}
	return out
}
