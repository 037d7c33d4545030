package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/relay/internal/provider"
	"github.com/haasonsaas/relay/internal/tools"
	"github.com/haasonsaas/relay/pkg/models"
)

// event is one element of the structured event stream. Exactly one field
// group is set: a tool call, a tool result, or a reasoning delta.
type event struct {
	toolCall *provider.ToolCall

	resultID    string
	result      json.RawMessage
	attachments []models.Attachment

	thinking string
}

// toolResultPayload is the structured result stored on a ToolCallRecord and
// echoed back to the model. Execution failures become a payload with Error
// set instead of aborting the generation.
type toolResultPayload struct {
	Content string `json:"content"`
	Error   bool   `json:"error,omitempty"`
	Message string `json:"message,omitempty"`

	// Attachments carries files a tool produced, e.g. a generated image.
	// They are lifted onto the assistant message itself, not just the
	// tool-call record.
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

// runSteps drives the bounded multi-step loop against the one-turn provider
// adapter: stream a turn, execute any tool calls it emitted, feed the
// results back, repeat. Text deltas go to textCh and structured events to
// events; the caller closes both channels after runSteps returns, so the
// streams end together.
//
// Hitting the step ceiling ends the run gracefully, keeping whatever was
// generated. The returned step count is 1-based and covers completed turns.
func (o *Orchestrator) runSteps(ctx context.Context, p provider.Provider, req *provider.Request, registry *tools.Registry, maxSteps int, textCh chan<- string, events chan<- event) (int, error) {
	steps := 0
	for steps < maxSteps {
		steps++

		start := time.Now()
		ch, err := p.Complete(ctx, req)
		if err != nil {
			o.recordProvider(p.Name(), req.Model, "error", start)
			return steps, &StreamError{Phase: "provider", Step: steps, Cause: err}
		}

		var (
			stepText strings.Builder
			pending  []provider.ToolCall
		)
		for chunk := range ch {
			switch {
			case chunk.Error != nil:
				o.recordProvider(p.Name(), req.Model, "error", start)
				return steps, &StreamError{Phase: "provider", Step: steps, Cause: chunk.Error}
			case chunk.Text != "":
				stepText.WriteString(chunk.Text)
				if err := send(ctx, textCh, chunk.Text); err != nil {
					return steps, err
				}
			case chunk.Thinking != "":
				if err := send(ctx, events, event{thinking: chunk.Thinking}); err != nil {
					return steps, err
				}
			case chunk.ToolCall != nil:
				pending = append(pending, *chunk.ToolCall)
				if err := send(ctx, events, event{toolCall: chunk.ToolCall}); err != nil {
					return steps, err
				}
			}
		}
		o.recordProvider(p.Name(), req.Model, "success", start)

		if len(pending) == 0 {
			return steps, nil
		}

		results := make([]provider.ToolResult, 0, len(pending))
		for _, call := range pending {
			payload := o.executeTool(ctx, p, req, registry, call)
			raw, _ := json.Marshal(payload)
			if err := send(ctx, events, event{resultID: call.ID, result: raw, attachments: payload.Attachments}); err != nil {
				return steps, err
			}
			results = append(results, provider.ToolResult{
				ToolCallID: call.ID,
				Content:    payload.Content,
				IsError:    payload.Error,
			})
		}

		req.Messages = append(req.Messages,
			provider.Message{Role: "assistant", Content: stepText.String(), ToolCalls: pending},
			provider.Message{Role: "tool", ToolResults: results},
		)
	}
	return steps, nil
}

// executeTool runs one tool call and converts every failure mode into a
// structured payload. A schema violation gets a single repair attempt before
// being treated as an execution error.
func (o *Orchestrator) executeTool(ctx context.Context, p provider.Provider, req *provider.Request, registry *tools.Registry, call provider.ToolCall) toolResultPayload {
	result, err := registry.Execute(ctx, call.Name, call.Input)
	if errors.Is(err, tools.ErrInvalidArguments) {
		repaired, repairErr := o.repairToolArgs(ctx, p, req.Model, registry, call, err)
		if repairErr == nil {
			result, err = registry.Execute(ctx, call.Name, repaired)
		}
	}
	if err != nil {
		o.deps.Logger.Warn(ctx, "tool execution failed",
			"tool", call.Name, "error", err)
		return toolResultPayload{Error: true, Message: err.Error()}
	}
	if result.IsError {
		return toolResultPayload{Error: true, Message: result.Content}
	}
	return toolResultPayload{Content: result.Content, Attachments: result.Attachments}
}

// repairToolArgs asks the model once to reformat invalid tool arguments
// against the tool's schema. The repaired arguments still go through normal
// validation; a second failure gives up.
func (o *Orchestrator) repairToolArgs(ctx context.Context, p provider.Provider, model string, registry *tools.Registry, call provider.ToolCall, cause error) (json.RawMessage, error) {
	tool, ok := registry.Get(call.Name)
	if !ok {
		return nil, fmt.Errorf("tool %q not found", call.Name)
	}

	prompt := fmt.Sprintf(
		"The arguments below are invalid for the tool %q.\n\nSchema:\n%s\n\nArguments:\n%s\n\nError: %v\n\nRespond with corrected JSON arguments only, no explanation.",
		call.Name, tool.Schema(), call.Input, cause)

	ch, err := p.Complete(ctx, &provider.Request{
		Model:     model,
		Messages:  []provider.Message{{Role: "user", Content: prompt}},
		MaxTokens: 1024,
	})
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	for chunk := range ch {
		if chunk.Error != nil {
			return nil, chunk.Error
		}
		b.WriteString(chunk.Text)
	}

	repaired := strings.TrimSpace(b.String())
	repaired = strings.TrimPrefix(repaired, "```json")
	repaired = strings.TrimPrefix(repaired, "```")
	repaired = strings.TrimSuffix(repaired, "```")
	repaired = strings.TrimSpace(repaired)
	if !json.Valid([]byte(repaired)) {
		return nil, fmt.Errorf("repair produced invalid JSON")
	}
	return json.RawMessage(repaired), nil
}

func (o *Orchestrator) recordProvider(providerName, model, status string, start time.Time) {
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordProviderRequest(providerName, model, status, time.Since(start).Seconds())
	}
}

// send delivers a value unless the context is cancelled first.
func send[T any](ctx context.Context, ch chan<- T, v T) error {
	select {
	case ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// toolDefs converts the registry's tools into provider definitions, sorted
// by name so requests are deterministic.
func toolDefs(registry *tools.Registry) []provider.ToolDef {
	list := registry.List()
	defs := make([]provider.ToolDef, 0, len(list))
	for _, tool := range list {
		defs = append(defs, provider.ToolDef{
			Name:        tool.Name(),
			Description: tool.Description(),
			Schema:      tool.Schema(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
