// Package research runs bounded autonomous research sessions: a model loop
// that alternates web searches and page reads within a fixed action budget,
// appending each action durably to the session log before producing a final
// summary.
package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/relay/internal/catalog"
	"github.com/haasonsaas/relay/internal/config"
	"github.com/haasonsaas/relay/internal/observability"
	"github.com/haasonsaas/relay/internal/provider"
	"github.com/haasonsaas/relay/internal/ratelimit"
	"github.com/haasonsaas/relay/internal/store"
	"github.com/haasonsaas/relay/internal/tools"
	"github.com/haasonsaas/relay/pkg/models"
)

const runnerPrompt = `You are an autonomous research agent. Investigate the
user's question by alternating web_search and read_page calls. Search first,
read the most promising results, and refine queries as you learn. When you
have gathered enough evidence, stop calling tools and write a thorough final
summary with sources cited by URL.`

const budgetNotice = "You have used your full action budget. Stop searching and write your final summary now."

// Deps are the runner's collaborators.
type Deps struct {
	Sessions  store.ResearchStore
	Catalog   *catalog.Catalog
	Providers *provider.Registry

	// BuildTools constructs the research tool set. Nil uses the built-in
	// search and page-reading tools.
	BuildTools func(flags tools.Flags) *tools.Registry

	// Limiter gates admission and takes the refund when a run fails.
	Limiter *ratelimit.Limiter

	Generation config.GenerationConfig

	Clock func() time.Time

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Runner executes research sessions.
type Runner struct {
	deps Deps
}

// New creates a runner, applying defaults for optional deps.
func New(deps Deps) *Runner {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = observability.NewLogger(observability.LogConfig{})
	}
	if deps.Generation.ResearchMaxSteps == 0 {
		deps.Generation = config.Default().Generation
	}
	if deps.BuildTools == nil {
		metrics := deps.Metrics
		deps.BuildTools = func(flags tools.Flags) *tools.Registry {
			return tools.Build(flags, tools.BuildConfig{}, metrics)
		}
	}
	return &Runner{deps: deps}
}

// Request describes one research run.
type Request struct {
	Subject ratelimit.Subject
	UserID  string
	Prompt  string

	// ModelID selects the model; empty uses the catalog default.
	ModelID string
}

// Run executes a research session to a terminal state.
//
// Admission is consumed up front; a failed run refunds the slot. Every
// search and read action is appended to the session log as it executes, so
// a crash mid-run leaves the partial trail visible. The session always ends
// completed (summary attached) or failed.
func (r *Runner) Run(ctx context.Context, req Request) (session *models.ResearchSession, err error) {
	ctx = observability.WithUserID(ctx, req.UserID)
	if _, err := r.deps.Limiter.Admit(ctx, req.Subject); err != nil {
		return nil, err
	}

	if r.deps.Tracer != nil {
		var span trace.Span
		ctx, span = r.deps.Tracer.Start(ctx, "research.run",
			attribute.String("user_id", req.UserID))
		defer func() {
			observability.RecordError(span, err)
			span.End()
		}()
	}

	session = &models.ResearchSession{
		UserID:    req.UserID,
		Prompt:    req.Prompt,
		Status:    models.ResearchRunning,
		CreatedAt: r.deps.Clock(),
	}
	if err := r.deps.Sessions.InsertSession(ctx, session); err != nil {
		r.refund(ctx, req.Subject)
		return nil, fmt.Errorf("insert session: %w", err)
	}

	summary, err := r.loop(ctx, session, req)
	if err != nil {
		r.fail(ctx, session.ID, req.Subject)
		return nil, err
	}

	if err := r.deps.Sessions.CompleteSession(ctx, session.ID, summary, r.deps.Clock()); err != nil {
		return nil, fmt.Errorf("complete session: %w", err)
	}
	if r.deps.Metrics != nil {
		r.deps.Metrics.RecordResearch("completed")
	}
	r.deps.Logger.Info(ctx, "research session completed",
		"session_id", session.ID, "actions", len(session.Actions))

	return r.deps.Sessions.GetSession(ctx, session.ID)
}

// loop drives the agent until it produces a summary or exhausts its budget.
func (r *Runner) loop(ctx context.Context, session *models.ResearchSession, req Request) (string, error) {
	model, err := r.deps.Catalog.ResolveOrDefault(req.ModelID)
	if err != nil {
		return "", err
	}
	p, err := r.deps.Providers.Bind(ctx, req.UserID, model)
	if err != nil {
		return "", err
	}

	registry := r.deps.BuildTools(tools.Flags{Research: true})
	preq := &provider.Request{
		Model:     model.ID,
		System:    runnerPrompt,
		Messages:  []provider.Message{{Role: "user", Content: req.Prompt}},
		Tools:     toolDefs(registry),
		MaxTokens: r.deps.Generation.MaxTokens,
	}

	actions := 0
	for step := 0; step < r.deps.Generation.ResearchMaxSteps; step++ {
		text, calls, err := r.turn(ctx, p, preq)
		if err != nil {
			return "", err
		}
		if len(calls) == 0 {
			return text, nil
		}

		results := make([]provider.ToolResult, 0, len(calls))
		for _, call := range calls {
			if actions >= r.deps.Generation.ResearchMaxActions {
				results = append(results, provider.ToolResult{
					ToolCallID: call.ID,
					Content:    budgetNotice,
					IsError:    true,
				})
				continue
			}
			actions++
			r.appendAction(ctx, session, call, text)
			results = append(results, r.execute(ctx, p, model.ID, registry, call))
		}

		preq.Messages = append(preq.Messages,
			provider.Message{Role: "assistant", Content: text, ToolCalls: calls},
			provider.Message{Role: "tool", ToolResults: results},
		)
	}

	// Step budget exhausted: one final no-tools turn for the summary.
	preq.Tools = nil
	preq.Messages = append(preq.Messages, provider.Message{Role: "user", Content: budgetNotice})
	summary, _, err := r.turn(ctx, p, preq)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(summary) == "" {
		return "", errors.New("research run produced no summary")
	}
	return summary, nil
}

// turn streams one model turn to exhaustion, returning its text and any
// tool calls.
func (r *Runner) turn(ctx context.Context, p provider.Provider, preq *provider.Request) (string, []provider.ToolCall, error) {
	ch, err := p.Complete(ctx, preq)
	if err != nil {
		return "", nil, fmt.Errorf("provider turn: %w", err)
	}
	var (
		text  strings.Builder
		calls []provider.ToolCall
	)
	for chunk := range ch {
		switch {
		case chunk.Error != nil:
			return "", nil, fmt.Errorf("provider turn: %w", chunk.Error)
		case chunk.Text != "":
			text.WriteString(chunk.Text)
		case chunk.ToolCall != nil:
			calls = append(calls, *chunk.ToolCall)
		}
	}
	return text.String(), calls, nil
}

// execute runs one tool call, attempting a single argument repair on schema
// violations. Failures become error results fed back to the model; they
// never abort the run.
func (r *Runner) execute(ctx context.Context, p provider.Provider, model string, registry *tools.Registry, call provider.ToolCall) provider.ToolResult {
	result, err := registry.Execute(ctx, call.Name, call.Input)
	if errors.Is(err, tools.ErrInvalidArguments) {
		if repaired, repairErr := r.repair(ctx, p, model, registry, call, err); repairErr == nil {
			result, err = registry.Execute(ctx, call.Name, repaired)
		}
	}
	if err != nil {
		return provider.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}
	}
	return provider.ToolResult{ToolCallID: call.ID, Content: result.Content, IsError: result.IsError}
}

// repair asks the model once to reformat invalid tool arguments against the
// schema.
func (r *Runner) repair(ctx context.Context, p provider.Provider, model string, registry *tools.Registry, call provider.ToolCall, cause error) (json.RawMessage, error) {
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
		return nil, errors.New("repair produced invalid JSON")
	}
	return json.RawMessage(repaired), nil
}

// appendAction writes one action to the session log before the tool runs,
// so the trail survives a crash mid-execution.
func (r *Runner) appendAction(ctx context.Context, session *models.ResearchSession, call provider.ToolCall, thoughts string) {
	action := models.ResearchAction{
		ToolCallID: call.ID,
		Thoughts:   strings.TrimSpace(thoughts),
		Timestamp:  r.deps.Clock(),
	}
	var args struct {
		Query string `json:"query"`
		URL   string `json:"url"`
	}
	_ = json.Unmarshal(call.Input, &args)
	switch call.Name {
	case "read_page":
		action.Type = models.ActionRead
		action.URL = args.URL
	default:
		action.Type = models.ActionSearch
		action.Query = args.Query
	}

	if err := r.deps.Sessions.AppendAction(ctx, session.ID, action); err != nil {
		r.deps.Logger.Warn(ctx, "failed to append research action",
			"session_id", session.ID, "error", err)
		return
	}
	session.Actions = append(session.Actions, action)
}

// fail marks the session failed and refunds the admission slot.
func (r *Runner) fail(ctx context.Context, sessionID string, subject ratelimit.Subject) {
	if err := r.deps.Sessions.FailSession(ctx, sessionID, r.deps.Clock()); err != nil {
		r.deps.Logger.Warn(ctx, "failed to mark session failed",
			"session_id", sessionID, "error", err)
	}
	r.refund(ctx, subject)
	if r.deps.Metrics != nil {
		r.deps.Metrics.RecordResearch("failed")
	}
}

func (r *Runner) refund(ctx context.Context, subject ratelimit.Subject) {
	if err := r.deps.Limiter.Refund(ctx, subject); err != nil {
		r.deps.Logger.Warn(ctx, "refund failed", "error", err)
	}
}

// toolDefs converts registry tools into provider definitions.
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
	return defs
}
