package research

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/relay/internal/catalog"
	"github.com/haasonsaas/relay/internal/config"
	"github.com/haasonsaas/relay/internal/provider"
	"github.com/haasonsaas/relay/internal/ratelimit"
	"github.com/haasonsaas/relay/internal/store"
	"github.com/haasonsaas/relay/internal/tools"
	"github.com/haasonsaas/relay/pkg/models"
)

const defaultModelID = "claude-sonnet-4-20250514"

type scriptProvider struct {
	mu    sync.Mutex
	turns [][]*provider.Chunk
}

func (p *scriptProvider) Name() string { return "script" }

func (p *scriptProvider) Complete(ctx context.Context, req *provider.Request) (<-chan *provider.Chunk, error) {
	p.mu.Lock()
	var turn []*provider.Chunk
	if len(p.turns) > 0 {
		turn = p.turns[0]
		p.turns = p.turns[1:]
	} else {
		turn = []*provider.Chunk{{Done: true}}
	}
	p.mu.Unlock()

	ch := make(chan *provider.Chunk, len(turn))
	for _, chunk := range turn {
		ch <- chunk
	}
	close(ch)
	return ch, nil
}

type staticResolver struct{}

func (staticResolver) Resolve(ctx context.Context, userID, providerName string) (string, error) {
	return "key-1", nil
}

type fakeSearchTool struct{}

func (fakeSearchTool) Name() string        { return "web_search" }
func (fakeSearchTool) Description() string { return "search" }
func (fakeSearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`)
}
func (fakeSearchTool) Execute(ctx context.Context, args json.RawMessage) (*tools.Result, error) {
	return &tools.Result{Content: `[{"title":"result","url":"https://example.com"}]`}, nil
}

type fakeReadTool struct{}

func (fakeReadTool) Name() string        { return "read_page" }
func (fakeReadTool) Description() string { return "read" }
func (fakeReadTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"url":{"type":"string"}},"required":["url"]}`)
}
func (fakeReadTool) Execute(ctx context.Context, args json.RawMessage) (*tools.Result, error) {
	return &tools.Result{Content: "page text"}, nil
}

func newTestRunner(t *testing.T, p provider.Provider, st *store.MemoryStore) *Runner {
	t.Helper()

	registry := provider.NewRegistry(staticResolver{}, provider.RegistryConfig{})
	registry.Register(catalog.ProviderAnthropic, func(string, provider.RegistryConfig) (provider.Provider, error) {
		return p, nil
	})

	limiter := ratelimit.NewLimiter(st, ratelimit.Config{
		GuestLimit: 2, UserLimit: 2, Window: 5 * time.Hour,
	}, nil)

	return New(Deps{
		Sessions:  st,
		Catalog:   catalog.New(defaultModelID),
		Providers: registry,
		Limiter:   limiter,
		BuildTools: func(flags tools.Flags) *tools.Registry {
			r := tools.NewRegistry(nil)
			r.Register(fakeSearchTool{})
			r.Register(fakeReadTool{})
			return r
		},
		Generation: config.GenerationConfig{
			ResearchMaxSteps:   6,
			ResearchMaxActions: 4,
			MaxSteps:           10,
			MaxTokens:          1024,
		},
	})
}

func subject() ratelimit.Subject {
	return ratelimit.Subject{Key: "user-1", Tier: ratelimit.TierUser}
}

func TestRunSearchReadSummarize(t *testing.T) {
	st := store.NewMemoryStore()
	script := &scriptProvider{turns: [][]*provider.Chunk{
		{
			{Text: "Searching for background."},
			{ToolCall: &provider.ToolCall{ID: "c1", Name: "web_search", Input: json.RawMessage(`{"query":"go schedulers"}`)}},
			{Done: true},
		},
		{
			{ToolCall: &provider.ToolCall{ID: "c2", Name: "read_page", Input: json.RawMessage(`{"url":"https://example.com"}`)}},
			{Done: true},
		},
		{{Text: "Final summary with sources."}, {Done: true}},
	}}
	runner := newTestRunner(t, script, st)

	session, err := runner.Run(context.Background(), Request{
		Subject: subject(), UserID: "user-1", Prompt: "how do go schedulers work",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if session.Status != models.ResearchCompleted {
		t.Errorf("status = %q, want completed", session.Status)
	}
	if session.Summary != "Final summary with sources." {
		t.Errorf("summary = %q", session.Summary)
	}
	if len(session.Actions) != 2 {
		t.Fatalf("actions = %d, want 2", len(session.Actions))
	}
	if session.Actions[0].Type != models.ActionSearch || session.Actions[0].Query != "go schedulers" {
		t.Errorf("action 0 = %+v", session.Actions[0])
	}
	if session.Actions[0].Thoughts != "Searching for background." {
		t.Errorf("thoughts = %q", session.Actions[0].Thoughts)
	}
	if session.Actions[1].Type != models.ActionRead || session.Actions[1].URL != "https://example.com" {
		t.Errorf("action 1 = %+v", session.Actions[1])
	}
	if session.CompletedAt.IsZero() {
		t.Error("completed session has no completion time")
	}
}

func TestRunFailureRefundsQuota(t *testing.T) {
	st := store.NewMemoryStore()
	script := &scriptProvider{turns: [][]*provider.Chunk{
		{{Error: errors.New("upstream overloaded")}},
	}}
	runner := newTestRunner(t, script, st)

	_, err := runner.Run(context.Background(), Request{
		Subject: subject(), UserID: "user-1", Prompt: "doomed",
	})
	if err == nil {
		t.Fatal("expected error")
	}

	// The consumed slot came back: window count is zero again.
	window, err := st.GetWindow(context.Background(), "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if window.Count != 0 {
		t.Errorf("window count = %d, want 0 after refund", window.Count)
	}

	// The failed session is still on record with no summary.
	sessions := listSessions(t, st)
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	if sessions[0].Status != models.ResearchFailed || sessions[0].Summary != "" {
		t.Errorf("session = %+v, want failed with no summary", sessions[0])
	}
}

func TestRunQuotaExceededBeforeSession(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	// Exhaust the quota (ceiling 2 in the test config).
	for i := 0; i < 2; i++ {
		script := &scriptProvider{turns: [][]*provider.Chunk{{{Text: "done"}, {Done: true}}}}
		r := newTestRunner(t, script, st)
		if _, err := r.Run(ctx, Request{Subject: subject(), UserID: "user-1", Prompt: "q"}); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	r := newTestRunner(t, &scriptProvider{}, st)
	_, err := r.Run(ctx, Request{Subject: subject(), UserID: "user-1", Prompt: "q"})
	if !errors.Is(err, ratelimit.ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}
	// Rejection happens before any session is created.
	if got := len(listSessions(t, st)); got != 2 {
		t.Errorf("sessions = %d, want 2", got)
	}
}

func TestRunActionBudgetForcesSummary(t *testing.T) {
	st := store.NewMemoryStore()

	// The model keeps searching; after the 4-action budget its calls get
	// budget errors, then it summarizes.
	turns := make([][]*provider.Chunk, 0, 6)
	for i := 0; i < 5; i++ {
		turns = append(turns, []*provider.Chunk{
			{ToolCall: &provider.ToolCall{
				ID:    "c" + string(rune('0'+i)),
				Name:  "web_search",
				Input: json.RawMessage(`{"query":"more"}`),
			}},
			{Done: true},
		})
	}
	turns = append(turns, [][]*provider.Chunk{{{Text: "Summary under protest."}, {Done: true}}}...)
	script := &scriptProvider{turns: turns}
	runner := newTestRunner(t, script, st)

	session, err := runner.Run(context.Background(), Request{
		Subject: subject(), UserID: "user-1", Prompt: "endless topic",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if session.Status != models.ResearchCompleted {
		t.Errorf("status = %q", session.Status)
	}
	if len(session.Actions) != 4 {
		t.Errorf("actions = %d, want budget of 4", len(session.Actions))
	}
	if session.Summary == "" {
		t.Error("no summary despite forced wrap-up")
	}
}

func TestRunRepairsInvalidArguments(t *testing.T) {
	st := store.NewMemoryStore()
	script := &scriptProvider{turns: [][]*provider.Chunk{
		{
			{ToolCall: &provider.ToolCall{ID: "c1", Name: "web_search", Input: json.RawMessage(`{"q":"typo"}`)}},
			{Done: true},
		},
		// Repair sub-call response.
		{{Text: "{\"query\":\"typo\"}"}, {Done: true}},
		{{Text: "Summary."}, {Done: true}},
	}}
	runner := newTestRunner(t, script, st)

	session, err := runner.Run(context.Background(), Request{
		Subject: subject(), UserID: "user-1", Prompt: "q",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if session.Status != models.ResearchCompleted {
		t.Errorf("status = %q", session.Status)
	}
	if len(session.Actions) != 1 {
		t.Fatalf("actions = %d, want 1", len(session.Actions))
	}
}

func listSessions(t *testing.T, st *store.MemoryStore) []*models.ResearchSession {
	t.Helper()
	sessions, err := st.ListSessions(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	return sessions
}
