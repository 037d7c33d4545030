package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type echoTool struct {
	schema json.RawMessage
}

type echoParams struct {
	Message string `json:"message" jsonschema:"description=Text to echo"`
}

func newEchoTool() *echoTool {
	return &echoTool{schema: deriveSchema(&echoParams{})}
}

func (t *echoTool) Name() string            { return "echo" }
func (t *echoTool) Description() string     { return "Echoes the message back." }
func (t *echoTool) Schema() json.RawMessage { return t.schema }
func (t *echoTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var params echoParams
	if err := json.Unmarshal(args, &params); err != nil {
		return errorResult("invalid parameters: %v", err), nil
	}
	return &Result{Content: params.Message}, nil
}

func TestDeriveSchemaMarksRequiredFields(t *testing.T) {
	schema := deriveSchema(&echoParams{})

	var parsed struct {
		Type       string         `json:"type"`
		Properties map[string]any `json:"properties"`
		Required   []string       `json:"required"`
	}
	if err := json.Unmarshal(schema, &parsed); err != nil {
		t.Fatalf("schema is not valid JSON: %v", err)
	}
	if parsed.Type != "object" {
		t.Errorf("type = %q, want object", parsed.Type)
	}
	if _, ok := parsed.Properties["message"]; !ok {
		t.Error("schema missing message property")
	}
	found := false
	for _, r := range parsed.Required {
		if r == "message" {
			found = true
		}
	}
	if !found {
		t.Errorf("required = %v, want to contain message", parsed.Required)
	}
}

func TestRegistryExecuteValidArgs(t *testing.T) {
	registry := NewRegistry(nil)
	registry.Register(newEchoTool())

	result, err := registry.Execute(context.Background(), "echo", json.RawMessage(`{"message":"hi"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Content != "hi" {
		t.Errorf("content = %q, want hi", result.Content)
	}
}

func TestRegistryExecuteInvalidArgs(t *testing.T) {
	registry := NewRegistry(nil)
	registry.Register(newEchoTool())

	tests := []struct {
		name string
		args string
	}{
		{"missing required", `{}`},
		{"wrong type", `{"message":42}`},
		{"not json", `{"message":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := registry.Execute(context.Background(), "echo", json.RawMessage(tt.args))
			if !errors.Is(err, ErrInvalidArguments) {
				t.Errorf("err = %v, want ErrInvalidArguments", err)
			}
		})
	}
}

func TestRegistryExecuteUnknownTool(t *testing.T) {
	registry := NewRegistry(nil)
	if _, err := registry.Execute(context.Background(), "missing", nil); err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestBuildFlags(t *testing.T) {
	tests := []struct {
		name  string
		flags Flags
		want  []string
	}{
		{"none", Flags{}, nil},
		{"search", Flags{WebSearch: true}, []string{"web_search", "read_page"}},
		{"research implies search", Flags{Research: true}, []string{"web_search", "read_page"}},
		{"image without key skipped", Flags{ImageGeneration: true}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := Build(tt.flags, BuildConfig{}, nil)
			for _, name := range tt.want {
				if _, ok := registry.Get(name); !ok {
					t.Errorf("tool %q not registered", name)
				}
			}
			if len(registry.List()) != len(tt.want) {
				t.Errorf("registered %d tools, want %d", len(registry.List()), len(tt.want))
			}
		})
	}
}

func TestBuildImageGenWithKey(t *testing.T) {
	registry := Build(Flags{ImageGeneration: true}, BuildConfig{OpenAIAPIKey: "sk-test"}, nil)
	if _, ok := registry.Get("generate_image"); !ok {
		t.Error("generate_image not registered with API key present")
	}
}

func TestWebSearchAgainstLocalEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "go testing" {
			t.Errorf("query = %q, want %q", got, "go testing")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[
			{"title":"Go testing","url":"https://go.dev/testing","content":"About testing"},
			{"title":"Other","url":"https://example.com","content":"More"}
		]}`))
	}))
	defer server.Close()

	tool := NewWebSearch(WebSearchConfig{BaseURL: server.URL})
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"go testing","result_count":1}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", result.Content)
	}

	var response SearchResponse
	if err := json.Unmarshal([]byte(result.Content), &response); err != nil {
		t.Fatalf("result is not valid JSON: %v", err)
	}
	if len(response.Results) != 1 {
		t.Fatalf("got %d results, want 1", len(response.Results))
	}
	if response.Results[0].URL != "https://go.dev/testing" {
		t.Errorf("url = %q", response.Results[0].URL)
	}
}

func TestWebSearchCachesResponses(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"title":"t","url":"u","content":"c"}]}`))
	}))
	defer server.Close()

	tool := NewWebSearch(WebSearchConfig{BaseURL: server.URL})
	args := json.RawMessage(`{"query":"cached"}`)
	for i := 0; i < 3; i++ {
		if _, err := tool.Execute(context.Background(), args); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("endpoint called %d times, want 1", calls)
	}
}

func TestReadPageExtractsContent(t *testing.T) {
	page := `<html><head><title>Test Page</title>
		<meta name="description" content="A page for testing">
		<script>ignore()</script></head>
		<body><main><p>` + strings.Repeat("Useful content. ", 20) + `</p></main></body></html>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(page))
	}))
	defer server.Close()

	tool := NewReadPage(ReadPageConfig{SkipSSRFCheck: true})
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"url":"`+server.URL+`"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", result.Content)
	}
	if !strings.Contains(result.Content, "Title: Test Page") {
		t.Errorf("missing title in output: %s", result.Content)
	}
	if !strings.Contains(result.Content, "Useful content.") {
		t.Error("missing body text in output")
	}
	if strings.Contains(result.Content, "ignore()") {
		t.Error("script content leaked into output")
	}
}

func TestReadPageRejectsPrivateURLs(t *testing.T) {
	tool := NewReadPage(ReadPageConfig{})
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"url":"http://localhost:8080/admin"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Error("expected error result for localhost URL")
	}
}

func TestReadPageRejectsNonHTTPSchemes(t *testing.T) {
	tool := NewReadPage(ReadPageConfig{})
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"url":"file:///etc/passwd"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Error("expected error result for file scheme")
	}
}
