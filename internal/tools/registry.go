package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/relay/internal/observability"
)

// Registry manages the tools available to a generation run.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	metrics *observability.Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(metrics *observability.Metrics) *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		metrics: metrics,
	}
}

// Register adds a tool, replacing any existing tool with the same name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns the registered tools.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, tool)
	}
	return out
}

// Execute validates the arguments against the tool's schema and runs the
// tool. An unknown tool or invalid arguments return an error; tool-level
// failures come back as a Result with IsError set.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (*Result, error) {
	tool, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("tool %q not found", name)
	}

	if err := validateArgs(tool.Schema(), args); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := tool.Execute(ctx, args)
	if r.metrics != nil {
		status := "success"
		if err != nil || (result != nil && result.IsError) {
			status = "error"
		}
		r.metrics.RecordToolExecution(name, status, time.Since(start).Seconds())
	}
	return result, err
}

// Flags selects which tool groups a generation run gets.
type Flags struct {
	WebSearch       bool
	ImageGeneration bool
	Research        bool
}

// BuildConfig carries settings for the built-in tools.
type BuildConfig struct {
	// SearchBaseURL overrides the web search endpoint (tests).
	SearchBaseURL string

	// OpenAIAPIKey enables the image generation tool.
	OpenAIAPIKey string

	// ImageModel is the image generation model. Default "dall-e-3".
	ImageModel string
}

// Build creates a registry populated according to the flags. Research mode
// implies search and page reading. Image generation is skipped when no
// OpenAI key is available; the model simply does not see the tool.
func Build(flags Flags, config BuildConfig, metrics *observability.Metrics) *Registry {
	registry := NewRegistry(metrics)

	if flags.WebSearch || flags.Research {
		registry.Register(NewWebSearch(WebSearchConfig{BaseURL: config.SearchBaseURL}))
		registry.Register(NewReadPage(ReadPageConfig{}))
	}
	if flags.ImageGeneration && config.OpenAIAPIKey != "" {
		registry.Register(NewImageGen(ImageGenConfig{
			APIKey: config.OpenAIAPIKey,
			Model:  config.ImageModel,
		}))
	}

	return registry
}
