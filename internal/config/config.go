// Package config defines the application configuration. Every constant the
// engine depends on (default model, admission ceilings, window size, step
// bounds) lives here rather than being scattered through the code.
package config

import (
	"time"
)

// Config is the root configuration.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Store      StoreConfig      `yaml:"store"`
	Models     ModelsConfig     `yaml:"models"`
	Limits     LimitsConfig     `yaml:"limits"`
	Generation GenerationConfig `yaml:"generation"`
	Tools      ToolsConfig      `yaml:"tools"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend"`
	// Path is the SQLite database path when Backend is "sqlite".
	Path string `yaml:"path"`
}

// ModelsConfig configures model selection.
type ModelsConfig struct {
	// Default is the model used when a request names no model or names one
	// missing from the catalog.
	Default string `yaml:"default"`
}

// LimitsConfig configures admission-control ceilings and the fixed window.
type LimitsConfig struct {
	GuestLimit int `yaml:"guest_limit"`
	UserLimit  int `yaml:"user_limit"`
	// WindowMS is the fixed window size in milliseconds.
	WindowMS int64 `yaml:"window_ms"`
}

// Window returns the window size as a duration.
func (l LimitsConfig) Window() time.Duration {
	return time.Duration(l.WindowMS) * time.Millisecond
}

// GenerationConfig bounds generation runs.
type GenerationConfig struct {
	// MaxSteps caps model turns per chat generation. Hitting the cap ends
	// the run gracefully with whatever content accumulated.
	MaxSteps int `yaml:"max_steps"`
	// ResearchMaxSteps caps model turns per research run.
	ResearchMaxSteps int `yaml:"research_max_steps"`
	// ResearchMaxActions caps search and read actions per research session.
	ResearchMaxActions int `yaml:"research_max_actions"`
	// MaxTokens is the per-turn output token budget.
	MaxTokens int `yaml:"max_tokens"`
}

// ToolsConfig configures tool implementations.
type ToolsConfig struct {
	// SearchBaseURL overrides the web search endpoint. Tests point this at
	// a local httptest server.
	SearchBaseURL string `yaml:"search_base_url"`
	// ImageModel is the model used by the image generation tool.
	ImageModel string `yaml:"image_model"`
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Log:   LogConfig{Level: "info", Format: "text"},
		Store: StoreConfig{Backend: "memory"},
		Models: ModelsConfig{
			Default: "claude-sonnet-4-20250514",
		},
		Limits: LimitsConfig{
			GuestLimit: 10,
			UserLimit:  20,
			WindowMS:   (5 * time.Hour).Milliseconds(),
		},
		Generation: GenerationConfig{
			MaxSteps:           10,
			ResearchMaxSteps:   24,
			ResearchMaxActions: 12,
			MaxTokens:          4096,
		},
		Tools: ToolsConfig{
			ImageModel: "dall-e-3",
		},
		Tracing: TracingConfig{
			Endpoint: "localhost:4317",
		},
	}
}
