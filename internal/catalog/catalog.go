// Package catalog provides the static model registry: the lookup table
// mapping a model identifier to its provider, capabilities, access tier,
// and credit cost.
package catalog

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrModelNotFound indicates neither the requested model nor the configured
// default exists in the catalog.
var ErrModelNotFound = errors.New("model not found")

// Provider identifies an LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGoogle    Provider = "google"
)

// Capability identifies a model capability.
type Capability string

const (
	CapVision    Capability = "vision"
	CapTools     Capability = "tools"
	CapReasoning Capability = "reasoning"
	CapImageGen  Capability = "image_generation"
)

// Tier identifies a model's access tier.
type Tier string

const (
	// TierFree models are available to every user.
	TierFree Tier = "free"
	// TierPro models require a pro subscription.
	TierPro Tier = "pro"
	// TierBYOK models are only usable with a user-supplied API key.
	TierBYOK Tier = "byok"
)

// Model describes one catalog entry.
type Model struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Provider     Provider     `json:"provider"`
	Tier         Tier         `json:"tier"`
	Capabilities []Capability `json:"capabilities,omitempty"`
	// Credits is the per-message credit cost charged against usage quota.
	Credits int `json:"credits,omitempty"`
	// APIKeyOnly mirrors TierBYOK for quick checks.
	APIKeyOnly bool     `json:"api_key_only,omitempty"`
	Aliases    []string `json:"aliases,omitempty"`
}

// HasCapability checks if the model has a specific capability.
func (m *Model) HasCapability(cap Capability) bool {
	for _, c := range m.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// Catalog manages the model collection with alias lookup and a configured
// default used when a requested model is missing.
type Catalog struct {
	mu        sync.RWMutex
	models    map[string]*Model
	aliases   map[string]string
	defaultID string
}

// New creates a catalog seeded with the built-in models and the given
// default model id.
func New(defaultID string) *Catalog {
	c := &Catalog{
		models:    make(map[string]*Model),
		aliases:   make(map[string]string),
		defaultID: defaultID,
	}
	c.registerBuiltins()
	return c
}

// Register adds a model to the catalog, replacing any existing entry.
func (c *Catalog) Register(model *Model) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models[model.ID] = model
	for _, alias := range model.Aliases {
		c.aliases[strings.ToLower(alias)] = model.ID
	}
}

// Get retrieves a model by ID or alias.
func (c *Catalog) Get(id string) (*Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if model, ok := c.models[id]; ok {
		return model, true
	}
	if realID, ok := c.aliases[strings.ToLower(id)]; ok {
		return c.models[realID], true
	}
	return nil, false
}

// ResolveOrDefault resolves a model id, falling back to the catalog default
// when the id is unknown or empty. Chats keep working when the catalog
// changes out from under a stored model id; ErrModelNotFound is returned
// only when the default itself is absent.
func (c *Catalog) ResolveOrDefault(id string) (*Model, error) {
	if id != "" {
		if model, ok := c.Get(id); ok {
			return model, nil
		}
	}
	if model, ok := c.Get(c.defaultID); ok {
		return model, nil
	}
	return nil, ErrModelNotFound
}

// List returns all models sorted by id.
func (c *Catalog) List() []*Model {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Model, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Catalog) registerBuiltins() {
	builtins := []*Model{
		{
			ID:           "claude-sonnet-4-20250514",
			Name:         "Claude Sonnet 4",
			Provider:     ProviderAnthropic,
			Tier:         TierFree,
			Capabilities: []Capability{CapTools, CapVision, CapReasoning},
			Credits:      1,
			Aliases:      []string{"claude-sonnet", "sonnet"},
		},
		{
			ID:           "claude-opus-4-20250514",
			Name:         "Claude Opus 4",
			Provider:     ProviderAnthropic,
			Tier:         TierPro,
			Capabilities: []Capability{CapTools, CapVision, CapReasoning},
			Credits:      5,
			Aliases:      []string{"claude-opus", "opus"},
		},
		{
			ID:           "gpt-4o",
			Name:         "GPT-4o",
			Provider:     ProviderOpenAI,
			Tier:         TierFree,
			Capabilities: []Capability{CapTools, CapVision},
			Credits:      1,
			Aliases:      []string{"4o"},
		},
		{
			ID:           "gpt-4o-mini",
			Name:         "GPT-4o mini",
			Provider:     ProviderOpenAI,
			Tier:         TierFree,
			Capabilities: []Capability{CapTools, CapVision},
			Credits:      1,
			Aliases:      []string{"4o-mini"},
		},
		{
			ID:           "o3",
			Name:         "OpenAI o3",
			Provider:     ProviderOpenAI,
			Tier:         TierBYOK,
			Capabilities: []Capability{CapTools, CapReasoning},
			Credits:      10,
			APIKeyOnly:   true,
		},
		{
			ID:           "gemini-2.5-flash",
			Name:         "Gemini 2.5 Flash",
			Provider:     ProviderGoogle,
			Tier:         TierFree,
			Capabilities: []Capability{CapTools, CapVision},
			Credits:      1,
			Aliases:      []string{"flash"},
		},
		{
			ID:           "gemini-2.5-pro",
			Name:         "Gemini 2.5 Pro",
			Provider:     ProviderGoogle,
			Tier:         TierPro,
			Capabilities: []Capability{CapTools, CapVision, CapReasoning},
			Credits:      3,
			Aliases:      []string{"gemini-pro"},
		},
	}
	for _, m := range builtins {
		m.APIKeyOnly = m.APIKeyOnly || m.Tier == TierBYOK
		c.Register(m)
	}
}
