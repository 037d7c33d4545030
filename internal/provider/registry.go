package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/relay/internal/catalog"
	"github.com/haasonsaas/relay/internal/credentials"
)

// Registry binds a catalog model and a resolved credential to a concrete
// adapter. Adapters are constructed per bind so that each request carries
// the key of the user who issued it.
type Registry struct {
	resolver credentials.Resolver
	config   RegistryConfig

	// factories maps provider names to adapter constructors. Overridable in
	// tests to inject fakes without touching upstream SDKs.
	factories map[catalog.Provider]Factory
}

// Factory constructs a Provider bound to an API key.
type Factory func(apiKey string, config RegistryConfig) (Provider, error)

// RegistryConfig carries adapter settings shared across binds.
type RegistryConfig struct {
	// AnthropicBaseURL and OpenAIBaseURL override upstream endpoints.
	AnthropicBaseURL string
	OpenAIBaseURL    string

	MaxRetries int
	RetryDelay time.Duration
}

// NewRegistry creates a registry with the built-in adapters.
func NewRegistry(resolver credentials.Resolver, config RegistryConfig) *Registry {
	r := &Registry{
		resolver:  resolver,
		config:    config,
		factories: make(map[catalog.Provider]Factory),
	}
	r.factories[catalog.ProviderAnthropic] = func(apiKey string, cfg RegistryConfig) (Provider, error) {
		return NewAnthropic(AnthropicConfig{
			APIKey:     apiKey,
			BaseURL:    cfg.AnthropicBaseURL,
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
		})
	}
	r.factories[catalog.ProviderOpenAI] = func(apiKey string, cfg RegistryConfig) (Provider, error) {
		return NewOpenAI(OpenAIConfig{
			APIKey:     apiKey,
			BaseURL:    cfg.OpenAIBaseURL,
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
		})
	}
	r.factories[catalog.ProviderGoogle] = func(apiKey string, cfg RegistryConfig) (Provider, error) {
		return NewGoogle(GoogleConfig{
			APIKey:     apiKey,
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
		})
	}
	return r
}

// Register installs or replaces the factory for a provider.
func (r *Registry) Register(name catalog.Provider, factory Factory) {
	r.factories[name] = factory
}

// Bind resolves the user's credential for the model's provider and returns
// an adapter ready to stream turns. A missing credential surfaces
// credentials.ErrMissingCredential unwrapped for callers to classify.
func (r *Registry) Bind(ctx context.Context, userID string, model *catalog.Model) (Provider, error) {
	factory, ok := r.factories[model.Provider]
	if !ok {
		return nil, fmt.Errorf("provider %q not registered", model.Provider)
	}

	apiKey, err := r.resolver.Resolve(ctx, userID, string(model.Provider))
	if err != nil {
		return nil, err
	}

	return factory(apiKey, r.config)
}
