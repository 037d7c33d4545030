package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/haasonsaas/relay/internal/catalog"
	"github.com/haasonsaas/relay/internal/credentials"
)

type staticResolver struct {
	keys map[string]string
}

func (r *staticResolver) Resolve(ctx context.Context, userID, provider string) (string, error) {
	if key, ok := r.keys[provider]; ok {
		return key, nil
	}
	return "", credentials.ErrMissingCredential
}

type fakeProvider struct {
	name   string
	apiKey string
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) Complete(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	ch := make(chan *Chunk)
	close(ch)
	return ch, nil
}

func TestRegistryBindResolvesCredential(t *testing.T) {
	resolver := &staticResolver{keys: map[string]string{"anthropic": "key-123"}}
	registry := NewRegistry(resolver, RegistryConfig{})
	registry.Register(catalog.ProviderAnthropic, func(apiKey string, _ RegistryConfig) (Provider, error) {
		return &fakeProvider{name: "anthropic", apiKey: apiKey}, nil
	})

	model := &catalog.Model{ID: "claude-sonnet-4-20250514", Provider: catalog.ProviderAnthropic}
	p, err := registry.Bind(context.Background(), "user-1", model)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	fake, ok := p.(*fakeProvider)
	if !ok {
		t.Fatalf("expected fake provider, got %T", p)
	}
	if fake.apiKey != "key-123" {
		t.Errorf("apiKey = %q, want key-123", fake.apiKey)
	}
}

func TestRegistryBindMissingCredential(t *testing.T) {
	registry := NewRegistry(&staticResolver{}, RegistryConfig{})

	model := &catalog.Model{ID: "gpt-4o", Provider: catalog.ProviderOpenAI}
	_, err := registry.Bind(context.Background(), "user-1", model)
	if !errors.Is(err, credentials.ErrMissingCredential) {
		t.Errorf("err = %v, want ErrMissingCredential", err)
	}
}

func TestRegistryBindUnknownProvider(t *testing.T) {
	registry := NewRegistry(&staticResolver{}, RegistryConfig{})

	model := &catalog.Model{ID: "x", Provider: catalog.Provider("mystery")}
	if _, err := registry.Bind(context.Background(), "user-1", model); err == nil {
		t.Fatal("expected error for unregistered provider")
	}
}
