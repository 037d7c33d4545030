// Package credentials resolves provider API keys per user, with an
// environment fallback for server-configured keys.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ErrMissingCredential indicates no usable API key exists for the chosen
// provider. It is fatal for the request and surfaced to the user verbatim;
// the orchestrator never retries it.
var ErrMissingCredential = errors.New("missing credential")

// Resolver resolves an API key for a user and provider.
type Resolver interface {
	Resolve(ctx context.Context, userID, provider string) (string, error)
}

// envVarByProvider maps provider names to their server-side key variables.
var envVarByProvider = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"google":    "GEMINI_API_KEY",
}

// Keychain is the default Resolver: user-specific keys first, then the
// environment-configured key for the provider.
type Keychain struct {
	mu        sync.RWMutex
	userKeys  map[string]map[string]string // user id -> provider -> key
	lookupEnv func(string) string
}

// NewKeychain creates an empty keychain reading server keys from the
// process environment.
func NewKeychain() *Keychain {
	return &Keychain{
		userKeys:  make(map[string]map[string]string),
		lookupEnv: os.Getenv,
	}
}

// SetUserKey stores a user-supplied API key for a provider.
func (k *Keychain) SetUserKey(userID, provider, key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.userKeys[userID] == nil {
		k.userKeys[userID] = make(map[string]string)
	}
	k.userKeys[userID][provider] = key
}

// Resolve returns the user's key for the provider if one is stored, else
// the environment key, else ErrMissingCredential.
func (k *Keychain) Resolve(ctx context.Context, userID, provider string) (string, error) {
	k.mu.RLock()
	key := k.userKeys[userID][provider]
	k.mu.RUnlock()
	if strings.TrimSpace(key) != "" {
		return key, nil
	}

	if envVar, ok := envVarByProvider[provider]; ok {
		if key := k.lookupEnv(envVar); strings.TrimSpace(key) != "" {
			return key, nil
		}
	}
	return "", fmt.Errorf("%w: no API key for provider %q", ErrMissingCredential, provider)
}
