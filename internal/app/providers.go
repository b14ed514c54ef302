package app

import (
	"sync"

	"github.com/Tsukumi233/hotaru-code-sub001/internal/config"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/llm"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/llm/providers/anthropic"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/llm/providers/openai"
)

// ProviderRegistry is a concurrency-safe llm.Registry backed by a
// static map, populated once at startup from the configured provider
// credentials.
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]llm.Provider
}

// NewProviderRegistry creates an empty ProviderRegistry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{providers: make(map[string]llm.Provider)}
}

// Register adds or replaces providerID's backing Provider.
func (r *ProviderRegistry) Register(providerID string, p llm.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[providerID] = p
}

// Provider implements llm.Registry.
func (r *ProviderRegistry) Provider(providerID string) (llm.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[providerID]
	return p, ok
}

// providersFromConfig builds a ProviderRegistry from cfg.Provider:
// "anthropic" gets the native Anthropic Messages adapter, every other
// configured provider id is served by the OpenAI-compatible adapter
// against its configured base URL (OpenRouter, self-hosted gateways,
// and any other OpenAI-compatible endpoint).
func providersFromConfig(cfg *config.Config) *ProviderRegistry {
	reg := NewProviderRegistry()
	if cfg == nil {
		return reg
	}
	for id, pc := range cfg.Provider {
		if disabled(cfg.DisabledProviders, id) {
			continue
		}
		if id == "anthropic" {
			reg.Register(id, anthropic.New(pc.APIKey, pc.BaseURL))
			continue
		}
		reg.Register(id, openai.New(pc.APIKey, pc.BaseURL))
	}
	return reg
}

func disabled(disabledProviders []string, id string) bool {
	for _, d := range disabledProviders {
		if d == id {
			return true
		}
	}
	return false
}
