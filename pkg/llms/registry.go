package llms

import (
	"fmt"

	"github.com/climatepath/pendo/pkg/config"
	"github.com/climatepath/pendo/pkg/registry"
)

// ProviderRegistry holds named LLM providers built from configuration.
type ProviderRegistry struct {
	*registry.Registry[Provider]
}

// NewProviderRegistry creates an empty provider registry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{Registry: registry.New[Provider]()}
}

// CreateFromConfig builds a provider from its config entry and registers it
// under name.
func (r *ProviderRegistry) CreateFromConfig(name string, cfg *config.LLMProviderConfig) (Provider, error) {
	provider, err := NewProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("llm %q: %w", name, err)
	}
	if err := r.Register(name, provider); err != nil {
		provider.Close()
		return nil, err
	}
	return provider, nil
}

// NewProvider builds a provider from config without registering it.
func NewProvider(cfg *config.LLMProviderConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("llm config is required")
	}
	switch cfg.Type {
	case "openai":
		return NewOpenAIProvider(cfg)
	case "anthropic":
		return NewAnthropicProvider(cfg)
	case "ollama":
		return NewOllamaProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported llm provider type: %s", cfg.Type)
	}
}

// Close closes every registered provider.
func (r *ProviderRegistry) Close() error {
	var firstErr error
	for _, name := range r.Names() {
		if p, ok := r.Get(name); ok {
			if err := p.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
