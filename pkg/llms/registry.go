package llms

import (
	"fmt"

	"github.com/keplerai/kepler/pkg/config"
)

// New constructs a provider from its configuration.
func New(cfg config.LLMConfig) (Provider, error) {
	switch cfg.Type {
	case "openai":
		return NewOpenAIProvider(cfg)
	case "anthropic":
		return NewAnthropicProvider(cfg)
	case "gemini":
		return NewGeminiProvider(cfg)
	case "ollama":
		return NewOllamaProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown LLM provider type: %s", cfg.Type)
	}
}

// Registry resolves named provider configurations into clients, applying
// per-request model and temperature overrides without mutating the base
// configuration.
type Registry struct {
	configs map[string]config.LLMConfig
}

func NewRegistry(configs map[string]config.LLMConfig) *Registry {
	return &Registry{configs: configs}
}

// Names lists the configured provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	return names
}

// Has reports whether a provider with the given name is configured.
func (r *Registry) Has(name string) bool {
	_, ok := r.configs[name]
	return ok
}

// Resolve returns a provider client for the named configuration. A
// non-empty model replaces the configured one; temperature always
// applies since stream options carry a resolved value.
func (r *Registry) Resolve(name, model string, temperature float64) (Provider, error) {
	cfg, ok := r.configs[name]
	if !ok {
		return nil, fmt.Errorf("LLM provider not configured: %s", name)
	}

	if model != "" {
		cfg.Model = model
	}
	cfg.Temperature = &temperature

	return New(cfg)
}
