package ai

import (
	"fmt"
	"strings"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/config"
)

// BuildGenerator turns configured provider entries into a fallback group.
// An entry's data may carry "model" to override defaultModel.
func BuildGenerator(items []config.ProviderConfig, defaultModel string) (IStreamGenerator, error) {
	entries := make([]GeneratorEntry, 0, len(items))
	for _, item := range items {
		p, err := NewProvider(item.Name, providerArgs(item))
		if err != nil {
			return nil, fmt.Errorf("init generator %s: %w", item.Name, err)
		}
		model := modelOf(item, defaultModel)
		entries = append(entries, GeneratorEntry{
			Name:      p.Name() + ":" + model,
			Generator: NewGenerator(p, model),
		})
	}
	g := NewGroupGenerator(entries)
	if g == nil {
		return nil, fmt.Errorf("no generator configured")
	}
	return g, nil
}

func BuildEmbedder(items []config.ProviderConfig, defaultModel string) (IEmbedder, error) {
	entries := make([]EmbedderEntry, 0, len(items))
	for _, item := range items {
		p, err := NewProvider(item.Name, providerArgs(item))
		if err != nil {
			return nil, fmt.Errorf("init embedder %s: %w", item.Name, err)
		}
		model := modelOf(item, defaultModel)
		entries = append(entries, EmbedderEntry{
			Name:     p.Name() + ":" + model,
			Embedder: NewEmbedder(p, model),
		})
	}
	e := NewGroupEmbedder(entries)
	if e == nil {
		return nil, fmt.Errorf("no embedder configured")
	}
	return e, nil
}

func providerArgs(item config.ProviderConfig) interface{} {
	if item.Data == nil {
		return map[string]interface{}{}
	}
	return item.Data
}

func modelOf(item config.ProviderConfig, fallback string) string {
	if m, ok := item.Data["model"].(string); ok && strings.TrimSpace(m) != "" {
		return strings.TrimSpace(m)
	}
	return fallback
}
