// Package models provides a catalog of LLM models and their capabilities,
// backing model-name validation in agent configuration and the models CLI.
package models

import (
	"sort"
	"sync"
)

// Provider identifies an LLM backend.
type Provider string

const (
	ProviderAnthropic  Provider = "anthropic"
	ProviderOpenAI     Provider = "openai"
	ProviderGoogle     Provider = "google"
	ProviderBedrock    Provider = "bedrock"
	ProviderOllama     Provider = "ollama"
	ProviderAzure      Provider = "azure"
	ProviderOpenRouter Provider = "openrouter"
)

// Capability identifies something a model can do.
type Capability string

const (
	CapVision      Capability = "vision"
	CapTools       Capability = "tools"
	CapStreaming   Capability = "streaming"
	CapReasoning   Capability = "reasoning"
	CapLongContext Capability = "long_context"
)

// Tier identifies a model's quality/cost tier.
type Tier string

const (
	TierFlagship Tier = "flagship"
	TierStandard Tier = "standard"
	TierFast     Tier = "fast"
)

// Model describes one known model.
type Model struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Provider        Provider     `json:"provider"`
	Tier            Tier         `json:"tier"`
	ContextWindow   int          `json:"context_window"`
	MaxOutputTokens int          `json:"max_output_tokens,omitempty"`
	Capabilities    []Capability `json:"capabilities"`
	Aliases         []string     `json:"aliases,omitempty"`
	Deprecated      bool         `json:"deprecated,omitempty"`
}

// HasCapability reports whether the model declares cap.
func (m *Model) HasCapability(cap Capability) bool {
	for _, c := range m.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

func (m *Model) SupportsVision() bool { return m.HasCapability(CapVision) }

func (m *Model) SupportsTools() bool { return m.HasCapability(CapTools) }

// Catalog holds models keyed by ID and alias.
type Catalog struct {
	mu      sync.RWMutex
	models  map[string]*Model
	aliases map[string]string
}

// NewCatalog returns a catalog pre-populated with the built-in model set.
func NewCatalog() *Catalog {
	c := &Catalog{
		models:  make(map[string]*Model),
		aliases: make(map[string]string),
	}
	for i := range builtinModels {
		c.Register(&builtinModels[i])
	}
	return c
}

// Register adds or replaces a model and its aliases.
func (c *Catalog) Register(model *Model) {
	if model == nil || model.ID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := *model
	c.models[copied.ID] = &copied
	for _, alias := range copied.Aliases {
		c.aliases[alias] = copied.ID
	}
}

// Get looks a model up by ID or alias.
func (c *Catalog) Get(id string) (*Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.models[id]; ok {
		return m, true
	}
	if real, ok := c.aliases[id]; ok {
		return c.models[real], true
	}
	return nil, false
}

// Filter selects models for List.
type Filter struct {
	Providers         []Provider
	Tiers             []Tier
	IncludeDeprecated bool
}

func (f *Filter) matches(m *Model) bool {
	if f == nil {
		return true
	}
	if !f.IncludeDeprecated && m.Deprecated {
		return false
	}
	if len(f.Providers) > 0 && !containsProvider(f.Providers, m.Provider) {
		return false
	}
	if len(f.Tiers) > 0 && !containsTier(f.Tiers, m.Tier) {
		return false
	}
	return true
}

// List returns matching models sorted by provider, then tier, then name.
func (c *Catalog) List(filter *Filter) []*Model {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var result []*Model
	for _, m := range c.models {
		if filter.matches(m) {
			result = append(result, m)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Provider != result[j].Provider {
			return result[i].Provider < result[j].Provider
		}
		if result[i].Tier != result[j].Tier {
			return tierRank(result[i].Tier) < tierRank(result[j].Tier)
		}
		return result[i].Name < result[j].Name
	})
	return result
}

// ListByProvider returns the provider's models, best tier first.
func (c *Catalog) ListByProvider(provider Provider) []*Model {
	return c.List(&Filter{Providers: []Provider{provider}})
}

func tierRank(t Tier) int {
	switch t {
	case TierFlagship:
		return 0
	case TierStandard:
		return 1
	case TierFast:
		return 2
	}
	return 3
}

func containsProvider(list []Provider, p Provider) bool {
	for _, v := range list {
		if v == p {
			return true
		}
	}
	return false
}

func containsTier(list []Tier, t Tier) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}

// builtinModels is the static catalog; Bedrock discovery registers live
// entries on top of it.
var builtinModels = []Model{
	{
		ID: "claude-opus-4-20250514", Name: "Claude Opus 4", Provider: ProviderAnthropic,
		Tier: TierFlagship, ContextWindow: 200000, MaxOutputTokens: 32000,
		Capabilities: []Capability{CapVision, CapTools, CapStreaming, CapReasoning, CapLongContext},
		Aliases:      []string{"claude-opus-4"},
	},
	{
		ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", Provider: ProviderAnthropic,
		Tier: TierStandard, ContextWindow: 200000, MaxOutputTokens: 64000,
		Capabilities: []Capability{CapVision, CapTools, CapStreaming, CapReasoning, CapLongContext},
		Aliases:      []string{"claude-sonnet-4"},
	},
	{
		ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", Provider: ProviderAnthropic,
		Tier: TierFast, ContextWindow: 200000, MaxOutputTokens: 8192,
		Capabilities: []Capability{CapVision, CapTools, CapStreaming, CapLongContext},
		Aliases:      []string{"claude-3-5-haiku"},
	},
	{
		ID: "gpt-4o", Name: "GPT-4o", Provider: ProviderOpenAI,
		Tier: TierStandard, ContextWindow: 128000, MaxOutputTokens: 16384,
		Capabilities: []Capability{CapVision, CapTools, CapStreaming, CapLongContext},
	},
	{
		ID: "gpt-4o-mini", Name: "GPT-4o mini", Provider: ProviderOpenAI,
		Tier: TierFast, ContextWindow: 128000, MaxOutputTokens: 16384,
		Capabilities: []Capability{CapVision, CapTools, CapStreaming, CapLongContext},
	},
	{
		ID: "o3-mini", Name: "o3-mini", Provider: ProviderOpenAI,
		Tier: TierStandard, ContextWindow: 200000, MaxOutputTokens: 100000,
		Capabilities: []Capability{CapTools, CapStreaming, CapReasoning, CapLongContext},
	},
	{
		ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", Provider: ProviderGoogle,
		Tier: TierFast, ContextWindow: 1048576, MaxOutputTokens: 8192,
		Capabilities: []Capability{CapVision, CapTools, CapStreaming, CapLongContext},
	},
	{
		ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro", Provider: ProviderGoogle,
		Tier: TierStandard, ContextWindow: 2097152, MaxOutputTokens: 8192,
		Capabilities: []Capability{CapVision, CapTools, CapStreaming, CapLongContext},
	},
	{
		ID: "anthropic.claude-3-5-sonnet-20241022-v2:0", Name: "Claude 3.5 Sonnet (Bedrock)", Provider: ProviderBedrock,
		Tier: TierStandard, ContextWindow: 200000, MaxOutputTokens: 8192,
		Capabilities: []Capability{CapVision, CapTools, CapStreaming, CapLongContext},
	},
}

// defaultCatalog backs the package-level lookups.
var defaultCatalog = NewCatalog()

// Get looks a model up in the default catalog.
func Get(id string) (*Model, bool) {
	return defaultCatalog.Get(id)
}

// List returns models from the default catalog.
func List(filter *Filter) []*Model {
	return defaultCatalog.List(filter)
}

// ListByProvider returns the provider's models from the default catalog.
func ListByProvider(provider Provider) []*Model {
	return defaultCatalog.ListByProvider(provider)
}
