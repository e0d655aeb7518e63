package config

// LLMConfig selects the default provider and the fallback order the
// failover orchestrator tries when it errors.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`

	// FallbackChain specifies provider IDs to try if the default provider
	// fails, in order. Example: ["openai", "google"].
	FallbackChain []string `yaml:"fallback_chain"`
}

// LLMProviderConfig configures one named provider entry.
type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
	APIVersion   string `yaml:"api_version"`
}
