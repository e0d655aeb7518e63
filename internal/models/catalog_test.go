package models

import "testing"

func TestCatalogGetByIDAndAlias(t *testing.T) {
	catalog := NewCatalog()

	m, ok := catalog.Get("claude-sonnet-4-20250514")
	if !ok {
		t.Fatal("expected builtin model by id")
	}
	if m.Provider != ProviderAnthropic || !m.SupportsTools() {
		t.Errorf("model = %+v", m)
	}

	aliased, ok := catalog.Get("claude-sonnet-4")
	if !ok || aliased.ID != "claude-sonnet-4-20250514" {
		t.Errorf("alias lookup = %+v, ok=%v", aliased, ok)
	}

	if _, ok := catalog.Get("no-such-model"); ok {
		t.Error("unknown id should miss")
	}
}

func TestCatalogRegisterReplaces(t *testing.T) {
	catalog := NewCatalog()
	catalog.Register(&Model{
		ID: "custom-1", Name: "Custom", Provider: ProviderOllama,
		Tier: TierFast, ContextWindow: 8192,
		Capabilities: []Capability{CapTools},
		Aliases:      []string{"custom"},
	})

	m, ok := catalog.Get("custom")
	if !ok || m.ID != "custom-1" {
		t.Fatalf("registered model not found via alias: %+v", m)
	}

	catalog.Register(&Model{ID: "custom-1", Name: "Custom v2", Provider: ProviderOllama, Tier: TierFast})
	if m, _ := catalog.Get("custom-1"); m.Name != "Custom v2" {
		t.Errorf("re-register did not replace: %+v", m)
	}
}

func TestCatalogListFiltersAndSorts(t *testing.T) {
	catalog := NewCatalog()

	anthropic := catalog.ListByProvider(ProviderAnthropic)
	if len(anthropic) < 2 {
		t.Fatalf("anthropic models = %d, want at least 2", len(anthropic))
	}
	// Best tier sorts first.
	if anthropic[0].Tier != TierFlagship {
		t.Errorf("first anthropic model tier = %s, want flagship", anthropic[0].Tier)
	}

	catalog.Register(&Model{ID: "old-model", Provider: ProviderOpenAI, Tier: TierFast, Deprecated: true})
	for _, m := range catalog.List(&Filter{Providers: []Provider{ProviderOpenAI}}) {
		if m.Deprecated {
			t.Error("deprecated models should be excluded by default")
		}
	}
	found := false
	for _, m := range catalog.List(&Filter{Providers: []Provider{ProviderOpenAI}, IncludeDeprecated: true}) {
		if m.ID == "old-model" {
			found = true
		}
	}
	if !found {
		t.Error("IncludeDeprecated should surface deprecated models")
	}
}

func TestDefaultCatalogHelpers(t *testing.T) {
	if _, ok := Get("gpt-4o"); !ok {
		t.Error("default catalog missing gpt-4o")
	}
	if len(ListByProvider(ProviderGoogle)) == 0 {
		t.Error("default catalog missing google models")
	}
	if len(List(nil)) == 0 {
		t.Error("List(nil) should return everything")
	}
}
