package catalog

import (
	"math"
	"testing"

	"github.com/newthinker/switchboard/internal/config"
	"github.com/newthinker/switchboard/internal/core"
)

func TestLookup(t *testing.T) {
	c := New(nil)

	tests := []struct {
		name     string
		provider core.ProviderType
		model    string
		want     string
		found    bool
	}{
		{"exact", core.ProviderOpenAI, "gpt-4o", "gpt-4o", true},
		{"dated snapshot", core.ProviderOpenAI, "gpt-4o-2024-08-06", "gpt-4o", true},
		{"longest prefix wins", core.ProviderOpenAI, "gpt-4o-mini-2024-07-18", "gpt-4o-mini", true},
		{"ollama tag", core.ProviderOllama, "llama3:8b", "llama3", true},
		{"case insensitive", core.ProviderClaude, "Claude-Sonnet-4-20250514", "claude-sonnet-4", true},
		{"wrong provider", core.ProviderGemini, "gpt-4o", "", false},
		{"unknown", core.ProviderOpenAI, "davinci", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := c.Lookup(tt.provider, tt.model)
			if ok != tt.found {
				t.Fatalf("Lookup() found = %v, want %v", ok, tt.found)
			}
			if m.Name != tt.want {
				t.Errorf("Lookup() = %s, want %s", m.Name, tt.want)
			}
		})
	}
}

func TestNew_Overrides(t *testing.T) {
	c := New([]config.ModelConfig{
		{Name: "gpt-4o", Provider: "openai", InputCostPer1K: 1, OutputCostPer1K: 2},
		{Name: "my-finetune", Provider: "openai_compatible", MaxOutputTokens: 2048},
		{Name: "", Provider: "openai"},
	})

	m, _ := c.Lookup(core.ProviderOpenAI, "gpt-4o")
	if m.InputCostPer1K != 1 {
		t.Errorf("override should replace builtin, got %f", m.InputCostPer1K)
	}
	if c.MaxOutputTokens(core.ProviderOpenAICompatible, "my-finetune") != 2048 {
		t.Error("custom model should be added")
	}
}

func TestListPrice(t *testing.T) {
	c := New(nil)

	cost, ok := c.ListPrice(core.ProviderOpenAI, "gpt-4o", 1000, 1000)
	if !ok {
		t.Fatal("expected gpt-4o to be priced")
	}
	if math.Abs(cost-0.0125) > 1e-9 {
		t.Errorf("expected 0.0125, got %f", cost)
	}

	if cost, ok := c.ListPrice(core.ProviderOllama, "llama3", 5000, 5000); !ok || cost != 0 {
		t.Errorf("local models are free, got %f %v", cost, ok)
	}
	if _, ok := c.ListPrice(core.ProviderOpenAI, "unknown", 1, 1); ok {
		t.Error("unknown model should not be priced")
	}
}

func TestList(t *testing.T) {
	c := New(nil)

	all := c.List("")
	if len(all) == 0 {
		t.Fatal("expected builtin models")
	}
	for i := 1; i < len(all); i++ {
		prev, cur := all[i-1], all[i]
		if prev.Provider > cur.Provider || (prev.Provider == cur.Provider && prev.Name > cur.Name) {
			t.Fatalf("list not sorted at %d: %s/%s before %s/%s", i, prev.Provider, prev.Name, cur.Provider, cur.Name)
		}
	}

	for _, m := range c.List(core.ProviderGemini) {
		if m.Provider != "gemini" {
			t.Errorf("filter leaked %s/%s", m.Provider, m.Name)
		}
	}
}

func TestHasCapability(t *testing.T) {
	c := New(nil)
	if !c.HasCapability(core.ProviderOpenAI, "gpt-4o", core.CapabilityVision) {
		t.Error("gpt-4o should support vision")
	}
	if c.HasCapability(core.ProviderOllama, "codellama", core.CapabilityVision) {
		t.Error("codellama should not support vision")
	}
}

func TestFilter(t *testing.T) {
	c := New(nil)

	vision := c.Filter("", core.CapabilityVision)
	if len(vision) == 0 {
		t.Fatal("expected vision models")
	}
	for _, m := range vision {
		if !c.HasCapability(core.ProviderType(m.Provider), m.Name, core.CapabilityVision) {
			t.Errorf("%s/%s lacks vision", m.Provider, m.Name)
		}
		if m.Provider == "ollama" {
			t.Errorf("no built-in ollama model has vision, got %s", m.Name)
		}
	}

	if got, want := len(c.Filter(core.ProviderClaude, "")), len(c.List(core.ProviderClaude)); got != want {
		t.Errorf("empty capability should keep all %d claude models, got %d", want, got)
	}
	if got := c.Filter(core.ProviderOllama, core.CapabilityJSON); len(got) != 0 {
		t.Errorf("expected no ollama json models, got %d", len(got))
	}
}
