// Package catalog holds static reference data about the models each
// provider variant offers.
package catalog

import (
	"sort"
	"strings"

	"github.com/newthinker/switchboard/internal/config"
	"github.com/newthinker/switchboard/internal/core"
)

// Prices are USD per 1K tokens.
var builtin = []config.ModelConfig{
	{Name: "gpt-4o", Provider: "openai", ContextWindow: 128000, MaxOutputTokens: 16384, InputCostPer1K: 0.0025, OutputCostPer1K: 0.01, Capabilities: []string{"chat", "code", "vision", "tools", "json"}},
	{Name: "gpt-4o-mini", Provider: "openai", ContextWindow: 128000, MaxOutputTokens: 16384, InputCostPer1K: 0.00015, OutputCostPer1K: 0.0006, Capabilities: []string{"chat", "code", "vision", "tools", "json"}},
	{Name: "gpt-4-turbo", Provider: "openai", ContextWindow: 128000, MaxOutputTokens: 4096, InputCostPer1K: 0.01, OutputCostPer1K: 0.03, Capabilities: []string{"chat", "code", "vision", "tools", "json"}},
	{Name: "claude-sonnet-4", Provider: "claude", ContextWindow: 200000, MaxOutputTokens: 64000, InputCostPer1K: 0.003, OutputCostPer1K: 0.015, Capabilities: []string{"chat", "code", "vision", "tools"}},
	{Name: "claude-3-5-sonnet", Provider: "claude", ContextWindow: 200000, MaxOutputTokens: 8192, InputCostPer1K: 0.003, OutputCostPer1K: 0.015, Capabilities: []string{"chat", "code", "vision", "tools"}},
	{Name: "claude-3-5-haiku", Provider: "claude", ContextWindow: 200000, MaxOutputTokens: 8192, InputCostPer1K: 0.0008, OutputCostPer1K: 0.004, Capabilities: []string{"chat", "code", "tools"}},
	{Name: "claude-3-haiku", Provider: "claude", ContextWindow: 200000, MaxOutputTokens: 4096, InputCostPer1K: 0.00025, OutputCostPer1K: 0.00125, Capabilities: []string{"chat", "code", "vision", "tools"}},
	{Name: "gemini-2.0-flash", Provider: "gemini", ContextWindow: 1048576, MaxOutputTokens: 8192, InputCostPer1K: 0.0001, OutputCostPer1K: 0.0004, Capabilities: []string{"chat", "code", "vision", "tools", "json"}},
	{Name: "gemini-2.5-flash", Provider: "gemini", ContextWindow: 1048576, MaxOutputTokens: 65536, InputCostPer1K: 0.0003, OutputCostPer1K: 0.0025, Capabilities: []string{"chat", "code", "vision", "tools", "json"}},
	{Name: "gemini-1.5-pro", Provider: "gemini", ContextWindow: 2097152, MaxOutputTokens: 8192, InputCostPer1K: 0.00125, OutputCostPer1K: 0.005, Capabilities: []string{"chat", "code", "vision", "tools", "json"}},
	{Name: "qwen2.5-coder", Provider: "ollama", ContextWindow: 32768, MaxOutputTokens: 8192, Capabilities: []string{"chat", "code"}},
	{Name: "llama3", Provider: "ollama", ContextWindow: 8192, MaxOutputTokens: 4096, Capabilities: []string{"chat", "code"}},
	{Name: "codellama", Provider: "ollama", ContextWindow: 16384, MaxOutputTokens: 4096, Capabilities: []string{"code"}},
	{Name: "deepseek-coder", Provider: "openai_compatible", ContextWindow: 128000, MaxOutputTokens: 8192, InputCostPer1K: 0.00027, OutputCostPer1K: 0.0011, Capabilities: []string{"chat", "code", "json"}},
}

// Catalog indexes model reference data by provider variant and name.
// It is read-only after construction.
type Catalog struct {
	models map[string]config.ModelConfig
}

// New builds a catalog from the built-in table plus overrides. An override
// with the same provider and name replaces the built-in entry.
func New(overrides []config.ModelConfig) *Catalog {
	c := &Catalog{models: make(map[string]config.ModelConfig, len(builtin)+len(overrides))}
	for _, m := range builtin {
		c.add(m)
	}
	for _, m := range overrides {
		if m.Name == "" || m.Provider == "" {
			continue
		}
		c.add(m)
	}
	return c
}

func (c *Catalog) add(m config.ModelConfig) {
	m.Name = strings.ToLower(m.Name)
	m.Provider = strings.ToLower(m.Provider)
	c.models[key(core.ProviderType(m.Provider), m.Name)] = m
}

func key(provider core.ProviderType, model string) string {
	return string(provider) + "/" + model
}

// Lookup finds a model by exact name, then by the longest catalog name the
// model starts with ("gpt-4o-2024-08-06" matches "gpt-4o", "llama3:8b"
// matches "llama3").
func (c *Catalog) Lookup(provider core.ProviderType, model string) (config.ModelConfig, bool) {
	model = strings.ToLower(model)
	if m, ok := c.models[key(provider, model)]; ok {
		return m, true
	}

	var best config.ModelConfig
	found := false
	for _, m := range c.models {
		if m.Provider != string(provider) || !strings.HasPrefix(model, m.Name) {
			continue
		}
		if !found || len(m.Name) > len(best.Name) {
			best, found = m, true
		}
	}
	return best, found
}

// List returns every model, or only those of one provider variant, sorted
// by provider then name.
func (c *Catalog) List(provider core.ProviderType) []config.ModelConfig {
	out := make([]config.ModelConfig, 0, len(c.models))
	for _, m := range c.models {
		if provider != "" && m.Provider != string(provider) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// ListPrice returns the per-1K list price of a call, false when the model
// is unknown.
func (c *Catalog) ListPrice(provider core.ProviderType, model string, inputTokens, outputTokens int) (float64, bool) {
	m, ok := c.Lookup(provider, model)
	if !ok {
		return 0, false
	}
	return float64(inputTokens)/1000*m.InputCostPer1K + float64(outputTokens)/1000*m.OutputCostPer1K, true
}

// Filter is List narrowed to models advertising capability. An empty
// capability matches every model.
func (c *Catalog) Filter(provider core.ProviderType, capability core.Capability) []config.ModelConfig {
	models := c.List(provider)
	if capability == "" {
		return models
	}
	out := models[:0]
	for _, m := range models {
		if c.HasCapability(core.ProviderType(m.Provider), m.Name, capability) {
			out = append(out, m)
		}
	}
	return out
}

// MaxOutputTokens returns the output limit for a model, 0 when unknown.
func (c *Catalog) MaxOutputTokens(provider core.ProviderType, model string) int {
	m, ok := c.Lookup(provider, model)
	if !ok {
		return 0
	}
	return m.MaxOutputTokens
}

// HasCapability reports whether the model advertises capability.
func (c *Catalog) HasCapability(provider core.ProviderType, model string, capability core.Capability) bool {
	m, ok := c.Lookup(provider, model)
	if !ok {
		return false
	}
	for _, cp := range m.Capabilities {
		if cp == string(capability) {
			return true
		}
	}
	return false
}
