// internal/llm/factory/factory.go
package factory

import (
	"fmt"

	"github.com/newthinker/switchboard/internal/config"
	"github.com/newthinker/switchboard/internal/core"
	"github.com/newthinker/switchboard/internal/llm"
	"github.com/newthinker/switchboard/internal/llm/claude"
	"github.com/newthinker/switchboard/internal/llm/compat"
	"github.com/newthinker/switchboard/internal/llm/gemini"
	"github.com/newthinker/switchboard/internal/llm/ollama"
	"github.com/newthinker/switchboard/internal/llm/openai"
)

// New creates an LLM provider based on configuration.
func New(cfg config.ProviderConfig) (llm.Provider, error) {
	opts := llm.Options{
		Name:    cfg.Name,
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
	}

	var (
		p   llm.Provider
		err error
	)
	switch core.ProviderType(cfg.Type) {
	case core.ProviderClaude:
		p, err = claude.New(opts)
	case core.ProviderOpenAI:
		p, err = openai.New(opts)
	case core.ProviderGemini:
		p, err = gemini.New(opts)
	case core.ProviderOllama:
		p, err = ollama.New(opts)
	case core.ProviderOpenAICompatible:
		p, err = compat.New(opts)
	default:
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown LLM provider type: %s", cfg.Type))
	}
	if err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("provider %s: %w", cfg.Name, err))
	}
	return p, nil
}
