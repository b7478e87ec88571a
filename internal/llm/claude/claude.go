// internal/llm/claude/claude.go
package claude

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/newthinker/switchboard/internal/core"
	"github.com/newthinker/switchboard/internal/llm"
)

const defaultModel = "claude-sonnet-4-20250514"

// Provider implements the LLM interface for Claude/Anthropic.
type Provider struct {
	client anthropic.Client
	name   string
	model  string
}

// New creates a new Claude provider.
func New(opts llm.Options) (*Provider, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("API key required")
	}
	model := opts.Model
	if model == "" {
		model = defaultModel
	}

	// Failover to the next provider replaces SDK-level retries.
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	return &Provider{
		client: anthropic.NewClient(reqOpts...),
		name:   opts.NameOr(string(core.ProviderClaude)),
		model:  model,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return p.name
}

// Type returns the provider variant.
func (p *Provider) Type() core.ProviderType {
	return core.ProviderClaude
}

// ChatCompletion sends a chat request to the Claude API.
func (p *Provider) ChatCompletion(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	system := make([]string, 0, 1)
	if req.SystemPrompt != "" {
		system = append(system, req.SystemPrompt)
	}

	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case core.RoleSystem:
			// Messages API only takes system text at the top level
			system = append(system, m.Content)
		case core.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	model := req.ModelFor(p.model)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(req.MaxTokensOr(llm.DefaultMaxTokens)),
		Messages:  messages,
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{
			{Text: strings.Join(system, "\n\n")},
		}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.wrap(err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	if resp.Model != "" {
		model = string(resp.Model)
	}

	in, out := int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens)
	return &llm.ChatResponse{
		Content: content.String(),
		Model:   model,
		Usage: llm.Usage{
			InputTokens:  in,
			OutputTokens: out,
			TotalTokens:  in + out,
		},
		FinishReason: string(resp.StopReason),
	}, nil
}

// ListModels returns the first page of models available to the key.
func (p *Provider) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	page, err := p.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return nil, p.wrap(err)
	}
	models := make([]llm.ModelInfo, 0, len(page.Data))
	for _, m := range page.Data {
		models = append(models, llm.ModelInfo{ID: m.ID, DisplayName: m.DisplayName, Provider: p.name})
	}
	return models, nil
}

// HealthCheck asks for a single model, enough to prove the key works.
func (p *Provider) HealthCheck(ctx context.Context) error {
	_, err := p.client.Models.List(ctx, anthropic.ModelListParams{Limit: anthropic.Int(1)})
	if err != nil {
		return p.wrap(err)
	}
	return nil
}

func (p *Provider) wrap(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return llm.NewStatusError(p.name, apiErr.StatusCode, "", err)
	}
	return fmt.Errorf("claude API error: %w", err)
}
