// Package compat talks to any server exposing the OpenAI chat completion
// schema under a custom base URL (LM Studio, vLLM, OpenRouter, DeepSeek).
package compat

import (
	"context"
	"errors"
	"fmt"

	"github.com/newthinker/switchboard/internal/core"
	"github.com/newthinker/switchboard/internal/llm"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// Provider implements the LLM interface for OpenAI-compatible servers.
type Provider struct {
	client openai.Client
	name   string
	model  string
}

// New creates a provider for the server at opts.BaseURL.
func New(opts llm.Options) (*Provider, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("base URL required")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("model required")
	}

	reqOpts := []option.RequestOption{
		option.WithBaseURL(opts.BaseURL),
		// Set explicitly so OPENAI_API_KEY never leaks to third-party hosts
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	return &Provider{
		client: openai.NewClient(reqOpts...),
		name:   opts.NameOr(string(core.ProviderOpenAICompatible)),
		model:  opts.Model,
	}, nil
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Type() core.ProviderType {
	return core.ProviderOpenAICompatible
}

func (p *Provider) ChatCompletion(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case core.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case core.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	model := req.ModelFor(p.model)
	params := openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(model),
		Messages:  messages,
		MaxTokens: openai.Int(int64(req.MaxTokensOr(llm.DefaultMaxTokens))),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.JSONMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, p.wrap(err)
	}

	out := &llm.ChatResponse{
		Model: model,
		Usage: llm.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
	}
	if resp.Model != "" {
		out.Model = resp.Model
	}
	if len(resp.Choices) > 0 {
		out.Content = resp.Choices[0].Message.Content
		out.FinishReason = resp.Choices[0].FinishReason
	}
	return out, nil
}

func (p *Provider) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	page, err := p.client.Models.List(ctx)
	if err != nil {
		return nil, p.wrap(err)
	}
	models := make([]llm.ModelInfo, 0, len(page.Data))
	for _, m := range page.Data {
		models = append(models, llm.ModelInfo{ID: m.ID, Provider: p.name})
	}
	return models, nil
}

// HealthCheck lists models; every compatible server implements /models.
func (p *Provider) HealthCheck(ctx context.Context) error {
	_, err := p.ListModels(ctx)
	return err
}

func (p *Provider) wrap(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return llm.NewStatusError(p.name, apiErr.StatusCode, apiErr.Message, err)
	}
	return fmt.Errorf("%s API error: %w", p.name, err)
}
