// internal/llm/openai/openai.go
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/newthinker/switchboard/internal/core"
	"github.com/newthinker/switchboard/internal/llm"
	"github.com/sashabaranov/go-openai"
)

const defaultModel = "gpt-4o"

// Provider implements the LLM interface for OpenAI.
type Provider struct {
	client *openai.Client
	name   string
	model  string
}

// New creates a new OpenAI provider.
func New(opts llm.Options) (*Provider, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("API key required")
	}
	model := opts.Model
	if model == "" {
		model = defaultModel
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}

	return &Provider{
		client: openai.NewClientWithConfig(cfg),
		name:   opts.NameOr(string(core.ProviderOpenAI)),
		model:  model,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return p.name
}

// Type returns the provider variant.
func (p *Provider) Type() core.ProviderType {
	return core.ProviderOpenAI
}

// ChatCompletion sends a chat request to the OpenAI API.
func (p *Provider) ChatCompletion(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)

	// Add system prompt as first message if provided
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}

	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case core.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case core.RoleSystem:
			role = openai.ChatMessageRoleSystem
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: m.Content,
		})
	}

	model := req.ModelFor(p.model)
	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokensOr(llm.DefaultMaxTokens),
		Temperature: float32(req.Temperature),
	}

	if req.JSONMode {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, p.wrap(err)
	}

	content := ""
	finishReason := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
		finishReason = string(resp.Choices[0].FinishReason)
	}
	if resp.Model != "" {
		model = resp.Model
	}

	return &llm.ChatResponse{
		Content: content,
		Model:   model,
		Usage: llm.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
		FinishReason: finishReason,
	}, nil
}

// ListModels returns the models visible to the API key.
func (p *Provider) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	list, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, p.wrap(err)
	}
	models := make([]llm.ModelInfo, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(models, llm.ModelInfo{ID: m.ID, Provider: p.name})
	}
	return models, nil
}

// HealthCheck lists models, the cheapest authenticated call.
func (p *Provider) HealthCheck(ctx context.Context) error {
	_, err := p.ListModels(ctx)
	return err
}

func (p *Provider) wrap(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return llm.NewStatusError(p.name, apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return llm.NewStatusError(p.name, reqErr.HTTPStatusCode, string(reqErr.Body), err)
	}
	return fmt.Errorf("openai API error: %w", err)
}
