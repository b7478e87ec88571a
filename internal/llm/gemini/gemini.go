package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/newthinker/switchboard/internal/core"
	"github.com/newthinker/switchboard/internal/llm"
	"google.golang.org/genai"
)

const defaultModel = "gemini-2.0-flash"

// Provider implements the LLM interface for Google Gemini.
type Provider struct {
	client *genai.Client
	name   string
	model  string
}

// New creates a Gemini API provider.
func New(opts llm.Options) (*Provider, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("API key required")
	}
	model := opts.Model
	if model == "" {
		model = defaultModel
	}

	cc := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}

	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Provider{
		client: client,
		name:   opts.NameOr(string(core.ProviderGemini)),
		model:  model,
	}, nil
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Type() core.ProviderType {
	return core.ProviderGemini
}

// ChatCompletion maps the conversation onto GenerateContent. Assistant
// turns become "model" turns and system messages join the system
// instruction.
func (p *Provider) ChatCompletion(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	var system []string
	if req.SystemPrompt != "" {
		system = append(system, req.SystemPrompt)
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case core.RoleSystem:
			system = append(system, m.Content)
		case core.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	gc := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.MaxTokensOr(llm.DefaultMaxTokens)),
	}
	if len(system) > 0 {
		gc.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	if req.Temperature > 0 {
		gc.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.JSONMode {
		gc.ResponseMIMEType = "application/json"
	}

	model := req.ModelFor(p.model)
	resp, err := p.client.Models.GenerateContent(ctx, model, contents, gc)
	if err != nil {
		return nil, p.wrap(err)
	}

	out := &llm.ChatResponse{
		Content: resp.Text(),
		Model:   model,
	}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if len(resp.Candidates) > 0 {
		out.FinishReason = string(resp.Candidates[0].FinishReason)
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = llm.Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			TotalTokens:  int(u.TotalTokenCount),
		}
	}
	return out, nil
}

// ListModels returns the first page of models.
func (p *Provider) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	return p.list(ctx, 0)
}

// HealthCheck fetches a single model entry.
func (p *Provider) HealthCheck(ctx context.Context) error {
	_, err := p.list(ctx, 1)
	return err
}

func (p *Provider) list(ctx context.Context, pageSize int32) ([]llm.ModelInfo, error) {
	page, err := p.client.Models.List(ctx, &genai.ListModelsConfig{PageSize: pageSize})
	if err != nil {
		return nil, p.wrap(err)
	}
	models := make([]llm.ModelInfo, 0, len(page.Items))
	for _, m := range page.Items {
		models = append(models, llm.ModelInfo{
			ID:          strings.TrimPrefix(m.Name, "models/"),
			DisplayName: m.DisplayName,
			Provider:    p.name,
		})
	}
	return models, nil
}

func (p *Provider) wrap(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return llm.NewStatusError(p.name, apiErr.Code, apiErr.Message, err)
	}
	return fmt.Errorf("gemini API error: %w", err)
}
