// internal/llm/ollama/ollama.go
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/newthinker/switchboard/internal/core"
	"github.com/newthinker/switchboard/internal/llm"
)

const (
	defaultEndpoint = "http://localhost:11434"
	defaultModel    = "qwen2.5-coder:7b"
)

// Provider implements the LLM interface for Ollama.
type Provider struct {
	endpoint string
	apiKey   string
	name     string
	model    string
	client   *http.Client
}

// New creates a new Ollama provider. The API key is optional and only
// sent when Ollama sits behind an authenticating proxy.
func New(opts llm.Options) (*Provider, error) {
	endpoint := strings.TrimRight(opts.BaseURL, "/")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	model := opts.Model
	if model == "" {
		model = defaultModel
	}
	client := opts.HTTPClient
	if client == nil {
		// Deadlines come from the caller's context
		client = &http.Client{}
	}
	return &Provider{
		endpoint: endpoint,
		apiKey:   opts.APIKey,
		name:     opts.NameOr(string(core.ProviderOllama)),
		model:    model,
		client:   client,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return p.name
}

// Type returns the provider variant.
func (p *Provider) Type() core.ProviderType {
	return core.ProviderOllama
}

// ollamaRequest represents the request to Ollama API.
type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options,omitempty"`
	Format   string          `json:"format,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// ollamaResponse represents the response from Ollama API.
type ollamaResponse struct {
	Model           string        `json:"model"`
	CreatedAt       string        `json:"created_at"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
}

type tagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ChatCompletion sends a chat request to the Ollama API.
func (p *Provider) ChatCompletion(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	messages := make([]ollamaMessage, 0, len(req.Messages)+1)

	// Add system prompt as first message if provided
	if req.SystemPrompt != "" {
		messages = append(messages, ollamaMessage{
			Role:    string(core.RoleSystem),
			Content: req.SystemPrompt,
		})
	}

	for _, m := range req.Messages {
		messages = append(messages, ollamaMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	model := req.ModelFor(p.model)
	ollamaReq := ollamaRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
		Options: ollamaOptions{
			NumPredict:  req.MaxTokensOr(llm.DefaultMaxTokens),
			Temperature: req.Temperature,
		},
	}

	if req.JSONMode {
		ollamaReq.Format = "json"
	}

	body, err := json.Marshal(ollamaReq)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	var ollamaResp ollamaResponse
	if err := p.do(ctx, http.MethodPost, "/api/chat", bytes.NewReader(body), &ollamaResp); err != nil {
		return nil, err
	}

	if ollamaResp.Model != "" {
		model = ollamaResp.Model
	}
	return &llm.ChatResponse{
		Content: ollamaResp.Message.Content,
		Model:   model,
		Usage: llm.Usage{
			InputTokens:  ollamaResp.PromptEvalCount,
			OutputTokens: ollamaResp.EvalCount,
			TotalTokens:  ollamaResp.PromptEvalCount + ollamaResp.EvalCount,
		},
		FinishReason: ollamaResp.DoneReason,
	}, nil
}

// ListModels returns the locally pulled models.
func (p *Provider) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	var tags tagsResponse
	if err := p.do(ctx, http.MethodGet, "/api/tags", nil, &tags); err != nil {
		return nil, err
	}
	models := make([]llm.ModelInfo, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, llm.ModelInfo{ID: m.Name, Provider: p.name})
	}
	return models, nil
}

// HealthCheck pings the tags endpoint.
func (p *Provider) HealthCheck(ctx context.Context) error {
	_, err := p.ListModels(ctx)
	return err
}

func (p *Provider) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, method, p.endpoint+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ollama API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := string(raw)
		var apiErr errorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return llm.NewStatusError(p.name, resp.StatusCode, msg, nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
