package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/newthinker/switchboard/internal/core"
)

// Provider defines the capability interface every backend variant implements
type Provider interface {
	Name() string
	Type() core.ProviderType
	ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	ListModels(ctx context.Context) ([]ModelInfo, error)
	HealthCheck(ctx context.Context) error
}

// Options carries the settings shared by all provider constructors.
type Options struct {
	Name       string
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// NameOr returns the configured name, or fallback when none was given.
func (o Options) NameOr(fallback string) string {
	if o.Name != "" {
		return o.Name
	}
	return fallback
}

// ChatRequest holds the request parameters
type ChatRequest struct {
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Messages     []Message `json:"messages"`
	Model        string    `json:"model,omitempty"` // overrides the provider default
	MaxTokens    int       `json:"max_tokens,omitempty"`
	Temperature  float64   `json:"temperature,omitempty"`
	JSONMode     bool      `json:"json_mode,omitempty"`
}

// Validate rejects requests no provider could serve.
func (r ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return core.WrapError(core.ErrInvalidRequest, fmt.Errorf("at least one message required"))
	}
	for i, m := range r.Messages {
		switch m.Role {
		case core.RoleUser, core.RoleAssistant, core.RoleSystem:
		default:
			return core.WrapError(core.ErrInvalidRequest, fmt.Errorf("message %d: unknown role %q", i, m.Role))
		}
		if strings.TrimSpace(m.Content) == "" {
			return core.WrapError(core.ErrInvalidRequest, fmt.Errorf("message %d: empty content", i))
		}
	}
	if r.MaxTokens < 0 {
		return core.WrapError(core.ErrInvalidRequest, fmt.Errorf("max_tokens cannot be negative"))
	}
	return nil
}

// ModelFor picks the request override or the provider default.
func (r ChatRequest) ModelFor(defaultModel string) string {
	if r.Model != "" {
		return r.Model
	}
	return defaultModel
}

// MaxTokensOr returns the requested limit or fallback when unset.
func (r ChatRequest) MaxTokensOr(fallback int) int {
	if r.MaxTokens > 0 {
		return r.MaxTokens
	}
	return fallback
}

// Message represents a chat message
type Message struct {
	Role    core.Role `json:"role"`
	Content string    `json:"content"`
}

// ChatResponse holds the response from the LLM
type ChatResponse struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	Usage        Usage  `json:"usage"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Usage tracks token consumption
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Total returns the reported total, or input plus output when the
// provider left it out.
func (u Usage) Total() int {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.InputTokens + u.OutputTokens
}

// ModelInfo is one entry returned by ListModels.
type ModelInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Provider    string `json:"provider"`
}

// DefaultMaxTokens is used when neither the request nor config sets a limit.
const DefaultMaxTokens = 1024
