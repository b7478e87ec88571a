// internal/llm/mock/mock.go
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/newthinker/switchboard/internal/core"
	"github.com/newthinker/switchboard/internal/llm"
)

// Provider is a scripted llm.Provider for tests.
type Provider struct {
	mu          sync.Mutex
	name        string
	typ         core.ProviderType
	response    llm.ChatResponse
	chatErr     error
	healthErr   error
	delay       time.Duration
	chatCalls   int
	healthCalls int
	lastRequest llm.ChatRequest
}

// New creates a mock that answers every request successfully.
func New(name string) *Provider {
	return &Provider{
		name: name,
		typ:  core.ProviderOpenAICompatible,
		response: llm.ChatResponse{
			Content:      fmt.Sprintf("response from %s", name),
			Model:        "mock-model",
			Usage:        llm.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
			FinishReason: "stop",
		},
	}
}

// WithType sets the reported provider variant.
func (p *Provider) WithType(t core.ProviderType) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.typ = t
	return p
}

// WithResponse replaces the canned response.
func (p *Provider) WithResponse(resp llm.ChatResponse) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.response = resp
	return p
}

// WithTokens sets the usage reported by the canned response.
func (p *Provider) WithTokens(input, output int) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.response.Usage = llm.Usage{InputTokens: input, OutputTokens: output, TotalTokens: input + output}
	return p
}

// FailWith makes ChatCompletion return err.
func (p *Provider) FailWith(err error) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chatErr = err
	return p
}

// FailHealth makes HealthCheck return err.
func (p *Provider) FailHealth(err error) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthErr = err
	return p
}

// WithDelay makes ChatCompletion block for d or until ctx is done.
func (p *Provider) WithDelay(d time.Duration) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
	return p
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Type() core.ProviderType {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.typ
}

// ChatCompletion returns the scripted result.
func (p *Provider) ChatCompletion(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	p.mu.Lock()
	p.chatCalls++
	p.lastRequest = req
	delay, chatErr, resp := p.delay, p.chatErr, p.response
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if chatErr != nil {
		return nil, chatErr
	}
	if req.Model != "" {
		resp.Model = req.Model
	}
	return &resp, nil
}

// ListModels returns the canned model.
func (p *Provider) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	if err := p.HealthCheck(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return []llm.ModelInfo{{ID: p.response.Model, Provider: p.name}}, nil
}

// HealthCheck returns the scripted health error.
func (p *Provider) HealthCheck(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthCalls++
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.healthErr
}

// ChatCalls returns how many times ChatCompletion ran.
func (p *Provider) ChatCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chatCalls
}

// HealthCalls returns how many times HealthCheck ran.
func (p *Provider) HealthCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthCalls
}

// LastRequest returns the most recent request seen.
func (p *Provider) LastRequest() llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRequest
}
