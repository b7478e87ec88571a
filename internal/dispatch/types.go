package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/newthinker/switchboard/internal/config"
	"github.com/newthinker/switchboard/internal/core"
	"github.com/newthinker/switchboard/internal/llm"
)

// Entry pairs a provider's configuration with its client.
type Entry struct {
	Config   config.ProviderConfig
	Provider llm.Provider
}

// Stage is the step of an attempt that produced its outcome.
type Stage string

const (
	StageHealth Stage = "health"
	StageChat   Stage = "chat"
)

// Attempt records one provider tried during a dispatch.
type Attempt struct {
	DispatchID   string            `json:"dispatch_id"`
	Provider     string            `json:"provider"`
	ProviderType core.ProviderType `json:"provider_type"`
	Priority     int               `json:"priority"`
	Model        string            `json:"model,omitempty"`
	Stage        Stage             `json:"stage"`
	Kind         string            `json:"kind,omitempty"`
	Error        string            `json:"error,omitempty"`
	Latency      time.Duration     `json:"latency"`
	Usage        llm.Usage         `json:"usage"`
	Cost         float64           `json:"cost"`
	At           time.Time         `json:"at"`

	Err error `json:"-"`
}

// Succeeded reports whether this attempt served the request.
func (a Attempt) Succeeded() bool {
	return a.Err == nil
}

// Result is a successful dispatch, annotated with the provider that served it.
type Result struct {
	DispatchID   string            `json:"dispatch_id"`
	Response     *llm.ChatResponse `json:"response"`
	ProviderUsed string            `json:"provider_used"`
	ProviderType core.ProviderType `json:"provider_type"`
	Model        string            `json:"model"`
	TokensUsed   int               `json:"tokens_used"`
	Cost         float64           `json:"cost"`
	Attempts     []Attempt         `json:"attempts"`
	Duration     time.Duration     `json:"duration"`
}

// FailedOver reports whether at least one provider failed before success.
func (r *Result) FailedOver() bool {
	return len(r.Attempts) > 1
}

// Outcome is what observers receive when a dispatch finishes.
type Outcome struct {
	DispatchID string
	Result     *Result
	Err        error
	Attempts   []Attempt
	Duration   time.Duration
}

// Succeeded reports whether a provider served the request.
func (o Outcome) Succeeded() bool {
	return o.Err == nil && o.Result != nil
}

// Failure is one provider's reason for not serving a request.
type Failure struct {
	Provider string
	Err      error
}

// AggregateError lists every attempted provider and why it failed.
type AggregateError struct {
	Failures []Failure
}

func (e *AggregateError) Error() string {
	if len(e.Failures) == 0 {
		return "no providers attempted"
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Provider, f.Err))
	}
	return strings.Join(parts, "; ")
}

// Unwrap exposes each provider failure to errors.Is and errors.As.
func (e *AggregateError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Failures extracts the per-provider failures from a dispatch error.
func Failures(err error) []Failure {
	var agg *AggregateError
	if errors.As(err, &agg) {
		return agg.Failures
	}
	return nil
}

// Observer is notified of dispatch progress. Calls happen synchronously on
// the dispatching goroutine, so implementations must not block.
type Observer interface {
	OnAttempt(a Attempt)
	OnComplete(o Outcome)
}

// Prober runs the optional pre-dispatch health probe.
type Prober interface {
	Probe(ctx context.Context, p llm.Provider) error
}
