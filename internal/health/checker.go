// Package health answers whether a provider is currently reachable.
package health

import (
	"context"
	"time"

	"github.com/newthinker/switchboard/internal/core"
	"github.com/newthinker/switchboard/internal/dispatch"
	"github.com/newthinker/switchboard/internal/llm"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a single health check.
const DefaultTimeout = 5 * time.Second

// Status is the result of checking one provider.
type Status struct {
	Provider  string            `json:"provider"`
	Type      core.ProviderType `json:"type"`
	Enabled   bool              `json:"enabled"`
	Healthy   bool              `json:"healthy"`
	Latency   time.Duration     `json:"latency"`
	Error     string            `json:"error,omitempty"`
	CheckedAt time.Time         `json:"checked_at"`
}

// Checker runs provider health checks under a fixed timeout.
type Checker struct {
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewChecker creates a checker. A non-positive timeout uses DefaultTimeout.
func NewChecker(timeout time.Duration, logger *zap.Logger) *Checker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{timeout: timeout, logger: logger, now: time.Now}
}

// Timeout returns the per-check limit.
func (c *Checker) Timeout() time.Duration {
	return c.timeout
}

// Healthy reports whether p answered its health check in time. Any error,
// including the timeout, counts as unhealthy.
func (c *Checker) Healthy(ctx context.Context, p llm.Provider) bool {
	return c.Probe(ctx, p) == nil
}

// Probe runs p's health check and returns why it failed. It satisfies
// dispatch.Prober.
func (c *Checker) Probe(ctx context.Context, p llm.Provider) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := p.HealthCheck(ctx)
	if err != nil {
		c.logger.Debug("health check failed",
			zap.String("provider", p.Name()), zap.Error(err))
	}
	return err
}

// Check probes one provider and records the outcome.
func (c *Checker) Check(ctx context.Context, e dispatch.Entry) Status {
	st := Status{
		Provider: e.Config.Name,
		Type:     e.Provider.Type(),
		Enabled:  e.Config.Enabled,
	}
	start := c.now()
	err := c.Probe(ctx, e.Provider)
	st.Latency = c.now().Sub(start)
	st.CheckedAt = c.now()
	if err != nil {
		st.Error = core.Classify(err).Error()
		return st
	}
	st.Healthy = true
	return st
}

// CheckAll probes every entry sequentially, in the order given. Disabled
// providers are still checked so operators can see them.
func (c *Checker) CheckAll(ctx context.Context, entries []dispatch.Entry) []Status {
	out := make([]Status, 0, len(entries))
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		out = append(out, c.Check(ctx, e))
	}
	return out
}
