// Package dispatch sends chat requests to the first provider, in priority
// order, that can serve them.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/newthinker/switchboard/internal/catalog"
	"github.com/newthinker/switchboard/internal/core"
	"github.com/newthinker/switchboard/internal/llm"
	"go.uber.org/zap"
)

// Dispatcher walks providers sequentially and returns the first success.
// It never calls two providers at once for the same request.
type Dispatcher struct {
	mu      sync.RWMutex
	entries []Entry

	prober           Prober
	observers        []Observer
	catalog          *catalog.Catalog
	logger           *zap.Logger
	defaultMaxTokens int
	now              func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithProber enables the health probe before each provider's request.
func WithProber(p Prober) Option {
	return func(d *Dispatcher) { d.prober = p }
}

// WithObservers appends observers notified of every attempt and outcome.
func WithObservers(obs ...Observer) Option {
	return func(d *Dispatcher) { d.observers = append(d.observers, obs...) }
}

// WithCatalog enables max-token clamping against known model limits.
func WithCatalog(c *catalog.Catalog) Option {
	return func(d *Dispatcher) { d.catalog = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithDefaultMaxTokens sets the limit used when a request has none.
func WithDefaultMaxTokens(n int) Option {
	return func(d *Dispatcher) { d.defaultMaxTokens = n }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// New creates a dispatcher over entries.
func New(entries []Entry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:           zap.NewNop(),
		defaultMaxTokens: llm.DefaultMaxTokens,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.entries = sortByPriority(entries)
	return d
}

// sortByPriority orders ascending by priority, keeping config order on ties.
func sortByPriority(entries []Entry) []Entry {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Config.Priority < sorted[j].Config.Priority
	})
	return sorted
}

// SetProviders replaces the provider list. Dispatches already running keep
// the list they started with.
func (d *Dispatcher) SetProviders(entries []Entry) {
	sorted := sortByPriority(entries)
	d.mu.Lock()
	d.entries = sorted
	d.mu.Unlock()
}

// Providers returns the providers in dispatch order.
func (d *Dispatcher) Providers() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Entry, len(d.entries))
	copy(out, d.entries)
	return out
}

// Dispatch sends req to providers in priority order until one succeeds.
// Disabled providers are skipped without being recorded. Every failure is
// recorded and the next provider tried, unless ctx is done. When all
// providers fail the error wraps core.ErrAllProvidersFailed around an
// *AggregateError naming each provider and its reason.
func (d *Dispatcher) Dispatch(ctx context.Context, req llm.ChatRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	start := d.now()
	log := d.logger.With(zap.String("dispatch_id", id))

	var (
		attempts []Attempt
		failures []Failure
		enabled  int
	)

	entries := d.Providers()
	for _, e := range entries {
		if !e.Config.Enabled {
			log.Debug("skipping disabled provider", zap.String("provider", e.Config.Name))
			continue
		}
		enabled++

		if err := ctx.Err(); err != nil {
			return nil, d.cancelled(id, start, attempts, failures, err)
		}

		preq := d.prepare(req, e)
		attempt := Attempt{
			DispatchID:   id,
			Provider:     e.Config.Name,
			ProviderType: e.Provider.Type(),
			Priority:     e.Config.Priority,
			Model:        preq.ModelFor(e.Config.Model),
		}

		if d.prober != nil {
			probeStart := d.now()
			if err := d.prober.Probe(ctx, e.Provider); err != nil {
				if ctx.Err() != nil {
					return nil, d.cancelled(id, start, attempts, failures, ctx.Err())
				}
				reason := core.WrapError(core.ErrUnhealthy, core.Classify(err))
				attempt = d.failed(attempt, StageHealth, reason, d.now().Sub(probeStart))
				attempts = append(attempts, attempt)
				failures = append(failures, Failure{Provider: e.Config.Name, Err: reason})
				log.Warn("provider unhealthy, trying next",
					zap.String("provider", e.Config.Name), zap.Error(err))
				continue
			}
		}

		callStart := d.now()
		resp, err := d.call(ctx, e, preq)
		latency := d.now().Sub(callStart)

		if err != nil {
			if ctx.Err() != nil {
				return nil, d.cancelled(id, start, attempts, failures, ctx.Err())
			}
			reason := core.Classify(err)
			attempt = d.failed(attempt, StageChat, reason, latency)
			attempts = append(attempts, attempt)
			failures = append(failures, Failure{Provider: e.Config.Name, Err: reason})
			log.Warn("provider failed, trying next",
				zap.String("provider", e.Config.Name),
				zap.String("kind", reason.Code),
				zap.Duration("latency", latency),
				zap.Error(err))
			continue
		}

		tokens := resp.Usage.Total()
		cost := float64(tokens) * e.Config.CostMultiplier
		if resp.Model != "" {
			attempt.Model = resp.Model
		}
		attempt.Stage = StageChat
		attempt.Latency = latency
		attempt.Usage = resp.Usage
		attempt.Cost = cost
		attempt.At = d.now()
		attempts = append(attempts, attempt)
		d.notifyAttempt(attempt)

		result := &Result{
			DispatchID:   id,
			Response:     resp,
			ProviderUsed: e.Config.Name,
			ProviderType: attempt.ProviderType,
			Model:        attempt.Model,
			TokensUsed:   tokens,
			Cost:         cost,
			Attempts:     attempts,
			Duration:     d.now().Sub(start),
		}
		log.Info("dispatch served",
			zap.String("provider", e.Config.Name),
			zap.String("model", result.Model),
			zap.Int("tokens", tokens),
			zap.Float64("cost", cost),
			zap.Int("attempts", len(attempts)))
		d.notifyComplete(Outcome{DispatchID: id, Result: result, Attempts: attempts, Duration: result.Duration})
		return result, nil
	}

	var err error
	if enabled == 0 {
		err = core.WrapError(core.ErrNoProviders, fmt.Errorf("%d configured, none enabled", len(entries)))
	} else {
		err = core.WrapError(core.ErrAllProvidersFailed, &AggregateError{Failures: failures})
	}
	log.Error("dispatch failed", zap.Int("attempts", len(attempts)), zap.Error(err))
	d.notifyComplete(Outcome{DispatchID: id, Err: err, Attempts: attempts, Duration: d.now().Sub(start)})
	return nil, err
}

// call issues the request under the provider's own timeout.
func (d *Dispatcher) call(ctx context.Context, e Entry, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if e.Config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Config.Timeout)
		defer cancel()
	}
	resp, err := e.Provider.ChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, core.WrapError(core.ErrProviderFailed, errors.New("empty response"))
	}
	return resp, nil
}

// prepare fills the token limit and clamps it to the model's known maximum.
func (d *Dispatcher) prepare(req llm.ChatRequest, e Entry) llm.ChatRequest {
	req.MaxTokens = req.MaxTokensOr(d.defaultMaxTokens)
	if d.catalog == nil {
		return req
	}
	model := req.ModelFor(e.Config.Model)
	if model == "" {
		return req
	}
	if limit := d.catalog.MaxOutputTokens(e.Provider.Type(), model); limit > 0 && req.MaxTokens > limit {
		req.MaxTokens = limit
	}
	return req
}

func (d *Dispatcher) failed(a Attempt, stage Stage, reason *core.Error, latency time.Duration) Attempt {
	a.Stage = stage
	a.Kind = reason.Code
	a.Error = reason.Error()
	a.Err = reason
	a.Latency = latency
	a.At = d.now()
	d.notifyAttempt(a)
	return a
}

func (d *Dispatcher) cancelled(id string, start time.Time, attempts []Attempt, failures []Failure, cause error) error {
	err := core.WrapError(core.ErrCancelled, cause)
	if len(failures) > 0 {
		err = core.WrapError(core.ErrCancelled, errors.Join(cause, &AggregateError{Failures: failures}))
	}
	d.logger.Warn("dispatch cancelled",
		zap.String("dispatch_id", id), zap.Int("attempts", len(attempts)), zap.Error(cause))
	d.notifyComplete(Outcome{DispatchID: id, Err: err, Attempts: attempts, Duration: d.now().Sub(start)})
	return err
}

func (d *Dispatcher) notifyAttempt(a Attempt) {
	for _, o := range d.observers {
		o.OnAttempt(a)
	}
}

func (d *Dispatcher) notifyComplete(o Outcome) {
	for _, obs := range d.observers {
		obs.OnComplete(o)
	}
}
