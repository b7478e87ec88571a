// Package usage accumulates request, token and cost counters per provider
// and per model.
package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/newthinker/switchboard/internal/catalog"
	"github.com/newthinker/switchboard/internal/core"
	"github.com/newthinker/switchboard/internal/dispatch"
	"github.com/newthinker/switchboard/internal/storage/archive"
	"go.uber.org/zap"
)

// DefaultSnapshotKey is where Flush writes when no key is configured.
const DefaultSnapshotKey = "usage/usage.json"

// Counters are the running totals for one provider, one model, or overall.
type Counters struct {
	Requests     int     `json:"requests"`
	Successes    int     `json:"successes"`
	Failures     int     `json:"failures"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	Cost         float64 `json:"cost"`
	ListCost     float64 `json:"list_cost"`
}

// FailureRate is failures over requests, 0 with no requests.
func (c Counters) FailureRate() float64 {
	if c.Requests == 0 {
		return 0
	}
	return float64(c.Failures) / float64(c.Requests)
}

func (c *Counters) merge(o Counters) {
	c.Requests += o.Requests
	c.Successes += o.Successes
	c.Failures += o.Failures
	c.InputTokens += o.InputTokens
	c.OutputTokens += o.OutputTokens
	c.TotalTokens += o.TotalTokens
	c.Cost += o.Cost
	c.ListCost += o.ListCost
}

// Dispatches counts whole dispatch calls rather than attempts.
type Dispatches struct {
	Total      int `json:"total"`
	Failed     int `json:"failed"`
	FailedOver int `json:"failed_over"`
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	Since      time.Time           `json:"since"`
	UpdatedAt  time.Time           `json:"updated_at"`
	Total      Counters            `json:"total"`
	Dispatches Dispatches          `json:"dispatches"`
	Providers  map[string]Counters `json:"providers"`
	Models     map[string]Counters `json:"models"` // keyed by provider/model
}

// ProviderNames returns the provider keys sorted.
func (s Snapshot) ProviderNames() []string {
	names := make([]string, 0, len(s.Providers))
	for name := range s.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ModelKey joins a provider and model name into a Snapshot.Models key.
func ModelKey(provider, model string) string {
	return provider + "/" + model
}

// Tracker is a dispatch observer that keeps usage counters in memory.
// It is safe for concurrent use.
type Tracker struct {
	mu         sync.Mutex
	providers  map[string]*Counters
	models     map[string]*Counters
	dispatches Dispatches
	since      time.Time
	updatedAt  time.Time

	// changes counts mutations; written is the value of changes captured
	// by the last successful write or load.
	changes uint64
	written uint64

	catalog *catalog.Catalog
	store   archive.Storage
	key     string
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithCatalog enables list-price costing from per-1K model prices.
func WithCatalog(c *catalog.Catalog) Option {
	return func(t *Tracker) { t.catalog = c }
}

// WithStorage sets where Flush and Load keep the JSON snapshot.
func WithStorage(s archive.Storage, key string) Option {
	return func(t *Tracker) {
		t.store = s
		if key != "" {
			t.key = key
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		providers: make(map[string]*Counters),
		models:    make(map[string]*Counters),
		key:       DefaultSnapshotKey,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.since = t.now()
	return t
}

// OnAttempt counts one provider attempt.
func (t *Tracker) OnAttempt(a dispatch.Attempt) {
	c := Counters{Requests: 1}
	if a.Succeeded() {
		c.Successes = 1
		c.InputTokens = a.Usage.InputTokens
		c.OutputTokens = a.Usage.OutputTokens
		c.TotalTokens = a.Usage.Total()
		c.Cost = a.Cost
		if t.catalog != nil {
			if lc, ok := t.catalog.ListPrice(a.ProviderType, a.Model, a.Usage.InputTokens, a.Usage.OutputTokens); ok {
				c.ListCost = lc
			}
		}
	} else {
		c.Failures = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	counter(t.providers, a.Provider).merge(c)
	if a.Model != "" {
		counter(t.models, ModelKey(a.Provider, a.Model)).merge(c)
	}
	t.updatedAt = t.now()
	t.changes++
}

// OnComplete counts the dispatch as a whole.
func (t *Tracker) OnComplete(o dispatch.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dispatches.Total++
	switch {
	case !o.Succeeded():
		t.dispatches.Failed++
	case o.Result.FailedOver():
		t.dispatches.FailedOver++
	}
	t.updatedAt = t.now()
	t.changes++
}

func counter(m map[string]*Counters, key string) *Counters {
	c, ok := m[key]
	if !ok {
		c = &Counters{}
		m[key] = c
	}
	return c
}

// Snapshot returns a copy of all counters with totals.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	s := Snapshot{
		Since:      t.since,
		UpdatedAt:  t.updatedAt,
		Dispatches: t.dispatches,
		Providers:  make(map[string]Counters, len(t.providers)),
		Models:     make(map[string]Counters, len(t.models)),
	}
	for name, c := range t.providers {
		s.Providers[name] = *c
		s.Total.merge(*c)
	}
	for name, c := range t.models {
		s.Models[name] = *c
	}
	return s
}

// Provider returns the counters of one provider.
func (t *Tracker) Provider(name string) (Counters, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.providers[name]
	if !ok {
		return Counters{}, false
	}
	return *c, true
}

// Reset clears every counter.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.providers = make(map[string]*Counters)
	t.models = make(map[string]*Counters)
	t.dispatches = Dispatches{}
	t.since = t.now()
	t.updatedAt = time.Time{}
	t.changes++
}

// Clear zeroes every counter and removes the stored snapshot. It reports
// whether a snapshot had been stored.
func (t *Tracker) Clear(ctx context.Context) (bool, error) {
	t.Reset()
	if t.store == nil {
		return false, nil
	}
	t.mu.Lock()
	version := t.changes
	t.mu.Unlock()

	stored, err := t.store.Exists(ctx, t.key)
	if err != nil {
		return false, fmt.Errorf("checking usage snapshot: %w", err)
	}
	if stored {
		if err := t.store.Delete(ctx, t.key); err != nil && !errors.Is(err, core.ErrNotFound) {
			return false, fmt.Errorf("deleting usage snapshot: %w", err)
		}
	}

	t.mu.Lock()
	if version > t.written {
		t.written = version
	}
	t.mu.Unlock()
	t.logger.Info("usage cleared", zap.String("key", t.key), zap.Bool("deleted", stored))
	return stored, nil
}

// Metrics flattens the counters for alert rules. Keys are total_cost,
// total_list_cost, total_tokens, requests, failures, failure_rate,
// dispatches, dispatch_failures, failovers, plus provider.<name>.requests,
// provider.<name>.failures, provider.<name>.failure_rate, provider.<name>.cost
// and provider.<name>.tokens.
func (t *Tracker) Metrics() map[string]float64 {
	s := t.Snapshot()
	m := map[string]float64{
		"total_cost":        s.Total.Cost,
		"total_list_cost":   s.Total.ListCost,
		"total_tokens":      float64(s.Total.TotalTokens),
		"requests":          float64(s.Total.Requests),
		"failures":          float64(s.Total.Failures),
		"failure_rate":      s.Total.FailureRate(),
		"dispatches":        float64(s.Dispatches.Total),
		"dispatch_failures": float64(s.Dispatches.Failed),
		"failovers":         float64(s.Dispatches.FailedOver),
	}
	for name, c := range s.Providers {
		prefix := "provider." + name + "."
		m[prefix+"requests"] = float64(c.Requests)
		m[prefix+"failures"] = float64(c.Failures)
		m[prefix+"failure_rate"] = c.FailureRate()
		m[prefix+"cost"] = c.Cost
		m[prefix+"tokens"] = float64(c.TotalTokens)
	}
	return m
}

// Persistent reports whether Flush has somewhere to write.
func (t *Tracker) Persistent() bool {
	return t.store != nil
}

// Key returns the storage key of the snapshot.
func (t *Tracker) Key() string {
	return t.key
}

// Pending reports whether counters changed since the last write or load.
func (t *Tracker) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.changes != t.written
}

// Flush writes the snapshot as indented JSON to the configured storage.
func (t *Tracker) Flush(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	t.mu.Lock()
	snap, version := t.snapshotLocked(), t.changes
	t.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding usage snapshot: %w", err)
	}
	if err := t.store.Write(ctx, t.key, data); err != nil {
		return fmt.Errorf("writing usage snapshot: %w", err)
	}

	t.mu.Lock()
	if version > t.written {
		t.written = version
	}
	t.mu.Unlock()
	t.logger.Debug("usage flushed", zap.String("key", t.key), zap.Int("bytes", len(data)))
	return nil
}

// FlushPending flushes only when counters changed since the last write or
// load, so a process that served nothing never overwrites the stored
// snapshot.
func (t *Tracker) FlushPending(ctx context.Context) error {
	if !t.Pending() {
		return nil
	}
	return t.Flush(ctx)
}

// Load restores counters from the stored snapshot. A missing snapshot
// leaves the tracker empty.
func (t *Tracker) Load(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	data, err := t.store.Read(ctx, t.key)
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading usage snapshot: %w", err)
	}

	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decoding usage snapshot %s: %w", t.key, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.providers = make(map[string]*Counters, len(s.Providers))
	for name, c := range s.Providers {
		c := c
		t.providers[name] = &c
	}
	t.models = make(map[string]*Counters, len(s.Models))
	for name, c := range s.Models {
		c := c
		t.models[name] = &c
	}
	t.dispatches = s.Dispatches
	if !s.Since.IsZero() {
		t.since = s.Since
	}
	t.updatedAt = s.UpdatedAt
	t.written = t.changes
	t.logger.Info("usage restored",
		zap.String("key", t.key), zap.Int("providers", len(s.Providers)))
	return nil
}

// RunFlusher flushes pending changes every interval until ctx is done,
// then once more.
func (t *Tracker) RunFlusher(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("flush interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := t.FlushPending(final); err != nil {
				t.logger.Error("final usage flush failed", zap.Error(err))
			}
			cancel()
			return ctx.Err()
		case <-ticker.C:
			if err := t.FlushPending(ctx); err != nil {
				t.logger.Warn("usage flush failed", zap.Error(err))
			}
		}
	}
}
