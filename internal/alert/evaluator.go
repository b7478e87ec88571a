// Package alert evaluates threshold rules over usage metrics.
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/newthinker/switchboard/internal/notifier"
	"go.uber.org/zap"
)

// DefaultCooldown is the minimum gap between two firings of one rule.
const DefaultCooldown = 5 * time.Minute

// Publisher delivers fired alerts. Rules firing in the same pass arrive
// through PublishBatch.
type Publisher interface {
	Publish(e notifier.Event)
	PublishBatch(events []notifier.Event)
}

// Evaluator evaluates alert rules and publishes an alert event when one fires.
type Evaluator struct {
	publisher Publisher
	logger    *zap.Logger
	metrics   map[string]float64
	cooldown  time.Duration

	// rules waiting out their "for" duration
	pending map[string]time.Time
	// last firing per rule, for cooldown
	lastFired map[string]time.Time

	now func() time.Time

	mu sync.RWMutex
}

// NewEvaluator creates a new alert evaluator.
func NewEvaluator(publisher Publisher, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		publisher: publisher,
		logger:    logger,
		metrics:   make(map[string]float64),
		cooldown:  DefaultCooldown,
		pending:   make(map[string]time.Time),
		lastFired: make(map[string]time.Time),
		now:       time.Now,
	}
}

// SetMetrics updates the current metrics.
func (e *Evaluator) SetMetrics(metrics map[string]float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = metrics
}

// SetCooldown sets the minimum gap between two firings of one rule.
// Non-positive values keep the current cooldown.
func (e *Evaluator) SetCooldown(d time.Duration) {
	if d <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cooldown = d
}

// Evaluate evaluates a single rule and publishes an event if it fires.
// It reports whether the rule fired.
func (e *Evaluator) Evaluate(rule Rule) bool {
	event, fired := e.fire(rule)
	if fired && e.publisher != nil {
		e.publisher.Publish(event)
	}
	return fired
}

// EvaluateAll evaluates all rules, publishes the fired ones as one batch
// and returns how many fired.
func (e *Evaluator) EvaluateAll(rules []Rule) int {
	var events []notifier.Event
	for _, rule := range rules {
		if event, fired := e.fire(rule); fired {
			events = append(events, event)
		}
	}
	if e.publisher != nil {
		switch len(events) {
		case 0:
		case 1:
			e.publisher.Publish(events[0])
		default:
			e.publisher.PublishBatch(events)
		}
	}
	return len(events)
}

// fire applies the pending and cooldown windows to rule and builds its
// event when it fires.
func (e *Evaluator) fire(rule Rule) (notifier.Event, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()

	if !rule.Evaluate(e.metrics) {
		delete(e.pending, rule.Name)
		return notifier.Event{}, false
	}

	if rule.For > 0 {
		pendingSince, isPending := e.pending[rule.Name]
		if !isPending {
			e.pending[rule.Name] = now
			return notifier.Event{}, false
		}
		if now.Sub(pendingSince) < rule.For {
			return notifier.Event{}, false
		}
	}

	if last, ok := e.lastFired[rule.Name]; ok && now.Sub(last) < e.cooldown {
		return notifier.Event{}, false
	}

	e.lastFired[rule.Name] = now
	delete(e.pending, rule.Name)

	event := notifier.Event{
		Type:     notifier.EventAlert,
		Severity: rule.Severity,
		Title:    rule.Name,
		Message:  rule.FormatMessage(e.metrics),
		Fields:   map[string]any{"expr": rule.Expr},
		At:       now,
	}
	if metric := rule.Metric(); metric != "" {
		event.Fields["value"] = e.metrics[metric]
	}

	e.logger.Warn("alert fired",
		zap.String("rule", rule.Name),
		zap.String("severity", rule.Severity),
		zap.String("expr", rule.Expr))
	return event, true
}

// Run pulls metrics from source and evaluates rules every interval until
// ctx is cancelled.
func (e *Evaluator) Run(ctx context.Context, rules []Rule, source func() map[string]float64, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("alert check interval must be positive, got %s", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("alert evaluator started",
		zap.Int("rules", len(rules)), zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.SetMetrics(source())
			e.EvaluateAll(rules)
		}
	}
}

// advanceTime is for testing - advances the internal clock.
func (e *Evaluator) advanceTime(d time.Duration) {
	oldNow := e.now
	e.now = func() time.Time {
		return oldNow().Add(d)
	}
}
