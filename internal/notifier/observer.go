package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/newthinker/switchboard/internal/core"
	"github.com/newthinker/switchboard/internal/dispatch"
	"go.uber.org/zap"
)

// DefaultSendTimeout bounds one asynchronous fan-out.
const DefaultSendTimeout = 10 * time.Second

// Observer turns dispatch outcomes into failover and dispatch_failed events.
// Sends run in the background so a slow channel never delays a dispatch.
type Observer struct {
	registry *Registry
	logger   *zap.Logger
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewObserver creates a dispatch observer publishing to registry.
func NewObserver(registry *Registry, logger *zap.Logger) *Observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Observer{registry: registry, logger: logger, timeout: DefaultSendTimeout}
}

func (o *Observer) OnAttempt(dispatch.Attempt) {}

// OnComplete publishes an event for failed and failed-over dispatches.
func (o *Observer) OnComplete(out dispatch.Outcome) {
	e, ok := EventFor(out)
	if !ok || o.registry.Len() == 0 {
		return
	}
	o.Publish(e)
}

// Publish fans e out in the background.
func (o *Observer) Publish(e Event) {
	o.send(string(e.Type), func(ctx context.Context) map[string]error {
		return o.registry.NotifyAll(ctx, e)
	})
}

// PublishBatch fans events out in the background, one SendBatch per
// notifier.
func (o *Observer) PublishBatch(events []Event) {
	if len(events) == 0 {
		return
	}
	o.send("batch", func(ctx context.Context) map[string]error {
		return o.registry.NotifyAllBatch(ctx, events)
	})
}

func (o *Observer) send(event string, notify func(ctx context.Context) map[string]error) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
		defer cancel()
		for name, err := range notify(ctx) {
			o.logger.Warn("notification failed",
				zap.String("notifier", name),
				zap.String("event", event),
				zap.Error(err))
		}
	}()
}

// Wait blocks until in-flight sends finish.
func (o *Observer) Wait() {
	o.wg.Wait()
}

// EventFor builds the event for a dispatch outcome. Only failovers and
// dispatches where every provider failed produce one; first-try successes,
// cancellations and rejected requests do not.
func EventFor(out dispatch.Outcome) (Event, bool) {
	at := time.Now()
	if len(out.Attempts) > 0 {
		at = out.Attempts[len(out.Attempts)-1].At
	}

	if !out.Succeeded() {
		if !errors.Is(out.Err, core.ErrAllProvidersFailed) {
			return Event{}, false
		}
		failures := make(map[string]any, len(out.Attempts))
		for _, a := range out.Attempts {
			failures[a.Provider] = a.Error
		}
		return Event{
			Type:       EventDispatchFailed,
			Severity:   "critical",
			Title:      fmt.Sprintf("Dispatch failed after %d attempts", len(out.Attempts)),
			Message:    out.Err.Error(),
			DispatchID: out.DispatchID,
			Fields:     map[string]any{"failures": failures},
			At:         at,
		}, true
	}

	r := out.Result
	if !r.FailedOver() {
		return Event{}, false
	}
	skipped := make([]string, 0, len(r.Attempts)-1)
	for _, a := range r.Attempts[:len(r.Attempts)-1] {
		skipped = append(skipped, fmt.Sprintf("%s (%s)", a.Provider, a.Kind))
	}
	return Event{
		Type:       EventFailover,
		Severity:   "warning",
		Title:      fmt.Sprintf("Served by %s after failover", r.ProviderUsed),
		Message:    fmt.Sprintf("%d providers failed before %s answered", len(skipped), r.ProviderUsed),
		DispatchID: r.DispatchID,
		Provider:   r.ProviderUsed,
		Fields:     map[string]any{"skipped": skipped, "model": r.Model},
		At:         at,
	}, true
}
