package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/newthinker/switchboard/internal/dispatch"
	"go.uber.org/zap"
)

// Poller re-checks every provider on a fixed interval and keeps the latest
// status of each.
type Poller struct {
	checker  *Checker
	source   func() []dispatch.Entry
	interval time.Duration
	logger   *zap.Logger
	onUpdate []func([]Status)

	mu      sync.RWMutex
	latest  []Status
	running bool
	cancel  context.CancelFunc
}

// NewPoller creates a poller over the entries returned by source, which is
// read on every cycle so provider reloads are picked up.
func NewPoller(checker *Checker, source func() []dispatch.Entry, interval time.Duration, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		checker:  checker,
		source:   source,
		interval: interval,
		logger:   logger,
	}
}

// OnUpdate registers fn to receive each completed round of statuses.
func (p *Poller) OnUpdate(fn func([]Status)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onUpdate = append(p.onUpdate, fn)
}

// Run checks immediately, then every interval, until ctx is cancelled or
// Stop is called.
func (p *Poller) Run(ctx context.Context) error {
	if p.interval <= 0 {
		return fmt.Errorf("health poll interval must be positive, got %s", p.interval)
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("health poller already running")
	}
	p.running = true
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	p.logger.Info("health poller started", zap.Duration("interval", p.interval))
	p.Poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("health poller stopped")
			return ctx.Err()
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Stop ends a running poll loop.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
}

// Poll runs one round of checks and stores the result.
func (p *Poller) Poll(ctx context.Context) []Status {
	statuses := p.checker.CheckAll(ctx, p.source())

	unhealthy := 0
	for _, st := range statuses {
		if !st.Healthy {
			unhealthy++
		}
	}
	p.logger.Debug("health poll complete",
		zap.Int("providers", len(statuses)), zap.Int("unhealthy", unhealthy))

	p.mu.Lock()
	p.latest = statuses
	listeners := make([]func([]Status), len(p.onUpdate))
	copy(listeners, p.onUpdate)
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(statuses)
	}
	return statuses
}

// Latest returns the statuses from the most recent round.
func (p *Poller) Latest() []Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Status, len(p.latest))
	copy(out, p.latest)
	return out
}

// Lookup returns the latest status of one provider.
func (p *Poller) Lookup(name string) (Status, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, st := range p.latest {
		if st.Provider == name {
			return st, true
		}
	}
	return Status{}, false
}
