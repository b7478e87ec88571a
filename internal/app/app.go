// Package app wires configuration into a running switchboard.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/newthinker/switchboard/internal/alert"
	"github.com/newthinker/switchboard/internal/api/job"
	"github.com/newthinker/switchboard/internal/catalog"
	"github.com/newthinker/switchboard/internal/config"
	"github.com/newthinker/switchboard/internal/dispatch"
	"github.com/newthinker/switchboard/internal/health"
	"github.com/newthinker/switchboard/internal/llm"
	"github.com/newthinker/switchboard/internal/llm/factory"
	"github.com/newthinker/switchboard/internal/metrics"
	"github.com/newthinker/switchboard/internal/notifier"
	"github.com/newthinker/switchboard/internal/notifier/telegram"
	"github.com/newthinker/switchboard/internal/notifier/webhook"
	"github.com/newthinker/switchboard/internal/storage/archive"
	"github.com/newthinker/switchboard/internal/usage"
	"github.com/newthinker/switchboard/internal/usage/history"
	"go.uber.org/zap"
)

// ProviderFactory builds a provider client from its configuration.
type ProviderFactory func(config.ProviderConfig) (llm.Provider, error)

// Option customises App construction.
type Option func(*App)

// WithProviderFactory replaces the default SDK-backed factory.
func WithProviderFactory(f ProviderFactory) Option {
	return func(a *App) { a.factory = f }
}

// WithNotifier registers an extra notifier for every event type.
func WithNotifier(n notifier.Notifier) Option {
	return func(a *App) { a.extraNotifiers = append(a.extraNotifiers, n) }
}

// App is the main application orchestrator
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	factory ProviderFactory

	catalog    *catalog.Catalog
	dispatcher *dispatch.Dispatcher
	checker    *health.Checker
	poller     *health.Poller
	tracker    *usage.Tracker
	history    history.Store
	notifiers  *notifier.Registry
	publisher  *notifier.Observer
	evaluator  *alert.Evaluator
	rules      []alert.Rule
	metrics    *metrics.Registry
	jobs       *job.Pool

	extraNotifiers []notifier.Notifier

	mu      sync.RWMutex
	running bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds every component from cfg. A provider that fails to build is
// logged and left out; any other construction error is returned.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:     cfg,
		logger:  logger,
		factory: factory.New,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.catalog = catalog.New(cfg.Models)
	a.checker = health.NewChecker(cfg.Dispatch.HealthTimeout, logger.Named("health"))

	trackerOpts := []usage.Option{usage.WithCatalog(a.catalog), usage.WithLogger(logger.Named("usage"))}
	if cfg.Usage.Storage.Type != "none" {
		store, err := archive.New(cfg.Usage.Storage)
		if err != nil {
			return nil, fmt.Errorf("opening usage storage: %w", err)
		}
		trackerOpts = append(trackerOpts, usage.WithStorage(store, cfg.Usage.SnapshotKey))
	}
	a.tracker = usage.NewTracker(trackerOpts...)

	hist, err := openHistory(cfg.Usage.History)
	if err != nil {
		return nil, err
	}
	a.history = hist

	a.notifiers = notifier.NewRegistry()
	if err := a.registerNotifiers(); err != nil {
		a.closeHistory()
		return nil, err
	}
	a.publisher = notifier.NewObserver(a.notifiers, logger.Named("notifier"))

	if cfg.Alerts.Enabled {
		rules, err := alert.RulesFromConfig(cfg.Alerts.Rules)
		if err != nil {
			a.closeHistory()
			return nil, err
		}
		a.rules = rules
		a.evaluator = alert.NewEvaluator(a.publisher, logger.Named("alert"))
		a.evaluator.SetCooldown(cfg.Alerts.Cooldown)
	}

	observers := []dispatch.Observer{a.tracker}
	if a.history != nil {
		observers = append(observers, history.NewRecorder(a.history, logger.Named("history")))
	}
	if cfg.Metrics.Enabled {
		a.metrics = metrics.NewRegistry()
		observers = append(observers, a.metrics)
	}
	if a.notifiers.Len() > 0 {
		observers = append(observers, a.publisher)
	}

	dispatchOpts := []dispatch.Option{
		dispatch.WithObservers(observers...),
		dispatch.WithCatalog(a.catalog),
		dispatch.WithLogger(logger.Named("dispatch")),
		dispatch.WithDefaultMaxTokens(cfg.Dispatch.DefaultMaxTokens),
	}
	if cfg.Dispatch.ProbeBeforeDispatch {
		dispatchOpts = append(dispatchOpts, dispatch.WithProber(a.checker))
	}
	a.dispatcher = dispatch.New(a.buildEntries(cfg.Providers), dispatchOpts...)

	if cfg.Dispatch.HealthInterval > 0 {
		a.poller = health.NewPoller(a.checker, a.dispatcher.Providers, cfg.Dispatch.HealthInterval, logger.Named("health"))
		if a.metrics != nil {
			a.poller.OnUpdate(a.metrics.ObserveHealth)
		}
	}

	ttl := time.Duration(cfg.Server.JobTTLHours) * time.Hour
	a.jobs = job.NewPool(job.NewStore(cfg.Server.MaxJobs, ttl), cfg.Server.Workers, cfg.Server.QueueSize, logger.Named("jobs"))
	a.jobs.SetTimeout(cfg.Server.JobTimeout)
	if a.metrics != nil {
		a.jobs.OnActive(a.metrics.SetJobsActive)
	}

	return a, nil
}

func openHistory(cfg config.HistoryConfig) (history.Store, error) {
	switch cfg.Driver {
	case "none":
		return nil, nil
	case "sqlite":
		store, err := history.OpenSQLite(cfg.DSN, cfg.MaxRecords)
		if err != nil {
			return nil, fmt.Errorf("opening usage history: %w", err)
		}
		return store, nil
	default:
		return history.NewMemoryStore(cfg.MaxRecords), nil
	}
}

func (a *App) registerNotifiers() error {
	for name, nc := range a.cfg.Notifiers {
		if !nc.Enabled {
			continue
		}

		var n notifier.Notifier
		switch nc.Type {
		case "", "webhook":
			n = webhook.New(name, "", nil)
		case "telegram":
			n = telegram.New(name, "", "")
		default:
			return fmt.Errorf("notifier %s: unknown type %q", name, nc.Type)
		}
		if err := n.Init(nc); err != nil {
			return fmt.Errorf("notifier %s: %w", name, err)
		}

		events := make([]notifier.EventType, 0, len(nc.Events))
		for _, e := range nc.Events {
			events = append(events, notifier.EventType(e))
		}
		if err := a.notifiers.Register(n, events...); err != nil {
			return err
		}
		a.logger.Info("notifier registered", zap.String("name", name), zap.String("type", nc.Type))
	}

	for _, n := range a.extraNotifiers {
		if err := a.notifiers.Register(n); err != nil {
			return err
		}
	}
	return nil
}

// buildEntries creates a client per provider config. Build failures are
// logged and skipped so one bad entry never takes the service down.
func (a *App) buildEntries(cfgs []config.ProviderConfig) []dispatch.Entry {
	entries := make([]dispatch.Entry, 0, len(cfgs))
	for _, pc := range cfgs {
		p, err := a.factory(pc)
		if err != nil {
			a.logger.Warn("provider skipped",
				zap.String("provider", pc.Name),
				zap.String("type", pc.Type),
				zap.Error(err))
			continue
		}
		entries = append(entries, dispatch.Entry{Config: pc, Provider: p})
	}
	return entries
}

// Start restores usage and launches the background loops: job workers,
// health poller, usage flusher and alert evaluation. It returns at once.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app already running")
	}
	if a.stopped {
		a.mu.Unlock()
		return fmt.Errorf("app stopped")
	}
	a.running = true
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.mu.Unlock()

	if err := a.tracker.Load(ctx); err != nil {
		a.logger.Warn("could not restore usage", zap.Error(err))
	}

	if err := a.jobs.Start(ctx); err != nil {
		return err
	}

	if a.poller != nil {
		a.goLoop("health poller", func() error { return a.poller.Run(ctx) })
	}

	if a.tracker.Persistent() && a.cfg.Usage.FlushInterval > 0 {
		a.goLoop("usage flusher", func() error { return a.tracker.RunFlusher(ctx, a.cfg.Usage.FlushInterval) })
	}

	if a.evaluator != nil && len(a.rules) > 0 {
		a.goLoop("alert evaluator", func() error {
			return a.evaluator.Run(ctx, a.rules, a.tracker.Metrics, a.cfg.Alerts.CheckInterval)
		})
	}

	a.logger.Info("switchboard started",
		zap.Int("providers", len(a.dispatcher.Providers())),
		zap.Int("notifiers", a.notifiers.Len()),
		zap.Int("alert_rules", len(a.rules)))
	return nil
}

func (a *App) goLoop(name string, run func() error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := run(); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("background loop exited", zap.String("loop", name), zap.Error(err))
		}
	}()
}

// Stop drains the job pool, cancels the background loops, waits for them
// and for pending notifications, flushes usage changes not yet written and
// closes the history store. It is safe to call without Start and more than
// once.
func (a *App) Stop() error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	a.mu.Unlock()

	// jobs first: their outcomes must land in the tracker before the last flush
	a.jobs.Stop()

	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Unlock()

	a.wg.Wait()
	a.publisher.Wait()

	var errs []error
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := a.tracker.FlushPending(ctx); err != nil {
		errs = append(errs, err)
	}
	cancel()
	if err := a.closeHistory(); err != nil {
		errs = append(errs, err)
	}

	a.mu.Lock()
	a.running = false
	a.mu.Unlock()

	a.logger.Info("switchboard stopped")
	return errors.Join(errs...)
}

func (a *App) closeHistory() error {
	if a.history == nil {
		return nil
	}
	return a.history.Close()
}

// Reload rebuilds the provider list from cfg and swaps it into the
// dispatcher. Other sections take effect on restart.
func (a *App) Reload(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("reload: nil config")
	}
	entries := a.buildEntries(cfg.Providers)
	a.dispatcher.SetProviders(entries)

	a.mu.Lock()
	a.cfg.Providers = cfg.Providers
	a.mu.Unlock()

	a.logger.Info("providers reloaded",
		zap.Int("configured", len(cfg.Providers)), zap.Int("active", len(entries)))
	return nil
}

// Chat runs one dispatch.
func (a *App) Chat(ctx context.Context, req llm.ChatRequest) (*dispatch.Result, error) {
	return a.dispatcher.Dispatch(ctx, req)
}

// Running reports whether Start has been called and Stop has not.
func (a *App) Running() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running
}

// Config returns the active configuration.
func (a *App) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }
func (a *App) Checker() *health.Checker         { return a.checker }
func (a *App) Poller() *health.Poller           { return a.poller }
func (a *App) Catalog() *catalog.Catalog        { return a.catalog }
func (a *App) Tracker() *usage.Tracker          { return a.tracker }
func (a *App) History() history.Store           { return a.history }
func (a *App) Notifiers() *notifier.Registry    { return a.notifiers }
func (a *App) Metrics() *metrics.Registry       { return a.metrics }
func (a *App) Jobs() *job.Pool                  { return a.jobs }
func (a *App) AlertEvaluator() *alert.Evaluator { return a.evaluator }
