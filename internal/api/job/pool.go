package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/newthinker/switchboard/internal/core"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a single job.
const DefaultTimeout = 5 * time.Minute

// DefaultPruneInterval is how often finished jobs past their TTL are dropped.
const DefaultPruneInterval = time.Minute

// Task is the work a job runs. Its result is stored on the job.
type Task func(ctx context.Context) (any, error)

type queued struct {
	id   string
	task Task
}

// Pool runs submitted tasks on a fixed number of workers fed by a bounded
// queue.
type Pool struct {
	store   *Store
	queue   chan queued
	workers int
	timeout time.Duration
	prune   time.Duration
	logger  *zap.Logger

	onActive func(int)

	mu      sync.Mutex
	active  int
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool creates a pool. Workers and queueSize fall back to 1 when not
// positive.
func NewPool(store *Store, workers, queueSize int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		store:   store,
		queue:   make(chan queued, queueSize),
		workers: workers,
		timeout: DefaultTimeout,
		prune:   DefaultPruneInterval,
		logger:  logger,
	}
}

// SetTimeout changes the per-job limit. Call before Start.
func (p *Pool) SetTimeout(d time.Duration) {
	if d > 0 {
		p.timeout = d
	}
}

// OnActive registers fn to receive the running-job count whenever it changes.
func (p *Pool) OnActive(fn func(int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onActive = fn
}

// Store returns the backing job store.
func (p *Pool) Store() *Store {
	return p.store
}

// Start launches the workers and the expired-job janitor. They stop when ctx is cancelled or Stop is
// called.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("job pool already started")
	}
	if p.closed {
		return fmt.Errorf("job pool stopped")
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	for range p.workers {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.wg.Add(1)
	go p.janitor(ctx)
	p.logger.Info("job pool started", zap.Int("workers", p.workers), zap.Int("queue", cap(p.queue)))
	return nil
}

// Submit queues task as a new job. It never blocks: a full queue returns
// core.ErrQueueFull and no job is kept. The enqueue happens under the same
// lock Stop takes, so nothing lands in the queue after Stop drains it.
func (p *Pool) Submit(jobType string, task Task) (*Job, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, core.WrapError(core.ErrQueueFull, errors.New("job pool stopped"))
	}

	j, err := p.store.Create(jobType)
	if err != nil {
		return nil, err
	}
	select {
	case p.queue <- queued{id: j.ID, task: task}:
		return j, nil
	default:
		p.store.Delete(j.ID)
		return nil, core.WrapError(core.ErrQueueFull, fmt.Errorf("%d jobs waiting", cap(p.queue)))
	}
}

// Stop cancels running jobs, waits for the workers and fails any job still
// queued.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	p.wg.Wait()

	for {
		select {
		case q := <-p.queue:
			p.finish(q.id, nil, core.WrapError(core.ErrCancelled, errors.New("job pool stopped")))
		default:
			p.logger.Info("job pool stopped")
			return
		}
	}
}

// Active returns the number of jobs currently running.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case q := <-p.queue:
			p.run(ctx, q)
		}
	}
}

// janitor drops expired jobs even when no new job arrives to trigger it.
func (p *Pool) janitor(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.prune)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := p.store.Prune(); n > 0 {
				p.logger.Debug("pruned expired jobs", zap.Int("count", n))
			}
		}
	}
}

func (p *Pool) run(ctx context.Context, q queued) {
	if err := ctx.Err(); err != nil {
		p.finish(q.id, nil, core.WrapError(core.ErrCancelled, err))
		return
	}
	p.store.Update(q.id, func(j *Job) {
		j.Status = StatusRunning
	})
	p.adjustActive(1)
	defer p.adjustActive(-1)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result, err := q.task(ctx)
	p.finish(q.id, result, err)
}

func (p *Pool) finish(id string, result any, err error) {
	if err != nil {
		var coded *core.Error
		if !errors.As(err, &coded) {
			coded = core.Classify(err)
		}
		p.logger.Warn("job failed", zap.String("job_id", id), zap.Error(err))
		p.store.Update(id, func(j *Job) {
			j.Status = StatusFailed
			j.Error = coded
		})
		return
	}
	p.store.Update(id, func(j *Job) {
		j.Status = StatusComplete
		j.Progress = 100
		j.Result = result
	})
}

func (p *Pool) adjustActive(delta int) {
	p.mu.Lock()
	p.active += delta
	n := p.active
	fn := p.onActive
	p.mu.Unlock()
	if fn != nil {
		fn(n)
	}
}
