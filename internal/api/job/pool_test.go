package job

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/newthinker/switchboard/internal/core"
)

func waitFor(t *testing.T, store *Store, id string, want Status) *Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		j, err := store.Get(id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if j.Status == want {
			return j
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", id, want)
	return nil
}

func TestPool_RunsTask(t *testing.T) {
	store := NewStore(10, time.Hour)
	pool := NewPool(store, 2, 4, nil)

	var peak atomic.Int32
	pool.OnActive(func(n int) {
		if int32(n) > peak.Load() {
			peak.Store(int32(n))
		}
	})

	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer pool.Stop()

	j, err := pool.Submit("chat", func(ctx context.Context) (any, error) {
		return "hello", nil
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	done := waitFor(t, store, j.ID, StatusComplete)
	if done.Result != "hello" || done.Progress != 100 {
		t.Errorf("unexpected job: %+v", done)
	}
	if peak.Load() < 1 {
		t.Error("expected active count to be reported")
	}
}

func TestPool_TaskError(t *testing.T) {
	store := NewStore(10, time.Hour)
	pool := NewPool(store, 1, 1, nil)
	pool.Start(context.Background())
	defer pool.Stop()

	j, _ := pool.Submit("chat", func(ctx context.Context) (any, error) {
		return nil, core.WrapError(core.ErrAllProvidersFailed, errors.New("a: boom"))
	})

	failed := waitFor(t, store, j.ID, StatusFailed)
	if failed.Error == nil || failed.Error.Code != "ALL_PROVIDERS_FAILED" {
		t.Errorf("expected ALL_PROVIDERS_FAILED, got %+v", failed.Error)
	}
}

func TestPool_QueueFull(t *testing.T) {
	store := NewStore(10, time.Hour)
	pool := NewPool(store, 1, 1, nil)
	// not started, so nothing drains the queue

	if _, err := pool.Submit("chat", func(context.Context) (any, error) { return nil, nil }); err != nil {
		t.Fatalf("first submit should fit: %v", err)
	}
	_, err := pool.Submit("chat", func(context.Context) (any, error) { return nil, nil })
	if !errors.Is(err, core.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if len(store.List()) != 1 {
		t.Errorf("rejected job should not be kept, have %d", len(store.List()))
	}
}

func TestPool_StopCancelsRunningAndQueued(t *testing.T) {
	store := NewStore(10, time.Hour)
	pool := NewPool(store, 1, 2, nil)
	pool.Start(context.Background())

	started := make(chan struct{})
	running, _ := pool.Submit("chat", func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	<-started
	queued, _ := pool.Submit("chat", func(context.Context) (any, error) { return "never", nil })

	pool.Stop()

	r, _ := store.Get(running.ID)
	if r.Status != StatusFailed || r.Error.Code != "CANCELLED" {
		t.Errorf("running job should fail cancelled, got %+v", r)
	}
	q, _ := store.Get(queued.ID)
	if q.Status != StatusFailed || q.Error.Code != "CANCELLED" {
		t.Errorf("queued job should fail cancelled, got %+v", q)
	}

	if _, err := pool.Submit("chat", nil); !errors.Is(err, core.ErrQueueFull) {
		t.Errorf("submit after stop should be rejected, got %v", err)
	}
}

func TestPool_SubmitRacingStopNeverStrandsJobs(t *testing.T) {
	store := NewStore(200, time.Hour)
	pool := NewPool(store, 2, 100, nil)
	pool.Start(context.Background())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				pool.Submit("chat", func(ctx context.Context) (any, error) {
					<-ctx.Done()
					return nil, ctx.Err()
				})
			}
		}()
	}
	pool.Stop()
	wg.Wait()

	for _, j := range store.List() {
		if !j.Status.Done() {
			t.Errorf("job %s left %s after stop", j.ID, j.Status)
		}
	}
}

func TestPool_TimeoutFailsSlowJob(t *testing.T) {
	store := NewStore(10, time.Hour)
	pool := NewPool(store, 1, 1, nil)
	pool.SetTimeout(20 * time.Millisecond)
	pool.SetTimeout(0) // ignored
	pool.Start(context.Background())
	defer pool.Stop()

	j, _ := pool.Submit("chat", func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	failed := waitFor(t, store, j.ID, StatusFailed)
	if failed.Error == nil || failed.Error.Code != "TIMEOUT" {
		t.Errorf("expected TIMEOUT, got %+v", failed.Error)
	}
}

func TestPool_JanitorPrunesExpiredJobs(t *testing.T) {
	store := NewStore(10, time.Hour)
	var now atomic.Int64
	now.Store(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC).UnixNano())
	store.now = func() time.Time { return time.Unix(0, now.Load()) }

	pool := NewPool(store, 1, 1, nil)
	pool.prune = 5 * time.Millisecond
	pool.Start(context.Background())
	defer pool.Stop()

	j, _ := pool.Submit("chat", func(context.Context) (any, error) { return "ok", nil })
	waitFor(t, store, j.ID, StatusComplete)

	now.Add(int64(2 * time.Hour))
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := store.Get(j.ID); errors.Is(err, core.ErrNotFound) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expired job was never pruned")
}

func TestPool_DoubleStart(t *testing.T) {
	pool := NewPool(NewStore(1, 0), 1, 1, nil)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer pool.Stop()
	if err := pool.Start(context.Background()); err == nil {
		t.Error("expected error on second start")
	}
}
