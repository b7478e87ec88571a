package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/newthinker/switchboard/internal/config"
	"github.com/newthinker/switchboard/internal/dispatch"
	"github.com/newthinker/switchboard/internal/llm"
	"github.com/newthinker/switchboard/internal/llm/mock"
)

// slowHealth never answers its health check before ctx is done.
type slowHealth struct {
	*mock.Provider
}

func (s slowHealth) HealthCheck(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func entryFor(p llm.Provider, enabled bool) dispatch.Entry {
	return dispatch.Entry{
		Config:   config.ProviderConfig{Name: p.Name(), Enabled: enabled, Timeout: time.Second},
		Provider: p,
	}
}

func TestChecker_Healthy(t *testing.T) {
	c := NewChecker(time.Second, nil)

	if !c.Healthy(context.Background(), mock.New("up")) {
		t.Error("expected healthy provider")
	}
	if c.Healthy(context.Background(), mock.New("down").FailHealth(errors.New("connection refused"))) {
		t.Error("expected unhealthy provider")
	}
}

func TestChecker_TimeoutIsUnhealthy(t *testing.T) {
	c := NewChecker(20*time.Millisecond, nil)
	p := slowHealth{mock.New("slow")}

	start := time.Now()
	if c.Healthy(context.Background(), p) {
		t.Fatal("a check that times out must be unhealthy")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("check did not honour timeout, took %s", elapsed)
	}
}

func TestNewChecker_DefaultTimeout(t *testing.T) {
	if got := NewChecker(0, nil).Timeout(); got != DefaultTimeout {
		t.Errorf("expected %s, got %s", DefaultTimeout, got)
	}
}

func TestChecker_CheckAll(t *testing.T) {
	c := NewChecker(time.Second, nil)
	entries := []dispatch.Entry{
		entryFor(mock.New("a"), true),
		entryFor(mock.New("b").FailHealth(errors.New("boom")), true),
		entryFor(mock.New("c"), false),
	}

	statuses := c.CheckAll(context.Background(), entries)
	if len(statuses) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(statuses))
	}
	for i, want := range []string{"a", "b", "c"} {
		if statuses[i].Provider != want {
			t.Errorf("status %d: expected %s, got %s", i, want, statuses[i].Provider)
		}
	}
	if !statuses[0].Healthy || statuses[1].Healthy {
		t.Errorf("unexpected health: %+v", statuses)
	}
	if statuses[1].Error == "" {
		t.Error("expected failure reason")
	}
	if statuses[2].Enabled {
		t.Error("disabled flag lost")
	}
	if statuses[0].CheckedAt.IsZero() {
		t.Error("expected CheckedAt")
	}
}

func TestPoller_PollStoresLatest(t *testing.T) {
	down := mock.New("down").FailHealth(errors.New("refused"))
	entries := []dispatch.Entry{entryFor(mock.New("up"), true), entryFor(down, true)}

	p := NewPoller(NewChecker(time.Second, nil), func() []dispatch.Entry { return entries }, time.Minute, nil)

	var rounds atomic.Int32
	p.OnUpdate(func([]Status) { rounds.Add(1) })

	p.Poll(context.Background())

	if got := len(p.Latest()); got != 2 {
		t.Fatalf("expected 2 statuses, got %d", got)
	}
	st, ok := p.Lookup("down")
	if !ok || st.Healthy {
		t.Errorf("expected down to be unhealthy, got %+v %v", st, ok)
	}
	if _, ok := p.Lookup("missing"); ok {
		t.Error("unexpected status for unknown provider")
	}
	if rounds.Load() != 1 {
		t.Errorf("expected 1 update, got %d", rounds.Load())
	}
}

func TestPoller_RunUntilStopped(t *testing.T) {
	up := mock.New("up")
	p := NewPoller(NewChecker(time.Second, nil),
		func() []dispatch.Entry { return []dispatch.Entry{entryFor(up, true)} },
		10*time.Millisecond, nil)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	deadline := time.After(2 * time.Second)
	for up.HealthCalls() < 3 {
		select {
		case <-deadline:
			t.Fatal("poller did not tick")
		case <-time.After(5 * time.Millisecond):
		}
	}

	p.Stop()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestPoller_InvalidInterval(t *testing.T) {
	p := NewPoller(NewChecker(time.Second, nil), func() []dispatch.Entry { return nil }, 0, nil)
	if err := p.Run(context.Background()); err == nil {
		t.Error("expected error for zero interval")
	}
}
