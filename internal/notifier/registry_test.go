package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/newthinker/switchboard/internal/config"
)

type mockNotifier struct {
	name       string
	shouldFail bool

	mu         sync.Mutex
	sent       []Event
	batches    [][]Event
	sendCalled int
	batchCalls int
}

func (m *mockNotifier) Name() string { return m.name }

func (m *mockNotifier) Init(cfg config.NotifierConfig) error { return nil }

func (m *mockNotifier) Send(ctx context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendCalled++
	m.sent = append(m.sent, e)
	if m.shouldFail {
		return errors.New("send failed")
	}
	return nil
}

func (m *mockNotifier) SendBatch(ctx context.Context, events []Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchCalls++
	m.batches = append(m.batches, events)
	if m.shouldFail {
		return errors.New("batch send failed")
	}
	return nil
}

func (m *mockNotifier) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sendCalled
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	mock := &mockNotifier{name: "test"}
	err := r.Register(mock)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Duplicate registration should fail
	err = r.Register(mock)
	if err == nil {
		t.Error("expected error for duplicate registration")
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 notifier, got %d", r.Len())
	}
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry()

	r.Register(&mockNotifier{name: "test"})

	n, err := r.Get("test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Name() != "test" {
		t.Errorf("expected 'test', got '%s'", n.Name())
	}

	// Non-existent notifier
	_, err = r.Get("nonexistent")
	if err == nil {
		t.Error("expected error for non-existent notifier")
	}
}

func TestRegistry_GetAll(t *testing.T) {
	r := NewRegistry()

	r.Register(&mockNotifier{name: "b"})
	r.Register(&mockNotifier{name: "a"})

	all := r.GetAll()
	if len(all) != 2 {
		t.Fatalf("expected 2 notifiers, got %d", len(all))
	}
	if all[0].Name() != "a" || all[1].Name() != "b" {
		t.Errorf("expected sorted names, got %s, %s", all[0].Name(), all[1].Name())
	}
}

func TestRegistry_NotifyAll(t *testing.T) {
	r := NewRegistry()

	mock1 := &mockNotifier{name: "n1"}
	mock2 := &mockNotifier{name: "n2"}
	r.Register(mock1)
	r.Register(mock2)

	errs := r.NotifyAll(context.Background(), Event{Type: EventFailover, Title: "failover"})

	if len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
	if mock1.sendCalled != 1 {
		t.Errorf("expected mock1.sendCalled = 1, got %d", mock1.sendCalled)
	}
	if mock2.sendCalled != 1 {
		t.Errorf("expected mock2.sendCalled = 1, got %d", mock2.sendCalled)
	}
}

func TestRegistry_NotifyAll_WithFailure(t *testing.T) {
	r := NewRegistry()

	r.Register(&mockNotifier{name: "n1"})
	r.Register(&mockNotifier{name: "n2", shouldFail: true})

	errs := r.NotifyAll(context.Background(), Event{Type: EventDispatchFailed})

	if len(errs) != 1 {
		t.Errorf("expected 1 error, got %d", len(errs))
	}
	if _, ok := errs["n2"]; !ok {
		t.Error("expected error from n2")
	}
}

func TestRegistry_NotifyAll_Subscriptions(t *testing.T) {
	r := NewRegistry()

	failures := &mockNotifier{name: "failures"}
	everything := &mockNotifier{name: "everything"}
	r.Register(failures, EventDispatchFailed)
	r.Register(everything)

	r.NotifyAll(context.Background(), Event{Type: EventFailover})
	r.NotifyAll(context.Background(), Event{Type: EventDispatchFailed})

	if failures.sendCalled != 1 {
		t.Errorf("subscribed notifier should only get dispatch_failed, got %d sends", failures.sendCalled)
	}
	if everything.sendCalled != 2 {
		t.Errorf("unfiltered notifier should get both events, got %d", everything.sendCalled)
	}
}

func TestRegistry_NotifyAllBatch(t *testing.T) {
	r := NewRegistry()

	all := &mockNotifier{name: "batch"}
	alerts := &mockNotifier{name: "alerts"}
	idle := &mockNotifier{name: "idle"}
	r.Register(all)
	r.Register(alerts, EventAlert)
	r.Register(idle, EventDispatchFailed)

	events := []Event{
		{Type: EventFailover, Title: "A"},
		{Type: EventAlert, Title: "B"},
	}
	errs := r.NotifyAllBatch(context.Background(), events)

	if len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
	if all.batchCalls != 1 || len(all.batches[0]) != 2 {
		t.Errorf("expected one batch of 2, got %v", all.batches)
	}
	if alerts.batchCalls != 1 || len(alerts.batches[0]) != 1 || alerts.batches[0][0].Title != "B" {
		t.Errorf("expected only the alert event, got %v", alerts.batches)
	}
	if idle.batchCalls != 0 {
		t.Error("notifier with no matching events should not be called")
	}
}
