package notifier

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type subscription struct {
	notifier Notifier
	events   map[EventType]bool // nil means every event
}

func (s subscription) wants(t EventType) bool {
	return s.events == nil || s.events[t]
}

// Registry manages notifier instances
type Registry struct {
	mu   sync.RWMutex
	subs map[string]subscription
}

// NewRegistry creates a new notifier registry
func NewRegistry() *Registry {
	return &Registry{
		subs: make(map[string]subscription),
	}
}

// Register adds a notifier that receives the listed event types, or every
// event when none are listed.
func (r *Registry) Register(n Notifier, events ...EventType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := n.Name()
	if _, exists := r.subs[name]; exists {
		return fmt.Errorf("notifier %s already registered", name)
	}

	sub := subscription{notifier: n}
	if len(events) > 0 {
		sub.events = make(map[EventType]bool, len(events))
		for _, e := range events {
			sub.events[e] = true
		}
	}
	r.subs[name] = sub
	return nil
}

// Get retrieves a notifier by name
func (r *Registry) Get(name string) (Notifier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, exists := r.subs[name]
	if !exists {
		return nil, fmt.Errorf("notifier %s not found", name)
	}
	return sub.notifier, nil
}

// GetAll returns all registered notifiers sorted by name
func (r *Registry) GetAll() []Notifier {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Notifier, 0, len(r.subs))
	for _, sub := range r.subs {
		result = append(result, sub.notifier)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// Len returns the number of registered notifiers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// NotifyAll sends e to every notifier subscribed to its type and returns
// the failures keyed by notifier name.
func (r *Registry) NotifyAll(ctx context.Context, e Event) map[string]error {
	errs := make(map[string]error)
	for name, sub := range r.snapshot() {
		if !sub.wants(e.Type) {
			continue
		}
		if err := sub.notifier.Send(ctx, e); err != nil {
			errs[name] = err
		}
	}
	return errs
}

// NotifyAllBatch sends each notifier the events it is subscribed to.
func (r *Registry) NotifyAllBatch(ctx context.Context, events []Event) map[string]error {
	errs := make(map[string]error)
	for name, sub := range r.snapshot() {
		var wanted []Event
		for _, e := range events {
			if sub.wants(e.Type) {
				wanted = append(wanted, e)
			}
		}
		if len(wanted) == 0 {
			continue
		}
		if err := sub.notifier.SendBatch(ctx, wanted); err != nil {
			errs[name] = err
		}
	}
	return errs
}

// snapshot copies the subscriptions so sends run without the lock held.
func (r *Registry) snapshot() map[string]subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]subscription, len(r.subs))
	for k, v := range r.subs {
		out[k] = v
	}
	return out
}
