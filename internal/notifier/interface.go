package notifier

import (
	"context"
	"time"

	"github.com/newthinker/switchboard/internal/config"
)

// EventType names what happened.
type EventType string

const (
	// EventFailover fires when a dispatch succeeded on a provider other
	// than the first one it tried.
	EventFailover EventType = "failover"
	// EventDispatchFailed fires when every provider failed.
	EventDispatchFailed EventType = "dispatch_failed"
	// EventAlert fires when an alert rule triggers.
	EventAlert EventType = "alert"
)

// Event is one notification.
type Event struct {
	Type       EventType      `json:"type"`
	Severity   string         `json:"severity"`
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	DispatchID string         `json:"dispatch_id,omitempty"`
	Provider   string         `json:"provider,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
	At         time.Time      `json:"at"`
}

// Notifier delivers events to an external channel.
type Notifier interface {
	// Name returns the unique identifier for this notifier
	Name() string

	// Init initializes the notifier with configuration
	Init(cfg config.NotifierConfig) error

	// Send delivers a single event
	Send(ctx context.Context, e Event) error

	// SendBatch delivers several events at once
	SendBatch(ctx context.Context, events []Event) error
}
