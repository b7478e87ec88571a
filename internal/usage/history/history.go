// Package history keeps a log of every provider attempt.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/newthinker/switchboard/internal/dispatch"
	"go.uber.org/zap"
)

// Record is one provider attempt.
type Record struct {
	ID           string        `json:"id"`
	DispatchID   string        `json:"dispatch_id"`
	At           time.Time     `json:"at"`
	Provider     string        `json:"provider"`
	ProviderType string        `json:"provider_type"`
	Model        string        `json:"model,omitempty"`
	Stage        string        `json:"stage"`
	Success      bool          `json:"success"`
	Kind         string        `json:"kind,omitempty"`
	Error        string        `json:"error,omitempty"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	TotalTokens  int           `json:"total_tokens"`
	Cost         float64       `json:"cost"`
	Latency      time.Duration `json:"latency"`
}

// FromAttempt converts a dispatch attempt into a record with a fresh ID.
func FromAttempt(a dispatch.Attempt) Record {
	return Record{
		ID:           uuid.NewString(),
		DispatchID:   a.DispatchID,
		At:           a.At,
		Provider:     a.Provider,
		ProviderType: string(a.ProviderType),
		Model:        a.Model,
		Stage:        string(a.Stage),
		Success:      a.Succeeded(),
		Kind:         a.Kind,
		Error:        a.Error,
		InputTokens:  a.Usage.InputTokens,
		OutputTokens: a.Usage.OutputTokens,
		TotalTokens:  a.Usage.Total(),
		Cost:         a.Cost,
		Latency:      a.Latency,
	}
}

// Filter selects records. Zero fields match everything.
type Filter struct {
	Provider string
	Since    time.Time
	Limit    int
}

func (f Filter) matches(r Record) bool {
	if f.Provider != "" && r.Provider != f.Provider {
		return false
	}
	if !f.Since.IsZero() && r.At.Before(f.Since) {
		return false
	}
	return true
}

// Tally sums a set of records.
type Tally struct {
	Attempts     int     `json:"attempts"`
	Successes    int     `json:"successes"`
	Failures     int     `json:"failures"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	Cost         float64 `json:"cost"`
}

func (t *Tally) add(r Record) {
	t.Attempts++
	if r.Success {
		t.Successes++
	} else {
		t.Failures++
	}
	t.InputTokens += r.InputTokens
	t.OutputTokens += r.OutputTokens
	t.TotalTokens += r.TotalTokens
	t.Cost += r.Cost
}

// Totals is the overall tally plus one per provider.
type Totals struct {
	Tally
	ByProvider map[string]Tally `json:"by_provider"`
}

// Store persists attempt records.
type Store interface {
	// Save appends a record.
	Save(ctx context.Context, r Record) error

	// Recent returns matching records, newest first.
	Recent(ctx context.Context, f Filter) ([]Record, error)

	// Totals sums records at or after since; zero since covers everything.
	Totals(ctx context.Context, since time.Time) (Totals, error)

	Close() error
}

// Recorder saves every dispatch attempt to a Store.
type Recorder struct {
	store  Store
	logger *zap.Logger
}

// NewRecorder creates a dispatch observer writing to store.
func NewRecorder(store Store, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, logger: logger}
}

// OnAttempt saves the attempt. Storage errors are logged, never returned
// to the dispatch.
func (r *Recorder) OnAttempt(a dispatch.Attempt) {
	if err := r.store.Save(context.Background(), FromAttempt(a)); err != nil {
		r.logger.Warn("failed to save usage record",
			zap.String("provider", a.Provider), zap.Error(err))
	}
}

func (r *Recorder) OnComplete(dispatch.Outcome) {}
