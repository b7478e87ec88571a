package notifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/newthinker/switchboard/internal/core"
	"github.com/newthinker/switchboard/internal/dispatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failoverOutcome() dispatch.Outcome {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	attempts := []dispatch.Attempt{
		{DispatchID: "d-1", Provider: "openai", Kind: "PROVIDER_TIMEOUT", Err: errors.New("timeout"), At: at},
		{DispatchID: "d-1", Provider: "ollama", At: at.Add(time.Second)},
	}
	return dispatch.Outcome{
		DispatchID: "d-1",
		Result: &dispatch.Result{
			DispatchID:   "d-1",
			ProviderUsed: "ollama",
			Model:        "llama3",
			Attempts:     attempts,
		},
		Attempts: attempts,
	}
}

func TestEventFor_FirstTrySuccess(t *testing.T) {
	attempts := []dispatch.Attempt{{Provider: "openai"}}
	_, ok := EventFor(dispatch.Outcome{
		Result:   &dispatch.Result{ProviderUsed: "openai", Attempts: attempts},
		Attempts: attempts,
	})
	assert.False(t, ok)
}

func TestEventFor_Failover(t *testing.T) {
	e, ok := EventFor(failoverOutcome())
	require.True(t, ok)

	assert.Equal(t, EventFailover, e.Type)
	assert.Equal(t, "warning", e.Severity)
	assert.Equal(t, "ollama", e.Provider)
	assert.Equal(t, "d-1", e.DispatchID)
	assert.Equal(t, []string{"openai (PROVIDER_TIMEOUT)"}, e.Fields["skipped"])
	assert.Equal(t, time.Date(2025, 3, 1, 12, 0, 1, 0, time.UTC), e.At)
}

func TestEventFor_DispatchFailed(t *testing.T) {
	attempts := []dispatch.Attempt{
		{Provider: "a", Error: "boom", Err: errors.New("boom")},
		{Provider: "b", Error: "refused", Err: errors.New("refused")},
	}
	e, ok := EventFor(dispatch.Outcome{
		DispatchID: "d-2",
		Err: core.WrapError(core.ErrAllProvidersFailed, &dispatch.AggregateError{Failures: []dispatch.Failure{
			{Provider: "a", Err: errors.New("boom")},
			{Provider: "b", Err: errors.New("refused")},
		}}),
		Attempts: attempts,
	})
	require.True(t, ok)

	assert.Equal(t, EventDispatchFailed, e.Type)
	assert.Equal(t, "critical", e.Severity)
	assert.Contains(t, e.Title, "2 attempts")
	assert.Equal(t, "[ALL_PROVIDERS_FAILED] all providers failed: a: boom; b: refused", e.Message)
	assert.Equal(t, map[string]any{"a": "boom", "b": "refused"}, e.Fields["failures"])
}

func TestEventFor_NoEventForNonProviderFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"client cancelled", core.WrapError(core.ErrCancelled, context.Canceled)},
		{"cancelled after failures", core.WrapError(core.ErrCancelled, errors.Join(context.Canceled,
			&dispatch.AggregateError{Failures: []dispatch.Failure{{Provider: "a", Err: errors.New("boom")}}}))},
		{"no providers", core.ErrNoProviders},
		{"invalid request", core.WrapError(core.ErrInvalidRequest, errors.New("no messages"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := EventFor(dispatch.Outcome{DispatchID: "d-3", Err: tt.err})
			assert.False(t, ok)
		})
	}
}

func TestObserver_SkipsCancelledDispatch(t *testing.T) {
	r := NewRegistry()
	mock := &mockNotifier{name: "ops"}
	require.NoError(t, r.Register(mock))

	o := NewObserver(r, nil)
	o.OnComplete(dispatch.Outcome{Err: core.WrapError(core.ErrCancelled, context.Canceled)})
	o.Wait()

	assert.Zero(t, mock.calls())
}

func TestObserver_PublishesFailover(t *testing.T) {
	r := NewRegistry()
	mock := &mockNotifier{name: "ops"}
	require.NoError(t, r.Register(mock))

	o := NewObserver(r, nil)
	o.OnAttempt(dispatch.Attempt{})
	o.OnComplete(failoverOutcome())
	o.Wait()

	require.Equal(t, 1, mock.calls())
	assert.Equal(t, EventFailover, mock.sent[0].Type)
}

func TestObserver_SkipsPlainSuccess(t *testing.T) {
	r := NewRegistry()
	mock := &mockNotifier{name: "ops"}
	require.NoError(t, r.Register(mock))

	o := NewObserver(r, nil)
	attempts := []dispatch.Attempt{{Provider: "openai"}}
	o.OnComplete(dispatch.Outcome{Result: &dispatch.Result{Attempts: attempts}, Attempts: attempts})
	o.Wait()

	assert.Zero(t, mock.calls())
}

func TestObserver_SendFailureIsLogged(t *testing.T) {
	r := NewRegistry()
	mock := &mockNotifier{name: "broken", shouldFail: true}
	require.NoError(t, r.Register(mock))

	o := NewObserver(r, nil)
	o.Publish(Event{Type: EventAlert})
	o.Wait()

	assert.Equal(t, 1, mock.calls())
}

func TestObserver_PublishBatchUsesSendBatch(t *testing.T) {
	r := NewRegistry()
	alerts := &mockNotifier{name: "alerts"}
	failovers := &mockNotifier{name: "failovers"}
	require.NoError(t, r.Register(alerts, EventAlert))
	require.NoError(t, r.Register(failovers, EventFailover))

	o := NewObserver(r, nil)
	o.PublishBatch([]Event{{Type: EventAlert, Title: "a"}, {Type: EventAlert, Title: "b"}})
	o.PublishBatch(nil)
	o.Wait()

	assert.Zero(t, alerts.calls())
	require.Equal(t, 1, alerts.batchCalls)
	assert.Len(t, alerts.batches[0], 2)
	assert.Zero(t, failovers.batchCalls)
}
