package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/newthinker/switchboard/internal/api/handler"
	"github.com/newthinker/switchboard/internal/api/job"
	"github.com/newthinker/switchboard/internal/catalog"
	"github.com/newthinker/switchboard/internal/config"
	"github.com/newthinker/switchboard/internal/core"
	"github.com/newthinker/switchboard/internal/dispatch"
	"github.com/newthinker/switchboard/internal/health"
	"github.com/newthinker/switchboard/internal/llm"
	"github.com/newthinker/switchboard/internal/llm/mock"
	"github.com/newthinker/switchboard/internal/metrics"
	"github.com/newthinker/switchboard/internal/usage"
	"go.uber.org/zap"
)

func entry(p llm.Provider, priority int) dispatch.Entry {
	return dispatch.Entry{
		Config: config.ProviderConfig{
			Name:           p.Name(),
			Type:           string(p.Type()),
			APIKey:         "sk-secret",
			Priority:       priority,
			Timeout:        time.Second,
			Enabled:        true,
			CostMultiplier: 1,
		},
		Provider: p,
	}
}

func newTestServer(t *testing.T, apiKey string, providers ...llm.Provider) *Server {
	t.Helper()
	entries := make([]dispatch.Entry, len(providers))
	for i, p := range providers {
		entries[i] = entry(p, i+1)
	}

	tracker := usage.NewTracker()
	reg := metrics.NewRegistry()
	d := dispatch.New(entries, dispatch.WithObservers(tracker, reg))

	srv, err := NewServer(Config{Host: "localhost", Port: 0, APIKey: apiKey}, Dependencies{
		Dispatcher: d,
		Checker:    health.NewChecker(time.Second, nil),
		Catalog:    catalog.New(nil),
		Tracker:    tracker,
		Metrics:    reg,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv
}

func do(srv *Server, method, path, body string, header ...string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	if _, err := NewServer(Config{}, Dependencies{}, nil); err == nil {
		t.Error("expected error for missing dependencies")
	}
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t, "", mock.New("a"))

	w := do(srv, "GET", "/api/health", "")

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID on every response")
	}
	if !strings.Contains(w.Body.String(), `"enabled_providers":1`) {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestServer_APIAuth_Required(t *testing.T) {
	srv := newTestServer(t, "test-key", mock.New("a"))

	w := do(srv, "GET", "/api/v1/providers", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without key, got %d", w.Code)
	}

	// liveness stays open
	if w := do(srv, "GET", "/api/health", ""); w.Code != http.StatusOK {
		t.Errorf("expected 200 for /api/health, got %d", w.Code)
	}
}

func TestServer_APIAuth_ValidKey(t *testing.T) {
	srv := newTestServer(t, "test-key", mock.New("a"))

	w := do(srv, "GET", "/api/v1/providers", "", "X-API-Key", "test-key")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 with key, got %d", w.Code)
	}
}

func TestServer_ChatFailover(t *testing.T) {
	srv := newTestServer(t, "",
		mock.New("primary").FailWith(errors.New("boom")),
		mock.New("backup").WithTokens(100, 50))

	w := do(srv, "POST", "/api/v1/chat", `{"prompt":"hello"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data dispatch.Result `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Data.ProviderUsed != "backup" {
		t.Errorf("expected backup, got %s", resp.Data.ProviderUsed)
	}
	if resp.Data.Cost != 150 {
		t.Errorf("expected cost 150, got %f", resp.Data.Cost)
	}
	if len(resp.Data.Attempts) != 2 {
		t.Errorf("expected 2 attempts, got %d", len(resp.Data.Attempts))
	}
}

func TestServer_ChatAllFailed(t *testing.T) {
	srv := newTestServer(t, "",
		mock.New("a").FailWith(errors.New("boom")),
		mock.New("b").FailWith(errors.New("refused")))

	w := do(srv, "POST", "/api/v1/chat", `{"messages":[{"role":"user","content":"hi"}]}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}

	body := w.Body.String()
	for _, want := range []string{"ALL_PROVIDERS_FAILED", `"provider":"a"`, `"provider":"b"`} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %s in body: %s", want, body)
		}
	}
}

func TestServer_ChatInvalid(t *testing.T) {
	srv := newTestServer(t, "", mock.New("a"))

	for _, body := range []string{`{`, `{"messages":[]}`, `{"messages":[{"role":"robot","content":"x"}]}`} {
		if w := do(srv, "POST", "/api/v1/chat", body); w.Code != http.StatusBadRequest {
			t.Errorf("body %s: expected 400, got %d", body, w.Code)
		}
	}
}

func TestServer_ChatAsync(t *testing.T) {
	entries := []dispatch.Entry{entry(mock.New("a"), 1)}
	tracker := usage.NewTracker()
	pool := job.NewPool(job.NewStore(10, time.Hour), 1, 4, nil)
	pool.Start(t.Context())
	defer pool.Stop()

	srv, err := NewServer(Config{}, Dependencies{
		Dispatcher: dispatch.New(entries, dispatch.WithObservers(tracker)),
		Checker:    health.NewChecker(time.Second, nil),
		Catalog:    catalog.New(nil),
		Tracker:    tracker,
		Jobs:       pool,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	w := do(srv, "POST", "/api/v1/chat/async", `{"prompt":"hello"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var accepted struct {
		Data struct {
			JobID string `json:"job_id"`
		} `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &accepted)
	if accepted.Data.JobID == "" {
		t.Fatal("expected job id")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		w := do(srv, "GET", "/api/v1/jobs/"+accepted.Data.JobID, "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if strings.Contains(w.Body.String(), `"status":"complete"`) {
			if !strings.Contains(w.Body.String(), `"provider_used":"a"`) {
				t.Errorf("expected result in body: %s", w.Body.String())
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never completed: %s", w.Body.String())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if w := do(srv, "GET", "/api/v1/jobs/job_missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown job, got %d", w.Code)
	}
}

func TestServer_ChatAsyncDisabled(t *testing.T) {
	srv := newTestServer(t, "", mock.New("a"))

	if w := do(srv, "POST", "/api/v1/chat/async", `{"prompt":"hi"}`); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without a job pool, got %d", w.Code)
	}
}

func TestServer_ProvidersRedacted(t *testing.T) {
	srv := newTestServer(t, "", mock.New("a"), mock.New("b").WithType(core.ProviderOllama))

	w := do(srv, "GET", "/api/v1/providers", "")
	if strings.Contains(w.Body.String(), "sk-secret") {
		t.Error("API key leaked in provider listing")
	}
	if !strings.Contains(w.Body.String(), `"order":2`) {
		t.Errorf("expected dispatch order in listing: %s", w.Body.String())
	}
	var resp struct {
		Data []handler.ProviderView `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Data) != 2 || resp.Data[0].Local || !resp.Data[1].Local {
		t.Errorf("expected only the ollama provider to be local: %+v", resp.Data)
	}
}

func TestServer_ProvidersHealth(t *testing.T) {
	srv := newTestServer(t, "", mock.New("up"), mock.New("down").FailHealth(errors.New("refused")))

	w := do(srv, "GET", "/api/v1/providers/health", "")
	var resp struct {
		Data []health.Status `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Data) != 2 || !resp.Data[0].Healthy || resp.Data[1].Healthy {
		t.Errorf("unexpected statuses: %+v", resp.Data)
	}
}

func TestServer_Models(t *testing.T) {
	srv := newTestServer(t, "", mock.New("a"))

	w := do(srv, "GET", "/api/v1/models?provider=claude", "")
	var resp struct {
		Data []config.ModelConfig `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Data) == 0 {
		t.Fatal("expected built-in claude models")
	}
	for _, m := range resp.Data {
		if m.Provider != "claude" {
			t.Errorf("filter leaked %s model %s", m.Provider, m.Name)
		}
	}
}

func TestServer_ModelsByCapability(t *testing.T) {
	srv := newTestServer(t, "", mock.New("a"))

	w := do(srv, "GET", "/api/v1/models?capability=vision", "")
	var resp struct {
		Data []config.ModelConfig `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Data) == 0 {
		t.Fatal("expected vision models")
	}
	for _, m := range resp.Data {
		if !slices.Contains(m.Capabilities, "vision") {
			t.Errorf("%s/%s listed without vision", m.Provider, m.Name)
		}
	}
}

func TestServer_UsageAndMetrics(t *testing.T) {
	srv := newTestServer(t, "", mock.New("a").WithTokens(10, 10))

	do(srv, "POST", "/api/v1/chat", `{"prompt":"hello"}`)

	w := do(srv, "GET", "/api/v1/usage", "")
	var resp struct {
		Data usage.Snapshot `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Data.Total.Requests != 1 || resp.Data.Providers["a"].TotalTokens != 20 {
		t.Errorf("unexpected snapshot: %+v", resp.Data)
	}

	// no storage configured
	if w := do(srv, "POST", "/api/v1/usage/flush", ""); w.Code != http.StatusConflict {
		t.Errorf("expected 409 without storage, got %d", w.Code)
	}
	// no history store configured
	if w := do(srv, "GET", "/api/v1/usage/history", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 without history, got %d", w.Code)
	}

	m := do(srv, "GET", "/metrics", "")
	if !strings.Contains(m.Body.String(), "switchboard_dispatch_total") {
		t.Error("expected dispatch metrics in exposition")
	}
}
