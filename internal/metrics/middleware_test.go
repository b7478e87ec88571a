package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func routed(pattern string, h http.HandlerFunc) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, h)
	return mux
}

func TestHTTPMiddleware(t *testing.T) {
	reg := NewRegistry()

	mux := routed("GET /api/v1/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	wrapped := HTTPMiddleware(reg)(mux)

	for _, id := range []string{"job_1", "job_2"} {
		w := httptest.NewRecorder()
		wrapped.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/jobs/"+id, nil))
		if w.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", w.Code)
		}
	}

	if got := testutil.ToFloat64(reg.httpRequestsTotal.WithLabelValues("GET", "GET /api/v1/jobs/{id}", "2xx")); got != 2 {
		t.Errorf("expected both requests under the route pattern, got %v", got)
	}
	if n := testutil.CollectAndCount(reg.httpRequestDuration); n != 1 {
		t.Errorf("expected one duration series, got %d", n)
	}
}

func TestHTTPMiddleware_UnmatchedPathsShareOneLabel(t *testing.T) {
	reg := NewRegistry()
	wrapped := HTTPMiddleware(reg)(routed("GET /api/health", func(w http.ResponseWriter, r *http.Request) {}))

	for _, path := range []string{"/wp-admin", "/.env", "/api/v1/nope/123"} {
		w := httptest.NewRecorder()
		wrapped.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, w.Code)
		}
	}

	if got := testutil.ToFloat64(reg.httpRequestsTotal.WithLabelValues("GET", UnmatchedPath, "4xx")); got != 3 {
		t.Errorf("expected 3 unmatched requests, got %v", got)
	}
	if n := testutil.CollectAndCount(reg.httpRequestsTotal); n != 1 {
		t.Errorf("expected a single request series, got %d", n)
	}
}

func TestHTTPMiddleware_TracksInFlight(t *testing.T) {
	reg := NewRegistry()

	inFlightDuringRequest := float64(-1)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inFlightDuringRequest = testutil.ToFloat64(reg.httpRequestsInFlight)
		w.WriteHeader(http.StatusOK)
	})

	wrapped := HTTPMiddleware(reg)(handler)
	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/test", nil))

	if inFlightDuringRequest != 1 {
		t.Errorf("expected in-flight to be 1 during request, got %v", inFlightDuringRequest)
	}
	if got := testutil.ToFloat64(reg.httpRequestsInFlight); got != 0 {
		t.Errorf("expected in-flight to be 0 after request, got %v", got)
	}
}

func TestHTTPMiddleware_CapturesStatusCode(t *testing.T) {
	reg := NewRegistry()

	mux := routed("POST /api/v1/chat", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	wrapped := HTTPMiddleware(reg)(mux)
	w := httptest.NewRecorder()
	wrapped.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/chat", nil))

	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}
	if got := testutil.ToFloat64(reg.httpRequestsTotal.WithLabelValues("POST", "POST /api/v1/chat", "5xx")); got != 1 {
		t.Errorf("expected 5xx label, got %v", got)
	}
}
