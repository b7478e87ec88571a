package metrics

import (
	"net/http"

	"github.com/newthinker/switchboard/internal/dispatch"
	"github.com/newthinker/switchboard/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all Prometheus metrics.
type Registry struct {
	*prometheus.Registry

	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Dispatch metrics
	dispatchTotal    *prometheus.CounterVec
	dispatchDuration prometheus.Histogram
	attemptsTotal    *prometheus.CounterVec
	attemptDuration  *prometheus.HistogramVec
	tokensTotal      *prometheus.CounterVec
	costTotal        *prometheus.CounterVec
	providerUp       *prometheus.GaugeVec
	jobsActive       prometheus.Gauge
}

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	// Register Go runtime metrics
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
		),
	}

	reg.MustRegister(r.httpRequestsTotal)
	reg.MustRegister(r.httpRequestDuration)
	reg.MustRegister(r.httpRequestsInFlight)

	r.dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchboard_dispatch_total",
			Help: "Total number of dispatches by outcome",
		},
		[]string{"outcome"},
	)
	r.dispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "switchboard_dispatch_duration_seconds",
			Help:    "End-to-end dispatch duration in seconds, across all attempts",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)
	r.attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchboard_provider_attempts_total",
			Help: "Total number of provider attempts by error kind (ok on success)",
		},
		[]string{"provider", "kind"},
	)
	r.attemptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "switchboard_provider_attempt_duration_seconds",
			Help:    "Provider attempt latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)
	r.tokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchboard_tokens_total",
			Help: "Total tokens consumed by direction",
		},
		[]string{"provider", "direction"},
	)
	r.costTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchboard_cost_total",
			Help: "Accumulated cost (tokens times cost multiplier)",
		},
		[]string{"provider"},
	)
	r.providerUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "switchboard_provider_up",
			Help: "1 if the last health check passed",
		},
		[]string{"provider"},
	)
	r.jobsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "switchboard_jobs_active",
			Help: "Number of queued or running async dispatch jobs",
		},
	)

	reg.MustRegister(r.dispatchTotal)
	reg.MustRegister(r.dispatchDuration)
	reg.MustRegister(r.attemptsTotal)
	reg.MustRegister(r.attemptDuration)
	reg.MustRegister(r.tokensTotal)
	reg.MustRegister(r.costTotal)
	reg.MustRegister(r.providerUp)
	reg.MustRegister(r.jobsActive)

	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Registry, promhttp.HandlerOpts{Registry: r.Registry})
}

// RecordRequest records metrics for an HTTP request.
func (r *Registry) RecordRequest(method, path string, status int, duration float64) {
	statusStr := statusToString(status)
	r.httpRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	r.httpRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// InFlightInc increments in-flight requests.
func (r *Registry) InFlightInc() {
	r.httpRequestsInFlight.Inc()
}

// InFlightDec decrements in-flight requests.
func (r *Registry) InFlightDec() {
	r.httpRequestsInFlight.Dec()
}

// OnAttempt records one provider attempt.
func (r *Registry) OnAttempt(a dispatch.Attempt) {
	kind := "ok"
	if !a.Succeeded() {
		kind = a.Kind
	}
	r.attemptsTotal.WithLabelValues(a.Provider, kind).Inc()
	r.attemptDuration.WithLabelValues(a.Provider).Observe(a.Latency.Seconds())

	if a.Succeeded() {
		r.tokensTotal.WithLabelValues(a.Provider, "input").Add(float64(a.Usage.InputTokens))
		r.tokensTotal.WithLabelValues(a.Provider, "output").Add(float64(a.Usage.OutputTokens))
		r.costTotal.WithLabelValues(a.Provider).Add(a.Cost)
	}
}

// OnComplete records a finished dispatch.
func (r *Registry) OnComplete(o dispatch.Outcome) {
	outcome := "success"
	switch {
	case !o.Succeeded():
		outcome = "failed"
	case o.Result.FailedOver():
		outcome = "failover"
	}
	r.dispatchTotal.WithLabelValues(outcome).Inc()
	r.dispatchDuration.Observe(o.Duration.Seconds())
}

// ObserveHealth sets the provider_up gauge from a round of health checks.
func (r *Registry) ObserveHealth(statuses []health.Status) {
	for _, st := range statuses {
		v := 0.0
		if st.Healthy {
			v = 1
		}
		r.providerUp.WithLabelValues(st.Provider).Set(v)
	}
}

// SetJobsActive sets the number of pending async jobs.
func (r *Registry) SetJobsActive(count int) {
	r.jobsActive.Set(float64(count))
}

func statusToString(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
