package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the stream dashboard
// backend: transcoding session lifecycle plus both HTTP surfaces.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal        prometheus.Counter
	errorsTotal          prometheus.Counter
	rateLimitedTotal     prometheus.Counter
	segmentRequestsTotal prometheus.Counter

	sessionsStartedTotal prometheus.Counter
	sessionsStoppedTotal prometheus.Counter
	sessionRestartsTotal prometheus.Counter
	sessionFailuresTotal prometheus.Counter
	activeSessions       prometheus.Gauge
}

// New creates and registers the metric set on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamgrid_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamgrid_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		rateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamgrid_rate_limited_total",
			Help: "Total number of control API requests rejected by the rate limiter",
		}),
		segmentRequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamgrid_segment_requests_total",
			Help: "Total number of playlist and segment files served",
		}),
		sessionsStartedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamgrid_transcode_sessions_started_total",
			Help: "Total number of transcoding sessions started",
		}),
		sessionsStoppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamgrid_transcode_sessions_stopped_total",
			Help: "Total number of transcoding sessions explicitly stopped",
		}),
		sessionRestartsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamgrid_transcode_restarts_total",
			Help: "Total number of automatic transcoder respawns after abnormal exits",
		}),
		sessionFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamgrid_transcode_failures_total",
			Help: "Total number of abnormal transcoder exits",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamgrid_transcode_active_sessions",
			Help: "Number of registered transcoding sessions",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.rateLimitedTotal,
		m.segmentRequestsTotal,
		m.sessionsStartedTotal,
		m.sessionsStoppedTotal,
		m.sessionRestartsTotal,
		m.sessionFailuresTotal,
		m.activeSessions,
	)
	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() { m.requestsTotal.Inc() }

// IncErrors increments the error-response counter.
func (m *Metrics) IncErrors() { m.errorsTotal.Inc() }

// IncRateLimited increments the rate-limiter rejection counter.
func (m *Metrics) IncRateLimited() { m.rateLimitedTotal.Inc() }

// IncSegmentRequests increments the served-file counter.
func (m *Metrics) IncSegmentRequests() { m.segmentRequestsTotal.Inc() }

// IncSessionsStarted increments the session-start counter.
func (m *Metrics) IncSessionsStarted() { m.sessionsStartedTotal.Inc() }

// IncSessionsStopped increments the session-stop counter.
func (m *Metrics) IncSessionsStopped() { m.sessionsStoppedTotal.Inc() }

// IncSessionRestarts increments the respawn counter.
func (m *Metrics) IncSessionRestarts() { m.sessionRestartsTotal.Inc() }

// IncSessionFailures increments the abnormal-exit counter.
func (m *Metrics) IncSessionFailures() { m.sessionFailuresTotal.Inc() }

// SetActiveSessions sets the active session gauge.
func (m *Metrics) SetActiveSessions(n int) { m.activeSessions.Set(float64(n)) }

// Handler returns an http.Handler that serves the registry. updateGauges runs
// before each scrape to refresh gauge values (e.g. active sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
