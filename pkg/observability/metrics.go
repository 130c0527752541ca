package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the service's Prometheus instrumentation. A dedicated
// registry keeps tests isolated from the default one.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	activeStreams    prometheus.Gauge
	streamEventsSent *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kepler_http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kepler_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kepler_active_streams",
			Help: "Streams currently open.",
		}),
		streamEventsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kepler_stream_events_sent_total",
			Help: "SSE events sent by event type.",
		}, []string{"event"}),
	}
	registry.MustRegister(m.requestsTotal, m.requestDuration, m.activeStreams, m.streamEventsSent)
	return m
}

func (m *Metrics) RecordRequest(method, route string, status int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, route, statusLabel(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (m *Metrics) StreamOpened() { m.activeStreams.Inc() }
func (m *Metrics) StreamClosed() { m.activeStreams.Dec() }

func (m *Metrics) EventSent(event string) {
	m.streamEventsSent.WithLabelValues(event).Inc()
}

// Handler serves the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func statusLabel(status int) string {
	switch {
	case status < 200:
		return "1xx"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
