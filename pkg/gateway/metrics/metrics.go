// Package metrics exposes the gateway's Prometheus metrics: request counts
// and latency per route, live session lifecycle, and analysis activity.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's metric families on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	AnalysesTotal *prometheus.CounterVec
}

// New builds and registers all metric families. The namespace defaults to
// "attune".
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "attune"
	}

	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of API requests",
		},
		[]string{"route", "method", "status"},
	)

	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request duration in seconds",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"route", "method"},
	)

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live voice sessions currently running",
		},
	)

	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of finished voice sessions by end reason",
		},
		[]string{"reason"},
	)

	sessionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Voice session duration in seconds",
			Buckets:   []float64{5, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		},
	)

	analysesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Total number of live transcript analyses by urgency",
		},
		[]string{"urgency"},
	)

	registry.MustRegister(
		requestsTotal,
		requestDuration,
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		analysesTotal,
	)

	return &Metrics{
		registry:        registry,
		RequestsTotal:   requestsTotal,
		RequestDuration: requestDuration,
		SessionsActive:  sessionsActive,
		SessionsTotal:   sessionsTotal,
		SessionDuration: sessionDuration,
		AnalysesTotal:   analysesTotal,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records one completed HTTP request.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// SessionStarted marks a voice session as running.
func (m *Metrics) SessionStarted() {
	m.SessionsActive.Inc()
}

// SessionEnded marks a voice session as finished.
func (m *Metrics) SessionEnded(reason string, duration time.Duration) {
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(reason).Inc()
	m.SessionDuration.Observe(duration.Seconds())
}

// AnalysisRecorded counts one completed live analysis.
func (m *Metrics) AnalysisRecorded(urgency string) {
	m.AnalysesTotal.WithLabelValues(urgency).Inc()
}
