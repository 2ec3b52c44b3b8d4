// Package metrics exposes Prometheus collectors for imports.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "attendance_import"

// Row outcomes.
const (
	OutcomeProcessed = "processed"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// durationBuckets spans small CSVs to large workbooks, in seconds.
var durationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

// Manager owns a private registry so the default Go collectors stay out of
// the import metrics.
type Manager struct {
	registry *prometheus.Registry

	imports        *prometheus.CounterVec
	rows           *prometheus.CounterVec
	chunkFailures  *prometheus.CounterVec
	importDuration prometheus.Histogram
	httpRequests   *prometheus.CounterVec
}

// NewManager creates a Manager with its collectors registered.
func NewManager() *Manager {
	m := &Manager{registry: prometheus.NewRegistry()}
	auto := promauto.With(m.registry)

	m.imports = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "imports_total",
		Help:      "Imports by final status (success, partial_success, failed, fault).",
	}, []string{"status"})

	m.rows = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rows_total",
		Help:      "Data rows by outcome.",
	}, []string{"outcome"})

	m.chunkFailures = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chunk_failures_total",
		Help:      "Persistence chunks rolled back, by entity kind.",
	}, []string{"entity"})

	m.importDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "duration_seconds",
		Help:      "Wall time of one import.",
		Buckets:   durationBuckets,
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method and status code.",
	}, []string{"route", "method", "code"})

	return m
}

// ObserveImport records one finished import.
func (m *Manager) ObserveImport(status string, d time.Duration) {
	m.imports.WithLabelValues(status).Inc()
	m.importDuration.Observe(d.Seconds())
}

// AddRows counts n rows with the given outcome.
func (m *Manager) AddRows(outcome string, n int) {
	if n > 0 {
		m.rows.WithLabelValues(outcome).Add(float64(n))
	}
}

// ChunkFailed counts one rolled-back chunk.
func (m *Manager) ChunkFailed(entity string) {
	m.chunkFailures.WithLabelValues(entity).Inc()
}

// ObserveRequest counts one HTTP request.
func (m *Manager) ObserveRequest(route, method string, code int) {
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
