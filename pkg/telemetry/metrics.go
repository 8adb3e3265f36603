package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the updraft engine.
type Metrics struct {
	config MetricsConfig

	// Update metrics
	updatesStarted   *prometheus.CounterVec
	updatesCompleted *prometheus.CounterVec
	updateDuration   *prometheus.HistogramVec

	// Step metrics
	stepsApplied *prometheus.CounterVec

	// Instance metrics
	instanceChanges *prometheus.CounterVec

	// Dependency metrics
	dependenciesPruned prometheus.Counter

	// Error metrics
	errorsByClass *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		updatesStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "updates_started_total",
				Help:      "Total number of deployment updates started",
			},
			[]string{"deployment"},
		),
		updatesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "updates_completed_total",
				Help:      "Total number of deployment updates completed",
			},
			[]string{"status"},
		),
		updateDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "update_duration_seconds",
				Help:      "Duration of deployment update reconciliation in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		stepsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_applied_total",
				Help:      "Total number of update steps applied",
			},
			[]string{"entity_type", "action"},
		),
		instanceChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "instance_changes_total",
				Help:      "Total number of node instance changes applied",
			},
			[]string{"change"},
		),
		dependenciesPruned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dependencies_pruned_total",
				Help:      "Total number of stale inter-deployment dependency edges removed",
			},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
	}

	registry.MustRegister(
		m.updatesStarted,
		m.updatesCompleted,
		m.updateDuration,
		m.stepsApplied,
		m.instanceChanges,
		m.dependenciesPruned,
		m.errorsByClass,
	)

	return m, nil
}

// RecordUpdateStarted increments the counter for started updates.
func (m *Metrics) RecordUpdateStarted(deploymentID string) {
	if m.updatesStarted == nil {
		return
	}
	m.updatesStarted.WithLabelValues(deploymentID).Inc()
}

// RecordUpdateCompleted records a completed update with its status and duration.
func (m *Metrics) RecordUpdateCompleted(status string, duration time.Duration) {
	if m.updatesCompleted == nil {
		return
	}
	m.updatesCompleted.WithLabelValues(status).Inc()
	m.updateDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordStepApplied records one applied step.
func (m *Metrics) RecordStepApplied(entityType, action string) {
	if m.stepsApplied == nil {
		return
	}
	m.stepsApplied.WithLabelValues(entityType, action).Inc()
}

// RecordInstanceChange records one node instance change by bucket.
func (m *Metrics) RecordInstanceChange(change string) {
	if m.instanceChanges == nil {
		return
	}
	m.instanceChanges.WithLabelValues(change).Inc()
}

// RecordDependencyPruned records the removal of a stale dependency edge.
func (m *Metrics) RecordDependencyPruned() {
	if m.dependenciesPruned == nil {
		return
	}
	m.dependenciesPruned.Inc()
}

// RecordError records an error by class.
func (m *Metrics) RecordError(errorClass string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		_ = server.ListenAndServe()
	}()

	return nil
}
