package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for Stagehand. All record
// methods are safe to call on a disabled (no-op) instance.
type Metrics struct {
	config MetricsConfig

	playsStarted   *prometheus.CounterVec
	playsCompleted *prometheus.CounterVec
	playDuration   *prometheus.HistogramVec

	tasksExecuted *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec

	handlersFired *prometheus.CounterVec

	hostsTargeted prometheus.Counter
	activePlays   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given
// configuration. A disabled configuration yields a no-op instance.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
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

		playsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plays_started_total",
				Help:      "Total number of plays started",
			},
			[]string{"play"},
		),
		playsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plays_completed_total",
				Help:      "Total number of plays completed",
			},
			[]string{"status"},
		),
		playDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "play_duration_seconds",
				Help:      "Duration of play execution in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		tasksExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_executed_total",
				Help:      "Total number of task executions by module and status",
			},
			[]string{"module", "status"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Duration of task execution in seconds",
				Buckets:   buckets,
			},
			[]string{"module"},
		),
		handlersFired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handlers_fired_total",
				Help:      "Total number of handlers fired",
			},
			[]string{"play"},
		),
		hostsTargeted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "hosts_targeted_total",
				Help:      "Total number of host flows started",
			},
		),
		activePlays: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_plays",
				Help:      "Current number of plays executing",
			},
		),
	}

	registry.MustRegister(
		m.playsStarted,
		m.playsCompleted,
		m.playDuration,
		m.tasksExecuted,
		m.taskDuration,
		m.handlersFired,
		m.hostsTargeted,
		m.activePlays,
	)

	return m, nil
}

// RecordPlayStarted increments the counter for started plays.
func (m *Metrics) RecordPlayStarted(play string) {
	if m.playsStarted == nil {
		return
	}
	m.playsStarted.WithLabelValues(play).Inc()
	m.activePlays.Inc()
}

// RecordPlayCompleted records a completed play with its status and duration.
func (m *Metrics) RecordPlayCompleted(status string, duration time.Duration) {
	if m.playsCompleted == nil {
		return
	}
	m.playsCompleted.WithLabelValues(status).Inc()
	m.playDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activePlays.Dec()
}

// RecordTaskExecution records one task execution.
func (m *Metrics) RecordTaskExecution(module, status string, duration time.Duration) {
	if m.tasksExecuted == nil {
		return
	}
	m.tasksExecuted.WithLabelValues(module, status).Inc()
	m.taskDuration.WithLabelValues(module).Observe(duration.Seconds())
}

// RecordHandlerFired records a handler firing for a play.
func (m *Metrics) RecordHandlerFired(play string) {
	if m.handlersFired == nil {
		return
	}
	m.handlersFired.WithLabelValues(play).Inc()
}

// RecordHostTargeted records the start of a host flow.
func (m *Metrics) RecordHostTargeted() {
	if m.hostsTargeted == nil {
		return
	}
	m.hostsTargeted.Inc()
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

// StartMetricsServer starts an HTTP server exposing the metrics
// endpoint. It is a no-op when metrics are disabled.
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
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
