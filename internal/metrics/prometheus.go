package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for funcall metrics
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Counters
	messagesReceived *prometheus.CounterVec
	messagesDropped  *prometheus.CounterVec
	publishErrors    *prometheus.CounterVec
	tasksCompleted   *prometheus.CounterVec
	executionsTotal  *prometheus.CounterVec

	// Histograms
	executionDuration *prometheus.HistogramVec

	// Gauges
	uptime    prometheus.GaugeFunc
	inflight  prometheus.Gauge
	liveTasks *prometheus.GaugeVec
}

// Default histogram buckets for execution duration (in milliseconds)
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		messagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_received_total",
				Help:      "Total messages received per channel",
			},
			[]string{"channel"},
		),

		messagesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_dropped_total",
				Help:      "Total messages dropped without a reply",
			},
			[]string{"channel", "reason"},
		),

		publishErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publish_errors_total",
				Help:      "Total failed publishes",
			},
			[]string{"channel"},
		),

		tasksCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_completed_total",
				Help:      "Total tasks that reached COMPLETED",
			},
			[]string{"role", "exit_code"},
		),

		executionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_total",
				Help:      "Total function executions",
			},
			[]string{"function", "exit_code"},
		),

		executionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_milliseconds",
				Help:      "Duration of function executions in milliseconds",
				Buckets:   buckets,
			},
			[]string{"function"},
		),

		inflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "inflight_executions",
				Help:      "Number of executions currently running",
			},
		),

		liveTasks: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "live_tasks",
				Help:      "Number of tasks tracked by an endpoint",
			},
			[]string{"role"},
		),
	}

	startTime := time.Now()
	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the process started",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)

	registry.MustRegister(
		pm.messagesReceived,
		pm.messagesDropped,
		pm.publishErrors,
		pm.tasksCompleted,
		pm.executionsTotal,
		pm.executionDuration,
		pm.uptime,
		pm.inflight,
		pm.liveTasks,
	)

	promMetrics = pm
}

func promRecordMessageReceived(channel string) {
	if promMetrics == nil {
		return
	}
	promMetrics.messagesReceived.WithLabelValues(channel).Inc()
}

func promRecordMessageDropped(channel, reason string) {
	if promMetrics == nil {
		return
	}
	promMetrics.messagesDropped.WithLabelValues(channel, reason).Inc()
}

func promRecordPublishError(channel string) {
	if promMetrics == nil {
		return
	}
	promMetrics.publishErrors.WithLabelValues(channel).Inc()
}

func promRecordTaskCompleted(role, exitCode string) {
	if promMetrics == nil {
		return
	}
	promMetrics.tasksCompleted.WithLabelValues(role, exitCode).Inc()
}

func promRecordExecution(function string, durationMs float64, exitCode string) {
	if promMetrics == nil {
		return
	}
	promMetrics.executionsTotal.WithLabelValues(function, exitCode).Inc()
	promMetrics.executionDuration.WithLabelValues(function).Observe(durationMs)
}

func promIncInflight() {
	if promMetrics == nil {
		return
	}
	promMetrics.inflight.Inc()
}

func promDecInflight() {
	if promMetrics == nil {
		return
	}
	promMetrics.inflight.Dec()
}

func promSetLiveTasks(role string, n int) {
	if promMetrics == nil {
		return
	}
	promMetrics.liveTasks.WithLabelValues(role).Set(float64(n))
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics scraping
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the prometheus registry (for custom collectors)
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
