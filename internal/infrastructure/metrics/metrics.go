// Package metrics holds the Prometheus collectors of the backup engine.
// All methods are safe on a nil *Metrics so callers can run without them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "backupd"

type Metrics struct {
	registry *prometheus.Registry

	sweeps        prometheus.Counter
	sweepErrors   prometheus.Counter
	jobsTriggered prometheus.Counter
	jobsChecked   prometheus.Counter
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	artifactBytes prometheus.Histogram
	retries       prometheus.Counter
	notifications *prometheus.CounterVec
	logsDeleted   prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sweeps_total",
			Help: "Due-job sweeps executed.",
		}),
		sweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sweep_job_errors_total",
			Help: "Per-job errors recorded during sweeps.",
		}),
		jobsTriggered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_triggered_total",
			Help: "Jobs enqueued by the due-job sweep.",
		}),
		jobsChecked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_checked_total",
			Help: "Active jobs evaluated by the due-job sweep.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "runs_total",
			Help: "Backup run attempts by outcome.",
		}, []string{"status", "kind"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "run_duration_seconds",
			Help:    "Wall-clock duration of backup run attempts.",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		}),
		artifactBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "artifact_bytes",
			Help:    "Size of delivered backup artifacts.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "run_retries_total",
			Help: "Retries scheduled after unexpected run failures.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "failure_notifications_total",
			Help: "Failure reports sent to destinations by outcome.",
		}, []string{"result"}),
		logsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "execution_logs_deleted_total",
			Help: "Execution records removed by the retention sweep.",
		}),
	}

	reg.MustRegister(
		m.sweeps, m.sweepErrors, m.jobsTriggered, m.jobsChecked,
		m.runs, m.runDuration, m.artifactBytes, m.retries,
		m.notifications, m.logsDeleted,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveSweep(checked, triggered, errors int) {
	if m == nil {
		return
	}
	m.sweeps.Inc()
	m.jobsChecked.Add(float64(checked))
	m.jobsTriggered.Add(float64(triggered))
	m.sweepErrors.Add(float64(errors))
}

func (m *Metrics) ObserveRun(status, kind string, d time.Duration, size int64) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status, kind).Inc()
	m.runDuration.Observe(d.Seconds())
	if size > 0 {
		m.artifactBytes.Observe(float64(size))
	}
}

func (m *Metrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) ObserveFailureNotification(ok bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "error"
	}
	m.notifications.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRetention(deleted int64) {
	if m == nil {
		return
	}
	m.logsDeleted.Add(float64(deleted))
}
