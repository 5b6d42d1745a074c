package worker

import (
	"net/http"
	"time"

	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry  *prometheus.Registry
	jobs      *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	queueWait prometheus.Histogram
	failures  *prometheus.CounterVec
	active    prometheus.Gauge
	pixels    prometheus.Counter
	saved     prometheus.Counter
	computeMS prometheus.Counter
}

func newMetrics(registry *prometheus.Registry) *metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	bySourceAndStatus := []string{"source", "status"}
	m := &metrics{registry: registry}
	m.jobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pixelpipe_worker_jobs_total",
		Help: "Jobs handled by the worker, by input source and final status.",
	}, bySourceAndStatus)
	m.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pixelpipe_worker_job_duration_seconds",
		Help:    "Wall time from dequeue to final status.",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, bySourceAndStatus)
	m.queueWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pixelpipe_worker_queue_wait_seconds",
		Help:    "Time a job spent queued before a worker picked it up.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})
	m.failures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pixelpipe_worker_failures_total",
		Help: "Failed jobs by pipeline error kind.",
	}, []string{"kind"})
	m.active = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pixelpipe_worker_active_jobs",
		Help: "Jobs currently holding a worker slot.",
	})
	m.pixels = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pixelpipe_usage_pixels_processed_total",
		Help: "Output pixels produced by successful jobs.",
	})
	m.saved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pixelpipe_usage_bytes_saved_total",
		Help: "Input bytes minus output bytes over successful jobs, never negative per job.",
	})
	m.computeMS = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pixelpipe_usage_compute_time_ms_total",
		Help: "Milliseconds spent on successful jobs.",
	})

	registry.MustRegister(m.jobs, m.duration, m.queueWait, m.failures, m.active, m.pixels, m.saved, m.computeMS)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) observeJob(source, status string, elapsed time.Duration) {
	m.jobs.WithLabelValues(source, status).Inc()
	m.duration.WithLabelValues(source, status).Observe(elapsed.Seconds())
}

// observeQueued is skipped for payloads without a request time.
func (m *metrics) observeQueued(requestedAt, startedAt time.Time) {
	if requestedAt.IsZero() || startedAt.Before(requestedAt) {
		return
	}
	m.queueWait.Observe(startedAt.Sub(requestedAt).Seconds())
}

func (m *metrics) observeUsage(usage domain.UsageLog) {
	m.pixels.Add(float64(usage.PixelsProcessed))
	m.saved.Add(float64(usage.BytesSaved))
	m.computeMS.Add(float64(usage.ComputeTimeMS))
}
