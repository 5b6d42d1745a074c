package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry  *prometheus.Registry
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	inFlight  prometheus.Gauge
	bodyBytes *prometheus.HistogramVec
	rejected  *prometheus.CounterVec
	enqueued  *prometheus.CounterVec
}

func newMetrics(registry *prometheus.Registry) *metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	byRequest := []string{"method", "route", "status"}
	m := &metrics{registry: registry}
	m.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pixelpipe_api_requests_total",
		Help: "HTTP requests served by the API.",
	}, byRequest)
	m.latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pixelpipe_api_request_duration_seconds",
		Help:    "Time to serve an API request, including synchronous processing.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, byRequest)
	m.inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pixelpipe_api_requests_in_flight",
		Help: "API requests currently being served.",
	})
	m.bodyBytes = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pixelpipe_api_response_bytes",
		Help:    "Response body size by route.",
		Buckets: prometheus.ExponentialBuckets(256, 4, 10),
	}, []string{"route"})
	m.rejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pixelpipe_api_rate_limit_rejections_total",
		Help: "Requests refused by admission control, by reason.",
	}, []string{"route", "reason"})
	m.enqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pixelpipe_queue_jobs_enqueued_total",
		Help: "Jobs handed to the processing queue.",
	}, []string{"queue"})

	registry.MustRegister(m.requests, m.latency, m.inFlight, m.bodyBytes, m.rejected, m.enqueued)
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.inFlight.Inc()
		defer m.inFlight.Dec()

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		status := strconv.Itoa(recorder.status)
		m.requests.WithLabelValues(r.Method, route, status).Inc()
		m.latency.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		m.bodyBytes.WithLabelValues(route).Observe(float64(recorder.written))
	})
}

func routeLabel(path string) string {
	switch {
	case path == "/v1/jobs":
		return "/v1/jobs"
	case strings.HasPrefix(path, "/v1/jobs/") && strings.HasSuffix(path, "/start"):
		return "/v1/jobs/{id}/start"
	case strings.HasPrefix(path, "/v1/jobs/"):
		return "/v1/jobs/{id}"
	}
	switch path {
	case "/v1/process", "/v1/metadata", "/v1/stats", "/v1/diagnostics", "/healthz", "/metrics":
		return path
	}
	return "other"
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	n, err := r.ResponseWriter.Write(p)
	r.written += int64(n)
	return n, err
}
