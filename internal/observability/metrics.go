package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the API and worker flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	submissionsSentTotal   prometheus.Counter
	submissionsFailedTotal *prometheus.CounterVec
	submissionDuration     prometheus.Histogram
	admissionWaitDuration  prometheus.Histogram
	gateAvailable          prometheus.Gauge
	workerInflight         prometheus.Gauge
	retryScheduledTotal    prometheus.Counter
	gateStoppedTotal       prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "crpt_relay",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "crpt_relay",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		submissionsSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "crpt_relay",
				Name:      "submissions_sent_total",
				Help:      "Total number of documents the registry accepted.",
			},
		),
		submissionsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "crpt_relay",
				Name:      "submissions_failed_total",
				Help:      "Total number of submissions that ended in failed state.",
			},
			[]string{"reason"},
		),
		submissionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "crpt_relay",
				Name:      "submission_duration_seconds",
				Help:      "Registry call duration in seconds, admission wait excluded.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		admissionWaitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "crpt_relay",
				Name:      "admission_wait_seconds",
				Help:      "Time spent waiting for a gate permit before the registry call.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
			},
		),
		gateAvailable: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "crpt_relay",
				Name:      "gate_available_permits",
				Help:      "Permits left in the current rate window.",
			},
		),
		workerInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "crpt_relay",
				Name:      "worker_inflight",
				Help:      "Current number of in-flight worker submissions.",
			},
		),
		retryScheduledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "crpt_relay",
				Name:      "retry_scheduled_total",
				Help:      "Total number of submissions scheduled for retry.",
			},
		),
		gateStoppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "crpt_relay",
				Name:      "gate_stopped_total",
				Help:      "Count of admission attempts refused because the gate timer was stopped.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.submissionsSentTotal,
		m.submissionsFailedTotal,
		m.submissionDuration,
		m.admissionWaitDuration,
		m.gateAvailable,
		m.workerInflight,
		m.retryScheduledTotal,
		m.gateStoppedTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncSubmissionSent() {
	if m == nil {
		return
	}
	m.submissionsSentTotal.Inc()
}

func (m *Metrics) IncSubmissionFailed(reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.submissionsFailedTotal.WithLabelValues(reasonLabel).Inc()
}

func (m *Metrics) ObserveSubmissionDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.submissionDuration.Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) ObserveAdmissionWait(duration time.Duration) {
	if m == nil {
		return
	}
	m.admissionWaitDuration.Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) SetGateAvailable(permits int) {
	if m == nil {
		return
	}
	m.gateAvailable.Set(float64(permits))
}

func (m *Metrics) IncWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Inc()
}

func (m *Metrics) DecWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Dec()
}

func (m *Metrics) IncRetryScheduled() {
	if m == nil {
		return
	}
	m.retryScheduledTotal.Inc()
}

func (m *Metrics) IncGateStopped() {
	if m == nil {
		return
	}
	m.gateStoppedTotal.Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func nonNegativeSeconds(duration time.Duration) float64 {
	seconds := duration.Seconds()
	if seconds < 0 {
		return 0
	}
	return seconds
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}
