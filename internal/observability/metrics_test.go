package observability

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsWorkerCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncSubmissionSent()
	metrics.IncSubmissionFailed("Permanent_Error")
	metrics.ObserveSubmissionDuration(120 * time.Millisecond)
	metrics.ObserveAdmissionWait(5 * time.Millisecond)
	metrics.SetGateAvailable(7)
	metrics.IncWorkerInFlight()
	metrics.DecWorkerInFlight()
	metrics.IncRetryScheduled()
	metrics.IncGateStopped()

	if got := testutil.ToFloat64(metrics.submissionsSentTotal); got != 1 {
		t.Fatalf("submissions_sent_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.submissionsFailedTotal.WithLabelValues("permanent_error")); got != 1 {
		t.Fatalf("submissions_failed_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.gateAvailable); got != 7 {
		t.Fatalf("gate_available_permits = %v, want 7", got)
	}
	if got := testutil.ToFloat64(metrics.workerInflight); got != 0 {
		t.Fatalf("worker_inflight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(metrics.retryScheduledTotal); got != 1 {
		t.Fatalf("retry_scheduled_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.gateStoppedTotal); got != 1 {
		t.Fatalf("gate_stopped_total = %v, want 1", got)
	}
}

func TestMetricsFailedReasonFallsBackToUnknown(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	metrics.IncSubmissionFailed("  ")

	if got := testutil.ToFloat64(metrics.submissionsFailedTotal.WithLabelValues("unknown")); got != 1 {
		t.Fatalf("submissions_failed_total{unknown} = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsRequest(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/v1/submissions/:id", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/v1/submissions/abc", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/v1/submissions/:id", "200"))
	if got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsNilReceiverIsSafe(t *testing.T) {
	t.Parallel()

	var metrics *Metrics
	metrics.IncSubmissionSent()
	metrics.IncSubmissionFailed("x")
	metrics.ObserveSubmissionDuration(time.Second)
	metrics.ObserveAdmissionWait(time.Second)
	metrics.SetGateAvailable(1)
	metrics.IncWorkerInFlight()
	metrics.DecWorkerInFlight()
	metrics.IncRetryScheduled()
	metrics.IncGateStopped()

	if metrics.Handler() == nil {
		t.Fatal("Handler() should fall back to the default promhttp handler")
	}
}
