package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitMetrics_registersWithoutPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)
	if m == nil {
		t.Fatal("InitMetrics returned nil")
	}
}

func TestRecordStepSubmission(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)

	m.RecordStepSubmission("register", 1, "advance")
	m.RecordStepSubmission("register", 1, "advance")
	m.RecordStepSubmission("register", 2, "rejected")

	got := testutil.ToFloat64(m.StepSubmissionsTotal.WithLabelValues("register", "1", "advance"))
	if got != 2 {
		t.Errorf("advance count = %v, want 2", got)
	}
	got = testutil.ToFloat64(m.StepSubmissionsTotal.WithLabelValues("register", "2", "rejected"))
	if got != 1 {
		t.Errorf("rejected count = %v, want 1", got)
	}
}

func TestRecordFinalization(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)

	m.RecordFinalization("register", true)
	m.RecordFinalization("join", false)

	if got := testutil.ToFloat64(m.FinalizationsTotal.WithLabelValues("register", "success")); got != 1 {
		t.Errorf("success count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.FinalizationsTotal.WithLabelValues("join", "failure")); got != 1 {
		t.Errorf("failure count = %v, want 1", got)
	}
}

func TestRecordExpiredInstances(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)

	m.RecordExpiredInstances(3)
	m.RecordExpiredInstances(2)

	if got := testutil.ToFloat64(m.ExpiredInstancesTotal); got != 5 {
		t.Errorf("expired count = %v, want 5", got)
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)

	m.RecordHTTPRequest("POST", "/v1/onboarding/{kind}/steps/{step}", 200, 50*time.Millisecond, 128, 256)

	got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/v1/onboarding/{kind}/steps/{step}", "200"))
	if got != 1 {
		t.Errorf("requests count = %v, want 1", got)
	}
}

func TestMetricsMiddleware_recordsStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)

	handler := m.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("nope"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/missing", "404"))
	if got != 1 {
		t.Errorf("requests count = %v, want 1", got)
	}
}
