package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleHealth_returnsOK(t *testing.T) {
	origVersion, origCommit := Version, Commit
	Version = "1.2.3"
	Commit = "abc1234"
	t.Cleanup(func() {
		Version = origVersion
		Commit = origCommit
	})

	handler := HandleHealth()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.Version != "1.2.3" {
		t.Errorf("version = %q, want 1.2.3", resp.Version)
	}
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) HealthCheck(_ context.Context) error {
	return m.err
}

func TestHandleReady_allHealthy(t *testing.T) {
	checks := ReadinessChecks{
		WorkflowsRegistered: func() bool { return true },
		EntityStore:         &mockHealthChecker{},
		SessionStore:        &mockHealthChecker{},
	}

	handler := HandleReady(checks)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp ReadinessResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Status != "ready" {
		t.Errorf("status = %q, want ready", resp.Status)
	}
	if len(resp.Checks) != 3 {
		t.Errorf("checks count = %d, want 3", len(resp.Checks))
	}
	for name, check := range resp.Checks {
		if check.Status != "ok" {
			t.Errorf("%s = %q, want ok", name, check.Status)
		}
	}
}

func TestHandleReady_noWorkflowsRegistered(t *testing.T) {
	checks := ReadinessChecks{
		WorkflowsRegistered: func() bool { return false },
	}

	handler := HandleReady(checks)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	var resp ReadinessResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Status != "not_ready" {
		t.Errorf("status = %q, want not_ready", resp.Status)
	}
	if resp.Checks["workflows"].Status != "error" {
		t.Errorf("workflows = %q, want error", resp.Checks["workflows"].Status)
	}
}

func TestHandleReady_sessionStoreDown(t *testing.T) {
	checks := ReadinessChecks{
		WorkflowsRegistered: func() bool { return true },
		SessionStore:        &mockHealthChecker{err: errors.New("redis timeout")},
	}

	handler := HandleReady(checks)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	var resp ReadinessResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Checks["session_store"].Status != "error" {
		t.Errorf("session_store = %q, want error", resp.Checks["session_store"].Status)
	}
	if resp.Checks["session_store"].Error != "redis timeout" {
		t.Errorf("session_store error = %q, want 'redis timeout'", resp.Checks["session_store"].Error)
	}
}

func TestHandleReady_withoutOptionalChecks(t *testing.T) {
	checks := ReadinessChecks{
		WorkflowsRegistered: func() bool { return true },
	}

	handler := HandleReady(checks)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	var resp ReadinessResponse
	json.NewDecoder(rec.Body).Decode(&resp)

	if len(resp.Checks) != 1 {
		t.Errorf("checks count = %d, want 1 (only required checks)", len(resp.Checks))
	}
	if _, ok := resp.Checks["entity_store"]; ok {
		t.Error("entity_store should not be in checks when nil")
	}
}
