package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pitabwire/onboard/internal/config"
	"github.com/pitabwire/onboard/internal/notify"
	"github.com/pitabwire/onboard/internal/observability"
	"github.com/pitabwire/onboard/internal/onboarding"
	"github.com/pitabwire/onboard/internal/openapi"
	"github.com/pitabwire/onboard/internal/store"
	"github.com/pitabwire/onboard/internal/workflow"
	"github.com/pitabwire/onboard/model"
)

type routerHarness struct {
	router   chi.Router
	entities *store.MemoryStore
	sessions *workflow.MemorySessionStore
}

func newRouterHarness(t *testing.T) *routerHarness {
	t.Helper()

	cfg := config.Defaults()
	logger := zap.NewNop()
	entities := store.NewMemoryStore()
	sessions := workflow.NewMemorySessionStore()
	metrics := observability.InitMetrics(prometheus.NewRegistry())

	registry := onboarding.Registry(entities, notify.NewLogNotifier(logger), logger)
	engine := workflow.NewEngine(registry, sessions, time.Hour, logger, metrics)

	router := NewRouter(Dependencies{
		Config:  cfg,
		Logger:  logger,
		Engine:  engine,
		Metrics: metrics,
		Readiness: observability.ReadinessChecks{
			WorkflowsRegistered: func() bool { return true },
			EntityStore:         entities,
			SessionStore:        sessions,
		},
		OpenAPISpec: openapi.Spec(),
	})

	return &routerHarness{router: router, entities: entities, sessions: sessions}
}

func (h *routerHarness) submit(t *testing.T, kind string, step int, body stepRequest) (*httptest.ResponseRecorder, model.StepOutcome) {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost,
		"/v1/onboarding/"+kind+"/steps/"+strconv.Itoa(step), bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	var outcome model.StepOutcome
	if rec.Code == http.StatusOK {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&outcome))
	}
	return rec, outcome
}

func TestRouter_registration_round_trip(t *testing.T) {
	h := newRouterHarness(t)

	rec, step1 := h.submit(t, "register", 1, stepRequest{
		Fields: map[string]string{"email": "a@x.com"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.OutcomeAdvance, step1.Outcome)
	assert.Equal(t, 2, step1.NextStep)
	require.NotEmpty(t, step1.InstanceID)

	inst, err := h.sessions.Get(context.Background(), step1.InstanceID)
	require.NoError(t, err)
	code := inst.State["validation_key"]
	require.Regexp(t, `^\d{6}$`, code)

	rec, step2 := h.submit(t, "register", 2, stepRequest{
		InstanceID: step1.InstanceID,
		Fields:     map[string]string{"validation_key": code},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.OutcomeAdvance, step2.Outcome)

	rec, step3 := h.submit(t, "register", 3, stepRequest{
		InstanceID: step1.InstanceID,
		Fields: map[string]string{
			"first_name":            "A",
			"last_name":             "B",
			"password":              "secret1",
			"password_confirmation": "secret1",
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.OutcomeAdvance, step3.Outcome)

	rec, step4 := h.submit(t, "register", 4, stepRequest{
		InstanceID: step1.InstanceID,
		Fields:     map[string]string{"organization_name": "Acme", "description": ""},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.OutcomeFinalized, step4.Outcome)
	assert.Equal(t,
		"Organization created successfully. Now sign in to your organization!",
		step4.Message)

	users, orgs, categories := h.entities.Counts()
	assert.Equal(t, 1, users)
	assert.Equal(t, 1, orgs)
	assert.Equal(t, 6, categories)
}

func TestRouter_rejection_surfaces_field_errors(t *testing.T) {
	h := newRouterHarness(t)

	rec, outcome := h.submit(t, "register", 1, stepRequest{
		Fields: map[string]string{"email": "not-an-address"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.OutcomeRejected, outcome.Outcome)
	require.Len(t, outcome.Errors, 1)
	assert.Equal(t, "email", outcome.Errors[0].Field)
}

func TestRouter_unknown_step_is_not_found(t *testing.T) {
	h := newRouterHarness(t)

	rec, _ := h.submit(t, "register", 9, stepRequest{Fields: map[string]string{}})
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp struct {
		Outcome string               `json:"outcome"`
		Error   *model.ErrorEnvelope `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, model.OutcomeNotFound, resp.Outcome)
	assert.Equal(t, model.ErrStepNotFound, resp.Error.Code)
}

func TestRouter_out_of_order_step_conflicts(t *testing.T) {
	h := newRouterHarness(t)

	rec, step1 := h.submit(t, "register", 1, stepRequest{
		Fields: map[string]string{"email": "a@x.com"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = h.submit(t, "register", 4, stepRequest{
		InstanceID: step1.InstanceID,
		Fields:     map[string]string{"organization_name": "Acme"},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRouter_malformed_requests(t *testing.T) {
	h := newRouterHarness(t)

	// Non-numeric step.
	req := httptest.NewRequest(http.MethodPost,
		"/v1/onboarding/register/steps/first", bytes.NewReader([]byte(`{"fields":{}}`)))
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Invalid JSON body.
	req = httptest.NewRequest(http.MethodPost,
		"/v1/onboarding/register/steps/1", bytes.NewReader([]byte(`{not json`)))
	rec = httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_describe_step(t *testing.T) {
	h := newRouterHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/onboarding/register/steps/3", nil)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var desc workflow.StepDescriptor
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&desc))
	assert.Equal(t, "register", desc.Kind)
	assert.Equal(t, []string{"first_name", "last_name", "password"}, desc.Fields)
	assert.False(t, desc.Final)
}

func TestRouter_operational_endpoints(t *testing.T) {
	h := newRouterHarness(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/openapi.yaml"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, "endpoint %s", path)
	}
}

func TestRouter_sets_correlation_and_security_headers(t *testing.T) {
	h := newRouterHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	assert.NotEmpty(t, rec.Header().Get("X-Correlation-Id"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestRouter_echoes_provided_correlation_id(t *testing.T) {
	h := newRouterHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-Id", "corr-123")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	assert.Equal(t, "corr-123", rec.Header().Get("X-Correlation-Id"))
}
