// Package integration provides a reusable test harness for end-to-end
// integration testing of the onboarding server. It starts a full HTTP server
// with in-memory stores and a capturing notifier.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/onboard/internal/config"
	"github.com/pitabwire/onboard/internal/observability"
	"github.com/pitabwire/onboard/internal/onboarding"
	"github.com/pitabwire/onboard/internal/openapi"
	"github.com/pitabwire/onboard/internal/store"
	"github.com/pitabwire/onboard/internal/transport"
	"github.com/pitabwire/onboard/internal/workflow"
)

// TestHarness encapsulates a fully wired onboarding server for integration
// testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server

	// Internal components exposed for advanced test scenarios.
	Entities *store.MemoryStore
	Sessions *workflow.MemorySessionStore
	Engine   *workflow.Engine

	// Codes receives every verification code the server sends, tagged with
	// the recipient address.
	Codes chan SentCode
}

// SentCode is one captured verification-code delivery.
type SentCode struct {
	Email string
	Code  string
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	instanceTTL    time.Duration
	handlerTimeout time.Duration
}

// WithInstanceTTL sets the workflow instance lifetime.
func WithInstanceTTL(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.instanceTTL = d
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// NewTestHarness builds and starts a complete server instance. The server is
// shut down automatically when the test finishes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		instanceTTL:    time.Hour,
		handlerTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(hc)
	}

	cfg := config.Defaults()
	cfg.Server.HandlerTimeout = hc.handlerTimeout
	cfg.Workflow.InstanceTTL = hc.instanceTTL

	logger := zap.NewNop()
	entities := store.NewMemoryStore()
	sessions := workflow.NewMemorySessionStore()
	metrics := observability.InitMetrics(prometheus.NewRegistry())

	h := &TestHarness{
		t:        t,
		Entities: entities,
		Sessions: sessions,
		Codes:    make(chan SentCode, 16),
	}

	registry := onboarding.Registry(entities, codeCapture{h}, logger)
	h.Engine = workflow.NewEngine(registry, sessions, hc.instanceTTL, logger, metrics)

	router := transport.NewRouter(transport.Dependencies{
		Config:  cfg,
		Logger:  logger,
		Engine:  h.Engine,
		Metrics: metrics,
		Readiness: observability.ReadinessChecks{
			WorkflowsRegistered: func() bool { return len(registry.Kinds()) > 0 },
			EntityStore:         entities,
			SessionStore:        sessions,
		},
		OpenAPISpec: openapi.Spec(),
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// codeCapture satisfies notify.Notifier and feeds the harness channel.
type codeCapture struct {
	h *TestHarness
}

func (c codeCapture) SendVerificationCode(_ context.Context, email, code string) error {
	c.h.Codes <- SentCode{Email: email, Code: code}
	return nil
}

// BaseURL returns the root URL of the running server.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// WaitForCode blocks until a verification code is delivered or the deadline
// passes.
func (h *TestHarness) WaitForCode(t *testing.T) SentCode {
	t.Helper()
	select {
	case sent := <-h.Codes:
		return sent
	case <-time.After(2 * time.Second):
		t.Fatal("no verification code was sent")
		return SentCode{}
	}
}

func (h *TestHarness) GET(path string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodGet, path, nil)
}

func (h *TestHarness) POST(path string, body any) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPost, path, body)
}

func (h *TestHarness) doRequest(method, path string, body any) *http.Response {
	h.t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshaling request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, h.server.URL+path, reader)
	if err != nil {
		h.t.Fatalf("building request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.server.Client().Do(req)
	if err != nil {
		h.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// ParseJSON decodes the response body into target and closes the body.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		h.t.Fatalf("decoding response body: %v", err)
	}
}

// AssertStatus verifies the response status code and drains the body.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// AssertJSON verifies the status code and decodes the body into target.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}
