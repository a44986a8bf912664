package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/onboard/internal/config"
	"github.com/pitabwire/onboard/internal/observability"
	"github.com/pitabwire/onboard/internal/workflow"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config      *config.Config
	Logger      *zap.Logger
	Engine      *workflow.Engine
	Metrics     *observability.Metrics
	Readiness   observability.ReadinessChecks
	OpenAPISpec []byte
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, metrics, and the contract document
// bypass the request pipeline.
func NewRouter(deps Dependencies) chi.Router {
	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(deps.Logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Operational routes.
	r.Get("/healthz", observability.HandleHealth())
	r.Get("/readyz", observability.HandleReady(deps.Readiness))
	if deps.Config.Observability.Metrics.Enabled {
		r.Method(http.MethodGet, deps.Config.Observability.Metrics.Path, observability.Handler())
	}
	if len(deps.OpenAPISpec) > 0 {
		r.Get("/openapi.yaml", handleOpenAPISpec(deps.OpenAPISpec))
	}

	// Workflow routes — full request pipeline.
	r.Group(func(r chi.Router) {
		if deps.Config.Observability.Tracing.Enabled {
			r.Use(observability.TracingMiddleware)
		}
		r.Use(BuildRequestContext)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(deps.Logger))
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}

		r.Post("/v1/onboarding/{kind}/steps/{step}", handleSubmitStep(deps.Engine, deps.Logger))
		r.Get("/v1/onboarding/{kind}/steps/{step}", handleDescribeStep(deps.Engine))
	})

	return r
}

func handleOpenAPISpec(spec []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write(spec)
	}
}
