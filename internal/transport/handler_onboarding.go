package transport

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/onboard/internal/observability"
	"github.com/pitabwire/onboard/internal/workflow"
	"github.com/pitabwire/onboard/model"
)

// stepRequest is the body of a step submission.
type stepRequest struct {
	InstanceID string            `json:"instance_id"`
	Fields     map[string]string `json:"fields"`
}

func handleSubmitStep(engine *workflow.Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind := chi.URLParam(r, "kind")
		step, err := strconv.Atoi(chi.URLParam(r, "step"))
		if err != nil {
			WriteError(w, model.NewBadRequestError("step must be an integer"))
			return
		}

		var body stepRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		ctx, span := observability.StartSpan(r.Context(), "onboarding.SubmitStep",
			observability.AttrWorkflowKind.String(kind),
			observability.AttrStepNumber.Int(step),
		)
		outcome, err := engine.SubmitStep(ctx, kind, body.InstanceID, step, body.Fields)
		if err == nil {
			span.SetAttributes(observability.AttrOutcome.String(outcome.Outcome))
		}
		observability.EndSpanWithError(span, err)

		if err != nil {
			if _, ok := err.(*model.ErrorEnvelope); !ok {
				observability.RequestLogger(ctx, logger).Error("step submission failed",
					zap.String("kind", kind), zap.Int("step", step), zap.Error(err))
			}
			writeStepError(w, err)
			return
		}

		WriteJSON(w, http.StatusOK, outcome)
	}
}

func handleDescribeStep(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind := chi.URLParam(r, "kind")
		step, err := strconv.Atoi(chi.URLParam(r, "step"))
		if err != nil {
			WriteError(w, model.NewBadRequestError("step must be an integer"))
			return
		}

		desc, err := engine.DescribeStep(kind, step)
		if err != nil {
			writeStepError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, desc)
	}
}

// writeStepError renders workflow errors. Lookup misses carry the not_found
// outcome so step clients can branch on outcome alone.
func writeStepError(w http.ResponseWriter, err error) {
	ee, ok := err.(*model.ErrorEnvelope)
	if ok && (ee.Code == model.ErrStepNotFound || ee.Code == model.ErrInstanceNotFound) {
		type notFoundResponse struct {
			Outcome string               `json:"outcome"`
			Error   *model.ErrorEnvelope `json:"error"`
		}
		WriteJSON(w, statusFor(ee), notFoundResponse{
			Outcome: model.OutcomeNotFound,
			Error:   ee,
		})
		return
	}
	WriteError(w, err)
}
