package model

import "time"

// Workflow kinds.
const (
	KindRegister = "register"
	KindJoin     = "join"
)

// Workflow instance status constants.
const (
	InstanceStatusActive    = "active"
	InstanceStatusCompleted = "completed"
	InstanceStatusExpired   = "expired"
)

// Step outcome constants, as surfaced to clients.
const (
	OutcomeRejected  = "rejected"
	OutcomeAdvance   = "advance"
	OutcomeFinalized = "finalized"
	OutcomeNotFound  = "not_found"
)

// WorkflowInstance is one in-progress onboarding workflow. State accumulates
// the field values validated by completed steps; a field becomes visible to
// later steps only after its owning step succeeded. Instances are keyed by an
// opaque ID so that concurrent registrations, or a registration and a join
// from the same client, can never collide.
type WorkflowInstance struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind"`
	CurrentStep int               `json:"current_step"`
	Status      string            `json:"status"`
	State       map[string]string `json:"state,omitempty"`
	Version     int               `json:"version"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
}

// Expired reports whether the instance's deadline has passed at time now.
func (w *WorkflowInstance) Expired(now time.Time) bool {
	return w.ExpiresAt != nil && w.ExpiresAt.Before(now)
}

// StepOutcome is the result of one step submission. Exactly one shape is
// populated depending on Outcome:
//
//   - rejected:  Errors carries the field-level failures
//   - advance:   NextStep names the step the client should render next
//   - finalized: Message carries the terminal success notice and Result the
//     identities created by the finalizer
type StepOutcome struct {
	Outcome    string              `json:"outcome"`
	InstanceID string              `json:"instance_id,omitempty"`
	NextStep   int                 `json:"next_step,omitempty"`
	Errors     []FieldError        `json:"errors,omitempty"`
	Message    string              `json:"message,omitempty"`
	Result     *FinalizationResult `json:"result,omitempty"`
}

// FinalizationResult bundles the identities created by a finalizer. The
// organization ID is set on the registration path only.
type FinalizationResult struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id,omitempty"`
}

// Rejected builds a rejected outcome carrying field errors. The session is
// never mutated on rejection.
func Rejected(instanceID string, errs []FieldError) StepOutcome {
	return StepOutcome{Outcome: OutcomeRejected, InstanceID: instanceID, Errors: errs}
}

// Advance builds an advance outcome naming the next step.
func Advance(instanceID string, next int) StepOutcome {
	return StepOutcome{Outcome: OutcomeAdvance, InstanceID: instanceID, NextStep: next}
}

// Finalized builds a terminal success outcome.
func Finalized(instanceID, message string, result *FinalizationResult) StepOutcome {
	return StepOutcome{
		Outcome:    OutcomeFinalized,
		InstanceID: instanceID,
		Message:    message,
		Result:     result,
	}
}
