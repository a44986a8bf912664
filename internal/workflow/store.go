// Package workflow drives the multi-step onboarding workflows: step
// sequencing, per-step validation, session accumulation, and finalization.
package workflow

import (
	"context"
	"time"

	"github.com/pitabwire/onboard/model"
)

// SessionStore persists workflow instances and their accumulated state.
type SessionStore interface {
	// Create persists a new workflow instance.
	Create(ctx context.Context, inst model.WorkflowInstance) error

	// Get retrieves a workflow instance by ID. Returns INSTANCE_NOT_FOUND
	// if the instance doesn't exist.
	Get(ctx context.Context, instanceID string) (model.WorkflowInstance, error)

	// Update persists an updated workflow instance with optimistic locking.
	// The version must match the current stored version. Returns CONFLICT
	// if the version has changed.
	Update(ctx context.Context, inst model.WorkflowInstance) error

	// Delete removes a workflow instance.
	Delete(ctx context.Context, instanceID string) error

	// FindExpired returns active instances whose expires_at is before the
	// given cutoff time. Stores that expire entries natively may return an
	// empty slice.
	FindExpired(ctx context.Context, cutoff time.Time) ([]model.WorkflowInstance, error)

	// HealthCheck verifies the backing storage is reachable.
	HealthCheck(ctx context.Context) error
}
