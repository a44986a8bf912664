package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pitabwire/onboard/model"
)

// MemorySessionStore is an in-memory SessionStore for testing and
// single-instance deployments.
type MemorySessionStore struct {
	mu        sync.RWMutex
	instances map[string]model.WorkflowInstance // key: instance ID
}

// NewMemorySessionStore creates a new in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		instances: make(map[string]model.WorkflowInstance),
	}
}

// Create persists a new workflow instance.
func (s *MemorySessionStore) Create(_ context.Context, inst model.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instances[inst.ID]; exists {
		return model.NewConflictError(
			fmt.Sprintf("workflow instance %q already exists", inst.ID),
		)
	}

	s.instances[inst.ID] = cloneInstance(inst)
	return nil
}

// Get retrieves a workflow instance by ID.
func (s *MemorySessionStore) Get(_ context.Context, instanceID string) (model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, exists := s.instances[instanceID]
	if !exists {
		return model.WorkflowInstance{}, model.NewInstanceNotFoundError(
			fmt.Sprintf("workflow instance %q not found", instanceID),
		)
	}
	return cloneInstance(inst), nil
}

// Update persists an updated instance with optimistic locking.
func (s *MemorySessionStore) Update(_ context.Context, inst model.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.instances[inst.ID]
	if !exists {
		return model.NewInstanceNotFoundError(
			fmt.Sprintf("workflow instance %q not found", inst.ID),
		)
	}

	// Optimistic lock check.
	if existing.Version != inst.Version {
		return model.NewConflictError(
			fmt.Sprintf("workflow instance %q version conflict (expected %d, got %d)",
				inst.ID, inst.Version, existing.Version),
		)
	}

	inst.Version++
	inst.UpdatedAt = time.Now().UTC()
	s.instances[inst.ID] = cloneInstance(inst)
	return nil
}

// Delete removes a workflow instance.
func (s *MemorySessionStore) Delete(_ context.Context, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instances[instanceID]; !exists {
		return model.NewInstanceNotFoundError(
			fmt.Sprintf("workflow instance %q not found", instanceID),
		)
	}

	delete(s.instances, instanceID)
	return nil
}

// FindExpired returns active instances past their expiration time, ordered
// by expires_at ascending.
func (s *MemorySessionStore) FindExpired(_ context.Context, cutoff time.Time) ([]model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.WorkflowInstance
	for _, inst := range s.instances {
		if inst.Status != model.InstanceStatusActive {
			continue
		}
		if inst.ExpiresAt == nil || !inst.ExpiresAt.Before(cutoff) {
			continue
		}
		result = append(result, cloneInstance(inst))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ExpiresAt.Before(*result[j].ExpiresAt)
	})

	return result, nil
}

// HealthCheck always succeeds for the in-memory store.
func (s *MemorySessionStore) HealthCheck(_ context.Context) error {
	return nil
}

// Len returns the total number of instances. For testing.
func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}

// cloneInstance copies an instance including its state map, so callers can
// never mutate stored state through a shared reference.
func cloneInstance(inst model.WorkflowInstance) model.WorkflowInstance {
	c := inst
	if inst.State != nil {
		c.State = make(map[string]string, len(inst.State))
		for k, v := range inst.State {
			c.State[k] = v
		}
	}
	if inst.ExpiresAt != nil {
		exp := *inst.ExpiresAt
		c.ExpiresAt = &exp
	}
	return c
}
