package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/onboard/model"
)

// PgSessionStore is a PostgreSQL-backed SessionStore using pgx/v5. State is
// stored as JSONB in the workflow_instances table.
type PgSessionStore struct {
	pool *pgxpool.Pool
}

// NewPgSessionStore creates a new PostgreSQL session store.
func NewPgSessionStore(pool *pgxpool.Pool) *PgSessionStore {
	return &PgSessionStore{pool: pool}
}

// Create persists a new workflow instance.
func (s *PgSessionStore) Create(ctx context.Context, inst model.WorkflowInstance) error {
	state, err := json.Marshal(inst.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflow_instances (
			id, kind, current_step, status, state, version,
			created_at, updated_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		inst.ID, inst.Kind, inst.CurrentStep, inst.Status, state, inst.Version,
		inst.CreatedAt, inst.UpdatedAt, inst.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert workflow instance: %w", err)
	}
	return nil
}

// Get retrieves a workflow instance by ID.
func (s *PgSessionStore) Get(ctx context.Context, instanceID string) (model.WorkflowInstance, error) {
	var (
		inst  model.WorkflowInstance
		state []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, kind, current_step, status, state, version,
		       created_at, updated_at, expires_at
		FROM workflow_instances
		WHERE id = $1`,
		instanceID,
	).Scan(
		&inst.ID, &inst.Kind, &inst.CurrentStep, &inst.Status, &state,
		&inst.Version, &inst.CreatedAt, &inst.UpdatedAt, &inst.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.WorkflowInstance{}, model.NewInstanceNotFoundError(
				fmt.Sprintf("workflow instance %q not found", instanceID),
			)
		}
		return model.WorkflowInstance{}, fmt.Errorf("select workflow instance: %w", err)
	}

	if err := json.Unmarshal(state, &inst.State); err != nil {
		return model.WorkflowInstance{}, fmt.Errorf("unmarshal state: %w", err)
	}
	return inst, nil
}

// Update persists an updated instance with optimistic locking on version.
func (s *PgSessionStore) Update(ctx context.Context, inst model.WorkflowInstance) error {
	state, err := json.Marshal(inst.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE workflow_instances
		SET current_step = $2, status = $3, state = $4,
		    version = version + 1, updated_at = $5, expires_at = $6
		WHERE id = $1 AND version = $7`,
		inst.ID, inst.CurrentStep, inst.Status, state,
		time.Now().UTC(), inst.ExpiresAt, inst.Version,
	)
	if err != nil {
		return fmt.Errorf("update workflow instance: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Distinguish a missing row from a lost optimistic-lock race.
		var exists bool
		checkErr := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM workflow_instances WHERE id = $1)`,
			inst.ID,
		).Scan(&exists)
		if checkErr != nil {
			return fmt.Errorf("check workflow instance: %w", checkErr)
		}
		if !exists {
			return model.NewInstanceNotFoundError(
				fmt.Sprintf("workflow instance %q not found", inst.ID),
			)
		}
		return model.NewConflictError(
			fmt.Sprintf("workflow instance %q version conflict", inst.ID),
		)
	}
	return nil
}

// Delete removes a workflow instance.
func (s *PgSessionStore) Delete(ctx context.Context, instanceID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM workflow_instances WHERE id = $1`, instanceID,
	)
	if err != nil {
		return fmt.Errorf("delete workflow instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewInstanceNotFoundError(
			fmt.Sprintf("workflow instance %q not found", instanceID),
		)
	}
	return nil
}

// FindExpired returns active instances whose deadline passed before cutoff.
func (s *PgSessionStore) FindExpired(ctx context.Context, cutoff time.Time) ([]model.WorkflowInstance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, current_step, status, state, version,
		       created_at, updated_at, expires_at
		FROM workflow_instances
		WHERE status = $1 AND expires_at < $2
		ORDER BY expires_at`,
		model.InstanceStatusActive, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("select expired instances: %w", err)
	}
	defer rows.Close()

	var result []model.WorkflowInstance
	for rows.Next() {
		var (
			inst  model.WorkflowInstance
			state []byte
		)
		if err := rows.Scan(
			&inst.ID, &inst.Kind, &inst.CurrentStep, &inst.Status, &state,
			&inst.Version, &inst.CreatedAt, &inst.UpdatedAt, &inst.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("scan workflow instance: %w", err)
		}
		if err := json.Unmarshal(state, &inst.State); err != nil {
			return nil, fmt.Errorf("unmarshal state: %w", err)
		}
		result = append(result, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired instances: %w", err)
	}
	return result, nil
}

// HealthCheck pings the database.
func (s *PgSessionStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
