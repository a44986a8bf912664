package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/onboard/model"
)

// uniqueViolation is the Postgres error code for unique constraint failures.
const uniqueViolation = "23505"

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, so the
// same store methods run inside and outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgStore is a PostgreSQL-backed Store using pgx/v5.
type PgStore struct {
	q    querier
	pool *pgxpool.Pool // nil on transactional views
}

// NewPgStore creates a new PostgreSQL store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{q: pool, pool: pool}
}

// CreateUser inserts a new user.
func (s *PgStore) CreateUser(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	_, err := s.q.Exec(ctx, `
		INSERT INTO users (
			id, first_name, last_name, email, password_hash, active,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.FirstName, user.LastName, user.Email, user.PasswordHash,
		user.Active, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.NewConflictError(
				fmt.Sprintf("user with email %q already exists", user.Email),
			)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// EmailInOrganization reports whether the email belongs to a member of the
// organization.
func (s *PgStore) EmailInOrganization(ctx context.Context, orgID, email string) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM organization_members m
			JOIN users u ON u.id = m.user_id
			WHERE m.organization_id = $1 AND lower(u.email) = lower($2)
		)`,
		orgID, email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}

// CreateOrganization inserts a new organization and records the owner as its
// first member.
func (s *PgStore) CreateOrganization(ctx context.Context, org *model.Organization) error {
	now := time.Now().UTC()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = now
	}
	org.UpdatedAt = now

	_, err := s.q.Exec(ctx, `
		INSERT INTO organizations (
			id, name, description, owner_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		org.ID, org.Name, org.Description, org.OwnerID, org.CreatedAt, org.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.NewConflictError(
				fmt.Sprintf("organization %q already exists", org.Name),
			)
		}
		return fmt.Errorf("insert organization: %w", err)
	}

	_, err = s.q.Exec(ctx, `
		INSERT INTO organization_members (organization_id, user_id, joined_at)
		VALUES ($1, $2, $3)`,
		org.ID, org.OwnerID, now,
	)
	if err != nil {
		return fmt.Errorf("insert owner membership: %w", err)
	}
	return nil
}

// FindOrganizationByName retrieves an organization by its exact name,
// case-insensitively.
func (s *PgStore) FindOrganizationByName(ctx context.Context, name string) (*model.Organization, error) {
	var org model.Organization
	err := s.q.QueryRow(ctx, `
		SELECT id, name, description, owner_id, created_at, updated_at
		FROM organizations
		WHERE lower(name) = lower($1)`,
		name,
	).Scan(&org.ID, &org.Name, &org.Description, &org.OwnerID, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NewNotFoundError(
				fmt.Sprintf("organization %q not found", name),
			)
		}
		return nil, fmt.Errorf("select organization: %w", err)
	}
	return &org, nil
}

// CreateCategory inserts a new category.
func (s *PgStore) CreateCategory(ctx context.Context, category *model.Category) error {
	if category.CreatedAt.IsZero() {
		category.CreatedAt = time.Now().UTC()
	}

	_, err := s.q.Exec(ctx, `
		INSERT INTO categories (id, name, user_id, organization_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		category.ID, category.Name, category.UserID, category.OrganizationID, category.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert category: %w", err)
	}
	return nil
}

// CountCategories returns the number of categories in an organization.
func (s *PgStore) CountCategories(ctx context.Context, orgID string) (int, error) {
	var count int
	err := s.q.QueryRow(ctx,
		`SELECT count(*) FROM categories WHERE organization_id = $1`, orgID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count categories: %w", err)
	}
	return count, nil
}

// InTx runs fn inside a database transaction. A store that is already a
// transactional view reuses its transaction.
func (s *PgStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	if s.pool == nil {
		return fn(s)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&PgStore{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// HealthCheck pings the database.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
