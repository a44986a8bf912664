// Package store persists users, organizations, and categories, and provides
// the transactional unit of work finalizers run inside.
package store

import (
	"context"

	"github.com/pitabwire/onboard/model"
)

// UserStore persists user accounts.
type UserStore interface {
	// CreateUser persists a new user. Returns CONFLICT if the email is
	// already taken.
	CreateUser(ctx context.Context, user *model.User) error

	// EmailInOrganization reports whether the email belongs to a user who
	// is an active member of the given organization.
	EmailInOrganization(ctx context.Context, orgID, email string) (bool, error)
}

// OrganizationStore persists organizations.
type OrganizationStore interface {
	// CreateOrganization persists a new organization. Returns CONFLICT if
	// the name is already taken.
	CreateOrganization(ctx context.Context, org *model.Organization) error

	// FindOrganizationByName retrieves an organization by its exact name.
	// Returns NOT_FOUND if no organization has that name.
	FindOrganizationByName(ctx context.Context, name string) (*model.Organization, error)
}

// CategoryStore persists categories.
type CategoryStore interface {
	// CreateCategory persists a new category.
	CreateCategory(ctx context.Context, category *model.Category) error

	// CountCategories returns the number of categories belonging to the
	// given organization.
	CountCategories(ctx context.Context, orgID string) (int, error)
}

// Store combines the entity stores with a transactional unit of work.
type Store interface {
	UserStore
	OrganizationStore
	CategoryStore

	// InTx runs fn against a transactional view of the store. Every write
	// made through the view is committed if and only if fn returns nil;
	// any error rolls all of them back so partial creation is never
	// observable or durable.
	InTx(ctx context.Context, fn func(tx Store) error) error

	// HealthCheck verifies the backing storage is reachable.
	HealthCheck(ctx context.Context) error
}
