package store

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/onboard/model"
)

func newUser(email string) *model.User {
	return &model.User{
		ID:           uuid.New().String(),
		FirstName:    "Ada",
		LastName:     "Lovelace",
		Email:        email,
		PasswordHash: "$2a$10$hash",
		Active:       true,
	}
}

func TestMemoryStore_CreateUser_duplicate_email(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.CreateUser(ctx, newUser("ada@example.com")))

	err := s.CreateUser(ctx, newUser("ADA@example.com"))
	require.Error(t, err)
	assert.True(t, model.HasCode(err, model.ErrConflict), "duplicate email should conflict")
}

func TestMemoryStore_organization_uniqueness(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	owner := newUser("owner@acme.com")
	require.NoError(t, s.CreateUser(ctx, owner))

	org := &model.Organization{ID: uuid.New().String(), Name: "Acme", OwnerID: owner.ID}
	require.NoError(t, s.CreateOrganization(ctx, org))

	dup := &model.Organization{ID: uuid.New().String(), Name: "acme", OwnerID: owner.ID}
	err := s.CreateOrganization(ctx, dup)
	assert.True(t, model.HasCode(err, model.ErrConflict), "duplicate name should conflict")
}

func TestMemoryStore_FindOrganizationByName(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	owner := newUser("owner@acme.com")
	require.NoError(t, s.CreateUser(ctx, owner))
	org := &model.Organization{ID: uuid.New().String(), Name: "Acme", OwnerID: owner.ID}
	require.NoError(t, s.CreateOrganization(ctx, org))

	found, err := s.FindOrganizationByName(ctx, "ACME")
	require.NoError(t, err)
	assert.Equal(t, org.ID, found.ID)

	_, err = s.FindOrganizationByName(ctx, "Globex")
	assert.True(t, model.HasCode(err, model.ErrNotFound))
}

func TestMemoryStore_membership(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	owner := newUser("owner@acme.com")
	require.NoError(t, s.CreateUser(ctx, owner))
	org := &model.Organization{ID: uuid.New().String(), Name: "Acme", OwnerID: owner.ID}
	require.NoError(t, s.CreateOrganization(ctx, org))

	// The owner becomes a member on organization creation.
	ok, err := s.EmailInOrganization(ctx, org.ID, "Owner@Acme.com")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.EmailInOrganization(ctx, org.ID, "stranger@other.com")
	require.NoError(t, err)
	assert.False(t, ok)

	s.AddMember(org.ID, "colleague@acme.com")
	ok, err = s.EmailInOrganization(ctx, org.ID, "colleague@acme.com")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStore_InTx_commits_on_success(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	err := s.InTx(ctx, func(tx Store) error {
		user := newUser("ada@example.com")
		if err := tx.CreateUser(ctx, user); err != nil {
			return err
		}
		org := &model.Organization{ID: uuid.New().String(), Name: "Acme", OwnerID: user.ID}
		return tx.CreateOrganization(ctx, org)
	})
	require.NoError(t, err)

	users, orgs, _ := s.Counts()
	assert.Equal(t, 1, users)
	assert.Equal(t, 1, orgs)
}

func TestMemoryStore_InTx_rolls_back_on_error(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	boom := errors.New("category creation failed")
	err := s.InTx(ctx, func(tx Store) error {
		user := newUser("ada@example.com")
		if err := tx.CreateUser(ctx, user); err != nil {
			return err
		}
		org := &model.Organization{ID: uuid.New().String(), Name: "Acme", OwnerID: user.ID}
		if err := tx.CreateOrganization(ctx, org); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// Nothing persisted: all-or-nothing.
	users, orgs, categories := s.Counts()
	assert.Zero(t, users)
	assert.Zero(t, orgs)
	assert.Zero(t, categories)
}

func TestMemoryStore_CountCategories(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	orgID := uuid.New().String()
	for _, name := range []string{"Engineering", "Sales"} {
		c := &model.Category{ID: uuid.New().String(), Name: name, OrganizationID: orgID}
		require.NoError(t, s.CreateCategory(ctx, c))
	}

	count, err := s.CountCategories(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
