package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pitabwire/onboard/model"
)

// MemoryStore is an in-memory Store for testing and single-instance
// development deployments.
type MemoryStore struct {
	mu         sync.RWMutex
	users      map[string]model.User         // key: user ID
	orgs       map[string]model.Organization // key: organization ID
	categories map[string]model.Category     // key: category ID
	members    map[string]map[string]bool    // key: organization ID -> lowercased member emails
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]model.User),
		orgs:       make(map[string]model.Organization),
		categories: make(map[string]model.Category),
		members:    make(map[string]map[string]bool),
	}
}

// CreateUser persists a new user. Emails are unique, case-insensitively.
func (s *MemoryStore) CreateUser(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(user.Email)
	for _, u := range s.users {
		if strings.ToLower(u.Email) == email {
			return model.NewConflictError(
				fmt.Sprintf("user with email %q already exists", user.Email),
			)
		}
	}

	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	s.users[user.ID] = *user
	return nil
}

// EmailInOrganization reports whether the email belongs to a member of the
// organization.
func (s *MemoryStore) EmailInOrganization(_ context.Context, orgID, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.members[orgID][strings.ToLower(email)], nil
}

// CreateOrganization persists a new organization. Names are unique. The
// owner becomes the organization's first member.
func (s *MemoryStore) CreateOrganization(_ context.Context, org *model.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.orgs {
		if strings.EqualFold(o.Name, org.Name) {
			return model.NewConflictError(
				fmt.Sprintf("organization %q already exists", org.Name),
			)
		}
	}

	now := time.Now().UTC()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = now
	}
	org.UpdatedAt = now
	s.orgs[org.ID] = *org

	if s.members[org.ID] == nil {
		s.members[org.ID] = make(map[string]bool)
	}
	if owner, ok := s.users[org.OwnerID]; ok {
		s.members[org.ID][strings.ToLower(owner.Email)] = true
	}
	return nil
}

// FindOrganizationByName retrieves an organization by its exact name,
// case-insensitively.
func (s *MemoryStore) FindOrganizationByName(_ context.Context, name string) (*model.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, o := range s.orgs {
		if strings.EqualFold(o.Name, name) {
			org := o
			return &org, nil
		}
	}
	return nil, model.NewNotFoundError(
		fmt.Sprintf("organization %q not found", name),
	)
}

// CreateCategory persists a new category.
func (s *MemoryStore) CreateCategory(_ context.Context, category *model.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if category.CreatedAt.IsZero() {
		category.CreatedAt = time.Now().UTC()
	}
	s.categories[category.ID] = *category
	return nil
}

// CountCategories returns the number of categories in an organization.
func (s *MemoryStore) CountCategories(_ context.Context, orgID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, c := range s.categories {
		if c.OrganizationID == orgID {
			count++
		}
	}
	return count, nil
}

// InTx runs fn against a staged copy of the store. The staged writes replace
// the live maps only when fn returns nil, so a failing finalizer leaves no
// partial entities behind.
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.cloneLocked()
	if err := fn(staged); err != nil {
		return err
	}

	s.users = staged.users
	s.orgs = staged.orgs
	s.categories = staged.categories
	s.members = staged.members
	return nil
}

// HealthCheck always succeeds for the in-memory store.
func (s *MemoryStore) HealthCheck(_ context.Context) error {
	return nil
}

// AddMember records an email as a member of an organization. For seeding
// and testing; membership normally accrues via CreateOrganization.
func (s *MemoryStore) AddMember(orgID, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.members[orgID] == nil {
		s.members[orgID] = make(map[string]bool)
	}
	s.members[orgID][strings.ToLower(email)] = true
}

// UserByEmail returns the user with the given email, case-insensitively. For
// testing.
func (s *MemoryStore) UserByEmail(email string) (model.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, true
		}
	}
	return model.User{}, false
}

// CategoriesFor returns the categories in an organization. For testing.
func (s *MemoryStore) CategoriesFor(orgID string) []model.Category {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Category
	for _, c := range s.categories {
		if c.OrganizationID == orgID {
			result = append(result, c)
		}
	}
	return result
}

// Counts returns the number of users, organizations, and categories. For
// testing.
func (s *MemoryStore) Counts() (users, orgs, categories int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), len(s.orgs), len(s.categories)
}

// cloneLocked deep-copies the store. Callers must hold s.mu.
func (s *MemoryStore) cloneLocked() *MemoryStore {
	c := NewMemoryStore()
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.orgs {
		c.orgs[k] = v
	}
	for k, v := range s.categories {
		c.categories[k] = v
	}
	for k, v := range s.members {
		emails := make(map[string]bool, len(v))
		for e := range v {
			emails[e] = true
		}
		c.members[k] = emails
	}
	return c
}
