package model

import "time"

// User is an account holder. Users created through the registration workflow
// are active immediately; users created through the join workflow are pending
// (Active=false) until approved by an organization admin.
type User struct {
	ID           string    `json:"id"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Organization is a named tenant owned by the user who registered it.
// Organization names are globally unique.
type Organization struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OwnerID     string    `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Category groups content within an organization. Every category references
// both the organization it belongs to and the user who created it.
type Category struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	UserID         string    `json:"user_id"`
	OrganizationID string    `json:"organization_id"`
	CreatedAt      time.Time `json:"created_at"`
}
