// Package domain contains core business types and interfaces.
//
// This file defines the User domain type and the parameter and result types
// used by registration and login. These types are separate from the
// repository rows so the database layer stays decoupled from business logic.
package domain

import (
	"database/sql"
	"time"
)

// User represents a registered account.
type User struct {
	ID           int64
	Email        string
	PasswordHash string // Never expose this in API responses
	FirstName    string
	LastName     string
	Roles        RoleSet
	Enabled      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastLogin    *time.Time
}

// HasRole returns true if the user holds the given role.
func (u *User) HasRole(r Role) bool {
	return u.Roles.Has(r)
}

// Sanitized returns a copy of the user with the password hash cleared.
func (u *User) Sanitized() *User {
	c := *u
	c.PasswordHash = ""
	c.Roles = u.Roles.Clone()
	return &c
}

// RegisterParams holds the input for creating an account.
type RegisterParams struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// LoginParams holds the input for authenticating an account.
type LoginParams struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResult is returned by a successful register or login.
// Token is for the cookie transport only; it must never be written to a
// response body.
type AuthResult struct {
	User  *User
	Token string
}

// Page size bounds for ListParams.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ListParams selects a page of users ordered by ID.
type ListParams struct {
	Limit  int
	Offset int
}

// Normalize clamps the page size and offset into range.
func (p ListParams) Normalize() ListParams {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// UserPage is one page of a user listing.
type UserPage struct {
	Users  []*User
	Total  int64
	Limit  int
	Offset int
}

// =============================================================================
// Null Type Helpers
// =============================================================================

// ToNullString converts a string to sql.NullString.
// Empty strings become NULL.
func ToNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// NullStringValue extracts the string value from sql.NullString.
// Returns empty string if NULL.
func NullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// NullTimePtr converts sql.NullTime to a *time.Time.
// Returns nil if NULL.
func NullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
