// Package user defines the account entity and the store contract consumed
// by the identity core. The relational system of record implements [Store];
// the core never issues SQL itself.
package user

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of an account.
type Status uint8

const (
	// StatusActive is the normal, login-capable state.
	StatusActive Status = iota
	// StatusPendingVerification marks an account whose email has not been
	// confirmed yet.
	StatusPendingVerification
	// StatusBanned blocks all logins. Soft-deleted accounts are forced into
	// this status in addition to carrying a DeletedAt timestamp.
	StatusBanned
)

// Provider tags which login mechanism owns an account's credentials.
type Provider string

const (
	// ProviderLocal marks password-based accounts.
	ProviderLocal Provider = "local"
	// ProviderGoogle marks accounts created through the Google OAuth exchange.
	ProviderGoogle Provider = "google"
)

// User is the identity record. PasswordHash is empty for external-only
// accounts; TOTPSecret is set during enrollment but authoritative only once
// TOTPEnabled is true.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Verified     bool
	Provider     Provider
	ExternalID   string
	TOTPSecret   string
	TOTPEnabled  bool
	Status       Status
	DeletedAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastLoginAt  *time.Time
}

// SoftDeleted reports whether the account is logically absent.
func (u *User) SoftDeleted() bool {
	return u != nil && u.DeletedAt != nil
}

// Fields is a partial update. Pointer fields are written only when non-nil;
// DeletedAt is written (including to NULL) only when SetDeletedAt is true.
type Fields struct {
	PasswordHash *string
	Verified     *bool
	TOTPSecret   *string
	TOTPEnabled  *bool
	Status       *Status
	LastLoginAt  *time.Time

	SetDeletedAt bool
	DeletedAt    *time.Time
}

// ErrNotFound is returned by every Store lookup that matches no row. For the
// ActiveOnly methods a soft-deleted row is indistinguishable from an absent
// one.
var ErrNotFound = errors.New("user not found")

// DuplicateError is the distinguishable unique-constraint signal required
// from Store implementations. Field is one of "username", "email",
// "external_id".
type DuplicateError struct {
	Field string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate user %s", e.Field)
}

// Store is the contract against the relational system of record.
//
// Every Find method except FindByEmailIncludeDeleted composes the active-user
// view: rows with a non-null deleted_at must never be returned. Centralizing
// the predicate in the contract keeps the exclusion rule from being forgotten
// on a new query path.
type Store interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	FindByExternalID(ctx context.Context, provider Provider, externalID string) (*User, error)

	// FindByEmailIncludeDeleted is the one lookup that bypasses the
	// active-user view, used for restore and audit tooling.
	FindByEmailIncludeDeleted(ctx context.Context, email string) (*User, error)

	// Insert persists a new user. Unique violations surface as
	// *DuplicateError so the caller can translate them into typed conflicts.
	Insert(ctx context.Context, u *User) error

	// UpdateFields applies a partial update to an existing row, including
	// soft-deleted ones (restore needs to reach them). Returns ErrNotFound
	// when the id does not resolve.
	UpdateFields(ctx context.Context, id string, f Fields) error
}
