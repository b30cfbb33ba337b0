// Package permission resolves what a user may do to a project: the
// effective role from ownership, direct membership, and group membership,
// with a platform-admin short-circuit. It also owns project API keys.
package permission

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pagegate/pagegate/internal/domain/project"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrUserNotFound is returned when no user matches the lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrKeyNotFound is returned when no API key matches the lookup.
	ErrKeyNotFound = errors.New("api key not found")
	// ErrInvalidKey is returned when an API key fails verification.
	ErrInvalidKey = errors.New("invalid api key")
)

// PlatformRole is the account-wide role, distinct from per-project roles.
type PlatformRole string

const (
	// PlatformUser is a regular account.
	PlatformUser PlatformRole = "user"
	// PlatformAdmin short-circuits every project check to owner.
	PlatformAdmin PlatformRole = "admin"
)

// User is the account record the oracle consults.
type User struct {
	ID    uuid.UUID
	Email string

	// Namespace is the owner slug the user publishes under; matching a
	// project's Owner grants the owner role.
	Namespace string

	Role      PlatformRole
	CreatedAt time.Time
}

// Membership grants one user a direct role on one project.
type Membership struct {
	UserID    uuid.UUID
	ProjectID uuid.UUID
	Role      project.Role
}

// Group bundles users; a group grant applies its role to every member.
type Group struct {
	ID   uuid.UUID
	Name string
}

// AuthContext is the resolved identity attached to a request. A nil
// AuthContext means anonymous.
type AuthContext struct {
	UserID uuid.UUID
	Role   PlatformRole

	// APIKeyProjectID is set when the request authenticated with a
	// project API key; the key only speaks for that project.
	APIKeyProjectID *uuid.UUID
}

// Store is the membership surface the oracle reads.
type Store interface {
	// GetUser returns the user, or ErrUserNotFound.
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)

	// DirectRole returns the user's direct membership role on a project.
	// ok is false when no direct membership exists.
	DirectRole(ctx context.Context, userID, projectID uuid.UUID) (role project.Role, ok bool, err error)

	// GroupRoles returns the roles granted to the user on a project
	// through group membership, in no particular order.
	GroupRoles(ctx context.Context, userID, projectID uuid.UUID) ([]project.Role, error)
}

// Oracle answers effective-role queries.
type Oracle interface {
	// EffectiveRole resolves the user's role on a project. ok is false
	// when the user has no standing at all (the caller may still grant
	// RoleAuthenticated by virtue of a valid session).
	EffectiveRole(ctx context.Context, userID uuid.UUID, proj *project.Project) (role project.Role, ok bool, err error)
}
