package project

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrProjectNotFound is returned when no project matches the lookup.
	ErrProjectNotFound = errors.New("project not found")
	// ErrDuplicateProject is returned when (owner, name) is already taken.
	ErrDuplicateProject = errors.New("project already exists")
	// ErrInvalidSlug is returned when owner or name is not a path-safe slug.
	ErrInvalidSlug = errors.New("owner and name must be path-safe slugs")
)

// Store persists projects.
type Store interface {
	// Get returns the project with the given ID, or ErrProjectNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Project, error)

	// GetBySlug returns the project with the given owner and name, or
	// ErrProjectNotFound.
	GetBySlug(ctx context.Context, owner, name string) (*Project, error)

	// List returns all projects ordered by owner, name.
	List(ctx context.Context) ([]*Project, error)

	// Create persists a new project. Returns ErrDuplicateProject when
	// (owner, name) is taken.
	Create(ctx context.Context, p *Project) error

	// Update replaces the stored project. Returns ErrProjectNotFound when
	// the ID is unknown.
	Update(ctx context.Context, p *Project) error

	// Delete removes the project. Returns ErrProjectNotFound when the ID
	// is unknown.
	Delete(ctx context.Context, id uuid.UUID) error
}
