// Package alias defines deployment aliases: stable names (main, staging,
// preview-a1b2c3d4) that point at a commit and optionally override the
// project's visibility policy or proxy rule set.
package alias

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pagegate/pagegate/internal/domain/project"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrAliasNotFound is returned when no alias matches the lookup.
	ErrAliasNotFound = errors.New("alias not found")
	// ErrDuplicateAlias is returned when (projectID, name) is taken.
	ErrDuplicateAlias = errors.New("alias already exists")
	// ErrInvalidName is returned when the alias name is not URL-safe.
	ErrInvalidName = errors.New("alias name must be a url-safe slug")
)

// AutoPreviewPrefix names aliases minted automatically per deployment.
const AutoPreviewPrefix = "preview-"

// Alias points a stable name at one commit of a project.
type Alias struct {
	ID        uuid.UUID
	ProjectID uuid.UUID

	// Name is unique within the project and appears verbatim in URLs and
	// subdomains.
	Name      string
	CommitSHA string

	DeploymentID *uuid.UUID

	// IsAutoPreview marks aliases minted by the upload pipeline; retention
	// ignores them when keepWithAlias protection is applied.
	IsAutoPreview bool

	// BasePath, when set, is prepended to the requested subpath before
	// asset lookup. No leading or trailing slash.
	BasePath *string

	// ProxyRuleSetID overrides the project default rule set.
	ProxyRuleSetID *uuid.UUID

	// Per-axis visibility overrides; nil inherits from the project.
	IsPublic             *bool
	UnauthorizedBehavior *project.UnauthorizedBehavior
	RequiredRole         *project.Role

	CreatedAt time.Time
}

// AutoPreviewName derives the auto-preview alias name for a commit.
func AutoPreviewName(commitSHA string) string {
	if len(commitSHA) > 8 {
		commitSHA = commitSHA[:8]
	}
	return AutoPreviewPrefix + commitSHA
}

// ValidName reports whether name can serve as an alias: a non-empty
// lowercase slug of alphanumerics and '-', since alias names double as
// subdomain labels.
func ValidName(name string) bool {
	if name == "" || len(name) > 63 {
		return false
	}
	if strings.HasPrefix(name, "-") || strings.HasSuffix(name, "-") {
		return false
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-':
		default:
			return false
		}
	}
	return true
}

// Validate checks the alias fields prior to persistence.
func (a *Alias) Validate() error {
	if !ValidName(a.Name) {
		return ErrInvalidName
	}
	if a.UnauthorizedBehavior != nil && !a.UnauthorizedBehavior.Valid() {
		return errors.New("unknown unauthorized behavior")
	}
	if a.RequiredRole != nil && !a.RequiredRole.Valid() {
		return errors.New("unknown required role")
	}
	if a.BasePath != nil && strings.Trim(*a.BasePath, "/") != *a.BasePath {
		return errors.New("base path must not carry leading or trailing slashes")
	}
	return nil
}

// Store persists deployment aliases.
type Store interface {
	// Get returns the alias with the given ID, or ErrAliasNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Alias, error)

	// GetByName returns the alias with the given name within a project, or
	// ErrAliasNotFound.
	GetByName(ctx context.Context, projectID uuid.UUID, name string) (*Alias, error)

	// ListByProject returns every alias of a project ordered by name.
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*Alias, error)

	// ListByCommit returns every alias pointing at a commit, oldest first.
	ListByCommit(ctx context.Context, projectID uuid.UUID, commitSHA string) ([]*Alias, error)

	// Create persists a new alias. Returns ErrDuplicateAlias when
	// (projectID, name) is taken.
	Create(ctx context.Context, a *Alias) error

	// Update replaces the stored alias, typically to repoint CommitSHA.
	Update(ctx context.Context, a *Alias) error

	// Delete removes the alias. Returns ErrAliasNotFound when unknown.
	Delete(ctx context.Context, id uuid.UUID) error

	// DeleteAutoPreviewByCommit removes auto-preview aliases pointing at a
	// commit and reports how many went away. Retention calls this after
	// deleting the commit's assets.
	DeleteAutoPreviewByCommit(ctx context.Context, projectID uuid.UUID, commitSHA string) (int, error)
}
