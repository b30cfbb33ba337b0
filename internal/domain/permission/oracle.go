package permission

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pagegate/pagegate/internal/domain/project"
)

// Resolver is the default Oracle over a membership Store.
type Resolver struct {
	store Store
}

// NewResolver creates a Resolver backed by the given store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// EffectiveRole resolves ownership first, then the platform-admin
// short-circuit, then the maximum of direct and group grants. An unknown
// user resolves to no standing rather than an error so that a stale
// session cannot 500 a public page.
func (r *Resolver) EffectiveRole(ctx context.Context, userID uuid.UUID, proj *project.Project) (project.Role, bool, error) {
	if userID == uuid.Nil || proj == nil {
		return "", false, nil
	}

	u, err := r.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("load user: %w", err)
	}
	if u.Role == PlatformAdmin || u.Namespace == proj.Owner {
		return project.RoleOwner, true, nil
	}

	best := project.Role("")
	found := false

	if role, ok, err := r.store.DirectRole(ctx, userID, proj.ID); err != nil {
		return "", false, fmt.Errorf("direct role: %w", err)
	} else if ok {
		best, found = role, true
	}

	groupRoles, err := r.store.GroupRoles(ctx, userID, proj.ID)
	if err != nil {
		return "", false, fmt.Errorf("group roles: %w", err)
	}
	for _, role := range groupRoles {
		if !found {
			best, found = role, true
			continue
		}
		best = project.Max(best, role)
	}

	if !found {
		// Any signed-in user clears the lowest bar.
		return project.RoleAuthenticated, true, nil
	}
	return best, true, nil
}

var _ Oracle = (*Resolver)(nil)
