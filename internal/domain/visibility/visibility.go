// Package visibility resolves the effective access policy for a request
// from the domain → alias → project override chain. Each axis falls back
// independently, and the winning tier is reported for observability.
package visibility

import (
	"github.com/pagegate/pagegate/internal/domain/alias"
	"github.com/pagegate/pagegate/internal/domain/domainmap"
	"github.com/pagegate/pagegate/internal/domain/project"
)

// Source names the tier that decided an axis.
type Source string

const (
	// SourceDomain means the domain mapping override won.
	SourceDomain Source = "domain"
	// SourceAlias means the alias override won.
	SourceAlias Source = "alias"
	// SourceProject means the project default applied.
	SourceProject Source = "project"
)

// Effective is the resolved policy for one request.
type Effective struct {
	IsPublic     bool
	PublicSource Source

	Unauthorized       project.UnauthorizedBehavior
	UnauthorizedSource Source

	RequiredRole Role
	RoleSource   Source
}

// Role aliases project.Role for readability at call sites.
type Role = project.Role

// Resolve computes the effective policy. The alias tier is skipped when al
// is nil (domain bound straight to the project), and the domain tier when
// dm is nil (path-addressed serving). proj must be non-nil.
func Resolve(proj *project.Project, al *alias.Alias, dm *domainmap.Mapping) Effective {
	eff := Effective{
		IsPublic:           proj.IsPublic,
		PublicSource:       SourceProject,
		Unauthorized:       proj.UnauthorizedBehavior,
		UnauthorizedSource: SourceProject,
		RequiredRole:       proj.RequiredRole,
		RoleSource:         SourceProject,
	}

	if al != nil {
		if al.IsPublic != nil {
			eff.IsPublic = *al.IsPublic
			eff.PublicSource = SourceAlias
		}
		if al.UnauthorizedBehavior != nil {
			eff.Unauthorized = *al.UnauthorizedBehavior
			eff.UnauthorizedSource = SourceAlias
		}
		if al.RequiredRole != nil {
			eff.RequiredRole = *al.RequiredRole
			eff.RoleSource = SourceAlias
		}
	}

	if dm != nil && dm.IsPublic != nil {
		eff.IsPublic = *dm.IsPublic
		eff.PublicSource = SourceDomain
	}

	return eff
}
