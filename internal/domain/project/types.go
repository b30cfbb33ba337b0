// Package project defines the tenant unit of the platform: a project owns
// assets, aliases, rule sets, and retention rules, and carries the default
// visibility policy that aliases and domain mappings may override.
package project

import (
	"time"

	"github.com/google/uuid"
)

// Role is the project-scoped role lattice. Roles are totally ordered:
// authenticated < viewer < contributor < admin < owner.
type Role string

const (
	// RoleAuthenticated is any signed-in user, member or not.
	RoleAuthenticated Role = "authenticated"
	// RoleViewer can read served content.
	RoleViewer Role = "viewer"
	// RoleContributor can upload deployments.
	RoleContributor Role = "contributor"
	// RoleAdmin can mutate rules, aliases, and domains.
	RoleAdmin Role = "admin"
	// RoleOwner is the project owner.
	RoleOwner Role = "owner"
)

var roleRank = map[Role]int{
	RoleAuthenticated: 1,
	RoleViewer:        2,
	RoleContributor:   3,
	RoleAdmin:         4,
	RoleOwner:         5,
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// Covers reports whether a holder of r satisfies a requirement of required.
// Unknown roles cover nothing and are covered by nothing.
func (r Role) Covers(required Role) bool {
	rr, ok1 := roleRank[r]
	qr, ok2 := roleRank[required]
	return ok1 && ok2 && rr >= qr
}

// Max returns the higher of the two roles.
func Max(a, b Role) Role {
	if roleRank[b] > roleRank[a] {
		return b
	}
	return a
}

// UnauthorizedBehavior selects the response for a viewer who fails the
// visibility check.
type UnauthorizedBehavior string

const (
	// UnauthorizedNotFound hides the content behind a 404.
	UnauthorizedNotFound UnauthorizedBehavior = "not_found"
	// UnauthorizedRedirectLogin sends the viewer to the login page.
	UnauthorizedRedirectLogin UnauthorizedBehavior = "redirect_login"
)

// Valid reports whether b is a known behavior.
func (b UnauthorizedBehavior) Valid() bool {
	return b == UnauthorizedNotFound || b == UnauthorizedRedirectLogin
}

// QuotaBehavior selects what happens to uploads once the storage quota is
// exceeded.
type QuotaBehavior string

const (
	// QuotaBlock rejects the upload with 413.
	QuotaBlock QuotaBehavior = "block"
	// QuotaNotify accepts the upload and leaves enforcement to billing.
	QuotaNotify QuotaBehavior = "notify"
)

// Project is the tenant unit. (Owner, Name) is unique; both appear verbatim
// in storage keys, so they are restricted to path-safe slugs at creation.
type Project struct {
	ID    uuid.UUID
	Owner string
	Name  string

	// Default visibility policy; aliases and domain mappings override
	// per-axis (nil override means inherit).
	IsPublic             bool
	UnauthorizedBehavior UnauthorizedBehavior
	RequiredRole         Role

	// DefaultRuleSetID is the proxy rule set applied when neither the alias
	// nor a sibling alias on the commit carries one.
	DefaultRuleSetID *uuid.UUID

	// StorageQuotaBytes caps the summed asset size; nil means unlimited.
	StorageQuotaBytes *int64
	QuotaBehavior     QuotaBehavior

	CreatedAt time.Time
}

// Slug returns the owner/name pair used in public URLs and storage keys.
func (p *Project) Slug() string {
	return p.Owner + "/" + p.Name
}
