// Package domainmap binds hostnames to projects and aliases. A mapping is
// the entry point for custom domains, platform subdomains, and bare
// redirects, and carries the per-domain visibility and SPA flags.
package domainmap

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrDomainNotFound is returned when no mapping matches the host.
	ErrDomainNotFound = errors.New("domain mapping not found")
	// ErrDuplicateDomain is returned when the domain is already mapped.
	ErrDuplicateDomain = errors.New("domain already mapped")
)

// Type classifies a domain mapping.
type Type string

const (
	// TypeSubdomain is a label under the platform's primary domain.
	TypeSubdomain Type = "subdomain"
	// TypeCustom is a customer-owned hostname.
	TypeCustom Type = "custom"
	// TypeRedirect issues a 301 to RedirectTarget and serves nothing.
	TypeRedirect Type = "redirect"
)

// Valid reports whether t is a known mapping type.
func (t Type) Valid() bool {
	return t == TypeSubdomain || t == TypeCustom || t == TypeRedirect
}

// WWWBehavior controls how the www twin of the domain is answered.
type WWWBehavior string

const (
	// WWWServe serves the twin directly under this mapping.
	WWWServe WWWBehavior = ""
	// WWWRedirectToApex 301s www.example.com to example.com.
	WWWRedirectToApex WWWBehavior = "redirect_to_apex"
	// WWWRedirectToWWW 301s example.com to www.example.com.
	WWWRedirectToWWW WWWBehavior = "redirect_to_www"
)

// DefaultStickySessionSeconds is the sticky cookie lifetime when a mapping
// enables sticky sessions without choosing a duration.
const DefaultStickySessionSeconds = 3600

// Mapping binds one hostname to a project, and optionally to a fixed alias
// and base path.
type Mapping struct {
	ID        uuid.UUID
	ProjectID *uuid.UUID

	// Alias pins the mapping to one alias name within the project. Empty
	// means the request path chooses the ref.
	Alias *string

	// Path is an optional base path prepended to requests, without leading
	// or trailing slashes.
	Path *string

	// Domain is the normalized hostname, globally unique.
	Domain string

	Type           Type
	RedirectTarget *string
	IsActive       bool

	// IsPublic overrides the visibility chain at the domain tier.
	IsPublic *bool

	// IsSPA enables the index.html fallback for extensionless misses.
	IsSPA bool

	// IsPrimary marks the mapping to prefer when several map one project.
	IsPrimary bool

	WWWBehavior WWWBehavior

	// Sticky sessions pin a visitor to the alias chosen by weighted
	// routing for the duration below.
	StickySessionsEnabled bool
	StickySessionSeconds  int

	CreatedAt time.Time
}

// StickyDuration returns the sticky cookie lifetime.
func (m *Mapping) StickyDuration() time.Duration {
	if m.StickySessionSeconds > 0 {
		return time.Duration(m.StickySessionSeconds) * time.Second
	}
	return DefaultStickySessionSeconds * time.Second
}

// Validate checks the mapping fields prior to persistence.
func (m *Mapping) Validate() error {
	if m.Domain == "" || m.Domain != NormalizeHost(m.Domain) {
		return errors.New("domain must be a normalized hostname")
	}
	if !m.Type.Valid() {
		return errors.New("unknown mapping type")
	}
	if m.Type == TypeRedirect {
		if m.RedirectTarget == nil || *m.RedirectTarget == "" {
			return errors.New("redirect mapping needs a target")
		}
	} else if m.ProjectID == nil {
		return errors.New("serving mapping needs a project")
	}
	if m.Path != nil && strings.Trim(*m.Path, "/") != *m.Path {
		return errors.New("path must not carry leading or trailing slashes")
	}
	switch m.WWWBehavior {
	case WWWServe, WWWRedirectToApex, WWWRedirectToWWW:
	default:
		return errors.New("unknown www behavior")
	}
	return nil
}

// MatchType selects what a traffic rule inspects.
type MatchType string

const (
	// MatchQueryParam matches a query parameter by key and value.
	MatchQueryParam MatchType = "query_param"
	// MatchCookie matches a request cookie by name and value.
	MatchCookie MatchType = "cookie"
)

// TrafficRule routes matching requests on a domain to a specific alias,
// ahead of weighted selection. Lower priority wins.
type TrafficRule struct {
	ID         uuid.UUID
	MappingID  uuid.UUID
	MatchType  MatchType
	MatchKey   string
	MatchValue string
	AliasID    uuid.UUID
	Priority   int
}

// AliasWeight assigns a share of unmatched traffic to an alias. Weights
// are relative; they need not sum to any particular value.
type AliasWeight struct {
	MappingID uuid.UUID
	AliasID   uuid.UUID
	Weight    int
}

// Store persists domain mappings and their routing attachments.
type Store interface {
	// Get returns the mapping with the given ID, or ErrDomainNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Mapping, error)

	// GetByDomain returns the mapping for a normalized host, or
	// ErrDomainNotFound. Inactive mappings are not returned.
	GetByDomain(ctx context.Context, domain string) (*Mapping, error)

	// ListByProject returns every mapping of a project, primary first.
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*Mapping, error)

	// Create persists a new mapping. Returns ErrDuplicateDomain when the
	// domain is taken.
	Create(ctx context.Context, m *Mapping) error

	// Update replaces the stored mapping.
	Update(ctx context.Context, m *Mapping) error

	// Delete removes the mapping and its traffic rules and weights.
	Delete(ctx context.Context, id uuid.UUID) error

	// TrafficRules returns the mapping's rules ordered by priority asc.
	TrafficRules(ctx context.Context, mappingID uuid.UUID) ([]TrafficRule, error)

	// ReplaceTrafficRules swaps the mapping's rule list atomically.
	ReplaceTrafficRules(ctx context.Context, mappingID uuid.UUID, rules []TrafficRule) error

	// AliasWeights returns the mapping's weighted alias split.
	AliasWeights(ctx context.Context, mappingID uuid.UUID) ([]AliasWeight, error)

	// ReplaceAliasWeights swaps the mapping's weight list atomically.
	ReplaceAliasWeights(ctx context.Context, mappingID uuid.UUID, weights []AliasWeight) error
}

// NormalizeHost lowercases host, strips a port suffix and a trailing dot.
// IPv6 literals keep their brackets.
func NormalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if strings.HasPrefix(host, "[") {
		// [::1]:8080 -> [::1]
		if i := strings.LastIndex(host, "]"); i >= 0 {
			host = host[:i+1]
		}
		return host
	}
	if i := strings.LastIndex(host, ":"); i >= 0 && strings.Count(host, ":") == 1 {
		host = host[:i]
	}
	return strings.TrimSuffix(host, ".")
}

// WWWTwin returns the www-prefixed twin for an apex host and the apex for
// a www host. Hosts with no twin (single label) return "".
func WWWTwin(host string) string {
	if rest, ok := strings.CutPrefix(host, "www."); ok {
		return rest
	}
	if !strings.Contains(host, ".") {
		return ""
	}
	return "www." + host
}
