// Package cacherule computes Cache-Control directives for served assets.
// Rules are matched first-match-wins by ascending priority; misses fall
// back to defaults keyed on whether the URL is content-hashed and whether
// the file is HTML.
package cacherule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/pagegate/pagegate/internal/domain/glob"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrRuleNotFound is returned when no cache rule matches the lookup.
	ErrRuleNotFound = errors.New("cache rule not found")
)

// Cacheability selects the leading Cache-Control token.
type Cacheability string

const (
	// CacheabilityPublic allows shared caches.
	CacheabilityPublic Cacheability = "public"
	// CacheabilityPrivate restricts to the browser cache.
	CacheabilityPrivate Cacheability = "private"
	// CacheabilityInherit derives the token from content visibility.
	CacheabilityInherit Cacheability = "inherit"
)

// Valid reports whether c is a known cacheability.
func (c Cacheability) Valid() bool {
	return c == CacheabilityPublic || c == CacheabilityPrivate || c == CacheabilityInherit
}

// Default lifetimes applied when no rule matches.
const (
	// DefaultImmutableMaxAge is one year, for content-hashed URLs.
	DefaultImmutableMaxAge = 31536000
	// DefaultHTMLMaxAge forces revalidation on every HTML load.
	DefaultHTMLMaxAge = 0
	// DefaultMaxAge covers everything else.
	DefaultMaxAge = 300
	// MinOriginTTL floors the derived origin-cache lifetime.
	MinOriginTTL = 300 * time.Second
	// OriginTTLSlack is added on top of the client-facing lifetime so the
	// origin cache never expires before downstream caches revalidate.
	OriginTTLSlack = 60 * time.Second
)

// Rule is one project-scoped cache policy entry.
type Rule struct {
	ID        uuid.UUID
	ProjectID uuid.UUID

	PathPattern string

	BrowserMaxAge        int
	CDNMaxAge            *int
	StaleWhileRevalidate *int
	Immutable            bool
	Cacheability         Cacheability

	// Priority orders evaluation; lower evaluates first.
	Priority int
	Enabled  bool

	CreatedAt time.Time
}

// Validate checks pattern and bounds prior to persistence.
func (r *Rule) Validate() error {
	if _, err := glob.Compile(r.PathPattern); err != nil {
		return fmt.Errorf("path pattern %q: %w", r.PathPattern, err)
	}
	if r.BrowserMaxAge < 0 {
		return errors.New("browserMaxAge must be non-negative")
	}
	if r.CDNMaxAge != nil && *r.CDNMaxAge < 0 {
		return errors.New("cdnMaxAge must be non-negative")
	}
	if r.StaleWhileRevalidate != nil && *r.StaleWhileRevalidate < 0 {
		return errors.New("staleWhileRevalidate must be non-negative")
	}
	if r.Cacheability != "" && !r.Cacheability.Valid() {
		return fmt.Errorf("unknown cacheability %q", r.Cacheability)
	}
	return nil
}

// Store persists cache rules.
type Store interface {
	// Get returns one cache rule, or ErrRuleNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Rule, error)

	// ListByProject returns a project's rules ordered by priority asc.
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]Rule, error)

	// Create persists a new rule.
	Create(ctx context.Context, r *Rule) error

	// Update replaces the stored rule.
	Update(ctx context.Context, r *Rule) error

	// Delete removes one rule.
	Delete(ctx context.Context, id uuid.UUID) error
}

// CompiledRule pairs a rule with its compiled pattern.
type CompiledRule struct {
	Rule
	Pattern glob.Pattern
}

// CompiledSet is an immutable snapshot of a project's cache rules ordered
// by ascending priority. Disabled rules are dropped at compile time.
type CompiledSet struct {
	ProjectID   uuid.UUID
	Rules       []CompiledRule
	Fingerprint uint64
}

// Compile builds a snapshot from the stored rules.
func Compile(projectID uuid.UUID, rules []Rule) (*CompiledSet, error) {
	ordered := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled {
			ordered = append(ordered, r)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	h := xxhash.New()
	compiled := make([]CompiledRule, 0, len(ordered))
	for _, r := range ordered {
		p, err := glob.Compile(r.PathPattern)
		if err != nil {
			return nil, fmt.Errorf("cache rule %s pattern %q: %w", r.ID, r.PathPattern, err)
		}
		compiled = append(compiled, CompiledRule{Rule: r, Pattern: p})
		fmt.Fprintf(h, "%s|%s|%d\n", r.ID, r.PathPattern, r.Priority)
	}
	return &CompiledSet{ProjectID: projectID, Rules: compiled, Fingerprint: h.Sum64()}, nil
}

// Input describes the asset being served.
type Input struct {
	FilePath string

	// IsImmutableURL marks content-hashed URLs that may cache forever.
	IsImmutableURL bool

	// IsPublicContent reflects the effective visibility; it decides the
	// cacheability token when the rule inherits.
	IsPublicContent bool
}

// Directive is the computed cache policy for one response.
type Directive struct {
	// Value is the Cache-Control header value.
	Value string

	// OriginTTL is how long the origin-side cache may hold the object.
	OriginTTL time.Duration

	// MatchedRule is the rule that produced the directive, nil on default.
	MatchedRule *CompiledRule
}

// Evaluate computes the directive for in. Rules are consulted first-match
// by priority; otherwise content-hashed URLs get a year and immutable,
// HTML gets max-age zero, and everything else gets five minutes.
func (s *CompiledSet) Evaluate(in Input) Directive {
	path := glob.Normalize(in.FilePath)

	if s != nil {
		for i := range s.Rules {
			if s.Rules[i].Pattern.Match(path) {
				return render(&s.Rules[i], in)
			}
		}
	}

	def := Rule{Cacheability: CacheabilityInherit}
	switch {
	case in.IsImmutableURL:
		def.BrowserMaxAge = DefaultImmutableMaxAge
		def.Immutable = true
	case isHTML(path):
		def.BrowserMaxAge = DefaultHTMLMaxAge
	default:
		def.BrowserMaxAge = DefaultMaxAge
	}
	d := render(&CompiledRule{Rule: def}, in)
	d.MatchedRule = nil
	return d
}

// render composes the directive string in its fixed order:
// cacheability, max-age, optional s-maxage, optional
// stale-while-revalidate, then immutable or must-revalidate.
func render(r *CompiledRule, in Input) Directive {
	var b strings.Builder

	cacheability := r.Cacheability
	if cacheability == "" || cacheability == CacheabilityInherit {
		if in.IsPublicContent {
			cacheability = CacheabilityPublic
		} else {
			cacheability = CacheabilityPrivate
		}
	}
	b.WriteString(string(cacheability))

	b.WriteString(", max-age=")
	b.WriteString(strconv.Itoa(r.BrowserMaxAge))

	cdn := 0
	if r.CDNMaxAge != nil {
		cdn = *r.CDNMaxAge
		if cdn != r.BrowserMaxAge {
			b.WriteString(", s-maxage=")
			b.WriteString(strconv.Itoa(cdn))
		}
	}
	if r.StaleWhileRevalidate != nil {
		b.WriteString(", stale-while-revalidate=")
		b.WriteString(strconv.Itoa(*r.StaleWhileRevalidate))
	}
	if r.Immutable {
		b.WriteString(", immutable")
	} else {
		b.WriteString(", must-revalidate")
	}

	ttl := r.BrowserMaxAge
	if cdn > ttl {
		ttl = cdn
	}
	origin := time.Duration(ttl)*time.Second + OriginTTLSlack
	if origin < MinOriginTTL {
		origin = MinOriginTTL
	}

	return Directive{Value: b.String(), OriginTTL: origin, MatchedRule: r}
}

func isHTML(path string) bool {
	return strings.HasSuffix(path, ".html") || strings.HasSuffix(path, ".htm")
}
