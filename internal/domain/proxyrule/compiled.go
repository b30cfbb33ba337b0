package proxyrule

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/pagegate/pagegate/internal/domain/glob"
)

// CompiledRule pairs a rule with its compiled pattern.
type CompiledRule struct {
	Rule
	Pattern glob.Pattern
}

// CompiledSet is an immutable snapshot of one rule set, ordered ascending
// by Order. Disabled rules are dropped at compile time. Snapshots are
// shared between goroutines and must never be mutated after Compile.
type CompiledSet struct {
	RuleSetID   uuid.UUID
	Rules       []CompiledRule
	Fingerprint uint64
}

// Compile builds a snapshot from the stored rules. Rules that fail to
// compile poison the whole set so a bad pattern cannot silently drop
// later rules.
func Compile(ruleSetID uuid.UUID, rules []Rule) (*CompiledSet, error) {
	ordered := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled {
			ordered = append(ordered, r)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	h := xxhash.New()
	compiled := make([]CompiledRule, 0, len(ordered))
	for _, r := range ordered {
		p, err := glob.Compile(r.PathPattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s pattern %q: %w", r.ID, r.PathPattern, err)
		}
		compiled = append(compiled, CompiledRule{Rule: r, Pattern: p})
		fmt.Fprintf(h, "%s|%s|%s|%d\n", r.ID, r.PathPattern, r.Kind, r.Order)
	}
	return &CompiledSet{RuleSetID: ruleSetID, Rules: compiled, Fingerprint: h.Sum64()}, nil
}

// Match returns the first rule whose pattern matches subpath, or nil.
// Subpath must carry a leading slash.
func (s *CompiledSet) Match(subpath string) *CompiledRule {
	if s == nil {
		return nil
	}
	subpath = glob.Normalize(subpath)
	for i := range s.Rules {
		if s.Rules[i].Pattern.Match(subpath) {
			return &s.Rules[i]
		}
	}
	return nil
}

// Rewrite computes the internal-rewrite subpath for a matched rule.
// Prefix patterns re-root the remainder under the target, exact patterns
// rewrite verbatim, and suffix patterns park the basename under the
// target directory.
func (r *CompiledRule) Rewrite(subpath string) string {
	subpath = glob.Normalize(subpath)
	target := r.TargetURL
	switch r.Pattern.Kind() {
	case glob.KindPrefix:
		rest := strings.TrimPrefix(subpath, r.Pattern.Stem())
		if rest != "" && !strings.HasPrefix(rest, "/") {
			rest = "/" + rest
		}
		return strings.TrimRight(target, "/") + rest
	case glob.KindSuffix:
		return strings.TrimRight(target, "/") + "/" + path.Base(subpath)
	default:
		return target
	}
}

// UpstreamURL composes the outbound URL for an external proxy rule from
// the matched subpath and the inbound raw query. With StripPrefix the
// matched prefix is removed before concatenation, so target
// https://api.host/v1 plus pattern /api/* plus request /api/users yields
// https://api.host/v1/users.
func (r *CompiledRule) UpstreamURL(subpath, rawQuery string) string {
	subpath = glob.Normalize(subpath)
	rest := subpath
	if r.StripPrefix {
		switch r.Pattern.Kind() {
		case glob.KindPrefix:
			rest = strings.TrimPrefix(subpath, r.Pattern.Stem())
			if rest != "" && !strings.HasPrefix(rest, "/") {
				rest = "/" + rest
			}
		case glob.KindExact:
			// The whole path is the matched prefix.
			rest = ""
		}
	}
	u := strings.TrimRight(r.TargetURL, "/")
	if rest != "" && rest != "/" {
		u += rest
	}
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return u
}
