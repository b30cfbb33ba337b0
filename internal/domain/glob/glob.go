// Package glob implements the path and branch pattern language used by proxy
// rules, cache rules, and retention rules.
//
// Four pattern forms are supported:
//
//   - exact:        /env.json          matches only /env.json
//   - prefix:       /api/*             matches /api and anything under /api/
//   - tree prefix:  feature/**         same as prefix; the conventional form
//     for branch names and path trees
//   - suffix:       *.json             matches any string ending in .json
//
// Patterns are compiled once and evaluated in O(len(pattern)). Matching is
// case-sensitive; callers that compare commit SHAs normalize case before
// matching.
package glob

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBadPattern is returned by Compile for patterns outside the supported
// forms (empty patterns, interior wildcards, multiple wildcards).
var ErrBadPattern = errors.New("glob: unsupported pattern")

// Kind identifies the compiled form of a pattern.
type Kind uint8

const (
	// KindExact matches the stem verbatim.
	KindExact Kind = iota
	// KindPrefix matches the stem itself or any path below it.
	KindPrefix
	// KindSuffix matches any string ending in the stem.
	KindSuffix
)

// Pattern is a compiled matcher. The zero value matches nothing; obtain
// instances via Compile or MustCompile.
type Pattern struct {
	raw  string
	kind Kind
	stem string
}

// Compile parses a pattern into its matchable form.
func Compile(raw string) (Pattern, error) {
	norm := Normalize(raw)
	if norm == "" {
		return Pattern{}, fmt.Errorf("%w: empty pattern", ErrBadPattern)
	}

	switch {
	case norm == "*" || norm == "**":
		return Pattern{raw: raw, kind: KindPrefix, stem: ""}, nil

	case strings.HasSuffix(norm, "/**"):
		stem := strings.TrimSuffix(norm, "/**")
		if strings.Contains(stem, "*") {
			return Pattern{}, fmt.Errorf("%w: %q", ErrBadPattern, raw)
		}
		return Pattern{raw: raw, kind: KindPrefix, stem: stem}, nil

	case strings.HasSuffix(norm, "/*"):
		stem := strings.TrimSuffix(norm, "/*")
		if strings.Contains(stem, "*") {
			return Pattern{}, fmt.Errorf("%w: %q", ErrBadPattern, raw)
		}
		return Pattern{raw: raw, kind: KindPrefix, stem: stem}, nil

	case strings.HasPrefix(norm, "*"):
		stem := norm[1:]
		if stem == "" || strings.Contains(stem, "*") {
			return Pattern{}, fmt.Errorf("%w: %q", ErrBadPattern, raw)
		}
		return Pattern{raw: raw, kind: KindSuffix, stem: stem}, nil

	default:
		if strings.Contains(norm, "*") {
			return Pattern{}, fmt.Errorf("%w: interior wildcard in %q", ErrBadPattern, raw)
		}
		return Pattern{raw: raw, kind: KindExact, stem: norm}, nil
	}
}

// MustCompile is Compile for patterns known valid at build time; it panics on
// error and exists for tests and static rule tables.
func MustCompile(raw string) Pattern {
	p, err := Compile(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// Match reports whether s (normalized the same way patterns are) satisfies
// the pattern. A trailing slash on s only matches prefix patterns, mirroring
// the convention that /api/ is inside /api/* but is not the exact path /api.
func (p Pattern) Match(s string) bool {
	s = Normalize(s)
	switch p.kind {
	case KindExact:
		return s == p.stem
	case KindSuffix:
		return strings.HasSuffix(s, p.stem)
	case KindPrefix:
		if p.stem == "" {
			return true
		}
		return s == p.stem || strings.HasPrefix(s, p.stem+"/")
	default:
		return false
	}
}

// Kind returns the compiled form.
func (p Pattern) Kind() Kind { return p.kind }

// Stem returns the literal part of the pattern with wildcards removed.
// For /api/* the stem is /api; for *.json it is .json.
func (p Pattern) Stem() string { return p.stem }

// Raw returns the pattern text as supplied to Compile.
func (p Pattern) Raw() string { return p.raw }

// String implements fmt.Stringer.
func (p Pattern) String() string { return p.raw }

// Normalize collapses duplicate slashes so that //api///users and /api/users
// compare equal. Trailing slashes are preserved: they carry meaning for
// exact-pattern matching.
func Normalize(s string) string {
	if !strings.Contains(s, "//") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	var prevSlash bool
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteByte(c)
	}
	return b.String()
}

// MatchAny reports whether any of the compiled patterns matches s.
func MatchAny(patterns []Pattern, s string) bool {
	for _, p := range patterns {
		if p.Match(s) {
			return true
		}
	}
	return false
}

// CompileAll compiles every pattern, failing on the first bad one.
func CompileAll(raw []string) ([]Pattern, error) {
	out := make([]Pattern, 0, len(raw))
	for _, r := range raw {
		p, err := Compile(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
