package glob

import (
	"errors"
	"testing"
)

// TestCompile_Kinds verifies each supported pattern form compiles to the
// expected kind and stem.
func TestCompile_Kinds(t *testing.T) {
	tests := []struct {
		raw  string
		kind Kind
		stem string
	}{
		{"/env.json", KindExact, "/env.json"},
		{"/api/*", KindPrefix, "/api"},
		{"/api/v1/*", KindPrefix, "/api/v1"},
		{"feature/**", KindPrefix, "feature"},
		{"coverage/**", KindPrefix, "coverage"},
		{"*.json", KindSuffix, ".json"},
		{"*", KindPrefix, ""},
		{"**", KindPrefix, ""},
		{"main", KindExact, "main"},
	}
	for _, tt := range tests {
		p, err := Compile(tt.raw)
		if err != nil {
			t.Fatalf("Compile(%q): %v", tt.raw, err)
		}
		if p.Kind() != tt.kind {
			t.Errorf("Compile(%q).Kind() = %d, want %d", tt.raw, p.Kind(), tt.kind)
		}
		if p.Stem() != tt.stem {
			t.Errorf("Compile(%q).Stem() = %q, want %q", tt.raw, p.Stem(), tt.stem)
		}
	}
}

// TestCompile_Rejects verifies unsupported pattern shapes return ErrBadPattern.
func TestCompile_Rejects(t *testing.T) {
	for _, raw := range []string{"", "/a/*/b", "*a*", "/api/*suffix", "a**b"} {
		if _, err := Compile(raw); !errors.Is(err, ErrBadPattern) {
			t.Errorf("Compile(%q) = %v, want ErrBadPattern", raw, err)
		}
	}
}

// TestMatch_Exact verifies exact patterns match only the literal path,
// and that a trailing slash is not the same path.
func TestMatch_Exact(t *testing.T) {
	p := MustCompile("/env.json")
	if !p.Match("/env.json") {
		t.Error("expected /env.json to match itself")
	}
	if p.Match("/env.json/") {
		t.Error("trailing slash must not match an exact pattern")
	}
	if p.Match("/env.json.bak") {
		t.Error("longer path must not match an exact pattern")
	}
}

// TestMatch_Prefix verifies /api/* matches /api itself, children at any
// depth, and the trailing-slash form, but not sibling paths.
func TestMatch_Prefix(t *testing.T) {
	p := MustCompile("/api/*")
	for _, s := range []string{"/api", "/api/", "/api/users", "/api/v1/users"} {
		if !p.Match(s) {
			t.Errorf("expected %q to match /api/*", s)
		}
	}
	for _, s := range []string{"/apis", "/ap", "/api2/users", "/"} {
		if p.Match(s) {
			t.Errorf("did not expect %q to match /api/*", s)
		}
	}
}

// TestMatch_TreePrefix verifies branch-style double-star patterns match the
// stem and any nested name.
func TestMatch_TreePrefix(t *testing.T) {
	p := MustCompile("feature/**")
	for _, s := range []string{"feature", "feature/login", "feature/login/v2"} {
		if !p.Match(s) {
			t.Errorf("expected %q to match feature/**", s)
		}
	}
	if p.Match("features/login") {
		t.Error("did not expect features/login to match feature/**")
	}
}

// TestMatch_Suffix verifies *.json matches by extension anywhere in the tree.
func TestMatch_Suffix(t *testing.T) {
	p := MustCompile("*.json")
	for _, s := range []string{"/env.json", "a.json", "/deep/nested/config.json"} {
		if !p.Match(s) {
			t.Errorf("expected %q to match *.json", s)
		}
	}
	for _, s := range []string{"/env.json/", "/env.jsonl", "json"} {
		if p.Match(s) {
			t.Errorf("did not expect %q to match *.json", s)
		}
	}
}

// TestMatch_CatchAll verifies the bare star matches everything including the
// empty path.
func TestMatch_CatchAll(t *testing.T) {
	p := MustCompile("*")
	for _, s := range []string{"", "/", "/anything", "branch/name"} {
		if !p.Match(s) {
			t.Errorf("expected %q to match *", s)
		}
	}
}

// TestNormalize verifies duplicate slashes collapse while trailing slashes
// survive.
func TestNormalize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"//api///users", "/api/users"},
		{"/api/users/", "/api/users/"},
		{"/api/users", "/api/users"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// TestMatchAny verifies the first matching pattern short-circuits to true
// and empty sets match nothing.
func TestMatchAny(t *testing.T) {
	ps, err := CompileAll([]string{"main", "release/*"})
	if err != nil {
		t.Fatal(err)
	}
	if !MatchAny(ps, "release/2024") {
		t.Error("expected release/2024 to match")
	}
	if MatchAny(ps, "develop") {
		t.Error("did not expect develop to match")
	}
	if MatchAny(nil, "anything") {
		t.Error("empty pattern set must match nothing")
	}
}
