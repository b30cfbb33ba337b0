package cacherule

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func intp(v int) *int { return &v }

// TestEvaluateDefaults covers the three no-match default policies.
func TestEvaluateDefaults(t *testing.T) {
	set, err := Compile(uuid.New(), nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	d := set.Evaluate(Input{FilePath: "/assets/app.3f2a9c.js", IsImmutableURL: true, IsPublicContent: true})
	if want := "public, max-age=31536000, immutable"; d.Value != want {
		t.Errorf("immutable default = %q, want %q", d.Value, want)
	}
	if want := time.Duration(31536000+60) * time.Second; d.OriginTTL != want {
		t.Errorf("immutable origin TTL = %v, want %v", d.OriginTTL, want)
	}

	d = set.Evaluate(Input{FilePath: "/index.html", IsPublicContent: true})
	if want := "public, max-age=0, must-revalidate"; d.Value != want {
		t.Errorf("html default = %q, want %q", d.Value, want)
	}
	if d.OriginTTL != MinOriginTTL {
		t.Errorf("html origin TTL = %v, want floor %v", d.OriginTTL, MinOriginTTL)
	}

	d = set.Evaluate(Input{FilePath: "/data/feed.json", IsPublicContent: false})
	if want := "private, max-age=300, must-revalidate"; d.Value != want {
		t.Errorf("generic default = %q, want %q", d.Value, want)
	}
	if d.MatchedRule != nil {
		t.Error("default evaluation reported a matched rule")
	}
}

// TestEvaluateRuleOrder verifies priority ordering and first-match-wins.
func TestEvaluateRuleOrder(t *testing.T) {
	pid := uuid.New()
	rules := []Rule{
		{ID: uuid.New(), ProjectID: pid, PathPattern: "/api/*", BrowserMaxAge: 0, Priority: 20, Enabled: true, Cacheability: CacheabilityPrivate},
		{ID: uuid.New(), ProjectID: pid, PathPattern: "/api/static/*", BrowserMaxAge: 600, Priority: 10, Enabled: true, Cacheability: CacheabilityPublic},
		{ID: uuid.New(), ProjectID: pid, PathPattern: "*.json", BrowserMaxAge: 30, Priority: 30, Enabled: false, Cacheability: CacheabilityPublic},
	}
	set, err := Compile(pid, rules)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(set.Rules) != 2 {
		t.Fatalf("compiled %d rules, want 2 (disabled dropped)", len(set.Rules))
	}

	d := set.Evaluate(Input{FilePath: "/api/static/logo.png", IsPublicContent: true})
	if want := "public, max-age=600, must-revalidate"; d.Value != want {
		t.Errorf("static rule = %q, want %q", d.Value, want)
	}

	d = set.Evaluate(Input{FilePath: "/api/users", IsPublicContent: true})
	if want := "private, max-age=0, must-revalidate"; d.Value != want {
		t.Errorf("api rule = %q, want %q", d.Value, want)
	}

	// Disabled rule never matches; falls to defaults.
	d = set.Evaluate(Input{FilePath: "/feed.json", IsPublicContent: true})
	if want := "public, max-age=300, must-revalidate"; d.Value != want {
		t.Errorf("disabled rule leaked: %q, want %q", d.Value, want)
	}
}

// TestRenderDirectiveOrder verifies the fixed directive ordering with all
// optional fields present, and the s-maxage suppression when equal.
func TestRenderDirectiveOrder(t *testing.T) {
	pid := uuid.New()
	set, err := Compile(pid, []Rule{{
		ID:                   uuid.New(),
		ProjectID:            pid,
		PathPattern:          "/downloads/*",
		BrowserMaxAge:        120,
		CDNMaxAge:            intp(3600),
		StaleWhileRevalidate: intp(60),
		Immutable:            true,
		Cacheability:         CacheabilityPublic,
		Enabled:              true,
	}})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	d := set.Evaluate(Input{FilePath: "/downloads/report.pdf"})
	want := "public, max-age=120, s-maxage=3600, stale-while-revalidate=60, immutable"
	if d.Value != want {
		t.Errorf("directive = %q, want %q", d.Value, want)
	}
	if wantTTL := 3660 * time.Second; d.OriginTTL != wantTTL {
		t.Errorf("origin TTL = %v, want %v (max(B,C)+60)", d.OriginTTL, wantTTL)
	}

	// Equal cdn and browser ages collapse to a single max-age.
	set, err = Compile(pid, []Rule{{
		ID:            uuid.New(),
		ProjectID:     pid,
		PathPattern:   "/downloads/*",
		BrowserMaxAge: 600,
		CDNMaxAge:     intp(600),
		Cacheability:  CacheabilityPublic,
		Enabled:       true,
	}})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	d = set.Evaluate(Input{FilePath: "/downloads/report.pdf"})
	if want := "public, max-age=600, must-revalidate"; d.Value != want {
		t.Errorf("directive = %q, want %q", d.Value, want)
	}
}

// TestInheritCacheability verifies inherit resolves from content
// visibility.
func TestInheritCacheability(t *testing.T) {
	pid := uuid.New()
	set, err := Compile(pid, []Rule{{
		ID:           uuid.New(),
		ProjectID:    pid,
		PathPattern:  "/media/*",
		BrowserMaxAge: 900,
		Cacheability: CacheabilityInherit,
		Enabled:      true,
	}})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	d := set.Evaluate(Input{FilePath: "/media/a.png", IsPublicContent: true})
	if want := "public, max-age=900, must-revalidate"; d.Value != want {
		t.Errorf("public inherit = %q, want %q", d.Value, want)
	}
	d = set.Evaluate(Input{FilePath: "/media/a.png", IsPublicContent: false})
	if want := "private, max-age=900, must-revalidate"; d.Value != want {
		t.Errorf("private inherit = %q, want %q", d.Value, want)
	}
}

// TestRuleValidate exercises bounds and pattern checks.
func TestRuleValidate(t *testing.T) {
	r := Rule{PathPattern: "/api/*", BrowserMaxAge: 60, Cacheability: CacheabilityPublic}
	if err := r.Validate(); err != nil {
		t.Fatalf("valid rule rejected: %v", err)
	}
	r.PathPattern = "/a/*/b"
	if err := r.Validate(); err == nil {
		t.Error("expected error for interior wildcard")
	}
	r.PathPattern = "/api/*"
	r.BrowserMaxAge = -1
	if err := r.Validate(); err == nil {
		t.Error("expected error for negative max-age")
	}
	r.BrowserMaxAge = 60
	r.Cacheability = "sideways"
	if err := r.Validate(); err == nil {
		t.Error("expected error for unknown cacheability")
	}
}
