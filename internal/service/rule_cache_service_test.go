package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pagegate/pagegate/internal/domain/cacherule"
	"github.com/pagegate/pagegate/internal/domain/proxyrule"
)

// TestProxyRules_SnapshotReuse verifies repeat lookups inside the TTL
// share one compiled snapshot instead of touching the store again.
func TestProxyRules_SnapshotReuse(t *testing.T) {
	t.Parallel()

	st := newTestStores(t)
	proj := seedProject(t, st, "acme", "site")
	rs := seedRuleSet(t, st, proj.ID, "edge",
		proxyrule.Rule{PathPattern: "/api/*", TargetURL: "https://backend.svc", Kind: proxyrule.KindExternalProxy, Order: 1},
	)
	svc := NewRuleCacheService(st.proxy, st.cache, time.Minute, time.Minute, testLogger())

	first, err := svc.ProxyRules(context.Background(), rs.ID)
	if err != nil {
		t.Fatalf("ProxyRules: %v", err)
	}
	second, err := svc.ProxyRules(context.Background(), rs.ID)
	if err != nil {
		t.Fatalf("ProxyRules again: %v", err)
	}
	if first != second {
		t.Error("expected the same snapshot pointer within the TTL")
	}
	if len(first.Rules) != 1 || first.Rules[0].PathPattern != "/api/*" {
		t.Errorf("snapshot rules = %+v", first.Rules)
	}
}

// TestProxyRules_Invalidation verifies stale snapshots survive mutations
// until the rule set is explicitly invalidated.
func TestProxyRules_Invalidation(t *testing.T) {
	t.Parallel()

	st := newTestStores(t)
	proj := seedProject(t, st, "acme", "site")
	rs := seedRuleSet(t, st, proj.ID, "edge",
		proxyrule.Rule{PathPattern: "/api/*", TargetURL: "https://backend.svc", Kind: proxyrule.KindExternalProxy, Order: 1},
	)
	svc := NewRuleCacheService(st.proxy, st.cache, time.Minute, time.Minute, testLogger())

	before, err := svc.ProxyRules(context.Background(), rs.ID)
	if err != nil {
		t.Fatalf("ProxyRules: %v", err)
	}

	extra := proxyrule.Rule{
		ID:          uuid.New(),
		RuleSetID:   rs.ID,
		PathPattern: "/search",
		TargetURL:   "https://search.svc",
		Kind:        proxyrule.KindExternalProxy,
		Order:       2,
		Enabled:     true,
		CreatedAt:   time.Now().UTC(),
	}
	if err := st.proxy.CreateRule(context.Background(), &extra); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	stale, err := svc.ProxyRules(context.Background(), rs.ID)
	if err != nil {
		t.Fatalf("ProxyRules stale: %v", err)
	}
	if stale != before {
		t.Error("mutation must not bust the cache on its own")
	}

	svc.InvalidateRuleSet(rs.ID)
	fresh, err := svc.ProxyRules(context.Background(), rs.ID)
	if err != nil {
		t.Fatalf("ProxyRules fresh: %v", err)
	}
	if len(fresh.Rules) != 2 {
		t.Errorf("fresh snapshot has %d rules, want 2", len(fresh.Rules))
	}
	if fresh.Fingerprint == before.Fingerprint {
		t.Error("fingerprint unchanged after recompile")
	}
}

// TestCacheRules_Invalidation exercises the project-keyed cache-rule side.
func TestCacheRules_Invalidation(t *testing.T) {
	t.Parallel()

	st := newTestStores(t)
	proj := seedProject(t, st, "acme", "site")
	rule := cacherule.Rule{
		ID:            uuid.New(),
		ProjectID:     proj.ID,
		PathPattern:   "*.json",
		BrowserMaxAge: 30,
		Priority:      1,
		Enabled:       true,
		CreatedAt:     time.Now().UTC(),
	}
	if err := st.cache.Create(context.Background(), &rule); err != nil {
		t.Fatalf("create cache rule: %v", err)
	}
	svc := NewRuleCacheService(st.proxy, st.cache, time.Minute, time.Minute, testLogger())

	set, err := svc.CacheRules(context.Background(), proj.ID)
	if err != nil {
		t.Fatalf("CacheRules: %v", err)
	}
	if len(set.Rules) != 1 {
		t.Fatalf("got %d rules, want 1", len(set.Rules))
	}

	if err := st.cache.Delete(context.Background(), rule.ID); err != nil {
		t.Fatalf("delete cache rule: %v", err)
	}
	svc.InvalidateProject(proj.ID)

	set, err = svc.CacheRules(context.Background(), proj.ID)
	if err != nil {
		t.Fatalf("CacheRules after invalidate: %v", err)
	}
	if len(set.Rules) != 0 {
		t.Errorf("got %d rules after delete, want 0", len(set.Rules))
	}
}

// TestCacheRules_EmptyProject verifies a project without rules compiles
// to an empty snapshot that still evaluates defaults.
func TestCacheRules_EmptyProject(t *testing.T) {
	t.Parallel()

	st := newTestStores(t)
	proj := seedProject(t, st, "acme", "site")
	svc := NewRuleCacheService(st.proxy, st.cache, time.Minute, time.Minute, testLogger())

	set, err := svc.CacheRules(context.Background(), proj.ID)
	if err != nil {
		t.Fatalf("CacheRules: %v", err)
	}
	d := set.Evaluate(cacherule.Input{FilePath: "app.0f1e2d.js", IsImmutableURL: true, IsPublicContent: true})
	if d.Value != "public, max-age=31536000, immutable" {
		t.Errorf("immutable default = %q", d.Value)
	}
}
