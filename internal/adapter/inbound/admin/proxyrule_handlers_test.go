package admin

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/pagegate/pagegate/internal/domain/secrets"
)

func TestHandleCreateRuleSet_Duplicate(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)
	proj := env.seedProject(t, "acme", "site")
	env.createRuleSet(t, proj.ID, "api")

	rec := env.doRequest(t, http.MethodPost, "/admin/api/projects/"+proj.ID.String()+"/rule-sets", map[string]any{
		"name": "api",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 (body %q)", rec.Code, rec.Body.String())
	}
}

func TestHandleCreateRule_AppendsOrder(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)
	proj := env.seedProject(t, "acme", "site")
	rs := env.createRuleSet(t, proj.ID, "api")

	rec := env.doRequest(t, http.MethodPost, "/admin/api/rule-sets/"+rs.ID+"/rules", map[string]any{
		"pathPattern": "/api/*",
		"kind":        "external_proxy",
		"targetUrl":   "https://203.0.113.10/v1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("first: status = %d, want 201 (body %q)", rec.Code, rec.Body.String())
	}
	var first ruleResponse
	decodeJSON(t, rec, &first)
	if first.Order != 0 {
		t.Errorf("order = %d, want 0", first.Order)
	}
	if !first.Enabled {
		t.Error("enabled = false, want default true")
	}

	rec = env.doRequest(t, http.MethodPost, "/admin/api/rule-sets/"+rs.ID+"/rules", map[string]any{
		"pathPattern": "/docs/*",
		"kind":        "internal_rewrite",
		"targetUrl":   "/documentation",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("second: status = %d, want 201 (body %q)", rec.Code, rec.Body.String())
	}
	var second ruleResponse
	decodeJSON(t, rec, &second)
	if second.Order != 1 {
		t.Errorf("order = %d, want 1", second.Order)
	}
}

// TestHandleCreateRule_BlocksUnsafeTargets covers the guard at the write
// path: metadata endpoints, private literals, and plain http to the
// outside never reach the store.
func TestHandleCreateRule_BlocksUnsafeTargets(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)
	proj := env.seedProject(t, "acme", "site")
	rs := env.createRuleSet(t, proj.ID, "api")

	for name, target := range map[string]string{
		"metadata endpoint": "https://169.254.169.254/latest/meta-data/",
		"private literal":   "https://10.0.0.8/internal",
		"plain http":        "http://203.0.113.10/hook",
	} {
		rec := env.doRequest(t, http.MethodPost, "/admin/api/rule-sets/"+rs.ID+"/rules", map[string]any{
			"pathPattern": "/api/*",
			"kind":        "external_proxy",
			"targetUrl":   target,
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400 (body %q)", name, rec.Code, rec.Body.String())
			continue
		}
		var body errorBody
		decodeJSON(t, rec, &body)
		if body.Error != "blocked_target" {
			t.Errorf("%s: error = %q, want blocked_target", name, body.Error)
		}
	}
}

// Localhost is in the permitted-internal set, so plain http is fine for
// sidecar-style targets.
func TestHandleCreateRule_AllowsLocalhostTarget(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)
	proj := env.seedProject(t, "acme", "site")
	rs := env.createRuleSet(t, proj.ID, "api")

	rec := env.doRequest(t, http.MethodPost, "/admin/api/rule-sets/"+rs.ID+"/rules", map[string]any{
		"pathPattern": "/api/*",
		"kind":        "external_proxy",
		"targetUrl":   "http://localhost:9090/v1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %q)", rec.Code, rec.Body.String())
	}
}

func TestHandleCreateRule_TimeoutBounds(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)
	proj := env.seedProject(t, "acme", "site")
	rs := env.createRuleSet(t, proj.ID, "api")

	rec := env.doRequest(t, http.MethodPost, "/admin/api/rule-sets/"+rs.ID+"/rules", map[string]any{
		"pathPattern": "/api/*",
		"kind":        "external_proxy",
		"targetUrl":   "https://203.0.113.10/v1",
		"timeoutMs":   100,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (body %q)", rec.Code, rec.Body.String())
	}
}

func TestHandleCreateRule_DuplicatePattern(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)
	proj := env.seedProject(t, "acme", "site")
	rs := env.createRuleSet(t, proj.ID, "api")

	body := map[string]any{
		"pathPattern": "/api/*",
		"kind":        "internal_rewrite",
		"targetUrl":   "/backend",
	}
	if rec := env.doRequest(t, http.MethodPost, "/admin/api/rule-sets/"+rs.ID+"/rules", body); rec.Code != http.StatusCreated {
		t.Fatalf("first: status = %d, want 201", rec.Code)
	}
	rec := env.doRequest(t, http.MethodPost, "/admin/api/rule-sets/"+rs.ID+"/rules", body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second: status = %d, want 409 (body %q)", rec.Code, rec.Body.String())
	}
}

// TestHandleCreateRule_SealsInjectedHeaders verifies injected header
// values are encrypted before they hit the store and redacted on the way
// back out.
func TestHandleCreateRule_SealsInjectedHeaders(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)
	proj := env.seedProject(t, "acme", "site")
	rs := env.createRuleSet(t, proj.ID, "api")

	rec := env.doRequest(t, http.MethodPost, "/admin/api/rule-sets/"+rs.ID+"/rules", map[string]any{
		"pathPattern": "/api/*",
		"kind":        "external_proxy",
		"targetUrl":   "https://203.0.113.10/v1",
		"headers":     map[string]any{"add": map[string]string{"X-Api-Key": "super-secret"}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %q)", rec.Code, rec.Body.String())
	}
	var got ruleResponse
	decodeJSON(t, rec, &got)
	if got.Headers.Add["X-Api-Key"] != "***" {
		t.Errorf("response add value = %q, want ***", got.Headers.Add["X-Api-Key"])
	}

	stored, err := env.proxy.GetRule(context.Background(), uuidFrom(t, got.ID))
	if err != nil {
		t.Fatalf("get rule: %v", err)
	}
	sealed := stored.Headers.Add["X-Api-Key"]
	if !secrets.IsSealed(sealed) {
		t.Fatalf("stored value %q is not sealed", sealed)
	}
	plain, err := env.box.Open(sealed)
	if err != nil {
		t.Fatalf("open sealed value: %v", err)
	}
	if plain != "super-secret" {
		t.Errorf("opened = %q, want super-secret", plain)
	}
}

// TestHandleUpdateRule_RedactedPlaceholderKeepsSecret lets a client echo a
// redacted rule back through PUT without losing the stored value.
func TestHandleUpdateRule_RedactedPlaceholderKeepsSecret(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)
	proj := env.seedProject(t, "acme", "site")
	rs := env.createRuleSet(t, proj.ID, "api")

	rec := env.doRequest(t, http.MethodPost, "/admin/api/rule-sets/"+rs.ID+"/rules", map[string]any{
		"pathPattern": "/api/*",
		"kind":        "external_proxy",
		"targetUrl":   "https://203.0.113.10/v1",
		"headers":     map[string]any{"add": map[string]string{"X-Api-Key": "super-secret"}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, want 201", rec.Code)
	}
	var created ruleResponse
	decodeJSON(t, rec, &created)

	rec = env.doRequest(t, http.MethodPut, "/admin/api/rules/"+created.ID, map[string]any{
		"headers": map[string]any{"add": map[string]string{"X-Api-Key": "***"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status = %d, want 200 (body %q)", rec.Code, rec.Body.String())
	}

	stored, err := env.proxy.GetRule(context.Background(), uuidFrom(t, created.ID))
	if err != nil {
		t.Fatalf("get rule: %v", err)
	}
	plain, err := env.box.Open(stored.Headers.Add["X-Api-Key"])
	if err != nil {
		t.Fatalf("open sealed value: %v", err)
	}
	if plain != "super-secret" {
		t.Errorf("opened = %q, want super-secret", plain)
	}
}

// TestHandleUpdateRule_PublishesImmediately proves mutations reach the
// serving snapshot synchronously: the cache TTL is an hour, so the only
// way the second read can differ is the handler's invalidation.
func TestHandleUpdateRule_PublishesImmediately(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)
	proj := env.seedProject(t, "acme", "site")
	rs := env.createRuleSet(t, proj.ID, "api")
	rsID := uuidFrom(t, rs.ID)

	rec := env.doRequest(t, http.MethodPost, "/admin/api/rule-sets/"+rs.ID+"/rules", map[string]any{
		"pathPattern": "/api/*",
		"kind":        "internal_rewrite",
		"targetUrl":   "/backend",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, want 201", rec.Code)
	}
	var created ruleResponse
	decodeJSON(t, rec, &created)

	ctx := context.Background()
	warm, err := env.rules.ProxyRules(ctx, rsID)
	if err != nil {
		t.Fatalf("warm snapshot: %v", err)
	}
	if warm.Match("/api/users") == nil {
		t.Fatal("warm snapshot does not match /api/users")
	}

	rec = env.doRequest(t, http.MethodPut, "/admin/api/rules/"+created.ID, map[string]any{
		"enabled": false,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("disable: status = %d, want 200 (body %q)", rec.Code, rec.Body.String())
	}

	fresh, err := env.rules.ProxyRules(ctx, rsID)
	if err != nil {
		t.Fatalf("fresh snapshot: %v", err)
	}
	if fresh.Match("/api/users") != nil {
		t.Fatal("disabled rule still matches; snapshot was not invalidated")
	}
}

func TestHandleDeleteRule(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)
	proj := env.seedProject(t, "acme", "site")
	rs := env.createRuleSet(t, proj.ID, "api")

	rec := env.doRequest(t, http.MethodPost, "/admin/api/rule-sets/"+rs.ID+"/rules", map[string]any{
		"pathPattern": "/api/*",
		"kind":        "internal_rewrite",
		"targetUrl":   "/backend",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, want 201", rec.Code)
	}
	var created ruleResponse
	decodeJSON(t, rec, &created)

	rec = env.doRequest(t, http.MethodDelete, "/admin/api/rules/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	rec = env.doRequest(t, http.MethodDelete, "/admin/api/rules/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete: status = %d, want 404", rec.Code)
	}
}

func TestHandleGetRuleSet_EmbedsRedactedRules(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)
	proj := env.seedProject(t, "acme", "site")
	rs := env.createRuleSet(t, proj.ID, "api")

	rec := env.doRequest(t, http.MethodPost, "/admin/api/rule-sets/"+rs.ID+"/rules", map[string]any{
		"pathPattern": "/api/*",
		"kind":        "external_proxy",
		"targetUrl":   "https://203.0.113.10/v1",
		"headers":     map[string]any{"add": map[string]string{"X-Api-Key": "super-secret"}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create rule: status = %d, want 201", rec.Code)
	}

	rec = env.doRequest(t, http.MethodGet, "/admin/api/rule-sets/"+rs.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got ruleSetResponse
	decodeJSON(t, rec, &got)
	if len(got.Rules) != 1 {
		t.Fatalf("rules len = %d, want 1", len(got.Rules))
	}
	if got.Rules[0].Headers.Add["X-Api-Key"] != "***" {
		t.Errorf("embedded add value = %q, want ***", got.Rules[0].Headers.Add["X-Api-Key"])
	}
}

// TestHandleDeleteRuleSet_RefusedWhileReferenced keeps referential
// integrity at the API layer: neither the project default nor an
// alias-bound rule set may vanish underneath its users.
func TestHandleDeleteRuleSet_RefusedWhileReferenced(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)
	created := env.createProject(t, "acme", "site")
	projectID := uuidFrom(t, created.ID)
	rs := env.createRuleSet(t, projectID, "api")

	rec := env.doRequest(t, http.MethodPut, "/admin/api/projects/"+created.ID, map[string]any{
		"defaultRuleSetId": rs.ID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("set default: status = %d, want 200", rec.Code)
	}
	rec = env.doRequest(t, http.MethodDelete, "/admin/api/rule-sets/"+rs.ID, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("delete default: status = %d, want 409 (body %q)", rec.Code, rec.Body.String())
	}

	// Clear the default, bind an alias instead: still refused.
	rec = env.doRequest(t, http.MethodPut, "/admin/api/projects/"+created.ID, map[string]any{
		"defaultRuleSetId": "00000000-0000-0000-0000-000000000000",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("clear default: status = %d, want 200", rec.Code)
	}
	al := env.seedAlias(t, projectID, "production", testSHA)
	rec = env.doRequest(t, http.MethodPut, "/admin/api/aliases/"+al.ID.String(), map[string]any{
		"proxyRuleSetId": rs.ID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("bind alias: status = %d, want 200 (body %q)", rec.Code, rec.Body.String())
	}
	rec = env.doRequest(t, http.MethodDelete, "/admin/api/rule-sets/"+rs.ID, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("delete bound: status = %d, want 409", rec.Code)
	}

	// Unbind; now the delete goes through.
	rec = env.doRequest(t, http.MethodPut, "/admin/api/aliases/"+al.ID.String(), map[string]any{
		"proxyRuleSetId": "00000000-0000-0000-0000-000000000000",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("unbind alias: status = %d, want 200", rec.Code)
	}
	rec = env.doRequest(t, http.MethodDelete, "/admin/api/rule-sets/"+rs.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete free: status = %d, want 204 (body %q)", rec.Code, rec.Body.String())
	}
}

// TestHandleUpdateRule_RegenFailureRollsBack keeps the database and the
// front proxy in step: when the configuration rebuild fails, the rule
// mutation is undone and the caller sees 502.
func TestHandleUpdateRule_RegenFailureRollsBack(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)
	proj := env.seedProject(t, "acme", "site")
	rs := env.createRuleSet(t, proj.ID, "api")

	rec := env.doRequest(t, http.MethodPost, "/admin/api/rule-sets/"+rs.ID+"/rules", map[string]any{
		"pathPattern": "/api/*",
		"kind":        "internal_rewrite",
		"targetUrl":   "/backend",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, want 201", rec.Code)
	}
	var created ruleResponse
	decodeJSON(t, rec, &created)

	env.regen.ruleErr = errors.New("nginx reload failed")
	rec = env.doRequest(t, http.MethodPut, "/admin/api/rules/"+created.ID, map[string]any{
		"enabled": false,
	})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("update: status = %d, want 502 (body %q)", rec.Code, rec.Body.String())
	}
	var body errorBody
	decodeJSON(t, rec, &body)
	if body.Error != "regeneration_failed" {
		t.Errorf("error = %q, want regeneration_failed", body.Error)
	}

	stored, err := env.proxy.GetRule(context.Background(), uuidFrom(t, created.ID))
	if err != nil {
		t.Fatalf("get rule: %v", err)
	}
	if !stored.Enabled {
		t.Error("rule was not rolled back to enabled")
	}

	env.regen.ruleErr = errors.New("nginx reload failed")
	rec = env.doRequest(t, http.MethodDelete, "/admin/api/rules/"+created.ID, nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("delete: status = %d, want 502 (body %q)", rec.Code, rec.Body.String())
	}
	if _, err := env.proxy.GetRule(context.Background(), uuidFrom(t, created.ID)); err != nil {
		t.Fatalf("deleted rule was not restored: %v", err)
	}
}
