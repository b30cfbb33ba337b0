package admin

import (
	"net/http"
	"testing"
)

// remoteAddr is a non-loopback peer for middleware tests.
const remoteAddr = "203.0.113.9:4567"

func TestAuthMiddleware_RemoteWithoutKey(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)

	rec := env.doRequestFrom(t, remoteAddr, "", http.MethodGet, "/admin/api/projects", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 (body %q)", rec.Code, rec.Body.String())
	}
	var body errorBody
	decodeJSON(t, rec, &body)
	if body.Error != "unauthorized" {
		t.Errorf("error = %q, want unauthorized", body.Error)
	}
}

func TestAuthMiddleware_InvalidKey(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)

	rec := env.doRequestFrom(t, remoteAddr, "pgk_deadbeef", http.MethodGet, "/admin/api/projects", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 (body %q)", rec.Code, rec.Body.String())
	}
	var body errorBody
	decodeJSON(t, rec, &body)
	if body.Message != "invalid API key" {
		t.Errorf("message = %q, want invalid API key", body.Message)
	}
}

// TestAuthMiddleware_ProjectKeyScope checks a keyed caller sees exactly
// its own project: foreign resources read as absent, tenancy management
// as forbidden.
func TestAuthMiddleware_ProjectKeyScope(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)
	mine := env.seedProject(t, "acme", "site")
	other := env.seedProject(t, "beta", "app")
	minted := env.mintKey(t, mine.ID, "ci")

	rec := env.doRequestFrom(t, remoteAddr, minted.Key, http.MethodGet, "/admin/api/projects/"+mine.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("own project: status = %d, want 200 (body %q)", rec.Code, rec.Body.String())
	}

	rec = env.doRequestFrom(t, remoteAddr, minted.Key, http.MethodGet, "/admin/api/projects/"+other.ID.String(), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign project: status = %d, want 404 (body %q)", rec.Code, rec.Body.String())
	}

	rec = env.doRequestFrom(t, remoteAddr, minted.Key, http.MethodGet, "/admin/api/projects", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("list projects: status = %d, want 403 (body %q)", rec.Code, rec.Body.String())
	}

	rec = env.doRequestFrom(t, remoteAddr, minted.Key, http.MethodPost, "/admin/api/projects", map[string]any{
		"owner": "acme", "name": "another",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("create project: status = %d, want 403 (body %q)", rec.Code, rec.Body.String())
	}
}

func TestAuthMiddleware_RevokedKey(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)
	proj := env.seedProject(t, "acme", "site")
	minted := env.mintKey(t, proj.ID, "ci")

	rec := env.doRequest(t, http.MethodDelete, "/admin/api/keys/"+minted.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("revoke: status = %d, want 204", rec.Code)
	}

	rec = env.doRequestFrom(t, remoteAddr, minted.Key, http.MethodGet, "/admin/api/projects/"+proj.ID.String(), nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 after revoke (body %q)", rec.Code, rec.Body.String())
	}
}

func TestAuthMiddleware_TracksLastUse(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)
	proj := env.seedProject(t, "acme", "site")
	minted := env.mintKey(t, proj.ID, "ci")
	if minted.LastUsedAt != "" {
		t.Fatalf("lastUsedAt = %q, want empty before first use", minted.LastUsedAt)
	}

	rec := env.doRequestFrom(t, remoteAddr, minted.Key, http.MethodGet, "/admin/api/projects/"+proj.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("keyed request: status = %d, want 200", rec.Code)
	}

	rec = env.doRequest(t, http.MethodGet, "/admin/api/projects/"+proj.ID.String()+"/keys", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status = %d, want 200", rec.Code)
	}
	var listed []keyResponse
	decodeJSON(t, rec, &listed)
	if len(listed) != 1 {
		t.Fatalf("keys len = %d, want 1", len(listed))
	}
	if listed[0].LastUsedAt == "" {
		t.Error("lastUsedAt still empty after keyed request")
	}
}
