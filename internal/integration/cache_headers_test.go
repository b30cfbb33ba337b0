package integration

import (
	"net/http"
	"strings"
	"testing"
)

// TestCacheRules_HeaderShaping asserts the default cache directives per
// URL shape and that an admin-created rule takes effect on the very next
// read through snapshot invalidation.
func TestCacheRules_HeaderShaping(t *testing.T) {
	env := newTestEnv(t)
	commit := strings.Repeat("d", 40)

	// 1. Public project served on a custom domain.
	projectID := env.createProject(t, map[string]any{
		"owner":    "acme",
		"name":     "blog",
		"isPublic": true,
	})
	env.uploadAsset(t, projectID, commit, "main", "index.html", "text/html", []byte("<p>post</p>"))
	env.uploadAsset(t, projectID, commit, "main", "css/site.css", "text/css", []byte("p{color:red}"))
	env.createAlias(t, projectID, map[string]any{"name": "production", "commitSha": commit})
	env.createDomain(t, map[string]any{
		"domain":    "blog.acme.dev",
		"projectId": projectID,
		"type":      "custom",
	})

	getCacheControl := func(host, urlPath string) string {
		t.Helper()
		resp := env.publicGet(t, host, urlPath)
		cc := resp.Header.Get("Cache-Control")
		_ = readBody(t, resp)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s%s: status = %d, want %d", host, urlPath, resp.StatusCode, http.StatusOK)
		}
		return cc
	}

	// 2. HTML on an alias URL revalidates on every load.
	if got, want := getCacheControl("blog.acme.dev", "/index.html"), "public, max-age=0, must-revalidate"; got != want {
		t.Errorf("HTML Cache-Control = %q, want %q", got, want)
	}

	// 3. Other alias-addressed assets default to five minutes.
	if got, want := getCacheControl("blog.acme.dev", "/css/site.css"), "public, max-age=300, must-revalidate"; got != want {
		t.Errorf("stylesheet Cache-Control = %q, want %q", got, want)
	}

	// 4. Commit-addressed URLs get the immutable year regardless.
	if got, want := getCacheControl(testPrimaryDomain, "/public/acme/blog/"+commit+"/css/site.css"), "public, max-age=31536000, immutable"; got != want {
		t.Errorf("commit URL Cache-Control = %q, want %q", got, want)
	}

	// 5. A stylesheet rule overrides the default. The snapshot TTL in
	//    this environment is an hour, so the change on the next read can
	//    only have arrived through invalidation.
	var createdRule struct {
		ID string `json:"id"`
	}
	if status := env.adminRequest(t, http.MethodPost, "/admin/api/projects/"+projectID+"/cache-rules", map[string]any{
		"pathPattern":          "*.css",
		"browserMaxAge":        600,
		"cdnMaxAge":            1200,
		"staleWhileRevalidate": 60,
	}, &createdRule); status != http.StatusCreated {
		t.Fatalf("create cache rule: status = %d, want %d", status, http.StatusCreated)
	}
	want := "public, max-age=600, s-maxage=1200, stale-while-revalidate=60, must-revalidate"
	if got := getCacheControl("blog.acme.dev", "/css/site.css"); got != want {
		t.Errorf("ruled Cache-Control = %q, want %q", got, want)
	}

	// 6. HTML stays on the default; the rule matches stylesheets only.
	if got, want := getCacheControl("blog.acme.dev", "/index.html"), "public, max-age=0, must-revalidate"; got != want {
		t.Errorf("HTML Cache-Control after rule = %q, want %q", got, want)
	}

	// 7. A no-op update still invalidates, and re-evaluation lands on the
	//    identical directive.
	if status := env.adminRequest(t, http.MethodPut, "/admin/api/cache-rules/"+createdRule.ID, map[string]any{
		"browserMaxAge":        600,
		"cdnMaxAge":            1200,
		"staleWhileRevalidate": 60,
	}, nil); status != http.StatusOK {
		t.Fatalf("no-op rule update: status = %d, want %d", status, http.StatusOK)
	}
	if got := getCacheControl("blog.acme.dev", "/css/site.css"); got != want {
		t.Errorf("Cache-Control after no-op update = %q, want unchanged %q", got, want)
	}
}
