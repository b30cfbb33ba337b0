package admin

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/pagegate/pagegate/internal/adapter/outbound/memory"
	"github.com/pagegate/pagegate/internal/adapter/outbound/sqlite"
	"github.com/pagegate/pagegate/internal/domain/alias"
	"github.com/pagegate/pagegate/internal/domain/asset"
	"github.com/pagegate/pagegate/internal/domain/project"
	"github.com/pagegate/pagegate/internal/domain/secrets"
	"github.com/pagegate/pagegate/internal/service"
)

const (
	testSHA      = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	testOtherSHA = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

// testBoxKey is a fixed 32-byte AES key for the seal-at-rest tests.
var testBoxKey = []byte("0123456789abcdef0123456789abcdef")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// recordRegenerator counts hook firings so tests can assert that mapping
// and rule mutations notify the front proxy. A set ruleErr makes the
// proxy-rule hook fail, for rollback tests.
type recordRegenerator struct {
	calls     int
	ruleCalls int
	ruleErr   error
}

func (r *recordRegenerator) DomainsChanged(context.Context) error {
	r.calls++
	return nil
}

func (r *recordRegenerator) ProxyRulesChanged(context.Context) error {
	r.ruleCalls++
	return r.ruleErr
}

// testEnv is the full admin stack over a temp database. The rule cache
// runs with hour-long TTLs, so any change a test observes through it was
// published by explicit invalidation, never by expiry.
type testEnv struct {
	db        *sqlite.DB
	projects  *sqlite.ProjectStore
	assets    *sqlite.AssetStore
	aliases   *sqlite.AliasStore
	domains   *sqlite.DomainStore
	proxy     *sqlite.ProxyRuleStore
	cache     *sqlite.CacheRuleStore
	retention *sqlite.RetentionStore
	keys      *sqlite.APIKeyStore

	store *memory.ObjectStore
	rules *service.RuleCacheService
	box   *secrets.Box
	regen *recordRegenerator

	routes http.Handler
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "admin.db"), time.Second)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	box, err := secrets.NewBox(testBoxKey)
	if err != nil {
		t.Fatalf("new box: %v", err)
	}

	env := &testEnv{
		db:        db,
		projects:  sqlite.NewProjectStore(db),
		assets:    sqlite.NewAssetStore(db),
		aliases:   sqlite.NewAliasStore(db),
		domains:   sqlite.NewDomainStore(db),
		proxy:     sqlite.NewProxyRuleStore(db),
		cache:     sqlite.NewCacheRuleStore(db),
		retention: sqlite.NewRetentionStore(db),
		keys:      sqlite.NewAPIKeyStore(db),
		store:     memory.NewObjectStore(),
		box:       box,
		regen:     &recordRegenerator{},
	}

	logger := testLogger()
	clock := clockwork.NewRealClock()
	env.rules = service.NewRuleCacheService(env.proxy, env.cache, time.Hour, time.Hour, logger)
	ingest := service.NewIngestService(env.projects, env.assets, env.aliases, env.store, nil, clock, logger)
	retentionSvc := service.NewRetentionService(env.retention, env.projects, env.assets, env.aliases, env.store, nil, clock, false, logger)

	handler := NewHandler(
		WithProjectStore(env.projects),
		WithAliasStore(env.aliases),
		WithDomainStore(env.domains),
		WithProxyRuleStore(env.proxy),
		WithCacheRuleStore(env.cache),
		WithRetentionStore(env.retention),
		WithRetentionService(retentionSvc),
		WithIngestService(ingest),
		WithRuleCache(env.rules),
		WithKeyStore(env.keys),
		WithSecretsBox(box),
		WithRegenerator(env.regen),
		WithLogger(logger),
	)
	env.routes = handler.Routes()
	return env
}

// doRequest issues a loopback request, which the middleware admits as an
// operator.
func (env *testEnv) doRequest(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return env.doRequestFrom(t, "127.0.0.1:1234", "", method, path, body)
}

// doRequestFrom issues a request from an arbitrary peer address with an
// optional bearer secret, for auth and rate-limit tests.
func (env *testEnv) doRequestFrom(t *testing.T, remoteAddr, bearer, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		bodyReader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, bodyReader)
	req.RemoteAddr = remoteAddr
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	env.routes.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v (body=%q)", err, rec.Body.String())
	}
}

// errorBody matches respondError's canonical shape.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func uuidFrom(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	if err != nil {
		t.Fatalf("parse uuid %q: %v", s, err)
	}
	return id
}

func (env *testEnv) seedProject(t *testing.T, owner, name string, mutate ...func(*project.Project)) *project.Project {
	t.Helper()
	p := &project.Project{
		ID:                   uuid.New(),
		Owner:                owner,
		Name:                 name,
		IsPublic:             true,
		UnauthorizedBehavior: project.UnauthorizedNotFound,
		RequiredRole:         project.RoleViewer,
		QuotaBehavior:        project.QuotaBlock,
		CreatedAt:            time.Now().UTC(),
	}
	for _, m := range mutate {
		m(p)
	}
	if err := env.projects.Create(context.Background(), p); err != nil {
		t.Fatalf("seed project %s/%s: %v", owner, name, err)
	}
	return p
}

func (env *testEnv) seedAlias(t *testing.T, projectID uuid.UUID, name, commitSHA string, mutate ...func(*alias.Alias)) *alias.Alias {
	t.Helper()
	al := &alias.Alias{
		ID:        uuid.New(),
		ProjectID: projectID,
		Name:      name,
		CommitSHA: commitSHA,
		CreatedAt: time.Now().UTC(),
	}
	for _, m := range mutate {
		m(al)
	}
	if err := env.aliases.Create(context.Background(), al); err != nil {
		t.Fatalf("seed alias %s: %v", name, err)
	}
	return al
}

// seedCommitAsset creates the row and the bytes behind it. The explicit
// creation time lets retention tests age commits past their cutoff.
func (env *testEnv) seedCommitAsset(t *testing.T, proj *project.Project, commitSHA, publicPath, content string, at time.Time) *asset.Asset {
	t.Helper()
	key, err := asset.CommitKey(proj.Owner, proj.Name, commitSHA, publicPath, publicPath)
	if err != nil {
		t.Fatalf("commit key: %v", err)
	}
	sum := md5.Sum([]byte(content))
	a := &asset.Asset{
		ID:          uuid.New(),
		ProjectID:   proj.ID,
		FileName:    path.Base(publicPath),
		StorageKey:  key,
		MimeType:    "text/html",
		Size:        int64(len(content)),
		ContentHash: hex.EncodeToString(sum[:]),
		CommitSHA:   commitSHA,
		Branch:      "main",
		PublicPath:  publicPath,
		CreatedAt:   at,
	}
	if err := env.assets.Create(context.Background(), a); err != nil {
		t.Fatalf("seed asset %s: %v", publicPath, err)
	}
	if err := env.store.Upload(context.Background(), key, strings.NewReader(content), a.Size, a.MimeType); err != nil {
		t.Fatalf("seed bytes %s: %v", key, err)
	}
	return a
}

// createProject provisions a tenant through the API and returns its
// response, for tests exercising the full create path.
func (env *testEnv) createProject(t *testing.T, owner, name string) projectResponse {
	t.Helper()
	rec := env.doRequest(t, http.MethodPost, "/admin/api/projects", map[string]any{
		"owner": owner,
		"name":  name,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create project: status = %d, want 201 (body %q)", rec.Code, rec.Body.String())
	}
	var resp projectResponse
	decodeJSON(t, rec, &resp)
	return resp
}

// createRuleSet provisions a rule set through the API.
func (env *testEnv) createRuleSet(t *testing.T, projectID uuid.UUID, name string) ruleSetResponse {
	t.Helper()
	rec := env.doRequest(t, http.MethodPost, "/admin/api/projects/"+projectID.String()+"/rule-sets", map[string]any{
		"name": name,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create rule set: status = %d, want 201 (body %q)", rec.Code, rec.Body.String())
	}
	var resp ruleSetResponse
	decodeJSON(t, rec, &resp)
	return resp
}
