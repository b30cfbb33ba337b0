package web

import (
	"context"
	"crypto/md5"
	"encoding/hex"
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
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pagegate/pagegate/internal/adapter/outbound/memory"
	"github.com/pagegate/pagegate/internal/adapter/outbound/sqlite"
	"github.com/pagegate/pagegate/internal/domain/alias"
	"github.com/pagegate/pagegate/internal/domain/asset"
	"github.com/pagegate/pagegate/internal/domain/domainmap"
	"github.com/pagegate/pagegate/internal/domain/permission"
	"github.com/pagegate/pagegate/internal/domain/project"
	"github.com/pagegate/pagegate/internal/domain/proxyrule"
	"github.com/pagegate/pagegate/internal/domain/ratelimit"
	"github.com/pagegate/pagegate/internal/service"
)

const (
	testSHA           = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	testPrimaryDomain = "pages.example.com"
	testSessionCookie = "pagegate_session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testEnv is the full serving stack over a temp database: sqlite stores,
// in-memory object store and mailer, and the middleware-wrapped routes.
type testEnv struct {
	db       *sqlite.DB
	projects *sqlite.ProjectStore
	assets   *sqlite.AssetStore
	aliases  *sqlite.AliasStore
	domains  *sqlite.DomainStore
	proxy    *sqlite.ProxyRuleStore
	cache    *sqlite.CacheRuleStore
	perms    *sqlite.PermissionStore

	store    *memory.ObjectStore
	mailer   *memory.Mailer
	sessions *memory.SessionValidator
	rules    *service.RuleCacheService

	routes http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "web.db"), time.Second)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		db:       db,
		projects: sqlite.NewProjectStore(db),
		assets:   sqlite.NewAssetStore(db),
		aliases:  sqlite.NewAliasStore(db),
		domains:  sqlite.NewDomainStore(db),
		proxy:    sqlite.NewProxyRuleStore(db),
		cache:    sqlite.NewCacheRuleStore(db),
		perms:    sqlite.NewPermissionStore(db),
		store:    memory.NewObjectStore(),
		mailer:   memory.NewMailer(),
		sessions: memory.NewSessionValidator(),
	}

	logger := testLogger()
	env.rules = service.NewRuleCacheService(env.proxy, env.cache, 0, 0, logger)
	resolver := service.NewResolverService(env.projects, env.aliases, env.domains, env.rules, testPrimaryDomain, logger)
	assets := service.NewAssetService(env.assets, env.store, logger)

	limiter := ratelimit.NewSubmissionLimiter(10, time.Hour, clockwork.NewRealClock())
	t.Cleanup(limiter.Stop)
	forms := service.NewFormService(env.mailer, limiter, logger)

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	forwarder := NewForwarder(proxyrule.NewGuard(), nil, metrics, logger)
	handler := NewHandler(resolver, assets, env.rules, forms, permission.NewResolver(env.perms), forwarder, "/login", metrics, logger)

	transport := NewTransport(handler,
		WithLogger(logger),
		WithMetrics(metrics, reg),
		WithSessionValidator(env.sessions, testSessionCookie),
		WithHealthChecker(NewHealthChecker(db, env.store, env.mailer, "test")),
	)
	env.routes = transport.Routes()
	return env
}

func (env *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	env.routes.ServeHTTP(rec, req)
	return rec
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

// seedCommitAsset creates the row and the bytes behind it, with a real
// MD5 content hash so conditional-GET assertions hold.
func (env *testEnv) seedCommitAsset(t *testing.T, proj *project.Project, commitSHA, publicPath, mimeType, content string) *asset.Asset {
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
		MimeType:    mimeType,
		Size:        int64(len(content)),
		ContentHash: hex.EncodeToString(sum[:]),
		CommitSHA:   commitSHA,
		Branch:      "main",
		PublicPath:  publicPath,
		CreatedAt:   time.Now().UTC(),
	}
	if err := env.assets.Create(context.Background(), a); err != nil {
		t.Fatalf("seed asset %s: %v", publicPath, err)
	}
	if err := env.store.Upload(context.Background(), key, strings.NewReader(content), a.Size, mimeType); err != nil {
		t.Fatalf("seed bytes %s: %v", key, err)
	}
	return a
}

func (env *testEnv) seedMapping(t *testing.T, m *domainmap.Mapping) *domainmap.Mapping {
	t.Helper()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if err := env.domains.Create(context.Background(), m); err != nil {
		t.Fatalf("seed mapping %s: %v", m.Domain, err)
	}
	return m
}

func (env *testEnv) seedRuleSet(t *testing.T, projectID uuid.UUID, name string, rules ...proxyrule.Rule) *proxyrule.RuleSet {
	t.Helper()
	rs := &proxyrule.RuleSet{
		ID:        uuid.New(),
		ProjectID: projectID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if err := env.proxy.CreateRuleSet(context.Background(), rs); err != nil {
		t.Fatalf("seed rule set %s: %v", name, err)
	}
	for i := range rules {
		rules[i].ID = uuid.New()
		rules[i].RuleSetID = rs.ID
		if rules[i].TimeoutMs == 0 {
			rules[i].TimeoutMs = proxyrule.DefaultTimeoutMs
		}
		rules[i].Enabled = true
		rules[i].CreatedAt = time.Now().UTC()
		if err := env.proxy.CreateRule(context.Background(), &rules[i]); err != nil {
			t.Fatalf("seed rule %s: %v", rules[i].PathPattern, err)
		}
	}
	return rs
}

// seedUser creates an account, optionally with a direct project role, and
// returns a granted session token for it.
func (env *testEnv) seedUser(t *testing.T, namespace string, projectID uuid.UUID, role project.Role) (uuid.UUID, string) {
	t.Helper()
	u := &permission.User{
		ID:        uuid.New(),
		Email:     namespace + "@example.com",
		Namespace: namespace,
		Role:      permission.PlatformUser,
		CreatedAt: time.Now().UTC(),
	}
	if err := env.perms.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("seed user %s: %v", namespace, err)
	}
	if role != "" {
		m := permission.Membership{UserID: u.ID, ProjectID: projectID, Role: role}
		if err := env.perms.SetMembership(context.Background(), m); err != nil {
			t.Fatalf("seed membership: %v", err)
		}
	}
	token := "tok-" + u.ID.String()
	env.sessions.Grant(token, permission.AuthContext{UserID: u.ID, Role: permission.PlatformUser})
	return u.ID, token
}

// bindRuleSet attaches a rule set to an alias so requests through it
// evaluate proxy rules.
func (env *testEnv) bindRuleSet(t *testing.T, al *alias.Alias, ruleSetID uuid.UUID) {
	t.Helper()
	al.ProxyRuleSetID = &ruleSetID
	if err := env.aliases.Update(context.Background(), al); err != nil {
		t.Fatalf("bind rule set: %v", err)
	}
}
