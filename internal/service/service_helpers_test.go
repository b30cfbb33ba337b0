package service

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pagegate/pagegate/internal/adapter/outbound/sqlite"
	"github.com/pagegate/pagegate/internal/domain/alias"
	"github.com/pagegate/pagegate/internal/domain/asset"
	"github.com/pagegate/pagegate/internal/domain/project"
	"github.com/pagegate/pagegate/internal/domain/proxyrule"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testStores bundles sqlite-backed stores over one temp database so
// service tests run against the real repository layer.
type testStores struct {
	db        *sqlite.DB
	projects  *sqlite.ProjectStore
	assets    *sqlite.AssetStore
	aliases   *sqlite.AliasStore
	domains   *sqlite.DomainStore
	proxy     *sqlite.ProxyRuleStore
	cache     *sqlite.CacheRuleStore
	retention *sqlite.RetentionStore
}

func newTestStores(t *testing.T) *testStores {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "service.db"), time.Second)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &testStores{
		db:        db,
		projects:  sqlite.NewProjectStore(db),
		assets:    sqlite.NewAssetStore(db),
		aliases:   sqlite.NewAliasStore(db),
		domains:   sqlite.NewDomainStore(db),
		proxy:     sqlite.NewProxyRuleStore(db),
		cache:     sqlite.NewCacheRuleStore(db),
		retention: sqlite.NewRetentionStore(db),
	}
}

func seedProject(t *testing.T, st *testStores, owner, name string) *project.Project {
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
	if err := st.projects.Create(context.Background(), p); err != nil {
		t.Fatalf("seed project %s/%s: %v", owner, name, err)
	}
	return p
}

func seedAlias(t *testing.T, st *testStores, projectID uuid.UUID, name, commitSHA string) *alias.Alias {
	t.Helper()
	al := &alias.Alias{
		ID:        uuid.New(),
		ProjectID: projectID,
		Name:      name,
		CommitSHA: commitSHA,
		CreatedAt: time.Now().UTC(),
	}
	if err := st.aliases.Create(context.Background(), al); err != nil {
		t.Fatalf("seed alias %s: %v", name, err)
	}
	return al
}

func seedAsset(t *testing.T, st *testStores, proj *project.Project, commitSHA, branch, publicPath string, size int64, createdAt time.Time) *asset.Asset {
	t.Helper()
	key, err := asset.CommitKey(proj.Owner, proj.Name, commitSHA, publicPath, publicPath)
	if err != nil {
		t.Fatalf("commit key: %v", err)
	}
	a := &asset.Asset{
		ID:          uuid.New(),
		ProjectID:   proj.ID,
		FileName:    filepath.Base(publicPath),
		StorageKey:  key,
		MimeType:    "application/octet-stream",
		Size:        size,
		ContentHash: "d41d8cd98f00b204e9800998ecf8427e",
		CommitSHA:   commitSHA,
		Branch:      branch,
		PublicPath:  publicPath,
		CreatedAt:   createdAt,
	}
	if err := st.assets.Create(context.Background(), a); err != nil {
		t.Fatalf("seed asset %s: %v", publicPath, err)
	}
	return a
}

func seedRuleSet(t *testing.T, st *testStores, projectID uuid.UUID, name string, rules ...proxyrule.Rule) *proxyrule.RuleSet {
	t.Helper()
	rs := &proxyrule.RuleSet{
		ID:        uuid.New(),
		ProjectID: projectID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if err := st.proxy.CreateRuleSet(context.Background(), rs); err != nil {
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
		if err := st.proxy.CreateRule(context.Background(), &rules[i]); err != nil {
			t.Fatalf("seed rule %s: %v", rules[i].PathPattern, err)
		}
	}
	return rs
}
