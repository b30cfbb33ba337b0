package integration

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

// TestRetention_FullPath ages a deployment past the retention window and
// watches the rule carry it away: preview, execution summary, storage,
// serving, and the audit trail.
func TestRetention_FullPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	oldCommit := strings.Repeat("1", 40)
	newCommit := strings.Repeat("2", 40)

	// 1. Two deployments on the same branch.
	projectID := env.createProject(t, map[string]any{
		"owner":    "acme",
		"name":     "archive",
		"isPublic": true,
	})
	env.uploadAsset(t, projectID, oldCommit, "main", "index.html", "text/html", []byte("<p>v1</p>"))
	env.uploadAsset(t, projectID, oldCommit, "main", "data/report.txt", "text/plain", []byte("quarterly numbers"))
	env.uploadAsset(t, projectID, newCommit, "main", "index.html", "text/html", []byte("<p>v2</p>"))

	// 2. Backdate the old commit beyond the thirty-day window.
	aged, err := env.assets.ListByCommit(ctx, uuid.MustParse(projectID), oldCommit)
	if err != nil {
		t.Fatalf("list old commit assets: %v", err)
	}
	if len(aged) != 2 {
		t.Fatalf("len(old commit assets) = %d, want 2", len(aged))
	}
	for _, a := range aged {
		a.CreatedAt = a.CreatedAt.Add(-90 * 24 * time.Hour)
		if err := env.assets.Update(ctx, a); err != nil {
			t.Fatalf("backdate asset %s: %v", a.PublicPath, err)
		}
	}

	// 3. Retention rule: thirty days, no alias pinning, keep nothing
	//    beyond the window.
	var rule struct {
		ID string `json:"id"`
	}
	status := env.adminRequest(t, http.MethodPost, "/admin/api/projects/"+projectID+"/retention-rules", map[string]any{
		"name":          "prune-old",
		"branchPattern": "main",
		"retentionDays": 30,
		"keepMinimum":   0,
		"keepWithAlias": false,
		"enabled":       true,
	}, &rule)
	if status != http.StatusCreated {
		t.Fatalf("create retention rule: status = %d, want %d", status, http.StatusCreated)
	}

	// 4. Preview plans a full delete for the old commit; the young one is
	//    not a candidate at all.
	var plans []struct {
		CommitSHA  string `json:"commitSha"`
		Action     string `json:"action"`
		AssetCount int    `json:"assetCount"`
	}
	if status := env.adminRequest(t, http.MethodGet, "/admin/api/retention-rules/"+rule.ID+"/preview", nil, &plans); status != http.StatusOK {
		t.Fatalf("preview retention rule: status = %d, want %d", status, http.StatusOK)
	}
	if len(plans) != 1 {
		t.Fatalf("len(plans) = %d, want 1", len(plans))
	}
	if plans[0].CommitSHA != oldCommit {
		t.Errorf("planned commit = %q, want the aged one", plans[0].CommitSHA)
	}
	if plans[0].Action != "delete" {
		t.Errorf("planned action = %q, want %q", plans[0].Action, "delete")
	}
	if plans[0].AssetCount != 2 {
		t.Errorf("planned assetCount = %d, want 2", plans[0].AssetCount)
	}

	// 5. Execute and read the summary off the rule.
	var ran struct {
		LastRunSummary struct {
			CommitsDeleted int   `json:"commitsDeleted"`
			CommitsSkipped int   `json:"commitsSkipped"`
			AssetsDeleted  int   `json:"assetsDeleted"`
			FreedBytes     int64 `json:"freedBytes"`
			DryRun         bool  `json:"dryRun"`
		} `json:"lastRunSummary"`
	}
	if status := env.adminRequest(t, http.MethodPost, "/admin/api/retention-rules/"+rule.ID+"/run", nil, &ran); status != http.StatusOK {
		t.Fatalf("run retention rule: status = %d, want %d", status, http.StatusOK)
	}
	sum := ran.LastRunSummary
	if sum.CommitsDeleted != 1 {
		t.Errorf("commitsDeleted = %d, want 1", sum.CommitsDeleted)
	}
	if sum.AssetsDeleted != 2 {
		t.Errorf("assetsDeleted = %d, want 2", sum.AssetsDeleted)
	}
	if sum.FreedBytes <= 0 {
		t.Errorf("freedBytes = %d, want > 0", sum.FreedBytes)
	}
	if sum.DryRun {
		t.Error("dryRun = true, want false")
	}

	// 6. The old deployment is gone from serving; the new one is not.
	resp := env.publicGet(t, testPrimaryDomain, "/public/acme/archive/"+oldCommit+"/index.html")
	_ = readBody(t, resp)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET pruned commit: status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
	resp = env.publicGet(t, testPrimaryDomain, "/public/acme/archive/"+newCommit+"/index.html")
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET surviving commit: status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if body != "<p>v2</p>" {
		t.Errorf("surviving body = %q, want %q", body, "<p>v2</p>")
	}

	// 7. The deletion landed in the audit log.
	var logs []struct {
		CommitSHA  string `json:"commitSha"`
		AssetCount int    `json:"assetCount"`
		FreedBytes int64  `json:"freedBytes"`
	}
	if status := env.adminRequest(t, http.MethodGet, "/admin/api/projects/"+projectID+"/retention-logs", nil, &logs); status != http.StatusOK {
		t.Fatalf("list retention logs: status = %d, want %d", status, http.StatusOK)
	}
	if len(logs) != 1 {
		t.Fatalf("len(retention logs) = %d, want 1", len(logs))
	}
	if logs[0].CommitSHA != oldCommit {
		t.Errorf("log commitSha = %q, want the pruned commit", logs[0].CommitSHA)
	}
	if logs[0].AssetCount != 2 {
		t.Errorf("log assetCount = %d, want 2", logs[0].AssetCount)
	}
	if logs[0].FreedBytes <= 0 {
		t.Errorf("log freedBytes = %d, want > 0", logs[0].FreedBytes)
	}
}
