package pagegate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"
)

func TestCreateProject(t *testing.T) {
	var receivedBody ProjectRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/admin/api/projects" {
			t.Errorf("unexpected path: %s", r.URL.Path)
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content-type: %s", r.Header.Get("Content-Type"))
		}

		if err := json.NewDecoder(r.Body).Decode(&receivedBody); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Project{
			ID:                   "proj-1",
			Owner:                "acme",
			Name:                 "docs",
			IsPublic:             true,
			UnauthorizedBehavior: "not_found",
			RequiredRole:         "viewer",
			QuotaBehavior:        "block",
			CreatedAt:            "2026-01-02T15:04:05Z",
		})
	}))
	defer server.Close()

	client := NewClient(
		WithServerAddr(server.URL),
		WithAPIKey("test-key"),
	)

	isPublic := true
	p, err := client.CreateProject(context.Background(), ProjectRequest{
		Owner:    "acme",
		Name:     "docs",
		IsPublic: &isPublic,
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID != "proj-1" {
		t.Errorf("expected proj-1, got %s", p.ID)
	}
	if p.Owner != "acme" || p.Name != "docs" {
		t.Errorf("expected acme/docs, got %s/%s", p.Owner, p.Name)
	}
	if !p.IsPublic {
		t.Error("expected isPublic=true")
	}

	// Verify request body was sent correctly.
	if receivedBody.Owner != "acme" {
		t.Errorf("expected owner=acme, got %s", receivedBody.Owner)
	}
	if receivedBody.Name != "docs" {
		t.Errorf("expected name=docs, got %s", receivedBody.Name)
	}
	if receivedBody.IsPublic == nil || !*receivedBody.IsPublic {
		t.Error("expected isPublic=true in request body")
	}
}

func TestUpload(t *testing.T) {
	sha := strings.Repeat("a", 40)

	var (
		gotCommitSHA    string
		gotBranch       string
		gotPublicPath   string
		gotDeploymentID string
		gotContentType  string
		gotContent      string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/admin/api/projects/proj-1/uploads" {
			t.Errorf("unexpected path: %s", r.URL.Path)
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}

		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("failed to parse multipart form: %v", err)
		}
		gotCommitSHA = r.FormValue("commitSha")
		gotBranch = r.FormValue("branch")
		gotPublicPath = r.FormValue("publicPath")
		gotDeploymentID = r.FormValue("deploymentId")

		f, fh, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("failed to read file part: %v", err)
		}
		defer f.Close()
		gotContentType = fh.Header.Get("Content-Type")
		data, err := io.ReadAll(f)
		if err != nil {
			t.Fatalf("failed to read file content: %v", err)
		}
		gotContent = string(data)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Asset{
			ID:          "asset-1",
			ProjectID:   "proj-1",
			FileName:    fh.Filename,
			MimeType:    gotContentType,
			Size:        int64(len(data)),
			ContentHash: "cafebabe",
			CommitSHA:   gotCommitSHA,
			Branch:      gotBranch,
			PublicPath:  gotPublicPath,
		})
	}))
	defer server.Close()

	client := NewClient(
		WithServerAddr(server.URL),
		WithAPIKey("test-key"),
	)

	a, err := client.Upload(context.Background(), "proj-1", UploadRequest{
		FileName:     "readme.md",
		ContentType:  "text/markdown",
		PublicPath:   "docs/readme.md",
		Body:         bytes.NewReader([]byte("# hello")),
		CommitSHA:    sha,
		Branch:       "main",
		DeploymentID: "7d444840-9dc0-11d1-b245-5ffdce74fad2",
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.ID != "asset-1" {
		t.Errorf("expected asset-1, got %s", a.ID)
	}
	if a.Size != 7 {
		t.Errorf("expected size=7, got %d", a.Size)
	}
	if a.ContentHash != "cafebabe" {
		t.Errorf("expected contentHash=cafebabe, got %s", a.ContentHash)
	}

	// Verify the multipart form carried everything.
	if gotCommitSHA != sha {
		t.Errorf("expected commitSha=%s, got %s", sha, gotCommitSHA)
	}
	if gotBranch != "main" {
		t.Errorf("expected branch=main, got %s", gotBranch)
	}
	if gotPublicPath != "docs/readme.md" {
		t.Errorf("expected publicPath=docs/readme.md, got %s", gotPublicPath)
	}
	if gotDeploymentID != "7d444840-9dc0-11d1-b245-5ffdce74fad2" {
		t.Errorf("unexpected deploymentId: %s", gotDeploymentID)
	}
	if gotContentType != "text/markdown" {
		t.Errorf("expected content-type=text/markdown, got %s", gotContentType)
	}
	if gotContent != "# hello" {
		t.Errorf("unexpected file content: %q", gotContent)
	}
}

func TestDeployDir(t *testing.T) {
	sha := strings.Repeat("b", 40)

	type upload struct {
		commitSHA   string
		branch      string
		contentType string
		content     string
	}
	got := make(map[string]upload)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("failed to parse multipart form: %v", err)
		}
		f, fh, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("failed to read file part: %v", err)
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			t.Fatalf("failed to read file content: %v", err)
		}

		got[r.FormValue("publicPath")] = upload{
			commitSHA:   r.FormValue("commitSha"),
			branch:      r.FormValue("branch"),
			contentType: fh.Header.Get("Content-Type"),
			content:     string(data),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Asset{
			ID:         fmt.Sprintf("asset-%d", len(got)),
			ProjectID:  "proj-1",
			FileName:   fh.Filename,
			Size:       int64(len(data)),
			CommitSHA:  r.FormValue("commitSha"),
			PublicPath: r.FormValue("publicPath"),
		})
	}))
	defer server.Close()

	client := NewClient(
		WithServerAddr(server.URL),
		WithAPIKey("test-key"),
	)

	fsys := fstest.MapFS{
		"index.html":     &fstest.MapFile{Data: []byte("<h1>hello</h1>")},
		"assets/app.css": &fstest.MapFile{Data: []byte("body{margin:0}")},
	}

	result, err := client.DeployDir(context.Background(), "proj-1", Deployment{
		CommitSHA: sha,
		Branch:    "main",
	}, fsys)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Files != 2 {
		t.Errorf("expected 2 files, got %d", result.Files)
	}
	wantBytes := int64(len("<h1>hello</h1>") + len("body{margin:0}"))
	if result.TotalBytes != wantBytes {
		t.Errorf("expected %d bytes, got %d", wantBytes, result.TotalBytes)
	}
	if len(result.Assets) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(result.Assets))
	}

	html, ok := got["index.html"]
	if !ok {
		t.Fatal("index.html was not uploaded")
	}
	if html.content != "<h1>hello</h1>" {
		t.Errorf("unexpected index.html content: %q", html.content)
	}
	if html.commitSHA != sha || html.branch != "main" {
		t.Errorf("expected commit fields on index.html, got sha=%s branch=%s", html.commitSHA, html.branch)
	}
	if !strings.HasPrefix(html.contentType, "text/html") {
		t.Errorf("expected text/html content-type, got %s", html.contentType)
	}

	css, ok := got["assets/app.css"]
	if !ok {
		t.Fatal("assets/app.css was not uploaded")
	}
	if !strings.HasPrefix(css.contentType, "text/css") {
		t.Errorf("expected text/css content-type, got %s", css.contentType)
	}
}

func TestSetAlias(t *testing.T) {
	sha1 := strings.Repeat("c", 40)
	sha2 := strings.Repeat("d", 40)

	var (
		aliases       []Alias
		createCalls   atomic.Int32
		updateCalls   atomic.Int32
		lastUpdateSHA string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/admin/api/projects/proj-1/aliases":
			json.NewEncoder(w).Encode(aliases)
		case r.Method == http.MethodPost && r.URL.Path == "/admin/api/projects/proj-1/aliases":
			createCalls.Add(1)
			var req AliasRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("failed to decode create body: %v", err)
			}
			a := Alias{ID: "alias-1", ProjectID: "proj-1", Name: req.Name, CommitSHA: req.CommitSHA}
			aliases = append(aliases, a)
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(a)
		case r.Method == http.MethodPut && r.URL.Path == "/admin/api/aliases/alias-1":
			updateCalls.Add(1)
			var req AliasRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("failed to decode update body: %v", err)
			}
			lastUpdateSHA = req.CommitSHA
			aliases[0].CommitSHA = req.CommitSHA
			json.NewEncoder(w).Encode(aliases[0])
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(
		WithServerAddr(server.URL),
		WithAPIKey("test-key"),
	)

	// First call creates the alias.
	a, err := client.SetAlias(context.Background(), "proj-1", "production", sha1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.CommitSHA != sha1 {
		t.Errorf("expected commitSha=%s, got %s", sha1, a.CommitSHA)
	}
	if createCalls.Load() != 1 || updateCalls.Load() != 0 {
		t.Errorf("expected 1 create / 0 updates, got %d / %d", createCalls.Load(), updateCalls.Load())
	}

	// Second call repoints the existing alias.
	a, err = client.SetAlias(context.Background(), "proj-1", "production", sha2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.CommitSHA != sha2 {
		t.Errorf("expected commitSha=%s, got %s", sha2, a.CommitSHA)
	}
	if createCalls.Load() != 1 || updateCalls.Load() != 1 {
		t.Errorf("expected 1 create / 1 update, got %d / %d", createCalls.Load(), updateCalls.Load())
	}
	if lastUpdateSHA != sha2 {
		t.Errorf("expected update body commitSha=%s, got %s", sha2, lastUpdateSHA)
	}
}

func TestEnsureProject(t *testing.T) {
	var createCalls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/admin/api/projects":
			json.NewEncoder(w).Encode([]Project{
				{ID: "proj-1", Owner: "acme", Name: "docs"},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/admin/api/projects":
			createCalls.Add(1)
			var req ProjectRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("failed to decode create body: %v", err)
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(Project{ID: "proj-2", Owner: req.Owner, Name: req.Name})
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(
		WithServerAddr(server.URL),
		WithAPIKey("test-key"),
	)

	// Existing project is returned without a create.
	p, err := client.EnsureProject(context.Background(), "acme", "docs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID != "proj-1" {
		t.Errorf("expected proj-1, got %s", p.ID)
	}
	if createCalls.Load() != 0 {
		t.Errorf("expected no creates, got %d", createCalls.Load())
	}

	// Missing project is created.
	p, err = client.EnsureProject(context.Background(), "acme", "blog")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID != "proj-2" {
		t.Errorf("expected proj-2, got %s", p.ID)
	}
	if createCalls.Load() != 1 {
		t.Errorf("expected 1 create, got %d", createCalls.Load())
	}
}

func TestEnvVarConfiguration(t *testing.T) {
	// Save and restore env vars.
	envVars := []string{
		"PAGEGATE_SERVER_ADDR",
		"PAGEGATE_API_KEY",
		"PAGEGATE_TIMEOUT",
		"PAGEGATE_RETRY_MAX",
		"PAGEGATE_RETRY_WAIT",
	}
	saved := make(map[string]string)
	for _, k := range envVars {
		saved[k] = os.Getenv(k)
	}
	defer func() {
		for k, v := range saved {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	os.Setenv("PAGEGATE_SERVER_ADDR", "http://test-server:8080")
	os.Setenv("PAGEGATE_API_KEY", "env-key-123")
	os.Setenv("PAGEGATE_TIMEOUT", "10")
	os.Setenv("PAGEGATE_RETRY_MAX", "5")
	os.Setenv("PAGEGATE_RETRY_WAIT", "250ms")

	client := NewClient()

	if client.serverAddr != "http://test-server:8080" {
		t.Errorf("expected server_addr from env, got %s", client.serverAddr)
	}
	if client.apiKey != "env-key-123" {
		t.Errorf("expected api_key from env, got %s", client.apiKey)
	}
	if client.timeout != 10*time.Second {
		t.Errorf("expected timeout=10s from env, got %v", client.timeout)
	}
	if client.retryMax != 5 {
		t.Errorf("expected retry_max=5 from env, got %d", client.retryMax)
	}
	if client.retryWait != 250*time.Millisecond {
		t.Errorf("expected retry_wait=250ms from env, got %v", client.retryWait)
	}
}

func TestQuotaExceeded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		json.NewEncoder(w).Encode(map[string]string{
			"error":   "quota_exceeded",
			"message": "project storage quota exceeded",
		})
	}))
	defer server.Close()

	client := NewClient(
		WithServerAddr(server.URL),
		WithAPIKey("test-key"),
	)

	_, err := client.Upload(context.Background(), "proj-1", UploadRequest{
		FileName: "big.bin",
		Body:     bytes.NewReader([]byte("data")),
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("expected ErrQuotaExceeded, got: %v (%T)", err, err)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected errors.As(*APIError)")
	}
	if apiErr.Status != http.StatusRequestEntityTooLarge {
		t.Errorf("expected status=413, got %d", apiErr.Status)
	}
	if apiErr.Code != "quota_exceeded" {
		t.Errorf("expected code=quota_exceeded, got %s", apiErr.Code)
	}
}

func TestNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{
			"error":   "not_found",
			"message": "project not found",
		})
	}))
	defer server.Close()

	client := NewClient(
		WithServerAddr(server.URL),
		WithAPIKey("test-key"),
	)

	_, err := client.GetProject(context.Background(), "nope")

	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v (%T)", err, err)
	}
}

func TestRetryOnServiceUnavailable(t *testing.T) {
	var callCount atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if callCount.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{
				"error":   "unavailable",
				"message": "maintenance",
			})
			return
		}
		json.NewEncoder(w).Encode(Project{ID: "proj-1", Owner: "acme", Name: "docs"})
	}))
	defer server.Close()

	client := NewClient(
		WithServerAddr(server.URL),
		WithAPIKey("test-key"),
		WithRetry(3, 10*time.Millisecond),
	)

	p, err := client.GetProject(context.Background(), "proj-1")

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID != "proj-1" {
		t.Errorf("expected proj-1, got %s", p.ID)
	}
	if callCount.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", callCount.Load())
	}
}

func TestRetriesExhausted(t *testing.T) {
	var callCount atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{
			"error":   "unavailable",
			"message": "maintenance",
		})
	}))
	defer server.Close()

	client := NewClient(
		WithServerAddr(server.URL),
		WithAPIKey("test-key"),
		WithRetry(1, 5*time.Millisecond),
	)

	_, err := client.GetProject(context.Background(), "proj-1")

	if err == nil {
		t.Fatal("expected error")
	}

	// The final 503 surfaces as an APIError, not as unreachable.
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected errors.As(*APIError), got: %v (%T)", err, err)
	}
	if apiErr.Status != http.StatusServiceUnavailable {
		t.Errorf("expected status=503, got %d", apiErr.Status)
	}
	if callCount.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", callCount.Load())
	}
}

func TestServerUnreachable(t *testing.T) {
	// Use a listener that immediately closes to simulate unreachable server.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := listener.Addr().String()
	listener.Close()

	client := NewClient(
		WithServerAddr("http://"+addr),
		WithAPIKey("key"),
		WithTimeout(500*time.Millisecond),
		WithRetry(1, 5*time.Millisecond),
	)

	_, err = client.GetProject(context.Background(), "proj-1")

	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrServerUnreachable) {
		t.Errorf("expected ErrServerUnreachable, got: %v (%T)", err, err)
	}

	var srvErr *ServerUnreachableError
	if !errors.As(err, &srvErr) {
		t.Fatalf("expected errors.As(*ServerUnreachableError)")
	}
	if srvErr.Cause == nil {
		t.Error("expected Cause to be set")
	}
}

func TestErrorTypes(t *testing.T) {
	t.Run("APIError", func(t *testing.T) {
		err := &APIError{
			Status:  http.StatusRequestEntityTooLarge,
			Code:    "quota_exceeded",
			Message: "project storage quota exceeded",
		}
		if err.Error() != "pagegate [413 quota_exceeded]: project storage quota exceeded" {
			t.Errorf("unexpected error message: %s", err.Error())
		}
		if !errors.Is(err, ErrQuotaExceeded) {
			t.Error("quota APIError should match ErrQuotaExceeded")
		}
	})

	t.Run("APIError without message", func(t *testing.T) {
		err := &APIError{Status: http.StatusNotFound, Code: "not_found"}
		if err.Error() != "pagegate [404 not_found]" {
			t.Errorf("unexpected error message: %s", err.Error())
		}
		if !errors.Is(err, ErrNotFound) {
			t.Error("404 APIError should match ErrNotFound")
		}
	})

	t.Run("APIError unauthorized", func(t *testing.T) {
		for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
			err := &APIError{Status: status, Code: "unauthorized"}
			if !errors.Is(err, ErrUnauthorized) {
				t.Errorf("%d APIError should match ErrUnauthorized", status)
			}
		}
	})

	t.Run("ServerUnreachableError", func(t *testing.T) {
		cause := fmt.Errorf("connection refused")
		err := &ServerUnreachableError{Cause: cause}
		if err.Error() != "server unreachable: connection refused" {
			t.Errorf("unexpected error message: %s", err.Error())
		}
		if !errors.Is(err, ErrServerUnreachable) {
			t.Error("ServerUnreachableError should match ErrServerUnreachable")
		}
		if errors.Unwrap(err) != cause {
			t.Error("Unwrap should return cause")
		}
	})
}

func TestPreviewAliasName(t *testing.T) {
	sha := "a1b2c3d4" + strings.Repeat("0", 32)
	if got := PreviewAliasName(sha); got != "preview-a1b2c3d4" {
		t.Errorf("expected preview-a1b2c3d4, got %s", got)
	}
	if got := PreviewAliasName("abc"); got != "preview-abc" {
		t.Errorf("expected preview-abc, got %s", got)
	}
}

func TestWithHTTPClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Project{ID: "proj-1", Owner: "acme", Name: "docs"})
	}))
	defer server.Close()

	customClient := &http.Client{
		Timeout: 30 * time.Second,
	}

	client := NewClient(
		WithServerAddr(server.URL),
		WithAPIKey("key"),
		WithHTTPClient(customClient),
	)

	if client.httpClient != customClient {
		t.Error("expected custom http client to be used")
	}

	p, err := client.GetProject(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID != "proj-1" {
		t.Errorf("expected proj-1, got %s", p.ID)
	}
}
