package objstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/pagegate/pagegate/internal/port/outbound"
)

func newTestStore(t *testing.T) *FSStore {
	t.Helper()

	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore() error: %v", err)
	}
	return store
}

func mustUpload(t *testing.T, store *FSStore, key, content string) {
	t.Helper()

	err := store.Upload(context.Background(), key, strings.NewReader(content), int64(len(content)), "text/plain")
	if err != nil {
		t.Fatalf("Upload(%q) error: %v", key, err)
	}
}

func TestFSStore_UploadDownload(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	mustUpload(t, store, "acme/docs/commits/abc/index.html", "<html>hi</html>")

	rc, err := store.Download(ctx, "acme/docs/commits/abc/index.html")
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	defer func() { _ = rc.Close() }()

	body, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if string(body) != "<html>hi</html>" {
		t.Errorf("body = %q", body)
	}
}

func TestFSStore_DownloadMissing(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	_, err := store.Download(context.Background(), "acme/docs/commits/abc/missing.txt")
	if !errors.Is(err, outbound.ErrObjectNotFound) {
		t.Errorf("Download() error = %v, want ErrObjectNotFound", err)
	}
}

func TestFSStore_ExistsAndDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	mustUpload(t, store, "acme/docs/commits/abc/app.js", "js")

	ok, err := store.Exists(ctx, "acme/docs/commits/abc/app.js")
	if err != nil || !ok {
		t.Fatalf("Exists() = %v, %v; want true", ok, err)
	}

	if err := store.Delete(ctx, "acme/docs/commits/abc/app.js"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	ok, err = store.Exists(ctx, "acme/docs/commits/abc/app.js")
	if err != nil || ok {
		t.Fatalf("Exists() after delete = %v, %v; want false", ok, err)
	}

	// Deleting an absent key succeeds.
	if err := store.Delete(ctx, "acme/docs/commits/abc/app.js"); err != nil {
		t.Errorf("second Delete() error: %v", err)
	}
}

// TestFSStore_DeletePrefix verifies only keys under the prefix go away.
func TestFSStore_DeletePrefix(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	mustUpload(t, store, "acme/docs/commits/abc/index.html", "a")
	mustUpload(t, store, "acme/docs/commits/abc/assets/app.js", "b")
	mustUpload(t, store, "acme/docs/commits/def/index.html", "c")

	n, err := store.DeletePrefix(ctx, "acme/docs/commits/abc/")
	if err != nil {
		t.Fatalf("DeletePrefix() error: %v", err)
	}
	if n != 2 {
		t.Errorf("DeletePrefix() = %d, want 2", n)
	}

	ok, _ := store.Exists(ctx, "acme/docs/commits/def/index.html")
	if !ok {
		t.Error("sibling commit deleted by prefix")
	}
	ok, _ = store.Exists(ctx, "acme/docs/commits/abc/index.html")
	if ok {
		t.Error("prefixed object survived")
	}
}

// TestFSStore_DeletePrefixMissing verifies an empty prefix tree is a no-op.
func TestFSStore_DeletePrefixMissing(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	n, err := store.DeletePrefix(context.Background(), "acme/docs/commits/nothing/")
	if err != nil {
		t.Fatalf("DeletePrefix() error: %v", err)
	}
	if n != 0 {
		t.Errorf("DeletePrefix() = %d, want 0", n)
	}
}

// TestFSStore_RejectsTraversal verifies keys cannot escape the root.
func TestFSStore_RejectsTraversal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	for _, key := range []string{"../escape", "a/../../escape", "/absolute", ""} {
		if err := store.Upload(ctx, key, strings.NewReader("x"), 1, "text/plain"); !errors.Is(err, ErrBadKey) {
			t.Errorf("Upload(%q) error = %v, want ErrBadKey", key, err)
		}
		if _, err := store.Download(ctx, key); !errors.Is(err, ErrBadKey) {
			t.Errorf("Download(%q) error = %v, want ErrBadKey", key, err)
		}
	}
}
