package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pagegate/pagegate/internal/port/outbound"
)

// ErrBadKey is returned when a key would escape the storage root.
var ErrBadKey = errors.New("storage key escapes the root")

// FSStore implements outbound.Storage on a local directory, mirroring the
// object-store key space as a file tree. Useful for development and tests.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed and returns the store.
func NewFSStore(root string) (*FSStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &FSStore{root: abs}, nil
}

// keyPath maps an object key onto the file tree. Keys arrive pre-sanitized
// from the key builders; this re-checks anyway since the store is the last
// line before the filesystem.
func (s *FSStore) keyPath(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || path.Clean(key) != key {
		return "", ErrBadKey
	}
	p := filepath.Join(s.root, filepath.FromSlash(key))
	if !strings.HasPrefix(p, s.root+string(filepath.Separator)) {
		return "", ErrBadKey
	}
	return p, nil
}

// Upload writes the object atomically: temp file in the target directory,
// fsync, then rename over the final name.
func (s *FSStore) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	p, err := s.keyPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp object: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if _, err := io.Copy(tmp, body); err != nil {
		return fmt.Errorf("write object %q: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync object %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close object %q: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("finalize object %q: %w", key, err)
	}
	return nil
}

// Download opens an object for streaming.
func (s *FSStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := s.keyPath(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, outbound.ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open object %q: %w", key, err)
	}
	return f, nil
}

// Exists reports whether the key is present.
func (s *FSStore) Exists(ctx context.Context, key string) (bool, error) {
	p, err := s.keyPath(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat object %q: %w", key, err)
	}
	return !info.IsDir(), nil
}

// Delete removes one object. Absent keys are not an error.
func (s *FSStore) Delete(ctx context.Context, key string) error {
	p, err := s.keyPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete object %q: %w", key, err)
	}
	return nil
}

// DeletePrefix removes every object whose key starts with prefix and
// reports how many went away.
func (s *FSStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" || strings.HasPrefix(prefix, "/") || strings.Contains(prefix, "..") {
		return 0, ErrBadKey
	}

	// Walk from the deepest directory fully covered by the prefix.
	baseDir := prefix
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		baseDir = prefix[:i]
	} else {
		baseDir = ""
	}
	walkRoot := filepath.Join(s.root, filepath.FromSlash(baseDir))

	deleted := 0
	err := filepath.WalkDir(walkRoot, func(p string, d fs.DirEntry, err error) error {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		if err := os.Remove(p); err != nil {
			return fmt.Errorf("delete object %q: %w", key, err)
		}
		deleted++
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return deleted, err
	}

	// Prune directories the deletions emptied out.
	s.pruneEmptyDirs(walkRoot)
	return deleted, nil
}

// pruneEmptyDirs removes now-empty directories bottom-up under dir. Errors
// are ignored: a non-empty directory simply refuses removal.
func (s *FSStore) pruneEmptyDirs(dir string) {
	var dirs []string
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() && p != s.root {
			dirs = append(dirs, p)
		}
		return nil
	})
	for i := len(dirs) - 1; i >= 0; i-- {
		_ = os.Remove(dirs[i])
	}
}

// GetURL returns a file URL into the storage root.
func (s *FSStore) GetURL(key string) string {
	return "file://" + path.Join(filepath.ToSlash(s.root), key)
}

var _ outbound.Storage = (*FSStore)(nil)
