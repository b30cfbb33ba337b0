// Package memory provides in-memory implementations of the outbound
// ports. Thread-safe for concurrent access. For development and testing
// only.
package memory

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"

	"github.com/pagegate/pagegate/internal/port/outbound"
)

// ObjectStore implements outbound.Storage with an in-memory map.
type ObjectStore struct {
	objects map[string][]byte
	mu      sync.RWMutex
}

// NewObjectStore creates an empty in-memory object store.
func NewObjectStore() *ObjectStore {
	return &ObjectStore{
		objects: make(map[string][]byte),
	}
}

// Upload reads body fully and stores a copy under key.
func (s *ObjectStore) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

// Download returns a reader over a copy of the stored bytes.
func (s *ObjectStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.objects[key]
	if !ok {
		return nil, outbound.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Exists reports whether key is present.
func (s *ObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.objects[key]
	return ok, nil
}

// Delete removes one object. Deleting an absent key is not an error.
func (s *ObjectStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.objects, key)
	return nil
}

// DeletePrefix removes every object under prefix.
func (s *ObjectStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			delete(s.objects, key)
			deleted++
		}
	}
	return deleted, nil
}

// Len reports how many objects are stored (for test assertions).
func (s *ObjectStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.objects)
}

// GetURL returns a synthetic URL; in-memory objects have no address.
func (s *ObjectStore) GetURL(key string) string {
	return "memory://" + key
}

var _ outbound.Storage = (*ObjectStore)(nil)
