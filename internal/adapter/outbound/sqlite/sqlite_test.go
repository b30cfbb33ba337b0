// Package sqlite tests run against a throwaway database file per test so
// they exercise the real driver, schema, and constraints.
package sqlite

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "test.db"), time.Second)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Close() error: %v", err)
		}
	})
	return db
}

// TestOpenIdempotentSchema verifies reopening an existing database succeeds.
func TestOpenIdempotentSchema(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path, time.Second)
	if err != nil {
		t.Fatalf("first Open() error: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	db, err = Open(path, time.Second)
	if err != nil {
		t.Fatalf("second Open() error: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
}
