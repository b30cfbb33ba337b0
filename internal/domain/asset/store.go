package asset

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrAssetNotFound is returned when no asset matches the lookup.
	ErrAssetNotFound = errors.New("asset not found")
	// ErrDuplicateStorageKey is returned when the storage key is taken.
	ErrDuplicateStorageKey = errors.New("storage key already exists")
)

// Store persists asset records. The object bytes live in the object store;
// this store holds the metadata rows.
type Store interface {
	// Get returns the asset with the given ID, or ErrAssetNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Asset, error)

	// GetByCommitPath returns the asset at publicPath within a commit, or
	// ErrAssetNotFound.
	GetByCommitPath(ctx context.Context, projectID uuid.UUID, commitSHA, publicPath string) (*Asset, error)

	// ListByCommit returns every asset of a commit ordered by public path.
	ListByCommit(ctx context.Context, projectID uuid.UUID, commitSHA string) ([]*Asset, error)

	// CommitStats aggregates per-commit asset counts, sizes, and oldest
	// upload times for a project.
	CommitStats(ctx context.Context, projectID uuid.UUID) ([]CommitStat, error)

	// Create persists a new asset record. Returns ErrDuplicateStorageKey
	// when the key is taken.
	Create(ctx context.Context, a *Asset) error

	// Update replaces the mutable fields of the stored record, keyed by
	// ID. Re-deploys replace a commit asset in place rather than erroring
	// on the duplicate storage key.
	Update(ctx context.Context, a *Asset) error

	// Delete removes one asset record.
	Delete(ctx context.Context, id uuid.UUID) error

	// DeleteByCommit removes every asset record of a commit and reports
	// how many rows went away and how many bytes they held.
	DeleteByCommit(ctx context.Context, projectID uuid.UUID, commitSHA string) (int, int64, error)

	// TotalSize sums the stored bytes of a project, for quota checks.
	TotalSize(ctx context.Context, projectID uuid.UUID) (int64, error)
}
