package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pagegate/pagegate/internal/domain/asset"
)

const assetColumns = `id, project_id, file_name, storage_key, mime_type, size, content_hash,
	commit_sha, branch, deployment_id, public_path, uploaded_by, created_at`

// AssetStore implements asset.Store on SQLite.
type AssetStore struct {
	db *sql.DB
}

// NewAssetStore creates an asset store backed by db.
func NewAssetStore(db *DB) *AssetStore {
	return &AssetStore{db: db.sql}
}

// Get returns the asset with the given ID, or asset.ErrAssetNotFound.
func (s *AssetStore) Get(ctx context.Context, id uuid.UUID) (*asset.Asset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE id = ?`, id.String())
	return scanAsset(row)
}

// GetByCommitPath returns the asset at publicPath within a commit, or
// asset.ErrAssetNotFound.
func (s *AssetStore) GetByCommitPath(ctx context.Context, projectID uuid.UUID, commitSHA, publicPath string) (*asset.Asset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM assets
		 WHERE project_id = ? AND commit_sha = ? AND public_path = ?`,
		projectID.String(), commitSHA, publicPath)
	return scanAsset(row)
}

// ListByCommit returns every asset of a commit ordered by public path.
func (s *AssetStore) ListByCommit(ctx context.Context, projectID uuid.UUID, commitSHA string) ([]*asset.Asset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+assetColumns+` FROM assets
		 WHERE project_id = ? AND commit_sha = ? ORDER BY public_path`,
		projectID.String(), commitSHA)
	if err != nil {
		return nil, fmt.Errorf("list assets by commit: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*asset.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CommitStats aggregates per-commit asset counts, sizes, and oldest upload
// times for a project. Standalone uploads (empty commit) are excluded.
func (s *AssetStore) CommitStats(ctx context.Context, projectID uuid.UUID) ([]asset.CommitStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT commit_sha, branch, MIN(created_at), COUNT(*), SUM(size)
		 FROM assets
		 WHERE project_id = ? AND commit_sha != ''
		 GROUP BY commit_sha, branch
		 ORDER BY MIN(created_at)`,
		projectID.String())
	if err != nil {
		return nil, fmt.Errorf("commit stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []asset.CommitStat
	for rows.Next() {
		var (
			st     asset.CommitStat
			oldest int64
		)
		if err := rows.Scan(&st.CommitSHA, &st.Branch, &oldest, &st.AssetCount, &st.TotalBytes); err != nil {
			return nil, fmt.Errorf("scan commit stat: %w", err)
		}
		st.OldestAt = decodeTime(oldest)
		out = append(out, st)
	}
	return out, rows.Err()
}

// Create persists a new asset record. Returns asset.ErrDuplicateStorageKey
// when the storage key is taken.
func (s *AssetStore) Create(ctx context.Context, a *asset.Asset) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assets (`+assetColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.ProjectID.String(), a.FileName, a.StorageKey, a.MimeType,
		a.Size, a.ContentHash, a.CommitSHA, a.Branch, encodeUUIDPtr(a.DeploymentID),
		a.PublicPath, encodeUUIDPtr(a.UploadedBy), encodeTime(a.CreatedAt))
	if isUniqueViolation(err) {
		return asset.ErrDuplicateStorageKey
	}
	if err != nil {
		return fmt.Errorf("create asset: %w", err)
	}
	return nil
}

// Update replaces the mutable fields of the stored record.
func (s *AssetStore) Update(ctx context.Context, a *asset.Asset) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE assets SET file_name = ?, mime_type = ?, size = ?, content_hash = ?,
			deployment_id = ?, uploaded_by = ?, created_at = ?
		 WHERE id = ?`,
		a.FileName, a.MimeType, a.Size, a.ContentHash,
		encodeUUIDPtr(a.DeploymentID), encodeUUIDPtr(a.UploadedBy),
		encodeTime(a.CreatedAt), a.ID.String())
	if err != nil {
		return fmt.Errorf("update asset: %w", err)
	}
	return requireRow(res, asset.ErrAssetNotFound)
}

// Delete removes one asset record.
func (s *AssetStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM assets WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete asset: %w", err)
	}
	return requireRow(res, asset.ErrAssetNotFound)
}

// DeleteByCommit removes every asset record of a commit and reports how
// many rows went away and how many bytes they held.
func (s *AssetStore) DeleteByCommit(ctx context.Context, projectID uuid.UUID, commitSHA string) (int, int64, error) {
	var (
		count int
		bytes sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), SUM(size) FROM assets WHERE project_id = ? AND commit_sha = ?`,
		projectID.String(), commitSHA).Scan(&count, &bytes)
	if err != nil {
		return 0, 0, fmt.Errorf("measure commit: %w", err)
	}
	if count == 0 {
		return 0, 0, nil
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM assets WHERE project_id = ? AND commit_sha = ?`,
		projectID.String(), commitSHA)
	if err != nil {
		return 0, 0, fmt.Errorf("delete commit assets: %w", err)
	}
	return count, bytes.Int64, nil
}

// TotalSize sums the stored bytes of a project.
func (s *AssetStore) TotalSize(ctx context.Context, projectID uuid.UUID) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(size) FROM assets WHERE project_id = ?`, projectID.String()).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total size: %w", err)
	}
	return total.Int64, nil
}

func scanAsset(row rowScanner) (*asset.Asset, error) {
	var (
		a            asset.Asset
		id           string
		projectID    string
		deploymentID sql.NullString
		uploadedBy   sql.NullString
		createdAt    int64
	)
	err := row.Scan(&id, &projectID, &a.FileName, &a.StorageKey, &a.MimeType,
		&a.Size, &a.ContentHash, &a.CommitSHA, &a.Branch, &deploymentID,
		&a.PublicPath, &uploadedBy, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, asset.ErrAssetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan asset: %w", err)
	}
	if a.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse asset id: %w", err)
	}
	if a.ProjectID, err = uuid.Parse(projectID); err != nil {
		return nil, fmt.Errorf("parse asset project id: %w", err)
	}
	if a.DeploymentID, err = decodeUUIDPtr(deploymentID); err != nil {
		return nil, err
	}
	if a.UploadedBy, err = decodeUUIDPtr(uploadedBy); err != nil {
		return nil, err
	}
	a.CreatedAt = decodeTime(createdAt)
	return &a, nil
}

var _ asset.Store = (*AssetStore)(nil)
