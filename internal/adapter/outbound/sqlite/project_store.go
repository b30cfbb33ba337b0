package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pagegate/pagegate/internal/domain/project"
)

const projectColumns = `id, owner, name, is_public, unauthorized_behavior, required_role,
	default_rule_set_id, storage_quota_bytes, quota_behavior, created_at`

// ProjectStore implements project.Store on SQLite.
type ProjectStore struct {
	db *sql.DB
}

// NewProjectStore creates a project store backed by db.
func NewProjectStore(db *DB) *ProjectStore {
	return &ProjectStore{db: db.sql}
}

// Get returns the project with the given ID, or project.ErrProjectNotFound.
func (s *ProjectStore) Get(ctx context.Context, id uuid.UUID) (*project.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id.String())
	return scanProject(row)
}

// GetBySlug returns the project with the given owner and name, or
// project.ErrProjectNotFound.
func (s *ProjectStore) GetBySlug(ctx context.Context, owner, name string) (*project.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE owner = ? AND name = ?`, owner, name)
	return scanProject(row)
}

// List returns all projects ordered by owner, name.
func (s *ProjectStore) List(ctx context.Context) ([]*project.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects ORDER BY owner, name`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*project.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Create persists a new project. Returns project.ErrDuplicateProject when
// (owner, name) is taken.
func (s *ProjectStore) Create(ctx context.Context, p *project.Project) error {
	if !project.ValidSlug(p.Owner) || !project.ValidSlug(p.Name) {
		return project.ErrInvalidSlug
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (`+projectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.Owner, p.Name, p.IsPublic,
		string(p.UnauthorizedBehavior), string(p.RequiredRole),
		encodeUUIDPtr(p.DefaultRuleSetID), encodeInt64Ptr(p.StorageQuotaBytes),
		string(p.QuotaBehavior), encodeTime(p.CreatedAt))
	if isUniqueViolation(err) {
		return project.ErrDuplicateProject
	}
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

// Update replaces the stored project.
func (s *ProjectStore) Update(ctx context.Context, p *project.Project) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET owner = ?, name = ?, is_public = ?, unauthorized_behavior = ?,
			required_role = ?, default_rule_set_id = ?, storage_quota_bytes = ?, quota_behavior = ?
		 WHERE id = ?`,
		p.Owner, p.Name, p.IsPublic, string(p.UnauthorizedBehavior),
		string(p.RequiredRole), encodeUUIDPtr(p.DefaultRuleSetID),
		encodeInt64Ptr(p.StorageQuotaBytes), string(p.QuotaBehavior), p.ID.String())
	if isUniqueViolation(err) {
		return project.ErrDuplicateProject
	}
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return requireRow(res, project.ErrProjectNotFound)
}

// Delete removes the project and, through cascades, everything it owns.
func (s *ProjectStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return requireRow(res, project.ErrProjectNotFound)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*project.Project, error) {
	var (
		p         project.Project
		id        string
		behavior  string
		role      string
		quotaBeh  string
		ruleSetID sql.NullString
		quota     sql.NullInt64
		createdAt int64
	)
	err := row.Scan(&id, &p.Owner, &p.Name, &p.IsPublic, &behavior, &role,
		&ruleSetID, &quota, &quotaBeh, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, project.ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}
	if p.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse project id: %w", err)
	}
	if p.DefaultRuleSetID, err = decodeUUIDPtr(ruleSetID); err != nil {
		return nil, err
	}
	p.UnauthorizedBehavior = project.UnauthorizedBehavior(behavior)
	p.RequiredRole = project.Role(role)
	p.QuotaBehavior = project.QuotaBehavior(quotaBeh)
	p.StorageQuotaBytes = decodeInt64Ptr(quota)
	p.CreatedAt = decodeTime(createdAt)
	return &p, nil
}

// requireRow maps a zero-row result to the store's not-found sentinel.
func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

var _ project.Store = (*ProjectStore)(nil)
