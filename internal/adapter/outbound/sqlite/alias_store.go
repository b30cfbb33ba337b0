package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pagegate/pagegate/internal/domain/alias"
	"github.com/pagegate/pagegate/internal/domain/project"
)

const aliasColumns = `id, project_id, name, commit_sha, deployment_id, is_auto_preview,
	base_path, proxy_rule_set_id, is_public, unauthorized_behavior, required_role, created_at`

// AliasStore implements alias.Store on SQLite.
type AliasStore struct {
	db *sql.DB
}

// NewAliasStore creates an alias store backed by db.
func NewAliasStore(db *DB) *AliasStore {
	return &AliasStore{db: db.sql}
}

// Get returns the alias with the given ID, or alias.ErrAliasNotFound.
func (s *AliasStore) Get(ctx context.Context, id uuid.UUID) (*alias.Alias, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+aliasColumns+` FROM aliases WHERE id = ?`, id.String())
	return scanAlias(row)
}

// GetByName returns the alias with the given name within a project, or
// alias.ErrAliasNotFound.
func (s *AliasStore) GetByName(ctx context.Context, projectID uuid.UUID, name string) (*alias.Alias, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+aliasColumns+` FROM aliases WHERE project_id = ? AND name = ?`,
		projectID.String(), name)
	return scanAlias(row)
}

// ListByProject returns every alias of a project ordered by name.
func (s *AliasStore) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*alias.Alias, error) {
	return s.listAliases(ctx,
		`SELECT `+aliasColumns+` FROM aliases WHERE project_id = ? ORDER BY name`,
		projectID.String())
}

// ListByCommit returns every alias pointing at a commit, oldest first.
func (s *AliasStore) ListByCommit(ctx context.Context, projectID uuid.UUID, commitSHA string) ([]*alias.Alias, error) {
	return s.listAliases(ctx,
		`SELECT `+aliasColumns+` FROM aliases
		 WHERE project_id = ? AND commit_sha = ? ORDER BY created_at, name`,
		projectID.String(), commitSHA)
}

func (s *AliasStore) listAliases(ctx context.Context, query string, args ...any) ([]*alias.Alias, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*alias.Alias
	for rows.Next() {
		a, err := scanAlias(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Create persists a new alias. Returns alias.ErrDuplicateAlias when
// (projectID, name) is taken.
func (s *AliasStore) Create(ctx context.Context, a *alias.Alias) error {
	if err := a.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO aliases (`+aliasColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.ProjectID.String(), a.Name, a.CommitSHA,
		encodeUUIDPtr(a.DeploymentID), a.IsAutoPreview, encodeStringPtr(a.BasePath),
		encodeUUIDPtr(a.ProxyRuleSetID), encodeBoolPtr(a.IsPublic),
		encodeBehaviorPtr(a.UnauthorizedBehavior), encodeRolePtr(a.RequiredRole),
		encodeTime(a.CreatedAt))
	if isUniqueViolation(err) {
		return alias.ErrDuplicateAlias
	}
	if err != nil {
		return fmt.Errorf("create alias: %w", err)
	}
	return nil
}

// Update replaces the stored alias.
func (s *AliasStore) Update(ctx context.Context, a *alias.Alias) error {
	if err := a.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE aliases SET name = ?, commit_sha = ?, deployment_id = ?, is_auto_preview = ?,
			base_path = ?, proxy_rule_set_id = ?, is_public = ?, unauthorized_behavior = ?,
			required_role = ?
		 WHERE id = ?`,
		a.Name, a.CommitSHA, encodeUUIDPtr(a.DeploymentID), a.IsAutoPreview,
		encodeStringPtr(a.BasePath), encodeUUIDPtr(a.ProxyRuleSetID),
		encodeBoolPtr(a.IsPublic), encodeBehaviorPtr(a.UnauthorizedBehavior),
		encodeRolePtr(a.RequiredRole), a.ID.String())
	if isUniqueViolation(err) {
		return alias.ErrDuplicateAlias
	}
	if err != nil {
		return fmt.Errorf("update alias: %w", err)
	}
	return requireRow(res, alias.ErrAliasNotFound)
}

// Delete removes the alias.
func (s *AliasStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM aliases WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete alias: %w", err)
	}
	return requireRow(res, alias.ErrAliasNotFound)
}

// DeleteAutoPreviewByCommit removes auto-preview aliases pointing at a
// commit and reports how many went away.
func (s *AliasStore) DeleteAutoPreviewByCommit(ctx context.Context, projectID uuid.UUID, commitSHA string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM aliases WHERE project_id = ? AND commit_sha = ? AND is_auto_preview = 1`,
		projectID.String(), commitSHA)
	if err != nil {
		return 0, fmt.Errorf("delete auto-preview aliases: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanAlias(row rowScanner) (*alias.Alias, error) {
	var (
		a            alias.Alias
		id           string
		projectID    string
		deploymentID sql.NullString
		basePath     sql.NullString
		ruleSetID    sql.NullString
		isPublic     sql.NullInt64
		behavior     sql.NullString
		role         sql.NullString
		createdAt    int64
	)
	err := row.Scan(&id, &projectID, &a.Name, &a.CommitSHA, &deploymentID,
		&a.IsAutoPreview, &basePath, &ruleSetID, &isPublic, &behavior, &role, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, alias.ErrAliasNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan alias: %w", err)
	}
	if a.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse alias id: %w", err)
	}
	if a.ProjectID, err = uuid.Parse(projectID); err != nil {
		return nil, fmt.Errorf("parse alias project id: %w", err)
	}
	if a.DeploymentID, err = decodeUUIDPtr(deploymentID); err != nil {
		return nil, err
	}
	if a.ProxyRuleSetID, err = decodeUUIDPtr(ruleSetID); err != nil {
		return nil, err
	}
	a.BasePath = decodeStringPtr(basePath)
	a.IsPublic = decodeBoolPtr(isPublic)
	if behavior.Valid {
		b := project.UnauthorizedBehavior(behavior.String)
		a.UnauthorizedBehavior = &b
	}
	if role.Valid {
		r := project.Role(role.String)
		a.RequiredRole = &r
	}
	a.CreatedAt = decodeTime(createdAt)
	return &a, nil
}

func encodeBehaviorPtr(b *project.UnauthorizedBehavior) any {
	if b == nil {
		return nil
	}
	return string(*b)
}

func encodeRolePtr(r *project.Role) any {
	if r == nil {
		return nil
	}
	return string(*r)
}

var _ alias.Store = (*AliasStore)(nil)
