package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pagegate/pagegate/internal/domain/cacherule"
)

const cacheRuleColumns = `id, project_id, path_pattern, browser_max_age, cdn_max_age,
	stale_while_revalidate, immutable, cacheability, priority, enabled, created_at`

// CacheRuleStore implements cacherule.Store on SQLite.
type CacheRuleStore struct {
	db *sql.DB
}

// NewCacheRuleStore creates a cache rule store backed by db.
func NewCacheRuleStore(db *DB) *CacheRuleStore {
	return &CacheRuleStore{db: db.sql}
}

// Get returns one cache rule, or cacherule.ErrRuleNotFound.
func (s *CacheRuleStore) Get(ctx context.Context, id uuid.UUID) (*cacherule.Rule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+cacheRuleColumns+` FROM cache_rules WHERE id = ?`, id.String())
	return scanCacheRule(row)
}

// ListByProject returns a project's rules ordered by priority asc.
func (s *CacheRuleStore) ListByProject(ctx context.Context, projectID uuid.UUID) ([]cacherule.Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+cacheRuleColumns+` FROM cache_rules
		 WHERE project_id = ? ORDER BY priority, created_at`,
		projectID.String())
	if err != nil {
		return nil, fmt.Errorf("list cache rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []cacherule.Rule
	for rows.Next() {
		r, err := scanCacheRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// Create persists a new rule.
func (s *CacheRuleStore) Create(ctx context.Context, r *cacherule.Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_rules (`+cacheRuleColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.ProjectID.String(), r.PathPattern, r.BrowserMaxAge,
		encodeIntPtr(r.CDNMaxAge), encodeIntPtr(r.StaleWhileRevalidate),
		r.Immutable, string(r.Cacheability), r.Priority, r.Enabled, encodeTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("create cache rule: %w", err)
	}
	return nil
}

// Update replaces the stored rule.
func (s *CacheRuleStore) Update(ctx context.Context, r *cacherule.Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE cache_rules SET path_pattern = ?, browser_max_age = ?, cdn_max_age = ?,
			stale_while_revalidate = ?, immutable = ?, cacheability = ?, priority = ?, enabled = ?
		 WHERE id = ?`,
		r.PathPattern, r.BrowserMaxAge, encodeIntPtr(r.CDNMaxAge),
		encodeIntPtr(r.StaleWhileRevalidate), r.Immutable, string(r.Cacheability),
		r.Priority, r.Enabled, r.ID.String())
	if err != nil {
		return fmt.Errorf("update cache rule: %w", err)
	}
	return requireRow(res, cacherule.ErrRuleNotFound)
}

// Delete removes one rule.
func (s *CacheRuleStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_rules WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete cache rule: %w", err)
	}
	return requireRow(res, cacherule.ErrRuleNotFound)
}

func scanCacheRule(row rowScanner) (*cacherule.Rule, error) {
	var (
		r            cacherule.Rule
		id           string
		projectID    string
		cdn          sql.NullInt64
		swr          sql.NullInt64
		cacheability string
		createdAt    int64
	)
	err := row.Scan(&id, &projectID, &r.PathPattern, &r.BrowserMaxAge, &cdn, &swr,
		&r.Immutable, &cacheability, &r.Priority, &r.Enabled, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cacherule.ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan cache rule: %w", err)
	}
	if r.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse cache rule id: %w", err)
	}
	if r.ProjectID, err = uuid.Parse(projectID); err != nil {
		return nil, fmt.Errorf("parse cache rule project id: %w", err)
	}
	r.CDNMaxAge = decodeIntPtr(cdn)
	r.StaleWhileRevalidate = decodeIntPtr(swr)
	r.Cacheability = cacherule.Cacheability(cacheability)
	r.CreatedAt = decodeTime(createdAt)
	return &r, nil
}

var _ cacherule.Store = (*CacheRuleStore)(nil)
