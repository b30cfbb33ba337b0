package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pagegate/pagegate/internal/domain/domainmap"
)

const mappingColumns = `id, project_id, alias, path, domain, type, redirect_target, is_active,
	is_public, is_spa, is_primary, www_behavior, sticky_sessions_enabled, sticky_session_seconds,
	created_at`

// DomainStore implements domainmap.Store on SQLite.
type DomainStore struct {
	db *sql.DB
}

// NewDomainStore creates a domain mapping store backed by db.
func NewDomainStore(db *DB) *DomainStore {
	return &DomainStore{db: db.sql}
}

// Get returns the mapping with the given ID, or domainmap.ErrDomainNotFound.
func (s *DomainStore) Get(ctx context.Context, id uuid.UUID) (*domainmap.Mapping, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+mappingColumns+` FROM domain_mappings WHERE id = ?`, id.String())
	return scanMapping(row)
}

// GetByDomain returns the active mapping for a normalized host, or
// domainmap.ErrDomainNotFound.
func (s *DomainStore) GetByDomain(ctx context.Context, domain string) (*domainmap.Mapping, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+mappingColumns+` FROM domain_mappings WHERE domain = ? AND is_active = 1`,
		domain)
	return scanMapping(row)
}

// ListByProject returns every mapping of a project, primary first.
func (s *DomainStore) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*domainmap.Mapping, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+mappingColumns+` FROM domain_mappings
		 WHERE project_id = ? ORDER BY is_primary DESC, domain`,
		projectID.String())
	if err != nil {
		return nil, fmt.Errorf("list domain mappings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domainmap.Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Create persists a new mapping. Returns domainmap.ErrDuplicateDomain when
// the domain is taken.
func (s *DomainStore) Create(ctx context.Context, m *domainmap.Mapping) error {
	if err := m.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO domain_mappings (`+mappingColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID.String(), encodeUUIDPtr(m.ProjectID), encodeStringPtr(m.Alias),
		encodeStringPtr(m.Path), m.Domain, string(m.Type),
		encodeStringPtr(m.RedirectTarget), m.IsActive, encodeBoolPtr(m.IsPublic),
		m.IsSPA, m.IsPrimary, string(m.WWWBehavior),
		m.StickySessionsEnabled, m.StickySessionSeconds, encodeTime(m.CreatedAt))
	if isUniqueViolation(err) {
		return domainmap.ErrDuplicateDomain
	}
	if err != nil {
		return fmt.Errorf("create domain mapping: %w", err)
	}
	return nil
}

// Update replaces the stored mapping.
func (s *DomainStore) Update(ctx context.Context, m *domainmap.Mapping) error {
	if err := m.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE domain_mappings SET project_id = ?, alias = ?, path = ?, domain = ?, type = ?,
			redirect_target = ?, is_active = ?, is_public = ?, is_spa = ?, is_primary = ?,
			www_behavior = ?, sticky_sessions_enabled = ?, sticky_session_seconds = ?
		 WHERE id = ?`,
		encodeUUIDPtr(m.ProjectID), encodeStringPtr(m.Alias), encodeStringPtr(m.Path),
		m.Domain, string(m.Type), encodeStringPtr(m.RedirectTarget), m.IsActive,
		encodeBoolPtr(m.IsPublic), m.IsSPA, m.IsPrimary, string(m.WWWBehavior),
		m.StickySessionsEnabled, m.StickySessionSeconds, m.ID.String())
	if isUniqueViolation(err) {
		return domainmap.ErrDuplicateDomain
	}
	if err != nil {
		return fmt.Errorf("update domain mapping: %w", err)
	}
	return requireRow(res, domainmap.ErrDomainNotFound)
}

// Delete removes the mapping; traffic rules and weights cascade.
func (s *DomainStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM domain_mappings WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete domain mapping: %w", err)
	}
	return requireRow(res, domainmap.ErrDomainNotFound)
}

// TrafficRules returns the mapping's rules ordered by priority asc.
func (s *DomainStore) TrafficRules(ctx context.Context, mappingID uuid.UUID) ([]domainmap.TrafficRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, mapping_id, match_type, match_key, match_value, alias_id, priority
		 FROM traffic_rules WHERE mapping_id = ? ORDER BY priority`,
		mappingID.String())
	if err != nil {
		return nil, fmt.Errorf("list traffic rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domainmap.TrafficRule
	for rows.Next() {
		var (
			r         domainmap.TrafficRule
			id        string
			mid       string
			matchType string
			aliasID   string
		)
		if err := rows.Scan(&id, &mid, &matchType, &r.MatchKey, &r.MatchValue, &aliasID, &r.Priority); err != nil {
			return nil, fmt.Errorf("scan traffic rule: %w", err)
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse traffic rule id: %w", err)
		}
		if r.MappingID, err = uuid.Parse(mid); err != nil {
			return nil, fmt.Errorf("parse traffic rule mapping id: %w", err)
		}
		if r.AliasID, err = uuid.Parse(aliasID); err != nil {
			return nil, fmt.Errorf("parse traffic rule alias id: %w", err)
		}
		r.MatchType = domainmap.MatchType(matchType)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReplaceTrafficRules swaps the mapping's rule list atomically.
func (s *DomainStore) ReplaceTrafficRules(ctx context.Context, mappingID uuid.UUID, rules []domainmap.TrafficRule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace traffic rules: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM traffic_rules WHERE mapping_id = ?`, mappingID.String()); err != nil {
		return fmt.Errorf("clear traffic rules: %w", err)
	}
	for _, r := range rules {
		id := r.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO traffic_rules (id, mapping_id, match_type, match_key, match_value, alias_id, priority)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id.String(), mappingID.String(), string(r.MatchType),
			r.MatchKey, r.MatchValue, r.AliasID.String(), r.Priority); err != nil {
			return fmt.Errorf("insert traffic rule: %w", err)
		}
	}
	return tx.Commit()
}

// AliasWeights returns the mapping's weighted alias split.
func (s *DomainStore) AliasWeights(ctx context.Context, mappingID uuid.UUID) ([]domainmap.AliasWeight, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT mapping_id, alias_id, weight FROM alias_weights
		 WHERE mapping_id = ? ORDER BY alias_id`,
		mappingID.String())
	if err != nil {
		return nil, fmt.Errorf("list alias weights: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domainmap.AliasWeight
	for rows.Next() {
		var (
			w       domainmap.AliasWeight
			mid     string
			aliasID string
		)
		if err := rows.Scan(&mid, &aliasID, &w.Weight); err != nil {
			return nil, fmt.Errorf("scan alias weight: %w", err)
		}
		if w.MappingID, err = uuid.Parse(mid); err != nil {
			return nil, fmt.Errorf("parse alias weight mapping id: %w", err)
		}
		if w.AliasID, err = uuid.Parse(aliasID); err != nil {
			return nil, fmt.Errorf("parse alias weight alias id: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// ReplaceAliasWeights swaps the mapping's weight list atomically.
func (s *DomainStore) ReplaceAliasWeights(ctx context.Context, mappingID uuid.UUID, weights []domainmap.AliasWeight) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace alias weights: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM alias_weights WHERE mapping_id = ?`, mappingID.String()); err != nil {
		return fmt.Errorf("clear alias weights: %w", err)
	}
	for _, w := range weights {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO alias_weights (mapping_id, alias_id, weight) VALUES (?, ?, ?)`,
			mappingID.String(), w.AliasID.String(), w.Weight); err != nil {
			return fmt.Errorf("insert alias weight: %w", err)
		}
	}
	return tx.Commit()
}

func scanMapping(row rowScanner) (*domainmap.Mapping, error) {
	var (
		m         domainmap.Mapping
		id        string
		projectID sql.NullString
		aliasName sql.NullString
		basePath  sql.NullString
		mType     string
		target    sql.NullString
		isPublic  sql.NullInt64
		www       string
		createdAt int64
	)
	err := row.Scan(&id, &projectID, &aliasName, &basePath, &m.Domain, &mType,
		&target, &m.IsActive, &isPublic, &m.IsSPA, &m.IsPrimary, &www,
		&m.StickySessionsEnabled, &m.StickySessionSeconds, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainmap.ErrDomainNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan domain mapping: %w", err)
	}
	if m.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse mapping id: %w", err)
	}
	if m.ProjectID, err = decodeUUIDPtr(projectID); err != nil {
		return nil, err
	}
	m.Alias = decodeStringPtr(aliasName)
	m.Path = decodeStringPtr(basePath)
	m.Type = domainmap.Type(mType)
	m.RedirectTarget = decodeStringPtr(target)
	m.IsPublic = decodeBoolPtr(isPublic)
	m.WWWBehavior = domainmap.WWWBehavior(www)
	m.CreatedAt = decodeTime(createdAt)
	return &m, nil
}

var _ domainmap.Store = (*DomainStore)(nil)
