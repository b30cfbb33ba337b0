package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pagegate/pagegate/internal/domain/proxyrule"
)

const ruleSetColumns = `id, project_id, name, environment, created_at`

const ruleColumns = `id, rule_set_id, path_pattern, target_url, kind, strip_prefix, rule_order,
	timeout_ms, preserve_host, forward_cookies, headers, auth_transform, email_config, enabled,
	created_at`

// ProxyRuleStore implements proxyrule.Store on SQLite. Header, auth
// transform, and email configurations are stored as JSON columns; header
// Add values arrive already sealed by the secrets box.
type ProxyRuleStore struct {
	db *sql.DB
}

// NewProxyRuleStore creates a proxy rule store backed by db.
func NewProxyRuleStore(db *DB) *ProxyRuleStore {
	return &ProxyRuleStore{db: db.sql}
}

// GetRuleSet returns the rule set with the given ID, or
// proxyrule.ErrRuleSetNotFound.
func (s *ProxyRuleStore) GetRuleSet(ctx context.Context, id uuid.UUID) (*proxyrule.RuleSet, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleSetColumns+` FROM proxy_rule_sets WHERE id = ?`, id.String())
	return scanRuleSet(row)
}

// GetRuleSetByName returns the named rule set within a project, or
// proxyrule.ErrRuleSetNotFound.
func (s *ProxyRuleStore) GetRuleSetByName(ctx context.Context, projectID uuid.UUID, name string) (*proxyrule.RuleSet, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleSetColumns+` FROM proxy_rule_sets WHERE project_id = ? AND name = ?`,
		projectID.String(), name)
	return scanRuleSet(row)
}

// ListRuleSets returns every rule set of a project ordered by name.
func (s *ProxyRuleStore) ListRuleSets(ctx context.Context, projectID uuid.UUID) ([]*proxyrule.RuleSet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ruleSetColumns+` FROM proxy_rule_sets WHERE project_id = ? ORDER BY name`,
		projectID.String())
	if err != nil {
		return nil, fmt.Errorf("list rule sets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*proxyrule.RuleSet
	for rows.Next() {
		rs, err := scanRuleSet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

// CreateRuleSet persists a new rule set. Returns
// proxyrule.ErrDuplicateRuleSet when (projectID, name) is taken.
func (s *ProxyRuleStore) CreateRuleSet(ctx context.Context, rs *proxyrule.RuleSet) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO proxy_rule_sets (`+ruleSetColumns+`) VALUES (?, ?, ?, ?, ?)`,
		rs.ID.String(), rs.ProjectID.String(), rs.Name, rs.Environment, encodeTime(rs.CreatedAt))
	if isUniqueViolation(err) {
		return proxyrule.ErrDuplicateRuleSet
	}
	if err != nil {
		return fmt.Errorf("create rule set: %w", err)
	}
	return nil
}

// UpdateRuleSet replaces the stored rule set.
func (s *ProxyRuleStore) UpdateRuleSet(ctx context.Context, rs *proxyrule.RuleSet) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE proxy_rule_sets SET name = ?, environment = ? WHERE id = ?`,
		rs.Name, rs.Environment, rs.ID.String())
	if isUniqueViolation(err) {
		return proxyrule.ErrDuplicateRuleSet
	}
	if err != nil {
		return fmt.Errorf("update rule set: %w", err)
	}
	return requireRow(res, proxyrule.ErrRuleSetNotFound)
}

// DeleteRuleSet removes the rule set; its rules cascade.
func (s *ProxyRuleStore) DeleteRuleSet(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM proxy_rule_sets WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete rule set: %w", err)
	}
	return requireRow(res, proxyrule.ErrRuleSetNotFound)
}

// GetRule returns one rule, or proxyrule.ErrRuleNotFound.
func (s *ProxyRuleStore) GetRule(ctx context.Context, id uuid.UUID) (*proxyrule.Rule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM proxy_rules WHERE id = ?`, id.String())
	return scanRule(row)
}

// ListRules returns the rules of a set ordered ascending by Order.
func (s *ProxyRuleStore) ListRules(ctx context.Context, ruleSetID uuid.UUID) ([]proxyrule.Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM proxy_rules WHERE rule_set_id = ? ORDER BY rule_order, created_at`,
		ruleSetID.String())
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []proxyrule.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// CreateRule persists a new rule. Returns proxyrule.ErrDuplicatePattern
// when (ruleSetID, pathPattern) is taken.
func (s *ProxyRuleStore) CreateRule(ctx context.Context, r *proxyrule.Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	headers, transform, email, err := encodeRuleJSON(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO proxy_rules (`+ruleColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.RuleSetID.String(), r.PathPattern, r.TargetURL, string(r.Kind),
		r.StripPrefix, r.Order, r.TimeoutMs, r.PreserveHost, r.ForwardCookies,
		headers, transform, email, r.Enabled, encodeTime(r.CreatedAt))
	if isUniqueViolation(err) {
		return proxyrule.ErrDuplicatePattern
	}
	if err != nil {
		return fmt.Errorf("create rule: %w", err)
	}
	return nil
}

// UpdateRule replaces the stored rule.
func (s *ProxyRuleStore) UpdateRule(ctx context.Context, r *proxyrule.Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	headers, transform, email, err := encodeRuleJSON(r)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE proxy_rules SET path_pattern = ?, target_url = ?, kind = ?, strip_prefix = ?,
			rule_order = ?, timeout_ms = ?, preserve_host = ?, forward_cookies = ?,
			headers = ?, auth_transform = ?, email_config = ?, enabled = ?
		 WHERE id = ?`,
		r.PathPattern, r.TargetURL, string(r.Kind), r.StripPrefix,
		r.Order, r.TimeoutMs, r.PreserveHost, r.ForwardCookies,
		headers, transform, email, r.Enabled, r.ID.String())
	if isUniqueViolation(err) {
		return proxyrule.ErrDuplicatePattern
	}
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	return requireRow(res, proxyrule.ErrRuleNotFound)
}

// DeleteRule removes one rule.
func (s *ProxyRuleStore) DeleteRule(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM proxy_rules WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	return requireRow(res, proxyrule.ErrRuleNotFound)
}

func encodeRuleJSON(r *proxyrule.Rule) (headers, transform, email any, err error) {
	if len(r.Headers.Forward) > 0 || len(r.Headers.Strip) > 0 || len(r.Headers.Add) > 0 {
		b, err := json.Marshal(r.Headers)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("encode headers: %w", err)
		}
		headers = string(b)
	}
	if r.AuthTransform != nil {
		b, err := json.Marshal(r.AuthTransform)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("encode auth transform: %w", err)
		}
		transform = string(b)
	}
	if r.Email != nil {
		b, err := json.Marshal(r.Email)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("encode email config: %w", err)
		}
		email = string(b)
	}
	return headers, transform, email, nil
}

func scanRuleSet(row rowScanner) (*proxyrule.RuleSet, error) {
	var (
		rs        proxyrule.RuleSet
		id        string
		projectID string
		createdAt int64
	)
	err := row.Scan(&id, &projectID, &rs.Name, &rs.Environment, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, proxyrule.ErrRuleSetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan rule set: %w", err)
	}
	if rs.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse rule set id: %w", err)
	}
	if rs.ProjectID, err = uuid.Parse(projectID); err != nil {
		return nil, fmt.Errorf("parse rule set project id: %w", err)
	}
	rs.CreatedAt = decodeTime(createdAt)
	return &rs, nil
}

func scanRule(row rowScanner) (*proxyrule.Rule, error) {
	var (
		r         proxyrule.Rule
		id        string
		ruleSetID string
		kind      string
		headers   sql.NullString
		transform sql.NullString
		email     sql.NullString
		createdAt int64
	)
	err := row.Scan(&id, &ruleSetID, &r.PathPattern, &r.TargetURL, &kind,
		&r.StripPrefix, &r.Order, &r.TimeoutMs, &r.PreserveHost, &r.ForwardCookies,
		&headers, &transform, &email, &r.Enabled, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, proxyrule.ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan rule: %w", err)
	}
	if r.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse rule id: %w", err)
	}
	if r.RuleSetID, err = uuid.Parse(ruleSetID); err != nil {
		return nil, fmt.Errorf("parse rule set id: %w", err)
	}
	r.Kind = proxyrule.Kind(kind)
	if headers.Valid {
		if err := json.Unmarshal([]byte(headers.String), &r.Headers); err != nil {
			return nil, fmt.Errorf("decode headers: %w", err)
		}
	}
	if transform.Valid {
		r.AuthTransform = &proxyrule.AuthTransform{}
		if err := json.Unmarshal([]byte(transform.String), r.AuthTransform); err != nil {
			return nil, fmt.Errorf("decode auth transform: %w", err)
		}
	}
	if email.Valid {
		r.Email = &proxyrule.EmailConfig{}
		if err := json.Unmarshal([]byte(email.String), r.Email); err != nil {
			return nil, fmt.Errorf("decode email config: %w", err)
		}
	}
	r.CreatedAt = decodeTime(createdAt)
	return &r, nil
}

var _ proxyrule.Store = (*ProxyRuleStore)(nil)
