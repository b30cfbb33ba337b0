package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pagegate/pagegate/internal/domain/retention"
)

const retentionColumns = `id, project_id, name, branch_pattern, exclude_branches, retention_days,
	keep_with_alias, keep_minimum, path_patterns, path_mode, enabled, last_run_at, next_run_at,
	execution_started_at, last_run_summary`

// RetentionStore implements retention.Store on SQLite. The execution lock
// is the execution_started_at column; TryLock claims it with a single
// compare-and-set UPDATE so concurrent executors cannot both win.
type RetentionStore struct {
	db *sql.DB
}

// NewRetentionStore creates a retention store backed by db.
func NewRetentionStore(db *DB) *RetentionStore {
	return &RetentionStore{db: db.sql}
}

// Get returns one rule, or retention.ErrRuleNotFound.
func (s *RetentionStore) Get(ctx context.Context, id uuid.UUID) (*retention.Rule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+retentionColumns+` FROM retention_rules WHERE id = ?`, id.String())
	return scanRetentionRule(row)
}

// ListByProject returns a project's rules ordered by name.
func (s *RetentionStore) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*retention.Rule, error) {
	return s.listRules(ctx,
		`SELECT `+retentionColumns+` FROM retention_rules WHERE project_id = ? ORDER BY name`,
		projectID.String())
}

// Due returns enabled rules whose NextRunAt is at or before now.
func (s *RetentionStore) Due(ctx context.Context, now time.Time) ([]*retention.Rule, error) {
	return s.listRules(ctx,
		`SELECT `+retentionColumns+` FROM retention_rules
		 WHERE enabled = 1 AND next_run_at <= ? ORDER BY next_run_at, name`,
		encodeTime(now))
}

func (s *RetentionStore) listRules(ctx context.Context, query string, args ...any) ([]*retention.Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list retention rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*retention.Rule
	for rows.Next() {
		r, err := scanRetentionRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Create persists a new rule. Returns retention.ErrDuplicateRule when
// (projectID, name) is taken.
func (s *RetentionStore) Create(ctx context.Context, r *retention.Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	excludes, patterns, summary, err := encodeRetentionJSON(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO retention_rules (`+retentionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.ProjectID.String(), r.Name, r.BranchPattern, excludes,
		r.RetentionDays, r.KeepWithAlias, r.KeepMinimum, patterns, string(r.PathMode),
		r.Enabled, encodeTimePtr(r.LastRunAt), encodeTime(r.NextRunAt),
		encodeTimePtr(r.ExecutionStartedAt), summary)
	if isUniqueViolation(err) {
		return retention.ErrDuplicateRule
	}
	if err != nil {
		return fmt.Errorf("create retention rule: %w", err)
	}
	return nil
}

// Update replaces the stored rule's configuration fields. Run state
// (lock, timestamps, summary) is owned by TryLock/Unlock and not touched.
func (s *RetentionStore) Update(ctx context.Context, r *retention.Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	excludes, patterns, _, err := encodeRetentionJSON(r)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE retention_rules SET name = ?, branch_pattern = ?, exclude_branches = ?,
			retention_days = ?, keep_with_alias = ?, keep_minimum = ?, path_patterns = ?,
			path_mode = ?, enabled = ?, next_run_at = ?
		 WHERE id = ?`,
		r.Name, r.BranchPattern, excludes, r.RetentionDays, r.KeepWithAlias,
		r.KeepMinimum, patterns, string(r.PathMode), r.Enabled,
		encodeTime(r.NextRunAt), r.ID.String())
	if isUniqueViolation(err) {
		return retention.ErrDuplicateRule
	}
	if err != nil {
		return fmt.Errorf("update retention rule: %w", err)
	}
	return requireRow(res, retention.ErrRuleNotFound)
}

// Delete removes one rule.
func (s *RetentionStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM retention_rules WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete retention rule: %w", err)
	}
	return requireRow(res, retention.ErrRuleNotFound)
}

// TryLock CAS-sets the execution lock and reports whether it was won.
func (s *RetentionStore) TryLock(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE retention_rules SET execution_started_at = ?
		 WHERE id = ? AND execution_started_at IS NULL`,
		encodeTime(at), id.String())
	if err != nil {
		return false, fmt.Errorf("lock retention rule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	// Lost the race, or the rule is gone. Distinguish for the caller.
	var exists int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM retention_rules WHERE id = ?`, id.String()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check retention rule: %w", err)
	}
	if exists == 0 {
		return false, retention.ErrRuleNotFound
	}
	return false, nil
}

// IsLocked re-reads the lock column.
func (s *RetentionStore) IsLocked(ctx context.Context, id uuid.UUID) (bool, error) {
	var started sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT execution_started_at FROM retention_rules WHERE id = ?`, id.String()).
		Scan(&started)
	if errors.Is(err, sql.ErrNoRows) {
		return false, retention.ErrRuleNotFound
	}
	if err != nil {
		return false, fmt.Errorf("read retention lock: %w", err)
	}
	return started.Valid, nil
}

// Unlock clears the lock and records the run outcome.
func (s *RetentionStore) Unlock(ctx context.Context, id uuid.UUID, lastRun, nextRun time.Time, summary *retention.RunSummary) error {
	var summaryJSON any
	if summary != nil {
		b, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("encode run summary: %w", err)
		}
		summaryJSON = string(b)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE retention_rules SET execution_started_at = NULL, last_run_at = ?,
			next_run_at = ?, last_run_summary = ?
		 WHERE id = ?`,
		encodeTime(lastRun), encodeTime(nextRun), summaryJSON, id.String())
	if err != nil {
		return fmt.Errorf("unlock retention rule: %w", err)
	}
	return requireRow(res, retention.ErrRuleNotFound)
}

// ClearLock force-clears a stale lock without touching run state.
func (s *RetentionStore) ClearLock(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE retention_rules SET execution_started_at = NULL WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("clear retention lock: %w", err)
	}
	return requireRow(res, retention.ErrRuleNotFound)
}

// AppendLog writes one audit row.
func (s *RetentionStore) AppendLog(ctx context.Context, l *retention.Log) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO retention_logs (id, project_id, rule_id, commit_sha, branch,
			asset_count, freed_bytes, is_partial, deleted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID.String(), l.ProjectID.String(), encodeUUIDPtr(l.RuleID), l.CommitSHA,
		l.Branch, l.AssetCount, l.FreedBytes, l.IsPartial, encodeTime(l.DeletedAt))
	if err != nil {
		return fmt.Errorf("append retention log: %w", err)
	}
	return nil
}

// ListLogs returns a project's audit rows, newest first.
func (s *RetentionStore) ListLogs(ctx context.Context, projectID uuid.UUID, limit int) ([]*retention.Log, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, rule_id, commit_sha, branch, asset_count, freed_bytes,
			is_partial, deleted_at
		 FROM retention_logs WHERE project_id = ?
		 ORDER BY deleted_at DESC LIMIT ?`,
		projectID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list retention logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*retention.Log
	for rows.Next() {
		var (
			l         retention.Log
			id        string
			projID    string
			ruleID    sql.NullString
			deletedAt int64
		)
		if err := rows.Scan(&id, &projID, &ruleID, &l.CommitSHA, &l.Branch,
			&l.AssetCount, &l.FreedBytes, &l.IsPartial, &deletedAt); err != nil {
			return nil, fmt.Errorf("scan retention log: %w", err)
		}
		if l.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse retention log id: %w", err)
		}
		if l.ProjectID, err = uuid.Parse(projID); err != nil {
			return nil, fmt.Errorf("parse retention log project id: %w", err)
		}
		if l.RuleID, err = decodeUUIDPtr(ruleID); err != nil {
			return nil, err
		}
		l.DeletedAt = decodeTime(deletedAt)
		out = append(out, &l)
	}
	return out, rows.Err()
}

func encodeRetentionJSON(r *retention.Rule) (excludes, patterns, summary any, err error) {
	if len(r.ExcludeBranches) > 0 {
		b, err := json.Marshal(r.ExcludeBranches)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("encode exclude branches: %w", err)
		}
		excludes = string(b)
	}
	if len(r.PathPatterns) > 0 {
		b, err := json.Marshal(r.PathPatterns)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("encode path patterns: %w", err)
		}
		patterns = string(b)
	}
	if r.LastRunSummary != nil {
		b, err := json.Marshal(r.LastRunSummary)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("encode run summary: %w", err)
		}
		summary = string(b)
	}
	return excludes, patterns, summary, nil
}

func scanRetentionRule(row rowScanner) (*retention.Rule, error) {
	var (
		r         retention.Rule
		id        string
		projectID string
		excludes  sql.NullString
		patterns  sql.NullString
		pathMode  string
		lastRun   sql.NullInt64
		nextRun   int64
		started   sql.NullInt64
		summary   sql.NullString
	)
	err := row.Scan(&id, &projectID, &r.Name, &r.BranchPattern, &excludes,
		&r.RetentionDays, &r.KeepWithAlias, &r.KeepMinimum, &patterns, &pathMode,
		&r.Enabled, &lastRun, &nextRun, &started, &summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, retention.ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan retention rule: %w", err)
	}
	if r.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse retention rule id: %w", err)
	}
	if r.ProjectID, err = uuid.Parse(projectID); err != nil {
		return nil, fmt.Errorf("parse retention rule project id: %w", err)
	}
	if excludes.Valid {
		if err := json.Unmarshal([]byte(excludes.String), &r.ExcludeBranches); err != nil {
			return nil, fmt.Errorf("decode exclude branches: %w", err)
		}
	}
	if patterns.Valid {
		if err := json.Unmarshal([]byte(patterns.String), &r.PathPatterns); err != nil {
			return nil, fmt.Errorf("decode path patterns: %w", err)
		}
	}
	if summary.Valid {
		r.LastRunSummary = &retention.RunSummary{}
		if err := json.Unmarshal([]byte(summary.String), r.LastRunSummary); err != nil {
			return nil, fmt.Errorf("decode run summary: %w", err)
		}
	}
	r.PathMode = retention.PathMode(pathMode)
	r.LastRunAt = decodeTimePtr(lastRun)
	r.NextRunAt = decodeTime(nextRun)
	r.ExecutionStartedAt = decodeTimePtr(started)
	return &r, nil
}

var _ retention.Store = (*RetentionStore)(nil)
