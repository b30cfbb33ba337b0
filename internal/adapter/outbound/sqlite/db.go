// Package sqlite implements the domain stores on an embedded SQLite
// database. The driver is pure Go, so the binary stays CGO-free.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// schema holds one CREATE statement per element, applied inside a single
// transaction at open. Statements are idempotent so reopening an existing
// database is a no-op.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		name TEXT NOT NULL,
		is_public INTEGER NOT NULL DEFAULT 0,
		unauthorized_behavior TEXT NOT NULL,
		required_role TEXT NOT NULL,
		default_rule_set_id TEXT,
		storage_quota_bytes INTEGER,
		quota_behavior TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE (owner, name)
	)`,
	`CREATE TABLE IF NOT EXISTS assets (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects (id) ON DELETE CASCADE,
		file_name TEXT NOT NULL,
		storage_key TEXT NOT NULL UNIQUE,
		mime_type TEXT NOT NULL,
		size INTEGER NOT NULL,
		content_hash TEXT NOT NULL,
		commit_sha TEXT NOT NULL DEFAULT '',
		branch TEXT NOT NULL DEFAULT '',
		deployment_id TEXT,
		public_path TEXT NOT NULL DEFAULT '',
		uploaded_by TEXT,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_assets_commit ON assets (project_id, commit_sha, public_path)`,
	`CREATE TABLE IF NOT EXISTS aliases (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects (id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		commit_sha TEXT NOT NULL,
		deployment_id TEXT,
		is_auto_preview INTEGER NOT NULL DEFAULT 0,
		base_path TEXT,
		proxy_rule_set_id TEXT,
		is_public INTEGER,
		unauthorized_behavior TEXT,
		required_role TEXT,
		created_at INTEGER NOT NULL,
		UNIQUE (project_id, name)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_aliases_commit ON aliases (project_id, commit_sha)`,
	`CREATE TABLE IF NOT EXISTS domain_mappings (
		id TEXT PRIMARY KEY,
		project_id TEXT REFERENCES projects (id) ON DELETE CASCADE,
		alias TEXT,
		path TEXT,
		domain TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		redirect_target TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		is_public INTEGER,
		is_spa INTEGER NOT NULL DEFAULT 0,
		is_primary INTEGER NOT NULL DEFAULT 0,
		www_behavior TEXT NOT NULL DEFAULT '',
		sticky_sessions_enabled INTEGER NOT NULL DEFAULT 0,
		sticky_session_seconds INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS traffic_rules (
		id TEXT PRIMARY KEY,
		mapping_id TEXT NOT NULL REFERENCES domain_mappings (id) ON DELETE CASCADE,
		match_type TEXT NOT NULL,
		match_key TEXT NOT NULL,
		match_value TEXT NOT NULL,
		alias_id TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS alias_weights (
		mapping_id TEXT NOT NULL REFERENCES domain_mappings (id) ON DELETE CASCADE,
		alias_id TEXT NOT NULL,
		weight INTEGER NOT NULL,
		PRIMARY KEY (mapping_id, alias_id)
	)`,
	`CREATE TABLE IF NOT EXISTS proxy_rule_sets (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects (id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		environment TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		UNIQUE (project_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS proxy_rules (
		id TEXT PRIMARY KEY,
		rule_set_id TEXT NOT NULL REFERENCES proxy_rule_sets (id) ON DELETE CASCADE,
		path_pattern TEXT NOT NULL,
		target_url TEXT NOT NULL,
		kind TEXT NOT NULL,
		strip_prefix INTEGER NOT NULL DEFAULT 0,
		rule_order INTEGER NOT NULL DEFAULT 0,
		timeout_ms INTEGER NOT NULL DEFAULT 0,
		preserve_host INTEGER NOT NULL DEFAULT 0,
		forward_cookies INTEGER NOT NULL DEFAULT 0,
		headers TEXT,
		auth_transform TEXT,
		email_config TEXT,
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		UNIQUE (rule_set_id, path_pattern)
	)`,
	`CREATE TABLE IF NOT EXISTS cache_rules (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects (id) ON DELETE CASCADE,
		path_pattern TEXT NOT NULL,
		browser_max_age INTEGER NOT NULL DEFAULT 0,
		cdn_max_age INTEGER,
		stale_while_revalidate INTEGER,
		immutable INTEGER NOT NULL DEFAULT 0,
		cacheability TEXT NOT NULL DEFAULT 'inherit',
		priority INTEGER NOT NULL DEFAULT 0,
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS retention_rules (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects (id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		branch_pattern TEXT NOT NULL,
		exclude_branches TEXT,
		retention_days INTEGER NOT NULL,
		keep_with_alias INTEGER NOT NULL DEFAULT 0,
		keep_minimum INTEGER NOT NULL DEFAULT 0,
		path_patterns TEXT,
		path_mode TEXT NOT NULL DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1,
		last_run_at INTEGER,
		next_run_at INTEGER NOT NULL,
		execution_started_at INTEGER,
		last_run_summary TEXT,
		UNIQUE (project_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS retention_logs (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		rule_id TEXT,
		commit_sha TEXT NOT NULL,
		branch TEXT NOT NULL,
		asset_count INTEGER NOT NULL,
		freed_bytes INTEGER NOT NULL,
		is_partial INTEGER NOT NULL DEFAULT 0,
		deleted_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_retention_logs_project ON retention_logs (project_id, deleted_at)`,
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		namespace TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'user',
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS memberships (
		user_id TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		project_id TEXT NOT NULL REFERENCES projects (id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		PRIMARY KEY (user_id, project_id)
	)`,
	`CREATE TABLE IF NOT EXISTS user_groups (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS group_members (
		group_id TEXT NOT NULL REFERENCES user_groups (id) ON DELETE CASCADE,
		user_id TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		PRIMARY KEY (group_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS group_grants (
		group_id TEXT NOT NULL REFERENCES user_groups (id) ON DELETE CASCADE,
		project_id TEXT NOT NULL REFERENCES projects (id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		PRIMARY KEY (group_id, project_id)
	)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects (id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		hash TEXT NOT NULL,
		last_used_at INTEGER,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_fingerprint ON api_keys (fingerprint)`,
}

// DB wraps the shared connection pool handed to the individual stores.
type DB struct {
	sql *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. The special path ":memory:" opens a private in-memory database
// pinned to a single connection, since each pooled connection would
// otherwise see its own empty database.
func Open(path string, busyTimeout time.Duration) (*DB, error) {
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{sql: db}, nil
}

func applySchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range schema {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return tx.Commit()
}

// Close closes the underlying pool.
func (d *DB) Close() error {
	return d.sql.Close()
}

// Ping verifies the pool still reaches the database, for health checks.
func (d *DB) Ping(ctx context.Context) error {
	return d.sql.PingContext(ctx)
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
// The driver exposes no typed error for it, so this matches the message.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}

// Timestamps are stored as microseconds since the Unix epoch so range
// queries stay integer comparisons.

func encodeTime(t time.Time) int64 {
	return t.UnixMicro()
}

func decodeTime(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

func encodeTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMicro()
}

func decodeTimePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMicro(v.Int64).UTC()
	return &t
}

func encodeUUIDPtr(u *uuid.UUID) any {
	if u == nil {
		return nil
	}
	return u.String()
}

func decodeUUIDPtr(s sql.NullString) (*uuid.UUID, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	u, err := uuid.Parse(s.String)
	if err != nil {
		return nil, fmt.Errorf("parse uuid column: %w", err)
	}
	return &u, nil
}

func encodeStringPtr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func decodeStringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func encodeIntPtr(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}

func decodeIntPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func encodeInt64Ptr(n *int64) any {
	if n == nil {
		return nil
	}
	return *n
}

func decodeInt64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func encodeBoolPtr(b *bool) any {
	if b == nil {
		return nil
	}
	if *b {
		return 1
	}
	return 0
}

func decodeBoolPtr(v sql.NullInt64) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Int64 != 0
	return &b
}
