package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pagegate/pagegate/internal/domain/permission"
	"github.com/pagegate/pagegate/internal/domain/project"
)

// PermissionStore implements permission.Store on SQLite, plus the write
// methods the admin surface and seeding need.
type PermissionStore struct {
	db *sql.DB
}

// NewPermissionStore creates a permission store backed by db.
func NewPermissionStore(db *DB) *PermissionStore {
	return &PermissionStore{db: db.sql}
}

// GetUser returns the user, or permission.ErrUserNotFound.
func (s *PermissionStore) GetUser(ctx context.Context, id uuid.UUID) (*permission.User, error) {
	var (
		u         permission.User
		uid       string
		role      string
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, namespace, role, created_at FROM users WHERE id = ?`,
		id.String()).Scan(&uid, &u.Email, &u.Namespace, &role, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, permission.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if u.ID, err = uuid.Parse(uid); err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	u.Role = permission.PlatformRole(role)
	u.CreatedAt = decodeTime(createdAt)
	return &u, nil
}

// DirectRole returns the user's direct membership role on a project.
func (s *PermissionStore) DirectRole(ctx context.Context, userID, projectID uuid.UUID) (project.Role, bool, error) {
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT role FROM memberships WHERE user_id = ? AND project_id = ?`,
		userID.String(), projectID.String()).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get direct role: %w", err)
	}
	return project.Role(role), true, nil
}

// GroupRoles returns the roles granted to the user on a project through
// group membership.
func (s *PermissionStore) GroupRoles(ctx context.Context, userID, projectID uuid.UUID) ([]project.Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT g.role FROM group_grants g
		 JOIN group_members m ON m.group_id = g.group_id
		 WHERE m.user_id = ? AND g.project_id = ?`,
		userID.String(), projectID.String())
	if err != nil {
		return nil, fmt.Errorf("get group roles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []project.Role
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("scan group role: %w", err)
		}
		out = append(out, project.Role(role))
	}
	return out, rows.Err()
}

// CreateUser persists a new user account.
func (s *PermissionStore) CreateUser(ctx context.Context, u *permission.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, namespace, role, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID.String(), u.Email, u.Namespace, string(u.Role), encodeTime(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// SetMembership upserts one user's direct role on a project.
func (s *PermissionStore) SetMembership(ctx context.Context, m permission.Membership) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memberships (user_id, project_id, role) VALUES (?, ?, ?)
		 ON CONFLICT (user_id, project_id) DO UPDATE SET role = excluded.role`,
		m.UserID.String(), m.ProjectID.String(), string(m.Role))
	if err != nil {
		return fmt.Errorf("set membership: %w", err)
	}
	return nil
}

// RemoveMembership drops one user's direct role on a project.
func (s *PermissionStore) RemoveMembership(ctx context.Context, userID, projectID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM memberships WHERE user_id = ? AND project_id = ?`,
		userID.String(), projectID.String())
	if err != nil {
		return fmt.Errorf("remove membership: %w", err)
	}
	return nil
}

// CreateGroup persists a new group.
func (s *PermissionStore) CreateGroup(ctx context.Context, g *permission.Group) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_groups (id, name) VALUES (?, ?)`, g.ID.String(), g.Name)
	if err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	return nil
}

// AddGroupMember adds one user to a group.
func (s *PermissionStore) AddGroupMember(ctx context.Context, groupID, userID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO group_members (group_id, user_id) VALUES (?, ?)
		 ON CONFLICT (group_id, user_id) DO NOTHING`,
		groupID.String(), userID.String())
	if err != nil {
		return fmt.Errorf("add group member: %w", err)
	}
	return nil
}

// GrantGroup upserts the role a group holds on a project.
func (s *PermissionStore) GrantGroup(ctx context.Context, groupID, projectID uuid.UUID, role project.Role) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO group_grants (group_id, project_id, role) VALUES (?, ?, ?)
		 ON CONFLICT (group_id, project_id) DO UPDATE SET role = excluded.role`,
		groupID.String(), projectID.String(), string(role))
	if err != nil {
		return fmt.Errorf("grant group: %w", err)
	}
	return nil
}

var _ permission.Store = (*PermissionStore)(nil)

// APIKeyStore implements permission.KeyStore on SQLite.
type APIKeyStore struct {
	db *sql.DB
}

// NewAPIKeyStore creates an API key store backed by db.
func NewAPIKeyStore(db *DB) *APIKeyStore {
	return &APIKeyStore{db: db.sql}
}

const apiKeyColumns = `id, project_id, name, fingerprint, hash, last_used_at, created_at`

// GetByFingerprint returns candidate keys sharing a fingerprint, or
// permission.ErrKeyNotFound when none exist.
func (s *APIKeyStore) GetByFingerprint(ctx context.Context, fp string) ([]*permission.APIKey, error) {
	keys, err := s.listKeys(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE fingerprint = ?`, fp)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, permission.ErrKeyNotFound
	}
	return keys, nil
}

// ListByProject returns a project's keys ordered by creation time.
func (s *APIKeyStore) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*permission.APIKey, error) {
	return s.listKeys(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE project_id = ? ORDER BY created_at`,
		projectID.String())
}

func (s *APIKeyStore) listKeys(ctx context.Context, query string, args ...any) ([]*permission.APIKey, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*permission.APIKey
	for rows.Next() {
		var (
			k         permission.APIKey
			id        string
			projectID string
			lastUsed  sql.NullInt64
			createdAt int64
		)
		if err := rows.Scan(&id, &projectID, &k.Name, &k.Fingerprint, &k.Hash,
			&lastUsed, &createdAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		if k.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse api key id: %w", err)
		}
		if k.ProjectID, err = uuid.Parse(projectID); err != nil {
			return nil, fmt.Errorf("parse api key project id: %w", err)
		}
		k.LastUsedAt = decodeTimePtr(lastUsed)
		k.CreatedAt = decodeTime(createdAt)
		out = append(out, &k)
	}
	return out, rows.Err()
}

// Create persists a new key.
func (s *APIKeyStore) Create(ctx context.Context, k *permission.APIKey) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (`+apiKeyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		k.ID.String(), k.ProjectID.String(), k.Name, k.Fingerprint, k.Hash,
		encodeTimePtr(k.LastUsedAt), encodeTime(k.CreatedAt))
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// TouchLastUsed records a successful verification.
func (s *APIKeyStore) TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = ? WHERE id = ?`, encodeTime(at), id.String())
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	return nil
}

// Delete revokes one key.
func (s *APIKeyStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	return requireRow(res, permission.ErrKeyNotFound)
}

var _ permission.KeyStore = (*APIKeyStore)(nil)
