package rbac

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("rbac: not found")

// Repository provides PostgreSQL backed persistence for roles, permissions
// and user role assignments. It is the sole reader of the RBAC reference
// tables; everything above it sees cached copies.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListRoles returns all roles ordered by hierarchy then name.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, description, hierarchy_level, COALESCE(tenant_id::text, ''), created_at, updated_at
		FROM roles
		ORDER BY hierarchy_level, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.HierarchyLevel, &role.TenantID, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// ListPermissions returns all permissions ordered by name.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, description FROM permissions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// UserAssignments returns the live role assignments for a user. When tenantID
// is non-empty the result is restricted to that tenant plus cross-tenant
// assignments.
func (r *Repository) UserAssignments(ctx context.Context, userID, tenantID string) ([]Assignment, error) {
	query := `
		SELECT ur.id, ur.user_id, ur.role_id, ro.name, COALESCE(ur.tenant_id::text, ''),
		       ur.is_active, ur.expires_at, COALESCE(ur.context_type, ''), COALESCE(ur.context_id::text, ''), ur.created_at
		FROM user_roles ur
		JOIN roles ro ON ro.id = ur.role_id
		WHERE ur.user_id = $1
		  AND ur.is_active
		  AND (ur.expires_at IS NULL OR ur.expires_at > now())`
	args := []any{userID}
	if tenantID != "" {
		query += ` AND (ur.tenant_id = $2 OR ur.tenant_id IS NULL)`
		args = append(args, tenantID)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var assignments []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.ID, &a.UserID, &a.RoleID, &a.RoleName, &a.TenantID,
			&a.Active, &a.ExpiresAt, &a.ContextType, &a.ContextID, &a.CreatedAt); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// UserPermissions resolves the deduplicated permission set for a user through
// live role assignments and role grants, keeping the granting role name.
func (r *Repository) UserPermissions(ctx context.Context, userID, tenantID string) ([]UserPermission, error) {
	query := `
		SELECT DISTINCT p.name, ro.name
		FROM user_roles ur
		JOIN roles ro ON ro.id = ur.role_id
		JOIN role_permissions rp ON rp.role_id = ro.id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = $1
		  AND ur.is_active
		  AND (ur.expires_at IS NULL OR ur.expires_at > now())`
	args := []any{userID}
	if tenantID != "" {
		query += ` AND (ur.tenant_id = $2 OR ur.tenant_id IS NULL)`
		args = append(args, tenantID)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []UserPermission
	for rows.Next() {
		var p UserPermission
		if err := rows.Scan(&p.Name, &p.RoleName); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// GetRoleByName fetches a role by name, tenant-scoped roles first.
func (r *Repository) GetRoleByName(ctx context.Context, name RoleName) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, description, hierarchy_level, COALESCE(tenant_id::text, ''), created_at, updated_at
		FROM roles WHERE name = $1
		ORDER BY tenant_id NULLS LAST
		LIMIT 1`, string(name)).
		Scan(&role.ID, &role.Name, &role.Description, &role.HierarchyLevel, &role.TenantID, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, err
	}
	return role, nil
}

// AssignRole creates a live role assignment for the user.
func (r *Repository) AssignRole(ctx context.Context, a Assignment) (string, error) {
	var tenant any
	if a.TenantID != "" {
		tenant = a.TenantID
	}
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO user_roles (user_id, role_id, tenant_id, is_active, expires_at)
		VALUES ($1, $2, $3, true, $4)
		ON CONFLICT (user_id, role_id, tenant_id)
		DO UPDATE SET is_active = true, expires_at = EXCLUDED.expires_at
		RETURNING id`,
		a.UserID, a.RoleID, tenant, a.ExpiresAt).Scan(&id)
	return id, err
}

// RevokeRole deactivates an assignment rather than deleting it, preserving
// the assignment history.
func (r *Repository) RevokeRole(ctx context.Context, userID, roleID, tenantID string) error {
	query := `UPDATE user_roles SET is_active = false WHERE user_id = $1 AND role_id = $2`
	args := []any{userID, roleID}
	if tenantID != "" {
		query += ` AND tenant_id = $3`
		args = append(args, tenantID)
	}
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
