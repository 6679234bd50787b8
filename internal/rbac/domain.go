package rbac

import (
	"time"

	"github.com/meridian-hq/meridian/internal/rbac/domain"
)

// The domain types live in the leaf package internal/rbac/domain so that
// internal/rbac/cache can share them without importing this package (which
// itself depends on the cache). The aliases below keep rbac's surface
// unchanged for every other caller.

// RoleName identifies one of the platform's built-in role bundles.
type RoleName = domain.RoleName

// Built-in roles, ordered roughly by decreasing privilege.
const (
	RoleSuperAdmin     = domain.RoleSuperAdmin
	RoleTenantAdmin    = domain.RoleTenantAdmin
	RoleHRManager      = domain.RoleHRManager
	RoleProjectManager = domain.RoleProjectManager
	RoleTeamLead       = domain.RoleTeamLead
	RoleEmployee       = domain.RoleEmployee
	RoleContractor     = domain.RoleContractor
	RoleIntern         = domain.RoleIntern
	RoleViewer         = domain.RoleViewer
)

// AllRoles lists every known role.
func AllRoles() []RoleName { return domain.AllRoles() }

// Role represents a named permission bundle. Reference data owned by Postgres.
type Role = domain.Role

// Permission represents an atomic capability.
type Permission = domain.Permission

// Grant ties a permission to a role.
type Grant = domain.Grant

// Assignment links a user to a role, optionally scoped to a tenant and to a
// narrower context such as a single project. An empty tenant is reserved for
// cross-tenant (super admin) assignments.
type Assignment = domain.Assignment

// UserPermission is a permission resolved through a role grant, retaining the
// granting role for audit reasons.
type UserPermission = domain.UserPermission

// Core permission names referenced across the platform.
const (
	PermManageUsers   = domain.PermManageUsers
	PermManageRoles   = domain.PermManageRoles
	PermViewReports   = domain.PermViewReports
	PermManagePayroll = domain.PermManagePayroll
	PermViewAuditLog  = domain.PermViewAuditLog
)

// Baseline permissions granted to every authenticated user regardless of role.
const (
	PermReadOwnProfile   = domain.PermReadOwnProfile
	PermUpdateOwnProfile = domain.PermUpdateOwnProfile
	PermReadOwnTasks     = domain.PermReadOwnTasks
)

// BaselinePermissions returns the allowlist applied to any authenticated user.
func BaselinePermissions() []string { return domain.BaselinePermissions() }

// Contextual permissions evaluated against the request context rather than
// flat role membership.
const (
	PermEditProjectInTenant   = domain.PermEditProjectInTenant
	PermAssignTaskInProject   = domain.PermAssignTaskInProject
	PermViewEmployeeInTenant  = domain.PermViewEmployeeInTenant
	PermManageBudgetInProject = domain.PermManageBudgetInProject
)

// HighestRole picks the most privileged role among live assignments, falling
// back to viewer when the user holds none.
func HighestRole(assignments []Assignment, now time.Time) RoleName {
	return domain.HighestRole(assignments, now)
}
