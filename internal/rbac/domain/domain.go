package domain

import "time"

// RoleName identifies one of the platform's built-in role bundles.
type RoleName string

// Built-in roles, ordered roughly by decreasing privilege.
const (
	RoleSuperAdmin     RoleName = "super_admin"
	RoleTenantAdmin    RoleName = "tenant_admin"
	RoleHRManager      RoleName = "hr_manager"
	RoleProjectManager RoleName = "project_manager"
	RoleTeamLead       RoleName = "team_lead"
	RoleEmployee       RoleName = "employee"
	RoleContractor     RoleName = "contractor"
	RoleIntern         RoleName = "intern"
	RoleViewer         RoleName = "viewer"
)

// AllRoles lists every known role.
func AllRoles() []RoleName {
	return []RoleName{
		RoleSuperAdmin,
		RoleTenantAdmin,
		RoleHRManager,
		RoleProjectManager,
		RoleTeamLead,
		RoleEmployee,
		RoleContractor,
		RoleIntern,
		RoleViewer,
	}
}

// Valid reports whether the role is one of the known bundles.
func (r RoleName) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleTenantAdmin, RoleHRManager, RoleProjectManager,
		RoleTeamLead, RoleEmployee, RoleContractor, RoleIntern, RoleViewer:
		return true
	}
	return false
}

// Role represents a named permission bundle. Reference data owned by Postgres.
type Role struct {
	ID             string
	Name           RoleName
	Description    string
	HierarchyLevel int
	TenantID       string // empty for platform-wide roles
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Permission represents an atomic capability.
type Permission struct {
	ID          string
	Name        string
	Description string
}

// Grant ties a permission to a role.
type Grant struct {
	RoleID       string
	PermissionID string
	CreatedAt    time.Time
}

// Assignment links a user to a role, optionally scoped to a tenant and to a
// narrower context such as a single project. An empty tenant is reserved for
// cross-tenant (super admin) assignments.
type Assignment struct {
	ID          string
	UserID      string
	RoleID      string
	RoleName    RoleName
	TenantID    string // empty means cross-tenant
	Active      bool
	ExpiresAt   *time.Time
	ContextType string
	ContextID   string
	CreatedAt   time.Time
}

// Live reports whether the assignment counts toward effective permissions:
// active and not expired.
func (a Assignment) Live(now time.Time) bool {
	if !a.Active {
		return false
	}
	if a.ExpiresAt != nil && !a.ExpiresAt.After(now) {
		return false
	}
	return true
}

// UserPermission is a permission resolved through a role grant, retaining the
// granting role for audit reasons.
type UserPermission struct {
	Name     string
	RoleName RoleName
}

// Core permission names referenced across the platform.
const (
	PermManageUsers   = "manage_users"
	PermManageRoles   = "manage_roles"
	PermViewReports   = "view_reports"
	PermManagePayroll = "manage_payroll"
	PermViewAuditLog  = "view_audit_log"
)

// Baseline permissions granted to every authenticated user regardless of role.
const (
	PermReadOwnProfile   = "read_own_profile"
	PermUpdateOwnProfile = "update_own_profile"
	PermReadOwnTasks     = "read_own_tasks"
)

// BaselinePermissions returns the allowlist applied to any authenticated user.
func BaselinePermissions() []string {
	return []string{PermReadOwnProfile, PermUpdateOwnProfile, PermReadOwnTasks}
}

// Contextual permissions evaluated against the request context rather than
// flat role membership.
const (
	PermEditProjectInTenant   = "edit_project_in_tenant"
	PermAssignTaskInProject   = "assign_task_in_project"
	PermViewEmployeeInTenant  = "view_employee_in_tenant"
	PermManageBudgetInProject = "manage_budget_in_project"
)

// Rank orders roles by privilege, higher is more privileged. Unknown roles
// rank below every built-in role.
func (r RoleName) Rank() int {
	switch r {
	case RoleSuperAdmin:
		return 9
	case RoleTenantAdmin:
		return 8
	case RoleHRManager:
		return 7
	case RoleProjectManager:
		return 6
	case RoleTeamLead:
		return 5
	case RoleEmployee:
		return 4
	case RoleContractor:
		return 3
	case RoleIntern:
		return 2
	case RoleViewer:
		return 1
	}
	return 0
}

// HighestRole picks the most privileged role among live assignments, falling
// back to viewer when the user holds none.
func HighestRole(assignments []Assignment, now time.Time) RoleName {
	best := RoleViewer
	for _, a := range assignments {
		if a.Live(now) && a.RoleName.Rank() > best.Rank() {
			best = a.RoleName
		}
	}
	return best
}
