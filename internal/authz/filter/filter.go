// Package filter narrows outgoing reads to the rows the caller's role is
// entitled to see. It is the client-side mirror of the row-level security
// policies enforced in Postgres: defense in depth and a way to keep result
// sets honest in the UI, never the security boundary itself.
package filter

import (
	"github.com/google/uuid"

	"github.com/meridian-hq/meridian/internal/rbac"
)

// SentinelID is an impossible row id. Constraining on it guarantees an empty
// result, the fail-closed answer when tenant context is missing.
var SentinelID = uuid.Nil.String()

// UserContext identifies the caller for filtering purposes.
type UserContext struct {
	UserID     string
	Role       rbac.RoleName
	TenantID   string // empty means no tenant resolved
	ProjectIDs []string
}

// Apply rewrites q so only rows visible to the caller are requested.
//
// Super admins see everything, cross-tenant. Any other role without a tenant
// id gets the sentinel filter: a misconfigured caller must see zero rows, not
// an unfiltered table. Everyone else is constrained to their tenant first,
// then narrowed per resource and role.
func Apply(q *Query, ctx UserContext, resource Resource) *Query {
	if ctx.Role == rbac.RoleSuperAdmin {
		return q
	}
	if ctx.TenantID == "" {
		return q.Where(Eq("id", SentinelID))
	}
	q.Where(Eq("tenant_id", ctx.TenantID))
	return narrow(q, ctx, resource)
}

// narrow is the (role x resource) visibility table. Every resource has an
// explicit case; the default branch keeps the tenant-scoped query unchanged,
// which callers must read as "narrowing not implemented", not "open access".
func narrow(q *Query, ctx UserContext, resource Resource) *Query {
	switch resource {
	case Tasks:
		switch ctx.Role {
		case rbac.RoleTenantAdmin, rbac.RoleHRManager:
			return q
		case rbac.RoleProjectManager:
			// Tasks in managed projects, plus tasks assigned directly.
			if len(ctx.ProjectIDs) > 0 {
				return q.Where(Or(Eq("assignee_id", ctx.UserID), In("project_id", ctx.ProjectIDs)))
			}
			return q.Where(Eq("assignee_id", ctx.UserID))
		case rbac.RoleTeamLead:
			if len(ctx.ProjectIDs) > 0 {
				return q.Where(In("project_id", ctx.ProjectIDs))
			}
			return q.Where(Eq("assignee_id", ctx.UserID))
		default:
			return q.Where(Eq("assignee_id", ctx.UserID))
		}

	case Projects:
		switch ctx.Role {
		case rbac.RoleTenantAdmin, rbac.RoleHRManager, rbac.RoleProjectManager:
			return q
		default:
			// Membership only; no memberships means no projects.
			if len(ctx.ProjectIDs) > 0 {
				return q.Where(In("id", ctx.ProjectIDs))
			}
			return q.Where(Eq("id", SentinelID))
		}

	case Employees:
		switch ctx.Role {
		case rbac.RoleTenantAdmin, rbac.RoleHRManager:
			return q
		case rbac.RoleEmployee:
			// Their own HR profile only.
			return q.Where(Eq("user_id", ctx.UserID))
		default:
			return q.Where(Eq("id", SentinelID))
		}

	case LeaveRequests:
		switch ctx.Role {
		case rbac.RoleTenantAdmin, rbac.RoleHRManager:
			return q
		case rbac.RoleProjectManager, rbac.RoleTeamLead, rbac.RoleEmployee:
			return q.Where(Eq("employee_id", ctx.UserID))
		default:
			return q.Where(Eq("id", SentinelID))
		}

	case Skills, Trainings, AbsenceTypes, WorkLocations, ExpenseCategories:
		// Reference data: visible to every role within the tenant.
		return q

	case TrainingEnrollments, ExpenseReports, Timesheets, PerformanceGoals:
		switch ctx.Role {
		case rbac.RoleTenantAdmin, rbac.RoleHRManager:
			return q
		case rbac.RoleProjectManager, rbac.RoleTeamLead:
			return q.Where(ownOrManaged("employee_id", ctx.UserID))
		default:
			return q.Where(Eq("employee_id", ctx.UserID))
		}

	case Attendances, PayrollItems:
		switch ctx.Role {
		case rbac.RoleTenantAdmin, rbac.RoleHRManager:
			return q
		default:
			return q.Where(Eq("employee_id", ctx.UserID))
		}

	case OperationalActivities:
		switch ctx.Role {
		case rbac.RoleTenantAdmin, rbac.RoleHRManager, rbac.RoleProjectManager, rbac.RoleTeamLead:
			return q
		default:
			return q.Where(Eq("owner_id", ctx.UserID))
		}

	case OperationalInstances:
		switch ctx.Role {
		case rbac.RoleTenantAdmin, rbac.RoleHRManager, rbac.RoleProjectManager, rbac.RoleTeamLead:
			return q
		default:
			return q.Where(Eq("assigned_to_id", ctx.UserID))
		}

	case PayrollRuns:
		switch ctx.Role {
		case rbac.RoleTenantAdmin, rbac.RoleHRManager:
			return q
		default:
			return q.Where(Eq("id", SentinelID))
		}

	case PerformanceReviews:
		switch ctx.Role {
		case rbac.RoleTenantAdmin, rbac.RoleHRManager:
			return q
		case rbac.RoleProjectManager, rbac.RoleTeamLead:
			return q.Where(Or(
				Eq("employee_id", ctx.UserID),
				Eq("reviewer_id", ctx.UserID),
				managedTeam("employee_id", ctx.UserID),
			))
		default:
			return q.Where(Eq("employee_id", ctx.UserID))
		}

	case Notifications:
		// Always self-scoped, admin tier included.
		return q.Where(Eq("user_id", ctx.UserID))
	}

	return q
}

// ownOrManaged matches rows belonging to the caller or to anyone reporting
// to them.
func ownOrManaged(column, userID string) Cond {
	return Or(Eq(column, userID), managedTeam(column, userID))
}

func managedTeam(column, userID string) Cond {
	return InSubquery(column, "SELECT id FROM employees WHERE manager_id = ?", userID)
}
