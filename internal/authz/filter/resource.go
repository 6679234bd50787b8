package filter

import (
	"fmt"

	"github.com/meridian-hq/meridian/internal/rbac"
)

// Resource names a filterable table. The set is closed: adding a resource
// without a narrowing case in Apply is a compile-visible omission, not a
// silent fallthrough.
type Resource string

// Filterable resources.
const (
	Tasks                 Resource = "tasks"
	Projects              Resource = "projects"
	Employees             Resource = "employees"
	LeaveRequests         Resource = "leave_requests"
	Skills                Resource = "skills"
	Trainings             Resource = "trainings"
	TrainingEnrollments   Resource = "training_enrollments"
	ExpenseReports        Resource = "expense_reports"
	ExpenseCategories     Resource = "expense_categories"
	Timesheets            Resource = "timesheets"
	Attendances           Resource = "attendances"
	AbsenceTypes          Resource = "absence_types"
	WorkLocations         Resource = "work_locations"
	OperationalActivities Resource = "operational_activities"
	OperationalInstances  Resource = "operational_instances"
	PayrollRuns           Resource = "payroll_runs"
	PayrollItems          Resource = "payroll_items"
	PerformanceReviews    Resource = "performance_reviews"
	PerformanceGoals      Resource = "performance_goals"
	Notifications         Resource = "notifications"
)

// AllResources lists every filterable resource.
func AllResources() []Resource {
	return []Resource{
		Tasks, Projects, Employees, LeaveRequests, Skills, Trainings,
		TrainingEnrollments, ExpenseReports, ExpenseCategories, Timesheets,
		Attendances, AbsenceTypes, WorkLocations, OperationalActivities,
		OperationalInstances, PayrollRuns, PayrollItems, PerformanceReviews,
		PerformanceGoals, Notifications,
	}
}

// ParseResource validates a resource name from an untrusted source.
func ParseResource(name string) (Resource, error) {
	for _, r := range AllResources() {
		if string(r) == name {
			return r, nil
		}
	}
	return "", fmt.Errorf("filter: unknown resource %q", name)
}

var everyRole = rbac.AllRoles()

var adminAndHR = []rbac.RoleName{rbac.RoleSuperAdmin, rbac.RoleTenantAdmin, rbac.RoleHRManager}

var selfServiceRoles = []rbac.RoleName{
	rbac.RoleSuperAdmin, rbac.RoleTenantAdmin, rbac.RoleHRManager,
	rbac.RoleProjectManager, rbac.RoleTeamLead, rbac.RoleEmployee,
	rbac.RoleContractor, rbac.RoleIntern,
}

// accessMatrix answers the coarse "is this resource in scope for this role's
// navigation at all" question, independent of row-level narrowing.
var accessMatrix = map[Resource][]rbac.RoleName{
	Tasks:    everyRole,
	Projects: everyRole,
	Employees: {
		rbac.RoleSuperAdmin, rbac.RoleTenantAdmin, rbac.RoleHRManager,
		rbac.RoleEmployee, // an employee may view their own profile
	},
	LeaveRequests: {
		rbac.RoleSuperAdmin, rbac.RoleTenantAdmin, rbac.RoleHRManager,
		rbac.RoleProjectManager, rbac.RoleTeamLead, rbac.RoleEmployee,
	},
	Skills:                everyRole,
	Trainings:             everyRole,
	TrainingEnrollments:   selfServiceRoles,
	ExpenseReports:        selfServiceRoles,
	ExpenseCategories:     everyRole,
	Timesheets:            selfServiceRoles,
	Attendances:           selfServiceRoles,
	AbsenceTypes:          everyRole,
	WorkLocations:         everyRole,
	OperationalActivities: everyRole,
	OperationalInstances:  everyRole,
	PayrollRuns:           adminAndHR,
	PayrollItems:          selfServiceRoles,
	PerformanceReviews:    selfServiceRoles,
	PerformanceGoals:      selfServiceRoles,
	Notifications:         everyRole,
}

// CanAccess reports whether the role may see the resource's section at all.
// What rows are visible within it is decided by Apply.
func CanAccess(role rbac.RoleName, resource Resource) bool {
	for _, r := range accessMatrix[resource] {
		if r == role {
			return true
		}
	}
	return false
}
