package filter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-hq/meridian/internal/rbac"
)

func user(role rbac.RoleName, projectIDs ...string) UserContext {
	return UserContext{UserID: "u1", Role: role, TenantID: "t1", ProjectIDs: projectIDs}
}

func render(t *testing.T, ctx UserContext, resource Resource) (string, []any) {
	t.Helper()
	return Apply(NewQuery(), ctx, resource).SQL(1)
}

func TestSuperAdminIsUnfiltered(t *testing.T) {
	for _, r := range AllResources() {
		frag, args := render(t, UserContext{UserID: "u1", Role: rbac.RoleSuperAdmin}, r)
		require.Empty(t, frag, "resource %s", r)
		require.Empty(t, args)
	}
}

func TestMissingTenantFailsClosed(t *testing.T) {
	frag, args := render(t, UserContext{UserID: "u1", Role: rbac.RoleTenantAdmin}, Tasks)
	require.Equal(t, "id = $1", frag)
	require.Equal(t, []any{SentinelID}, args)
	require.Equal(t, "00000000-0000-0000-0000-000000000000", SentinelID)
}

func TestTenantFilterComesFirst(t *testing.T) {
	for _, r := range AllResources() {
		frag, args := render(t, user(rbac.RoleEmployee), r)
		require.True(t, len(frag) > 0)
		require.Contains(t, frag, "tenant_id = $1")
		require.Equal(t, "t1", args[0], "resource %s", r)
		require.Equal(t, 0, strings.Index(frag, "tenant_id"), "tenant filter must lead for %s", r)
	}
}

func TestEmployeeSeesOwnTasksOnly(t *testing.T) {
	frag, args := render(t, user(rbac.RoleEmployee), Tasks)
	require.Equal(t, "tenant_id = $1 AND assignee_id = $2", frag)
	require.Equal(t, []any{"t1", "u1"}, args)
}

func TestProjectManagerSeesOwnOrProjectTasks(t *testing.T) {
	frag, args := render(t, user(rbac.RoleProjectManager, "p1", "p2"), Tasks)
	require.Equal(t, "tenant_id = $1 AND (assignee_id = $2 OR project_id IN ($3, $4))", frag)
	require.Equal(t, []any{"t1", "u1", "p1", "p2"}, args)
}

func TestProjectManagerWithoutProjectsFallsBackToOwnTasks(t *testing.T) {
	frag, args := render(t, user(rbac.RoleProjectManager), Tasks)
	require.Equal(t, "tenant_id = $1 AND assignee_id = $2", frag)
	require.Equal(t, []any{"t1", "u1"}, args)
}

func TestTeamLeadSeesProjectTasks(t *testing.T) {
	frag, args := render(t, user(rbac.RoleTeamLead, "p1"), Tasks)
	require.Equal(t, "tenant_id = $1 AND project_id IN ($2)", frag)
	require.Equal(t, []any{"t1", "p1"}, args)
}

func TestTenantAdminSeesAllTenantTasks(t *testing.T) {
	frag, args := render(t, user(rbac.RoleTenantAdmin), Tasks)
	require.Equal(t, "tenant_id = $1", frag)
	require.Equal(t, []any{"t1"}, args)
}

func TestViewerSeesOnlyMemberProjects(t *testing.T) {
	frag, _ := render(t, user(rbac.RoleViewer), Projects)
	require.Equal(t, "tenant_id = $1 AND id = $2", frag)

	frag, args := render(t, user(rbac.RoleViewer, "p1", "p2"), Projects)
	require.Equal(t, "tenant_id = $1 AND id IN ($2, $3)", frag)
	require.Equal(t, []any{"t1", "p1", "p2"}, args)
}

func TestEmployeeSeesOwnProfileOnly(t *testing.T) {
	frag, args := render(t, user(rbac.RoleEmployee), Employees)
	require.Equal(t, "tenant_id = $1 AND user_id = $2", frag)
	require.Equal(t, []any{"t1", "u1"}, args)
}

func TestContractorSeesNoEmployees(t *testing.T) {
	frag, args := render(t, user(rbac.RoleContractor), Employees)
	require.Equal(t, "tenant_id = $1 AND id = $2", frag)
	require.Equal(t, []any{"t1", SentinelID}, args)
}

func TestReferenceDataIsTenantScopedOnly(t *testing.T) {
	for _, r := range []Resource{Skills, Trainings, AbsenceTypes, WorkLocations, ExpenseCategories} {
		frag, args := render(t, user(rbac.RoleIntern), r)
		require.Equal(t, "tenant_id = $1", frag, "resource %s", r)
		require.Equal(t, []any{"t1"}, args)
	}
}

func TestManagerUnionForTeamScopedResources(t *testing.T) {
	for _, r := range []Resource{TrainingEnrollments, ExpenseReports, Timesheets, PerformanceGoals} {
		frag, args := render(t, user(rbac.RoleTeamLead), r)
		require.Equal(t,
			"tenant_id = $1 AND (employee_id = $2 OR employee_id IN (SELECT id FROM employees WHERE manager_id = $3))",
			frag, "resource %s", r)
		require.Equal(t, []any{"t1", "u1", "u1"}, args)
	}
}

func TestPayrollRunsDeniedOutsideAdminTier(t *testing.T) {
	for _, role := range []rbac.RoleName{rbac.RoleProjectManager, rbac.RoleEmployee, rbac.RoleViewer} {
		frag, args := render(t, user(role), PayrollRuns)
		require.Equal(t, "tenant_id = $1 AND id = $2", frag, "role %s", role)
		require.Equal(t, []any{"t1", SentinelID}, args)
	}

	frag, _ := render(t, user(rbac.RoleHRManager), PayrollRuns)
	require.Equal(t, "tenant_id = $1", frag)
}

func TestPerformanceReviewsIncludeReviewerRows(t *testing.T) {
	frag, args := render(t, user(rbac.RoleProjectManager), PerformanceReviews)
	require.Equal(t,
		"tenant_id = $1 AND (employee_id = $2 OR reviewer_id = $3 OR employee_id IN (SELECT id FROM employees WHERE manager_id = $4))",
		frag)
	require.Equal(t, []any{"t1", "u1", "u1", "u1"}, args)
}

func TestNotificationsAlwaysSelfScoped(t *testing.T) {
	for _, role := range []rbac.RoleName{rbac.RoleTenantAdmin, rbac.RoleHRManager, rbac.RoleViewer} {
		frag, args := render(t, user(role), Notifications)
		require.Equal(t, "tenant_id = $1 AND user_id = $2", frag, "role %s", role)
		require.Equal(t, []any{"t1", "u1"}, args)
	}
}

func TestOperationalResourcesScopeToOwnerAndAssignee(t *testing.T) {
	frag, _ := render(t, user(rbac.RoleEmployee), OperationalActivities)
	require.Equal(t, "tenant_id = $1 AND owner_id = $2", frag)

	frag, _ = render(t, user(rbac.RoleContractor), OperationalInstances)
	require.Equal(t, "tenant_id = $1 AND assigned_to_id = $2", frag)

	frag, _ = render(t, user(rbac.RoleTeamLead), OperationalActivities)
	require.Equal(t, "tenant_id = $1", frag)
}

func TestPlaceholderNumberingContinuesFromStart(t *testing.T) {
	q := Apply(NewQuery(), user(rbac.RoleProjectManager, "p1"), Tasks)
	frag, args := q.SQL(3)
	require.Equal(t, "tenant_id = $3 AND (assignee_id = $4 OR project_id IN ($5))", frag)
	require.Len(t, args, 3)
}

func TestCanAccessMatrix(t *testing.T) {
	require.True(t, CanAccess(rbac.RoleSuperAdmin, PayrollRuns))
	require.True(t, CanAccess(rbac.RoleHRManager, PayrollRuns))
	require.False(t, CanAccess(rbac.RoleEmployee, PayrollRuns))
	require.False(t, CanAccess(rbac.RoleViewer, Timesheets))
	require.True(t, CanAccess(rbac.RoleEmployee, Employees))
	require.False(t, CanAccess(rbac.RoleContractor, Employees))
	require.True(t, CanAccess(rbac.RoleViewer, Notifications))
}

func TestParseResourceRejectsUnknownNames(t *testing.T) {
	r, err := ParseResource("timesheets")
	require.NoError(t, err)
	require.Equal(t, Timesheets, r)

	_, err = ParseResource("secrets")
	require.Error(t, err)
}

func TestDescribe(t *testing.T) {
	require.Equal(t, "Payroll Runs: all rows across all tenants",
		Describe(UserContext{UserID: "u1", Role: rbac.RoleSuperAdmin}, PayrollRuns))
	require.Equal(t, "Tasks: no rows (no tenant context)",
		Describe(UserContext{UserID: "u1", Role: rbac.RoleEmployee}, Tasks))
	require.Contains(t,
		Describe(user(rbac.RoleEmployee), Tasks),
		"assignee_id")
	require.Contains(t,
		Describe(user(rbac.RoleViewer), PayrollRuns),
		"no rows")
}
