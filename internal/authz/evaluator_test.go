package authz

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-hq/meridian/internal/rbac"
)

type stubDirectory struct {
	assignments []rbac.Assignment
	perms       []rbac.UserPermission
	rolesErr    error
	permsErr    error
	roleCalls   int
	permCalls   int
}

func (s *stubDirectory) Roles(ctx context.Context, userID, tenantID string) ([]rbac.Assignment, error) {
	s.roleCalls++
	return s.assignments, s.rolesErr
}

func (s *stubDirectory) Permissions(ctx context.Context, userID, tenantID string) ([]rbac.UserPermission, error) {
	s.permCalls++
	return s.perms, s.permsErr
}

func assignment(role rbac.RoleName, tenantID string) rbac.Assignment {
	return rbac.Assignment{UserID: "u1", RoleName: role, TenantID: tenantID, Active: true}
}

func newTestEvaluator(dir Directory) *Evaluator {
	return NewEvaluator(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSuperAdminGrantsAnyPermissionInAnyContext(t *testing.T) {
	dir := &stubDirectory{assignments: []rbac.Assignment{assignment(rbac.RoleSuperAdmin, "")}}
	e := newTestEvaluator(dir)

	contexts := []Context{
		{},
		{TenantID: "t1"},
		{TenantID: "t2", Resource: "payroll_runs", Action: "delete"},
	}
	for _, evalCtx := range contexts {
		for _, perm := range []string{"manage_users", "delete_payroll_runs", "anything_at_all"} {
			eval := e.Evaluate(context.Background(), "u1", perm, evalCtx)
			require.True(t, eval.Granted, "permission %s", perm)
			require.Equal(t, "Super Admin - full access", eval.Reason)
			require.Contains(t, eval.AppliedRules, "SUPER_ADMIN_RULE")
		}
	}
}

func TestExplicitPermissionNamesGrantingRole(t *testing.T) {
	dir := &stubDirectory{
		assignments: []rbac.Assignment{assignment(rbac.RoleHRManager, "t1")},
		perms:       []rbac.UserPermission{{Name: "manage_payroll", RoleName: rbac.RoleHRManager}},
	}
	e := newTestEvaluator(dir)

	eval := e.Evaluate(context.Background(), "u1", "manage_payroll", Context{TenantID: "t1"})
	require.True(t, eval.Granted)
	require.Contains(t, eval.Reason, "manage_payroll")
	require.Contains(t, eval.AppliedRules, "EXPLICIT_PERMISSION")
}

func TestDefaultDenyReason(t *testing.T) {
	dir := &stubDirectory{assignments: []rbac.Assignment{assignment(rbac.RoleViewer, "t1")}}
	e := newTestEvaluator(dir)

	eval := e.Evaluate(context.Background(), "u1", "manage_payroll", Context{TenantID: "t1"})
	require.False(t, eval.Granted)
	require.Equal(t, "Permission 'manage_payroll' not granted for this role/context", eval.Reason)
}

func TestBaselinePermissionsForAuthenticatedUsers(t *testing.T) {
	dir := &stubDirectory{assignments: []rbac.Assignment{assignment(rbac.RoleIntern, "t1")}}
	e := newTestEvaluator(dir)

	for _, perm := range rbac.BaselinePermissions() {
		eval := e.Evaluate(context.Background(), "u1", perm, Context{TenantID: "t1"})
		require.True(t, eval.Granted, "permission %s", perm)
		require.Contains(t, eval.AppliedRules, "AUTHENTICATED_USER_RULE")
	}
}

func TestContextualTenantPermission(t *testing.T) {
	dir := &stubDirectory{assignments: []rbac.Assignment{assignment(rbac.RoleEmployee, "t1")}}
	e := newTestEvaluator(dir)

	granted := e.Evaluate(context.Background(), "u1", rbac.PermEditProjectInTenant, Context{TenantID: "t1"})
	require.True(t, granted.Granted)
	require.Contains(t, granted.AppliedRules, "CONTEXTUAL_TENANT_PERMISSION")

	denied := e.Evaluate(context.Background(), "u1", rbac.PermEditProjectInTenant, Context{TenantID: "t2"})
	require.False(t, denied.Granted)
}

func TestContextualProjectManagerPermission(t *testing.T) {
	dir := &stubDirectory{assignments: []rbac.Assignment{assignment(rbac.RoleProjectManager, "t1")}}
	e := newTestEvaluator(dir)

	eval := e.Evaluate(context.Background(), "u1", rbac.PermAssignTaskInProject, Context{TenantID: "t1", ProjectID: "p1"})
	require.True(t, eval.Granted)
	require.Contains(t, eval.AppliedRules, "CONTEXTUAL_PROJECT_MANAGER_PERMISSION")
}

func TestCustomRuleDenyAppliesWhenNoExplicitGrant(t *testing.T) {
	dir := &stubDirectory{assignments: []rbac.Assignment{assignment(rbac.RoleContractor, "t1")}}
	e := newTestEvaluator(dir)
	e.AddRule(Rule{
		ID:       "deny-contractor-exports",
		Name:     "Contractors cannot export",
		Effect:   Deny,
		Priority: 10,
		Conditions: []Condition{
			RoleCondition{Op: OpContains, Role: rbac.RoleContractor},
			PermissionCondition{Op: OpStartsWith, Value: "export_"},
		},
	})

	eval := e.Evaluate(context.Background(), "u1", "export_timesheets", Context{TenantID: "t1"})
	require.False(t, eval.Granted)
	require.Contains(t, eval.AppliedRules, "deny-contractor-exports")
}

func TestHigherPriorityRuleWinsFirst(t *testing.T) {
	dir := &stubDirectory{assignments: []rbac.Assignment{assignment(rbac.RoleEmployee, "t1")}}
	e := newTestEvaluator(dir)
	e.AddRule(Rule{
		ID: "low-allow", Name: "low allow", Effect: Allow, Priority: 1,
		Conditions: []Condition{PermissionCondition{Op: OpEquals, Value: "export_reports"}},
	})
	e.AddRule(Rule{
		ID: "high-deny", Name: "high deny", Effect: Deny, Priority: 100,
		Conditions: []Condition{PermissionCondition{Op: OpEquals, Value: "export_reports"}},
	})

	eval := e.Evaluate(context.Background(), "u1", "export_reports", Context{TenantID: "t1"})
	require.False(t, eval.Granted)
	require.Equal(t, []string{"high-deny"}, eval.AppliedRules)
}

// Custom rules are evaluated after explicit grants, so a deny rule does not
// override a permission the user's role already confers. This is the
// documented precedence, asserted as-is.
func TestCustomDenyDoesNotOverrideExplicitGrant(t *testing.T) {
	dir := &stubDirectory{
		assignments: []rbac.Assignment{assignment(rbac.RoleHRManager, "t1")},
		perms:       []rbac.UserPermission{{Name: "view_reports", RoleName: rbac.RoleHRManager}},
	}
	e := newTestEvaluator(dir)
	e.AddRule(Rule{
		ID: "deny-reports", Name: "deny reports", Effect: Deny, Priority: 1000,
		Conditions: []Condition{PermissionCondition{Op: OpEquals, Value: "view_reports"}},
	})

	eval := e.Evaluate(context.Background(), "u1", "view_reports", Context{TenantID: "t1"})
	require.True(t, eval.Granted)
	require.Contains(t, eval.AppliedRules, "EXPLICIT_PERMISSION")
}

func TestEvaluationCachedAndAuditedOncePerFreshResult(t *testing.T) {
	dir := &stubDirectory{assignments: []rbac.Assignment{assignment(rbac.RoleEmployee, "t1")}}
	e := newTestEvaluator(dir)

	first := e.Evaluate(context.Background(), "u1", "view_reports", Context{TenantID: "t1"})
	second := e.Evaluate(context.Background(), "u1", "view_reports", Context{TenantID: "t1"})

	require.Equal(t, first.Granted, second.Granted)
	require.Equal(t, first.Reason, second.Reason)
	require.Equal(t, 1, dir.roleCalls)
	require.Equal(t, 1, e.Stats().AuditLogSize)
}

func TestResolutionErrorDegradesToDeny(t *testing.T) {
	dir := &stubDirectory{rolesErr: errors.New("connection refused")}
	e := newTestEvaluator(dir)

	eval := e.Evaluate(context.Background(), "u1", "view_reports", Context{TenantID: "t1"})
	require.False(t, eval.Granted)
	require.Contains(t, eval.Reason, "connection refused")
	// The failure is audited and cached like any other result.
	require.Equal(t, 1, e.Stats().AuditLogSize)
	e.Evaluate(context.Background(), "u1", "view_reports", Context{TenantID: "t1"})
	require.Equal(t, 1, dir.roleCalls)
}

func TestInvalidateUserDropsOnlyCachedEvaluations(t *testing.T) {
	dir := &stubDirectory{assignments: []rbac.Assignment{assignment(rbac.RoleEmployee, "t1")}}
	e := newTestEvaluator(dir)

	e.Evaluate(context.Background(), "u1", "view_reports", Context{TenantID: "t1"})
	e.InvalidateUser("u1")
	e.Evaluate(context.Background(), "u1", "view_reports", Context{TenantID: "t1"})

	require.Equal(t, 2, dir.roleCalls)
	require.Equal(t, 2, e.Stats().AuditLogSize)
}

func TestCanDerivesPermissionFromActionAndResource(t *testing.T) {
	dir := &stubDirectory{
		assignments: []rbac.Assignment{assignment(rbac.RoleTeamLead, "t1")},
		perms:       []rbac.UserPermission{{Name: "approve_timesheets", RoleName: rbac.RoleTeamLead}},
	}
	e := newTestEvaluator(dir)

	require.True(t, e.Can(context.Background(), "u1", "approve", "timesheets", Context{TenantID: "t1"}))
	require.False(t, e.Can(context.Background(), "u1", "delete", "timesheets", Context{TenantID: "t1"}))
}

func TestStatsCountsRulesAndRecentEvaluations(t *testing.T) {
	dir := &stubDirectory{assignments: []rbac.Assignment{assignment(rbac.RoleEmployee, "t1")}}
	e := newTestEvaluator(dir)
	e.AddRule(Rule{ID: "r1", Name: "r1", Effect: Allow, Priority: 1,
		Conditions: []Condition{ActionCondition{Op: OpEquals, Value: "read"}}})

	e.Evaluate(context.Background(), "u1", "view_reports", Context{TenantID: "t1"})
	stats := e.Stats()
	require.Equal(t, 1, stats.CustomRuleCount)
	require.Equal(t, 1, stats.EvaluationCacheSize)
	require.Equal(t, 1, stats.RecentEvaluations)
}
