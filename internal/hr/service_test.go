package hr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-hq/meridian/internal/authz"
	"github.com/meridian-hq/meridian/internal/authz/filter"
	"github.com/meridian-hq/meridian/internal/rbac"
	"github.com/meridian-hq/meridian/internal/shared"
)

type stubRepo struct {
	employees map[string]Employee
	byUser    map[string]Employee
	leaves    map[string]LeaveRequest
	lastVis   *filter.Query
	created   *LeaveRequest
	decisions []string
	getCalls  int
}

func (s *stubRepo) ListEmployees(ctx context.Context, vis *filter.Query, limit, offset int) ([]Employee, int, error) {
	s.lastVis = vis
	return nil, 0, nil
}

func (s *stubRepo) GetEmployee(ctx context.Context, id string, vis *filter.Query) (Employee, error) {
	s.lastVis = vis
	s.getCalls++
	e, ok := s.employees[id]
	if !ok {
		return Employee{}, shared.ErrNotFound
	}
	// Honor the row filter the way the database would.
	frag, args := vis.SQL(1)
	switch frag {
	case "tenant_id = $1 AND user_id = $2":
		if e.UserID != args[1] {
			return Employee{}, shared.ErrNotFound
		}
	case "tenant_id = $1 AND id = $2":
		if e.ID != args[1] {
			return Employee{}, shared.ErrNotFound
		}
	}
	return e, nil
}

func (s *stubRepo) EmployeeByUser(ctx context.Context, userID, tenantID string) (Employee, error) {
	e, ok := s.byUser[userID]
	if !ok {
		return Employee{}, shared.ErrNotFound
	}
	return e, nil
}

func (s *stubRepo) ListLeaveRequests(ctx context.Context, vis *filter.Query) ([]LeaveRequest, error) {
	s.lastVis = vis
	return nil, nil
}

func (s *stubRepo) GetLeaveRequest(ctx context.Context, id string, vis *filter.Query) (LeaveRequest, error) {
	s.lastVis = vis
	lr, ok := s.leaves[id]
	if !ok {
		return LeaveRequest{}, shared.ErrNotFound
	}
	return lr, nil
}

func (s *stubRepo) CreateLeaveRequest(ctx context.Context, lr LeaveRequest) (LeaveRequest, error) {
	lr.ID = "leave-1"
	s.created = &lr
	return lr, nil
}

func (s *stubRepo) DecideLeaveRequest(ctx context.Context, id string, status LeaveStatus, deciderID string) error {
	s.decisions = append(s.decisions, id+":"+string(status)+":"+deciderID)
	return nil
}

type stubAuthorizer struct {
	granted bool
	reason  string
	calls   int
}

func (s *stubAuthorizer) Evaluate(ctx context.Context, userID, permission string, evalCtx authz.Context) authz.Evaluation {
	s.calls++
	return authz.Evaluation{Granted: s.granted, Reason: s.reason, Permission: permission}
}

func principal(role rbac.RoleName) shared.Principal {
	return shared.Principal{UserID: "u1", TenantID: "t1", Role: role}
}

func TestListEmployeesSelfScopeForEmployeeRole(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, &stubAuthorizer{granted: true})

	_, _, err := svc.ListEmployees(context.Background(), principal(rbac.RoleEmployee), 20, 0)
	require.NoError(t, err)

	frag, args := repo.lastVis.SQL(1)
	require.Equal(t, "tenant_id = $1 AND user_id = $2", frag)
	require.Equal(t, []any{"t1", "u1"}, args)
}

func TestGetEmployeeContextualGrantWidensToTenant(t *testing.T) {
	repo := &stubRepo{employees: map[string]Employee{
		"e2": {ID: "e2", TenantID: "t1", UserID: "u2", FullName: "Other Person"},
	}}
	auth := &stubAuthorizer{granted: true}
	svc := NewService(repo, auth)

	emp, err := svc.GetEmployee(context.Background(), principal(rbac.RoleTeamLead), "e2")
	require.NoError(t, err)
	require.Equal(t, "e2", emp.ID)
	require.Equal(t, 1, auth.calls)
	require.Equal(t, 2, repo.getCalls)
}

func TestGetEmployeeDeniedStaysHidden(t *testing.T) {
	repo := &stubRepo{employees: map[string]Employee{
		"e2": {ID: "e2", TenantID: "t1", UserID: "u2"},
	}}
	svc := NewService(repo, &stubAuthorizer{granted: false, reason: "no grant"})

	_, err := svc.GetEmployee(context.Background(), principal(rbac.RoleEmployee), "e2")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRequestLeaveStampsRequester(t *testing.T) {
	repo := &stubRepo{byUser: map[string]Employee{
		"u1": {ID: "e1", TenantID: "t1", UserID: "u1"},
	}}
	svc := NewService(repo, &stubAuthorizer{granted: true})

	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	created, err := svc.RequestLeave(context.Background(), principal(rbac.RoleEmployee), LeaveRequest{
		Type:      "vacation",
		StartDate: start,
		EndDate:   start.AddDate(0, 0, 4),
	})
	require.NoError(t, err)
	require.Equal(t, "t1", created.TenantID)
	require.Equal(t, "u1", created.EmployeeID)
	require.Equal(t, LeaveStatusPending, created.Status)
}

func TestRequestLeaveWithoutEmployeeRecordFails(t *testing.T) {
	svc := NewService(&stubRepo{}, &stubAuthorizer{granted: true})

	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	_, err := svc.RequestLeave(context.Background(), principal(rbac.RoleEmployee), LeaveRequest{
		Type:      "vacation",
		StartDate: start,
		EndDate:   start,
	})
	require.Error(t, err)
}

func TestDecideLeaveRequiresGrant(t *testing.T) {
	repo := &stubRepo{leaves: map[string]LeaveRequest{
		"leave-1": {ID: "leave-1", TenantID: "t1", EmployeeID: "u2", Status: LeaveStatusPending},
	}}
	auth := &stubAuthorizer{granted: false, reason: "Permission 'approve_leaves' not granted for this role/context"}
	svc := NewService(repo, auth)

	err := svc.DecideLeave(context.Background(), principal(rbac.RoleHRManager), "leave-1", LeaveStatusApproved)
	var denied ErrDenied
	require.ErrorAs(t, err, &denied)
	require.Empty(t, repo.decisions)
}

func TestDecideLeaveRecordsDecider(t *testing.T) {
	repo := &stubRepo{leaves: map[string]LeaveRequest{
		"leave-1": {ID: "leave-1", TenantID: "t1", EmployeeID: "u2", Status: LeaveStatusPending},
	}}
	svc := NewService(repo, &stubAuthorizer{granted: true})

	err := svc.DecideLeave(context.Background(), principal(rbac.RoleHRManager), "leave-1", LeaveStatusRejected)
	require.NoError(t, err)
	require.Equal(t, []string{"leave-1:rejected:u1"}, repo.decisions)
}

func TestDecideLeaveRejectsPendingState(t *testing.T) {
	svc := NewService(&stubRepo{}, &stubAuthorizer{granted: true})

	err := svc.DecideLeave(context.Background(), principal(rbac.RoleHRManager), "leave-1", LeaveStatusPending)
	require.Error(t, err)
}
