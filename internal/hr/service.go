package hr

import (
	"context"
	"fmt"

	"github.com/meridian-hq/meridian/internal/authz"
	"github.com/meridian-hq/meridian/internal/authz/filter"
	"github.com/meridian-hq/meridian/internal/rbac"
	"github.com/meridian-hq/meridian/internal/shared"
)

// ErrDenied wraps an authorization denial with the evaluator's reason.
type ErrDenied struct {
	Reason string
}

func (e ErrDenied) Error() string { return "hr: " + e.Reason }

// RepositoryPort defines data access methods for HR records.
type RepositoryPort interface {
	ListEmployees(ctx context.Context, vis *filter.Query, limit, offset int) ([]Employee, int, error)
	GetEmployee(ctx context.Context, id string, vis *filter.Query) (Employee, error)
	EmployeeByUser(ctx context.Context, userID, tenantID string) (Employee, error)
	ListLeaveRequests(ctx context.Context, vis *filter.Query) ([]LeaveRequest, error)
	GetLeaveRequest(ctx context.Context, id string, vis *filter.Query) (LeaveRequest, error)
	CreateLeaveRequest(ctx context.Context, lr LeaveRequest) (LeaveRequest, error)
	DecideLeaveRequest(ctx context.Context, id string, status LeaveStatus, deciderID string) error
}

// Authorizer evaluates permissions, normally the shared evaluator.
type Authorizer interface {
	Evaluate(ctx context.Context, userID, permission string, evalCtx authz.Context) authz.Evaluation
}

// Service handles HR business logic.
type Service struct {
	repo  RepositoryPort
	authz Authorizer
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, a Authorizer) *Service {
	return &Service{repo: repo, authz: a}
}

func visibility(p shared.Principal, res filter.Resource) *filter.Query {
	return filter.Apply(filter.NewQuery(), filter.UserContext{
		UserID:     p.UserID,
		Role:       p.Role,
		TenantID:   p.TenantID,
		ProjectIDs: p.ProjectIDs,
	}, res)
}

// ListEmployees returns the employees visible to the principal.
func (s *Service) ListEmployees(ctx context.Context, p shared.Principal, limit, offset int) ([]Employee, int, error) {
	return s.repo.ListEmployees(ctx, visibility(p, filter.Employees), limit, offset)
}

// GetEmployee fetches one employee record. Roles outside the admin tier can
// still read any employee in their tenant when the contextual
// view_employee_in_tenant permission grants it.
func (s *Service) GetEmployee(ctx context.Context, p shared.Principal, id string) (Employee, error) {
	emp, err := s.repo.GetEmployee(ctx, id, visibility(p, filter.Employees))
	if err == nil {
		return emp, nil
	}
	if p.TenantID == "" {
		return Employee{}, err
	}
	eval := s.authz.Evaluate(ctx, p.UserID, rbac.PermViewEmployeeInTenant, authz.Context{
		TenantID: p.TenantID,
		Action:   "read",
		Resource: "employees",
	})
	if !eval.Granted {
		return Employee{}, err
	}
	return s.repo.GetEmployee(ctx, id, tenantOnly(p.TenantID))
}

func tenantOnly(tenantID string) *filter.Query {
	return filter.NewQuery().Where(filter.Eq("tenant_id", tenantID))
}

// ListLeaveRequests returns the leave requests visible to the principal.
func (s *Service) ListLeaveRequests(ctx context.Context, p shared.Principal) ([]LeaveRequest, error) {
	return s.repo.ListLeaveRequests(ctx, visibility(p, filter.LeaveRequests))
}

// RequestLeave files a pending leave request for the principal's own
// employee record.
func (s *Service) RequestLeave(ctx context.Context, p shared.Principal, lr LeaveRequest) (LeaveRequest, error) {
	if p.TenantID == "" {
		return LeaveRequest{}, shared.ErrNoTenant
	}
	if !lr.EndDate.After(lr.StartDate) && !lr.EndDate.Equal(lr.StartDate) {
		return LeaveRequest{}, fmt.Errorf("hr: leave end date precedes start date")
	}
	// Leave rows carry the employee's user id so the row filter can match
	// them without a join, but filing still requires an HR record.
	if _, err := s.repo.EmployeeByUser(ctx, p.UserID, p.TenantID); err != nil {
		return LeaveRequest{}, fmt.Errorf("hr: no employee record for requester: %w", err)
	}
	lr.TenantID = p.TenantID
	lr.EmployeeID = p.UserID
	lr.Status = LeaveStatusPending
	created, err := s.repo.CreateLeaveRequest(ctx, lr)
	if err != nil {
		return LeaveRequest{}, fmt.Errorf("hr: create leave request: %w", err)
	}
	return created, nil
}

// DecideLeave approves or rejects a pending leave request. The decider must
// hold approve_leaves and must be able to see the request.
func (s *Service) DecideLeave(ctx context.Context, p shared.Principal, id string, status LeaveStatus) error {
	if status != LeaveStatusApproved && status != LeaveStatusRejected {
		return fmt.Errorf("hr: decision must be approved or rejected, got %q", status)
	}
	lr, err := s.repo.GetLeaveRequest(ctx, id, visibility(p, filter.LeaveRequests))
	if err != nil {
		return err
	}
	eval := s.authz.Evaluate(ctx, p.UserID, "approve_leaves", authz.Context{
		TenantID: lr.TenantID,
		Action:   "decide",
		Resource: "leave_requests",
	})
	if !eval.Granted {
		return ErrDenied{Reason: eval.Reason}
	}
	return s.repo.DecideLeaveRequest(ctx, id, status, p.UserID)
}
