package tasks

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

func (e ErrDenied) Error() string { return "tasks: " + e.Reason }

// RepositoryPort defines data access methods for tasks.
type RepositoryPort interface {
	List(ctx context.Context, vis *filter.Query, limit, offset int) ([]Task, int, error)
	Get(ctx context.Context, id string, vis *filter.Query) (Task, error)
	Create(ctx context.Context, t Task) (Task, error)
	UpdateStatus(ctx context.Context, id string, status Status, vis *filter.Query) error
	Assign(ctx context.Context, id, assigneeID string) error
}

// Authorizer evaluates permissions, normally the shared evaluator.
type Authorizer interface {
	Evaluate(ctx context.Context, userID, permission string, evalCtx authz.Context) authz.Evaluation
}

// Service handles task business logic. Reads flow through the row filter;
// mutations are authorized by the evaluator before they touch the repository.
type Service struct {
	repo  RepositoryPort
	authz Authorizer
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, a Authorizer) *Service {
	return &Service{repo: repo, authz: a}
}

func visibility(p shared.Principal) *filter.Query {
	return filter.Apply(filter.NewQuery(), filter.UserContext{
		UserID:     p.UserID,
		Role:       p.Role,
		TenantID:   p.TenantID,
		ProjectIDs: p.ProjectIDs,
	}, filter.Tasks)
}

// List returns the tasks visible to the principal.
func (s *Service) List(ctx context.Context, p shared.Principal, limit, offset int) ([]Task, int, error) {
	return s.repo.List(ctx, visibility(p), limit, offset)
}

// Get fetches one task the principal can see.
func (s *Service) Get(ctx context.Context, p shared.Principal, id string) (Task, error) {
	return s.repo.Get(ctx, id, visibility(p))
}

// Create inserts a task into one of the principal's projects.
func (s *Service) Create(ctx context.Context, p shared.Principal, t Task) (Task, error) {
	if p.TenantID == "" {
		return Task{}, shared.ErrNoTenant
	}
	eval := s.authz.Evaluate(ctx, p.UserID, "create_tasks", authz.Context{
		TenantID:  p.TenantID,
		ProjectID: t.ProjectID,
		Action:    "create",
		Resource:  "tasks",
	})
	if !eval.Granted {
		return Task{}, ErrDenied{Reason: eval.Reason}
	}
	if !t.Status.Valid() {
		t.Status = StatusTodo
	}
	t.TenantID = p.TenantID
	t.CreatorID = p.UserID
	created, err := s.repo.Create(ctx, t)
	if err != nil {
		return Task{}, fmt.Errorf("tasks: create: %w", err)
	}
	return created, nil
}

// UpdateStatus moves a visible task to a new status.
func (s *Service) UpdateStatus(ctx context.Context, p shared.Principal, id string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("tasks: unknown status %q", status)
	}
	return s.repo.UpdateStatus(ctx, id, status, visibility(p))
}

// AssignTask reassigns a task, which requires the contextual
// assign_task_in_project permission for the task's project.
func (s *Service) AssignTask(ctx context.Context, p shared.Principal, id, assigneeID string) error {
	task, err := s.repo.Get(ctx, id, visibility(p))
	if err != nil {
		return err
	}
	eval := s.authz.Evaluate(ctx, p.UserID, rbac.PermAssignTaskInProject, authz.Context{
		TenantID:  p.TenantID,
		ProjectID: task.ProjectID,
		Action:    "assign",
		Resource:  "tasks",
	})
	if !eval.Granted {
		return ErrDenied{Reason: eval.Reason}
	}
	return s.repo.Assign(ctx, id, assigneeID)
}
