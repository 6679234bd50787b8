package projects

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

func (e ErrDenied) Error() string { return "projects: " + e.Reason }

// RepositoryPort defines data access methods for projects.
type RepositoryPort interface {
	List(ctx context.Context, vis *filter.Query) ([]Project, error)
	Get(ctx context.Context, id string, vis *filter.Query) (Project, error)
	Create(ctx context.Context, p Project) (Project, error)
	Update(ctx context.Context, p Project) error
	AddMember(ctx context.Context, projectID, userID string) error
	RemoveMember(ctx context.Context, projectID, userID string) error
}

// Authorizer evaluates permissions, normally the shared evaluator.
type Authorizer interface {
	Evaluate(ctx context.Context, userID, permission string, evalCtx authz.Context) authz.Evaluation
}

// Service handles project business logic.
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
	}, filter.Projects)
}

// List returns the projects visible to the principal.
func (s *Service) List(ctx context.Context, p shared.Principal) ([]Project, error) {
	return s.repo.List(ctx, visibility(p))
}

// Get fetches one project the principal can see.
func (s *Service) Get(ctx context.Context, p shared.Principal, id string) (Project, error) {
	return s.repo.Get(ctx, id, visibility(p))
}

// Create starts a new project in the principal's tenant. The contextual
// edit_project_in_tenant permission gates the mutation.
func (s *Service) Create(ctx context.Context, p shared.Principal, proj Project) (Project, error) {
	if p.TenantID == "" {
		return Project{}, shared.ErrNoTenant
	}
	eval := s.authz.Evaluate(ctx, p.UserID, rbac.PermEditProjectInTenant, authz.Context{
		TenantID: p.TenantID,
		Action:   "create",
		Resource: "projects",
	})
	if !eval.Granted {
		return Project{}, ErrDenied{Reason: eval.Reason}
	}
	proj.TenantID = p.TenantID
	if proj.ManagerID == "" {
		proj.ManagerID = p.UserID
	}
	created, err := s.repo.Create(ctx, proj)
	if err != nil {
		return Project{}, fmt.Errorf("projects: create: %w", err)
	}
	return created, nil
}

// Update renames or archives a visible project.
func (s *Service) Update(ctx context.Context, p shared.Principal, proj Project) error {
	current, err := s.repo.Get(ctx, proj.ID, visibility(p))
	if err != nil {
		return err
	}
	eval := s.authz.Evaluate(ctx, p.UserID, rbac.PermEditProjectInTenant, authz.Context{
		TenantID:  current.TenantID,
		ProjectID: current.ID,
		Action:    "update",
		Resource:  "projects",
	})
	if !eval.Granted {
		return ErrDenied{Reason: eval.Reason}
	}
	proj.TenantID = current.TenantID
	return s.repo.Update(ctx, proj)
}

// AddMember adds a user to a visible project.
func (s *Service) AddMember(ctx context.Context, p shared.Principal, projectID, userID string) error {
	if err := s.authorizeMembership(ctx, p, projectID); err != nil {
		return err
	}
	return s.repo.AddMember(ctx, projectID, userID)
}

// RemoveMember removes a user from a visible project.
func (s *Service) RemoveMember(ctx context.Context, p shared.Principal, projectID, userID string) error {
	if err := s.authorizeMembership(ctx, p, projectID); err != nil {
		return err
	}
	return s.repo.RemoveMember(ctx, projectID, userID)
}

func (s *Service) authorizeMembership(ctx context.Context, p shared.Principal, projectID string) error {
	proj, err := s.repo.Get(ctx, projectID, visibility(p))
	if err != nil {
		return err
	}
	eval := s.authz.Evaluate(ctx, p.UserID, rbac.PermEditProjectInTenant, authz.Context{
		TenantID:  proj.TenantID,
		ProjectID: proj.ID,
		Action:    "manage_members",
		Resource:  "projects",
	})
	if !eval.Granted {
		return ErrDenied{Reason: eval.Reason}
	}
	return nil
}
