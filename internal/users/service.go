package users

import (
	"context"

	"github.com/meridian-hq/meridian/internal/rbac"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]User, int, error)
	Get(ctx context.Context, id string) (User, error)
	SetActive(ctx context.Context, id string, active bool) error
}

// RoleDirectory resolves a user's role assignments, normally the cached
// rbac service.
type RoleDirectory interface {
	Roles(ctx context.Context, userID, tenantID string) ([]rbac.Assignment, error)
}

// Service handles user business logic.
type Service struct {
	repo  RepositoryPort
	roles RoleDirectory
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, roles RoleDirectory) *Service {
	return &Service{repo: repo, roles: roles}
}

// ListUsers returns the tenant's users with their role assignments attached.
func (s *Service) ListUsers(ctx context.Context, tenantID string, limit, offset int) ([]UserWithRoles, int, error) {
	users, total, err := s.repo.ListByTenant(ctx, tenantID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	out := make([]UserWithRoles, 0, len(users))
	for _, u := range users {
		entry := UserWithRoles{User: u, Roles: []rbac.RoleName{}}
		assignments, err := s.roles.Roles(ctx, u.ID, tenantID)
		if err == nil {
			for _, a := range assignments {
				entry.Roles = append(entry.Roles, a.RoleName)
			}
		}
		out = append(out, entry)
	}
	return out, total, nil
}

// GetUser fetches one user.
func (s *Service) GetUser(ctx context.Context, id string) (User, error) {
	return s.repo.Get(ctx, id)
}

// SetActive enables or disables an account.
func (s *Service) SetActive(ctx context.Context, id string, active bool) error {
	return s.repo.SetActive(ctx, id, active)
}
