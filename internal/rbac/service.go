package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-hq/meridian/internal/rbac/cache"
)

// RepositoryPort defines data access methods for RBAC reference data.
type RepositoryPort interface {
	ListRoles(ctx context.Context) ([]Role, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	UserAssignments(ctx context.Context, userID, tenantID string) ([]Assignment, error)
	UserPermissions(ctx context.Context, userID, tenantID string) ([]UserPermission, error)
	GetRoleByName(ctx context.Context, name RoleName) (Role, error)
	AssignRole(ctx context.Context, a Assignment) (string, error)
	RevokeRole(ctx context.Context, userID, roleID, tenantID string) error
}

// RefreshEnqueuer hands role refreshes to the background worker so the
// mutation path does not wait on cache repopulation.
type RefreshEnqueuer interface {
	EnqueueRefreshUser(ctx context.Context, userID, tenantID string) error
}

// Service is the authority for who holds which role. Reads are served through
// the cache; every mutation publishes an invalidation event and schedules an
// eager refresh for the affected user.
type Service struct {
	repo   RepositoryPort
	cache  *cache.Cache
	queue  RefreshEnqueuer
	logger *slog.Logger
}

// NewService builds Service instance. queue may be nil in tools that have no
// worker attached; refreshes then happen lazily on the next read.
func NewService(repo RepositoryPort, c *cache.Cache, queue RefreshEnqueuer, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: c, queue: queue, logger: logger}
}

// Roles returns the user's live role assignments, cached for 15 minutes.
func (s *Service) Roles(ctx context.Context, userID, tenantID string) ([]Assignment, error) {
	return s.cache.GetRoles(ctx, userID, tenantID, func(ctx context.Context) ([]Assignment, error) {
		return s.repo.UserAssignments(ctx, userID, tenantID)
	})
}

// Permissions returns the user's resolved permission set, cached for 10 minutes.
func (s *Service) Permissions(ctx context.Context, userID, tenantID string) ([]UserPermission, error) {
	return s.cache.GetPermissions(ctx, userID, tenantID, func(ctx context.Context) ([]UserPermission, error) {
		return s.repo.UserPermissions(ctx, userID, tenantID)
	})
}

// ListRoles returns the role catalogue.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// ListPermissions returns the permission catalogue.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// Assign grants a role to a user, optionally tenant-scoped and expiring.
func (s *Service) Assign(ctx context.Context, userID string, role RoleName, tenantID string, expiresAt *time.Time) (string, error) {
	if !role.Valid() {
		return "", fmt.Errorf("rbac: unknown role %q", role)
	}
	ro, err := s.repo.GetRoleByName(ctx, role)
	if err != nil {
		return "", fmt.Errorf("rbac: assign %s: %w", role, err)
	}
	id, err := s.repo.AssignRole(ctx, Assignment{
		UserID:    userID,
		RoleID:    ro.ID,
		RoleName:  role,
		TenantID:  tenantID,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return "", fmt.Errorf("rbac: assign %s: %w", role, err)
	}
	s.afterMutation(ctx, cache.EventRoleAssigned, userID, tenantID)
	s.logger.Info("role assigned",
		slog.String("user_id", userID), slog.String("role", string(role)), slog.String("tenant_id", tenantID))
	return id, nil
}

// Revoke deactivates a user's role assignment.
func (s *Service) Revoke(ctx context.Context, userID string, role RoleName, tenantID string) error {
	ro, err := s.repo.GetRoleByName(ctx, role)
	if err != nil {
		return fmt.Errorf("rbac: revoke %s: %w", role, err)
	}
	if err := s.repo.RevokeRole(ctx, userID, ro.ID, tenantID); err != nil {
		return fmt.Errorf("rbac: revoke %s: %w", role, err)
	}
	s.afterMutation(ctx, cache.EventRoleRevoked, userID, tenantID)
	s.logger.Info("role revoked",
		slog.String("user_id", userID), slog.String("role", string(role)), slog.String("tenant_id", tenantID))
	return nil
}

// NotifyRoleUpdated flushes caches after a role definition change.
func (s *Service) NotifyRoleUpdated(ctx context.Context) {
	s.cache.PublishEvent(ctx, cache.EventRoleUpdated)
}

// NotifyPermissionChanged flushes caches after a grant change.
func (s *Service) NotifyPermissionChanged(ctx context.Context) {
	s.cache.PublishEvent(ctx, cache.EventPermissionChange)
}

// NotifyTenantChanged flushes caches when a caller switches tenants.
func (s *Service) NotifyTenantChanged(ctx context.Context) {
	s.cache.PublishEvent(ctx, cache.EventTenantChanged)
}

// RefreshUser drops and eagerly repopulates the user's cached entries.
// The worker calls this when it picks up a refresh task.
func (s *Service) RefreshUser(ctx context.Context, userID, tenantID string) error {
	return s.cache.RefreshUser(ctx, userID, tenantID,
		func(ctx context.Context) ([]Assignment, error) {
			return s.repo.UserAssignments(ctx, userID, tenantID)
		},
		func(ctx context.Context) ([]UserPermission, error) {
			return s.repo.UserPermissions(ctx, userID, tenantID)
		})
}

// CacheStats exposes cache entry counts for the admin surface.
func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}

func (s *Service) afterMutation(ctx context.Context, event, userID, tenantID string) {
	s.cache.PublishEvent(ctx, event)
	if s.queue == nil {
		return
	}
	if err := s.queue.EnqueueRefreshUser(ctx, userID, tenantID); err != nil {
		s.logger.Warn("enqueue role refresh", slog.String("user_id", userID), slog.Any("error", err))
	}
}
