package rbac

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/meridian-hq/meridian/internal/rbac/cache"
)

type stubRepo struct {
	assignments     []Assignment
	perms           []UserPermission
	roles           map[RoleName]Role
	assignmentCalls int
	assigned        []Assignment
	revoked         int
}

func (s *stubRepo) ListRoles(ctx context.Context) ([]Role, error) {
	var out []Role
	for _, r := range s.roles {
		out = append(out, r)
	}
	return out, nil
}

func (s *stubRepo) ListPermissions(ctx context.Context) ([]Permission, error) { return nil, nil }

func (s *stubRepo) UserAssignments(ctx context.Context, userID, tenantID string) ([]Assignment, error) {
	s.assignmentCalls++
	return s.assignments, nil
}

func (s *stubRepo) UserPermissions(ctx context.Context, userID, tenantID string) ([]UserPermission, error) {
	return s.perms, nil
}

func (s *stubRepo) GetRoleByName(ctx context.Context, name RoleName) (Role, error) {
	r, ok := s.roles[name]
	if !ok {
		return Role{}, ErrNotFound
	}
	return r, nil
}

func (s *stubRepo) AssignRole(ctx context.Context, a Assignment) (string, error) {
	s.assigned = append(s.assigned, a)
	return "assignment-1", nil
}

func (s *stubRepo) RevokeRole(ctx context.Context, userID, roleID, tenantID string) error {
	s.revoked++
	return nil
}

type stubQueue struct {
	enqueued []string
}

func (s *stubQueue) EnqueueRefreshUser(ctx context.Context, userID, tenantID string) error {
	s.enqueued = append(s.enqueued, userID+"/"+tenantID)
	return nil
}

func newTestService(t *testing.T, repo *stubRepo, queue RefreshEnqueuer) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, cache.New(client, logger), queue, logger)
}

func TestRolesAreServedFromCacheOnSecondRead(t *testing.T) {
	repo := &stubRepo{assignments: []Assignment{{ID: "a1", UserID: "u1", RoleName: RoleEmployee, Active: true}}}
	svc := newTestService(t, repo, nil)

	first, err := svc.Roles(context.Background(), "u1", "t1")
	require.NoError(t, err)
	second, err := svc.Roles(context.Background(), "u1", "t1")
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 1, repo.assignmentCalls)
}

func TestAssignRejectsUnknownRole(t *testing.T) {
	svc := newTestService(t, &stubRepo{roles: map[RoleName]Role{}}, nil)

	_, err := svc.Assign(context.Background(), "u1", RoleName("owner"), "t1", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown role")
}

func TestAssignFlushesCacheAndEnqueuesRefresh(t *testing.T) {
	repo := &stubRepo{
		assignments: []Assignment{{ID: "a1", UserID: "u1", RoleName: RoleEmployee, Active: true}},
		roles:       map[RoleName]Role{RoleTeamLead: {ID: "r1", Name: RoleTeamLead}},
	}
	queue := &stubQueue{}
	// Memory-only cache: published events degrade to a local flush, so the
	// invalidation is observable synchronously.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(repo, cache.New(nil, logger), queue, logger)

	_, err := svc.Roles(context.Background(), "u1", "t1")
	require.NoError(t, err)
	require.Equal(t, 1, svc.CacheStats().TotalEntries)

	id, err := svc.Assign(context.Background(), "u1", RoleTeamLead, "t1", nil)
	require.NoError(t, err)
	require.Equal(t, "assignment-1", id)
	require.Len(t, repo.assigned, 1)
	require.Equal(t, "r1", repo.assigned[0].RoleID)

	// The assignment event flushed every cached entry.
	require.Equal(t, 0, svc.CacheStats().TotalEntries)
	require.Equal(t, []string{"u1/t1"}, queue.enqueued)
}

func TestRevokeUnknownRoleReturnsNotFound(t *testing.T) {
	svc := newTestService(t, &stubRepo{roles: map[RoleName]Role{}}, nil)

	err := svc.Revoke(context.Background(), "u1", RoleTeamLead, "t1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRefreshUserRepopulatesBothCaches(t *testing.T) {
	repo := &stubRepo{
		assignments: []Assignment{{ID: "a1", UserID: "u1", RoleName: RoleEmployee, Active: true}},
		perms:       []UserPermission{{Name: "view_reports", RoleName: RoleEmployee}},
	}
	svc := newTestService(t, repo, nil)

	require.NoError(t, svc.RefreshUser(context.Background(), "u1", "t1"))
	require.Equal(t, 2, svc.CacheStats().ValidEntries)

	// Subsequent reads hit the cache, not the repository.
	calls := repo.assignmentCalls
	_, err := svc.Roles(context.Background(), "u1", "t1")
	require.NoError(t, err)
	require.Equal(t, calls, repo.assignmentCalls)
}
