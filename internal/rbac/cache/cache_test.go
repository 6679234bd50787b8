package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	rbac "github.com/meridian-hq/meridian/internal/rbac/domain"
)

func newTestCache(t *testing.T) (*Cache, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := New(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.sleep = func(time.Duration) {}
	return c, client
}

func testAssignments() []rbac.Assignment {
	return []rbac.Assignment{{
		ID:       "a1",
		UserID:   "u1",
		RoleID:   "r1",
		RoleName: rbac.RoleEmployee,
		TenantID: "t1",
		Active:   true,
	}}
}

func TestGetRolesCachesResult(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	var calls atomic.Int32
	fetch := func(ctx context.Context) ([]rbac.Assignment, error) {
		calls.Add(1)
		return testAssignments(), nil
	}

	roles, err := c.GetRoles(ctx, "u1", "t1", fetch)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	require.Equal(t, rbac.RoleEmployee, roles[0].RoleName)

	_, err = c.GetRoles(ctx, "u1", "t1", fetch)
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())
}

func TestGetRolesCoalescesConcurrentMisses(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) ([]rbac.Assignment, error) {
		calls.Add(1)
		<-release
		return testAssignments(), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetRoles(ctx, "u1", "t1", fetch)
			require.NoError(t, err)
		}()
	}
	// Let both goroutines reach the cache before the fetch resolves.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
}

func TestGetRolesRetriesThreeTimesThenFails(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	fetchErr := errors.New("database unavailable")
	var calls atomic.Int32
	fetch := func(ctx context.Context) ([]rbac.Assignment, error) {
		calls.Add(1)
		return nil, fetchErr
	}

	_, err := c.GetRoles(ctx, "u1", "t1", fetch)
	require.ErrorIs(t, err, fetchErr)
	require.Equal(t, int32(3), calls.Load())

	// No negative caching: the next read fetches again.
	_, err = c.GetRoles(ctx, "u1", "t1", fetch)
	require.ErrorIs(t, err, fetchErr)
	require.Equal(t, int32(6), calls.Load())
}

func TestGetRolesExpiresAfterTTL(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	current := time.Now()
	c.now = func() time.Time { return current }

	var calls atomic.Int32
	fetch := func(ctx context.Context) ([]rbac.Assignment, error) {
		calls.Add(1)
		return testAssignments(), nil
	}

	_, err := c.GetRoles(ctx, "u1", "t1", fetch)
	require.NoError(t, err)

	current = current.Add(TTLRoles - time.Second)
	_, err = c.GetRoles(ctx, "u1", "t1", fetch)
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())

	current = current.Add(2 * time.Second)
	_, err = c.GetRoles(ctx, "u1", "t1", fetch)
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())
}

func TestAccessRightsHasNoFetchFallback(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	_, ok := c.AccessRights(ctx, "u1", "t1")
	require.False(t, ok)

	c.SetAccessRights(ctx, "u1", "t1", map[string]bool{"tasks": true})
	rights, ok := c.AccessRights(ctx, "u1", "t1")
	require.True(t, ok)
	require.True(t, rights["tasks"])
}

func TestInvalidateUserScopedByTenant(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	fetch := func(ctx context.Context) ([]rbac.Assignment, error) {
		return testAssignments(), nil
	}
	_, err := c.GetRoles(ctx, "u1", "t1", fetch)
	require.NoError(t, err)
	_, err = c.GetRoles(ctx, "u1", "t2", fetch)
	require.NoError(t, err)
	_, err = c.GetRoles(ctx, "u2", "t1", fetch)
	require.NoError(t, err)

	c.InvalidateUser(ctx, "u1", "t1")

	stats := c.Stats()
	require.Equal(t, 2, stats.TotalEntries)
}

func TestInvalidateAllClearsMirror(t *testing.T) {
	c, client := newTestCache(t)
	ctx := context.Background()

	fetch := func(ctx context.Context) ([]rbac.Assignment, error) {
		return testAssignments(), nil
	}
	_, err := c.GetRoles(ctx, "u1", "t1", fetch)
	require.NoError(t, err)

	keys, err := client.Keys(ctx, storagePrefix+"*").Result()
	require.NoError(t, err)
	require.Len(t, keys, 1)

	c.InvalidateAll(ctx)

	require.Equal(t, 0, c.Stats().TotalEntries)
	keys, err = client.Keys(ctx, storagePrefix+"*").Result()
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestRestoreWarmsFromMirror(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	first := New(client, logger)
	first.sleep = func(time.Duration) {}
	fetch := func(ctx context.Context) ([]rbac.Assignment, error) {
		return testAssignments(), nil
	}
	_, err := first.GetRoles(ctx, "u1", "t1", fetch)
	require.NoError(t, err)

	// A fresh instance sharing the mirror serves the entry without fetching.
	second := New(client, logger)
	second.Restore(ctx)
	var calls atomic.Int32
	counted := func(ctx context.Context) ([]rbac.Assignment, error) {
		calls.Add(1)
		return nil, errors.New("should not be called")
	}
	roles, err := second.GetRoles(ctx, "u1", "t1", counted)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	require.Equal(t, int32(0), calls.Load())
}

func TestRefreshUserRepopulatesEagerly(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	var roleCalls, permCalls atomic.Int32
	fetchRoles := func(ctx context.Context) ([]rbac.Assignment, error) {
		roleCalls.Add(1)
		return testAssignments(), nil
	}
	fetchPerms := func(ctx context.Context) ([]rbac.UserPermission, error) {
		permCalls.Add(1)
		return []rbac.UserPermission{{Name: "view_reports", RoleName: rbac.RoleEmployee}}, nil
	}

	_, err := c.GetRoles(ctx, "u1", "t1", fetchRoles)
	require.NoError(t, err)

	require.NoError(t, c.RefreshUser(ctx, "u1", "t1", fetchRoles, fetchPerms))
	require.Equal(t, int32(2), roleCalls.Load())
	require.Equal(t, int32(1), permCalls.Load())
}

func TestInvalidationEventFlushesEverything(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	fetch := func(ctx context.Context) ([]rbac.Assignment, error) {
		return testAssignments(), nil
	}
	_, err := c.GetRoles(ctx, "u1", "t1", fetch)
	require.NoError(t, err)

	c.handleEvent(ctx, EventRoleAssigned)
	require.Equal(t, 0, c.Stats().TotalEntries)
}
