package users

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-hq/meridian/internal/rbac"
)

type stubRepo struct {
	users []User
}

func (s *stubRepo) ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]User, int, error) {
	return s.users, len(s.users), nil
}

func (s *stubRepo) Get(ctx context.Context, id string) (User, error) {
	for _, u := range s.users {
		if u.ID == id {
			return u, nil
		}
	}
	return User{}, errors.New("not found")
}

func (s *stubRepo) SetActive(ctx context.Context, id string, active bool) error { return nil }

type stubDirectory struct {
	assignments map[string][]rbac.Assignment
	err         error
}

func (s *stubDirectory) Roles(ctx context.Context, userID, tenantID string) ([]rbac.Assignment, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.assignments[userID], nil
}

func TestListUsersAttachesRoles(t *testing.T) {
	repo := &stubRepo{users: []User{{ID: "u1"}, {ID: "u2"}}}
	dir := &stubDirectory{assignments: map[string][]rbac.Assignment{
		"u1": {{UserID: "u1", RoleName: rbac.RoleHRManager, Active: true}},
	}}
	svc := NewService(repo, dir)

	out, total, err := svc.ListUsers(context.Background(), "t1", 20, 0)
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Equal(t, []rbac.RoleName{rbac.RoleHRManager}, out[0].Roles)
	require.Empty(t, out[1].Roles)
}

func TestListUsersToleratesDirectoryFailure(t *testing.T) {
	repo := &stubRepo{users: []User{{ID: "u1"}}}
	svc := NewService(repo, &stubDirectory{err: errors.New("redis down")})

	out, _, err := svc.ListUsers(context.Background(), "t1", 20, 0)
	require.NoError(t, err)
	require.Empty(t, out[0].Roles)
}
