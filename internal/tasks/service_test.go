package tasks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-hq/meridian/internal/authz"
	"github.com/meridian-hq/meridian/internal/authz/filter"
	"github.com/meridian-hq/meridian/internal/rbac"
	"github.com/meridian-hq/meridian/internal/shared"
)

type stubRepo struct {
	tasks    map[string]Task
	lastVis  *filter.Query
	created  *Task
	assigned string
}

func (s *stubRepo) List(ctx context.Context, vis *filter.Query, limit, offset int) ([]Task, int, error) {
	s.lastVis = vis
	var out []Task
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out, len(out), nil
}

func (s *stubRepo) Get(ctx context.Context, id string, vis *filter.Query) (Task, error) {
	s.lastVis = vis
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, shared.ErrNotFound
	}
	return t, nil
}

func (s *stubRepo) Create(ctx context.Context, t Task) (Task, error) {
	t.ID = "task-1"
	s.created = &t
	return t, nil
}

func (s *stubRepo) UpdateStatus(ctx context.Context, id string, status Status, vis *filter.Query) error {
	s.lastVis = vis
	if _, ok := s.tasks[id]; !ok {
		return shared.ErrNotFound
	}
	return nil
}

func (s *stubRepo) Assign(ctx context.Context, id, assigneeID string) error {
	s.assigned = id + ":" + assigneeID
	return nil
}

type stubAuthorizer struct {
	granted bool
	reason  string
	lastCtx authz.Context
}

func (s *stubAuthorizer) Evaluate(ctx context.Context, userID, permission string, evalCtx authz.Context) authz.Evaluation {
	s.lastCtx = evalCtx
	return authz.Evaluation{Granted: s.granted, Reason: s.reason, Permission: permission}
}

func principal(role rbac.RoleName) shared.Principal {
	return shared.Principal{UserID: "u1", TenantID: "t1", Role: role}
}

func TestListScopesQueryToPrincipal(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, &stubAuthorizer{granted: true})

	_, _, err := svc.List(context.Background(), principal(rbac.RoleEmployee), 20, 0)
	require.NoError(t, err)

	frag, args := repo.lastVis.SQL(1)
	require.Equal(t, "tenant_id = $1 AND assignee_id = $2", frag)
	require.Equal(t, []any{"t1", "u1"}, args)
}

func TestCreateDeniedWithoutGrant(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, &stubAuthorizer{granted: false, reason: "Permission 'create_tasks' not granted for this role/context"})

	_, err := svc.Create(context.Background(), principal(rbac.RoleViewer), Task{ProjectID: "p1", Title: "x"})
	var denied ErrDenied
	require.ErrorAs(t, err, &denied)
	require.Contains(t, denied.Reason, "create_tasks")
	require.Nil(t, repo.created)
}

func TestCreateStampsTenantAndCreator(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, &stubAuthorizer{granted: true})

	created, err := svc.Create(context.Background(), principal(rbac.RoleProjectManager), Task{ProjectID: "p1", Title: "x"})
	require.NoError(t, err)
	require.Equal(t, "t1", created.TenantID)
	require.Equal(t, "u1", created.CreatorID)
	require.Equal(t, StatusTodo, created.Status)
}

func TestCreateWithoutTenantFailsClosed(t *testing.T) {
	svc := NewService(&stubRepo{}, &stubAuthorizer{granted: true})

	_, err := svc.Create(context.Background(), shared.Principal{UserID: "u1", Role: rbac.RoleEmployee}, Task{ProjectID: "p1", Title: "x"})
	require.ErrorIs(t, err, shared.ErrNoTenant)
}

func TestAssignEvaluatesProjectContext(t *testing.T) {
	repo := &stubRepo{tasks: map[string]Task{
		"task-1": {ID: "task-1", TenantID: "t1", ProjectID: "p9", AssigneeID: "u1"},
	}}
	auth := &stubAuthorizer{granted: true}
	svc := NewService(repo, auth)

	err := svc.AssignTask(context.Background(), principal(rbac.RoleProjectManager), "task-1", "u2")
	require.NoError(t, err)
	require.Equal(t, "p9", auth.lastCtx.ProjectID)
	require.Equal(t, "task-1:u2", repo.assigned)
}

func TestAssignInvisibleTaskIsNotFound(t *testing.T) {
	svc := NewService(&stubRepo{}, &stubAuthorizer{granted: true})

	err := svc.AssignTask(context.Background(), principal(rbac.RoleEmployee), "ghost", "u2")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUpdateStatusRejectsUnknownState(t *testing.T) {
	svc := NewService(&stubRepo{}, &stubAuthorizer{granted: true})

	err := svc.UpdateStatus(context.Background(), principal(rbac.RoleEmployee), "task-1", Status("archived"))
	require.Error(t, err)
}
