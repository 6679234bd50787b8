package projects

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
	projects map[string]Project
	lastVis  *filter.Query
	created  *Project
	members  []string
}

func (s *stubRepo) List(ctx context.Context, vis *filter.Query) ([]Project, error) {
	s.lastVis = vis
	var out []Project
	for _, p := range s.projects {
		out = append(out, p)
	}
	return out, nil
}

func (s *stubRepo) Get(ctx context.Context, id string, vis *filter.Query) (Project, error) {
	s.lastVis = vis
	p, ok := s.projects[id]
	if !ok {
		return Project{}, shared.ErrNotFound
	}
	return p, nil
}

func (s *stubRepo) Create(ctx context.Context, p Project) (Project, error) {
	p.ID = "proj-1"
	s.created = &p
	return p, nil
}

func (s *stubRepo) Update(ctx context.Context, p Project) error { return nil }

func (s *stubRepo) AddMember(ctx context.Context, projectID, userID string) error {
	s.members = append(s.members, projectID+":"+userID)
	return nil
}

func (s *stubRepo) RemoveMember(ctx context.Context, projectID, userID string) error {
	s.members = append(s.members, "-"+projectID+":"+userID)
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

func principal(role rbac.RoleName, projectIDs ...string) shared.Principal {
	return shared.Principal{UserID: "u1", TenantID: "t1", Role: role, ProjectIDs: projectIDs}
}

func TestListNarrowsToMemberProjects(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, &stubAuthorizer{granted: true})

	_, err := svc.List(context.Background(), principal(rbac.RoleEmployee, "p1", "p2"))
	require.NoError(t, err)

	frag, args := repo.lastVis.SQL(1)
	require.Equal(t, "tenant_id = $1 AND id IN ($2, $3)", frag)
	require.Equal(t, []any{"t1", "p1", "p2"}, args)
}

func TestListWithoutMembershipsFailsClosed(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, &stubAuthorizer{granted: true})

	_, err := svc.List(context.Background(), principal(rbac.RoleContractor))
	require.NoError(t, err)

	frag, args := repo.lastVis.SQL(1)
	require.Equal(t, "tenant_id = $1 AND id = $2", frag)
	require.Equal(t, []any{"t1", filter.SentinelID}, args)
}

func TestCreateStampsTenantAndDefaultsManager(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, &stubAuthorizer{granted: true})

	created, err := svc.Create(context.Background(), principal(rbac.RoleProjectManager), Project{Name: "Apollo"})
	require.NoError(t, err)
	require.Equal(t, "t1", created.TenantID)
	require.Equal(t, "u1", created.ManagerID)
}

func TestCreateDeniedWithoutGrant(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, &stubAuthorizer{granted: false, reason: "Permission 'edit_project_in_tenant' not granted for this role/context"})

	_, err := svc.Create(context.Background(), principal(rbac.RoleEmployee), Project{Name: "Apollo"})
	var denied ErrDenied
	require.ErrorAs(t, err, &denied)
	require.Nil(t, repo.created)
}

func TestAddMemberEvaluatesProjectContext(t *testing.T) {
	repo := &stubRepo{projects: map[string]Project{
		"p9": {ID: "p9", TenantID: "t1"},
	}}
	auth := &stubAuthorizer{granted: true}
	svc := NewService(repo, auth)

	err := svc.AddMember(context.Background(), principal(rbac.RoleProjectManager, "p9"), "p9", "u2")
	require.NoError(t, err)
	require.Equal(t, "p9", auth.lastCtx.ProjectID)
	require.Equal(t, []string{"p9:u2"}, repo.members)
}

func TestUpdateInvisibleProjectIsNotFound(t *testing.T) {
	svc := NewService(&stubRepo{}, &stubAuthorizer{granted: true})

	err := svc.Update(context.Background(), principal(rbac.RoleEmployee), Project{ID: "ghost", Name: "x"})
	require.ErrorIs(t, err, shared.ErrNotFound)
}
