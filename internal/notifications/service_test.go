package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-hq/meridian/internal/authz/filter"
	"github.com/meridian-hq/meridian/internal/rbac"
	"github.com/meridian-hq/meridian/internal/shared"
)

type stubRepo struct {
	lastVis   *filter.Query
	lastLimit int
	purged    time.Time
}

func (s *stubRepo) List(ctx context.Context, vis *filter.Query, unreadOnly bool, limit int) ([]Notification, error) {
	s.lastVis = vis
	s.lastLimit = limit
	return nil, nil
}

func (s *stubRepo) Create(ctx context.Context, n Notification) (Notification, error) {
	n.ID = "n1"
	return n, nil
}

func (s *stubRepo) MarkRead(ctx context.Context, id string, vis *filter.Query) error {
	s.lastVis = vis
	return nil
}

func (s *stubRepo) MarkAllRead(ctx context.Context, vis *filter.Query) (int64, error) {
	s.lastVis = vis
	return 3, nil
}

func (s *stubRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.purged = cutoff
	return 7, nil
}

func TestListIsSelfScopedEvenForTenantAdmin(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo)

	_, err := svc.List(context.Background(), shared.Principal{
		UserID: "u1", TenantID: "t1", Role: rbac.RoleTenantAdmin,
	}, false, 0)
	require.NoError(t, err)

	frag, args := repo.lastVis.SQL(1)
	require.Equal(t, "tenant_id = $1 AND user_id = $2", frag)
	require.Equal(t, []any{"t1", "u1"}, args)
	require.Equal(t, 50, repo.lastLimit)
}

func TestNotifyRequiresRecipient(t *testing.T) {
	svc := NewService(&stubRepo{})

	_, err := svc.Notify(context.Background(), "t1", "", "task_assigned", "x", "")
	require.Error(t, err)
}

func TestPurgeOldUsesRetentionCutoff(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo)

	n, err := svc.PurgeOld(context.Background(), 30*24*time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 7, n)
	require.WithinDuration(t, time.Now().Add(-30*24*time.Hour), repo.purged, time.Minute)
}
