package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/meridian-hq/meridian/internal/authz/filter"
	"github.com/meridian-hq/meridian/internal/shared"
)

// RepositoryPort defines data access methods for notifications.
type RepositoryPort interface {
	List(ctx context.Context, vis *filter.Query, unreadOnly bool, limit int) ([]Notification, error)
	Create(ctx context.Context, n Notification) (Notification, error)
	MarkRead(ctx context.Context, id string, vis *filter.Query) error
	MarkAllRead(ctx context.Context, vis *filter.Query) (int64, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service handles notification business logic. Reads and mutations always
// go through the self-scoped row filter, even for the admin tier.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

func visibility(p shared.Principal) *filter.Query {
	return filter.Apply(filter.NewQuery(), filter.UserContext{
		UserID:     p.UserID,
		Role:       p.Role,
		TenantID:   p.TenantID,
		ProjectIDs: p.ProjectIDs,
	}, filter.Notifications)
}

// List returns the principal's notifications.
func (s *Service) List(ctx context.Context, p shared.Principal, unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.List(ctx, visibility(p), unreadOnly, limit)
}

// Notify delivers a notification to a user. Other services call this.
func (s *Service) Notify(ctx context.Context, tenantID, userID, kind, title, body string) (Notification, error) {
	if userID == "" {
		return Notification{}, fmt.Errorf("notifications: recipient required")
	}
	return s.repo.Create(ctx, Notification{
		TenantID: tenantID,
		UserID:   userID,
		Kind:     kind,
		Title:    title,
		Body:     body,
	})
}

// MarkRead marks one of the principal's notifications as read.
func (s *Service) MarkRead(ctx context.Context, p shared.Principal, id string) error {
	return s.repo.MarkRead(ctx, id, visibility(p))
}

// MarkAllRead marks all of the principal's unread notifications as read.
func (s *Service) MarkAllRead(ctx context.Context, p shared.Principal) (int64, error) {
	return s.repo.MarkAllRead(ctx, visibility(p))
}

// PurgeOld removes read notifications older than the retention window.
func (s *Service) PurgeOld(ctx context.Context, retention time.Duration) (int64, error) {
	return s.repo.PurgeOlderThan(ctx, time.Now().Add(-retention))
}
