package auth

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-hq/meridian/internal/shared"
)

// TenantNotifier flushes authorization caches when a caller switches tenants.
type TenantNotifier interface {
	NotifyTenantChanged(ctx context.Context)
}

// Service wraps authentication business rules.
type Service struct {
	repo     Repository
	notifier TenantNotifier
}

// NewService constructs a new Service. notifier may be nil in tests.
func NewService(repo Repository, notifier TenantNotifier) *Service {
	return &Service{repo: repo, notifier: notifier}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// Tenants lists the tenants the user may act in.
func (s *Service) Tenants(ctx context.Context, userID string) ([]TenantMembership, error) {
	return s.repo.TenantMemberships(ctx, userID)
}

// DefaultTenant picks the tenant a fresh login lands in: the membership
// flagged default, else the first one, else none.
func (s *Service) DefaultTenant(ctx context.Context, userID string) (string, error) {
	memberships, err := s.repo.TenantMemberships(ctx, userID)
	if err != nil {
		return "", err
	}
	for _, m := range memberships {
		if m.IsDefault {
			return m.TenantID, nil
		}
	}
	if len(memberships) > 0 {
		return memberships[0].TenantID, nil
	}
	return "", nil
}

// SwitchTenant verifies membership and returns the tenant to activate. Every
// switch flushes the authorization caches, since cached entries for the old
// tenant must not leak into the new one.
func (s *Service) SwitchTenant(ctx context.Context, userID, tenantID string) error {
	memberships, err := s.repo.TenantMemberships(ctx, userID)
	if err != nil {
		return err
	}
	for _, m := range memberships {
		if m.TenantID == tenantID {
			if s.notifier != nil {
				s.notifier.NotifyTenantChanged(ctx)
			}
			return nil
		}
	}
	return fmt.Errorf("auth: user is not a member of tenant %s: %w", tenantID, shared.ErrNotFound)
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id, userID string, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}
