package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/meridian-hq/meridian/internal/rbac"
	"github.com/meridian-hq/meridian/internal/shared"
)

// ProjectLister reports the projects a user belongs to within a tenant, used
// to scope row filters for project-bound roles.
type ProjectLister interface {
	MemberProjectIDs(ctx context.Context, userID, tenantID string) ([]string, error)
}

// PrincipalMiddleware resolves the caller from the session into a Principal:
// user, active tenant, highest live role there, and project memberships. Role
// lookups go through the role cache, so this adds no per-request query once
// the cache is warm. Requests without a logged-in user pass through
// unresolved; route guards decide whether that is acceptable.
func PrincipalMiddleware(roles *rbac.Service, projects ProjectLister, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := shared.SessionFromContext(r.Context())
			if sess == nil || sess.User() == "" {
				next.ServeHTTP(w, r)
				return
			}
			userID := sess.User()
			tenantID := sess.Tenant()

			assignments, err := roles.Roles(r.Context(), userID, tenantID)
			if err != nil {
				logger.Error("resolve principal roles", slog.String("user_id", userID), slog.Any("error", err))
				// Fail closed: an unresolved principal holds the weakest role
				// and no tenant, so filters collapse to the sentinel.
				next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), shared.Principal{
					UserID: userID,
					Role:   rbac.RoleViewer,
				})))
				return
			}

			principal := shared.Principal{
				UserID:   userID,
				TenantID: tenantID,
				Role:     rbac.HighestRole(assignments, time.Now()),
			}
			if projects != nil && tenantID != "" {
				ids, err := projects.MemberProjectIDs(r.Context(), userID, tenantID)
				if err != nil {
					logger.Warn("resolve project memberships", slog.String("user_id", userID), slog.Any("error", err))
				} else {
					principal.ProjectIDs = ids
				}
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), principal)))
		})
	}
}
