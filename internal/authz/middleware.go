package authz

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/meridian-hq/meridian/internal/platform/httpx"
	"github.com/meridian-hq/meridian/internal/shared"
)

// Middleware guards HTTP routes with permission evaluations. Denials carry the
// evaluator's reason so operators can see which rule fired without grepping
// the audit log.
type Middleware struct {
	Evaluator *Evaluator
	Logger    *slog.Logger
}

// Require allows the request through only when every listed permission is
// granted for the caller in their current tenant.
func (m Middleware) Require(perms ...string) func(http.Handler) http.Handler {
	required := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(required) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			principal, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
				return
			}
			evalCtx := Context{TenantID: principal.TenantID}
			for _, perm := range required {
				eval := m.Evaluator.Evaluate(r.Context(), principal.UserID, perm, evalCtx)
				if !eval.Granted {
					m.deny(w, r, principal.UserID, perm, eval)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAny allows the request through when at least one listed permission is
// granted.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	required := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(required) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			principal, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
				return
			}
			evalCtx := Context{TenantID: principal.TenantID}
			var last Evaluation
			for _, perm := range required {
				last = m.Evaluator.Evaluate(r.Context(), principal.UserID, perm, evalCtx)
				if last.Granted {
					next.ServeHTTP(w, r)
					return
				}
			}
			m.deny(w, r, principal.UserID, strings.Join(required, ","), last)
		})
	}
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request, userID, permission string, eval Evaluation) {
	if m.Logger != nil {
		m.Logger.Info("request denied",
			slog.String("user_id", userID),
			slog.String("permission", permission),
			slog.String("path", r.URL.Path),
			slog.String("reason", eval.Reason))
	}
	httpx.Problem(w, http.StatusForbidden, "Forbidden", eval.Reason)
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	var out []string
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		if _, seen := unique[p]; seen {
			continue
		}
		unique[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
