package shared

import (
	"context"

	"github.com/meridian-hq/meridian/internal/rbac"
)

type sessionContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// Principal is the resolved caller of a request: who they are, which tenant
// they are acting in, and their highest-ranking role there.
type Principal struct {
	UserID     string
	TenantID   string
	Role       rbac.RoleName
	ProjectIDs []string
}

type principalContextKey struct{}

// ContextWithPrincipal stores the resolved caller in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the resolved caller, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}
