package filter

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/meridian-hq/meridian/internal/rbac"
)

var titleCaser = cases.Title(language.English)

// Describe returns a human-readable summary of what the caller can see in a
// resource, for debug endpoints and admin tooling.
func Describe(ctx UserContext, resource Resource) string {
	label := titleCaser.String(strings.ReplaceAll(string(resource), "_", " "))

	if ctx.Role == rbac.RoleSuperAdmin {
		return fmt.Sprintf("%s: all rows across all tenants", label)
	}
	if ctx.TenantID == "" {
		return fmt.Sprintf("%s: no rows (no tenant context)", label)
	}
	if !CanAccess(ctx.Role, resource) {
		return fmt.Sprintf("%s: no rows (role %s has no access)", label, ctx.Role)
	}

	q := Apply(NewQuery(), ctx, resource)
	frag, _ := q.SQL(1)
	return fmt.Sprintf("%s: rows matching %s", label, frag)
}
