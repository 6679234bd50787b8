// Package authz answers "can user U perform permission P in context C?" with
// a deterministic precedence chain, a short-lived decision cache and a
// bounded audit trail. Decisions here shape queries and UI; the database's
// row-level security remains the authoritative enforcement point.
package authz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/meridian-hq/meridian/internal/rbac"
)

const (
	evalTTL         = 2 * time.Minute
	auditCap        = 1000
	recentWindow    = 5 * time.Minute
	cleanupInterval = 5 * time.Minute
)

// Context describes where a permission check takes place.
type Context struct {
	TenantID   string `json:"tenant_id,omitempty"`
	ProjectID  string `json:"project_id,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`
	Action     string `json:"action"`
	Resource   string `json:"resource"`
}

// Evaluation is the result of evaluating one (user, permission, context)
// triple. Created fresh per evaluation, cached for two minutes and appended
// to the audit log; never persisted beyond process lifetime.
type Evaluation struct {
	Granted      bool      `json:"granted"`
	Reason       string    `json:"reason"`
	AppliedRules []string  `json:"applied_rules"`
	Permission   string    `json:"permission"`
	Context      Context   `json:"context"`
	EvaluatedAt  time.Time `json:"evaluated_at"`
	UserID       string    `json:"user_id"`
}

// Directory resolves a user's live assignments and permission set, normally
// backed by the rbac cache.
type Directory interface {
	Roles(ctx context.Context, userID, tenantID string) ([]rbac.Assignment, error)
	Permissions(ctx context.Context, userID, tenantID string) ([]rbac.UserPermission, error)
}

// Evaluator is the permission decision engine.
type Evaluator struct {
	dir    Directory
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]Evaluation
	audit []Evaluation
	rules []Rule

	now func() time.Time
}

// NewEvaluator constructs an Evaluator on top of the given directory.
func NewEvaluator(dir Directory, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		dir:    dir,
		logger: logger,
		cache:  make(map[string]Evaluation),
		now:    time.Now,
	}
}

// Run expires cached evaluations periodically until ctx is cancelled.
func (e *Evaluator) Run(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.cleanup()
		}
	}
}

// Evaluate decides whether userID holds permission in the given context. It
// never returns an error: any failure while resolving roles or permissions
// degrades to a denied evaluation carrying the error text, which is cached
// and audited like any other result.
func (e *Evaluator) Evaluate(ctx context.Context, userID, permission string, evalCtx Context) Evaluation {
	if evalCtx.Action == "" {
		evalCtx.Action = "access"
	}
	if evalCtx.Resource == "" {
		evalCtx.Resource = "general"
	}

	key := evalKey(userID, permission, evalCtx)
	now := e.now()

	e.mu.Lock()
	if cached, ok := e.cache[key]; ok && now.Sub(cached.EvaluatedAt) < evalTTL {
		e.mu.Unlock()
		return cached
	}
	e.mu.Unlock()

	eval := e.evaluate(ctx, userID, permission, evalCtx)

	e.mu.Lock()
	e.cache[key] = eval
	e.audit = append(e.audit, eval)
	if len(e.audit) > auditCap {
		e.audit = e.audit[len(e.audit)-auditCap:]
	}
	e.mu.Unlock()

	return eval
}

// Can is the boolean convenience wrapper used by UI checks; the permission
// name is derived as "{action}_{resource}".
func (e *Evaluator) Can(ctx context.Context, userID, action, resource string, evalCtx Context) bool {
	evalCtx.Action = action
	evalCtx.Resource = resource
	return e.Evaluate(ctx, userID, action+"_"+resource, evalCtx).Granted
}

func (e *Evaluator) evaluate(ctx context.Context, userID, permission string, evalCtx Context) Evaluation {
	eval := Evaluation{
		Granted:      false,
		Reason:       "Permission denied by default",
		AppliedRules: []string{},
		Permission:   permission,
		Context:      evalCtx,
		EvaluatedAt:  e.now(),
		UserID:       userID,
	}

	assignments, err := e.dir.Roles(ctx, userID, evalCtx.TenantID)
	if err != nil {
		e.logger.Warn("authz role resolution failed", slog.String("user_id", userID), slog.Any("error", err))
		eval.Reason = fmt.Sprintf("Evaluation error: %v", err)
		return eval
	}
	perms, err := e.dir.Permissions(ctx, userID, evalCtx.TenantID)
	if err != nil {
		e.logger.Warn("authz permission resolution failed", slog.String("user_id", userID), slog.Any("error", err))
		eval.Reason = fmt.Sprintf("Evaluation error: %v", err)
		return eval
	}

	// 1. Super admin override.
	if hasRole(assignments, rbac.RoleSuperAdmin) {
		eval.Granted = true
		eval.Reason = "Super Admin - full access"
		eval.AppliedRules = append(eval.AppliedRules, "SUPER_ADMIN_RULE")
		return eval
	}

	// 2. Explicit permission from the resolved set.
	if hasPermission(perms, permission) {
		eval.Granted = true
		eval.Reason = fmt.Sprintf("Explicit permission: %s", permission)
		eval.AppliedRules = append(eval.AppliedRules, "EXPLICIT_PERMISSION")
		return eval
	}

	// 3. Role-derived permission. Same membership check as step 2, kept as a
	// distinct audited stage; also re-grants for super admin as a safety net.
	if granted, reason, rules := checkRolePermissions(assignments, perms, permission); granted {
		eval.Granted = true
		eval.Reason = reason
		eval.AppliedRules = append(eval.AppliedRules, rules...)
		return eval
	}

	// 4. Contextual permissions.
	if granted, reason, rules := checkContextual(assignments, permission, evalCtx); granted {
		eval.Granted = true
		eval.Reason = reason
		eval.AppliedRules = append(eval.AppliedRules, rules...)
		return eval
	}

	// 5. Custom rules, highest priority first, first full match wins.
	if outcome, ok := e.applyRules(assignments, permission, evalCtx); ok {
		eval.Granted = outcome.Granted
		eval.Reason = outcome.Reason
		eval.AppliedRules = append(eval.AppliedRules, outcome.AppliedRules...)
		return eval
	}

	// 6. Baseline permissions for any authenticated user.
	for _, p := range rbac.BaselinePermissions() {
		if p == permission {
			eval.Granted = true
			eval.Reason = "Baseline permission for authenticated users"
			eval.AppliedRules = append(eval.AppliedRules, "AUTHENTICATED_USER_RULE")
			return eval
		}
	}

	// 7. Default deny.
	eval.Reason = fmt.Sprintf("Permission '%s' not granted for this role/context", permission)
	return eval
}

func checkRolePermissions(assignments []rbac.Assignment, perms []rbac.UserPermission, permission string) (bool, string, []string) {
	for _, p := range perms {
		if p.Name == permission {
			reason := fmt.Sprintf("Permission '%s' granted by role '%s'", permission, p.RoleName)
			return true, reason, []string{fmt.Sprintf("ROLE_%s_%s", p.RoleName, p.Name)}
		}
	}
	if hasRole(assignments, rbac.RoleSuperAdmin) {
		return true, "Super Admin - full access to all permissions", []string{"SUPER_ADMIN_ALL_PERMISSIONS"}
	}
	return false, "", nil
}

// checkContextual covers permissions whose grant depends on context fields
// rather than flat role membership. New contextual permissions are added here
// as further named checks.
func checkContextual(assignments []rbac.Assignment, permission string, evalCtx Context) (bool, string, []string) {
	switch permission {
	case rbac.PermEditProjectInTenant, rbac.PermViewEmployeeInTenant:
		if evalCtx.TenantID == "" {
			return false, "", nil
		}
		for _, a := range assignments {
			if a.TenantID == evalCtx.TenantID {
				return true, "Granted within the user's tenant", []string{"CONTEXTUAL_TENANT_PERMISSION"}
			}
		}
	case rbac.PermAssignTaskInProject, rbac.PermManageBudgetInProject:
		if evalCtx.ProjectID == "" {
			return false, "", nil
		}
		if hasRole(assignments, rbac.RoleProjectManager) {
			return true, "Granted as project manager", []string{"CONTEXTUAL_PROJECT_MANAGER_PERMISSION"}
		}
	}
	return false, "", nil
}

func (e *Evaluator) applyRules(assignments []rbac.Assignment, permission string, evalCtx Context) (Evaluation, bool) {
	in := Inputs{
		Permission: permission,
		Roles:      roleNames(assignments),
		TenantID:   evalCtx.TenantID,
		Action:     evalCtx.Action,
		Resource:   evalCtx.Resource,
	}

	e.mu.Lock()
	rules := make([]Rule, len(e.rules))
	copy(rules, e.rules)
	e.mu.Unlock()

	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })
	for _, r := range rules {
		if r.matches(in) {
			return Evaluation{
				Granted:      r.Effect == Allow,
				Reason:       fmt.Sprintf("Custom rule applied: %s", r.Name),
				AppliedRules: []string{r.ID},
			}, true
		}
	}
	return Evaluation{}, false
}

// AddRule registers a custom rule.
func (e *Evaluator) AddRule(rule Rule) {
	e.mu.Lock()
	e.rules = append(e.rules, rule)
	e.mu.Unlock()
	e.logger.Info("authz custom rule added", slog.String("rule", rule.Name))
}

// RemoveRule unregisters a custom rule by id, reporting whether it existed.
func (e *Evaluator) RemoveRule(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, r := range e.rules {
		if r.ID == id {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			return true
		}
	}
	return false
}

// InvalidateUser drops the user's cached evaluations. The underlying role and
// permission cache is managed separately.
func (e *Evaluator) InvalidateUser(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, eval := range e.cache {
		if eval.UserID == userID {
			delete(e.cache, key)
		}
	}
}

// Stats reports evaluator state for operational visibility.
type Stats struct {
	EvaluationCacheSize int `json:"evaluation_cache_size"`
	AuditLogSize        int `json:"audit_log_size"`
	CustomRuleCount     int `json:"custom_rule_count"`
	RecentEvaluations   int `json:"recent_evaluations"`
}

// Stats returns current evaluator counters; recent means the last 5 minutes.
func (e *Evaluator) Stats() Stats {
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	recent := 0
	for _, eval := range e.audit {
		if now.Sub(eval.EvaluatedAt) < recentWindow {
			recent++
		}
	}
	return Stats{
		EvaluationCacheSize: len(e.cache),
		AuditLogSize:        len(e.audit),
		CustomRuleCount:     len(e.rules),
		RecentEvaluations:   recent,
	}
}

// RecentAudit returns up to limit most recent audit entries, newest last.
func (e *Evaluator) RecentAudit(limit int) []Evaluation {
	if limit <= 0 {
		limit = 50
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if limit > len(e.audit) {
		limit = len(e.audit)
	}
	out := make([]Evaluation, limit)
	copy(out, e.audit[len(e.audit)-limit:])
	return out
}

func (e *Evaluator) cleanup() {
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := 0
	for key, eval := range e.cache {
		if now.Sub(eval.EvaluatedAt) >= evalTTL {
			delete(e.cache, key)
			removed++
		}
	}
	if removed > 0 {
		e.logger.Debug("authz evaluation cache cleaned", slog.Int("removed", removed))
	}
}

func evalKey(userID, permission string, evalCtx Context) string {
	raw, _ := json.Marshal(evalCtx)
	sum := sha256.Sum256(raw)
	return userID + "|" + permission + "|" + hex.EncodeToString(sum[:8])
}

func hasRole(assignments []rbac.Assignment, role rbac.RoleName) bool {
	for _, a := range assignments {
		if a.RoleName == role {
			return true
		}
	}
	return false
}

func hasPermission(perms []rbac.UserPermission, name string) bool {
	for _, p := range perms {
		if p.Name == name {
			return true
		}
	}
	return false
}

func roleNames(assignments []rbac.Assignment) []rbac.RoleName {
	names := make([]rbac.RoleName, 0, len(assignments))
	for _, a := range assignments {
		names = append(names, a.RoleName)
	}
	return names
}
