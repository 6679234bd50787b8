package authz

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-hq/meridian/internal/authz/filter"
	"github.com/meridian-hq/meridian/internal/platform/httpx"
	"github.com/meridian-hq/meridian/internal/rbac"
	"github.com/meridian-hq/meridian/internal/rbac/cache"
	"github.com/meridian-hq/meridian/internal/shared"
)

// Handler exposes permission checks and the authorization debug surface.
type Handler struct {
	logger    *slog.Logger
	evaluator *Evaluator
	cache     *cache.Cache
	guard     func(http.Handler) http.Handler
}

// NewHandler builds Handler instance. guard protects the audit and rule
// administration routes.
func NewHandler(logger *slog.Logger, evaluator *Evaluator, c *cache.Cache, guard func(http.Handler) http.Handler) *Handler {
	return &Handler{logger: logger, evaluator: evaluator, cache: c, guard: guard}
}

// MountRoutes registers authorization routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/check", h.check)
	r.Get("/access-rights", h.accessRights)
	r.Get("/filters/{resource}", h.describeFilter)
	r.Group(func(r chi.Router) {
		if h.guard != nil {
			r.Use(h.guard)
		}
		r.Get("/stats", h.stats)
		r.Get("/audit", h.audit)
		r.Post("/rules", h.addRule)
		r.Delete("/rules/{id}", h.removeRule)
	})
}

type checkRequest struct {
	Permission string  `json:"permission"`
	Context    Context `json:"context"`
}

// check evaluates one permission for the calling user. The caller cannot
// evaluate on behalf of someone else; the user always comes from the session.
func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	var req checkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if req.Permission == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "permission is required")
		return
	}
	if req.Context.TenantID == "" {
		req.Context.TenantID = principal.TenantID
	}
	eval := h.evaluator.Evaluate(r.Context(), principal.UserID, req.Permission, req.Context)
	httpx.JSON(w, http.StatusOK, eval)
}

// accessRights returns the caller's per-resource access map, cached for five
// minutes per (user, tenant).
func (h *Handler) accessRights(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	if rights, ok := h.cache.AccessRights(r.Context(), principal.UserID, principal.TenantID); ok {
		httpx.JSON(w, http.StatusOK, map[string]any{"rights": rights, "cached": true})
		return
	}
	rights := make(map[string]bool, len(filter.AllResources()))
	for _, res := range filter.AllResources() {
		rights[string(res)] = filter.CanAccess(principal.Role, res)
	}
	h.cache.SetAccessRights(r.Context(), principal.UserID, principal.TenantID, rights)
	httpx.JSON(w, http.StatusOK, map[string]any{"rights": rights, "cached": false})
}

// describeFilter explains which rows of a resource the caller can see.
func (h *Handler) describeFilter(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	res, err := filter.ParseResource(chi.URLParam(r, "resource"))
	if err != nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		return
	}
	ctx := filter.UserContext{
		UserID:     principal.UserID,
		Role:       principal.Role,
		TenantID:   principal.TenantID,
		ProjectIDs: principal.ProjectIDs,
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"resource":    res,
		"can_access":  filter.CanAccess(principal.Role, res),
		"description": filter.Describe(ctx, res),
	})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{
		"evaluator": h.evaluator.Stats(),
		"cache":     h.cache.Stats(),
	})
}

func (h *Handler) audit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "limit must be a positive integer")
			return
		}
		limit = n
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"evaluations": h.evaluator.RecentAudit(limit)})
}

type ruleRequest struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Effect      string          `json:"effect"`
	Priority    int             `json:"priority"`
	Conditions  []conditionSpec `json:"conditions"`
}

type conditionSpec struct {
	Kind  string          `json:"kind"`
	Op    Operator        `json:"op"`
	Value json.RawMessage `json:"value"`
}

func (h *Handler) addRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	rule, err := req.toRule()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	h.evaluator.AddRule(rule)
	h.logger.Info("custom rule added", slog.String("rule_id", rule.ID), slog.Int("priority", rule.Priority))
	httpx.JSON(w, http.StatusCreated, map[string]string{"id": rule.ID})
}

func (h *Handler) removeRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.evaluator.RemoveRule(id) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no rule with id "+id)
		return
	}
	h.logger.Info("custom rule removed", slog.String("rule_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (r ruleRequest) toRule() (Rule, error) {
	if r.ID == "" || r.Name == "" {
		return Rule{}, fmt.Errorf("authz: rule id and name are required")
	}
	var effect Effect
	switch r.Effect {
	case "allow":
		effect = Allow
	case "deny":
		effect = Deny
	default:
		return Rule{}, fmt.Errorf("authz: effect must be allow or deny")
	}
	if len(r.Conditions) == 0 {
		return Rule{}, fmt.Errorf("authz: at least one condition is required")
	}
	conds := make([]Condition, 0, len(r.Conditions))
	for _, spec := range r.Conditions {
		cond, err := spec.toCondition()
		if err != nil {
			return Rule{}, err
		}
		conds = append(conds, cond)
	}
	return Rule{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Effect:      effect,
		Priority:    r.Priority,
		Conditions:  conds,
	}, nil
}

// operand decodes the condition value, which is either a single string or a
// string list for the in / not_in operators.
func (s conditionSpec) operand() (string, []string, error) {
	var value string
	if err := json.Unmarshal(s.Value, &value); err == nil {
		return value, nil, nil
	}
	var values []string
	if err := json.Unmarshal(s.Value, &values); err == nil {
		return "", values, nil
	}
	return "", nil, fmt.Errorf("authz: condition value must be a string or a string list")
}

func (s conditionSpec) toCondition() (Condition, error) {
	value, values, err := s.operand()
	if err != nil {
		return nil, err
	}
	switch s.Kind {
	case "permission":
		return PermissionCondition{Op: s.Op, Value: value, Values: values}, nil
	case "tenant":
		return TenantCondition{Op: s.Op, Value: value, Values: values}, nil
	case "action":
		return ActionCondition{Op: s.Op, Value: value, Values: values}, nil
	case "resource":
		return ResourceCondition{Op: s.Op, Value: value, Values: values}, nil
	case "role":
		role := rbac.RoleName(value)
		if !role.Valid() {
			return nil, fmt.Errorf("authz: unknown role %q", value)
		}
		return RoleCondition{Op: s.Op, Role: role}, nil
	default:
		return nil, fmt.Errorf("authz: unknown condition kind %q", s.Kind)
	}
}
