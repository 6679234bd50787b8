package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-hq/meridian/internal/platform/httpx"
	"github.com/meridian-hq/meridian/internal/rbac/cache"
)

// Handler exposes the role administration API.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	guard     func(http.Handler) http.Handler
}

// NewHandler builds Handler instance. guard protects mutating routes, usually
// an authorization middleware requiring the manage_roles permission.
func NewHandler(logger *slog.Logger, service *Service, guard func(http.Handler) http.Handler) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New(), guard: guard}
}

// MountRoutes registers role administration routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/roles", h.listRoles)
	r.Get("/permissions", h.listPermissions)
	r.Group(func(r chi.Router) {
		if h.guard != nil {
			r.Use(h.guard)
		}
		r.Post("/assignments", h.assignRole)
		r.Delete("/assignments", h.revokeRole)
		r.Get("/cache/stats", h.cacheStats)
		r.Post("/cache/invalidate", h.invalidateCache)
	})
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.logger.Error("list roles failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.logger.Error("list permissions failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

type assignmentRequest struct {
	UserID    string     `json:"user_id" validate:"required,uuid"`
	Role      string     `json:"role" validate:"required"`
	TenantID  string     `json:"tenant_id" validate:"omitempty,uuid"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	var req assignmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	role := RoleName(req.Role)
	if !role.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown role "+req.Role)
		return
	}
	id, err := h.service.Assign(r.Context(), req.UserID, role, req.TenantID, req.ExpiresAt)
	if err != nil {
		h.logger.Error("assign role failed", slog.Any("error", err))
		h.respondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *Handler) revokeRole(w http.ResponseWriter, r *http.Request) {
	var req assignmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.Revoke(r.Context(), req.UserID, RoleName(req.Role), req.TenantID); err != nil {
		h.logger.Error("revoke role failed", slog.Any("error", err))
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) cacheStats(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.service.CacheStats())
}

type invalidateRequest struct {
	Event string `json:"event" validate:"required"`
}

func (h *Handler) invalidateCache(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	known := false
	for _, e := range append(cache.InvalidationEvents(), cache.EventSync) {
		if e == req.Event {
			known = true
			break
		}
	}
	if !known {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown event "+req.Event)
		return
	}
	h.service.cache.PublishEvent(r.Context(), req.Event)
	httpx.JSON(w, http.StatusAccepted, map[string]string{"status": "published"})
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		return
	}
	httpx.RespondError(w, err)
}
