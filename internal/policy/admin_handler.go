package policy

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sentra-authz/sentra/internal/identity"
	"github.com/sentra-authz/sentra/internal/platform/httpx"
	"github.com/sentra-authz/sentra/internal/shared"
)

// AdminHandler exposes the invalidation triggers for role, permission, and
// tenant management flows, plus the current policy version. Callers must meet
// the configured minimum role level.
type AdminHandler struct {
	logger      *slog.Logger
	engine      *Engine
	invalidator *Invalidator
	version     *Version
	minRole     string
	validator   *validator.Validate
}

// NewAdminHandler constructs an AdminHandler.
func NewAdminHandler(logger *slog.Logger, engine *Engine, invalidator *Invalidator, version *Version, minRole string) *AdminHandler {
	if minRole == "" {
		minRole = "admin"
	}
	return &AdminHandler{
		logger:      logger,
		engine:      engine,
		invalidator: invalidator,
		version:     version,
		minRole:     minRole,
		validator:   validator.New(),
	}
}

// MountRoutes registers admin routes on the provided router.
func (h *AdminHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.requireMinRole)
		r.Get("/version", h.currentVersion)
		r.Post("/invalidations/role-assignment", h.roleAssignmentChanged)
		r.Post("/invalidations/role-permissions", h.rolePermissionsChanged)
		r.Post("/invalidations/policy-rule", h.policyRuleChanged)
	})
}

// requireMinRole authenticates the caller and checks the privilege floor via
// the role hierarchy.
func (h *AdminHandler) requireMinRole(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := h.engine.Identity().Resolve(identity.CredentialFromRequest(r))
		if err != nil {
			httpx.RespondError(r.Context(), w, err)
			return
		}
		if !h.engine.Hierarchy().HasMinimum(r.Context(), principal.TenantID, principal.Roles, h.minRole) {
			httpx.RespondError(r.Context(), w, fmt.Errorf("%w: requires %s level", shared.ErrForbidden, h.minRole))
			return
		}
		next.ServeHTTP(w, r.WithContext(identity.ContextWithPrincipal(r.Context(), principal)))
	})
}

func (h *AdminHandler) currentVersion(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]int64{"policyVersion": h.version.Current()})
}

type roleAssignmentPayload struct {
	TenantID string `json:"tenantId" validate:"required"`
	UserID   string `json:"userId" validate:"required"`
}

func (h *AdminHandler) roleAssignmentChanged(w http.ResponseWriter, r *http.Request) {
	var payload roleAssignmentPayload
	if err := h.decode(r, &payload); err != nil {
		httpx.RespondError(r.Context(), w, err)
		return
	}
	h.invalidator.OnRoleAssignmentChanged(r.Context(), payload.TenantID, payload.UserID)
	httpx.JSON(w, http.StatusOK, map[string]int64{"policyVersion": h.version.Current()})
}

type rolePermissionsPayload struct {
	TenantID string `json:"tenantId" validate:"required"`
	Role     string `json:"role" validate:"required"`
}

func (h *AdminHandler) rolePermissionsChanged(w http.ResponseWriter, r *http.Request) {
	var payload rolePermissionsPayload
	if err := h.decode(r, &payload); err != nil {
		httpx.RespondError(r.Context(), w, err)
		return
	}
	h.invalidator.OnRolePermissionsChanged(r.Context(), payload.TenantID, payload.Role)
	httpx.JSON(w, http.StatusOK, map[string]int64{"policyVersion": h.version.Current()})
}

type policyRulePayload struct {
	TenantID string `json:"tenantId"`
}

func (h *AdminHandler) policyRuleChanged(w http.ResponseWriter, r *http.Request) {
	var payload policyRulePayload
	if err := h.decode(r, &payload); err != nil {
		httpx.RespondError(r.Context(), w, err)
		return
	}
	h.invalidator.OnPolicyRuleChanged(r.Context(), payload.TenantID)
	httpx.JSON(w, http.StatusOK, map[string]int64{"policyVersion": h.version.Current()})
}

func (h *AdminHandler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	if err := h.validator.Struct(target); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	return nil
}
