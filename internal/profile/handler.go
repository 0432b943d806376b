package profile

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sentra-authz/sentra/internal/identity"
	"github.com/sentra-authz/sentra/internal/platform/httpx"
	"github.com/sentra-authz/sentra/internal/shared"
)

// Handler exposes the caller's own profile snapshot.
type Handler struct {
	logger    *slog.Logger
	resolver  *identity.Resolver
	snapshots *Snapshots
}

func NewHandler(logger *slog.Logger, resolver *identity.Resolver, snapshots *Snapshots) *Handler {
	return &Handler{logger: logger, resolver: resolver, snapshots: snapshots}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/me", h.me)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	ctx := shared.ContextWithCorrelationID(r.Context(), shared.CorrelationID(r))

	principal, err := h.resolver.Resolve(identity.CredentialFromRequest(r))
	if err != nil {
		httpx.RespondError(ctx, w, err)
		return
	}

	snap, notModified, err := h.snapshots.GetConditional(ctx, principal.TenantID, principal.UserID, r.Header.Get("If-None-Match"))
	if err != nil {
		httpx.RespondError(ctx, w, err)
		return
	}

	w.Header().Set("ETag", snap.ETag)
	w.Header().Set("X-Policy-Version", strconv.FormatInt(snap.PolicyVersion, 10))
	if notModified {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}
