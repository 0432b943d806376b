package policy

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sentra-authz/sentra/internal/cache"
	"github.com/sentra-authz/sentra/internal/identity"
	"github.com/sentra-authz/sentra/internal/platform/httpx"
	"github.com/sentra-authz/sentra/internal/shared"
)

// Handler wires the HTTP decision endpoints. A deny is a successful
// evaluation and responds 200; only an unauthenticatable credential yields
// 401. Evaluation never produces 5xx.
type Handler struct {
	logger    *slog.Logger
	engine    *Engine
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, engine *Engine) *Handler {
	return &Handler{
		logger:    logger,
		engine:    engine,
		validator: validator.New(),
	}
}

// MountRoutes registers decision routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/evaluate", h.evaluate)
	r.Post("/evaluate/batch", h.evaluateBatch)
	r.Get("/stats", h.stats)
}

type evaluateResponse struct {
	Success bool `json:"success"`
	Decision
}

type batchRequest struct {
	Requests []Request `json:"requests" validate:"required,min=1,dive"`
}

func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request) {
	ctx := shared.ContextWithCorrelationID(r.Context(), shared.CorrelationID(r))

	var req Request
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(ctx, w, fmt.Errorf("%w: %v", shared.ErrValidation, err))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(ctx, w, fmt.Errorf("%w: %v", shared.ErrValidation, err))
		return
	}

	cred := identity.CredentialFromRequest(r)
	principal, err := h.engine.Identity().Resolve(cred)
	if err != nil {
		httpx.RespondError(ctx, w, err)
		return
	}

	decision := h.engine.EvaluatePrincipal(ctx, principal, cache.HashSecret(cred.Fingerprint()), req)
	httpx.JSON(w, http.StatusOK, evaluateResponse{Success: true, Decision: decision})
}

func (h *Handler) evaluateBatch(w http.ResponseWriter, r *http.Request) {
	ctx := shared.ContextWithCorrelationID(r.Context(), shared.CorrelationID(r))

	var batch batchRequest
	if err := httpx.DecodeJSON(r, &batch); err != nil {
		httpx.RespondError(ctx, w, fmt.Errorf("%w: %v", shared.ErrValidation, err))
		return
	}
	if err := h.validator.Struct(batch); err != nil {
		httpx.RespondError(ctx, w, fmt.Errorf("%w: %v", shared.ErrValidation, err))
		return
	}

	cred := identity.CredentialFromRequest(r)
	principal, err := h.engine.Identity().Resolve(cred)
	if err != nil {
		httpx.RespondError(ctx, w, err)
		return
	}

	subject := cache.HashSecret(cred.Fingerprint())
	results := make([]evaluateResponse, len(batch.Requests))
	for i, req := range batch.Requests {
		decision := h.engine.EvaluatePrincipal(ctx, principal, subject, req)
		results[i] = evaluateResponse{Success: true, Decision: decision}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"success": true, "results": results})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.engine.CacheStats())
}
