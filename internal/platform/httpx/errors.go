package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/sentra-authz/sentra/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
//
// Authentication failures map to 401 with a WWW-Authenticate challenge;
// everything else that is not a recognised domain error becomes an opaque 500.
func RespondError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrUnauthenticated):
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		Problem(ctx, w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, shared.ErrForbidden):
		Problem(ctx, w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(ctx, w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(ctx, w, http.StatusNotFound, "Not Found", err.Error())
	default:
		Problem(ctx, w, http.StatusInternalServerError, "Internal Error", "")
	}
}
