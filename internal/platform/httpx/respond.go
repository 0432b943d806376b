// Package httpx provides HTTP response utilities following RFC7807 problem details.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/sentra-authz/sentra/internal/shared"
)

// Control payloads are small; anything larger is a client defect.
const maxBodyBytes = 1 << 20

// ProblemDetail represents RFC7807 problem details. The correlation ID lets
// callers tie a rejected request back to the server logs.
type ProblemDetail struct {
	Type          string `json:"type,omitempty"`
	Title         string `json:"title"`
	Status        int    `json:"status"`
	Detail        string `json:"detail,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Problem sends an RFC7807 problem details response tagged with the
// correlation ID carried by the context, when one is present.
func Problem(ctx context.Context, w http.ResponseWriter, status int, title, detail string) {
	JSON(w, status, ProblemDetail{
		Title:         title,
		Status:        status,
		Detail:        detail,
		CorrelationID: shared.CorrelationIDFromContext(ctx),
	})
}

// DecodeJSON decodes a JSON request body into the target struct, capping the
// body size.
func DecodeJSON(r *http.Request, target any) error {
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes)).Decode(target)
}
