package shared

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type correlationContextKey struct{}

// ContextWithCorrelationID stores the request correlation ID in context.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationContextKey{}, id)
}

// CorrelationIDFromContext extracts the correlation ID, generating one when absent.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationContextKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// CorrelationIDHeader is the inbound header carrying a caller-supplied correlation ID.
const CorrelationIDHeader = "X-Correlation-ID"

// CorrelationID resolves the correlation ID for a request, preferring the
// caller-supplied header over a freshly generated one.
func CorrelationID(r *http.Request) string {
	if id := r.Header.Get(CorrelationIDHeader); id != "" {
		return id
	}
	return uuid.NewString()
}
