package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// CorrelationHeader carries the token that ties an HTTP request to the
// player commands and audit entries it produces.
const CorrelationHeader = "X-Correlation-Token"

const requestIDHeader = "X-Request-Id"

type correlationKey struct{}

// CorrelationMiddleware tags every request with a correlation token. An
// explicit X-Correlation-Token wins over X-Request-Id; when neither is sent
// a UUID is minted. The token is echoed on both response headers.
func CorrelationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(CorrelationHeader)
		if token == "" {
			token = r.Header.Get(requestIDHeader)
		}
		if token == "" {
			token = uuid.NewString()
		}

		w.Header().Set(CorrelationHeader, token)
		w.Header().Set(requestIDHeader, token)
		next.ServeHTTP(w, r.WithContext(WithCorrelation(r.Context(), token)))
	})
}

// WithCorrelation returns a context carrying token.
func WithCorrelation(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, correlationKey{}, token)
}

// Correlation returns the token attached by CorrelationMiddleware, or "".
func Correlation(r *http.Request) string {
	if r == nil {
		return ""
	}
	token, _ := r.Context().Value(correlationKey{}).(string)
	return token
}
