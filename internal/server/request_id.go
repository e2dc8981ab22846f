package server

import (
	"net/http"

	"github.com/google/uuid"

	reqctx "github.com/ricesearch/rankeval/internal/pkg/context"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// requestIDMiddleware echoes a caller supplied UUID request id, or assigns
// a new one, and stores it in the request context.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = GenerateRequestID()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(reqctx.WithRequestID(r.Context(), id)))
	})
}

// GenerateRequestID generates a unique request id.
func GenerateRequestID() string {
	return uuid.NewString()
}
