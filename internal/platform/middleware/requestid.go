package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"h2ledger/pkg/requestcontext"
)

const requestIDHeader = "X-Request-Id"

// RequestID propagates the caller's correlation id or mints one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, rid)
		ctx := requestcontext.WithRequestID(r.Context(), rid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
