package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"h2ledger/internal/platform/ratelimit"
	"h2ledger/pkg/platform/httputil"
	"h2ledger/pkg/requestcontext"
)

// RateLimit throttles callers per actor id, falling back to the client IP
// for unauthenticated requests. Limiter failures fail open: throttling is
// protection, not an availability dependency.
func RateLimit(limiter ratelimit.Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			key := clientKey(r)
			res, err := limiter.Allow(ctx, key)
			if err != nil {
				logger.ErrorContext(ctx, "rate limit check failed",
					"error", err, "request_id", requestcontext.RequestID(ctx))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed {
				retryAfter := res.RetryAfter(requestcontext.Now(ctx))
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]any{
					"error":       "rate_limit_exceeded",
					"message":     "too many requests, slow down",
					"retry_after": retryAfter,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if actor := requestcontext.ActorID(r.Context()); !actor.IsNil() {
		return "actor:" + actor.String()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
