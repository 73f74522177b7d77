// Package middleware carries the HTTP middleware chain: request ids,
// request logging and metrics, and bearer-token authentication.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	id "h2ledger/pkg/domain"
	dErrors "h2ledger/pkg/domain-errors"
	"h2ledger/pkg/platform/httputil"
	"h2ledger/pkg/requestcontext"
)

// TokenValidator validates a bearer token into claims. Implemented by
// internal/token.
type TokenValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

// Claims are the validated token claims the middleware consumes.
type Claims struct {
	ActorID string
	Role    string
	Active  bool
}

// RequireAuth validates the Authorization bearer token and stores the actor
// identity, role, and active flag in the request context. Requests without a
// valid token get 401.
func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				logger.WarnContext(ctx, "missing authorization header",
					"request_id", requestcontext.RequestID(ctx))
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header"))
				return
			}

			claims, err := validator.ValidateToken(raw)
			if err != nil {
				logger.WarnContext(ctx, "token rejected",
					"error", err, "request_id", requestcontext.RequestID(ctx))
				httputil.WriteError(w, err)
				return
			}

			actor, err := id.ParseActorID(claims.ActorID)
			if err != nil {
				logger.WarnContext(ctx, "token carries malformed actor id",
					"request_id", requestcontext.RequestID(ctx))
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims"))
				return
			}

			ctx = requestcontext.WithActor(ctx, actor, requestcontext.Role(claims.Role), claims.Active)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole gates a route on the actor's role. Admin passes everywhere.
func RequireRole(roles ...requestcontext.Role) func(http.Handler) http.Handler {
	allowed := make(map[requestcontext.Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := requestcontext.ActorRole(r.Context())
			if _, ok := allowed[role]; !ok && role != requestcontext.RoleAdmin {
				httputil.WriteError(w, dErrors.Newf(dErrors.CodeForbidden, "role %s not permitted", role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
