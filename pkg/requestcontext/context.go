// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// The auth middleware sets the authenticated actor, role, and KYC status;
// engines read them without importing net/http. Tests inject values directly:
//
//	ctx = requestcontext.WithActor(ctx, actorID, requestcontext.RoleVerifier, true)
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"

	id "h2ledger/pkg/domain"
)

// Role is the coarse authorization role supplied by the identity collaborator.
type Role string

const (
	RoleProducer Role = "producer"
	RoleVerifier Role = "verifier"
	RoleBuyer    Role = "buyer"
	RoleAdmin    Role = "admin"
)

type (
	actorIDKey     struct{}
	roleKey        struct{}
	kycActiveKey   struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// WithActor stores the authenticated actor identity, role, and KYC/active flag.
func WithActor(ctx context.Context, actor id.ActorID, role Role, active bool) context.Context {
	ctx = context.WithValue(ctx, actorIDKey{}, actor)
	ctx = context.WithValue(ctx, roleKey{}, role)
	return context.WithValue(ctx, kycActiveKey{}, active)
}

// ActorID returns the authenticated actor, or the nil id if unauthenticated.
func ActorID(ctx context.Context) id.ActorID {
	actor, _ := ctx.Value(actorIDKey{}).(id.ActorID)
	return actor
}

// ActorRole returns the actor's role, or "" if unauthenticated.
func ActorRole(ctx context.Context) Role {
	role, _ := ctx.Value(roleKey{}).(Role)
	return role
}

// ActorActive reports whether the identity collaborator marked the actor as
// KYC-cleared and active. Submission and verification calls are gated on it.
func ActorActive(ctx context.Context) bool {
	active, _ := ctx.Value(kycActiveKey{}).(bool)
	return active
}

// WithRequestID stores the correlation id set by middleware.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestID returns the correlation id, or "" if unset.
func RequestID(ctx context.Context) string {
	rid, _ := ctx.Value(requestIDKey{}).(string)
	return rid
}

// WithTime fixes the decision time for the request. Tests use it to pin
// verification-window and retention checks.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}

// Now returns the request decision time, falling back to the wall clock.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}
