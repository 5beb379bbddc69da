package middleware

import (
	"context"

	"github.com/google/uuid"

	pkgauth "github.com/angelmondragon/medrun-backend/pkg/auth"
)

type contextKey string

// actorKey holds the pkgauth.Actor resolved from the bearer token.
const actorKey contextKey = "actor"

// WithActor seeds the context with the caller identity the Auth middleware would set.
func WithActor(ctx context.Context, actor pkgauth.Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext returns the authenticated caller. Anything without a user
// id and a token-grade role, including the system actor, is rejected.
func ActorFromContext(ctx context.Context) (pkgauth.Actor, bool) {
	if ctx == nil {
		return pkgauth.Actor{}, false
	}
	actor, ok := ctx.Value(actorKey).(pkgauth.Actor)
	if !ok || actor.UserID == uuid.Nil || !actor.Role.IsValid() {
		return pkgauth.Actor{}, false
	}
	return actor, true
}

func UserIDFromContext(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok {
		return actor.UserID.String()
	}
	return ""
}

func FacilityIDFromContext(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok && actor.FacilityID != nil {
		return actor.FacilityID.String()
	}
	return ""
}
