package actorcontext

import (
	"net/http"

	"github.com/angelmondragon/medrun-backend/api/middleware"
	"github.com/angelmondragon/medrun-backend/pkg/auth"
	"github.com/angelmondragon/medrun-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/medrun-backend/pkg/errors"
)

// Resolve returns the authenticated caller of the request.
func Resolve(r *http.Request) (auth.Actor, error) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		return auth.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "authenticated actor required")
	}
	return actor, nil
}

// ResolveRole returns the caller only when it holds one of roles.
func ResolveRole(r *http.Request, roles ...enums.ActorRole) (auth.Actor, error) {
	actor, err := Resolve(r)
	if err != nil {
		return auth.Actor{}, err
	}
	for _, role := range roles {
		if actor.Role == role {
			return actor, nil
		}
	}
	return auth.Actor{}, pkgerrors.New(pkgerrors.CodeForbidden, "role not permitted").WithDetails(map[string]any{"role": actor.Role})
}
