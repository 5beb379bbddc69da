package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/angelmondragon/medrun-backend/api/responses"
	pkgauth "github.com/angelmondragon/medrun-backend/pkg/auth"
	"github.com/angelmondragon/medrun-backend/pkg/config"
	"github.com/angelmondragon/medrun-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/medrun-backend/pkg/errors"
	"github.com/angelmondragon/medrun-backend/pkg/logger"
)

// Auth verifies the bearer token and puts the caller on the request context
// and its log fields.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	verifier := pkgauth.NewVerifier(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			claims, err := verifier.Verify(token)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			actor := pkgauth.ActorFromClaims(claims)
			ctx = WithActor(ctx, actor)
			if logg != nil {
				ctx = logg.WithActorRole(logg.WithUserID(ctx, actor.UserID.String()), string(actor.Role))
				if actor.FacilityID != nil {
					ctx = logg.WithFacilityID(ctx, actor.FacilityID.String())
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken accepts "Bearer <token>" in any case, or a bare token.
func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if scheme, rest, found := strings.Cut(header, " "); found && strings.EqualFold(scheme, "bearer") {
		header = strings.TrimSpace(rest)
	}
	return header, header != ""
}

// RequireRole must run after Auth.
func RequireRole(logg *logger.Logger, roles ...enums.ActorRole) func(http.Handler) http.Handler {
	denied := pkgerrors.New(pkgerrors.CodeForbidden, "role required").WithDetails(map[string]any{"allowed_roles": roles})
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok || !slices.Contains(roles, actor.Role) {
				responses.WriteError(r.Context(), logg, w, denied)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
