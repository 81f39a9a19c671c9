package middleware

import (
	"context"
	"net/http"

	"github.com/go-chi/jwtauth/v5"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/user"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/handler/http/response"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/jwt"
)

type contextKey struct{}

var actorKey = contextKey{}

// AuthRequired accepts access tokens only and puts the caller's Actor in the request context
func AuthRequired(ja *jwtauth.JWTAuth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			token, claims, err := jwtauth.FromContext(r.Context())

			if err != nil {
				response.Unauthorized(w, err.Error())
				return
			}

			if token == nil {
				response.Unauthorized(w, "Invalid token")
				return
			}

			tokenType, ok := claims["type"].(string)
			if tokenType != jwt.TokenTypeAccess || !ok {
				response.Unauthorized(w, "Invalid token type")
				return
			}

			userID, _ := claims["user_id"].(string)
			if userID == "" {
				response.Unauthorized(w, "Invalid token subject")
				return
			}

			roleStr, _ := claims["role"].(string)
			role := user.Role(roleStr)
			if !role.IsValid() {
				response.HandleError(w, user.ErrInvalidRole)
				return
			}

			ctx := WithActor(r.Context(), user.Actor{ID: userID, Role: role})
			next.ServeHTTP(w, r.WithContext(ctx))
		}
		return http.HandlerFunc(hfn)
	}
}

// WithActor returns a copy of ctx carrying actor
func WithActor(ctx context.Context, actor user.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext returns the authenticated caller
func ActorFromContext(ctx context.Context) (user.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(user.Actor)
	return actor, ok
}
