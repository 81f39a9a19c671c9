package middleware

import (
	"fmt"
	"net/http"

	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/user"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/handler/http/response"
)

// RequirePermission checks if user has specific permission
func RequirePermission(permission user.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				response.HandleError(w, fmt.Errorf("%w: required '%s'", user.ErrInsufficientPermissions, permission))
				return
			}

			if !actor.Can(permission) {
				response.HandleError(w, fmt.Errorf("%w: required '%s', but user role is '%s'", user.ErrInsufficientPermissions, permission, actor.Role))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
