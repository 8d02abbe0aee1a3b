package middleware

import (
	"net/http"

	"github.com/casbin/casbin/v2"

	"go-wiki-engine/internal/auth"
	"go-wiki-engine/internal/logger"
	"go-wiki-engine/internal/session"
)

// Identify resolves the signed in user from the session and stores it,
// with the roles granted to it, in the request context.
func Identify(e *casbin.Enforcer, sm session.Manager, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := &UserInfo{Email: sm.GetString(r.Context(), session.KeyEmail)}
			roles, err := auth.Roles(e, info.Subject())
			if err != nil {
				log.Error(err, "Failed to resolve user roles")
			}
			info.Roles = roles
			next.ServeHTTP(w, r.WithContext(SetUserInfo(r.Context(), info)))
		})
	}
}

// Authorizer creates a new middleware for authorization.
// It checks the permissions of the user found by Identify using Casbin.
func Authorizer(e *casbin.Enforcer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := GetUserInfo(r.Context()).Subject()

			allowed, err := e.Enforce(subject, r.URL.Path, r.Method)
			if err != nil {
				http.Error(w, "Authorization error", http.StatusInternalServerError)
				return
			}

			if !allowed {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
