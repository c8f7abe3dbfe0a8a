// Package middleware wraps local API handlers.
//
// A middleware is func(next http.Handler) http.Handler: it does its check,
// then either calls next or writes the error response itself.
package middleware

import (
	"context"
	"net/http"

	"github.com/akinalp/groomnet/handlers"
	"github.com/akinalp/groomnet/models"
	"github.com/akinalp/groomnet/pkg"
)

// IdentitySource returns the signed-in identity, nil when signed out.
// services.IdentityService satisfies it.
type IdentitySource interface {
	Current() *models.Identity
}

// IdentityMiddleware requires a signed-in identity.
//
// The agent is single-user: there is no per-request token. The local API is
// usable only while the agent holds a session, and the identity is put into
// the request context for handlers that need the role or barber id.
type IdentityMiddleware struct {
	source IdentitySource
}

// NewIdentityMiddleware, constructor.
func NewIdentityMiddleware(source IdentitySource) *IdentityMiddleware {
	return &IdentityMiddleware{source: source}
}

// Require answers 401 while signed out.
func (m *IdentityMiddleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := m.source.Current()
		if identity == nil {
			pkg.ErrorWithMessage(w, http.StatusUnauthorized, "not signed in")
			return
		}

		ctx := context.WithValue(r.Context(), handlers.IdentityContextKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
