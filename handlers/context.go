// Package handlers serves the agent's local HTTP API.
//
// Handlers are thin: parse the request, call a service, write the
// pkg.APIResponse envelope. Domain errors map to status codes in pkg.Error.
package handlers

import (
	"fmt"
	"net/http"

	"github.com/akinalp/groomnet/models"
	"github.com/akinalp/groomnet/pkg"
	"github.com/akinalp/groomnet/pkg/ratelimit"
)

// contextKey namespaces values this package stores in a request context.
type contextKey string

// IdentityContextKey carries the signed-in *models.Identity. Set by
// middleware.IdentityMiddleware.
const IdentityContextKey contextKey = "identity"

// identityFromContext returns the identity set by the middleware, writing a
// 401 when there is none.
func identityFromContext(w http.ResponseWriter, r *http.Request) (*models.Identity, bool) {
	identity, ok := r.Context().Value(IdentityContextKey).(*models.Identity)
	if !ok || identity == nil {
		pkg.ErrorWithMessage(w, http.StatusUnauthorized, "not signed in")
		return nil, false
	}
	return identity, true
}

// allow applies limiter to key and writes a 429 with Retry-After when the
// limit is hit. A nil limiter allows everything.
func allow(w http.ResponseWriter, limiter *ratelimit.Limiter, key string) bool {
	if limiter == nil || limiter.Allow(key) {
		return true
	}
	retryAfter := limiter.RetryAfterSeconds(key)
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
	pkg.ErrorWithMessage(w, http.StatusTooManyRequests,
		fmt.Sprintf("too many requests, please try again in %s", ratelimit.FormatRetryMessage(retryAfter)))
	return false
}
