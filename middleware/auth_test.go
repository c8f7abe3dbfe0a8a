package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/akinalp/groomnet/handlers"
	"github.com/akinalp/groomnet/models"
)

type staticSource struct {
	identity *models.Identity
}

func (s staticSource) Current() *models.Identity { return s.identity }

func TestRequireIdentity(t *testing.T) {
	var seen *models.Identity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(handlers.IdentityContextKey).(*models.Identity)
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	NewIdentityMiddleware(staticSource{}).Require(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/unread", nil))
	if rec.Code != http.StatusUnauthorized || seen != nil {
		t.Fatalf("signed out: status = %d, next called = %v", rec.Code, seen != nil)
	}

	identity := &models.Identity{UserID: 4, Role: models.RoleCustomer}
	rec = httptest.NewRecorder()
	NewIdentityMiddleware(staticSource{identity: identity}).Require(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/unread", nil))
	if rec.Code != http.StatusNoContent || seen == nil || seen.UserID != 4 {
		t.Fatalf("signed in: status = %d, identity = %+v", rec.Code, seen)
	}
}
