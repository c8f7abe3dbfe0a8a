package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/akinalp/groomnet/models"
	"github.com/akinalp/groomnet/pkg"
	"github.com/akinalp/groomnet/pkg/ratelimit"
)

// SessionService is the part of services.IdentityService the session
// endpoints use.
type SessionService interface {
	Login(ctx context.Context, token string) (*models.Identity, error)
	Logout(ctx context.Context) error
	Current() *models.Identity
}

// SessionHandler serves /api/session.
type SessionHandler struct {
	sessions SessionService
	limiter  *ratelimit.Limiter
}

// NewSessionHandler, constructor. limiter may be nil.
func NewSessionHandler(sessions SessionService, limiter *ratelimit.Limiter) *SessionHandler {
	return &SessionHandler{sessions: sessions, limiter: limiter}
}

type loginRequest struct {
	Token string `json:"token"`
}

// Get godoc
// GET /api/session
// Returns the current identity, or null when signed out.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	pkg.JSON(w, http.StatusOK, map[string]any{"identity": h.sessions.Current()})
}

// Login godoc
// POST /api/session
// Body: { "token": "<bearer token>" }. The Authorization header is accepted
// as well.
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	if !allow(w, h.limiter, "POST /api/session") {
		return
	}

	var req loginRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.Token == "" {
		req.Token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if strings.TrimSpace(req.Token) == "" {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "token is required")
		return
	}

	identity, err := h.sessions.Login(r.Context(), req.Token)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	if h.limiter != nil {
		h.limiter.Reset("POST /api/session")
	}
	pkg.JSON(w, http.StatusOK, map[string]any{"identity": identity})
}

// Logout godoc
// DELETE /api/session
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Logout(r.Context()); err != nil {
		pkg.Error(w, err)
		return
	}
	pkg.JSON(w, http.StatusOK, map[string]string{"message": "signed out"})
}
