package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/akinalp/groomnet/models"
	"github.com/akinalp/groomnet/pkg"
	"github.com/akinalp/groomnet/pkg/ratelimit"
)

// PresenceService is the part of services.PresenceController the presence
// endpoints use.
type PresenceService interface {
	State() models.PresenceState
	SetOnline(ctx context.Context, online bool) error
}

// PresenceHandler serves the barber's online toggle.
type PresenceHandler struct {
	presence PresenceService
	limiter  *ratelimit.Limiter
}

// NewPresenceHandler, constructor. limiter may be nil.
func NewPresenceHandler(presence PresenceService, limiter *ratelimit.Limiter) *PresenceHandler {
	return &PresenceHandler{presence: presence, limiter: limiter}
}

type presenceRequest struct {
	Online *bool `json:"online"`
}

// Get godoc
// GET /api/presence
func (h *PresenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	pkg.JSON(w, http.StatusOK, h.presence.State())
}

// Set godoc
// PUT /api/presence
// Body: { "online": true }. Sending the current value again retries the
// connection. A rejected token is a 401; other connection failures answer
// 202 with the current state and are retried.
func (h *PresenceHandler) Set(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(w, r)
	if !ok {
		return
	}
	if !identity.IsBarber() {
		pkg.ErrorWithMessage(w, http.StatusForbidden, "only barbers can go online")
		return
	}
	if !allow(w, h.limiter, "PUT /api/presence") {
		return
	}

	var req presenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Online == nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "body must be {\"online\": true|false}")
		return
	}

	// the dial outlives the request: the channel keeps running after we answer
	if err := h.presence.SetOnline(context.WithoutCancel(r.Context()), *req.Online); err != nil {
		if errors.Is(err, pkg.ErrUnauthorized) {
			pkg.Error(w, err)
			return
		}
		pkg.JSON(w, http.StatusAccepted, h.presence.State())
		return
	}
	pkg.JSON(w, http.StatusOK, h.presence.State())
}
