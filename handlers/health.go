package handlers

import (
	"net/http"

	"github.com/akinalp/groomnet/models"
	"github.com/akinalp/groomnet/pkg"
)

// ChannelStater reports an upstream socket's state. ws.Channel satisfies it.
type ChannelStater interface {
	State() models.ConnectionState
}

// HealthHandler serves /api/health.
type HealthHandler struct {
	notifications ChannelStater
	booking       ChannelStater
}

// NewHealthHandler, constructor.
func NewHealthHandler(notifications, booking ChannelStater) *HealthHandler {
	return &HealthHandler{notifications: notifications, booking: booking}
}

// Get godoc
// GET /api/health
// Always 200 while the agent runs; the upstream socket states are reported
// in the body.
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	pkg.JSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "groomnet-agent",
		"upstream": map[string]models.ConnectionState{
			"notifications": h.notifications.State(),
			"booking":       h.booking.State(),
		},
	})
}
