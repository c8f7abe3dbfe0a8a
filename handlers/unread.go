package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/akinalp/groomnet/models"
	"github.com/akinalp/groomnet/pkg"
)

// UnreadService is the part of services.NotificationSync the unread
// endpoints use.
type UnreadService interface {
	Snapshot() models.UnreadSnapshot
	MarkRead(conversationID int64)
	SetLocation(path string)
	Viewing() int64
}

// UnreadHandler serves the unread counters and the UI location.
type UnreadHandler struct {
	unread UnreadService
}

// NewUnreadHandler, constructor.
func NewUnreadHandler(unread UnreadService) *UnreadHandler {
	return &UnreadHandler{unread: unread}
}

type locationRequest struct {
	Path string `json:"path"`
}

// Get godoc
// GET /api/unread
func (h *UnreadHandler) Get(w http.ResponseWriter, r *http.Request) {
	pkg.JSON(w, http.StatusOK, h.unread.Snapshot())
}

// MarkRead godoc
// POST /api/unread/{id}/read
func (h *UnreadHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	h.unread.MarkRead(id)
	pkg.JSON(w, http.StatusOK, h.unread.Snapshot())
}

// SetLocation godoc
// PUT /api/location
// Body: { "path": "/chat/42" }. An empty path means no chat is open.
func (h *UnreadHandler) SetLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.unread.SetLocation(req.Path)
	pkg.JSON(w, http.StatusOK, map[string]int64{"viewing": h.unread.Viewing()})
}
