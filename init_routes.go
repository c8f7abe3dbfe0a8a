package main

import (
	"net/http"

	"github.com/akinalp/groomnet/middleware"
)

// initRoutes registers every endpoint. Health and session are public; the
// rest require a signed-in identity.
func initRoutes(mux *http.ServeMux, h *Handlers, identityMw *middleware.IdentityMiddleware) {
	auth := func(handler http.HandlerFunc) http.Handler {
		return identityMw.Require(handler)
	}

	mux.HandleFunc("GET /api/health", h.Health.Get)

	// Session
	mux.HandleFunc("GET /api/session", h.Session.Get)
	mux.HandleFunc("POST /api/session", h.Session.Login)
	mux.HandleFunc("DELETE /api/session", h.Session.Logout)

	// Unread counters
	mux.Handle("GET /api/unread", auth(h.Unread.Get))
	mux.Handle("POST /api/unread/{id}/read", auth(h.Unread.MarkRead))
	mux.Handle("PUT /api/location", auth(h.Unread.SetLocation))

	// Booking offers
	mux.Handle("GET /api/offer", auth(h.Offer.Get))
	mux.Handle("POST /api/offer/accept", auth(h.Offer.Accept))
	mux.Handle("POST /api/offer/reject", auth(h.Offer.Reject))
	mux.Handle("GET /api/offers/history", auth(h.Offer.History))

	// Presence
	mux.Handle("GET /api/presence", auth(h.Presence.Get))
	mux.Handle("PUT /api/presence", auth(h.Presence.Set))

	// Local UI event stream. Signed-out UIs connect too and get identity=null
	// in the ready event.
	mux.HandleFunc("GET /ws", h.WS.HandleConnection)
}
