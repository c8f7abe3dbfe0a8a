package main

import (
	"github.com/akinalp/groomnet/config"
	"github.com/akinalp/groomnet/handlers"
	"github.com/akinalp/groomnet/ws"
)

// Handlers holds every HTTP handler instance.
type Handlers struct {
	Health   *handlers.HealthHandler
	Session  *handlers.SessionHandler
	Unread   *handlers.UnreadHandler
	Offer    *handlers.OfferHandler
	Presence *handlers.PresenceHandler
	WS       *ws.Handler
}

func initHandlers(svcs *Services, repos *Repositories, limiters *RateLimiters, hub *ws.Hub, cfg *config.Config) *Handlers {
	return &Handlers{
		Health:   handlers.NewHealthHandler(svcs.NotificationChannel, svcs.BookingChannel),
		Session:  handlers.NewSessionHandler(svcs.Identity, limiters.Login),
		Unread:   handlers.NewUnreadHandler(svcs.Sync),
		Offer:    handlers.NewOfferHandler(svcs.Offers, repos.Offer),
		Presence: handlers.NewPresenceHandler(svcs.Presence, limiters.Presence),
		WS:       ws.NewHandler(hub, agentState{svcs: svcs}, cfg.Agent.AllowedOrigins),
	}
}
