// Package main wires the agent together.
//
// Construction order matters in initServices: the two upstream channels
// and the components that consume their events refer to each other, so the
// channel callbacks close over variables that are assigned before any
// channel is opened.
package main

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/akinalp/groomnet/api"
	"github.com/akinalp/groomnet/config"
	"github.com/akinalp/groomnet/models"
	"github.com/akinalp/groomnet/pkg/i18n"
	"github.com/akinalp/groomnet/pkg/ratelimit"
	"github.com/akinalp/groomnet/services"
	"github.com/akinalp/groomnet/ws"
)

// Services holds the long-lived components.
type Services struct {
	Notifier *services.Notifier
	Identity *services.IdentityService
	Unread   *services.UnreadStore
	Sync     *services.NotificationSync
	Offers   *services.OfferMachine
	Presence *services.PresenceController

	NotificationChannel *ws.Channel
	BookingChannel      *ws.Channel
	API                 *api.Client
}

// RateLimiters holds the local API limiters.
type RateLimiters struct {
	Login    *ratelimit.Limiter
	Presence *ratelimit.Limiter
}

func initServices(repos *Repositories, cfg *config.Config, loc *i18n.Localizer, sessionKey []byte) (*Services, *RateLimiters) {
	clk := clock.New()

	notifier := services.NewNotifier(loc, clk)
	identity := services.NewIdentityService(repos.Session, sessionKey, clk)
	client := api.NewClient(cfg.Upstream.APIBaseURL, cfg.Upstream.Timeout, identity.Token)

	// ─── Notification side ───

	unread := services.NewUnreadStore()

	var notificationSync *services.NotificationSync
	notificationChannel := ws.NewChannel(ws.ChannelConfig{
		Name: "notifications",
		Reconnect: ws.ReconnectPolicy{
			Enabled: true,
			Delay:   cfg.Sync.ReconnectDelay,
		},
		HeartbeatInterval: cfg.Sync.HeartbeatInterval,
		Clock:             clk,
		Notifier:          notifier,
		Handlers: ws.Handlers{
			OnMessage: func(env ws.Envelope) { notificationSync.HandleEnvelope(env) },
		},
	})
	notificationSync = services.NewNotificationSync(unread, client, notificationChannel, notifier, cfg.Upstream.WSBaseURL)

	// ─── Booking side ───

	var presence *services.PresenceController
	offers := services.NewOfferMachine(services.OfferMachineConfig{
		Window:      cfg.Sync.OfferWindow,
		Clock:       clk,
		Actions:     client,
		Notifier:    notifier,
		Recorder:    repos.Offer,
		OnConfirmed: func(offer models.BookingOffer) { presence.HandleConfirmed(offer) },
	})

	bookingChannel := ws.NewChannel(ws.ChannelConfig{
		Name:              "booking",
		HeartbeatInterval: cfg.Sync.HeartbeatInterval,
		Clock:             clk,
		Notifier:          notifier,
		Handlers: ws.Handlers{
			OnMessage: offers.HandleEnvelope,
			OnState:   func(state models.ConnectionState) { presence.HandleChannelState(state) },
		},
	})
	presence = services.NewPresenceController(client, bookingChannel, offers, cfg.Upstream.WSBaseURL)

	svcs := &Services{
		Notifier:            notifier,
		Identity:            identity,
		Unread:              unread,
		Sync:                notificationSync,
		Offers:              offers,
		Presence:            presence,
		NotificationChannel: notificationChannel,
		BookingChannel:      bookingChannel,
		API:                 client,
	}

	limiters := &RateLimiters{
		Login:    ratelimit.New(clk, 5, 2*time.Minute),
		Presence: ratelimit.New(clk, 20, time.Minute),
	}

	return svcs, limiters
}

// shutdown tears the components down, sockets first.
func (s *Services) shutdown() {
	s.Presence.Close()
	s.Sync.Close()
	s.Offers.Close()
	s.BookingChannel.Shutdown()
	s.NotificationChannel.Shutdown()
	s.Identity.Close()
}

func (l *RateLimiters) stop() {
	l.Login.Stop()
	l.Presence.Stop()
}
