package main

import (
	"context"
	"log"

	"github.com/akinalp/groomnet/models"
	"github.com/akinalp/groomnet/ws"
)

// agentState builds the ready event of a new UI connection.
type agentState struct {
	svcs *Services
}

func (s agentState) ReadySnapshot() ws.ReadyData {
	return ws.ReadyData{
		Identity: s.svcs.Identity.Current(),
		Unread:   s.svcs.Sync.Snapshot(),
		Offer:    s.svcs.Offers.State(),
		Presence: s.svcs.Presence.State(),
	}
}

// registerCallbacks subscribes the hub and the identity-driven components to
// the service buses. It must run before the session is restored so the
// restored identity is delivered like any later login.
func registerCallbacks(ctx context.Context, hub *ws.Hub, svcs *Services) {
	unread, _ := svcs.Sync.Subscribe()
	offers, _ := svcs.Offers.Subscribe()
	presence, _ := svcs.Presence.Subscribe()
	notes, _ := svcs.Notifier.Subscribe()

	// channels close when their bus closes at shutdown
	go forward(hub, ws.OpUnreadUpdate, unread)
	go forward(hub, ws.OpOfferUpdate, offers)
	go forward(hub, ws.OpPresenceUpdate, presence)
	go forward(hub, ws.OpNotification, notes)

	// latest-value subscription: a burst of logins and logouts coalesces,
	// but the final identity is always applied
	identities, _ := svcs.Identity.Subscribe()
	go func() {
		for identity := range identities {
			applyIdentity(ctx, svcs, identity)
		}
	}()
}

func forward[T any](hub *ws.Hub, op string, ch <-chan T) {
	for v := range ch {
		hub.Broadcast(ws.Event{Op: op, Data: v})
	}
}

// applyIdentity restarts notification sync and presence for a new identity;
// nil means signed out.
func applyIdentity(ctx context.Context, svcs *Services, identity *models.Identity) {
	if identity == nil {
		svcs.Offers.Clear()
	}

	if err := svcs.Sync.Start(ctx, identity); err != nil {
		log.Printf("[main] notification sync start: %v", err)
	}
	if err := svcs.Presence.SetIdentity(ctx, identity); err != nil {
		log.Printf("[main] presence update: %v", err)
	}
}
