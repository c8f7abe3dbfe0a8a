package services

import (
	"context"
	"log"
	"sync"

	"github.com/akinalp/groomnet/models"
	"github.com/akinalp/groomnet/pkg/eventbus"
	"github.com/akinalp/groomnet/ws"
)

// ActiveBookingFetcher looks up the barber's active confirmed booking.
// api.Client satisfies it.
type ActiveBookingFetcher interface {
	FetchActiveBooking(ctx context.Context, barberID int64) (*models.Booking, error)
}

// BookingChannel is the part of ws.Channel the controller drives.
type BookingChannel interface {
	Open(ctx context.Context, url string) error
	Close(code int, reason string)
}

// OfferSink receives the booking found at connection setup.
// OfferMachine satisfies it.
type OfferSink interface {
	Confirm(booking *models.Booking)
	Clear()
}

// PresenceController decides whether the booking channel exists at all.
//
// On every (online, identity) change it either closes the channel (offline,
// signed out, not a barber), blocks on an already active booking, or clears
// the offer and opens a fresh channel. Reconciles run one at a time; a
// reconcile whose generation went stale while it waited on REST does nothing.
type PresenceController struct {
	fetcher ActiveBookingFetcher
	channel BookingChannel
	offers  OfferSink
	wsBase  string

	// reconcileMu serializes reconciles so an older one can never open a
	// socket after a newer one closed it.
	reconcileMu sync.Mutex

	mu       sync.Mutex
	online   bool
	identity *models.Identity
	state    models.ConnectionState
	gen      uint64
	alive    bool

	bus *eventbus.Bus[models.PresenceState]
}

// NewPresenceController creates an offline controller.
func NewPresenceController(fetcher ActiveBookingFetcher, channel BookingChannel, offers OfferSink, wsBase string) *PresenceController {
	return &PresenceController{
		fetcher: fetcher,
		channel: channel,
		offers:  offers,
		wsBase:  wsBase,
		state:   models.ConnectionOffline,
		alive:   true,
		bus:     eventbus.New[models.PresenceState](),
	}
}

// SetOnline toggles availability and reconciles. Setting the current value
// again retries the connection.
func (p *PresenceController) SetOnline(ctx context.Context, online bool) error {
	p.mu.Lock()
	if !p.alive {
		p.mu.Unlock()
		return nil
	}
	p.online = online
	p.gen++
	gen := p.gen
	identity := copyIdentity(p.identity)
	p.mu.Unlock()

	p.publish()
	return p.reconcile(ctx, gen, online, identity)
}

// SetIdentity swaps the identity (nil when signed out) and reconciles.
func (p *PresenceController) SetIdentity(ctx context.Context, identity *models.Identity) error {
	p.mu.Lock()
	if !p.alive {
		p.mu.Unlock()
		return nil
	}
	p.identity = copyIdentity(identity)
	if identity == nil {
		p.online = false
	}
	p.gen++
	gen := p.gen
	online := p.online
	p.mu.Unlock()

	return p.reconcile(ctx, gen, online, identity)
}

// HandleConfirmed is called after the barber accepted an offer: the barber is
// now busy, so the channel closes and the controller blocks.
func (p *PresenceController) HandleConfirmed(offer models.BookingOffer) {
	p.reconcileMu.Lock()
	defer p.reconcileMu.Unlock()

	p.mu.Lock()
	if !p.alive {
		p.mu.Unlock()
		return
	}
	p.gen++
	gen := p.gen
	p.mu.Unlock()

	log.Printf("[presence] booking %d confirmed, closing booking channel", offer.BookingID)
	p.channel.Close(ws.CloseNormal, "booking confirmed")
	p.setState(gen, models.ConnectionBlocked)
}

// HandleChannelState mirrors the booking channel's state while the
// controller is trying to be online. Offline and blocked take precedence.
func (p *PresenceController) HandleChannelState(state models.ConnectionState) {
	p.mu.Lock()
	if !p.alive || !p.online || p.state == models.ConnectionOffline || p.state == models.ConnectionBlocked {
		p.mu.Unlock()
		return
	}
	gen := p.gen
	identity := copyIdentity(p.identity)
	p.mu.Unlock()

	p.setState(gen, state)

	if state == models.ConnectionBlocked && identity.IsBarber() {
		// server refused: an active booking exists that REST did not show yet
		go p.confirmActiveBooking(gen, identity.BarberID)
	}
}

// Close tears the controller down. The channel is always closed normally.
func (p *PresenceController) Close() {
	p.mu.Lock()
	if !p.alive {
		p.mu.Unlock()
		return
	}
	p.alive = false
	p.gen++
	p.state = models.ConnectionOffline
	p.mu.Unlock()

	p.channel.Close(ws.CloseNormal, "teardown")
	p.bus.Close()
}

// State returns the current presence.
func (p *PresenceController) State() models.PresenceState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return models.PresenceState{Online: p.online, Connection: p.state}
}

// Subscribe returns a channel receiving every presence change.
func (p *PresenceController) Subscribe() (<-chan models.PresenceState, func()) {
	return p.bus.Subscribe()
}

// ─── Internals ───

func (p *PresenceController) reconcile(ctx context.Context, gen uint64, online bool, identity *models.Identity) error {
	p.reconcileMu.Lock()
	defer p.reconcileMu.Unlock()

	if !p.current(gen) {
		return nil
	}

	if !online || !identity.IsBarber() {
		p.channel.Close(ws.CloseNormal, "offline")
		p.setState(gen, models.ConnectionOffline)
		return nil
	}

	booking, err := p.fetcher.FetchActiveBooking(ctx, identity.BarberID)
	if !p.current(gen) {
		return nil
	}
	if err != nil {
		// fail open: a broken lookup must not keep the barber from offers
		log.Printf("[presence] active booking lookup failed, connecting anyway: %v", err)
		booking = nil
	}

	if booking != nil {
		log.Printf("[presence] barber %d has active booking %d, not connecting", identity.BarberID, booking.ID)
		p.channel.Close(ws.CloseNormal, "active booking")
		p.offers.Confirm(booking)
		p.setState(gen, models.ConnectionBlocked)
		return nil
	}

	p.offers.Clear()
	p.setState(gen, models.ConnectionConnecting)

	url := ws.BookingURL(p.wsBase, identity.Token, identity.BarberID)
	if err := p.channel.Open(ctx, url); err != nil {
		if !p.current(gen) {
			return nil
		}
		log.Printf("[presence] booking channel open failed: %v", err)
		return err
	}
	return nil
}

func (p *PresenceController) confirmActiveBooking(gen uint64, barberID int64) {
	booking, err := p.fetcher.FetchActiveBooking(context.Background(), barberID)
	if err != nil {
		log.Printf("[presence] active booking lookup after conflict failed: %v", err)
		return
	}
	if booking == nil || !p.current(gen) {
		return
	}
	p.offers.Confirm(booking)
}

func (p *PresenceController) current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive && gen == p.gen
}

func (p *PresenceController) setState(gen uint64, state models.ConnectionState) {
	p.mu.Lock()
	if !p.alive || gen != p.gen || p.state == state {
		p.mu.Unlock()
		return
	}
	p.state = state
	p.mu.Unlock()

	log.Printf("[presence] state -> %s", state)
	p.publish()
}

func (p *PresenceController) publish() {
	p.bus.Publish(p.State())
}
