package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/akinalp/groomnet/models"
	"github.com/akinalp/groomnet/pkg"
	"github.com/akinalp/groomnet/pkg/cache"
	"github.com/akinalp/groomnet/pkg/eventbus"
	"github.com/akinalp/groomnet/ws"
)

// BarberActionPoster sends the barber's answer to the server.
// api.Client satisfies it.
type BarberActionPoster interface {
	PostBarberAction(ctx context.Context, bookingID int64, action models.OfferAction) error
}

// OfferRecorder stores resolved offers. repository.OfferRepository satisfies it.
type OfferRecorder interface {
	Record(ctx context.Context, entry *models.OfferHistoryEntry) error
}

// OfferMachineConfig wires an OfferMachine.
type OfferMachineConfig struct {
	Window   time.Duration // offer lifetime, 120s in production
	Clock    clock.Clock
	Actions  BarberActionPoster
	Notifier ws.Notifier
	Recorder OfferRecorder // optional
	// OnConfirmed runs after a successful accept, outside the machine lock.
	OnConfirmed func(offer models.BookingOffer)
}

// OfferMachine is the per-barber state machine of incoming instant-booking
// offers:
//
//	NONE -> PENDING -> CONFIRMED | REJECTED | EXPIRED
//
// At most one offer exists at a time. Each offer instance has a generation;
// a server response or timer carrying an older generation is ignored, which
// is how a late accept/reject response after expiry is discarded.
type OfferMachine struct {
	window      time.Duration
	clock       clock.Clock
	actions     BarberActionPoster
	notifier    ws.Notifier
	recorder    OfferRecorder
	onConfirmed func(models.BookingOffer)

	// ctx is cancelled on Close so in-flight posts stop mutating state.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	phase    models.OfferStatus
	offer    *models.BookingOffer
	deadline time.Time
	message  string
	gen      uint64
	inFlight bool
	alive    bool

	expiry     *clock.Timer
	stopTicker chan struct{}

	// resolved remembers booking ids that already ended here, so a repeated
	// new_booking_request does not start a second countdown.
	resolved *cache.TTLCache[int64, models.OfferOutcome]

	bus *eventbus.Bus[models.OfferState]
}

// NewOfferMachine creates a machine in NONE.
func NewOfferMachine(cfg OfferMachineConfig) *OfferMachine {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &OfferMachine{
		window:      cfg.Window,
		clock:       clk,
		actions:     cfg.Actions,
		notifier:    cfg.Notifier,
		recorder:    cfg.Recorder,
		onConfirmed: cfg.OnConfirmed,
		ctx:         ctx,
		cancel:      cancel,
		phase:       models.OfferStatusNone,
		alive:       true,
		resolved:    cache.New[int64, models.OfferOutcome](clk, cfg.Window),
		bus:         eventbus.New[models.OfferState](),
	}
}

// HandleEnvelope routes one booking-channel message.
func (m *OfferMachine) HandleEnvelope(env ws.Envelope) {
	switch env.Type {
	case ws.TypeNewBookingRequest:
		var req ws.NewBookingRequest
		if err := env.Decode(&req); err != nil {
			log.Printf("[offer] %v", err)
			return
		}
		m.HandleNewRequest(req)

	case ws.TypeRemoveBooking:
		var rm ws.RemoveBooking
		if err := env.Decode(&rm); err != nil {
			log.Printf("[offer] %v", err)
			return
		}
		m.HandleRemove(rm.BookingID)

	case ws.TypeError:
		var msg ws.ErrorMessage
		if err := env.Decode(&msg); err != nil {
			log.Printf("[offer] %v", err)
			return
		}
		m.notify(models.LevelError, "notify.serverError", map[string]string{"message": msg.Message})

	default:
		log.Printf("[offer] ignoring message type %q", env.Type)
	}
}

// HandleNewRequest starts a countdown for req unless an offer is already
// pending, a booking is confirmed, or req's booking was resolved recently.
func (m *OfferMachine) HandleNewRequest(req ws.NewBookingRequest) {
	m.mu.Lock()
	if !m.alive {
		m.mu.Unlock()
		return
	}
	if m.phase == models.OfferStatusPending || m.phase == models.OfferStatusConfirmed {
		log.Printf("[offer] booking %d ignored, machine is %s", req.BookingID, m.phase)
		m.mu.Unlock()
		return
	}
	if outcome, ok := m.resolved.Get(req.BookingID); ok {
		log.Printf("[offer] booking %d ignored, already %s", req.BookingID, outcome)
		m.mu.Unlock()
		return
	}

	m.gen++
	gen := m.gen
	now := m.clock.Now()
	m.phase = models.OfferStatusPending
	m.offer = &models.BookingOffer{
		BookingID:    req.BookingID,
		CustomerID:   req.CustomerID,
		CustomerName: req.CustomerName,
		ServiceName:  req.Service,
		Address:      req.Address,
		TotalAmount:  req.TotalAmount,
		Status:       models.OfferStatusPending,
		ReceivedAt:   now,
	}
	m.deadline = now.Add(m.window)
	m.message = ""
	m.inFlight = false
	m.startTimersLocked(gen)
	m.publishLocked()
	m.mu.Unlock()

	log.Printf("[offer] booking %d pending for %s", req.BookingID, m.window)
	m.notify(models.LevelInfo, "notify.offerReceived", map[string]string{
		"customer": req.CustomerName,
		"service":  req.Service,
	})
}

// HandleRemove drops the pending offer when bookingID matches it: another
// barber claimed the booking. Any other id is a no-op.
func (m *OfferMachine) HandleRemove(bookingID int64) {
	m.mu.Lock()
	if !m.alive || m.phase != models.OfferStatusPending || m.offer == nil || m.offer.BookingID != bookingID {
		m.mu.Unlock()
		log.Printf("[offer] remove_booking %d does not match the pending offer, ignored", bookingID)
		return
	}

	offer := *m.offer
	m.resetLocked(models.OfferOutcomeClaimed)
	m.publishLocked()
	m.mu.Unlock()

	log.Printf("[offer] booking %d claimed by another barber", bookingID)
	m.notify(models.LevelInfo, "notify.offerClaimed", nil)
	m.record(offer, models.OfferOutcomeClaimed)
}

// Accept sends accept for the pending offer.
//
// Success confirms the offer. A "booking gone" answer moves it to REJECTED
// with the server's message. Any other failure, conflict included, keeps it
// PENDING; the server follows up with remove_booking when someone else won.
func (m *OfferMachine) Accept(ctx context.Context) error {
	gen, offer, err := m.beginAction()
	if err != nil {
		return err
	}

	postErr := m.actions.PostBarberAction(ctx, offer.BookingID, models.OfferActionAccept)

	m.mu.Lock()
	if !m.alive || gen != m.gen || m.phase != models.OfferStatusPending {
		m.mu.Unlock()
		log.Printf("[offer] late accept response for booking %d ignored", offer.BookingID)
		return fmt.Errorf("%w: offer is no longer pending", pkg.ErrConflict)
	}
	m.inFlight = false

	switch {
	case postErr == nil:
		m.gen++
		m.stopTimersLocked()
		m.resolved.Set(offer.BookingID, models.OfferOutcomeAccepted)
		m.phase = models.OfferStatusConfirmed
		m.offer.Status = models.OfferStatusConfirmed
		confirmed := *m.offer
		m.publishLocked()
		m.mu.Unlock()

		log.Printf("[offer] booking %d accepted", offer.BookingID)
		m.notify(models.LevelSuccess, "notify.offerAccepted", map[string]string{"address": offer.Address})
		m.record(confirmed, models.OfferOutcomeAccepted)
		if m.onConfirmed != nil {
			m.onConfirmed(confirmed)
		}
		return nil

	case errors.Is(postErr, pkg.ErrNotFound):
		m.gen++
		m.stopTimersLocked()
		m.resolved.Set(offer.BookingID, models.OfferOutcomeGone)
		m.phase = models.OfferStatusRejected
		m.offer.Status = models.OfferStatusRejected
		m.message = pkg.ServerMessage(postErr, "booking no longer exists")
		gone := *m.offer
		message := m.message
		m.publishLocked()
		m.mu.Unlock()

		log.Printf("[offer] booking %d no longer exists: %s", offer.BookingID, message)
		m.notify(models.LevelError, "notify.offerGone", map[string]string{"message": message})
		m.record(gone, models.OfferOutcomeGone)
		return postErr

	default:
		m.mu.Unlock()

		log.Printf("[offer] accept for booking %d failed: %v", offer.BookingID, postErr)
		m.notify(models.LevelError, "notify.actionFailed", map[string]string{
			"action":  string(models.OfferActionAccept),
			"message": pkg.ServerMessage(postErr, postErr.Error()),
		})
		return postErr
	}
}

// Reject sends reject for the pending offer. The offer is resolved locally
// whatever the server answers; a failure is only reported.
func (m *OfferMachine) Reject(ctx context.Context) error {
	gen, offer, err := m.beginAction()
	if err != nil {
		return err
	}

	postErr := m.actions.PostBarberAction(ctx, offer.BookingID, models.OfferActionReject)

	m.mu.Lock()
	if !m.alive || gen != m.gen {
		m.mu.Unlock()
		log.Printf("[offer] late reject response for booking %d ignored", offer.BookingID)
		return nil
	}
	m.resetLocked(models.OfferOutcomeRejected)
	m.publishLocked()
	m.mu.Unlock()

	m.record(offer, models.OfferOutcomeRejected)

	if postErr != nil {
		log.Printf("[offer] reject for booking %d failed on server: %v", offer.BookingID, postErr)
		m.notify(models.LevelWarning, "notify.actionFailed", map[string]string{
			"action":  string(models.OfferActionReject),
			"message": pkg.ServerMessage(postErr, postErr.Error()),
		})
		return nil
	}
	log.Printf("[offer] booking %d rejected", offer.BookingID)
	return nil
}

// Confirm shows an already active booking (found over REST) as CONFIRMED.
func (m *OfferMachine) Confirm(booking *models.Booking) {
	m.mu.Lock()
	if !m.alive {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.stopTimersLocked()
	m.phase = models.OfferStatusConfirmed
	m.offer = models.OfferFromBooking(booking, m.clock.Now())
	m.message = ""
	m.inFlight = false
	m.publishLocked()
	m.mu.Unlock()
}

// Clear drops whatever offer is held, without telling the server.
func (m *OfferMachine) Clear() {
	m.mu.Lock()
	if !m.alive || (m.phase == models.OfferStatusNone && m.offer == nil) {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.stopTimersLocked()
	m.phase = models.OfferStatusNone
	m.offer = nil
	m.message = ""
	m.inFlight = false
	m.publishLocked()
	m.mu.Unlock()
}

// Close cancels timers and in-flight continuations. The machine is inert
// afterwards.
func (m *OfferMachine) Close() {
	m.mu.Lock()
	if !m.alive {
		m.mu.Unlock()
		return
	}
	m.alive = false
	m.gen++
	m.stopTimersLocked()
	m.mu.Unlock()

	m.cancel()
	m.bus.Close()
}

// State returns a copy of the current state.
func (m *OfferMachine) State() models.OfferState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

// Subscribe returns a channel receiving every state change and countdown tick.
func (m *OfferMachine) Subscribe() (<-chan models.OfferState, func()) {
	return m.bus.Subscribe()
}

// ─── Internals ───

func (m *OfferMachine) beginAction() (uint64, models.BookingOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.alive || m.phase != models.OfferStatusPending || m.offer == nil {
		return 0, models.BookingOffer{}, fmt.Errorf("%w: no pending offer", pkg.ErrBadRequest)
	}
	if m.inFlight {
		return 0, models.BookingOffer{}, fmt.Errorf("%w: an action is already in progress", pkg.ErrConflict)
	}
	m.inFlight = true
	return m.gen, *m.offer, nil
}

// expire runs when the expiry timer of gen fires.
func (m *OfferMachine) expire(gen uint64) {
	m.mu.Lock()
	if !m.alive || gen != m.gen || m.phase != models.OfferStatusPending {
		m.mu.Unlock()
		return
	}

	// bumping gen discards any accept/reject still in flight
	m.gen++
	expiredGen := m.gen
	m.stopTimersLocked()
	m.resolved.Set(m.offer.BookingID, models.OfferOutcomeExpired)
	m.phase = models.OfferStatusExpired
	m.offer.Status = models.OfferStatusExpired
	m.inFlight = false
	offer := *m.offer
	m.publishLocked()
	m.mu.Unlock()

	log.Printf("[offer] booking %d expired, sending reject", offer.BookingID)
	m.notify(models.LevelWarning, "notify.offerExpired", map[string]string{"customer": offer.CustomerName})
	m.record(offer, models.OfferOutcomeExpired)

	if err := m.actions.PostBarberAction(m.ctx, offer.BookingID, models.OfferActionReject); err != nil {
		log.Printf("[offer] reject after expiry for booking %d failed: %v", offer.BookingID, err)
	}

	m.mu.Lock()
	if !m.alive || expiredGen != m.gen || m.phase != models.OfferStatusExpired {
		m.mu.Unlock()
		return
	}
	m.phase = models.OfferStatusNone
	m.offer = nil
	m.publishLocked()
	m.mu.Unlock()
}

// tick refreshes the countdown. It reports false once gen is stale.
func (m *OfferMachine) tick(gen uint64) bool {
	m.mu.Lock()
	if !m.alive || gen != m.gen || m.phase != models.OfferStatusPending {
		m.mu.Unlock()
		return false
	}
	m.publishLocked()
	m.mu.Unlock()
	return true
}

func (m *OfferMachine) startTimersLocked(gen uint64) {
	m.stopTimersLocked()

	m.expiry = m.clock.AfterFunc(m.window, func() { m.expire(gen) })

	stop := make(chan struct{})
	m.stopTicker = stop
	ticker := m.clock.Ticker(time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if !m.tick(gen) {
					return
				}
			}
		}
	}()
}

func (m *OfferMachine) stopTimersLocked() {
	if m.expiry != nil {
		m.expiry.Stop()
		m.expiry = nil
	}
	if m.stopTicker != nil {
		close(m.stopTicker)
		m.stopTicker = nil
	}
}

// resetLocked resolves the current offer back to NONE.
func (m *OfferMachine) resetLocked(outcome models.OfferOutcome) {
	m.gen++
	m.stopTimersLocked()
	if m.offer != nil {
		m.resolved.Set(m.offer.BookingID, outcome)
	}
	m.phase = models.OfferStatusNone
	m.offer = nil
	m.message = ""
	m.inFlight = false
}

// publishLocked sends the current state to subscribers. Publishing under
// m.mu keeps a countdown tick from landing after the transition that ended it.
func (m *OfferMachine) publishLocked() {
	m.bus.Publish(m.stateLocked())
}

func (m *OfferMachine) stateLocked() models.OfferState {
	state := models.OfferState{Status: m.phase, Message: m.message}
	if m.offer != nil {
		cp := *m.offer
		state.Offer = &cp
	}
	if m.phase == models.OfferStatusPending {
		state.RemainingSeconds = remainingSeconds(m.deadline, m.clock.Now())
	}
	return state
}

func remainingSeconds(deadline, now time.Time) int {
	left := deadline.Sub(now)
	if left <= 0 {
		return 0
	}
	return int((left + time.Second - 1) / time.Second)
}

func (m *OfferMachine) record(offer models.BookingOffer, outcome models.OfferOutcome) {
	if m.recorder == nil {
		return
	}
	entry := &models.OfferHistoryEntry{
		BookingID:    offer.BookingID,
		CustomerName: offer.CustomerName,
		ServiceName:  offer.ServiceName,
		TotalAmount:  offer.TotalAmount,
		Outcome:      outcome,
		ReceivedAt:   offer.ReceivedAt,
		ResolvedAt:   m.clock.Now(),
	}
	if err := m.recorder.Record(m.ctx, entry); err != nil {
		log.Printf("[offer] failed to record %s for booking %d: %v", outcome, offer.BookingID, err)
	}
}

func (m *OfferMachine) notify(level models.NotificationLevel, key string, params map[string]string) {
	if m.notifier != nil {
		m.notifier.Notify(level, key, params)
	}
}
