package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/akinalp/groomnet/models"
	"github.com/akinalp/groomnet/pkg"
)

// OfferService is the part of services.OfferMachine the offer endpoints use.
type OfferService interface {
	State() models.OfferState
	Accept(ctx context.Context) error
	Reject(ctx context.Context) error
}

// OfferHistory lists resolved offers. repository.OfferRepository satisfies it.
type OfferHistory interface {
	List(ctx context.Context, limit int) ([]models.OfferHistoryEntry, error)
}

// OfferHandler serves the current offer, the barber's answer and the history.
type OfferHandler struct {
	offers  OfferService
	history OfferHistory
}

// NewOfferHandler, constructor.
func NewOfferHandler(offers OfferService, history OfferHistory) *OfferHandler {
	return &OfferHandler{offers: offers, history: history}
}

// Get godoc
// GET /api/offer
func (h *OfferHandler) Get(w http.ResponseWriter, r *http.Request) {
	pkg.JSON(w, http.StatusOK, h.offers.State())
}

// Accept godoc
// POST /api/offer/accept
// Barber only. Responds with the resulting offer state, or the mapped error
// (409 when the offer is no longer pending, 404 when the booking is gone).
func (h *OfferHandler) Accept(w http.ResponseWriter, r *http.Request) {
	if !h.requireBarber(w, r) {
		return
	}
	if err := h.offers.Accept(r.Context()); err != nil {
		pkg.Error(w, err)
		return
	}
	pkg.JSON(w, http.StatusOK, h.offers.State())
}

// Reject godoc
// POST /api/offer/reject
func (h *OfferHandler) Reject(w http.ResponseWriter, r *http.Request) {
	if !h.requireBarber(w, r) {
		return
	}
	if err := h.offers.Reject(r.Context()); err != nil {
		pkg.Error(w, err)
		return
	}
	pkg.JSON(w, http.StatusOK, h.offers.State())
}

// History godoc
// GET /api/offers/history?limit=50
func (h *OfferHandler) History(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	entries, err := h.history.List(r.Context(), limit)
	if err != nil {
		pkg.Error(w, err)
		return
	}
	if entries == nil {
		entries = []models.OfferHistoryEntry{}
	}
	pkg.JSON(w, http.StatusOK, entries)
}

func (h *OfferHandler) requireBarber(w http.ResponseWriter, r *http.Request) bool {
	identity, ok := identityFromContext(w, r)
	if !ok {
		return false
	}
	if !identity.IsBarber() {
		pkg.ErrorWithMessage(w, http.StatusForbidden, "only barbers can answer booking offers")
		return false
	}
	return true
}
