package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Amount is a money value. The upstream API serializes decimals either as
// JSON numbers or as strings ("250.00"); both decode.
type Amount float64

func (a *Amount) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*a = 0
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*a = Amount(f)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("amount %q: %w", s, err)
	}
	*a = Amount(f)
	return nil
}

// Booking is an instant booking as returned by the upstream REST API.
// Only the fields the agent reads are mapped; the rest are ignored.
type Booking struct {
	ID           int64   `json:"id"`
	CustomerID   int64   `json:"customer_id"`
	CustomerName string  `json:"customer_name"`
	ServiceName  string  `json:"service"`
	Address      string  `json:"address"`
	TotalAmount  Amount  `json:"total_amount"`
	Status       string  `json:"status"`
}

// OfferStatus is the lifecycle state of an incoming booking offer.
type OfferStatus string

const (
	OfferStatusNone      OfferStatus = "NONE"
	OfferStatusPending   OfferStatus = "PENDING"
	OfferStatusConfirmed OfferStatus = "CONFIRMED"
	OfferStatusExpired   OfferStatus = "EXPIRED"
	OfferStatusRejected  OfferStatus = "REJECTED"
)

// OfferAction is the barber's answer posted to the server.
type OfferAction string

const (
	OfferActionAccept OfferAction = "accept"
	OfferActionReject OfferAction = "reject"
)

// OfferOutcome is how an offer ended, stored in the offer history.
type OfferOutcome string

const (
	OfferOutcomeAccepted OfferOutcome = "accepted"
	OfferOutcomeRejected OfferOutcome = "rejected"
	OfferOutcomeExpired  OfferOutcome = "expired"
	OfferOutcomeClaimed  OfferOutcome = "claimed" // another barber accepted first
	OfferOutcomeGone     OfferOutcome = "gone"    // server says the booking no longer exists
)

// BookingOffer is one instant-booking request addressed to the barber.
// At most one exists per barber at any time.
type BookingOffer struct {
	BookingID    int64       `json:"booking_id"`
	CustomerID   int64       `json:"customer_id"`
	CustomerName string      `json:"customer_name"`
	ServiceName  string      `json:"service"`
	Address      string      `json:"address"`
	TotalAmount  Amount      `json:"total_amount"`
	Status       OfferStatus `json:"status"`
	ReceivedAt   time.Time   `json:"received_at"`
}

// OfferFromBooking builds a confirmed offer from an active booking.
func OfferFromBooking(b *Booking, now time.Time) *BookingOffer {
	return &BookingOffer{
		BookingID:    b.ID,
		CustomerID:   b.CustomerID,
		CustomerName: b.CustomerName,
		ServiceName:  b.ServiceName,
		Address:      b.Address,
		TotalAmount:  b.TotalAmount,
		Status:       OfferStatusConfirmed,
		ReceivedAt:   now,
	}
}

// OfferState is what the UI renders: the machine phase, the current offer
// (nil when none) and the countdown.
type OfferState struct {
	Status           OfferStatus   `json:"status"`
	Offer            *BookingOffer `json:"offer"`
	RemainingSeconds int           `json:"remaining_seconds"`
	Message          string        `json:"message,omitempty"`
}

// OfferHistoryEntry is one resolved offer in the local history.
type OfferHistoryEntry struct {
	ID           int64        `json:"id"`
	BookingID    int64        `json:"booking_id"`
	CustomerName string       `json:"customer_name"`
	ServiceName  string       `json:"service"`
	TotalAmount  Amount       `json:"total_amount"`
	Outcome      OfferOutcome `json:"outcome"`
	ReceivedAt   time.Time    `json:"received_at"`
	ResolvedAt   time.Time    `json:"resolved_at"`
}
