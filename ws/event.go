// Package ws holds both WebSocket sides of the agent.
//
// Upstream: Channel keeps one client connection to the marketplace server
// (notification or instant-booking socket) and hands typed envelopes to its
// owner. Downstream: Hub fans the agent's derived state out to the local UI
// over /ws.
//
// Upstream messages are JSON objects discriminated by "type":
//
//	{"type": "unread_count_update", "booking_id": 7, "unread_count": 3}
//
// Local UI events use the {op, d, seq} shape.
package ws

import (
	"encoding/json"
	"fmt"

	"github.com/akinalp/groomnet/models"
	"github.com/akinalp/groomnet/pkg"
)

// ─── Upstream envelope ───

// Upstream message types.
const (
	TypeNewBookingRequest = "new_booking_request"
	TypeRemoveBooking     = "remove_booking"
	TypeHeartbeat         = "heartbeat"
	TypeHeartbeatResponse = "heartbeat_response"
	TypeError             = "error"
	TypeTotalUnreadUpdate = "total_unread_update"
	TypeUnreadCountUpdate = "unread_count_update"
)

// Close codes with client-side meaning. Everything else is transient.
const (
	CloseNormal        = 1000
	CloseAuthFailed    = 4001
	CloseActiveBooking = 4002
)

// Envelope is one upstream message. Raw keeps the whole object so payload
// structs can be decoded lazily by whoever handles Type.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// ParseEnvelope decodes the type discriminator. A message that is not a JSON
// object or has no type is a parse error.
func ParseEnvelope(data []byte) (Envelope, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", pkg.ErrParse, err)
	}
	if head.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", pkg.ErrParse)
	}
	return Envelope{Type: head.Type, Raw: append(json.RawMessage(nil), data...)}, nil
}

// Decode unmarshals the envelope body into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Raw, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", pkg.ErrParse, e.Type, err)
	}
	return nil
}

// NewBookingRequest announces an offer to the barber.
type NewBookingRequest struct {
	BookingID    int64         `json:"booking_id"`
	CustomerName string        `json:"customer_name"`
	CustomerID   int64         `json:"customer_id"`
	Service      string        `json:"service"`
	Address      string        `json:"address"`
	TotalAmount  models.Amount `json:"total_amount"`
}

// RemoveBooking withdraws an offer, usually because another barber took it.
type RemoveBooking struct {
	BookingID int64 `json:"booking_id"`
}

// ErrorMessage is a server-side error pushed over the socket.
type ErrorMessage struct {
	Message string `json:"message"`
}

// TotalUnreadUpdate is an absolute unread snapshot. Conversation ids are
// JSON object keys.
type TotalUnreadUpdate struct {
	TotalCount    int            `json:"total_count"`
	BookingCounts map[string]int `json:"booking_counts"`
}

// UnreadCountUpdate is the new absolute count of one conversation.
type UnreadCountUpdate struct {
	BookingID   int64 `json:"booking_id"`
	UnreadCount int   `json:"unread_count"`
}

// ─── Local UI events ───

// Event is one message pushed to the local UI.
//
// Seq increases by one per hub broadcast, so gaps only reveal frames lost on
// the UI connection itself. An update dropped earlier, on a full service bus,
// never gets a Seq. The unread, offer and presence ops carry whole state, so
// the next one supersedes anything missed; a dropped notification is lost.
type Event struct {
	Op   string `json:"op"`
	Data any    `json:"d,omitempty"`
	Seq  int64  `json:"seq,omitempty"`
}

// UI → agent
const (
	OpHeartbeat = "heartbeat"
)

// agent → UI
const (
	OpReady          = "ready"
	OpHeartbeatAck   = "heartbeat_ack"
	OpUnreadUpdate   = "unread_update"
	OpOfferUpdate    = "offer_update"
	OpPresenceUpdate = "presence_update"
	OpNotification   = "notification"
)

// ReadyData is the first event on a local connection: the full current state,
// so the UI never has to wait for the next change.
type ReadyData struct {
	Identity *models.Identity      `json:"identity"`
	Unread   models.UnreadSnapshot `json:"unread"`
	Offer    models.OfferState     `json:"offer"`
	Presence models.PresenceState  `json:"presence"`
}
