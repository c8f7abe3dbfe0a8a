// Package api is the REST collaborator of the sync core: active booking
// lookup, barber accept/reject actions and the unread count snapshot.
//
// Every call carries the bearer token and an X-Request-ID, runs in its own
// OpenTelemetry span, and converts failures into pkg sentinels:
//
//	401/403         -> pkg.ErrUnauthorized
//	404/410         -> pkg.ErrNotFound (booking no longer exists)
//	409             -> pkg.ErrConflict
//	400/422         -> pkg.ErrBadRequest
//	5xx, transport  -> pkg.ErrTransient
//	bad JSON        -> pkg.ErrParse
//
// The server's message, when it sends one, travels in *pkg.APIError.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/akinalp/groomnet/models"
	"github.com/akinalp/groomnet/pkg"
)

// maxBodySize caps how much of a response body is read.
const maxBodySize = 1 << 20

// TokenSource returns the current bearer token, "" when signed out.
type TokenSource func() string

// Client talks to the marketplace REST API. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	tracer     trace.Tracer
}

// NewClient creates a client for baseURL (no trailing slash).
func NewClient(baseURL string, timeout time.Duration, token TokenSource) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		token:      token,
		tracer:     otel.Tracer("github.com/akinalp/groomnet/api"),
	}
}

// ─── Response payloads ───

type activeBookingResponse struct {
	ActiveInstantBooking *models.Booking `json:"active_instant_booking"`
}

type actionRequest struct {
	Action models.OfferAction `json:"action"`
}

type actionResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type unreadCountResponse struct {
	TotalUnreadCount    int            `json:"total_unread_count"`
	BookingUnreadCounts map[string]int `json:"booking_unread_counts"`
}

// errorBody covers the error shapes the upstream API sends.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

// ─── Operations ───

// FetchActiveBooking returns the barber's active confirmed booking, or nil
// when there is none.
func (c *Client) FetchActiveBooking(ctx context.Context, barberID int64) (*models.Booking, error) {
	ctx, span := c.tracer.Start(ctx, "api.FetchActiveBooking",
		trace.WithAttributes(attribute.Int64("barber.id", barberID)))
	defer span.End()

	var resp activeBookingResponse
	path := fmt.Sprintf("/api/instant-booking/barber/%d/active/", barberID)
	if err := c.do(ctx, span, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.ActiveInstantBooking, nil
}

// PostBarberAction sends accept or reject for bookingID.
func (c *Client) PostBarberAction(ctx context.Context, bookingID int64, action models.OfferAction) error {
	ctx, span := c.tracer.Start(ctx, "api.PostBarberAction",
		trace.WithAttributes(
			attribute.Int64("booking.id", bookingID),
			attribute.String("booking.action", string(action)),
		))
	defer span.End()

	var resp actionResponse
	path := fmt.Sprintf("/api/instant-booking/%d/action/", bookingID)
	if err := c.do(ctx, span, http.MethodPost, path, actionRequest{Action: action}, &resp); err != nil {
		return err
	}

	// The action endpoint answers 200 for a refused action too; only the
	// status field tells them apart.
	if resp.Status != "success" {
		err := &pkg.APIError{Status: http.StatusOK, Message: resp.Message, Kind: pkg.ErrConflict}
		recordError(span, err)
		return err
	}
	return nil
}

// FetchUnreadCounts returns the absolute unread snapshot. Conversation ids
// arrive as JSON object keys and are parsed to int64; non-numeric keys are
// a parse error.
func (c *Client) FetchUnreadCounts(ctx context.Context) (models.UnreadSnapshot, error) {
	ctx, span := c.tracer.Start(ctx, "api.FetchUnreadCounts")
	defer span.End()

	var resp unreadCountResponse
	if err := c.do(ctx, span, http.MethodGet, "/api/chat/unread-count/", nil, &resp); err != nil {
		return models.UnreadSnapshot{}, err
	}

	per := make(map[int64]int, len(resp.BookingUnreadCounts))
	for key, n := range resp.BookingUnreadCounts {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			err = fmt.Errorf("%w: conversation id %q", pkg.ErrParse, key)
			recordError(span, err)
			return models.UnreadSnapshot{}, err
		}
		per[id] = n
	}

	return models.UnreadSnapshot{TotalUnread: resp.TotalUnreadCount, PerConversation: per}, nil
}

// ─── Transport ───

func (c *Client) do(ctx context.Context, span trace.Span, method, path string, body, out any) error {
	// The token is read per call: a login or logout between two requests
	// takes effect immediately, and a signed-out agent never hits the API.
	token := c.token()
	if token == "" {
		err := fmt.Errorf("%w: no session token", pkg.ErrUnauthorized)
		recordError(span, err)
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encode request: %v", pkg.ErrInternal, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", pkg.ErrInternal, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	// X-Request-ID lets an upstream log line be matched to this call's span.
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// Do only fails on transport problems (DNS, refused, timeout, ctx
	// cancel). An HTTP error status is not an error here; it is mapped below.
	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("%w: %s %s: %v", pkg.ErrTransient, method, path, err)
		recordError(span, err)
		return err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	// Read the whole (capped) body before deciding anything: error responses
	// carry the server's message, and a fully read body lets the transport
	// reuse the keep-alive connection.
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		err = fmt.Errorf("%w: read response: %v", pkg.ErrTransient, err)
		recordError(span, err)
		return err
	}

	if resp.StatusCode >= 300 {
		apiErr := &pkg.APIError{
			Status:  resp.StatusCode,
			Message: errorMessage(data),
			Kind:    kindForStatus(resp.StatusCode),
		}
		recordError(span, apiErr)
		return apiErr
	}

	// 204 and empty 200 bodies are success with nothing to decode.
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		err = fmt.Errorf("%w: decode %s: %v", pkg.ErrParse, path, err)
		recordError(span, err)
		return err
	}
	return nil
}

func kindForStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return pkg.ErrUnauthorized
	case status == http.StatusNotFound, status == http.StatusGone:
		return pkg.ErrNotFound
	case status == http.StatusConflict:
		return pkg.ErrConflict
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return pkg.ErrBadRequest
	case status >= 500, status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return pkg.ErrTransient
	default:
		return pkg.ErrInternal
	}
}

func errorMessage(data []byte) string {
	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	switch {
	case body.Error != "":
		return body.Error
	case body.Message != "":
		return body.Message
	default:
		return body.Detail
	}
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

