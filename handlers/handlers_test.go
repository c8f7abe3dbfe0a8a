package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/akinalp/groomnet/models"
	"github.com/akinalp/groomnet/pkg"
	"github.com/akinalp/groomnet/pkg/ratelimit"
)

// ─── Fakes ───

type fakeSessions struct {
	current  *models.Identity
	loginErr error
	tokens   []string
}

func (f *fakeSessions) Login(ctx context.Context, token string) (*models.Identity, error) {
	f.tokens = append(f.tokens, token)
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	f.current = &models.Identity{UserID: 7, BarberID: 7, Role: models.RoleBarber, Token: token}
	return f.current, nil
}

func (f *fakeSessions) Logout(ctx context.Context) error {
	f.current = nil
	return nil
}

func (f *fakeSessions) Current() *models.Identity { return f.current }

type fakeUnread struct {
	snap    models.UnreadSnapshot
	read    []int64
	viewing int64
}

func (f *fakeUnread) Snapshot() models.UnreadSnapshot { return f.snap.Clone() }

func (f *fakeUnread) MarkRead(id int64) {
	f.read = append(f.read, id)
	f.snap.TotalUnread -= f.snap.PerConversation[id]
	delete(f.snap.PerConversation, id)
}

func (f *fakeUnread) SetLocation(path string) {
	if path == "/chat/42" {
		f.viewing = 42
	} else {
		f.viewing = 0
	}
}

func (f *fakeUnread) Viewing() int64 { return f.viewing }

type fakeOffers struct {
	state     models.OfferState
	acceptErr error
	accepted  int
}

func (f *fakeOffers) State() models.OfferState { return f.state }

func (f *fakeOffers) Accept(ctx context.Context) error {
	f.accepted++
	if f.acceptErr != nil {
		return f.acceptErr
	}
	f.state.Status = models.OfferStatusConfirmed
	return nil
}

func (f *fakeOffers) Reject(ctx context.Context) error {
	f.state = models.OfferState{Status: models.OfferStatusNone}
	return nil
}

type fakeHistory struct {
	limit int
}

func (f *fakeHistory) List(ctx context.Context, limit int) ([]models.OfferHistoryEntry, error) {
	f.limit = limit
	return nil, nil
}

type fakePresence struct {
	state models.PresenceState
	err   error
}

func (f *fakePresence) State() models.PresenceState { return f.state }

func (f *fakePresence) SetOnline(ctx context.Context, online bool) error {
	f.state.Online = online
	if online {
		f.state.Connection = models.ConnectionConnecting
	} else {
		f.state.Connection = models.ConnectionOffline
	}
	return f.err
}

type fixedState models.ConnectionState

func (s fixedState) State() models.ConnectionState { return models.ConnectionState(s) }

// ─── Helpers ───

func withIdentity(r *http.Request, identity *models.Identity) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), IdentityContextKey, identity))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data any) pkg.APIResponse {
	t.Helper()
	var raw struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&raw); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if data != nil && len(raw.Data) > 0 {
		if err := json.Unmarshal(raw.Data, data); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return pkg.APIResponse{Success: raw.Success, Error: raw.Error}
}

var barberIdentity = &models.Identity{UserID: 7, BarberID: 7, Role: models.RoleBarber, Token: "tok"}

// ─── Session ───

func TestSessionLoginAndGet(t *testing.T) {
	sessions := &fakeSessions{}
	h := NewSessionHandler(sessions, nil)

	rec := httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/session", strings.NewReader(`{"token":"abc"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d", rec.Code)
	}
	if len(sessions.tokens) != 1 || sessions.tokens[0] != "abc" {
		t.Fatalf("tokens = %v", sessions.tokens)
	}

	rec = httptest.NewRecorder()
	h.Get(rec, httptest.NewRequest(http.MethodGet, "/api/session", nil))
	var body struct {
		Identity *models.Identity `json:"identity"`
	}
	decode(t, rec, &body)
	if body.Identity == nil || body.Identity.UserID != 7 {
		t.Fatalf("identity = %+v", body.Identity)
	}
	if strings.Contains(rec.Body.String(), "abc") {
		t.Fatal("token leaked in session response")
	}
}

func TestSessionLoginFromHeader(t *testing.T) {
	sessions := &fakeSessions{}
	h := NewSessionHandler(sessions, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/session", nil)
	req.Header.Set("Authorization", "Bearer xyz")
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	if rec.Code != http.StatusOK || sessions.tokens[0] != "xyz" {
		t.Fatalf("status = %d, tokens = %v", rec.Code, sessions.tokens)
	}
}

func TestSessionLoginErrors(t *testing.T) {
	h := NewSessionHandler(&fakeSessions{loginErr: pkg.ErrUnauthorized}, nil)

	rec := httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/session", strings.NewReader(`{"token":"expired"}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/session", strings.NewReader(`{"token":""}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty token status = %d, want 400", rec.Code)
	}
}

func TestSessionLoginRateLimited(t *testing.T) {
	limiter := ratelimit.New(clock.NewMock(), 1, time.Minute)
	defer limiter.Stop()
	h := NewSessionHandler(&fakeSessions{loginErr: pkg.ErrUnauthorized}, limiter)

	for i, want := range []int{http.StatusUnauthorized, http.StatusTooManyRequests} {
		rec := httptest.NewRecorder()
		h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/session", strings.NewReader(`{"token":"t"}`)))
		if rec.Code != want {
			t.Fatalf("attempt %d status = %d, want %d", i+1, rec.Code, want)
		}
		if want == http.StatusTooManyRequests && rec.Header().Get("Retry-After") != "60" {
			t.Fatalf("Retry-After = %q", rec.Header().Get("Retry-After"))
		}
	}
}

// ─── Unread ───

func TestUnreadRoutes(t *testing.T) {
	unread := &fakeUnread{snap: models.UnreadSnapshot{TotalUnread: 5, PerConversation: map[int64]int{7: 2, 8: 3}}}
	h := NewUnreadHandler(unread)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/unread", h.Get)
	mux.HandleFunc("POST /api/unread/{id}/read", h.MarkRead)
	mux.HandleFunc("PUT /api/location", h.SetLocation)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/unread/7/read", nil))
	var snap models.UnreadSnapshot
	decode(t, rec, &snap)
	if rec.Code != http.StatusOK || snap.TotalUnread != 3 || len(unread.read) != 1 {
		t.Fatalf("status = %d, snap = %+v", rec.Code, snap)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/unread/abc/read", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/location", strings.NewReader(`{"path":"/chat/42"}`)))
	var loc map[string]int64
	decode(t, rec, &loc)
	if loc["viewing"] != 42 {
		t.Fatalf("viewing = %v", loc)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/unread", nil))
	snap = models.UnreadSnapshot{}
	decode(t, rec, &snap)
	if snap.PerConversation[8] != 3 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

// ─── Offer ───

func TestOfferAcceptMapsErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, http.StatusOK},
		{"not pending", pkg.ErrConflict, http.StatusConflict},
		{"gone", &pkg.APIError{Status: 404, Message: "Booking not found", Kind: pkg.ErrNotFound}, http.StatusNotFound},
		{"upstream down", pkg.ErrTransient, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offers := &fakeOffers{state: models.OfferState{Status: models.OfferStatusPending}, acceptErr: tt.err}
			h := NewOfferHandler(offers, &fakeHistory{})

			rec := httptest.NewRecorder()
			h.Accept(rec, withIdentity(httptest.NewRequest(http.MethodPost, "/api/offer/accept", nil), barberIdentity))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestOfferAcceptRequiresBarber(t *testing.T) {
	offers := &fakeOffers{}
	h := NewOfferHandler(offers, &fakeHistory{})

	rec := httptest.NewRecorder()
	customer := &models.Identity{UserID: 3, Role: models.RoleCustomer}
	h.Accept(rec, withIdentity(httptest.NewRequest(http.MethodPost, "/api/offer/accept", nil), customer))
	if rec.Code != http.StatusForbidden || offers.accepted != 0 {
		t.Fatalf("status = %d, accepted = %d", rec.Code, offers.accepted)
	}

	rec = httptest.NewRecorder()
	h.Accept(rec, httptest.NewRequest(http.MethodPost, "/api/offer/accept", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no identity status = %d", rec.Code)
	}
}

func TestOfferHistoryLimit(t *testing.T) {
	history := &fakeHistory{}
	h := NewOfferHandler(&fakeOffers{}, history)

	rec := httptest.NewRecorder()
	h.History(rec, httptest.NewRequest(http.MethodGet, "/api/offers/history?limit=5", nil))
	if rec.Code != http.StatusOK || history.limit != 5 {
		t.Fatalf("status = %d, limit = %d", rec.Code, history.limit)
	}
	if !strings.Contains(rec.Body.String(), `"data":[]`) {
		t.Fatalf("empty history body = %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.History(rec, httptest.NewRequest(http.MethodGet, "/api/offers/history?limit=-1", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", rec.Code)
	}
}

// ─── Presence ───

func TestPresenceSet(t *testing.T) {
	presence := &fakePresence{}
	h := NewPresenceHandler(presence, nil)

	rec := httptest.NewRecorder()
	req := withIdentity(httptest.NewRequest(http.MethodPut, "/api/presence", strings.NewReader(`{"online":true}`)), barberIdentity)
	h.Set(rec, req)

	var state models.PresenceState
	decode(t, rec, &state)
	if rec.Code != http.StatusOK || !state.Online || state.Connection != models.ConnectionConnecting {
		t.Fatalf("status = %d, state = %+v", rec.Code, state)
	}

	rec = httptest.NewRecorder()
	h.Set(rec, withIdentity(httptest.NewRequest(http.MethodPut, "/api/presence", strings.NewReader(`{}`)), barberIdentity))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing field status = %d", rec.Code)
	}
}

func TestPresenceSetFailures(t *testing.T) {
	presence := &fakePresence{err: pkg.ErrTransient}
	h := NewPresenceHandler(presence, nil)

	rec := httptest.NewRecorder()
	h.Set(rec, withIdentity(httptest.NewRequest(http.MethodPut, "/api/presence", strings.NewReader(`{"online":true}`)), barberIdentity))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("transient status = %d, want 202", rec.Code)
	}

	presence.err = pkg.ErrUnauthorized
	rec = httptest.NewRecorder()
	h.Set(rec, withIdentity(httptest.NewRequest(http.MethodPut, "/api/presence", strings.NewReader(`{"online":true}`)), barberIdentity))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthorized status = %d, want 401", rec.Code)
	}
}

// ─── Health ───

func TestHealth(t *testing.T) {
	h := NewHealthHandler(fixedState(models.ConnectionConnected), fixedState(models.ConnectionOffline))

	rec := httptest.NewRecorder()
	h.Get(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	var body struct {
		Status   string            `json:"status"`
		Upstream map[string]string `json:"upstream"`
	}
	decode(t, rec, &body)
	if body.Status != "ok" || body.Upstream["notifications"] != "connected" || body.Upstream["booking"] != "offline" {
		t.Fatalf("body = %+v", body)
	}
}
