package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/akinalp/groomnet/models"
	"github.com/akinalp/groomnet/pkg"
	"github.com/akinalp/groomnet/pkg/i18n"
)

// recordingNotifier renders notifications with the embedded English catalog.
type recordingNotifier struct {
	mu   sync.Mutex
	loc  *i18n.Localizer
	msgs []string
	keys []string
}

func newRecordingNotifier(t *testing.T) *recordingNotifier {
	t.Helper()
	cat, err := i18n.LoadEmbedded()
	if err != nil {
		t.Fatalf("i18n.LoadEmbedded: %v", err)
	}
	return &recordingNotifier{loc: cat.Localizer("en")}
}

func (n *recordingNotifier) Notify(_ models.NotificationLevel, key string, params map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.keys = append(n.keys, key)
	n.msgs = append(n.msgs, n.loc.TWithParams(key, params))
}

func (n *recordingNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}

// fakeUpstream is a gorilla WebSocket server. onConn runs for every accepted
// connection with its 1-based index.
type fakeUpstream struct {
	srv   *httptest.Server
	conns atomic.Int32
}

func newFakeUpstream(t *testing.T, onConn func(n int32, conn *websocket.Conn)) *fakeUpstream {
	t.Helper()

	f := &fakeUpstream{}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := f.conns.Add(1)
		onConn(n, conn)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeUpstream) wsBase() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

// holdOpen keeps a server connection alive until the client goes away.
func holdOpen(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestChannelAuthCloseIsTerminal(t *testing.T) {
	up := newFakeUpstream(t, func(n int32, conn *websocket.Conn) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(CloseAuthFailed, "invalid token"))
		holdOpen(conn)
	})
	mock := clock.NewMock()
	notifier := newRecordingNotifier(t)

	var closeCode atomic.Int32
	ch := NewChannel(ChannelConfig{
		Name:      "notifications",
		Reconnect: ReconnectPolicy{Enabled: true, Delay: 3 * time.Second},
		Clock:     mock,
		Notifier:  notifier,
		Handlers: Handlers{
			OnClose: func(code int, _ string) { closeCode.Store(int32(code)) },
		},
	})
	defer ch.Shutdown()

	if err := ch.Open(context.Background(), NotificationURL(up.wsBase(), "tok")); err != nil {
		t.Fatalf("Open: %v", err)
	}

	waitFor(t, "close callback", func() bool { return closeCode.Load() == CloseAuthFailed })

	if got := ch.State(); got != models.ConnectionError {
		t.Fatalf("state = %s, want error", got)
	}

	mock.Add(30 * time.Second)
	time.Sleep(50 * time.Millisecond)
	if n := up.conns.Load(); n != 1 {
		t.Fatalf("server saw %d connections, want 1 (no reconnect)", n)
	}

	msgs := notifier.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "Authentication failed") {
		t.Fatalf("notifications = %q, want one containing %q", msgs, "Authentication failed")
	}
}

func TestChannelConflictCloseIsTerminal(t *testing.T) {
	up := newFakeUpstream(t, func(n int32, conn *websocket.Conn) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(CloseActiveBooking, "active booking"))
		holdOpen(conn)
	})
	mock := clock.NewMock()
	notifier := newRecordingNotifier(t)

	var closeCode atomic.Int32
	ch := NewChannel(ChannelConfig{
		Name:      "booking",
		Reconnect: ReconnectPolicy{Enabled: true, Delay: 3 * time.Second},
		Clock:     mock,
		Notifier:  notifier,
		Handlers: Handlers{
			OnClose: func(code int, _ string) { closeCode.Store(int32(code)) },
		},
	})
	defer ch.Shutdown()

	if err := ch.Open(context.Background(), BookingURL(up.wsBase(), "tok", 12)); err != nil {
		t.Fatalf("Open: %v", err)
	}

	waitFor(t, "close callback", func() bool { return closeCode.Load() == CloseActiveBooking })

	if got := ch.State(); got != models.ConnectionBlocked {
		t.Fatalf("state = %s, want blocked", got)
	}

	// even with reconnect enabled, 4002 never redials
	mock.Add(30 * time.Second)
	time.Sleep(50 * time.Millisecond)
	if n := up.conns.Load(); n != 1 {
		t.Fatalf("server saw %d connections, want 1 (no reconnect)", n)
	}

	msgs := notifier.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "active booking") {
		t.Fatalf("notifications = %q, want one about the active booking", msgs)
	}
}

func TestChannelTransientCloseReconnectsOnce(t *testing.T) {
	up := newFakeUpstream(t, func(n int32, conn *websocket.Conn) {
		if n == 1 {
			// empty close payload is reported as 1005
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNoStatusReceived, ""))
		}
		holdOpen(conn)
	})
	mock := clock.NewMock()

	var closeCode atomic.Int32
	ch := NewChannel(ChannelConfig{
		Name:      "notifications",
		Reconnect: ReconnectPolicy{Enabled: true, Delay: 3 * time.Second},
		Clock:     mock,
		Handlers: Handlers{
			OnClose: func(code int, _ string) { closeCode.Store(int32(code)) },
		},
	})
	defer ch.Shutdown()

	if err := ch.Open(context.Background(), NotificationURL(up.wsBase(), "tok")); err != nil {
		t.Fatalf("Open: %v", err)
	}

	waitFor(t, "transient close", func() bool { return closeCode.Load() == websocket.CloseNoStatusReceived })
	if got := ch.State(); got != models.ConnectionDisconnected {
		t.Fatalf("state = %s, want disconnected", got)
	}

	mock.Add(2999 * time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	if n := up.conns.Load(); n != 1 {
		t.Fatalf("reconnected before the delay: %d connections", n)
	}

	mock.Add(time.Millisecond)
	waitFor(t, "reconnect", func() bool { return up.conns.Load() == 2 })
	waitFor(t, "connected state", func() bool { return ch.State() == models.ConnectionConnected })

	mock.Add(time.Minute)
	time.Sleep(50 * time.Millisecond)
	if n := up.conns.Load(); n != 2 {
		t.Fatalf("server saw %d connections, want exactly 2", n)
	}
}

func TestChannelMalformedJSONKeepsConnection(t *testing.T) {
	up := newFakeUpstream(t, func(n int32, conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"no_type": true}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"heartbeat_response"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"unread_count_update","booking_id":7,"unread_count":3}`))
		holdOpen(conn)
	})

	received := make(chan Envelope, 4)
	ch := NewChannel(ChannelConfig{
		Name:  "notifications",
		Clock: clock.NewMock(),
		Handlers: Handlers{
			OnMessage: func(env Envelope) { received <- env },
		},
	})
	defer ch.Shutdown()

	if err := ch.Open(context.Background(), NotificationURL(up.wsBase(), "tok")); err != nil {
		t.Fatalf("Open: %v", err)
	}

	select {
	case env := <-received:
		if env.Type != TypeUnreadCountUpdate {
			t.Fatalf("first delivered type = %q, want %q", env.Type, TypeUnreadCountUpdate)
		}
		var upd UnreadCountUpdate
		if err := env.Decode(&upd); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if upd.BookingID != 7 || upd.UnreadCount != 3 {
			t.Fatalf("payload = %+v", upd)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("valid message never delivered")
	}

	if got := ch.State(); got != models.ConnectionConnected {
		t.Fatalf("state = %s, want connected", got)
	}
}

func TestChannelUnknownTypeKeepsConnection(t *testing.T) {
	up := newFakeUpstream(t, func(n int32, conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"typing_indicator","booking_id":7}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"unread_count_update","booking_id":7,"unread_count":1}`))
		holdOpen(conn)
	})

	received := make(chan Envelope, 4)
	ch := NewChannel(ChannelConfig{
		Name:  "notifications",
		Clock: clock.NewMock(),
		Handlers: Handlers{
			OnMessage: func(env Envelope) { received <- env },
		},
	})
	defer ch.Shutdown()

	if err := ch.Open(context.Background(), NotificationURL(up.wsBase(), "tok")); err != nil {
		t.Fatalf("Open: %v", err)
	}

	// routing is the owner's job: both frames are handed over in order
	var types []string
	for len(types) < 2 {
		select {
		case env := <-received:
			types = append(types, env.Type)
		case <-time.After(3 * time.Second):
			t.Fatalf("delivered %v, want two messages", types)
		}
	}
	if types[0] != "typing_indicator" || types[1] != TypeUnreadCountUpdate {
		t.Fatalf("delivered types = %v", types)
	}

	if got := ch.State(); got != models.ConnectionConnected {
		t.Fatalf("state = %s, want connected", got)
	}
	if n := up.conns.Load(); n != 1 {
		t.Fatalf("server saw %d connections, want 1", n)
	}
}

func TestChannelMissingTokenDoesNotDial(t *testing.T) {
	up := newFakeUpstream(t, func(n int32, conn *websocket.Conn) { holdOpen(conn) })
	notifier := newRecordingNotifier(t)

	var states []models.ConnectionState
	var mu sync.Mutex
	ch := NewChannel(ChannelConfig{
		Name:     "booking",
		Clock:    clock.NewMock(),
		Notifier: notifier,
		Handlers: Handlers{
			OnState: func(s models.ConnectionState) {
				mu.Lock()
				states = append(states, s)
				mu.Unlock()
			},
		},
	})

	err := ch.Open(context.Background(), BookingURL(up.wsBase(), "", 12))
	if !errors.Is(err, pkg.ErrUnauthorized) {
		t.Fatalf("Open err = %v, want ErrUnauthorized", err)
	}
	if n := up.conns.Load(); n != 0 {
		t.Fatalf("server saw %d connections, want 0", n)
	}
	if got := ch.State(); got != models.ConnectionError {
		t.Fatalf("state = %s, want error", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) != 1 || states[0] != models.ConnectionError {
		t.Fatalf("state transitions = %v, want [error]", states)
	}
	if msgs := notifier.messages(); len(msgs) != 1 || !strings.Contains(msgs[0], "Authentication failed") {
		t.Fatalf("notifications = %q", msgs)
	}
}

func TestChannelIntentionalCloseDoesNotReconnect(t *testing.T) {
	up := newFakeUpstream(t, func(n int32, conn *websocket.Conn) { holdOpen(conn) })
	mock := clock.NewMock()

	var closes atomic.Int32
	ch := NewChannel(ChannelConfig{
		Name:      "notifications",
		Reconnect: ReconnectPolicy{Enabled: true, Delay: 3 * time.Second},
		Clock:     mock,
		Handlers: Handlers{
			OnClose: func(int, string) { closes.Add(1) },
		},
	})

	if err := ch.Open(context.Background(), NotificationURL(up.wsBase(), "tok")); err != nil {
		t.Fatalf("Open: %v", err)
	}
	ch.Close(CloseNormal, "logout")

	mock.Add(time.Minute)
	time.Sleep(50 * time.Millisecond)

	if n := up.conns.Load(); n != 1 {
		t.Fatalf("server saw %d connections, want 1", n)
	}
	if closes.Load() != 0 {
		t.Fatal("OnClose fired for an intentional close")
	}
	if got := ch.State(); got != models.ConnectionDisconnected {
		t.Fatalf("state = %s, want disconnected", got)
	}
	if err := ch.Send(map[string]string{"type": "heartbeat"}); !errors.Is(err, pkg.ErrTransient) {
		t.Fatalf("Send on closed channel err = %v, want ErrTransient", err)
	}
}

func TestChannelOpenReplacesConnection(t *testing.T) {
	var serverClosed atomic.Int32
	up := newFakeUpstream(t, func(n int32, conn *websocket.Conn) {
		holdOpen(conn)
		serverClosed.Add(1)
	})

	ch := NewChannel(ChannelConfig{Name: "booking", Clock: clock.NewMock()})
	defer ch.Shutdown()

	url := BookingURL(up.wsBase(), "tok", 3)
	if err := ch.Open(context.Background(), url); err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := ch.Open(context.Background(), url); err != nil {
		t.Fatalf("second Open: %v", err)
	}

	waitFor(t, "first socket closed", func() bool { return serverClosed.Load() == 1 })
	if n := up.conns.Load(); n != 2 {
		t.Fatalf("server saw %d connections, want 2", n)
	}
	if got := ch.State(); got != models.ConnectionConnected {
		t.Fatalf("state = %s, want connected", got)
	}
}

func TestChannelHeartbeat(t *testing.T) {
	got := make(chan string, 2)
	up := newFakeUpstream(t, func(n int32, conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			got <- string(data)
		}
	})
	mock := clock.NewMock()

	ch := NewChannel(ChannelConfig{Name: "notifications", Clock: mock, HeartbeatInterval: 30 * time.Second})
	defer ch.Shutdown()

	if err := ch.Open(context.Background(), NotificationURL(up.wsBase(), "tok")); err != nil {
		t.Fatalf("Open: %v", err)
	}

	// the ticker goroutine may not be registered yet; keep advancing
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mock.Add(30 * time.Second)
		select {
		case msg := <-got:
			if msg != `{"type":"heartbeat"}` {
				t.Fatalf("heartbeat = %s", msg)
			}
			return
		case <-time.After(20 * time.Millisecond):
		}
	}
	t.Fatal("no heartbeat received")
}

func TestURLHelpers(t *testing.T) {
	if got := NotificationURL("ws://host:8000/", "a b"); got != "ws://host:8000/ws/notifications/?token=a+b" {
		t.Errorf("NotificationURL = %s", got)
	}
	if got := BookingURL("wss://host", "tok", 42); got != "wss://host/ws/instant-booking/42/?token=tok" {
		t.Errorf("BookingURL = %s", got)
	}
	if hasToken("ws://host/ws/notifications/?token=") {
		t.Error("empty token accepted")
	}
	if red := redactURL("ws://host/ws/notifications/?token=secret"); strings.Contains(red, "secret") {
		t.Errorf("redactURL leaked token: %s", red)
	}
}
