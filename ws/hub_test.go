package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/akinalp/groomnet/models"
)

type staticState struct{ data ReadyData }

func (s staticState) ReadySnapshot() ReadyData { return s.data }

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return ev
}

func startHub(t *testing.T, origins []string) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub()
	go hub.Run()
	t.Cleanup(hub.Shutdown)

	state := staticState{data: ReadyData{
		Unread:   models.UnreadSnapshot{TotalUnread: 4, PerConversation: map[int64]int{7: 4}},
		Offer:    models.OfferState{Status: models.OfferStatusNone},
		Presence: models.PresenceState{Online: false, Connection: models.ConnectionOffline},
	}}
	h := NewHandler(hub, state, origins)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleConnection))
	t.Cleanup(srv.Close)
	return hub, srv
}

func TestHubReadyThenBroadcast(t *testing.T) {
	hub, srv := startHub(t, nil)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ready := readEvent(t, conn)
	if ready.Op != OpReady {
		t.Fatalf("first op = %q, want ready", ready.Op)
	}
	d, _ := ready.Data.(map[string]any)
	unread, _ := d["unread"].(map[string]any)
	if unread["total_unread"] != float64(4) {
		t.Fatalf("ready unread = %v", d["unread"])
	}

	waitFor(t, "client registered", func() bool { return hub.ClientCount() == 1 })

	hub.Broadcast(Event{Op: OpUnreadUpdate, Data: models.UnreadSnapshot{TotalUnread: 1}})
	hub.Broadcast(Event{Op: OpPresenceUpdate, Data: models.PresenceState{Online: true}})

	first := readEvent(t, conn)
	second := readEvent(t, conn)
	if first.Op != OpUnreadUpdate || second.Op != OpPresenceUpdate {
		t.Fatalf("ops = %q, %q", first.Op, second.Op)
	}
	if second.Seq != first.Seq+1 {
		t.Fatalf("seq = %d then %d, want consecutive", first.Seq, second.Seq)
	}
}

func TestHubHeartbeatAck(t *testing.T) {
	_, srv := startHub(t, nil)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	readEvent(t, conn) // ready

	if err := conn.WriteJSON(Event{Op: OpHeartbeat}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ev := readEvent(t, conn); ev.Op != OpHeartbeatAck {
		t.Fatalf("op = %q, want heartbeat_ack", ev.Op)
	}
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	_, srv := startHub(t, []string{"http://localhost:3000"})
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	header := http.Header{"Origin": []string{"http://evil.example"}}
	if _, _, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Fatal("foreign origin accepted")
	}

	header.Set("Origin", "http://localhost:3000")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}
	conn.Close()
}
