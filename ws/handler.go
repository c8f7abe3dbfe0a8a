package ws

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

// StateProvider returns the full current state sent as the ready event.
type StateProvider interface {
	ReadySnapshot() ReadyData
}

// Handler upgrades local UI requests on /ws.
type Handler struct {
	hub      *Hub
	state    StateProvider
	upgrader websocket.Upgrader
}

// NewHandler creates the UI socket handler. Only browser origins listed in
// allowedOrigins may connect; requests without an Origin header (native
// shells, curl) are accepted since the listener is loopback only.
func NewHandler(hub *Hub, state StateProvider, allowedOrigins []string) *Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return &Handler{
		hub:   hub,
		state: state,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed[origin]
			},
		},
	}
}

// HandleConnection upgrades the request, queues the ready snapshot and
// registers the client. It blocks until the connection closes.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] ui upgrade failed: %v", err)
		return
	}

	client := &Client{
		hub:  h.hub,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	// queued before register so it is always the first frame
	client.sendEvent(Event{Op: OpReady, Data: h.state.ReadySnapshot()})

	select {
	case h.hub.register <- client:
	case <-h.hub.done:
		conn.Close()
		return
	}

	go client.WritePump()
	client.ReadPump()
}
