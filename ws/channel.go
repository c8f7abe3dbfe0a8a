package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/akinalp/groomnet/models"
	"github.com/akinalp/groomnet/pkg"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	// maxUpstreamMessageSize caps one upstream frame.
	maxUpstreamMessageSize = 64 * 1024

	// closeAbnormal is reported when the connection drops without a close frame.
	closeAbnormal = websocket.CloseAbnormalClosure
)

var heartbeatMessage = []byte(`{"type":"heartbeat"}`)

// Notifier renders a user-visible notification from an i18n key.
type Notifier interface {
	Notify(level models.NotificationLevel, key string, params map[string]string)
}

// Handlers are the owner's callbacks. All are optional and are called from
// the channel's goroutines, never while the channel lock is held.
type Handlers struct {
	OnOpen    func()
	OnMessage func(Envelope)
	OnClose   func(code int, reason string)
	OnError   func(err error)
	OnState   func(state models.ConnectionState)
}

// ReconnectPolicy decides what happens after a transient close. The
// notification channel reconnects after a fixed delay; the booking channel
// leaves reopening to its owner.
type ReconnectPolicy struct {
	Enabled bool
	Delay   time.Duration
}

// ChannelConfig configures a Channel.
type ChannelConfig struct {
	Name              string // used in logs: "notifications", "booking"
	Reconnect         ReconnectPolicy
	HeartbeatInterval time.Duration // 0 disables
	Clock             clock.Clock
	Dialer            *websocket.Dialer
	Notifier          Notifier
	Handlers          Handlers
}

// liveConn is one underlying socket. done closes exactly once, when the
// socket is closed for any reason.
type liveConn struct {
	ws        *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
	writeMu   sync.Mutex
}

func (l *liveConn) write(messageType int, data []byte) error {
	// gorilla allows one concurrent writer per connection; Send, heartbeats
	// and close frames all come through here.
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if err := l.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return l.ws.WriteMessage(messageType, data)
}

func (l *liveConn) close() {
	l.closeOnce.Do(func() {
		close(l.done)
		l.ws.Close()
	})
}

// Channel owns one logical upstream WebSocket connection.
//
// It holds at most one live socket: Open closes and discards the previous
// one before dialing. Every connection attempt gets a new generation; reads,
// dial completions and reconnect timers carry the generation they were
// started with and do nothing once it is stale.
type Channel struct {
	name      string
	policy    ReconnectPolicy
	heartbeat time.Duration
	clock     clock.Clock
	dialer    *websocket.Dialer
	notifier  Notifier
	handlers  Handlers

	mu       sync.Mutex
	conn     *liveConn
	gen      uint64
	url      string
	state    models.ConnectionState
	timer    *clock.Timer
	shutdown bool
}

// NewChannel creates an idle channel in the disconnected state.
func NewChannel(cfg ChannelConfig) *Channel {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}

	return &Channel{
		name:      cfg.Name,
		policy:    cfg.Reconnect,
		heartbeat: cfg.HeartbeatInterval,
		clock:     clk,
		dialer:    dialer,
		notifier:  cfg.Notifier,
		handlers:  cfg.Handlers,
		state:     models.ConnectionDisconnected,
	}
}

// Open connects to rawURL, replacing any current connection. It blocks until
// the handshake finishes or fails.
//
// A URL without a token query value is rejected before dialing: the state
// becomes error, an authentication notification is raised and
// pkg.ErrUnauthorized is returned.
func (c *Channel) Open(ctx context.Context, rawURL string) error {
	if !hasToken(rawURL) {
		log.Printf("[ws] %s: no session token, not connecting", c.name)
		c.mu.Lock()
		c.gen++
		gen := c.gen
		old := c.detachLocked()
		c.mu.Unlock()
		if old != nil {
			closeWithCode(old, CloseNormal, "replaced")
		}
		c.setState(gen, models.ConnectionError)
		c.notify(models.LevelError, "notify.missingToken", nil)
		return fmt.Errorf("%w: %s channel has no token", pkg.ErrUnauthorized, c.name)
	}

	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s channel shut down", pkg.ErrInternal, c.name)
	}
	c.gen++
	gen := c.gen
	c.url = rawURL
	old := c.detachLocked()
	c.mu.Unlock()

	if old != nil {
		closeWithCode(old, CloseNormal, "replaced")
	}

	c.setState(gen, models.ConnectionConnecting)
	return c.dial(ctx, gen, rawURL)
}

// Send writes v as one JSON text frame. Nothing is queued: when the channel
// is not open the message is dropped and an error returned.
func (c *Channel) Send(v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("%w: %s channel not open", pkg.ErrTransient, c.name)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode message: %v", pkg.ErrInternal, err)
	}
	if err := conn.write(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %s write: %v", pkg.ErrTransient, c.name, err)
	}
	return nil
}

// Close shuts the connection down intentionally. Pending reconnects are
// cancelled and OnClose is not called. Closing an idle channel is a no-op
// apart from the state change.
func (c *Channel) Close(code int, reason string) {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	old := c.detachLocked()
	c.mu.Unlock()

	if old != nil {
		closeWithCode(old, code, reason)
		log.Printf("[ws] %s: closed (%d %s)", c.name, code, reason)
	}
	c.setState(gen, models.ConnectionDisconnected)
}

// Shutdown closes the channel for good; later Open calls fail.
func (c *Channel) Shutdown() {
	c.mu.Lock()
	c.shutdown = true
	c.mu.Unlock()
	c.Close(CloseNormal, "shutdown")
}

// State returns the current connection state.
func (c *Channel) State() models.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ─── Connection lifecycle ───

func (c *Channel) dial(ctx context.Context, gen uint64, rawURL string) error {
	// On a failed handshake gorilla still returns the HTTP response, which
	// is how a 401/403 is told apart from a network failure below.
	ws, resp, err := c.dialer.DialContext(ctx, rawURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	if err != nil {
		if !c.current(gen) {
			return nil
		}

		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			log.Printf("[ws] %s: handshake rejected with %d", c.name, resp.StatusCode)
			c.setState(gen, models.ConnectionError)
			c.notify(models.LevelError, "notify.authFailed", nil)
			c.emitError(err)
			return fmt.Errorf("%w: %s handshake: %v", pkg.ErrUnauthorized, c.name, err)
		}

		log.Printf("[ws] %s: dial %s failed: %v", c.name, redactURL(rawURL), err)
		c.emitError(err)
		c.scheduleReconnect(gen)
		c.setState(gen, models.ConnectionDisconnected)
		return fmt.Errorf("%w: %s dial: %v", pkg.ErrTransient, c.name, err)
	}

	// An oversized frame fails ReadMessage with websocket.ErrReadLimit,
	// which readLoop treats as an abnormal close on the transient path.
	ws.SetReadLimit(maxUpstreamMessageSize)
	conn := &liveConn{ws: ws, done: make(chan struct{})}

	c.mu.Lock()
	if gen != c.gen || c.shutdown {
		// superseded while dialing
		c.mu.Unlock()
		closeWithCode(conn, CloseNormal, "superseded")
		return nil
	}
	c.conn = conn
	c.mu.Unlock()

	log.Printf("[ws] %s: connected to %s", c.name, redactURL(rawURL))
	c.setState(gen, models.ConnectionConnected)
	if c.handlers.OnOpen != nil {
		c.handlers.OnOpen()
	}

	// One reader goroutine per socket, as gorilla requires. The heartbeat
	// loop exits on conn.done.
	go c.readLoop(gen, conn)
	if c.heartbeat > 0 {
		go c.heartbeatLoop(conn)
	}
	return nil
}

// readLoop runs until the socket closes. Malformed frames are logged and
// skipped; they never close the connection.
func (c *Channel) readLoop(gen uint64, conn *liveConn) {
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			code, reason := closeCodeOf(err)
			c.handleClose(gen, conn, code, reason)
			return
		}

		env, err := ParseEnvelope(data)
		if err != nil {
			log.Printf("[ws] %s: dropping message: %v", c.name, err)
			continue
		}

		if env.Type == TypeHeartbeatResponse {
			continue
		}

		if !c.current(gen) {
			return
		}
		if c.handlers.OnMessage != nil {
			c.handlers.OnMessage(env)
		}
	}
}

func (c *Channel) heartbeatLoop(conn *liveConn) {
	ticker := c.clock.Ticker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-conn.done:
			return
		case <-ticker.C:
			if err := conn.write(websocket.TextMessage, heartbeatMessage); err != nil {
				log.Printf("[ws] %s: heartbeat failed: %v", c.name, err)
				return
			}
		}
	}
}

// handleClose classifies a close that the server (or the network) initiated.
func (c *Channel) handleClose(gen uint64, conn *liveConn, code int, reason string) {
	c.mu.Lock()
	if gen != c.gen || c.conn != conn {
		// intentional close or replaced connection
		c.mu.Unlock()
		conn.close()
		return
	}
	c.conn = nil
	c.mu.Unlock()
	conn.close()

	log.Printf("[ws] %s: closed by server (%d %s)", c.name, code, reason)

	switch code {
	case CloseNormal:
		c.setState(gen, models.ConnectionDisconnected)
	case CloseAuthFailed:
		c.setState(gen, models.ConnectionError)
		c.notify(models.LevelError, "notify.authFailed", nil)
	case CloseActiveBooking:
		c.setState(gen, models.ConnectionBlocked)
		c.notify(models.LevelWarning, "notify.activeBookingConflict", nil)
	default:
		c.scheduleReconnect(gen)
		c.setState(gen, models.ConnectionDisconnected)
	}

	if c.handlers.OnClose != nil {
		c.handlers.OnClose(code, reason)
	}
}

// scheduleReconnect arms a single reconnect timer for gen. Any Open or Close
// in between makes gen stale and the timer does nothing.
func (c *Channel) scheduleReconnect(gen uint64) {
	if !c.policy.Enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.shutdown {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = c.clock.AfterFunc(c.policy.Delay, func() { c.reconnect(gen) })
	log.Printf("[ws] %s: reconnecting in %s", c.name, c.policy.Delay)
}

func (c *Channel) reconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.shutdown {
		c.mu.Unlock()
		return
	}
	c.gen++
	next := c.gen
	c.timer = nil
	rawURL := c.url
	c.mu.Unlock()

	c.setState(next, models.ConnectionConnecting)
	if err := c.dial(context.Background(), next, rawURL); err != nil {
		log.Printf("[ws] %s: reconnect failed: %v", c.name, err)
	}
}

// detachLocked drops the current socket and any reconnect timer. The caller
// closes the returned socket outside the lock.
func (c *Channel) detachLocked() *liveConn {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	old := c.conn
	c.conn = nil
	return old
}

func (c *Channel) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen && !c.shutdown
}

func (c *Channel) setState(gen uint64, state models.ConnectionState) {
	c.mu.Lock()
	if gen != c.gen || c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()

	if c.handlers.OnState != nil {
		c.handlers.OnState(state)
	}
}

func (c *Channel) notify(level models.NotificationLevel, key string, params map[string]string) {
	if c.notifier != nil {
		c.notifier.Notify(level, key, params)
	}
}

func (c *Channel) emitError(err error) {
	if c.handlers.OnError != nil {
		c.handlers.OnError(err)
	}
}

// ─── Helpers ───

func closeWithCode(conn *liveConn, code int, reason string) {
	_ = conn.write(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	conn.close()
}

func closeCodeOf(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	return closeAbnormal, err.Error()
}

// NotificationURL builds the notification socket URL.
func NotificationURL(base, token string) string {
	return fmt.Sprintf("%s/ws/notifications/?token=%s", strings.TrimRight(base, "/"), url.QueryEscape(token))
}

// BookingURL builds the instant-booking socket URL of one barber.
func BookingURL(base, token string, barberID int64) string {
	return fmt.Sprintf("%s/ws/instant-booking/%d/?token=%s", strings.TrimRight(base, "/"), barberID, url.QueryEscape(token))
}

func hasToken(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Query().Get("token") != ""
}

// redactURL hides the token query value for logging.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid url>"
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
