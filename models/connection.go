package models

// ConnectionState is the state of one logical socket channel.
type ConnectionState string

const (
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionError        ConnectionState = "error"
	ConnectionOffline      ConnectionState = "offline"
	// ConnectionBlocked: not connecting because a confirmed booking already
	// occupies the barber. Takes precedence over opening a socket.
	ConnectionBlocked ConnectionState = "blocked"
)

// PresenceState is the barber availability reported to the UI.
type PresenceState struct {
	Online     bool            `json:"online"`
	Connection ConnectionState `json:"connection"`
}
