package network

import "time"

// State is the lifecycle state of a session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateReady
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Endpoint addresses a game server.
type Endpoint struct {
	Host string
	Port int
	// Transport is "tcp", "ws" or "wss".
	Transport string
	// Path is the websocket request path.
	Path string
}

func (e Endpoint) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e Endpoint) String() string {
	if e.Transport == "" {
		return e.Address()
	}
	return e.Transport + "://" + e.Address() + e.Path
}

// Credentials are replayed on every handshake, including reconnects.
type Credentials struct {
	Username string
	Password string
}

// HandshakeResult is what a successful handshake yields.
type HandshakeResult struct {
	PlayerID int64
	Session  string
	// Leftover holds bytes read past the end of the handshake reply.
	Leftover []byte
}

// SessionInfo describes the current session.
type SessionInfo struct {
	Endpoint     Endpoint  `json:"endpoint"`
	State        State     `json:"state"`
	PlayerID     int64     `json:"player_id"`
	Session      string    `json:"session"`
	Generation   uint64    `json:"generation"`
	RetryCount   int       `json:"retry_count"`
	Recoveries   uint64    `json:"recoveries"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	LastError    string    `json:"last_error,omitempty"`
}

// Chunk is a run of bytes read from one transport stream. Generation changes
// whenever a new stream replaces the old one.
type Chunk struct {
	Generation uint64
	Data       []byte
}
