package network

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

const (
	TransportTCP             = "tcp"
	TransportWebSocket       = "ws"
	TransportSecureWebSocket = "wss"
)

// Conn is a bidirectional byte stream to the server.
type Conn interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Dialer opens transport streams.
type Dialer interface {
	Dial(ctx context.Context, endpoint Endpoint) (Conn, error)
}

// Handshaker authenticates a freshly dialed stream. It is replayed on reconnect.
type Handshaker interface {
	Handshake(ctx context.Context, rw io.ReadWriter, creds Credentials) (HandshakeResult, error)
}

// Address is the host:port form of the endpoint.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// DialerFor returns the dialer for a transport name. An empty name selects TCP.
func DialerFor(transport string) (Dialer, error) {
	switch transport {
	case "", TransportTCP:
		return &TCPDialer{}, nil
	case TransportWebSocket, TransportSecureWebSocket:
		return &WebSocketDialer{}, nil
	default:
		return nil, fmt.Errorf("unsupported transport: %s", transport)
	}
}
