package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/cbodonnell/civlink/pkg/log"
	"github.com/gorilla/websocket"
)

// WebSocketDialer dials websocket streams. Each binary message carries a run
// of framed packets; message boundaries carry no meaning.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	TLS              bool
}

func (d *WebSocketDialer) Dial(ctx context.Context, endpoint Endpoint) (Conn, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	scheme := "ws"
	if d.TLS || endpoint.Transport == TransportSecureWebSocket {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: endpoint.Address(), Path: endpoint.Path}
	log.Debug("Connecting to WebSocket server at %s", u.String())

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			return nil, &ConnectionError{Kind: ErrorKindRefused, Err: fmt.Errorf("websocket upgrade rejected with status %d", resp.StatusCode)}
		}
		return nil, classify(err)
	}
	return &wsConn{conn: conn}, nil
}

// wsConn adapts message-oriented websocket reads to a byte stream.
type wsConn struct {
	conn    *websocket.Conn
	reader  io.Reader
	writeMu sync.Mutex
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			typ, r, err := c.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if typ != websocket.BinaryMessage {
				continue
			}
			c.reader = r
		}
		n, err := c.reader.Read(p)
		if errors.Is(err, io.EOF) {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}
