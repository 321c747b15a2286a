package network

import (
	"context"
	"net"
	"time"

	"github.com/cbodonnell/civlink/pkg/log"
)

const DefaultDialTimeout = 10 * time.Second

// TCPDialer dials plain TCP streams.
type TCPDialer struct {
	Timeout   time.Duration
	KeepAlive time.Duration
}

func (d *TCPDialer) Dial(ctx context.Context, endpoint Endpoint) (Conn, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	nd := net.Dialer{Timeout: timeout, KeepAlive: d.KeepAlive}
	log.Debug("Connecting to TCP server at %s", endpoint.Address())
	conn, err := nd.DialContext(ctx, "tcp", endpoint.Address())
	if err != nil {
		return nil, classify(err)
	}
	return conn, nil
}
