package network

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rejectedError struct{}

func (rejectedError) Error() string   { return "login rejected" }
func (rejectedError) Permanent() bool { return true }

// lineHandshaker sends "LOGIN <user>" and expects "OK <player>" or "NO".
type lineHandshaker struct{}

func (lineHandshaker) Handshake(ctx context.Context, rw io.ReadWriter, creds Credentials) (HandshakeResult, error) {
	if _, err := fmt.Fprintf(rw, "LOGIN %s\n", creds.Username); err != nil {
		return HandshakeResult{}, err
	}
	r := bufio.NewReader(rw)
	line, err := r.ReadString('\n')
	if err != nil {
		return HandshakeResult{}, err
	}
	line = strings.TrimSpace(line)
	if line == "NO" {
		return HandshakeResult{}, rejectedError{}
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(line, "OK "), 10, 64)
	if err != nil {
		return HandshakeResult{}, fmt.Errorf("bad reply %q", line)
	}
	leftover := make([]byte, r.Buffered())
	_, _ = io.ReadFull(r, leftover)
	return HandshakeResult{PlayerID: id, Leftover: leftover}, nil
}

type fakeServer struct {
	ln    net.Listener
	conns chan net.Conn
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &fakeServer{ln: ln, conns: make(chan net.Conn, 16)}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			s.conns <- c
		}
	}()
	t.Cleanup(func() { _ = ln.Close() })
	return s
}

func (s *fakeServer) endpoint() Endpoint {
	return Endpoint{Host: "127.0.0.1", Port: s.ln.Addr().(*net.TCPAddr).Port, Transport: TransportTCP}
}

// login accepts the next connection and answers its handshake.
func (s *fakeServer) login(t *testing.T, reply string) net.Conn {
	t.Helper()
	select {
	case c := <-s.conns:
		t.Cleanup(func() { _ = c.Close() })
		r := bufio.NewReader(c)
		_, err := r.ReadString('\n')
		require.NoError(t, err)
		_, err = io.WriteString(c, reply)
		require.NoError(t, err)
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for client connection")
		return nil
	}
}

type countingDialer struct {
	Dialer
	dials atomic.Int32
}

func (d *countingDialer) Dial(ctx context.Context, endpoint Endpoint) (Conn, error) {
	d.dials.Add(1)
	return d.Dialer.Dial(ctx, endpoint)
}

func testManager(opts NewManagerOptions) *Manager {
	if opts.Handshaker == nil {
		opts.Handshaker = lineHandshaker{}
	}
	if opts.InitialBackoff == 0 {
		opts.InitialBackoff = 5 * time.Millisecond
	}
	if opts.MaxBackoff == 0 {
		opts.MaxBackoff = 20 * time.Millisecond
	}
	return NewManager(opts)
}

func connectAsync(m *Manager, endpoint Endpoint) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		_, err := m.Connect(context.Background(), endpoint, Credentials{Username: "ada"})
		errCh <- err
	}()
	return errCh
}

func waitState(t *testing.T, m *Manager, states ...State) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := m.WaitState(ctx, states...)
	require.NoError(t, err, "state stuck at %s", st)
	return st
}

func TestManager_ConnectSendReceive(t *testing.T) {
	srv := newFakeServer(t)
	m := testManager(NewManagerOptions{})
	defer m.Close()

	errCh := connectAsync(m, srv.endpoint())
	conn := srv.login(t, "OK 7\nearly")
	require.NoError(t, <-errCh)

	info := m.Session()
	assert.Equal(t, StateReady, info.State)
	assert.Equal(t, int64(7), info.PlayerID)
	assert.Equal(t, uint64(1), info.Generation)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	chunk, err := m.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "early", string(chunk.Data), "bytes read past the handshake are delivered first")
	assert.Equal(t, uint64(1), chunk.Generation)

	_, err = conn.Write([]byte("turn"))
	require.NoError(t, err)
	chunk, err = m.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "turn", string(chunk.Data))

	require.NoError(t, m.Send([]byte("ping")))
	buf := make([]byte, 4)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))
}

func TestManager_CloseDiscardsUnreadChunks(t *testing.T) {
	srv := newFakeServer(t)
	m := testManager(NewManagerOptions{})

	errCh := connectAsync(m, srv.endpoint())
	srv.login(t, "OK 7\nunread")
	require.NoError(t, <-errCh)
	require.Eventually(t, func() bool { return m.Buffered() > 0 }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Close())
	assert.Zero(t, m.Buffered())
	_, ok := m.TryNext()
	assert.False(t, ok)
}

func TestManager_ConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	m := testManager(NewManagerOptions{})
	defer m.Close()
	_, err = m.Connect(context.Background(), Endpoint{Host: "127.0.0.1", Port: port}, Credentials{})
	require.Error(t, err)
	assert.True(t, IsConnectionError(err, ErrorKindRefused), "got %v", err)
	assert.Equal(t, StateDisconnected, m.State())
}

func TestManager_HandshakeRejectionIsPermanent(t *testing.T) {
	srv := newFakeServer(t)
	dialer := &countingDialer{Dialer: &TCPDialer{}}
	m := testManager(NewManagerOptions{Dialer: dialer})
	defer m.Close()

	errCh := connectAsync(m, srv.endpoint())
	srv.login(t, "NO\n")
	err := <-errCh
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, int32(1), dialer.dials.Load())
}

func TestManager_RecoversAfterDrop(t *testing.T) {
	srv := newFakeServer(t)
	m := testManager(NewManagerOptions{})
	defer m.Close()

	errCh := connectAsync(m, srv.endpoint())
	first := srv.login(t, "OK 7\n")
	require.NoError(t, <-errCh)

	require.NoError(t, first.Close())
	second := srv.login(t, "OK 7\n")
	waitState(t, m, StateReady)
	require.Eventually(t, func() bool { return m.Recoveries() == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(2), m.Generation())
	assert.Zero(t, m.Session().RetryCount)

	_, err := second.Write([]byte("after"))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	chunk, err := m.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), chunk.Generation)
}

func TestManager_GivesUpAfterRetryCap(t *testing.T) {
	srv := newFakeServer(t)
	dialer := &countingDialer{Dialer: &TCPDialer{}}
	m := testManager(NewManagerOptions{Dialer: dialer, MaxRetries: 3})
	defer m.Close()

	errCh := connectAsync(m, srv.endpoint())
	conn := srv.login(t, "OK 1\n")
	require.NoError(t, <-errCh)

	require.NoError(t, srv.ln.Close())
	require.NoError(t, conn.Close())

	waitState(t, m, StateDisconnected)
	info := m.Session()
	assert.Equal(t, 4, info.RetryCount)
	assert.NotEmpty(t, info.LastError)
	assert.Equal(t, int32(5), dialer.dials.Load())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(5), dialer.dials.Load(), "no retries after giving up")
	assert.Equal(t, StateDisconnected, m.State())

	_, err := m.Next(context.Background())
	assert.True(t, IsNotReady(err))
}

func TestManager_PermanentErrorStopsReconnect(t *testing.T) {
	srv := newFakeServer(t)
	m := testManager(NewManagerOptions{MaxRetries: 10})
	defer m.Close()

	errCh := connectAsync(m, srv.endpoint())
	first := srv.login(t, "OK 1\n")
	require.NoError(t, <-errCh)

	require.NoError(t, first.Close())
	srv.login(t, "NO\n")

	waitState(t, m, StateDisconnected)
	assert.Equal(t, 1, m.Session().RetryCount)
}

func TestManager_WatchdogDegradesSilentSession(t *testing.T) {
	srv := newFakeServer(t)
	m := testManager(NewManagerOptions{HeartbeatTimeout: 100 * time.Millisecond})
	defer m.Close()

	errCh := connectAsync(m, srv.endpoint())
	srv.login(t, "OK 1\n")
	require.NoError(t, <-errCh)

	// Stay silent on the first stream; answer the reconnect.
	srv.login(t, "OK 1\n")
	require.Eventually(t, func() bool { return m.Recoveries() == 1 }, 5*time.Second, 5*time.Millisecond)
}

func TestManager_ResyncForcesHandshake(t *testing.T) {
	srv := newFakeServer(t)
	m := testManager(NewManagerOptions{})
	defer m.Close()

	errCh := connectAsync(m, srv.endpoint())
	srv.login(t, "OK 1\n")
	require.NoError(t, <-errCh)

	m.Resync()
	srv.login(t, "OK 1\n")
	require.Eventually(t, func() bool { return m.Recoveries() == 1 && m.State() == StateReady }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(2), m.Generation())
}

func TestManager_BackpressureDropsNothing(t *testing.T) {
	srv := newFakeServer(t)
	m := testManager(NewManagerOptions{QueueSize: 1, ReadBufferSize: 16})
	defer m.Close()

	errCh := connectAsync(m, srv.endpoint())
	conn := srv.login(t, "OK 1\n")
	require.NoError(t, <-errCh)

	payload := strings.Repeat("0123456789", 100)
	go func() { _, _ = io.WriteString(conn, payload) }()

	var got strings.Builder
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for got.Len() < len(payload) {
		chunk, err := m.Next(ctx)
		require.NoError(t, err)
		got.Write(chunk.Data)
	}
	assert.Equal(t, payload, got.String())
}

func TestManager_SendRequiresReady(t *testing.T) {
	m := testManager(NewManagerOptions{})
	err := m.Send([]byte("x"))
	var notReady *NotReadyError
	require.True(t, errors.As(err, &notReady))
	assert.Equal(t, StateDisconnected, notReady.State)
}

func TestManager_CloseIsIdempotent(t *testing.T) {
	srv := newFakeServer(t)
	m := testManager(NewManagerOptions{})

	errCh := connectAsync(m, srv.endpoint())
	srv.login(t, "OK 1\n")
	require.NoError(t, <-errCh)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Equal(t, StateDisconnected, m.State())

	_, err := m.Connect(context.Background(), srv.endpoint(), Credentials{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{name: "eof", err: io.EOF, kind: ErrorKindClosed},
		{name: "closed", err: net.ErrClosed, kind: ErrorKindClosed},
		{name: "resync", err: ErrResync, kind: ErrorKindClosed},
		{name: "heartbeat", err: ErrHeartbeatTimeout, kind: ErrorKindTimeout},
		{name: "deadline", err: context.DeadlineExceeded, kind: ErrorKindTimeout},
		{name: "other", err: errors.New("broken pipe"), kind: ErrorKindReset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, IsConnectionError(classify(tt.err), tt.kind))
		})
	}
	assert.Equal(t, rejectedError{}, classify(rejectedError{}))
}
