package inference

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cbodonnell/civlink/pkg/attributes"
	"github.com/cbodonnell/civlink/pkg/config"
	"github.com/cbodonnell/civlink/pkg/network"
	"github.com/cbodonnell/civlink/pkg/packets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gameServer is an in-process server speaking the real wire format.
type gameServer struct {
	ln    net.Listener
	conns chan net.Conn
}

func newGameServer(t *testing.T) *gameServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &gameServer{ln: ln, conns: make(chan net.Conn, 16)}
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

func (s *gameServer) params() config.Params {
	return config.Params{
		"username":    "ada",
		"password":    "secret",
		"server_host": "127.0.0.1",
		"server_port": strconv.Itoa(s.ln.Addr().(*net.TCPAddr).Port),
		"ruleset":     "civ2civ3",
		"topology":    "hex",
	}
}

type serverConn struct {
	conn net.Conn
	dec  *packets.Decoder
	seq  uint32
}

func (s *gameServer) accept() (*serverConn, error) {
	select {
	case c := <-s.conns:
		return &serverConn{conn: c, dec: packets.NewDecoder(packets.DefaultMaxPacketSize)}, nil
	case <-time.After(5 * time.Second):
		return nil, errors.New("timed out waiting for client")
	}
}

func (c *serverConn) read() (packets.Packet, error) {
	buf := make([]byte, 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		p, ok, err := c.dec.Next()
		if err != nil {
			return packets.Packet{}, err
		}
		if ok {
			return p, nil
		}
		n, err := c.conn.Read(buf)
		if err != nil {
			return packets.Packet{}, err
		}
		c.dec.Feed(buf[:n])
	}
}

// expect reads packets until one of type t, answering nothing.
func (c *serverConn) expect(t packets.Type) (packets.Packet, error) {
	for {
		p, err := c.read()
		if err != nil {
			return packets.Packet{}, err
		}
		if p.Type == t {
			return p, nil
		}
	}
}

func (c *serverConn) send(frames ...[]byte) error {
	for _, f := range frames {
		if _, err := c.conn.Write(f); err != nil {
			return err
		}
	}
	return nil
}

func (c *serverConn) next() uint32 {
	c.seq++
	return c.seq
}

func (c *serverConn) json(typ packets.Type, v any) []byte {
	p, _ := packets.NewJSONPacket(typ, c.next(), v)
	b, _ := packets.Encode(p, 0)
	return b
}

func (c *serverConn) dump(batches ...packets.Batch) []byte {
	b, _ := packets.Encode(packets.Packet{Type: packets.TypeStateDump, Sequence: c.next(), Body: packets.EncodeStateDump(batches)}, 0)
	return b
}

// login answers the login packet and returns it.
func (c *serverConn) login(reply packets.LoginReply) (packets.Login, error) {
	p, err := c.expect(packets.TypeLogin)
	if err != nil {
		return packets.Login{}, err
	}
	var login packets.Login
	if err := p.DecodeJSON(&login); err != nil {
		return packets.Login{}, err
	}
	return login, c.send(c.json(packets.TypeLoginReply, reply))
}

// startScript accepts a client, logs it in, serves the dump and starts the game.
func startScript(srv *gameServer, conns chan<- *serverConn) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- func() error {
			c, err := srv.accept()
			if err != nil {
				return err
			}
			login, err := c.login(packets.LoginReply{Accepted: true, PlayerID: 3, Session: "s-1"})
			if err != nil {
				return err
			}
			if login.Username != "ada" || login.Ruleset != "civ2civ3" || login.Topology != "hex" {
				return fmt.Errorf("unexpected login %+v", login)
			}
			if _, err := c.expect(packets.TypeStateRequest); err != nil {
				return err
			}
			err = c.send(
				c.dump(
					packets.Batch{Namespace: attributes.NamespaceUnits, Entity: "1", Attrs: []packets.Attr{intAttr("hp", 10), intAttr("owner", 3)}},
					packets.Batch{Namespace: attributes.NamespaceOptions, Attrs: []packets.Attr{{Field: "topology", Value: attributes.StringValue("hex")}}},
				),
				c.json(packets.TypeGameStart, packets.GameStart{Turn: 1, PlayerID: 3}),
				c.json(packets.TypeTurnEnd, packets.TurnEnd{Turn: 2}),
			)
			if err != nil {
				return err
			}
			conns <- c
			return nil
		}()
	}()
	return errCh
}

type countingDialer struct {
	network.TCPDialer
	dials atomic.Int32
}

func (d *countingDialer) Dial(ctx context.Context, endpoint network.Endpoint) (network.Conn, error) {
	d.dials.Add(1)
	return d.TCPDialer.Dial(ctx, endpoint)
}

func integrationOptions(opts NewHandlerOptions) NewHandlerOptions {
	opts.Logger = testLogger()
	opts.StartTimeout = 5 * time.Second
	opts.InitialBackoff = 5 * time.Millisecond
	opts.MaxBackoff = 20 * time.Millisecond
	return opts
}

func startedHandler(t *testing.T, opts NewHandlerOptions) (*Handler, *gameServer, *serverConn) {
	t.Helper()
	srv := newGameServer(t)
	conns := make(chan *serverConn, 1)
	errCh := startScript(srv, conns)

	h := NewHandler(integrationOptions(opts))
	t.Cleanup(func() { _ = h.Close() })
	snap, err := h.StartGame(context.Background(), srv.params())
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	assert.Equal(t, int64(1), snap.Turn, "packets after game start wait for Update")
	assert.Equal(t, int64(3), snap.PlayerID)
	hp, ok := snap.Get("unit.1.hp")
	require.True(t, ok)
	assert.Equal(t, int64(10), hp.Int)
	user, _ := snap.Get("client.username")
	assert.Equal(t, "ada", user.Str)

	c := <-conns
	t.Cleanup(func() { _ = c.conn.Close() })
	return h, srv, c
}

func TestStartGame_EndToEnd(t *testing.T) {
	h, _, c := startedHandler(t, NewHandlerOptions{})
	assert.Equal(t, network.StateReady, h.SessionState())

	res := pollUntil(t, h, func(r UpdateResult) bool { return r.Signal == SignalTurnAdvanced })
	assert.Equal(t, int64(2), res.Turn)

	id, err := h.SubmitAction(context.Background(), packets.Action{Kind: "unit_fortify", UnitID: "1"})
	require.NoError(t, err)
	p, err := c.expect(packets.TypeAction)
	require.NoError(t, err)
	var action packets.Action
	require.NoError(t, p.DecodeJSON(&action))
	assert.Equal(t, id, action.ID)

	require.NoError(t, c.send(c.json(packets.TypeGameEnd, packets.GameEnd{Reason: "surrender"})))
	pollUntil(t, h, func(r UpdateResult) bool { return r.Signal == SignalGameEnded })
}

func TestStartGame_Rejected(t *testing.T) {
	tests := []struct {
		name  string
		reply packets.LoginReply
		want  HandshakeErrorKind
	}{
		{name: "bad credentials", reply: packets.LoginReply{Code: packets.RejectAuth, Reason: "bad password"}, want: HandshakeAuthRejected},
		{name: "ruleset mismatch", reply: packets.LoginReply{Code: packets.RejectRuleset, Reason: "server runs classic"}, want: HandshakeRulesetMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newGameServer(t)
			go func() {
				c, err := srv.accept()
				if err != nil {
					return
				}
				defer c.conn.Close()
				_, _ = c.login(tt.reply)
			}()

			dialer := &countingDialer{}
			h := NewHandler(integrationOptions(NewHandlerOptions{Dialer: dialer}))
			_, err := h.StartGame(context.Background(), srv.params())

			var herr *HandshakeError
			require.True(t, errors.As(err, &herr), "got %v", err)
			assert.Equal(t, tt.want, herr.Kind)
			assert.Equal(t, tt.reply.Reason, herr.Reason)
			assert.Equal(t, int32(1), dialer.dials.Load(), "handshake errors are not retried")
		})
	}
}

func TestStartGame_MissingSetupKey(t *testing.T) {
	base := config.Params{
		"username":    "ada",
		"server_host": "127.0.0.1",
		"server_port": "5556",
		"ruleset":     "civ2civ3",
		"topology":    "hex",
	}
	for _, key := range RequiredSetupKeys {
		t.Run(key, func(t *testing.T) {
			params := base.Clone()
			delete(params, key)

			dialer := &countingDialer{}
			h := NewHandler(integrationOptions(NewHandlerOptions{Dialer: dialer}))
			_, err := h.StartGame(context.Background(), params)

			var serr *SetupError
			require.True(t, errors.As(err, &serr), "got %v", err)
			assert.Equal(t, key, serr.MissingKey)
			assert.Zero(t, dialer.dials.Load())
		})
	}
}

func TestStartGame_InvalidSetup(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "port not a number", key: "server_port", val: "http"},
		{name: "port out of range", key: "server_port", val: "70000"},
		{name: "unknown transport", key: "transport", val: "carrier-pigeon"},
		{name: "bad autosave cadence", key: "save_every_turns", val: "often"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := config.Params{
				"username": "ada", "server_host": "127.0.0.1", "server_port": "5556",
				"ruleset": "civ2civ3", "topology": "hex",
			}
			params[tt.key] = tt.val
			h := NewHandler(integrationOptions(NewHandlerOptions{}))
			_, err := h.StartGame(context.Background(), params)

			var serr *SetupError
			require.True(t, errors.As(err, &serr), "got %v", err)
			assert.Equal(t, tt.key, serr.InvalidKey)
		})
	}
}

func TestParseSetup_Transport(t *testing.T) {
	tests := []struct {
		val  string
		want string
	}{
		{val: "", want: network.TransportTCP},
		{val: "tcp", want: network.TransportTCP},
		{val: "ws", want: network.TransportWebSocket},
		{val: "wss", want: network.TransportSecureWebSocket},
	}
	for _, tt := range tests {
		t.Run(tt.want+"/"+tt.val, func(t *testing.T) {
			params := config.Params{
				"username": "ada", "server_host": "127.0.0.1", "server_port": "5556",
				"ruleset": "civ2civ3", "topology": "hex", "transport": tt.val,
			}
			s, err := parseSetup(params)
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.endpoint.Transport)

			_, err = network.DialerFor(s.endpoint.Transport)
			assert.NoError(t, err)
		})
	}
}

func TestStartGame_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	h := NewHandler(integrationOptions(NewHandlerOptions{}))
	_, err = h.StartGame(context.Background(), config.Params{
		"username": "ada", "server_host": "127.0.0.1", "server_port": strconv.Itoa(port),
		"ruleset": "civ2civ3", "topology": "hex",
	})
	require.Error(t, err)
	assert.True(t, network.IsConnectionError(err, network.ErrorKindRefused), "got %v", err)
	assert.Equal(t, network.StateDisconnected, h.SessionState())
}

func TestRecovery_PreservesStoresAndResumes(t *testing.T) {
	h, srv, c := startedHandler(t, NewHandlerOptions{})
	pollUntil(t, h, func(r UpdateResult) bool { return r.Signal == SignalTurnAdvanced })
	before := h.GetSnapshot(ScopeAll)

	logins := make(chan packets.Login, 1)
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	go func() {
		c2, err := srv.accept()
		if err != nil {
			return
		}
		login, err := c2.login(packets.LoginReply{Accepted: true, PlayerID: 3, Session: "s-2"})
		if err == nil {
			logins <- login
		}
		<-done
		_ = c2.conn.Close()
	}()
	require.NoError(t, c.conn.Close())

	pollUntil(t, h, func(r UpdateResult) bool { return r.Signal == SignalNetworkRecovered })
	login := <-logins
	assert.Equal(t, uint32(4), login.ResumeSequence, "login carries the last applied sequence")

	after := h.GetSnapshot(ScopeAll)
	for _, ns := range attributes.Namespaces {
		if ns == attributes.NamespaceClient {
			continue
		}
		assert.True(t, before.Stores[ns].Equal(after.Stores[ns]), "store %s changed", ns)
	}
	assert.Equal(t, before.Turn, after.Turn)
}

func TestRetryCap_EndsDisconnected(t *testing.T) {
	dialer := &countingDialer{}
	h, srv, c := startedHandler(t, NewHandlerOptions{Dialer: dialer, MaxRetries: 3})
	require.NoError(t, srv.ln.Close())
	require.NoError(t, c.conn.Close())

	res := pollUntil(t, h, func(r UpdateResult) bool { return r.Signal == SignalDisconnected })
	assert.True(t, res.Signal.Terminal())
	assert.Equal(t, network.StateDisconnected, h.SessionState())
	assert.Equal(t, 4, h.SessionInfo().RetryCount)

	dials := dialer.dials.Load()
	assert.Equal(t, int32(5), dials, "one initial dial plus four failed reconnects")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, dials, dialer.dials.Load(), "no retries after giving up")
	assert.Equal(t, SignalDisconnected, h.Update().Signal)
}
