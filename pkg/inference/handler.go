package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cbodonnell/civlink/pkg/attributes"
	"github.com/cbodonnell/civlink/pkg/config"
	"github.com/cbodonnell/civlink/pkg/log"
	"github.com/cbodonnell/civlink/pkg/network"
	"github.com/cbodonnell/civlink/pkg/packets"
	"github.com/cbodonnell/civlink/pkg/repositories"
	"github.com/cbodonnell/civlink/pkg/version"
	"golang.org/x/time/rate"
)

// Session is the view of the connection manager the handler works through.
// *network.Manager implements it.
type Session interface {
	Send(b []byte) error
	TryNext() (network.Chunk, bool)
	Next(ctx context.Context) (network.Chunk, error)
	State() network.State
	Generation() uint64
	Recoveries() uint64
	Resync()
	WaitState(ctx context.Context, states ...network.State) (network.State, error)
	Session() network.SessionInfo
	Close() error
}

var _ Session = (*network.Manager)(nil)

// Handler keeps the client's view of the game consistent with the server.
// It owns one store per namespace; stores are mutated only by the dispatch
// path under mu, and readers receive snapshots.
type Handler struct {
	dialer            network.Dialer
	repository        repositories.Repository
	maxPacketSize     int
	maxPacketsPerTick int
	startTimeout      time.Duration
	managerOpts       network.NewManagerOptions
	clientVersion     string
	logger            *log.Logger
	limiter           *rate.Limiter

	mu             sync.Mutex
	stores         map[attributes.Namespace]*attributes.Store
	session        Session
	decoder        *packets.Decoder
	decoderGen     uint64
	discardGen     uint64
	resyncPending  bool
	lastRecoveries uint64
	turn           int64
	playerID       int64
	started        bool
	ended          bool
	disconnected   bool

	// lastSeq is the highest server sequence applied; read by the handshaker
	// from the connection manager's goroutine.
	lastSeq atomic.Uint32
	outSeq  atomic.Uint32

	pendingMu sync.Mutex
	pending   map[uint32]packets.Action
}

func NewHandler(opts NewHandlerOptions) *Handler {
	opts.setDefaults()
	h := &Handler{
		dialer:            opts.Dialer,
		repository:        opts.Repository,
		maxPacketSize:     opts.MaxPacketSize,
		maxPacketsPerTick: opts.MaxPacketsPerTick,
		startTimeout:      opts.StartTimeout,
		managerOpts: network.NewManagerOptions{
			HeartbeatTimeout: opts.HeartbeatTimeout,
			HandshakeTimeout: opts.HandshakeTimeout,
			MaxRetries:       opts.MaxRetries,
			InitialBackoff:   opts.InitialBackoff,
			MaxBackoff:       opts.MaxBackoff,
			QueueSize:        opts.QueueSize,
			Logger:           opts.Logger.With("network"),
		},
		clientVersion: opts.ClientVersion,
		logger:        opts.Logger,
		limiter:       rate.NewLimiter(rate.Limit(opts.ActionRate), opts.ActionBurst),
		stores:        make(map[attributes.Namespace]*attributes.Store, len(attributes.Namespaces)),
		decoder:       packets.NewDecoder(opts.MaxPacketSize),
		pending:       make(map[uint32]packets.Action),
	}
	if h.clientVersion == "" {
		h.clientVersion = version.Get()
	}
	for _, ns := range attributes.Namespaces {
		h.stores[ns] = attributes.NewStore(ns)
	}
	return h
}

// StartGame connects, logs in, requests the full state and blocks until the
// server announces the game start. Missing setup keys fail with *SetupError
// before any I/O and a rejected login fails with *HandshakeError.
func (h *Handler) StartGame(ctx context.Context, params config.Params) (WorldSnapshot, error) {
	s, err := parseSetup(params)
	if err != nil {
		return WorldSnapshot{}, err
	}

	h.mu.Lock()
	if h.session != nil && h.session.State() != network.StateDisconnected {
		h.mu.Unlock()
		return WorldSnapshot{}, fmt.Errorf("failed to start game: session is %s", h.session.State())
	}
	h.mu.Unlock()

	dialer := h.dialer
	if dialer == nil {
		if dialer, err = network.DialerFor(s.endpoint.Transport); err != nil {
			return WorldSnapshot{}, &SetupError{InvalidKey: "transport", Reason: err.Error()}
		}
	}
	opts := h.managerOpts
	opts.Dialer = dialer
	opts.Handshaker = &loginHandshaker{
		login: packets.Login{
			Ruleset:       s.ruleset,
			Topology:      s.topology,
			ClientVersion: h.clientVersion,
		},
		maxPacket: h.maxPacketSize,
		resume:    h.lastSeq.Load,
	}
	manager := network.NewManager(opts)

	ctx, cancel := context.WithTimeout(ctx, h.startTimeout)
	defer cancel()

	info, err := manager.Connect(ctx, s.endpoint, s.creds)
	if err != nil {
		_ = manager.Close()
		var herr *HandshakeError
		if errors.As(err, &herr) {
			return WorldSnapshot{}, herr
		}
		return WorldSnapshot{}, fmt.Errorf("failed to connect to %s: %w", s.endpoint, err)
	}

	h.mu.Lock()
	h.attach(manager)
	h.playerID = info.PlayerID
	h.setLocal(attributes.NamespaceClient, "client.username", attributes.StringValue(s.creds.Username))
	h.setLocal(attributes.NamespaceClient, "client.player_id", attributes.IntValue(info.PlayerID))
	h.setLocal(attributes.NamespaceClient, "client.session", attributes.StringValue(info.Session))
	h.setLocal(attributes.NamespaceClient, "client.connected", attributes.BoolValue(true))
	err = h.requestState("start")
	h.mu.Unlock()
	if err != nil {
		_ = manager.Close()
		return WorldSnapshot{}, fmt.Errorf("failed to request state: %w", err)
	}

	if err := h.awaitStart(ctx); err != nil {
		_ = manager.Close()
		return WorldSnapshot{}, err
	}
	h.logger.Info("Game started at turn %d as player %d", h.Turn(), h.PlayerID())
	return h.GetSnapshot(ScopeAll), nil
}

// attach installs a session and resets the per-session decode state.
func (h *Handler) attach(s Session) {
	h.session = s
	h.decoder.Reset()
	h.decoderGen = s.Generation()
	h.discardGen = 0
	h.resyncPending = false
	h.lastRecoveries = s.Recoveries()
	h.started = false
	h.ended = false
	h.disconnected = false
}

// awaitStart applies packets until the game start packet arrives.
func (h *Handler) awaitStart(ctx context.Context) error {
	for {
		h.mu.Lock()
		started := h.started
		if !started {
			h.maybeRequestState()
			h.process(0, true, &UpdateResult{})
			started = h.started
		}
		sess := h.session
		h.mu.Unlock()
		if started {
			return nil
		}

		c, err := sess.Next(ctx)
		if err == nil {
			h.mu.Lock()
			h.feed(c)
			h.mu.Unlock()
			continue
		}
		if !network.IsNotReady(err) {
			return fmt.Errorf("failed waiting for game start: %w", err)
		}

		st, werr := sess.WaitState(ctx, network.StateReady, network.StateDisconnected)
		if werr != nil {
			return fmt.Errorf("failed waiting for game start: %w", werr)
		}
		if st == network.StateDisconnected {
			return fmt.Errorf("failed waiting for game start: %s", sess.Session().LastError)
		}
		h.mu.Lock()
		h.lastRecoveries = sess.Recoveries()
		h.resyncPending = true
		h.mu.Unlock()
	}
}

// requestState asks the server for a full state dump.
func (h *Handler) requestState(reason string) error {
	return h.sendJSON(packets.TypeStateRequest, packets.StateRequest{Reason: reason})
}

func (h *Handler) sendJSON(t packets.Type, v any) error {
	p, err := packets.NewJSONPacket(t, h.outSeq.Add(1), v)
	if err != nil {
		return err
	}
	b, err := packets.Encode(p, h.maxPacketSize)
	if err != nil {
		return err
	}
	if h.session == nil {
		return &network.NotReadyError{State: network.StateDisconnected}
	}
	return h.session.Send(b)
}

// setLocal records a client-side value one version past the current one.
// Writing the value already stored is a no-op.
func (h *Handler) setLocal(ns attributes.Namespace, key string, v attributes.Value) {
	store := h.stores[ns]
	if cur, ok := store.Get(key); ok && cur.Equal(v) {
		return
	}
	version := store.Version(key) + 1
	if floor := store.Floor(); version <= floor {
		version = floor + 1
	}
	store.Set(key, v, version)
}

// EndGame optionally saves to savePath and closes the session.
func (h *Handler) EndGame(ctx context.Context, savePath string) error {
	var saveErr error
	if savePath != "" {
		saveErr = h.SaveGame(ctx, savePath)
	}
	if err := h.Close(); err != nil {
		return err
	}
	return saveErr
}

// Close ends the session. It is safe to call more than once; later Update
// calls report a terminal signal.
func (h *Handler) Close() error {
	h.mu.Lock()
	sess := h.session
	if sess != nil {
		h.setLocal(attributes.NamespaceClient, "client.connected", attributes.BoolValue(false))
	}
	h.mu.Unlock()
	if sess == nil {
		return nil
	}
	return sess.Close()
}

// Reset closes the session and clears every store, the turn and the pending
// actions so that the next StartGame begins from an empty world.
func (h *Handler) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to reset: %w", err)
	}
	if err := h.Close(); err != nil {
		return fmt.Errorf("failed to reset: %w", err)
	}

	h.mu.Lock()
	for _, s := range h.stores {
		s.Reset(0)
	}
	h.session = nil
	h.decoder.Reset()
	h.resyncPending = false
	h.turn = 0
	h.playerID = 0
	h.started = false
	h.ended = false
	h.disconnected = false
	h.lastSeq.Store(0)
	h.mu.Unlock()

	h.pendingMu.Lock()
	h.pending = make(map[uint32]packets.Action)
	h.pendingMu.Unlock()
	h.logger.Info("Reset game state")
	return nil
}

func (h *Handler) Turn() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.turn
}

func (h *Handler) PlayerID() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.playerID
}

func (h *Handler) Started() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.started
}

func (h *Handler) Ended() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ended
}

// SessionState is the connection state, Disconnected before StartGame.
func (h *Handler) SessionState() network.State {
	h.mu.Lock()
	sess := h.session
	h.mu.Unlock()
	if sess == nil {
		return network.StateDisconnected
	}
	return sess.State()
}

// SessionInfo describes the connection, zero before StartGame.
func (h *Handler) SessionInfo() network.SessionInfo {
	h.mu.Lock()
	sess := h.session
	h.mu.Unlock()
	if sess == nil {
		return network.SessionInfo{}
	}
	return sess.Session()
}

// Rejected is the number of stale or mistyped writes across all stores.
func (h *Handler) Rejected() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	var n uint64
	for _, s := range h.stores {
		n += s.Rejected()
	}
	return n
}

// LastSequence is the highest server sequence applied.
func (h *Handler) LastSequence() uint32 {
	return h.lastSeq.Load()
}
