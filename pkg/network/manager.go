package network

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cbodonnell/civlink/pkg/log"
	"github.com/cbodonnell/civlink/pkg/queue"
	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultHeartbeatTimeout = 30 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultMaxRetries       = 5
	DefaultInitialBackoff   = 200 * time.Millisecond
	DefaultMaxBackoff       = 5 * time.Second
	DefaultReadBufferSize   = 4096
)

type NewManagerOptions struct {
	Dialer     Dialer
	Handshaker Handshaker
	// HeartbeatTimeout is the longest a Ready session may stay silent.
	HeartbeatTimeout time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// MaxRetries is the number of failed reconnect attempts tolerated before
	// the session is given up. Zero selects the default, negative disables reconnects.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	QueueSize      int
	ReadBufferSize int
	Logger         *log.Logger
}

// stream is a dialed and authenticated transport.
type stream struct {
	conn   Conn
	result HandshakeResult
}

// Manager owns one session with a game server: it dials, authenticates,
// reads into a bounded queue, watches liveness, and reconnects with backoff.
// It never touches game state.
type Manager struct {
	dialer           Dialer
	handshaker       Handshaker
	heartbeatTimeout time.Duration
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	maxRetries       int
	initialBackoff   time.Duration
	maxBackoff       time.Duration
	readBufferSize   int
	logger           *log.Logger

	queue *queue.InMemoryQueue[Chunk]

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	mu          sync.RWMutex
	state       State
	changed     chan struct{}
	closed      bool
	endpoint    Endpoint
	creds       Credentials
	conn        Conn
	dropReason  error
	playerID    int64
	session     string
	generation  uint64
	retryCount  int
	recoveries  uint64
	connectedAt time.Time
	lastErr     error

	writeMu      sync.Mutex
	lastActivity atomic.Int64
	enqueueing   atomic.Bool
}

func NewManager(opts NewManagerOptions) *Manager {
	if opts.Dialer == nil {
		opts.Dialer = &TCPDialer{}
	}
	if opts.Handshaker == nil {
		opts.Handshaker = nopHandshaker{}
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	} else if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = DefaultReadBufferSize
	}
	if opts.Logger == nil {
		opts.Logger = log.Component("network")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		dialer:           opts.Dialer,
		handshaker:       opts.Handshaker,
		heartbeatTimeout: opts.HeartbeatTimeout,
		handshakeTimeout: opts.HandshakeTimeout,
		writeTimeout:     opts.WriteTimeout,
		maxRetries:       opts.MaxRetries,
		initialBackoff:   opts.InitialBackoff,
		maxBackoff:       opts.MaxBackoff,
		readBufferSize:   opts.ReadBufferSize,
		logger:           opts.Logger,
		queue:            queue.NewInMemoryQueue[Chunk](opts.QueueSize),
		ctx:              ctx,
		cancel:           cancel,
		state:            StateDisconnected,
		changed:          make(chan struct{}),
	}
}

// Connect dials the endpoint and runs the handshake once. Transport failures
// are returned as *ConnectionError; handshake errors are returned as the
// Handshaker produced them. On success the session is Ready and reads begin.
func (m *Manager) Connect(ctx context.Context, endpoint Endpoint, creds Credentials) (SessionInfo, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return SessionInfo{}, ErrClosed
	}
	if m.state != StateDisconnected {
		st := m.state
		m.mu.Unlock()
		return SessionInfo{}, fmt.Errorf("failed to connect: session is already %s", st)
	}
	m.endpoint = endpoint
	m.creds = creds
	m.retryCount = 0
	m.lastErr = nil
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	m.logger.Info("Connecting to %s", endpoint)
	s, err := m.open(ctx, func() { m.setState(StateAuthenticating) })
	if err != nil {
		m.mu.Lock()
		m.lastErr = err
		m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		return SessionInfo{}, err
	}

	gen, ok := m.install(s, false)
	if !ok {
		_ = s.conn.Close()
		return SessionInfo{}, ErrClosed
	}
	go m.supervise(s, gen)

	m.logger.Info("Session ready with %s as player %d", endpoint, s.result.PlayerID)
	return m.Session(), nil
}

// open dials and authenticates a new stream with the stored endpoint and credentials.
func (m *Manager) open(ctx context.Context, authenticating func()) (stream, error) {
	m.mu.RLock()
	endpoint, creds := m.endpoint, m.creds
	m.mu.RUnlock()

	conn, err := m.dialer.Dial(ctx, endpoint)
	if err != nil {
		return stream{}, classify(err)
	}
	if authenticating != nil {
		authenticating()
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	deadline := time.Now().Add(m.handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	_ = conn.SetWriteDeadline(deadline)
	result, err := m.handshaker.Handshake(ctx, conn, creds)
	if err != nil {
		_ = conn.Close()
		return stream{}, classify(err)
	}
	_ = conn.SetWriteDeadline(time.Time{})
	return stream{conn: conn, result: result}, nil
}

// install makes s the live stream and moves the session to Ready.
func (m *Manager) install(s stream, recovered bool) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, false
	}
	m.generation++
	m.conn = s.conn
	m.dropReason = nil
	m.playerID = s.result.PlayerID
	m.session = s.result.Session
	m.connectedAt = time.Now()
	m.retryCount = 0
	m.lastErr = nil
	if recovered {
		m.recoveries++
	} else {
		m.wg.Add(1)
	}
	m.touch()
	m.setStateLocked(StateReady)
	return m.generation, true
}

// supervise runs the read loop and recovers the session until it is closed or given up.
func (m *Manager) supervise(s stream, gen uint64) {
	defer m.wg.Done()
	for {
		err := m.readLoop(s.conn, gen, s.result.Leftover)
		_ = s.conn.Close()
		if m.ctx.Err() != nil {
			return
		}

		m.mu.Lock()
		m.conn = nil
		m.lastErr = err
		m.setStateLocked(StateDegraded)
		m.mu.Unlock()
		m.logger.Warn("Session degraded: %v", err)

		s, err = m.reconnect()
		if err != nil {
			if m.ctx.Err() != nil {
				return
			}
			m.mu.Lock()
			retries := m.retryCount
			m.lastErr = err
			m.setStateLocked(StateDisconnected)
			m.mu.Unlock()
			m.logger.Error("Session lost after %d failed reconnect attempts: %v", retries, err)
			return
		}

		var ok bool
		if gen, ok = m.install(s, true); !ok {
			_ = s.conn.Close()
			return
		}
		m.logger.Info("Session recovered (generation %d)", gen)
	}
}

func (m *Manager) reconnect() (stream, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.initialBackoff
	b.MaxInterval = m.maxBackoff

	operation := func() (stream, error) {
		s, err := m.open(m.ctx, nil)
		if err != nil {
			m.mu.Lock()
			m.retryCount++
			m.lastErr = err
			m.mu.Unlock()
			if IsPermanent(err) {
				return stream{}, backoff.Permanent(err)
			}
			return stream{}, err
		}
		return s, nil
	}

	return backoff.Retry(m.ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(m.maxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.logger.Warn("Reconnect failed: %v; retrying in %s", err, next)
		}),
	)
}

// readLoop copies bytes from conn into the queue until the stream fails.
func (m *Manager) readLoop(conn Conn, gen uint64, leftover []byte) error {
	stop := make(chan struct{})
	defer close(stop)
	m.wg.Add(1)
	go m.watchdog(conn, stop)

	if len(leftover) > 0 {
		if err := m.enqueue(Chunk{Generation: gen, Data: bytes.Clone(leftover)}); err != nil {
			return err
		}
	}

	buf := make([]byte, m.readBufferSize)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(m.heartbeatTimeout))
		n, err := conn.Read(buf)
		if n > 0 {
			m.touch()
			if qerr := m.enqueue(Chunk{Generation: gen, Data: bytes.Clone(buf[:n])}); qerr != nil {
				return qerr
			}
		}
		if err != nil {
			if reason := m.takeDropReason(); reason != nil {
				return classify(reason)
			}
			return classify(err)
		}
	}
}

// enqueue blocks while the queue is full, suspending reads.
func (m *Manager) enqueue(c Chunk) error {
	m.enqueueing.Store(true)
	defer m.enqueueing.Store(false)
	return m.queue.Enqueue(m.ctx, c)
}

// watchdog drops conn when no I/O happened within the heartbeat timeout.
// Time spent blocked on a full queue does not count as silence.
func (m *Manager) watchdog(conn Conn, stop <-chan struct{}) {
	defer m.wg.Done()
	interval := m.heartbeatTimeout / 4
	if interval < 5*time.Millisecond {
		interval = 5 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if m.enqueueing.Load() {
				m.touch()
				continue
			}
			if time.Since(m.LastActivity()) > m.heartbeatTimeout {
				m.logger.Warn("No activity for %s", m.heartbeatTimeout)
				m.drop(conn, ErrHeartbeatTimeout)
				return
			}
		}
	}
}

// drop closes conn, recording why, if it is still the live stream.
func (m *Manager) drop(conn Conn, reason error) {
	m.mu.Lock()
	if m.conn == conn && m.dropReason == nil {
		m.dropReason = reason
	}
	m.mu.Unlock()
	_ = conn.Close()
}

func (m *Manager) takeDropReason() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	reason := m.dropReason
	m.dropReason = nil
	return reason
}

// Send writes b to the live stream. Writes are serialized; a failed write
// degrades the session.
func (m *Manager) Send(b []byte) error {
	m.mu.RLock()
	conn, st := m.conn, m.state
	m.mu.RUnlock()
	if st != StateReady || conn == nil {
		return &NotReadyError{State: st}
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(m.writeTimeout))
	if _, err := conn.Write(b); err != nil {
		cerr := classify(err)
		m.drop(conn, cerr)
		return cerr
	}
	m.touch()
	return nil
}

// TryNext returns a buffered chunk without blocking.
func (m *Manager) TryNext() (Chunk, bool) {
	return m.queue.TryDequeue()
}

// Next blocks until a chunk is available, ctx is done, or the session leaves
// Ready. Chunks read before the session left Ready are still delivered.
func (m *Manager) Next(ctx context.Context) (Chunk, error) {
	if c, ok := m.queue.TryDequeue(); ok {
		return c, nil
	}
	m.mu.RLock()
	st, changed := m.state, m.changed
	m.mu.RUnlock()
	if st != StateReady {
		return Chunk{}, &NotReadyError{State: st}
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-changed:
			cancel()
		case <-waitCtx.Done():
		}
	}()

	c, err := m.queue.Dequeue(waitCtx)
	if err != nil {
		if ctx.Err() != nil {
			return Chunk{}, ctx.Err()
		}
		return Chunk{}, &NotReadyError{State: m.State()}
	}
	return c, nil
}

// Receive streams chunks until ctx is done or the session leaves Ready.
// Call it again after recovery for the next session.
func (m *Manager) Receive(ctx context.Context) <-chan Chunk {
	out := make(chan Chunk)
	go func() {
		defer close(out)
		for {
			c, err := m.Next(ctx)
			if err != nil {
				return
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Resync drops the live stream so that a fresh handshake follows.
func (m *Manager) Resync() {
	m.mu.RLock()
	conn, st := m.conn, m.state
	m.mu.RUnlock()
	if conn == nil || st != StateReady {
		return
	}
	m.logger.Info("Resynchronizing session")
	m.drop(conn, ErrResync)
}

// WaitState blocks until the session is in one of states.
func (m *Manager) WaitState(ctx context.Context, states ...State) (State, error) {
	for {
		m.mu.RLock()
		st, changed := m.state, m.changed
		m.mu.RUnlock()
		for _, want := range states {
			if st == want {
				return st, nil
			}
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// Close ends the session. It is safe to call more than once.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		conn := m.conn
		m.conn = nil
		m.mu.Unlock()

		m.cancel()
		if conn != nil {
			_ = conn.Close()
		}
		m.wg.Wait()
		if unread := m.queue.Drain(0); len(unread) > 0 {
			m.logger.Debug("Discarded %d unread chunks", len(unread))
		}

		m.mu.Lock()
		m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		m.logger.Info("Connection manager closed")
	})
	return nil
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Recoveries counts Degraded to Ready transitions.
func (m *Manager) Recoveries() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.recoveries
}

// Generation identifies the live transport stream.
func (m *Manager) Generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generation
}

func (m *Manager) LastActivity() time.Time {
	return time.Unix(0, m.lastActivity.Load())
}

// Buffered is the number of chunks waiting in the queue.
func (m *Manager) Buffered() int {
	return m.queue.Size()
}

// Session returns a copy of the session description.
func (m *Manager) Session() SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info := SessionInfo{
		Endpoint:     m.endpoint,
		State:        m.state,
		PlayerID:     m.playerID,
		Session:      m.session,
		Generation:   m.generation,
		RetryCount:   m.retryCount,
		Recoveries:   m.recoveries,
		ConnectedAt:  m.connectedAt,
		LastActivity: m.LastActivity(),
	}
	if m.lastErr != nil {
		info.LastError = m.lastErr.Error()
	}
	return info
}

func (m *Manager) touch() {
	m.lastActivity.Store(time.Now().UnixNano())
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStateLocked(s)
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.logger.Debug("Session state %s -> %s", m.state, s)
	m.state = s
	close(m.changed)
	m.changed = make(chan struct{})
}

type nopHandshaker struct{}

func (nopHandshaker) Handshake(context.Context, io.ReadWriter, Credentials) (HandshakeResult, error) {
	return HandshakeResult{}, nil
}
