package inference

import (
	"context"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/cbodonnell/civlink/pkg/attributes"
	"github.com/cbodonnell/civlink/pkg/log"
	"github.com/cbodonnell/civlink/pkg/network"
	"github.com/cbodonnell/civlink/pkg/packets"
	"github.com/cbodonnell/civlink/pkg/repositories"
	"github.com/stretchr/testify/require"
)

// fakeSession is a deterministic stand-in for the connection manager.
type fakeSession struct {
	mu         sync.Mutex
	chunks     []network.Chunk
	sent       [][]byte
	state      network.State
	generation uint64
	recoveries uint64
	resyncs    int
	closed     bool
	sendErr    error
	lastError  string
}

func newFakeSession() *fakeSession {
	return &fakeSession{state: network.StateReady, generation: 1}
}

// push queues bytes on the current generation.
func (s *fakeSession) push(b ...[]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range b {
		s.chunks = append(s.chunks, network.Chunk{Generation: s.generation, Data: c})
	}
}

// reconnect simulates a successful reconnect.
func (s *fakeSession) reconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.recoveries++
	s.state = network.StateReady
}

func (s *fakeSession) setState(st network.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

func (s *fakeSession) sentPackets(t *testing.T) []packets.Packet {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []packets.Packet
	for _, b := range s.sent {
		ps, rest, err := packets.Decode(b, packets.MaxFrameLength)
		require.NoError(t, err)
		require.Empty(t, rest)
		out = append(out, ps...)
	}
	return out
}

func (s *fakeSession) Send(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	if s.state != network.StateReady {
		return &network.NotReadyError{State: s.state}
	}
	s.sent = append(s.sent, append([]byte(nil), b...))
	return nil
}

func (s *fakeSession) TryNext() (network.Chunk, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.chunks) == 0 {
		return network.Chunk{}, false
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, true
}

func (s *fakeSession) Next(ctx context.Context) (network.Chunk, error) {
	if c, ok := s.TryNext(); ok {
		return c, nil
	}
	if st := s.State(); st != network.StateReady {
		return network.Chunk{}, &network.NotReadyError{State: st}
	}
	<-ctx.Done()
	return network.Chunk{}, ctx.Err()
}

func (s *fakeSession) State() network.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeSession) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *fakeSession) Recoveries() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recoveries
}

func (s *fakeSession) Resync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resyncs++
	s.state = network.StateDegraded
}

func (s *fakeSession) WaitState(ctx context.Context, states ...network.State) (network.State, error) {
	st := s.State()
	for _, want := range states {
		if st == want {
			return st, nil
		}
	}
	<-ctx.Done()
	return st, ctx.Err()
}

func (s *fakeSession) Session() network.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return network.SessionInfo{State: s.state, Generation: s.generation, Recoveries: s.recoveries, LastError: s.lastError}
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.state = network.StateDisconnected
	return nil
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0, log.LogLevelTrace)
}

func newTestHandler(t *testing.T, opts NewHandlerOptions) (*Handler, *fakeSession) {
	t.Helper()
	if opts.Repository == nil {
		opts.Repository = repositories.NewFileRepository(t.TempDir())
	}
	if opts.Logger == nil {
		opts.Logger = testLogger()
	}
	h := NewHandler(opts)
	s := newFakeSession()
	h.mu.Lock()
	h.attach(s)
	h.started = true
	h.mu.Unlock()
	return h, s
}

func frame(t *testing.T, p packets.Packet) []byte {
	t.Helper()
	b, err := packets.Encode(p, packets.MaxFrameLength)
	require.NoError(t, err)
	return b
}

func jsonFrame(t *testing.T, typ packets.Type, seq uint32, v any) []byte {
	t.Helper()
	p, err := packets.NewJSONPacket(typ, seq, v)
	require.NoError(t, err)
	return frame(t, p)
}

func batchFrame(t *testing.T, typ packets.Type, seq uint32, b packets.Batch) []byte {
	t.Helper()
	return frame(t, packets.Packet{Type: typ, Sequence: seq, Body: packets.EncodeBatch(b)})
}

func unitInfo(t *testing.T, seq uint32, id string, attrs ...packets.Attr) []byte {
	t.Helper()
	return batchFrame(t, packets.TypeUnitInfo, seq, packets.Batch{Namespace: attributes.NamespaceUnits, Entity: id, Attrs: attrs})
}

func intAttr(field string, v int64) packets.Attr {
	return packets.Attr{Field: field, Value: attributes.IntValue(v)}
}

func setAttr(field string, members ...string) packets.Attr {
	return packets.Attr{Field: field, Value: attributes.SetValue(members...)}
}

func dumpFrame(t *testing.T, seq uint32, batches ...packets.Batch) []byte {
	t.Helper()
	return frame(t, packets.Packet{Type: packets.TypeStateDump, Sequence: seq, Body: packets.EncodeStateDump(batches)})
}

// pollUntil calls Update until cond holds or the deadline passes.
func pollUntil(t *testing.T, h *Handler, cond func(UpdateResult) bool) UpdateResult {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		res := h.Update()
		if cond(res) {
			return res
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met, last result %+v", res)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func uintString(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}

func (h *Handler) sessionForTest() Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session
}
