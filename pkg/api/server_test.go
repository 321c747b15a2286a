package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cbodonnell/civlink/pkg/attributes"
	"github.com/cbodonnell/civlink/pkg/inference"
	"github.com/cbodonnell/civlink/pkg/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type fakeGame struct {
	mu     sync.Mutex
	stores map[attributes.Namespace]*attributes.Store
	saves  []string
}

func newFakeGame(t *testing.T) *fakeGame {
	t.Helper()
	g := &fakeGame{stores: make(map[attributes.Namespace]*attributes.Store)}
	for _, ns := range attributes.Namespaces {
		g.stores[ns] = attributes.NewStore(ns)
	}
	require.True(t, g.stores[attributes.NamespaceGame].Set("game.turn", attributes.IntValue(12), 3))
	require.True(t, g.stores[attributes.NamespaceUnits].Set("unit.7.type", attributes.StringValue("warriors"), 4))
	return g
}

func (g *fakeGame) Status() inference.Status {
	return inference.Status{Turn: 12, PlayerID: 2, Started: true, LastSequence: 4}
}

func (g *fakeGame) Snapshot(scope attributes.Namespace) inference.WorldSnapshot {
	snap := inference.WorldSnapshot{Turn: 12, PlayerID: 2, Stores: map[attributes.Namespace]attributes.Snapshot{}}
	for ns, s := range g.stores {
		if scope == inference.ScopeAll || scope == ns {
			snap.Stores[ns] = s.Snapshot()
		}
	}
	return snap
}

func (g *fakeGame) Running() bool {
	return true
}

func (g *fakeGame) Save(ctx context.Context, path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.saves = append(g.saves, path)
	return nil
}

func newTestServer(t *testing.T, opts NewAPIServerOptions) (*httptest.Server, *Broadcaster) {
	t.Helper()
	b := NewBroadcaster()
	srv := httptest.NewServer(NewRouter(opts, b))
	t.Cleanup(func() {
		b.Close()
		srv.Close()
	})
	return srv, b
}

func getJSON(t *testing.T, srv *httptest.Server, path string, v any) int {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK && v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestStatus(t *testing.T) {
	srv, _ := newTestServer(t, NewAPIServerOptions{Game: newFakeGame(t)})

	var body map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, srv, "/status", &body))
	assert.Equal(t, float64(12), body["turn"])
	assert.Equal(t, float64(2), body["player_id"])
	assert.Equal(t, true, body["running"])
	session, ok := body["session"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "disconnected", session["state"])
}

func TestSnapshot(t *testing.T) {
	srv, _ := newTestServer(t, NewAPIServerOptions{Game: newFakeGame(t)})

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantStores []string
	}{
		{name: "all stores", path: "/snapshot", wantStatus: http.StatusOK, wantStores: []string{"client", "game", "map", "options", "rules", "units"}},
		{name: "one store", path: "/snapshot/units", wantStatus: http.StatusOK, wantStores: []string{"units"}},
		{name: "unknown store", path: "/snapshot/weather", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body struct {
				Turn   int64                      `json:"turn"`
				Stores map[string]json.RawMessage `json:"stores"`
			}
			require.Equal(t, tt.wantStatus, getJSON(t, srv, tt.path, &body))
			if tt.wantStatus != http.StatusOK {
				return
			}
			assert.Equal(t, int64(12), body.Turn)
			var names []string
			for name := range body.Stores {
				names = append(names, name)
			}
			assert.ElementsMatch(t, tt.wantStores, names)
		})
	}
}

func TestTokenMiddleware(t *testing.T) {
	srv, _ := newTestServer(t, NewAPIServerOptions{Game: newFakeGame(t), Token: "s3cret"})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing", header: "", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic s3cret", want: http.StatusUnauthorized},
		{name: "wrong token", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "valid", header: "Bearer s3cret", want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, srv.URL+"/status", nil)
			require.NoError(t, err)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestSaves(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewFileRepository(t.TempDir())
	require.NoError(t, repo.SaveGame(ctx, "turn-10.sav", []byte("blob")))

	game := newFakeGame(t)
	srv, _ := newTestServer(t, NewAPIServerOptions{Game: game, Repository: repo})

	var saves []repositories.SaveInfo
	require.Equal(t, http.StatusOK, getJSON(t, srv, "/saves", &saves))
	require.Len(t, saves, 1)
	assert.Equal(t, "turn-10.sav", saves[0].Slot)

	resp, err := http.PostForm(srv.URL+"/saves", url.Values{"slot": {"manual.sav"}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	for _, slot := range []string{"../etc/passwd", ".", "..", "..."} {
		resp, err = http.PostForm(srv.URL+"/saves", url.Values{"slot": {slot}})
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "slot %q", slot)
	}

	game.mu.Lock()
	defer game.mu.Unlock()
	assert.Equal(t, []string{"manual.sav"}, game.saves)
}

func TestUpdateStream(t *testing.T) {
	srv, b := newTestServer(t, NewAPIServerOptions{Game: newFakeGame(t)})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/updates", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return b.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	// Idle ticks are not streamed.
	b.Publish(inference.UpdateResult{Signal: inference.SignalContinue, Turn: 3})
	b.Publish(inference.UpdateResult{Signal: inference.SignalTurnAdvanced, Turn: 4, Packets: 2})

	var got map[string]any
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	assert.Equal(t, "turn_advanced", got["signal"])
	assert.Equal(t, float64(4), got["turn"])
	assert.Equal(t, float64(2), got["packets"])

	b.Close()
	_, _, err = conn.Read(ctx)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := NewBroadcaster()
	ch, unsubscribe := b.Subscribe()
	assert.Equal(t, 1, b.Subscribers())

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, b.Subscribers())
	_, ok := <-ch
	assert.False(t, ok)

	b.Close()
	late, _ := b.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
}
