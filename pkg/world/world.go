package world

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cbodonnell/civlink/pkg/attributes"
	"github.com/cbodonnell/civlink/pkg/config"
	"github.com/cbodonnell/civlink/pkg/inference"
	"github.com/cbodonnell/civlink/pkg/log"
	"github.com/cbodonnell/civlink/pkg/packets"
	"github.com/cbodonnell/civlink/pkg/status"
	"github.com/cbodonnell/civlink/pkg/workers"
)

// DefaultSavePath is used for autosaves when save_path is not set. A %d verb
// is replaced by the turn.
const DefaultSavePath = "civlink-turn-%d.sav"

// Game is the part of the inference handler the world drives.
// *inference.Handler implements it.
type Game interface {
	StartGame(ctx context.Context, params config.Params) (inference.WorldSnapshot, error)
	Update() inference.UpdateResult
	GetSnapshot(scope attributes.Namespace) inference.WorldSnapshot
	SubmitAction(ctx context.Context, action packets.Action) (uint32, error)
	SaveGame(ctx context.Context, path string) error
	LoadSavedGame(ctx context.Context, path string) (inference.WorldSnapshot, error)
	EndGame(ctx context.Context, savePath string) error
	Reset(ctx context.Context) error
	Status() inference.Status
}

var _ Game = (*inference.Handler)(nil)

// World is the agent-facing view of one game.
type World struct {
	game     Game
	defaults config.Params
	onUpdate func(inference.UpdateResult)
	logger   *log.Logger

	params       config.Params
	saveEvery    int64
	savePath     string
	lastSaveTurn int64

	saveGameChan chan workers.SaveGameRequest
	stopWorker   context.CancelFunc
	workerDone   chan struct{}

	running atomic.Bool
	mu      sync.Mutex
}

type NewWorldOptions struct {
	Game Game
	// Defaults are merged below the params given to NewGame.
	Defaults config.Params
	// OnUpdate is called with every tick result.
	OnUpdate func(inference.UpdateResult)
	Logger   *log.Logger
}

func NewWorld(opts NewWorldOptions) *World {
	if opts.Logger == nil {
		opts.Logger = log.Component("world")
	}
	return &World{
		game:         opts.Game,
		defaults:     opts.Defaults,
		onUpdate:     opts.OnUpdate,
		logger:       opts.Logger,
		saveGameChan: make(chan workers.SaveGameRequest, 1),
	}
}

// NewGame records the setup params for the next StartGame.
func (w *World) NewGame(params config.Params) error {
	merged := config.Merge(w.defaults, params)
	every, err := merged.Int("save_every_turns", 0)
	if err != nil {
		return &inference.SetupError{InvalidKey: "save_every_turns", Reason: err.Error()}
	}
	if every < 0 {
		return &inference.SetupError{InvalidKey: "save_every_turns", Reason: "must not be negative"}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.params = merged
	w.saveEvery = int64(every)
	w.savePath = merged.String("save_path", DefaultSavePath)
	return nil
}

// Params returns a copy of the current setup params.
func (w *World) Params() config.Params {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.params.Clone()
}

// StartGame starts the game set up by NewGame and the autosave worker.
func (w *World) StartGame(ctx context.Context) (inference.WorldSnapshot, error) {
	w.mu.Lock()
	params := w.params
	w.mu.Unlock()
	if params == nil {
		return inference.WorldSnapshot{}, fmt.Errorf("failed to start game: NewGame was not called")
	}

	snap, err := w.game.StartGame(ctx, params)
	if err != nil {
		return inference.WorldSnapshot{}, err
	}
	w.mu.Lock()
	w.lastSaveTurn = snap.Turn
	w.mu.Unlock()
	w.startWorker()
	w.running.Store(true)
	return snap, nil
}

func (w *World) startWorker() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopWorker != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.stopWorker = cancel
	w.workerDone = make(chan struct{})
	worker := workers.NewSaveGameWorker(workers.NewSaveGameWorkerOptions{
		Saver:        w.game,
		SaveGameChan: w.saveGameChan,
	})
	go func(done chan struct{}) {
		defer close(done)
		worker.Start(ctx)
	}(w.workerDone)
}

func (w *World) stopSaving() {
	w.mu.Lock()
	stop, done := w.stopWorker, w.workerDone
	w.stopWorker, w.workerDone = nil, nil
	w.mu.Unlock()
	if stop == nil {
		return
	}
	stop()
	<-done
}

// Update runs one tick of the handler. It queues an autosave every
// save_every_turns turns and marks the world stopped on a terminal signal.
// No autosave is queued once ctx is done.
func (w *World) Update(ctx context.Context) inference.UpdateResult {
	res := w.game.Update()

	switch {
	case res.Signal.Terminal():
		if w.running.Swap(false) {
			w.logger.Info("Game stopped: %s at turn %d", res.Signal, res.Turn)
		}
	case res.Signal == inference.SignalNetworkRecovered:
		w.logger.Warn("Network connection dropped and was re-established")
	}
	if ctx.Err() == nil {
		w.maybeAutosave(res.Turn)
	}

	if w.onUpdate != nil {
		w.onUpdate(res)
	}
	return res
}

func (w *World) maybeAutosave(turn int64) {
	w.mu.Lock()
	if w.saveEvery <= 0 || turn <= w.lastSaveTurn {
		w.mu.Unlock()
		return
	}
	// Turns may be coalesced, so save whenever a multiple was reached or passed.
	due := turn/w.saveEvery > w.lastSaveTurn/w.saveEvery
	w.lastSaveTurn = turn
	path := w.pathFor(turn)
	w.mu.Unlock()
	if !due {
		return
	}

	req := workers.SaveGameRequest{
		Timestamp: time.Now().UnixMilli(),
		Turn:      turn,
		Path:      path,
	}
	select {
	case w.saveGameChan <- req:
	default:
		w.logger.Warn("Skipping autosave for turn %d: previous save still running", turn)
	}
}

func (w *World) pathFor(turn int64) string {
	if strings.Contains(w.savePath, "%d") {
		return fmt.Sprintf(w.savePath, turn)
	}
	return w.savePath
}

// Running reports whether the game is started and not yet terminated.
func (w *World) Running() bool {
	return w.running.Load()
}

// Save writes the game now. An empty path uses the autosave path.
func (w *World) Save(ctx context.Context, path string) error {
	if path == "" {
		w.mu.Lock()
		path = w.pathFor(w.game.Status().Turn)
		w.mu.Unlock()
	}
	return w.game.SaveGame(ctx, path)
}

// LoadSavedGame replaces the world state with a saved game.
func (w *World) LoadSavedGame(ctx context.Context, path string) (inference.WorldSnapshot, error) {
	snap, err := w.game.LoadSavedGame(ctx, path)
	if err != nil {
		return inference.WorldSnapshot{}, err
	}
	w.mu.Lock()
	w.lastSaveTurn = snap.Turn
	w.mu.Unlock()
	return snap, nil
}

// EndGame stops autosaving, optionally saves and closes the session.
func (w *World) EndGame(ctx context.Context, save bool) error {
	w.stopSaving()
	w.running.Store(false)
	path := ""
	if save {
		w.mu.Lock()
		path = w.pathFor(w.game.Status().Turn)
		w.mu.Unlock()
	}
	return w.game.EndGame(ctx, path)
}

// Reset clears the world so that StartGame begins a fresh game with the
// current params. It refuses while the game is running.
func (w *World) Reset(ctx context.Context) error {
	if w.Running() {
		return fmt.Errorf("failed to reset: game is running, end it first")
	}
	w.stopSaving()
	if err := w.game.Reset(ctx); err != nil {
		return err
	}
	w.mu.Lock()
	w.lastSaveTurn = 0
	w.mu.Unlock()
	w.logger.Info("World reset")
	return nil
}

func (w *World) SubmitAction(ctx context.Context, action packets.Action) (uint32, error) {
	return w.game.SubmitAction(ctx, action)
}

func (w *World) Snapshot(scope attributes.Namespace) inference.WorldSnapshot {
	return w.game.GetSnapshot(scope)
}

func (w *World) Status() inference.Status {
	return w.game.Status()
}

// Units returns every known unit keyed by id.
func (w *World) Units() map[string]map[string]attributes.Value {
	return w.entities(attributes.NamespaceUnits)
}

// Unit returns the fields of one unit.
func (w *World) Unit(id string) (map[string]attributes.Value, bool) {
	snap, _ := w.game.GetSnapshot(attributes.NamespaceUnits).Store(attributes.NamespaceUnits)
	return snap.Entity(id)
}

// Tiles returns every known tile keyed by "x.y".
func (w *World) Tiles() map[string]map[string]attributes.Value {
	return w.entities(attributes.NamespaceMap)
}

func (w *World) entities(ns attributes.Namespace) map[string]map[string]attributes.Value {
	snap, _ := w.game.GetSnapshot(ns).Store(ns)
	out := make(map[string]map[string]attributes.Value)
	for _, id := range snap.Entities() {
		if fields, ok := snap.Entity(id); ok {
			out[id] = fields
		}
	}
	return out
}

// ShowStatus writes one namespace as a table.
func (w *World) ShowStatus(out io.Writer, ns attributes.Namespace) error {
	snap, ok := w.game.GetSnapshot(ns).Store(ns)
	if !ok {
		return fmt.Errorf("unknown namespace: %s", ns)
	}
	return status.Show(out, ns.String(), snap.Values())
}

// ShowUnitStatus writes the fields of one unit as a table.
func (w *World) ShowUnitStatus(out io.Writer, id string) error {
	fields, ok := w.Unit(id)
	if !ok {
		return fmt.Errorf("unknown unit: %s", id)
	}
	values := make(map[string]any, len(fields))
	for field, v := range fields {
		values[field] = v.Interface()
	}
	return status.Show(out, "unit "+id, values)
}

// Scorecard returns the game.score.<player>.* fields of a player. A player id
// of zero selects the local player.
func (w *World) Scorecard(playerID int64) (map[string]attributes.Value, bool) {
	snap := w.game.GetSnapshot(attributes.NamespaceGame)
	if playerID == 0 {
		playerID = snap.PlayerID
	}
	game, _ := snap.Store(attributes.NamespaceGame)
	prefix := fmt.Sprintf("game.score.%d.", playerID)
	card := make(map[string]attributes.Value)
	for _, key := range game.Keys() {
		field, ok := strings.CutPrefix(key, prefix)
		if !ok || field == "" {
			continue
		}
		if v, ok := game.Get(key); ok {
			card[field] = v
		}
	}
	return card, len(card) > 0
}
