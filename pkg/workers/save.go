package workers

import (
	"context"
	"time"

	"github.com/cbodonnell/civlink/pkg/log"
)

// Saver writes the current game to a save slot.
type Saver interface {
	SaveGame(ctx context.Context, path string) error
}

type SaveGameWorker struct {
	saver        Saver
	saveGameChan <-chan SaveGameRequest
	interval     time.Duration
	path         string
}

type NewSaveGameWorkerOptions struct {
	Saver        Saver
	SaveGameChan <-chan SaveGameRequest
	// Interval enables periodic saves to Path. Zero disables them.
	Interval time.Duration
	Path     string
}

type SaveGameRequest struct {
	Timestamp int64
	Turn      int64
	Path      string
	// Done receives the result when set. It must be buffered.
	Done chan<- error
}

// NewSaveGameWorker creates a new SaveGameWorker.
// The worker processes save requests from the update loop so that saving
// never blocks a tick, and optionally saves on a fixed interval.
func NewSaveGameWorker(opts NewSaveGameWorkerOptions) *SaveGameWorker {
	return &SaveGameWorker{
		saver:        opts.Saver,
		saveGameChan: opts.SaveGameChan,
		interval:     opts.Interval,
		path:         opts.Path,
	}
}

func (w *SaveGameWorker) Start(ctx context.Context) {
	var tick <-chan time.Time
	if w.interval > 0 && w.path != "" {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.saveGameChan:
			err := w.save(ctx, req.Path)
			if req.Done != nil {
				req.Done <- err
			}
			if err == nil {
				log.Debug("Autosaved turn %d to %s", req.Turn, req.Path)
			}
		case <-tick:
			_ = w.save(ctx, w.path)
		}
	}
}

func (w *SaveGameWorker) save(ctx context.Context, path string) error {
	err := w.saver.SaveGame(ctx, path)
	if err != nil {
		log.Error("Failed to save game to %s: %v", path, err)
	}
	return err
}
