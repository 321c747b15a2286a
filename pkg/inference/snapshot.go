package inference

import (
	"encoding/json"
	"time"

	"github.com/cbodonnell/civlink/pkg/attributes"
)

// ScopeAll selects every store in GetSnapshot.
const ScopeAll attributes.Namespace = 0

// WorldSnapshot is a read-only copy of the stores plus turn and player metadata.
type WorldSnapshot struct {
	Turn     int64
	PlayerID int64
	Ended    bool
	TakenAt  time.Time
	Stores   map[attributes.Namespace]attributes.Snapshot
}

// Store returns the snapshot of one namespace.
func (w WorldSnapshot) Store(ns attributes.Namespace) (attributes.Snapshot, bool) {
	s, ok := w.Stores[ns]
	return s, ok
}

// Get looks a key up in whichever store owns it.
func (w WorldSnapshot) Get(key string) (attributes.Value, bool) {
	for ns, s := range w.Stores {
		if ns.Owns(key) {
			return s.Get(key)
		}
	}
	return attributes.Value{}, false
}

// Equal compares turn, player and every store, ignoring TakenAt.
func (w WorldSnapshot) Equal(o WorldSnapshot) bool {
	if w.Turn != o.Turn || w.PlayerID != o.PlayerID || w.Ended != o.Ended || len(w.Stores) != len(o.Stores) {
		return false
	}
	for ns, s := range w.Stores {
		other, ok := o.Stores[ns]
		if !ok || !s.Equal(other) {
			return false
		}
	}
	return true
}

func (w WorldSnapshot) MarshalJSON() ([]byte, error) {
	stores := make(map[string]attributes.Snapshot, len(w.Stores))
	for ns, s := range w.Stores {
		stores[ns.String()] = s
	}
	return json.Marshal(struct {
		Turn     int64                          `json:"turn"`
		PlayerID int64                          `json:"player_id"`
		Ended    bool                           `json:"ended"`
		TakenAt  time.Time                      `json:"taken_at"`
		Stores   map[string]attributes.Snapshot `json:"stores"`
	}{w.Turn, w.PlayerID, w.Ended, w.TakenAt, stores})
}

// GetSnapshot copies one store, or all of them for ScopeAll. An unknown scope
// yields a snapshot with no stores.
func (h *Handler) GetSnapshot(scope attributes.Namespace) WorldSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked(scope)
}

func (h *Handler) snapshotLocked(scope attributes.Namespace) WorldSnapshot {
	w := WorldSnapshot{
		Turn:     h.turn,
		PlayerID: h.playerID,
		Ended:    h.ended,
		TakenAt:  time.Now(),
		Stores:   make(map[attributes.Namespace]attributes.Snapshot),
	}
	for ns, s := range h.stores {
		if scope == ScopeAll || scope == ns {
			w.Stores[ns] = s.Snapshot()
		}
	}
	return w
}
