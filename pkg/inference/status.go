package inference

import (
	"github.com/cbodonnell/civlink/pkg/network"
)

// Status summarizes the handler for display.
type Status struct {
	Turn           int64               `json:"turn"`
	PlayerID       int64               `json:"player_id"`
	Started        bool                `json:"started"`
	Ended          bool                `json:"ended"`
	LastSequence   uint32              `json:"last_sequence"`
	Rejected       uint64              `json:"rejected"`
	PendingActions int                 `json:"pending_actions"`
	Session        network.SessionInfo `json:"session"`
}

func (h *Handler) Status() Status {
	h.mu.Lock()
	st := Status{
		Turn:         h.turn,
		PlayerID:     h.playerID,
		Started:      h.started,
		Ended:        h.ended,
		LastSequence: h.lastSeq.Load(),
	}
	for _, s := range h.stores {
		st.Rejected += s.Rejected()
	}
	sess := h.session
	h.mu.Unlock()

	st.PendingActions = h.PendingActions()
	if sess != nil {
		st.Session = sess.Session()
	}
	return st
}
