package inference

import (
	"context"
	"errors"

	"github.com/cbodonnell/civlink/pkg/attributes"
	"github.com/cbodonnell/civlink/pkg/network"
	"github.com/cbodonnell/civlink/pkg/packets"
	"github.com/google/uuid"
)

// SubmitAction encodes and sends a player action, returning the id the
// server will echo in its reply. It may be called concurrently with Update.
func (h *Handler) SubmitAction(ctx context.Context, action packets.Action) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	h.mu.Lock()
	sess, ended := h.session, h.ended
	known := action.UnitID == "" || h.stores[attributes.NamespaceUnits].HasEntity(action.UnitID)
	h.mu.Unlock()

	if ended {
		return 0, &ActionError{Kind: ActionRejected, Reason: "game has ended"}
	}
	if sess == nil {
		return 0, &ActionError{Kind: ActionNotConnected, Reason: "no session"}
	}
	if st := sess.State(); st != network.StateReady {
		return 0, &ActionError{Kind: ActionNotConnected, Reason: "session is " + st.String()}
	}
	if action.Kind == "" {
		return 0, &ActionError{Kind: ActionRejected, Reason: "missing action kind"}
	}
	if !known {
		return 0, &ActionError{Kind: ActionInvalidTarget, Reason: "unknown unit " + action.UnitID}
	}
	if !h.limiter.Allow() {
		return 0, &ActionError{Kind: ActionRejected, Reason: "action rate exceeded"}
	}

	action.ID = newActionID()
	b, err := packets.EncodeAction(h.outSeq.Add(1), action, h.maxPacketSize)
	if err != nil {
		var tooLarge *packets.PacketTooLargeError
		if errors.As(err, &tooLarge) {
			return 0, &ActionError{Kind: ActionRejected, Reason: "action too large", Err: err}
		}
		return 0, &ActionError{Kind: ActionRejected, Err: err}
	}

	h.pendingMu.Lock()
	h.pending[action.ID] = action
	h.pendingMu.Unlock()

	if err := sess.Send(b); err != nil {
		h.pendingMu.Lock()
		delete(h.pending, action.ID)
		h.pendingMu.Unlock()
		return 0, &ActionError{Kind: ActionNotConnected, Err: err}
	}
	h.logger.Debug("Submitted %s action %d", action.Kind, action.ID)
	return action.ID, nil
}

// PendingActions is the number of submitted actions awaiting a reply.
func (h *Handler) PendingActions() int {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	return len(h.pending)
}

func newActionID() uint32 {
	for {
		if id := uuid.New().ID(); id != 0 {
			return id
		}
	}
}
