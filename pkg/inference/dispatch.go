package inference

import (
	"fmt"
	"strconv"

	"github.com/cbodonnell/civlink/pkg/attributes"
	"github.com/cbodonnell/civlink/pkg/packets"
)

type mergeFunc func(h *Handler, store *attributes.Store, b packets.Batch, version uint64) int

// route binds an attribute packet type to its store and merge function.
type route struct {
	namespace attributes.Namespace
	merge     mergeFunc
}

var routes = map[packets.Type]route{
	packets.TypeClientInfo:  {namespace: attributes.NamespaceClient, merge: mergeScalar},
	packets.TypeGameInfo:    {namespace: attributes.NamespaceGame, merge: mergeScalar},
	packets.TypeRulesetInfo: {namespace: attributes.NamespaceRules, merge: mergeScalar},
	packets.TypeOptionsInfo: {namespace: attributes.NamespaceOptions, merge: mergeScalar},
	packets.TypeUnitInfo:    {namespace: attributes.NamespaceUnits, merge: mergeScalar},
	packets.TypeTileInfo:    {namespace: attributes.NamespaceMap, merge: mergeScalar},
	packets.TypeUnitReveal:  {namespace: attributes.NamespaceUnits, merge: mergeReveal},
	packets.TypeUnitDestroy: {namespace: attributes.NamespaceUnits, merge: mergeDestroy},
}

// mergeScalar writes every attribute last-writer-wins by sequence.
func mergeScalar(h *Handler, store *attributes.Store, b packets.Batch, version uint64) int {
	applied := 0
	for _, a := range b.Attrs {
		if store.Set(b.Key(a.Field), a.Value, version) {
			applied++
		}
	}
	return applied
}

// mergeReveal unions set attributes and writes the others like info packets.
func mergeReveal(h *Handler, store *attributes.Store, b packets.Batch, version uint64) int {
	applied := 0
	for _, a := range b.Attrs {
		var ok bool
		if a.Value.Kind == attributes.KindSet {
			ok = store.Union(b.Key(a.Field), a.Value.Set, version)
		} else {
			ok = store.Set(b.Key(a.Field), a.Value, version)
		}
		if ok {
			applied++
		}
	}
	return applied
}

// mergeDestroy removes the whole entity when the batch carries no attributes,
// otherwise removes the listed members from set attributes.
func mergeDestroy(h *Handler, store *attributes.Store, b packets.Batch, version uint64) int {
	if len(b.Attrs) == 0 {
		if store.DeleteEntity(b.Entity, version) {
			return 1
		}
		return 0
	}
	applied := 0
	for _, a := range b.Attrs {
		if a.Value.Kind != attributes.KindSet {
			h.logger.Debug("Ignoring non-set field %s in destroy for %s", a.Field, b.Entity)
			continue
		}
		if store.Remove(b.Key(a.Field), a.Value.Set, version) {
			applied++
		}
	}
	return applied
}

// dispatch applies one packet. Unknown and unexpected packet types are dropped.
func (h *Handler) dispatch(p packets.Packet, res *UpdateResult) {
	version := uint64(p.Sequence)
	if p.Sequence > h.lastSeq.Load() {
		h.lastSeq.Store(p.Sequence)
	}

	if r, ok := routes[p.Type]; ok {
		b, err := packets.DecodeBatch(p.Body)
		if err != nil {
			h.logger.Warn("Dropping %s packet %d: %v", p.Type, p.Sequence, err)
			return
		}
		if b.Namespace != r.namespace {
			h.logger.Warn("Dropping %s packet %d: batch for namespace %s", p.Type, p.Sequence, b.Namespace)
			return
		}
		applied := r.merge(h, h.stores[r.namespace], b, version)
		h.logger.Trace("Applied %d/%d attributes from %s packet %d", applied, len(b.Attrs), p.Type, p.Sequence)
		if r.namespace == attributes.NamespaceGame && applied > 0 {
			h.syncTurn(res)
		}
		return
	}

	var err error
	switch p.Type {
	case packets.TypeStateDump:
		err = h.handleStateDump(p)
	case packets.TypeGameStart:
		err = h.handleGameStart(p)
	case packets.TypeTurnEnd:
		err = h.handleTurnEnd(p, res)
	case packets.TypeGameEnd:
		err = h.handleGameEnd(p)
	case packets.TypeHeartbeat:
		err = h.handleHeartbeat(p)
	case packets.TypeActionReply:
		err = h.handleActionReply(p)
	default:
		if p.Type.Known() {
			h.logger.Debug("Dropping unexpected %s packet %d", p.Type, p.Sequence)
		} else {
			h.logger.Debug("Dropping unknown packet %s (%d bytes)", p.Type, len(p.Body))
		}
		return
	}
	if err != nil {
		h.logger.Warn("Failed to handle %s packet %d: %v", p.Type, p.Sequence, err)
	}
}

// handleStateDump replaces every server-owned store with the dump contents.
// Packets sequenced at or below the dump arrive after it only by reordering and
// are dropped. Client-side values are merged rather than replaced.
func (h *Handler) handleStateDump(p packets.Packet) error {
	batches, err := packets.DecodeStateDump(p.Body)
	if err != nil {
		return err
	}
	version := uint64(p.Sequence)
	entries := make(map[attributes.Namespace]map[string]attributes.Entry)
	for _, b := range batches {
		if b.Namespace == attributes.NamespaceClient {
			mergeScalar(h, h.stores[b.Namespace], b, version)
			continue
		}
		m, ok := entries[b.Namespace]
		if !ok {
			m = make(map[string]attributes.Entry)
			entries[b.Namespace] = m
		}
		for _, a := range b.Attrs {
			m[b.Key(a.Field)] = attributes.Entry{Value: a.Value, Version: version}
		}
	}
	for _, ns := range attributes.Namespaces {
		if ns == attributes.NamespaceClient {
			continue
		}
		store := h.stores[ns]
		store.Reset(version)
		if skipped := store.Restore(entries[ns]); len(skipped) > 0 {
			h.logger.Warn("Skipped %d invalid keys in %s state dump", len(skipped), ns)
		}
	}
	h.syncTurn(nil)
	h.logger.Info("Applied state dump %d with %d batches", p.Sequence, len(batches))
	return nil
}

// syncTurn follows game.turn after a write to the game store. A forward move
// raises TurnAdvanced on res when res is not nil.
func (h *Handler) syncTurn(res *UpdateResult) {
	v, ok := h.stores[attributes.NamespaceGame].Get("game.turn")
	if !ok || v.Int == h.turn {
		return
	}
	if v.Int > h.turn && res != nil {
		res.raise(SignalTurnAdvanced)
	}
	h.turn = v.Int
}

func (h *Handler) handleGameStart(p packets.Packet) error {
	var msg packets.GameStart
	if err := p.DecodeJSON(&msg); err != nil {
		return err
	}
	game := h.stores[attributes.NamespaceGame]
	version := uint64(p.Sequence)
	if game.Set("game.turn", attributes.IntValue(msg.Turn), version) {
		h.turn = msg.Turn
	}
	game.Set("game.started", attributes.BoolValue(true), version)
	if msg.PlayerID != 0 {
		h.playerID = msg.PlayerID
		game.Set("game.player_id", attributes.IntValue(msg.PlayerID), version)
	}
	h.started = true
	return nil
}

func (h *Handler) handleTurnEnd(p packets.Packet, res *UpdateResult) error {
	var msg packets.TurnEnd
	if err := p.DecodeJSON(&msg); err != nil {
		return err
	}
	game := h.stores[attributes.NamespaceGame]
	version := uint64(p.Sequence)
	if msg.Year != 0 {
		game.Set("game.year", attributes.IntValue(msg.Year), version)
	}
	if !game.Set("game.turn", attributes.IntValue(msg.Turn), version) {
		h.logger.Debug("Ignoring stale turn end %d (packet %d)", msg.Turn, p.Sequence)
		return nil
	}
	h.turn = msg.Turn
	res.raise(SignalTurnAdvanced)
	return nil
}

func (h *Handler) handleGameEnd(p packets.Packet) error {
	var msg packets.GameEnd
	if err := p.DecodeJSON(&msg); err != nil {
		return err
	}
	game := h.stores[attributes.NamespaceGame]
	version := uint64(p.Sequence)
	game.Set("game.ended", attributes.BoolValue(true), version)
	if msg.Reason != "" {
		game.Set("game.end_reason", attributes.StringValue(msg.Reason), version)
	}
	if msg.Winner != 0 {
		game.Set("game.winner", attributes.IntValue(msg.Winner), version)
	}
	if !h.ended {
		h.logger.Info("Game ended at turn %d: %s", h.turn, msg.Reason)
	}
	h.ended = true
	return nil
}

func (h *Handler) handleHeartbeat(p packets.Packet) error {
	var msg packets.Heartbeat
	if len(p.Body) > 0 {
		if err := p.DecodeJSON(&msg); err != nil {
			return err
		}
	}
	if err := h.sendJSON(packets.TypePong, packets.Pong{ServerTime: msg.ServerTime}); err != nil {
		return fmt.Errorf("failed to send pong: %w", err)
	}
	return nil
}

func (h *Handler) handleActionReply(p packets.Packet) error {
	var msg packets.ActionReply
	if err := p.DecodeJSON(&msg); err != nil {
		return err
	}
	h.pendingMu.Lock()
	_, known := h.pending[msg.ID]
	delete(h.pending, msg.ID)
	h.pendingMu.Unlock()
	if !known {
		h.logger.Debug("Reply for unknown action %d", msg.ID)
	}

	status := "rejected"
	if msg.Accepted {
		status = "accepted"
	}
	client := h.stores[attributes.NamespaceClient]
	prefix := "client.action." + strconv.FormatUint(uint64(msg.ID), 10)
	version := uint64(p.Sequence)
	client.Set(prefix+".status", attributes.StringValue(status), version)
	if msg.Reason != "" {
		client.Set(prefix+".reason", attributes.StringValue(msg.Reason), version)
	}
	return nil
}
