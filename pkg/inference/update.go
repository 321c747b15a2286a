package inference

import (
	"github.com/cbodonnell/civlink/pkg/attributes"
	"github.com/cbodonnell/civlink/pkg/network"
)

// Update drains buffered packets without blocking, applies them, and returns
// the highest-priority signal seen. At most MaxPacketsPerTick packets are
// applied per call; the rest wait for the next tick. Several turn ends in one
// tick produce a single TurnAdvanced carrying the last turn.
func (h *Handler) Update() UpdateResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	res := UpdateResult{Signal: SignalContinue}
	if h.session == nil {
		if h.ended {
			res.raise(SignalGameEnded)
		}
		res.Turn = h.turn
		return res
	}

	if rec := h.session.Recoveries(); rec > h.lastRecoveries {
		h.lastRecoveries = rec
		res.raise(SignalNetworkRecovered)
		h.setLocal(attributes.NamespaceClient, "client.connected", attributes.BoolValue(true))
		h.logger.Info("Network recovered (%d recoveries)", rec)
	}
	h.maybeRequestState()

	before := h.session.State()
	n, drained := h.process(h.maxPacketsPerTick, false, &res)
	res.Packets = n

	if drained && before == network.StateDisconnected && !h.disconnected {
		h.disconnected = true
		info := h.session.Session()
		h.setLocal(attributes.NamespaceClient, "client.connected", attributes.BoolValue(false))
		if info.LastError != "" {
			h.setLocal(attributes.NamespaceClient, "client.last_error", attributes.StringValue(info.LastError))
		}
		h.logger.Error("Session disconnected: %s", info.LastError)
	}
	if h.disconnected {
		res.raise(SignalDisconnected)
	}
	if h.ended {
		res.raise(SignalGameEnded)
	}
	res.Turn = h.turn
	return res
}

// process applies decoded packets, pulling more chunks from the session as
// needed. A limit of zero applies everything buffered. drained reports that
// the session queue was empty when processing stopped.
func (h *Handler) process(limit int, stopAtStart bool, res *UpdateResult) (n int, drained bool) {
	for limit <= 0 || n < limit {
		p, ok, err := h.decoder.Next()
		if err != nil {
			h.malformed(err)
			continue
		}
		if ok {
			n++
			h.dispatch(p, res)
			if stopAtStart && h.started {
				return n, false
			}
			continue
		}
		c, ok := h.session.TryNext()
		if !ok {
			return n, true
		}
		h.feed(c)
	}
	return n, false
}

// feed hands a chunk to the decoder. Chunks from a stream abandoned after a
// malformed packet are dropped, and a new stream starts with an empty decoder.
func (h *Handler) feed(c network.Chunk) {
	if c.Generation <= h.discardGen {
		return
	}
	if c.Generation != h.decoderGen {
		if h.decoder.Buffered() > 0 {
			h.logger.Debug("Dropping %d bytes of a partial frame from stream %d", h.decoder.Buffered(), h.decoderGen)
		}
		h.decoder.Reset()
		h.decoderGen = c.Generation
	}
	h.decoder.Feed(c.Data)
}

// malformed abandons the current stream and forces a fresh handshake. A full
// state dump is requested once the session is Ready on a new stream.
func (h *Handler) malformed(err error) {
	h.logger.Warn("Discarding stream %d after malformed packet: %v", h.decoderGen, err)
	h.decoder.Reset()
	h.discardGen = h.decoderGen
	h.resyncPending = true
	h.session.Resync()
}

func (h *Handler) maybeRequestState() {
	if !h.resyncPending || h.session == nil {
		return
	}
	if h.session.State() != network.StateReady || h.session.Generation() <= h.discardGen {
		return
	}
	if err := h.requestState("resync"); err != nil {
		h.logger.Warn("Failed to request state dump: %v", err)
		return
	}
	h.resyncPending = false
}
