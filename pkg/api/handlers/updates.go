package handlers

import (
	"net/http"

	"github.com/cbodonnell/civlink/pkg/inference"
	"github.com/cbodonnell/civlink/pkg/log"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Subscriber hands out update streams. The returned func unsubscribes.
type Subscriber interface {
	Subscribe() (<-chan inference.UpdateResult, func())
}

// HandleUpdates streams tick results to a websocket client as JSON messages
// until either side closes.
func HandleUpdates(sub Subscriber, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			log.Error("failed to accept websocket connection: %v", err)
			return
		}
		defer conn.Close(websocket.StatusInternalError, "")

		updates, unsubscribe := sub.Subscribe()
		defer unsubscribe()

		// Nothing is read from the client; CloseRead handles control frames.
		ctx := conn.CloseRead(r.Context())
		for {
			select {
			case <-ctx.Done():
				return
			case res, ok := <-updates:
				if !ok {
					conn.Close(websocket.StatusGoingAway, "server stopping")
					return
				}
				if err := wsjson.Write(ctx, conn, res); err != nil {
					log.Debug("Update stream to %s closed: %v", r.RemoteAddr, err)
					return
				}
			}
		}
	}
}
