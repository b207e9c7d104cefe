package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/kapu/llm-chess-arena/internal/obslog"
)

// handleWS streams snapshots over a websocket: the current snapshot on
// connect, every change afterwards, pings on idle, and a close once the
// terminal snapshot has been delivered.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	e, err := s.reg.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown match id")
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		obslog.L().Warn("ws_accept_error", zap.String("match_id", id), zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	ctx := r.Context()
	snap, version := e.Snapshot()
	if err := wsjson.Write(ctx, conn, snap); err != nil {
		return
	}
	if snap.Over() {
		conn.Close(websocket.StatusNormalClosure, "match over")
		return
	}

	for {
		next, nextVersion, changed, err := e.Wait(ctx, version, s.cfg.WatchKeepAlive)
		if err != nil {
			return // client gone
		}
		if !changed {
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			pingErr := conn.Ping(pingCtx)
			cancel()
			if pingErr != nil {
				return
			}
			continue
		}
		version = nextVersion
		if err := wsjson.Write(ctx, conn, next); err != nil {
			return
		}
		if next.Over() {
			conn.Close(websocket.StatusNormalClosure, "match over")
			return
		}
	}
}
