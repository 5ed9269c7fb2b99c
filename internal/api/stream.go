package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"market-state-engine/internal/observability"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleStream pushes the pair's market state every StreamInterval until the
// client disconnects. An unknown pair is rejected before the upgrade.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	pair := r.PathValue("pair")
	if _, err := s.svc.GetMarketState(r.Context(), pair); err != nil {
		s.writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	s.active.Add(1)
	defer s.active.Done()
	observability.StreamSubscriberConnected()
	defer observability.StreamSubscriberDisconnected()

	ctx, cancel := context.WithCancel(s.streams)
	defer cancel()
	go s.readPump(conn, cancel)

	ticker := time.NewTicker(s.opts.StreamInterval)
	defer ticker.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	if !s.push(ctx, conn, pair) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			if s.streams.Err() != nil {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			}
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ticker.C:
			if !s.push(ctx, conn, pair) {
				return
			}
		}
	}
}

// push writes one state. It returns false when the stream should end.
func (s *Server) push(ctx context.Context, conn *websocket.Conn, pair string) bool {
	state, err := s.svc.GetMarketState(ctx, pair)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn("stream state failed",
				slog.String("pair", pair),
				slog.String("error", err.Error()),
			)
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "state unavailable"))
		}
		return false
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(state); err != nil {
		s.log.Debug("stream write failed", slog.String("pair", pair), slog.String("error", err.Error()))
		return false
	}
	return true
}

// readPump discards client messages and cancels the stream when the
// connection closes.
func (s *Server) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
