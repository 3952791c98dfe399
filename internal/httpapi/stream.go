package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// stream pushes each ingested snapshot as a JSON text frame. An optional
// ?symbol=A,B query restricts the feed.
func (s *Server) stream(c *gin.Context) {
	if s.deps.Feed == nil {
		fail(c, http.StatusServiceUnavailable, "feed unavailable")
		return
	}
	filter := symbolFilter(c.Query("symbol"))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	updates, cancel := s.deps.Feed.Subscribe()
	defer cancel()

	pongWait := 2 * s.cfg.StreamPing
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Reads only serve control frames and detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.cfg.StreamPing)
	defer ticker.Stop()

	s.logger.Debug("stream client connected", "client", c.ClientIP())
	for {
		select {
		case <-s.done:
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
			return
		case <-gone:
			s.logger.Debug("stream client disconnected", "client", c.ClientIP())
			return
		case snap, open := <-updates:
			if !open {
				return
			}
			if filter != nil && !filter[snap.Symbol] {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.StreamWriteWait))
			if err := conn.WriteJSON(toSnapshotDTO(snap)); err != nil {
				s.logger.Debug("stream write failed", "err", err)
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.StreamWriteWait)
			if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				return
			}
		}
	}
}

func symbolFilter(raw string) map[string]bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	out := make(map[string]bool)
	for _, sym := range strings.Split(raw, ",") {
		if sym = strings.ToUpper(strings.TrimSpace(sym)); sym != "" {
			out[sym] = true
		}
	}
	return out
}
