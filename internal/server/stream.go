package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"foreman/internal/async"
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin policy is enforced by the CORS layer for the REST surface; the
	// stream carries read-only progress snapshots.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleTaskStream pushes task snapshots over a websocket until the task
// reaches a terminal state or the client goes away. Concurrent streams are
// bounded by a weighted semaphore.
func (s *Server) handleTaskStream(c *gin.Context) {
	id := c.Param("id")
	if _, ok := s.tasks.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}

	if !s.streams.TryAcquire(1) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "too many progress streams"})
		return
	}
	defer s.streams.Release(1)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("Stream %s: websocket upgrade failed: %v", id, err)
		return
	}
	defer conn.Close()

	// Reader goroutine: the client never sends data, but reading is how we
	// notice a closed connection.
	closed := make(chan struct{})
	async.Go(s.logger, "stream-reader-"+id, func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				close(closed)
				return
			}
		}
	})

	ticker := time.NewTicker(s.cfg.StreamInterval)
	defer ticker.Stop()

	if !s.pushSnapshot(conn, id) {
		return
	}
	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
			if !s.pushSnapshot(conn, id) {
				return
			}
		}
	}
}

// pushSnapshot writes the current snapshot and reports whether streaming
// should continue.
func (s *Server) pushSnapshot(conn *websocket.Conn, id string) bool {
	snap, ok := s.tasks.Get(id)
	if !ok {
		// Terminal cache entry expired mid-stream.
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "task gone"),
			time.Now().Add(writeTimeout))
		return false
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(snap); err != nil {
		s.logger.Debug("Stream %s: write failed: %v", id, err)
		return false
	}

	if snap.Status.IsTerminal() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(snap.Status)),
			time.Now().Add(writeTimeout))
		return false
	}
	return true
}
