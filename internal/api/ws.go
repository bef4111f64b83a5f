package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/openctf/ctfcore/internal/pubsub"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleScoreboardWs streams live solve events for one board over a
// websocket, replaying a short history on attach.
func (h *Handler) handleScoreboardWs(c *gin.Context) {
	key, err := h.boardKey(c, c.Param("sid"))
	if err != nil {
		c.String(http.StatusNotFound, "scoreboard not found")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zap.S().Warnf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := pubsub.GetBroker().Subscribe(key)
	defer unsubscribe()

	// Reads only serve to detect the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
