package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/profikid/river-sense-proof-of-concept/internal/hub"
	"github.com/profikid/river-sense-proof-of-concept/pkg/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxClientMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// The dashboard is served from arbitrary origins in deployments.
		return true
	},
}

// HandleFramesWS upgrades the connection and relays live messages until
// the client leaves or is evicted for falling behind. Without a stream_id
// query the client receives every stream.
func (h *FlowdHandlers) HandleFramesWS(c *gin.Context) {
	streamID := c.Query("stream_id")
	if streamID != "" {
		ok, err := h.streamExists(c.Request.Context(), streamID)
		if err != nil {
			h.respondError(c, err)
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"detail": "not found"})
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	sub := h.hub.Subscribe(streamID)
	h.logger.WithFields(logging.Fields{
		"stream_id": streamID,
		"remote":    conn.RemoteAddr().String(),
	}).Debug("WebSocket client connected")

	go h.framesWriter(conn, sub)
	go h.framesReader(conn, sub)
}

// framesWriter pushes hub messages and pings to the client. Owns all
// writes on the connection.
func (h *FlowdHandlers) framesWriter(conn *websocket.Conn, sub *hub.Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case payload, ok := <-sub.Out():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "stream closed"))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-sub.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if sub.Reason() == hub.CloseSlowConsumer {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "client not keeping up"))
			} else {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			}
			return

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// framesReader drains client control frames and detects disconnects.
func (h *FlowdHandlers) framesReader(conn *websocket.Conn, sub *hub.Subscriber) {
	defer func() {
		h.hub.Unsubscribe(sub)
		conn.Close()
	}()

	conn.SetReadLimit(maxClientMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.WithFields(logging.Fields{
					"stream_id": sub.StreamID(),
					"error":     err,
				}).Debug("WebSocket client read error")
			}
			return
		}
	}
}
