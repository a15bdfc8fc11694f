package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/toncenter/examples/internal/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// EventSource hands out live event subscriptions
type EventSource interface {
	Subscribe() (<-chan events.Event, func())
}

// WebSocketHandler streams engine events to operator consoles
type WebSocketHandler struct {
	source   EventSource
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(source EventSource) *WebSocketHandler {
	return &WebSocketHandler{
		source: source,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// HandleEvents GET /api/admin/events (websocket)
func (h *WebSocketHandler) HandleEvents(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("❌ [WebSocket] Upgrade failed")
		return
	}
	defer conn.Close()

	clientID := uuid.NewString()
	log := logrus.WithFields(logrus.Fields{
		"client_id": clientID,
		"operator":  c.GetString("admin_username"),
	})
	log.Info("🔌 [WebSocket] Operator connected")

	feed, unsubscribe := h.source.Subscribe()
	defer unsubscribe()

	// Reads only service control frames; the feed is one-way.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.WithError(err).Warn("⚠️ [WebSocket] Read error")
				}
				return
			}
		}
	}()

	pingTicker := time.NewTicker(wsPingPeriod)
	defer pingTicker.Stop()

	for {
		select {
		case event, ok := <-feed:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed closed"),
					time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				log.WithError(err).Warn("❌ [WebSocket] Write error")
				return
			}
		case <-pingTicker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.WithError(err).Warn("❌ [WebSocket] Ping error")
				return
			}
		case <-readDone:
			log.Info("🔌 [WebSocket] Operator disconnected")
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
