package controller

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/LCtech96/Facevoice.AI-sub001/bus"
	"github.com/LCtech96/Facevoice.AI-sub001/metrics"
	"github.com/LCtech96/Facevoice.AI-sub001/models"
)

const (
	pingInterval = 10 * time.Second
	writeTimeout = 5 * time.Second
	pongTimeout  = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// the share link is the capability; origins are filtered by CORS upstream
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSController relays a conversation's bus feed to connected viewers.
type WSController struct {
	store  ConversationStore
	broker *bus.Broker
}

func NewWSController(store ConversationStore, broker *bus.Broker) *WSController {
	return &WSController{store: store, broker: broker}
}

// Stream handles GET /conversations/:id/ws. Each connection gets its own
// bus subscription; events arrive in store insertion order. The
// subscription is released whenever the socket goes away.
func (c *WSController) Stream(ctx *gin.Context) {
	convoID, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid conversation ID"})
		return
	}

	if _, err := c.store.GetConversation(ctx.Request.Context(), convoID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, models.ErrNotFound) {
			status = http.StatusNotFound
		}
		ctx.JSON(status, gin.H{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sub, err := c.broker.Subscribe(convoID)
	if err != nil {
		conn.Close()
		return
	}
	metrics.ActiveSubscriptions.Inc()

	done := make(chan struct{})

	// reader: consume control frames, detect disconnect
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongTimeout))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		sub.Close()
		conn.Close()
		metrics.ActiveSubscriptions.Dec()
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(evt); err != nil {
				log.Debug().Err(err).
					Str("conversation_id", convoID.String()).
					Msg("viewer write failed, dropping connection")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
