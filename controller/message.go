package controller

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/LCtech96/Facevoice.AI-sub001/logic"
	"github.com/LCtech96/Facevoice.AI-sub001/models"
)

// ackTimeout caps how long a JSON submit waits for the user row's
// canonical id before giving up on the pipeline.
const ackTimeout = 15 * time.Second

// MessageController handles HTTP requests
type MessageController struct {
	store ConversationStore
	orch  logic.Submitter
}

func NewMessageController(store ConversationStore, orch logic.Submitter) *MessageController {
	return &MessageController{store: store, orch: orch}
}

// GetMessages handles GET /conversations/:id/messages
func (c *MessageController) GetMessages(ctx *gin.Context) {
	convoID, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid conversation ID"})
		return
	}

	messages, err := c.store.ListMessages(ctx.Request.Context(), convoID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, models.ErrNotFound) {
			status = http.StatusNotFound
		}
		ctx.JSON(status, gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, messages)
}

// AddMessage handles POST /conversations/:id/messages. Clients that accept
// text/event-stream get the completion tokens streamed back as they arrive;
// everyone else gets an immediate JSON ack carrying the persisted user row
// while the pipeline continues in the background and the reply fans out
// over the bus.
func (c *MessageController) AddMessage(ctx *gin.Context) {
	type Request struct {
		Content string `json:"content" binding:"required"`
		Author  string `json:"author"`
	}
	var req Request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	convoID, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid conversation ID"})
		return
	}

	conv, err := c.store.GetConversation(ctx.Request.Context(), convoID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, models.ErrNotFound) {
			status = http.StatusNotFound
		}
		ctx.JSON(status, gin.H{"error": err.Error()})
		return
	}

	entry := logic.Entry{
		Ref:     models.NewLocalRef(),
		Role:    models.RoleUser,
		Content: req.Content,
		Author:  req.Author,
	}

	if strings.Contains(ctx.GetHeader("Accept"), "text/event-stream") {
		c.addMessageSSE(ctx, conv, entry)
		return
	}
	c.addMessageJSON(ctx, conv, entry)
}

// addMessageSSE runs the pipeline inline and streams completion deltas to
// the submitter as Server-Sent Events.
func (c *MessageController) addMessageSSE(ctx *gin.Context, conv *models.Conversation, entry logic.Entry) {
	ctx.Header("Content-Type", "text/event-stream")
	ctx.Header("Cache-Control", "no-cache")
	ctx.Header("Connection", "keep-alive")

	var userMsg models.Message
	reconcile := func(localID string, msg models.Message) {
		userMsg = msg
		ctx.SSEvent("ack", msg)
		ctx.Writer.Flush()
	}

	err := c.orch.Submit(ctx.Request.Context(), conv, entry, reconcile, func(delta string) {
		ctx.SSEvent("message", delta)
		ctx.Writer.Flush()
	})
	if err != nil {
		ctx.SSEvent("error", gin.H{"error": err.Error()})
		ctx.Writer.Flush()
		return
	}

	ctx.SSEvent("done", userMsg)
	ctx.Writer.Flush()
}

// addMessageJSON acknowledges with the canonical user row as soon as it is
// persisted; the assistant reply reaches viewers through the bus.
func (c *MessageController) addMessageJSON(ctx *gin.Context, conv *models.Conversation, entry logic.Entry) {
	ackCh := make(chan models.Message, 1)
	errCh := make(chan error, 1)

	go func() {
		// the pipeline outlives the HTTP request on purpose
		err := c.orch.Submit(context.Background(), conv, entry, func(localID string, msg models.Message) {
			ackCh <- msg
		}, nil)
		if err != nil {
			errCh <- err
		}
	}()

	select {
	case msg := <-ackCh:
		ctx.JSON(http.StatusAccepted, gin.H{"user_message": msg})
	case err := <-errCh:
		// a persisted message outranks a failure later in the pipeline;
		// without the ack the submitter would never reconcile
		select {
		case msg := <-ackCh:
			ctx.JSON(http.StatusAccepted, gin.H{"user_message": msg})
			return
		default:
		}
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, models.ErrValidation):
			status = http.StatusBadRequest
		case errors.Is(err, models.ErrNotFound):
			status = http.StatusNotFound
		}
		ctx.JSON(status, gin.H{"error": err.Error()})
	case <-time.After(ackTimeout):
		ctx.JSON(http.StatusGatewayTimeout, gin.H{"error": "timed out waiting for message persist"})
	}
}
