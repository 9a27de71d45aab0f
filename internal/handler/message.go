package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lunchroulette/server/internal/service"
	logger "github.com/lunchroulette/server/middleware/log"
)

type MessageHandler struct {
	messageService service.IMessageService
	log            *logger.Logger
}

func NewMessageHandler(messageService service.IMessageService, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		messageService: messageService,
		log:            log,
	}
}

// PostMessage handles posting to a group's message board
func (h *MessageHandler) PostMessage(c *gin.Context) {
	id, ok := groupID(c)
	if !ok {
		return
	}
	var req service.PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	msg, err := h.messageService.PostMessage(c.Request.Context(), id, userID, req.Body)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// ListMessages returns the board newest first
func (h *MessageHandler) ListMessages(c *gin.Context) {
	id, ok := groupID(c)
	if !ok {
		return
	}

	messages, err := h.messageService.ListMessages(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}
