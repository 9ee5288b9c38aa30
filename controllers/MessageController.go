package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"playmate-chat/apperrors"
	"playmate-chat/metrics"
	"playmate-chat/middlewares"
	"playmate-chat/models"
	"playmate-chat/utils"
)

// GetMessages returns one page of history. ?before is the id of the
// oldest message the client already has.
func (ctl *ChatController) GetMessages(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			utils.RespondError(c, ctl.log, apperrors.Validation("limit must be a positive integer"))
			return
		}
		limit = n
	}

	page, err := ctl.chat.History(c.Request.Context(), middlewares.UserID(c), c.Param("id"), limit, c.Query("before"))
	if err != nil {
		utils.RespondError(c, ctl.log, err)
		return
	}
	utils.RespondSuccess(c, http.StatusOK, page)
}

// SendMessage is the REST half of the send protocol. The message is also
// broadcast to the room, so socket clients see it either way.
func (ctl *ChatController) SendMessage(c *gin.Context) {
	var req struct {
		Content     string             `json:"content"`
		MessageType models.MessageType `json:"message_type"`
		ClientKey   string             `json:"client_key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, ctl.log, apperrors.Validation("invalid request body"))
		return
	}

	msg, err := ctl.chat.SendMessageWithKey(c.Request.Context(), middlewares.UserID(c), c.Param("id"), req.Content, req.MessageType, req.ClientKey)
	if err != nil {
		utils.RespondError(c, ctl.log, err)
		return
	}
	metrics.SendsByTransport.WithLabelValues("rest").Inc()
	utils.RespondSuccess(c, http.StatusCreated, msg)
}

type markReadResponse struct {
	ConversationID string `json:"conversation_id"`
	Updated        int64  `json:"updated"`
}

func (ctl *ChatController) MarkRead(c *gin.Context) {
	id := c.Param("id")
	updated, err := ctl.chat.MarkRead(c.Request.Context(), middlewares.UserID(c), id)
	if err != nil {
		utils.RespondError(c, ctl.log, err)
		return
	}
	utils.RespondSuccess(c, http.StatusOK, markReadResponse{ConversationID: id, Updated: updated})
}
