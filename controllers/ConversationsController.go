package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"playmate-chat/apperrors"
	"playmate-chat/middlewares"
	"playmate-chat/models"
	"playmate-chat/services"
	"playmate-chat/utils"
)

// ChatController serves the user-facing REST surface.
type ChatController struct {
	chat *services.ChatService
	log  *zap.Logger
}

func NewChatController(chat *services.ChatService, log *zap.Logger) *ChatController {
	return &ChatController{chat: chat, log: log}
}

type conversationsResponse struct {
	Conversations []models.ConversationListEntry `json:"conversations"`
}

// GetConversations lists the caller's conversations, newest activity first.
func (ctl *ChatController) GetConversations(c *gin.Context) {
	entries, err := ctl.chat.Conversations(c.Request.Context(), middlewares.UserID(c))
	if err != nil {
		utils.RespondError(c, ctl.log, err)
		return
	}
	utils.RespondSuccess(c, http.StatusOK, conversationsResponse{Conversations: entries})
}

// CreateConversation is get-or-create: 201 for a new conversation, 200
// when the pair already had one.
func (ctl *ChatController) CreateConversation(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, ctl.log, apperrors.Validation("invalid request body"))
		return
	}

	conv, created, err := ctl.chat.StartConversation(c.Request.Context(), middlewares.UserID(c), req.UserID)
	if err != nil {
		utils.RespondError(c, ctl.log, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	utils.RespondSuccess(c, status, conv)
}
