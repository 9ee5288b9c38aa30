package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"playmate-chat/apperrors"
	"playmate-chat/models"
	"playmate-chat/services"
	"playmate-chat/utils"
)

// InternalController is called by the matching subsystem, not by users.
type InternalController struct {
	chat *services.ChatService
	log  *zap.Logger
}

func NewInternalController(chat *services.ChatService, log *zap.Logger) *InternalController {
	return &InternalController{chat: chat, log: log}
}

type matchResponse struct {
	Conversation *models.Conversation `json:"conversation"`
	Notice       *models.Message      `json:"notice,omitempty"`
}

func (ctl *InternalController) OpenConversation(c *gin.Context) {
	var req struct {
		UserA  string `json:"user_a"`
		UserB  string `json:"user_b"`
		Notice string `json:"notice"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, ctl.log, apperrors.Validation("invalid request body"))
		return
	}
	conv, notice, err := ctl.chat.OpenMatchConversation(c.Request.Context(), req.UserA, req.UserB, req.Notice)
	if err != nil {
		utils.RespondError(c, ctl.log, err)
		return
	}
	ctl.log.Info("match conversation opened", zap.String("conversation_id", conv.ID))
	utils.RespondSuccess(c, http.StatusOK, matchResponse{Conversation: conv, Notice: notice})
}

func (ctl *InternalController) EndConversation(c *gin.Context) {
	var req struct {
		Notice string `json:"notice"`
	}
	// the body is optional
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondError(c, ctl.log, apperrors.Validation("invalid request body"))
			return
		}
	}
	conv, notice, err := ctl.chat.EndConversation(c.Request.Context(), c.Param("id"), req.Notice)
	if err != nil {
		utils.RespondError(c, ctl.log, err)
		return
	}
	ctl.log.Info("conversation ended", zap.String("conversation_id", conv.ID))
	utils.RespondSuccess(c, http.StatusOK, matchResponse{Conversation: conv, Notice: notice})
}
