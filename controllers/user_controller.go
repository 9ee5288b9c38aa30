package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"playmate-chat/middlewares"
	"playmate-chat/utils"
)

// GetUserInfo returns the caller's display profile.
func (ctl *ChatController) GetUserInfo(c *gin.Context) {
	profile, err := ctl.chat.Profile(c.Request.Context(), middlewares.UserID(c))
	if err != nil {
		utils.RespondError(c, ctl.log, err)
		return
	}
	utils.RespondSuccess(c, http.StatusOK, profile)
}
